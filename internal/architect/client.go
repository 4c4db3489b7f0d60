// Package architect turns build requests into manifests with a language
// model, and repairs manifests whose build failed.
package architect

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/Jarvis2021/gantry-sub000/internal/logging"
	"github.com/Jarvis2021/gantry-sub000/internal/manifest"
	"go.uber.org/zap"
)

// healLogLimit bounds the error log embedded in a healing request.
const healLogLimit = 2000

var (
	// ErrDraft is wrapped by every failure to produce a usable manifest.
	ErrDraft = errors.New("blueprint generation failed")

	// ErrNotConfigured is returned when no model credentials are set.
	ErrNotConfigured = errors.New("architect not configured")
)

// Role identifies the speaker of a conversation turn.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Turn is one message of prior conversation.
type Turn struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// Client produces and repairs manifests.
type Client interface {
	// Draft generates a manifest for prompt, with optional prior turns.
	Draft(ctx context.Context, prompt string, history []Turn) (*manifest.Manifest, error)

	// Heal returns a corrected manifest for m given the failing build's log.
	Heal(ctx context.Context, m *manifest.Manifest, errorLog string) (*manifest.Manifest, error)
}

// Request is a single model call.
type Request struct {
	System  string
	History []Turn
	Prompt  string
	// JSON asks the model for an application/json response.
	JSON bool
}

// Generator is a text-generating model backend.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// Architect implements Client on top of a Generator.
type Architect struct {
	gen    Generator
	logger *logging.Logger
}

// Option configures an Architect.
type Option func(*Architect)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(a *Architect) { a.logger = l }
}

// New creates an Architect.
func New(gen Generator, opts ...Option) *Architect {
	a := &Architect{gen: gen, logger: logging.NewNop()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Draft generates a manifest for prompt. Requests naming a well-known app
// get that app's design system appended to the system prompt.
func (a *Architect) Draft(ctx context.Context, prompt string, history []Turn) (*manifest.Manifest, error) {
	system := SystemPrompt
	if target, ok := DetectDesignTarget(prompt); ok {
		a.logger.Info(ctx, "clone protocol engaged", zap.String("design_target", target))
		system += ThemePrompt(target)
	}

	a.logger.Info(ctx, "drafting blueprint", zap.String("prompt", truncate(prompt, 50)))
	raw, err := a.gen.Generate(ctx, Request{System: system, History: history, Prompt: prompt, JSON: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDraft, err)
	}

	m, err := manifest.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDraft, err)
	}
	a.logger.Info(ctx, "blueprint ready", zap.String("project", m.ProjectName), zap.Int("files", len(m.Files)))
	return m, nil
}

// Heal asks the model to fix m. Only the first part of errorLog is sent.
func (a *Architect) Heal(ctx context.Context, m *manifest.Manifest, errorLog string) (*manifest.Manifest, error) {
	a.logger.Info(ctx, "self-healing: analyzing failure", zap.String("project", m.ProjectName))

	prompt, err := healRequest(m, errorLog)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDraft, err)
	}
	raw, err := a.gen.Generate(ctx, Request{System: HealPrompt, Prompt: prompt, JSON: true})
	if err != nil {
		return nil, fmt.Errorf("%w: heal: %w", ErrDraft, err)
	}

	healed, err := manifest.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: heal: %w", ErrDraft, err)
	}
	a.logger.Info(ctx, "fix generated", zap.String("project", healed.ProjectName), zap.Int("files", len(healed.Files)))
	return healed, nil
}

// Consult runs one free-form turn with system as the system prompt. It
// backs conversational skills.
func (a *Architect) Consult(ctx context.Context, system, prompt string, history []Turn) (string, error) {
	out, err := a.gen.Generate(ctx, Request{System: system, History: history, Prompt: prompt, JSON: true})
	if err != nil {
		return "", fmt.Errorf("consultation failed: %w", err)
	}
	return out, nil
}

func healRequest(m *manifest.Manifest, errorLog string) (string, error) {
	body, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString("## FAILED BUILD - NEEDS FIX\n\n### Original Manifest:\n```json\n")
	b.Write(body)
	b.WriteString("\n```\n\n### Error Log:\n```\n")
	b.WriteString(truncate(errorLog, healLogLimit))
	b.WriteString("\n```\n\nAnalyze the error and return a CORRECTED manifest that fixes this issue.")
	return b.String(), nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

var _ Client = (*Architect)(nil)
