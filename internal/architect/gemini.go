package architect

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Jarvis2021/gantry-sub000/internal/config"
	"golang.org/x/time/rate"
	"google.golang.org/genai"
)

const (
	defaultModel       = "gemini-2.0-flash"
	defaultTimeout     = 90 * time.Second
	defaultMaxRetries  = 3
	defaultBaseBackoff = time.Second
	defaultRateLimit   = 1.0
	defaultBurst       = 2
	maxOutputTokens    = 8192
)

// contentGenerator is the part of the genai models service in use.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Gemini generates text with the Gemini API.
type Gemini struct {
	models      contentGenerator
	model       string
	timeout     time.Duration
	limiter     *rate.Limiter
	maxRetries  int
	baseBackoff time.Duration
}

// NewGemini creates a Gemini generator from configuration.
func NewGemini(ctx context.Context, cfg config.ArchitectConfig) (*Gemini, error) {
	if cfg.APIKey.Value() == "" {
		return nil, ErrNotConfigured
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey.Value(),
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini client init: %w", err)
	}
	return newGemini(client.Models, cfg), nil
}

func newGemini(models contentGenerator, cfg config.ArchitectConfig) *Gemini {
	g := &Gemini{
		models:      models,
		model:       cfg.Model,
		timeout:     cfg.Timeout.Duration(),
		maxRetries:  defaultMaxRetries,
		baseBackoff: defaultBaseBackoff,
	}
	if g.model == "" {
		g.model = defaultModel
	}
	if g.timeout <= 0 {
		g.timeout = defaultTimeout
	}
	limit, burst := cfg.RateLimit, cfg.Burst
	if limit <= 0 {
		limit = defaultRateLimit
	}
	if burst <= 0 {
		burst = defaultBurst
	}
	g.limiter = rate.NewLimiter(rate.Limit(limit), burst)
	return g
}

// Model returns the model name in use.
func (g *Gemini) Model() string { return g.model }

// Generate sends req to the model. Rate limits and server errors are
// retried with exponential backoff.
func (g *Gemini) Generate(ctx context.Context, req Request) (string, error) {
	contents := make([]*genai.Content, 0, len(req.History)+1)
	for _, turn := range req.History {
		role := genai.Role(genai.RoleUser)
		if turn.Role == RoleModel {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(turn.Text, role))
	}
	contents = append(contents, genai.NewContentFromText(req.Prompt, genai.RoleUser))

	cfg := &genai.GenerateContentConfig{MaxOutputTokens: maxOutputTokens}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.JSON {
		cfg.ResponseMIMEType = "application/json"
	}

	var lastErr error
	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := g.baseBackoff * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
		if err := g.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("rate limiter error: %w", err)
		}

		text, err := g.generateOnce(ctx, contents, cfg)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if !isRetryable(err) {
			return "", err
		}
	}
	return "", fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (g *Gemini) generateOnce(ctx context.Context, contents []*genai.Content, cfg *genai.GenerateContentConfig) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := g.models.GenerateContent(ctx, g.model, contents, cfg)
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	text := resp.Text()
	if text == "" {
		return "", errors.New("gemini: empty response")
	}
	return text, nil
}

func isRetryable(err error) bool {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= http.StatusInternalServerError
	}
	return errors.Is(err, context.DeadlineExceeded)
}

var _ Generator = (*Gemini)(nil)
