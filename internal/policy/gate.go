package policy

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/Jarvis2021/gantry-sub000/internal/logging"
	"github.com/Jarvis2021/gantry-sub000/internal/manifest"
	"go.uber.org/zap"
)

// Rule names a policy rule.
type Rule string

const (
	RuleAllowedStacks     Rule = "allowed_stacks"
	RuleMaxFiles          Rule = "max_files"
	RuleForbiddenPatterns Rule = "forbidden_patterns"
)

// Violation is returned when a manifest breaks a policy rule.
type Violation struct {
	Rule    Rule
	Message string
	Details string
	// Path is the offending file for forbidden_patterns violations.
	Path string
}

func (v *Violation) Error() string {
	return fmt.Sprintf("access denied: %s", v.Message)
}

// ViolationRecorder is notified of every violation. Metrics implement it.
type ViolationRecorder interface {
	RecordViolation(rule string)
}

// Gate validates manifests against a loaded policy.
type Gate struct {
	config   *Config
	stacks   map[string]struct{}
	patterns []compiledPattern
	logger   *logging.Logger
	recorder ViolationRecorder
}

type compiledPattern struct {
	source string
	re     *regexp.Regexp
}

// Option configures a Gate.
type Option func(*Gate)

// WithLogger sets the gate's logger.
func WithLogger(l *logging.Logger) Option {
	return func(g *Gate) { g.logger = l }
}

// WithRecorder sets a sink for violation counts.
func WithRecorder(r ViolationRecorder) Option {
	return func(g *Gate) { g.recorder = r }
}

// NewGate compiles cfg into a Gate. A nil cfg selects the default policy.
func NewGate(cfg *Config, opts ...Option) (*Gate, error) {
	if cfg == nil {
		cfg = Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid policy: %w", err)
	}

	g := &Gate{
		config: cfg,
		stacks: make(map[string]struct{}, len(cfg.AllowedStacks)),
		logger: logging.NewNop(),
	}
	for _, s := range cfg.AllowedStacks {
		g.stacks[strings.ToLower(strings.TrimSpace(s))] = struct{}{}
	}
	for _, p := range cfg.ForbiddenPatterns {
		g.patterns = append(g.patterns, compiledPattern{source: p, re: regexp.MustCompile("(?i)" + p)})
	}
	for _, opt := range opts {
		opt(g)
	}

	g.logger.Info(context.Background(), "policy loaded",
		zap.Int("forbidden_patterns", len(g.patterns)),
		zap.Strings("allowed_stacks", cfg.AllowedStacks),
		zap.Int("max_files", cfg.MaxFiles),
	)
	return g, nil
}

// Config returns the policy the gate enforces.
func (g *Gate) Config() *Config {
	return g.config
}

// Validate checks m against the policy and returns a *Violation for the
// first rule it breaks.
func (g *Gate) Validate(ctx context.Context, m *manifest.Manifest) error {
	g.logger.Debug(ctx, "validating manifest", zap.String("project", m.ProjectName))

	for _, check := range []func(*manifest.Manifest) *Violation{
		g.checkStack,
		g.checkFileCount,
		g.checkForbiddenPatterns,
	} {
		if v := check(m); v != nil {
			g.logger.Warn(ctx, "access denied",
				zap.String("project", m.ProjectName),
				zap.String("rule", string(v.Rule)),
				zap.String("details", v.Details),
			)
			if g.recorder != nil {
				g.recorder.RecordViolation(string(v.Rule))
			}
			return v
		}
	}

	g.logger.Info(ctx, "access granted", zap.String("project", m.ProjectName))
	return nil
}

func (g *Gate) checkStack(m *manifest.Manifest) *Violation {
	stack := strings.ToLower(string(m.Stack))
	if _, ok := g.stacks[stack]; ok {
		return nil
	}
	return &Violation{
		Rule:    RuleAllowedStacks,
		Message: fmt.Sprintf("stack %q is not allowed", m.Stack),
		Details: fmt.Sprintf("allowed: %s", strings.Join(g.config.AllowedStacks, ", ")),
	}
}

func (g *Gate) checkFileCount(m *manifest.Manifest) *Violation {
	if len(m.Files) <= g.config.MaxFiles {
		return nil
	}
	return &Violation{
		Rule:    RuleMaxFiles,
		Message: fmt.Sprintf("too many files (%d > %d)", len(m.Files), g.config.MaxFiles),
		Details: fmt.Sprintf("maximum allowed: %d", g.config.MaxFiles),
	}
}

func (g *Gate) checkForbiddenPatterns(m *manifest.Manifest) *Violation {
	for _, f := range m.Files {
		for _, p := range g.patterns {
			if p.re.MatchString(f.Content) {
				return &Violation{
					Rule:    RuleForbiddenPatterns,
					Message: fmt.Sprintf("forbidden pattern detected in %s", f.Path),
					Details: fmt.Sprintf("pattern: %s", p.source),
					Path:    f.Path,
				}
			}
		}
	}
	return nil
}
