// internal/logging/config.go
package logging

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/Jarvis2021/gantry-sub000/internal/config"
	"go.uber.org/zap/zapcore"
)

// Config is the logger's shape. Most deployments only set Level and
// Format through the gantry config file; the rest keeps its defaults.
type Config struct {
	Level      zapcore.Level
	Format     string
	Sampling   SamplingConfig
	Caller     bool
	Stacktrace zapcore.Level
	Fields     map[string]string
	Redaction  RedactionConfig
}

// SamplingConfig caps repeated entries per tick. Healing loops that fail
// the same way many times are the main source of repeats.
type SamplingConfig struct {
	Enabled    bool
	Tick       config.Duration
	Initial    int
	Thereafter int
}

// RedactionConfig names field keys and value patterns the encoder masks.
type RedactionConfig struct {
	Enabled  bool
	Fields   []string
	Patterns []string
}

// NewDefaultConfig logs JSON at info with sampling and redaction on.
func NewDefaultConfig() *Config {
	return &Config{
		Level:  zapcore.InfoLevel,
		Format: "json",
		Sampling: SamplingConfig{
			Enabled:    true,
			Tick:       config.Duration(time.Second),
			Initial:    100,
			Thereafter: 10,
		},
		Caller:     true,
		Stacktrace: zapcore.ErrorLevel,
		Fields: map[string]string{
			"service": "gantry",
		},
		Redaction: RedactionConfig{
			Enabled: true,
			Fields: []string{
				"password", "secret", "token", "api_key",
				"authorization", "bearer", "credential", "private_key",
				"github_token", "vercel_token", "database_url",
			},
			Patterns: []string{
				`(?i)bearer\s+\S+`,
				`(?i)api[_-]?key[=:]\s*\S+`,
				`gh[pousr]_[A-Za-z0-9]{36,}`,
				`(?i)--token[= ]\S+`,
			},
		},
	}
}

// FromSettings builds a logging config from the level and format strings
// found in the application config.
func FromSettings(level, format string) (*Config, error) {
	cfg := NewDefaultConfig()
	if level != "" {
		l, err := LevelFromString(level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", level, err)
		}
		cfg.Level = l
	}
	if format != "" {
		cfg.Format = format
	}
	return cfg, cfg.Validate()
}

const maxPatternLen = 200

// Validate rejects unknown formats, a zero sampling tick, bad redaction
// patterns and blank static fields.
func (c *Config) Validate() error {
	switch c.Format {
	case "json", "console":
	default:
		return fmt.Errorf("format must be 'json' or 'console', got %q", c.Format)
	}
	if c.Sampling.Enabled && c.Sampling.Tick.Duration() <= 0 {
		return errors.New("sampling tick must be > 0 when sampling enabled")
	}
	if err := c.Redaction.validate(); err != nil {
		return err
	}
	for k, v := range c.Fields {
		if k == "" || v == "" {
			return fmt.Errorf("static field %q=%q: key and value are required", k, v)
		}
	}
	return nil
}

func (r RedactionConfig) validate() error {
	if !r.Enabled {
		return nil
	}
	for _, p := range r.Patterns {
		if len(p) > maxPatternLen {
			return fmt.Errorf("redaction pattern too long (max %d chars): %q", maxPatternLen, p)
		}
		if _, err := regexp.Compile(p); err != nil {
			return fmt.Errorf("invalid redaction pattern %q: %w", p, err)
		}
	}
	return nil
}
