// Package policy implements the pre-execution security gate.
//
// A Gate validates a manifest against a Config before any sandbox exists.
// Rules run in a fixed order and the first failing rule stops validation:
//
//  1. allowed_stacks: the manifest's stack must be allowed (case-insensitive)
//  2. max_files: the file count must not exceed the ceiling
//  3. forbidden_patterns: no file content may match a forbidden regex
//
// The policy is loaded once at startup and is read-only afterwards, so a
// single Gate is shared by every mission.
package policy

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

//go:embed default_policy.yaml
var defaultPolicy []byte

// maxPolicySize bounds policy documents read from disk.
const maxPolicySize = 1024 * 1024

// Config is the policy document.
type Config struct {
	AllowedStacks     []string `koanf:"allowed_stacks"`
	ForbiddenPatterns []string `koanf:"forbidden_patterns"`
	MaxFiles          int      `koanf:"max_files"`
}

// Default returns the built-in policy.
func Default() *Config {
	cfg, err := parse(defaultPolicy)
	if err != nil {
		panic(fmt.Sprintf("policy: embedded default is invalid: %v", err))
	}
	return cfg
}

// Load reads the policy document at path. A missing file yields the
// built-in default; an unreadable or invalid one is an error.
func Load(path string) (*Config, bool, error) {
	if path == "" {
		return Default(), false, nil
	}
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to stat policy %s: %w", path, err)
	}
	if info.Size() > maxPolicySize {
		return nil, false, fmt.Errorf("policy %s exceeds %d bytes", path, maxPolicySize)
	}

	data, err := os.ReadFile(path) // #nosec G304 -- operator-supplied path
	if err != nil {
		return nil, false, fmt.Errorf("failed to read policy %s: %w", path, err)
	}
	cfg, err := parse(data)
	if err != nil {
		return nil, false, fmt.Errorf("policy %s: %w", path, err)
	}
	return cfg, true, nil
}

func parse(data []byte) (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider(data), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to parse policy: %w", err)
	}

	cfg := Config{MaxFiles: 10}
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode policy: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that the policy is usable.
func (c *Config) Validate() error {
	var errs []error
	if len(c.AllowedStacks) == 0 {
		errs = append(errs, errors.New("allowed_stacks must not be empty"))
	}
	if c.MaxFiles < 1 {
		errs = append(errs, fmt.Errorf("max_files must be positive, got %d", c.MaxFiles))
	}
	for i, p := range c.ForbiddenPatterns {
		if _, err := regexp.Compile("(?i)" + p); err != nil {
			errs = append(errs, fmt.Errorf("forbidden_patterns[%d] %q: %w", i, p, err))
		}
	}
	return errors.Join(errs...)
}
