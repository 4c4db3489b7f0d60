package secrets

import (
	"fmt"
	"regexp"
	"slices"
)

const defaultRedaction = "[REDACTED]"

// Config configures a Scrubber. A disabled config scrubs nothing and
// skips compilation entirely.
type Config struct {
	Enabled bool

	Rules []Rule

	// Gitleaks adds a second pass with the gitleaks default ruleset, which
	// catches provider keys the regex rules do not know about.
	Gitleaks bool

	// RedactionString replaces each detected span. Empty means "[REDACTED]".
	RedactionString string

	// AllowList holds patterns for matches that are never redacted, such as
	// placeholder values in generated .env.example files.
	AllowList []string

	compiledRules     []*compiledRule
	compiledAllowList []*regexp.Regexp
}

// Rule is one regex detector.
type Rule struct {
	ID          string
	Description string
	Pattern     string
	// Keywords gate the rule: when set, at least one must appear in the
	// content (case-insensitively) before Pattern is tried.
	Keywords []string
	Severity string
}

type compiledRule struct {
	Rule
	pattern  *regexp.Regexp
	keywords []*regexp.Regexp
}

// DefaultConfig enables the built-in rules plus the gitleaks pass.
func DefaultConfig() *Config {
	return &Config{
		Enabled:         true,
		Rules:           DefaultRules(),
		Gitleaks:        true,
		RedactionString: defaultRedaction,
	}
}

// Validate fills defaults and compiles rules and allow-list patterns.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.RedactionString == "" {
		c.RedactionString = defaultRedaction
	}

	rules, err := compileRules(c.Rules)
	if err != nil {
		return err
	}
	allow, err := compileAllowList(c.AllowList)
	if err != nil {
		return err
	}
	c.compiledRules, c.compiledAllowList = rules, allow
	return nil
}

func compileRules(rules []Rule) ([]*compiledRule, error) {
	out := make([]*compiledRule, 0, len(rules))
	for i, r := range rules {
		switch {
		case r.ID == "":
			return nil, fmt.Errorf("rule %d: ID is required", i)
		case r.Pattern == "":
			return nil, fmt.Errorf("rule %s: pattern is required", r.ID)
		}
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("rule %s: invalid pattern: %w", r.ID, err)
		}
		cr := &compiledRule{Rule: r, pattern: re}
		for _, kw := range r.Keywords {
			cr.keywords = append(cr.keywords, regexp.MustCompile("(?i)"+regexp.QuoteMeta(kw)))
		}
		out = append(out, cr)
	}
	return out, nil
}

func compileAllowList(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for i, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("allow_list %d: invalid pattern: %w", i, err)
		}
		out = append(out, re)
	}
	return out, nil
}

func (r *compiledRule) keywordsPresent(content string) bool {
	return len(r.keywords) == 0 || slices.ContainsFunc(r.keywords, func(kw *regexp.Regexp) bool {
		return kw.MatchString(content)
	})
}
