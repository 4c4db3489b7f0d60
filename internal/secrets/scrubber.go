package secrets

import (
	"sort"
	"strings"
	"time"
)

// Scrubber detects and redacts secrets from content.
type Scrubber interface {
	// Scrub redacts secrets from the content.
	Scrub(content string) *Result

	// Check detects secrets without redacting.
	Check(content string) *Result

	// IsEnabled returns whether scrubbing is enabled.
	IsEnabled() bool
}

// scrubber is the default implementation.
type scrubber struct {
	config   *Config
	gitleaks *gitleaksPass
}

// redaction tracks a span to redact.
type redaction struct {
	start, end int
	ruleID     string
}

// New creates a new Scrubber with the given configuration.
// If config is nil, DefaultConfig() is used.
func New(cfg *Config) (Scrubber, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &scrubber{config: cfg}
	if cfg.Enabled && cfg.Gitleaks {
		s.gitleaks = newGitleaksPass()
	}
	return s, nil
}

// MustNew creates a new Scrubber, panicking on error.
func MustNew(cfg *Config) Scrubber {
	s, err := New(cfg)
	if err != nil {
		panic(err)
	}
	return s
}

// Scrub redacts secrets from the content.
func (s *scrubber) Scrub(content string) *Result {
	start := time.Now()
	result := &Result{
		Original: content,
		Scrubbed: content,
		ByRule:   make(map[string]int),
	}
	if !s.config.Enabled || content == "" {
		result.Duration = time.Since(start)
		return result
	}

	redactions := make([]redaction, 0)
	add := func(startIdx, endIdx int, ruleID, desc, severity string) {
		match := content[startIdx:endIdx]
		if s.isAllowed(match) {
			return
		}
		result.Findings = append(result.Findings, Finding{
			RuleID:      ruleID,
			Description: desc,
			Severity:    severity,
			StartIndex:  startIdx,
			EndIndex:    endIdx,
			Line:        strings.Count(content[:startIdx], "\n") + 1,
		})
		result.ByRule[ruleID]++
		redactions = append(redactions, redaction{start: startIdx, end: endIdx, ruleID: ruleID})
	}

	for _, rule := range s.config.compiledRules {
		if !rule.keywordsPresent(content) {
			continue
		}
		for _, m := range rule.pattern.FindAllStringIndex(content, -1) {
			add(m[0], m[1], rule.ID, rule.Description, rule.Severity)
		}
	}

	if s.gitleaks != nil {
		for _, f := range s.gitleaks.detect(content) {
			if f.secret == "" {
				continue
			}
			offset := 0
			for {
				idx := strings.Index(content[offset:], f.secret)
				if idx < 0 {
					break
				}
				startIdx := offset + idx
				add(startIdx, startIdx+len(f.secret), "gitleaks:"+f.ruleID, f.description, "high")
				offset = startIdx + len(f.secret)
			}
		}
	}

	result.TotalFindings = len(result.Findings)
	if len(redactions) > 0 {
		result.Scrubbed = applyRedactions(content, redactions, s.config.RedactionString)
	}
	result.Duration = time.Since(start)
	return result
}

// Check detects secrets without redacting.
func (s *scrubber) Check(content string) *Result {
	result := s.Scrub(content)
	result.Scrubbed = result.Original
	return result
}

// IsEnabled returns whether scrubbing is enabled.
func (s *scrubber) IsEnabled() bool {
	return s.config.Enabled
}

func (s *scrubber) isAllowed(match string) bool {
	for _, pattern := range s.config.compiledAllowList {
		if pattern.MatchString(match) {
			return true
		}
	}
	return false
}

// applyRedactions merges overlapping spans and replaces them back to front.
func applyRedactions(content string, redactions []redaction, replacement string) string {
	sort.Slice(redactions, func(i, j int) bool {
		return redactions[i].start < redactions[j].start
	})

	merged := []redaction{redactions[0]}
	for _, curr := range redactions[1:] {
		last := &merged[len(merged)-1]
		if curr.start <= last.end {
			if curr.end > last.end {
				last.end = curr.end
			}
			continue
		}
		merged = append(merged, curr)
	}

	var b strings.Builder
	b.Grow(len(content))
	prev := 0
	for _, r := range merged {
		b.WriteString(content[prev:r.start])
		b.WriteString(replacement)
		prev = r.end
	}
	b.WriteString(content[prev:])
	return b.String()
}

// NoopScrubber is a scrubber that does nothing (for testing or disabled mode).
type NoopScrubber struct{}

// Scrub returns content unchanged.
func (n *NoopScrubber) Scrub(content string) *Result {
	return &Result{Original: content, Scrubbed: content, ByRule: make(map[string]int)}
}

// Check returns content unchanged.
func (n *NoopScrubber) Check(content string) *Result {
	return n.Scrub(content)
}

// IsEnabled returns false.
func (n *NoopScrubber) IsEnabled() bool {
	return false
}

var _ Scrubber = (*scrubber)(nil)
var _ Scrubber = (*NoopScrubber)(nil)
