// internal/logging/testing.go
package logging

import (
	"reflect"
	"regexp"
	"slices"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// TestLogger records every entry in memory, trace level included. Its
// assertions take a testing.TB so they work from tests and benchmarks.
type TestLogger struct {
	*Logger
	logs *observer.ObservedLogs
}

// NewTestLogger returns a TestLogger without redaction, so assertions see
// exactly what call sites passed.
func NewTestLogger() *TestLogger {
	core, logs := observer.New(TraceLevel)
	return &TestLogger{
		Logger: &Logger{zap: zap.New(core), config: NewDefaultConfig()},
		logs:   logs,
	}
}

func (t *TestLogger) All() []observer.LoggedEntry { return t.logs.All() }

// FilterMessage narrows to entries whose message contains snippet.
func (t *TestLogger) FilterMessage(snippet string) *observer.ObservedLogs {
	return t.logs.FilterMessageSnippet(snippet)
}

func (t *TestLogger) Reset() { t.logs.TakeAll() }

func (t *TestLogger) find(level zapcore.Level, snippet string) (observer.LoggedEntry, bool) {
	entries := t.logs.All()
	i := slices.IndexFunc(entries, func(e observer.LoggedEntry) bool {
		return e.Level == level && strings.Contains(e.Message, snippet)
	})
	if i < 0 {
		return observer.LoggedEntry{}, false
	}
	return entries[i], true
}

func (t *TestLogger) messages() []string {
	out := make([]string, 0, t.logs.Len())
	for _, e := range t.logs.All() {
		out = append(out, e.Level.String()+": "+e.Message)
	}
	return out
}

// AssertLogged fails tb unless some entry at level contains snippet.
func (t *TestLogger) AssertLogged(tb testing.TB, level zapcore.Level, snippet string) {
	tb.Helper()
	if _, ok := t.find(level, snippet); !ok {
		tb.Errorf("no %s entry containing %q; have %q", level, snippet, t.messages())
	}
}

func (t *TestLogger) AssertNotLogged(tb testing.TB, level zapcore.Level, snippet string) {
	tb.Helper()
	if e, ok := t.find(level, snippet); ok {
		tb.Errorf("unexpected %s entry %q", level, e.Message)
	}
}

// AssertField fails tb unless an entry whose message contains snippet
// carries key = want. Context fields added with WithMission and friends
// count too.
func (t *TestLogger) AssertField(tb testing.TB, snippet, key string, want any) {
	tb.Helper()
	var seen []any
	for _, e := range t.logs.FilterMessageSnippet(snippet).All() {
		got, ok := e.ContextMap()[key]
		if !ok {
			continue
		}
		if reflect.DeepEqual(got, want) {
			return
		}
		seen = append(seen, got)
	}
	tb.Errorf("%q: want %s=%v, saw %v", snippet, key, want, seen)
}

// AssertNoSecrets fails tb if a message or string field matches one of the
// default redaction patterns, or if a field named like a credential holds
// a value that was not passed through RedactedString or Secret.
func (t *TestLogger) AssertNoSecrets(tb testing.TB) {
	tb.Helper()
	rules := NewDefaultConfig().Redaction
	patterns := make([]*regexp.Regexp, 0, len(rules.Patterns))
	for _, p := range rules.Patterns {
		patterns = append(patterns, regexp.MustCompile(p))
	}
	leaks := func(s string) bool {
		return slices.ContainsFunc(patterns, func(re *regexp.Regexp) bool { return re.MatchString(s) })
	}

	for _, e := range t.logs.All() {
		if leaks(e.Message) {
			tb.Errorf("credential in message %q", e.Message)
		}
		for _, f := range e.Context {
			if f.Type != zapcore.StringType || f.String == "" {
				continue
			}
			if leaks(f.String) {
				tb.Errorf("credential in field %s: %q", f.Key, f.String)
			}
			key := strings.ToLower(f.Key)
			named := slices.ContainsFunc(rules.Fields, func(s string) bool { return strings.Contains(key, s) })
			if named && !strings.HasPrefix(f.String, "[REDACTED") {
				tb.Errorf("field %s holds an unredacted value", f.Key)
			}
		}
	}
}
