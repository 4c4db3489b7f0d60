package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrNoJSON is returned when model output contains no JSON object.
var ErrNoJSON = errors.New("no JSON object in response")

var (
	trailingCommaObject = regexp.MustCompile(`,\s*}`)
	trailingCommaArray  = regexp.MustCompile(`,\s*]`)
)

// Parse extracts a manifest from raw model output. The outermost {...} span
// is decoded; if that fails, trailing commas are removed and raw control
// characters inside strings are escaped before trying again. The result is
// normalized and validated.
func Parse(raw string) (*Manifest, error) {
	body, err := ExtractJSON(raw)
	if err != nil {
		return nil, err
	}

	var m Manifest
	if err := json.Unmarshal([]byte(body), &m); err != nil {
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}

	out := m.Normalize()
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return out, nil
}

// ExtractJSON returns the first '{' to last '}' span of text, repaired for
// the mistakes language models commonly make.
func ExtractJSON(text string) (string, error) {
	first := strings.Index(text, "{")
	last := strings.LastIndex(text, "}")
	if first == -1 || last == -1 || first >= last {
		return "", fmt.Errorf("%w: %.200s", ErrNoJSON, text)
	}
	body := text[first : last+1]
	if json.Valid([]byte(body)) {
		return body, nil
	}

	body = trailingCommaObject.ReplaceAllString(body, "}")
	body = trailingCommaArray.ReplaceAllString(body, "]")
	if json.Valid([]byte(body)) {
		return body, nil
	}
	return escapeControlChars(body), nil
}

func escapeControlChars(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inString, escaped := false, false
	for _, r := range s {
		switch {
		case escaped:
			b.WriteRune(r)
			escaped = false
		case r == '\\':
			b.WriteRune(r)
			escaped = true
		case r == '"':
			b.WriteRune(r)
			inString = !inString
		case inString && r == '\n':
			b.WriteString(`\n`)
		case inString && r == '\r':
			b.WriteString(`\r`)
		case inString && r == '\t':
			b.WriteString(`\t`)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// JSON renders m indented, as embedded in healing prompts and evidence.
func (m *Manifest) JSON() string {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}
