package secrets

import "unicode/utf8"

// UserMessage returns msg scrubbed of secrets and truncated to at most
// maxRunes runes. Redaction runs before truncation so a secret cut in half
// cannot survive. A nil scrubber only truncates.
func UserMessage(s Scrubber, msg string, maxRunes int) string {
	if s != nil {
		msg = s.Scrub(msg).Scrubbed
	}
	return Truncate(msg, maxRunes)
}

// Truncate shortens s to at most maxRunes runes without splitting a rune.
func Truncate(s string, maxRunes int) string {
	if maxRunes <= 0 || utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	n := 0
	for i := range s {
		if n == maxRunes {
			return s[:i]
		}
		n++
	}
	return s
}
