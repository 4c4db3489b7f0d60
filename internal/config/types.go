// internal/config/types.go
package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Duration is a time.Duration that reads "90s" or "3m" from YAML and
// environment variables. Negative values are rejected.
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	if v < 0 {
		return fmt.Errorf("duration cannot be negative: %s", text)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d Duration) MarshalJSON() ([]byte, error) { return json.Marshal(d.String()) }

func (d Duration) Duration() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// Secret holds a credential such as the GitHub token or a Postgres DSN.
// Every formatting and marshaling path prints "[REDACTED]"; only Value
// returns the real string.
type Secret string

const redacted = "[REDACTED]"

func (s Secret) masked() string {
	if s == "" {
		return ""
	}
	return redacted
}

func (s Secret) String() string   { return s.masked() }
func (s Secret) GoString() string { return "Secret(" + redacted + ")" }

// Value returns the unredacted secret.
func (s Secret) Value() string { return string(s) }

func (s Secret) IsSet() bool { return s != "" }

func (s Secret) MarshalJSON() ([]byte, error) { return json.Marshal(s.masked()) }

func (s Secret) MarshalText() ([]byte, error) { return []byte(s.masked()), nil }

func (s Secret) MarshalYAML() (any, error) { return s.masked(), nil }

// UnmarshalText accepts the raw value so koanf can populate secrets from
// the environment.
func (s *Secret) UnmarshalText(text []byte) error {
	*s = Secret(text)
	return nil
}
