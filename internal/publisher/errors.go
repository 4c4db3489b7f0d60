package publisher

import (
	"errors"
	"fmt"
)

// ErrNotConfigured is returned when no token or username is configured.
var ErrNotConfigured = errors.New("GITHUB_TOKEN and GITHUB_USERNAME not configured")

// SecurityBlock reports that the green-only rule refused a publish.
type SecurityBlock struct {
	Reason string
}

func (e *SecurityBlock) Error() string {
	return e.Reason
}

// PublishError is a publish failure. Message is already scrubbed.
type PublishError struct {
	Op      string
	Message string
	Err     error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish %s failed: %s", e.Op, e.Message)
}

func (e *PublishError) Unwrap() error { return e.Err }
