// Package mission persists missions and their status transitions.
package mission

import (
	"errors"
	"strings"
	"time"

	"github.com/Jarvis2021/gantry-sub000/internal/architect"
)

// DefaultListLimit is used when a caller passes a non-positive limit.
const DefaultListLimit = 50

var (
	// ErrNotFound is returned for unknown mission IDs.
	ErrNotFound = errors.New("mission not found")

	// ErrEmptyPrompt is returned when creating a mission without a prompt.
	ErrEmptyPrompt = errors.New("prompt cannot be empty")

	// ErrInvalidID is returned for empty mission IDs.
	ErrInvalidID = errors.New("invalid mission ID")
)

// Status is the lifecycle state of a mission.
type Status string

const (
	StatusPending         Status = "PENDING"
	StatusArchitecting    Status = "ARCHITECTING"
	StatusValidating      Status = "VALIDATING"
	StatusBuilding        Status = "BUILDING"
	StatusHealing         Status = "HEALING"
	StatusPublishing      Status = "PUBLISHING"
	StatusDeployed        Status = "DEPLOYED"
	StatusPROpened        Status = "PR_OPENED"
	StatusSuccess         Status = "SUCCESS"
	StatusFailed          Status = "FAILED"
	StatusBlocked         Status = "BLOCKED"
	StatusTimeout         Status = "TIMEOUT"
	StatusCriticalFailure Status = "CRITICAL_FAILURE"
)

// Terminal reports whether no further transitions follow s.
func (s Status) Terminal() bool {
	switch s {
	case StatusDeployed, StatusPROpened, StatusSuccess, StatusFailed,
		StatusBlocked, StatusTimeout, StatusCriticalFailure:
		return true
	}
	return false
}

// Statuses returns every status in lifecycle order.
func Statuses() []Status {
	return []Status{
		StatusPending, StatusArchitecting, StatusValidating, StatusBuilding,
		StatusHealing, StatusPublishing, StatusDeployed, StatusPROpened,
		StatusSuccess, StatusFailed, StatusBlocked, StatusTimeout, StatusCriticalFailure,
	}
}

// Mission is one end-to-end build request.
type Mission struct {
	ID           string           `json:"id"`
	Prompt       string           `json:"prompt"`
	Status       Status           `json:"status"`
	Message      string           `json:"message,omitempty"`
	History      []architect.Turn `json:"conversation_history,omitempty"`
	AttemptCount int              `json:"attempt_count"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    *time.Time       `json:"updated_at,omitempty"`
}

func (m *Mission) clone() *Mission {
	out := *m
	out.History = append([]architect.Turn(nil), m.History...)
	if m.UpdatedAt != nil {
		t := *m.UpdatedAt
		out.UpdatedAt = &t
	}
	return &out
}

// Keywords splits a search query into lowercase terms.
func Keywords(query string) []string {
	return strings.Fields(strings.ToLower(query))
}

// matches reports whether prompt contains every keyword, ignoring case.
func matches(prompt string, keywords []string) bool {
	lower := strings.ToLower(prompt)
	for _, kw := range keywords {
		if !strings.Contains(lower, kw) {
			return false
		}
	}
	return true
}
