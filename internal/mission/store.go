package mission

import (
	"context"

	"github.com/Jarvis2021/gantry-sub000/internal/architect"
)

// Store persists missions. Implementations are safe for concurrent use.
type Store interface {
	// Create records a new mission in PENDING and returns it.
	Create(ctx context.Context, prompt string, history []architect.Turn) (*Mission, error)

	// Update sets the status and user-facing message of a mission.
	Update(ctx context.Context, id string, status Status, message string) error

	// IncrementAttempts bumps the build attempt counter and returns the new value.
	IncrementAttempts(ctx context.Context, id string) (int, error)

	// Get returns a mission by ID.
	Get(ctx context.Context, id string) (*Mission, error)

	// List returns up to limit missions, newest first.
	List(ctx context.Context, limit int) ([]*Mission, error)

	// Search returns up to limit missions whose prompt contains every
	// keyword of query, newest first.
	Search(ctx context.Context, query string, limit int) ([]*Mission, error)

	// ClearAll deletes every mission and returns how many were removed.
	ClearAll(ctx context.Context) (int, error)
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return limit
}
