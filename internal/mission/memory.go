package mission

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Jarvis2021/gantry-sub000/internal/architect"
	"github.com/google/uuid"
)

// MemoryStore implements Store in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	missions map[string]*Mission
	now      func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		missions: make(map[string]*Mission),
		now:      time.Now,
	}
}

func (s *MemoryStore) Create(ctx context.Context, prompt string, history []architect.Turn) (*Mission, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, ErrEmptyPrompt
	}
	m := &Mission{
		ID:        uuid.New().String(),
		Prompt:    prompt,
		Status:    StatusPending,
		History:   append([]architect.Turn(nil), history...),
		CreatedAt: s.now().UTC(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.missions[m.ID] = m
	return m.clone(), nil
}

func (s *MemoryStore) Update(ctx context.Context, id string, status Status, message string) error {
	return s.mutate(id, func(m *Mission) {
		m.Status = status
		m.Message = message
	})
}

func (s *MemoryStore) IncrementAttempts(ctx context.Context, id string) (int, error) {
	var n int
	err := s.mutate(id, func(m *Mission) {
		m.AttemptCount++
		n = m.AttemptCount
	})
	return n, err
}

func (s *MemoryStore) mutate(id string, fn func(*Mission)) error {
	if id == "" {
		return ErrInvalidID
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.missions[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	fn(m)
	now := s.now().UTC()
	m.UpdatedAt = &now
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Mission, error) {
	if id == "" {
		return nil, ErrInvalidID
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.missions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return m.clone(), nil
}

func (s *MemoryStore) List(ctx context.Context, limit int) ([]*Mission, error) {
	return s.collect(nil, normalizeLimit(limit)), nil
}

func (s *MemoryStore) Search(ctx context.Context, query string, limit int) ([]*Mission, error) {
	keywords := Keywords(query)
	if len(keywords) == 0 {
		return []*Mission{}, nil
	}
	return s.collect(keywords, normalizeLimit(limit)), nil
}

func (s *MemoryStore) collect(keywords []string, limit int) []*Mission {
	s.mu.RLock()
	out := make([]*Mission, 0, len(s.missions))
	for _, m := range s.missions {
		if keywords == nil || matches(m.Prompt, keywords) {
			out = append(out, m.clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (s *MemoryStore) ClearAll(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.missions)
	s.missions = make(map[string]*Mission)
	return n, nil
}

var _ Store = (*MemoryStore)(nil)
