// Package skills holds the pluggable capabilities offered next to mission
// building. Skills are registered once at start and resolved by name.
package skills

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/Jarvis2021/gantry-sub000/internal/architect"
)

var (
	// ErrInvalidSkill indicates a skill that cannot be registered.
	ErrInvalidSkill = errors.New("invalid skill")

	// ErrInvalidInput indicates input a skill cannot act on.
	ErrInvalidInput = errors.New("invalid skill input")

	// ErrSkillNotFound indicates no skill is registered under a name.
	ErrSkillNotFound = errors.New("skill not found")
)

// Input is what a skill executes against.
type Input struct {
	// Messages is the conversation so far, oldest first.
	Messages []architect.Turn `json:"messages"`
}

// Result is the outcome of one execution.
type Result struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Skill is a named capability.
type Skill interface {
	Name() string
	Description() string
	Execute(ctx context.Context, in Input) (*Result, error)
}

// Info describes a registered skill.
type Info struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Registry maps names to skills.
type Registry struct {
	mu     sync.RWMutex
	skills map[string]Skill
}

// NewRegistry returns a registry holding the given skills.
func NewRegistry(skills ...Skill) (*Registry, error) {
	r := &Registry{skills: make(map[string]Skill)}
	for _, s := range skills {
		if err := r.Register(s); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a skill. Names are unique.
func (r *Registry) Register(s Skill) error {
	if s == nil || s.Name() == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidSkill)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.skills[s.Name()]; ok {
		return fmt.Errorf("%w: %q already registered", ErrInvalidSkill, s.Name())
	}
	r.skills[s.Name()] = s
	return nil
}

// Get returns the skill registered under name.
func (r *Registry) Get(name string) (Skill, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.skills[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSkillNotFound, name)
	}
	return s, nil
}

// List returns every registered skill sorted by name.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Info, 0, len(r.skills))
	for _, s := range r.skills {
		out = append(out, Info{Name: s.Name(), Description: s.Description()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
