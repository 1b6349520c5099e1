package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"creddd/internal/group/models"
	"creddd/pkg/platform/sentinel"
)

// InMemory stores groups in memory for tests/dev.
type InMemory struct {
	mu     sync.RWMutex
	groups map[models.GroupID]*models.Group
}

// NewInMemory constructs an in-memory group store seeded with groups.
func NewInMemory(groups ...*models.Group) *InMemory {
	s := &InMemory{groups: make(map[models.GroupID]*models.Group, len(groups))}
	for _, g := range groups {
		cp := *g
		s.groups[g.ID] = &cp
	}
	return s
}

// Register adds or replaces a group.
func (s *InMemory) Register(g *models.Group) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *g
	s.groups[g.ID] = &cp
}

func (s *InMemory) FindByID(_ context.Context, id models.GroupID) (*models.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.groups[id]
	if !ok {
		return nil, fmt.Errorf("group %s: %w", id, sentinel.ErrNotFound)
	}
	cp := *g
	return &cp, nil
}

func (s *InMemory) ListByState(_ context.Context, state models.GroupState) ([]*models.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Group
	for _, g := range s.groups {
		if g.State == state {
			cp := *g
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *InMemory) UpdateState(_ context.Context, id models.GroupID, state models.GroupState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[id]
	if !ok {
		return fmt.Errorf("group %s: %w", id, sentinel.ErrNotFound)
	}
	if g.State == state {
		return nil
	}
	if !g.State.CanTransitionTo(state) {
		return fmt.Errorf("group %s cannot move to %s: %w", id, state, sentinel.ErrInvalidState)
	}
	g.State = state
	g.UpdatedAt = time.Now()
	return nil
}
