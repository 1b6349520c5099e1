package store

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	groupmodels "creddd/internal/group/models"
	"creddd/internal/tree/models"
	"creddd/pkg/platform/sentinel"
)

// InMemory is a tree store for tests and local runs. It mirrors the
// Postgres semantics: one record per (group, root) and monotonic blocks.
type InMemory struct {
	mu      sync.RWMutex
	records map[uuid.UUID]*models.TreeRecord
	leaves  map[uuid.UUID][]common.Address
	now     func() time.Time
}

func NewInMemory() *InMemory {
	return &InMemory{
		records: make(map[uuid.UUID]*models.TreeRecord),
		leaves:  make(map[uuid.UUID][]common.Address),
		now:     time.Now,
	}
}

func (s *InMemory) Latest(_ context.Context, groupID groupmodels.GroupID) (*models.TreeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *models.TreeRecord
	for _, r := range s.records {
		if r.GroupID != groupID {
			continue
		}
		if latest == nil || r.BlockNumber > latest.BlockNumber {
			latest = r
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("latest tree for %s: %w", groupID, sentinel.ErrNotFound)
	}
	copied := *latest
	return &copied, nil
}

func (s *InMemory) FindByRoot(_ context.Context, groupID groupmodels.GroupID, root common.Hash) (*models.TreeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if r := s.findByRootLocked(groupID, root); r != nil {
		copied := *r
		return &copied, nil
	}
	return nil, fmt.Errorf("tree %s for %s: %w", root.Hex(), groupID, sentinel.ErrNotFound)
}

func (s *InMemory) findByRootLocked(groupID groupmodels.GroupID, root common.Hash) *models.TreeRecord {
	for _, r := range s.records {
		if r.GroupID == groupID && r.Root == root {
			return r
		}
	}
	return nil
}

func (s *InMemory) Save(_ context.Context, record *models.TreeRecord, leaves []common.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing := s.findByRootLocked(record.GroupID, record.Root); existing != nil {
		if record.BlockNumber > existing.BlockNumber {
			existing.BlockNumber = record.BlockNumber
			existing.UpdatedAt = record.UpdatedAt
		}
		record.ID = existing.ID
		return nil
	}
	stored := *record
	s.records[stored.ID] = &stored
	s.leaves[stored.ID] = slices.Clone(leaves)
	return nil
}

func (s *InMemory) AdvanceBlock(_ context.Context, treeID uuid.UUID, block uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[treeID]
	if !ok {
		return nil
	}
	if block > r.BlockNumber {
		r.BlockNumber = block
		r.UpdatedAt = s.now()
	}
	return nil
}

func (s *InMemory) Leaves(_ context.Context, treeID uuid.UUID) ([]common.Address, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.leaves[treeID]), nil
}

// Count returns the number of records stored for the group.
func (s *InMemory) Count(groupID groupmodels.GroupID) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, r := range s.records {
		if r.GroupID == groupID {
			n++
		}
	}
	return n
}
