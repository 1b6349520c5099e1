package addressindex

import (
	"context"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"creddd/internal/group/models"
)

// InMemory is an address index for tests and local runs.
type InMemory struct {
	mu     sync.Mutex
	groups map[common.Address]map[models.GroupID]struct{}
}

func NewInMemory() *InMemory {
	return &InMemory{groups: make(map[common.Address]map[models.GroupID]struct{})}
}

func (m *InMemory) Upsert(_ context.Context, groupID models.GroupID, addresses ...common.Address) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, addr := range addresses {
		set, ok := m.groups[addr]
		if !ok {
			set = make(map[models.GroupID]struct{})
			m.groups[addr] = set
		}
		set[groupID] = struct{}{}
	}
	return nil
}

func (m *InMemory) Groups(_ context.Context, addr common.Address) ([]models.GroupID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]models.GroupID, 0, len(m.groups[addr]))
	for id := range m.groups[addr] {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Hex() < ids[j].Hex() })
	return ids, nil
}
