package syncer

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	groupmodels "creddd/internal/group/models"
	"creddd/internal/platform/ethrpc"
	"creddd/internal/platform/events"
	"creddd/internal/platform/metrics"
	"creddd/internal/tree/models"
)

// ChainHead reports the latest block of a chain.
type ChainHead interface {
	BlockNumber(ctx context.Context, chain ethrpc.Chain) (uint64, error)
}

// TreeStore is the tree history the engine compares against and commits to.
type TreeStore interface {
	Latest(ctx context.Context, groupID groupmodels.GroupID) (*models.TreeRecord, error)
	Save(ctx context.Context, record *models.TreeRecord, leaves []common.Address) error
	AdvanceBlock(ctx context.Context, treeID uuid.UUID, block uint64) error
}

// AddressIndex records which groups an address has belonged to.
type AddressIndex interface {
	Upsert(ctx context.Context, groupID groupmodels.GroupID, addresses ...common.Address) error
}

// GroupStateStore persists lifecycle transitions.
type GroupStateStore interface {
	UpdateState(ctx context.Context, id groupmodels.GroupID, state groupmodels.GroupState) error
}

// Gate bounds how many engines run a cycle at once. *gate.Gate satisfies it.
type Gate interface {
	Acquire(ctx context.Context) error
	Release()
}

// Resources are the process-wide handles shared by reference across every
// engine. All fields except Publisher and Metrics are required.
type Resources struct {
	Heads     ChainHead
	Trees     TreeStore
	Index     AddressIndex
	Groups    GroupStateStore
	Gate      Gate
	Publisher events.Publisher
	Metrics   *metrics.Metrics
}

func (r Resources) publisher() events.Publisher {
	if r.Publisher == nil {
		return events.Nop{}
	}
	return r.Publisher
}
