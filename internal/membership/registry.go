package membership

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"

	"creddd/internal/group/models"
	"creddd/internal/platform/ethrpc"
)

// ErrUnknownGroupType is returned by Registry.New for unregistered types.
var ErrUnknownGroupType = errors.New("unknown group type")

// ContractCaller executes read-only contract calls. *ethrpc.Client satisfies it.
type ContractCaller interface {
	CallContract(ctx context.Context, chain ethrpc.Chain, msg ethereum.CallMsg, block *big.Int) ([]byte, error)
}

// Resources are the shared handles flavors are built from.
type Resources struct {
	DB         *sql.DB
	RPC        ContractCaller
	SyncWindow time.Duration
	Now        func() time.Time
}

// Constructor builds a Source for one group.
type Constructor func(group *models.Group, res Resources) (Source, error)

// Registry maps group types to flavor constructors. Adding a flavor means
// registering a constructor; the engine never switches on type.
type Registry struct {
	constructors map[models.GroupType]Constructor
}

func NewRegistry() *Registry {
	return &Registry{constructors: make(map[models.GroupType]Constructor)}
}

// DefaultRegistry registers every built-in flavor.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(models.GroupTypeWhales, NewTokenHolders)
	r.Register(models.GroupTypeAllHolders, NewTokenHolders)
	r.Register(models.GroupTypeAllowlist, NewAllowlist)
	return r
}

func (r *Registry) Register(t models.GroupType, c Constructor) {
	r.constructors[t] = c
}

// New builds the Source for group.
func (r *Registry) New(group *models.Group, res Resources) (Source, error) {
	c, ok := r.constructors[group.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownGroupType, group.Type)
	}
	if res.Now == nil {
		res.Now = time.Now
	}
	return c(group, res)
}
