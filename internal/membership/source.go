// Package membership defines the capability every group flavor implements so
// one sync engine can drive heterogeneous membership derivations.
package membership

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"

	"creddd/internal/platform/ethrpc"
)

// ErrInvalidBalance signals that a flavor detected a structural inconsistency
// in its own data that retrying cannot resolve. Engines treat it as fatal for
// the group.
var ErrInvalidBalance = errors.New("invalid balance")

//go:generate mockgen -source=source.go -destination=mocks/mocks.go -package=mocks Source

// Source derives a group's members from chain data.
type Source interface {
	// Chain is the network whose block heights Members and SanityCheck take.
	Chain() ethrpc.Chain

	// IsReady reports whether the underlying data feed has caught up.
	IsReady(ctx context.Context) (bool, error)

	// Members returns the member set as of block. Errors wrapping
	// ErrInvalidBalance are fatal; everything else is transient.
	Members(ctx context.Context, block uint64) (Set, error)

	// SanityCheck re-validates sample at block. An ineligible member is a
	// false result, not an error.
	SanityCheck(ctx context.Context, sample []common.Address, block uint64) (bool, error)
}
