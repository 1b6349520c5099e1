package models

import (
	"encoding/hex"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"creddd/internal/platform/ethrpc"
	dErrors "creddd/pkg/domain-errors"
)

// GroupIDLength is the fixed byte length of a group identifier.
const GroupIDLength = 32

// GroupID identifies a group. Externally it is 0x-prefixed lowercase hex.
type GroupID [GroupIDLength]byte

// ParseGroupID accepts 64 hex characters with or without a 0x prefix.
func ParseGroupID(s string) (GroupID, error) {
	var id GroupID
	raw := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	if len(raw) != 2*GroupIDLength {
		return id, dErrors.New(dErrors.CodeInvalidInput, "group id must be 32 bytes of hex")
	}
	b, err := hex.DecodeString(raw)
	if err != nil {
		return id, dErrors.Wrap(err, dErrors.CodeInvalidInput, "group id is not valid hex")
	}
	copy(id[:], b)
	return id, nil
}

// MustParseGroupID panics on malformed input. Intended for tests and fixtures.
func MustParseGroupID(s string) GroupID {
	id, err := ParseGroupID(s)
	if err != nil {
		panic(err)
	}
	return id
}

func (id GroupID) Hex() string {
	return "0x" + hex.EncodeToString(id[:])
}

func (id GroupID) String() string {
	return id.Hex()
}

func (id GroupID) Bytes() []byte {
	return id[:]
}

func (id GroupID) IsZero() bool {
	return id == GroupID{}
}

// GroupType selects the membership flavor and the tree leaf encoding.
type GroupType string

const (
	GroupTypeWhales     GroupType = "whales"
	GroupTypeAllHolders GroupType = "all_holders"
	GroupTypeAllowlist  GroupType = "allowlist"
)

// IsTokenBased reports whether membership derives from ERC-20 balances.
func (t GroupType) IsTokenBased() bool {
	return t == GroupTypeWhales || t == GroupTypeAllHolders
}

// GroupState is the persisted lifecycle state.
type GroupState string

const (
	GroupStateActive       GroupState = "active"
	GroupStateUnrecordable GroupState = "unrecordable"
)

// CanTransitionTo allows only active → unrecordable. Unrecordable is terminal.
func (s GroupState) CanTransitionTo(next GroupState) bool {
	return s == GroupStateActive && next == GroupStateUnrecordable
}

func (s GroupState) IsValid() bool {
	return s == GroupStateActive || s == GroupStateUnrecordable
}

// TokenParams configures token-holder flavors.
type TokenParams struct {
	Chain     ethrpc.Chain
	Contract  common.Address
	Threshold *big.Int
}

// Group is a named, typed collection of addresses whose membership is derived
// and re-verified by a sync engine.
//
// Invariants:
//   - ID is 32 bytes and never changes
//   - State moves at most once, from active to unrecordable
//   - Token is set for token-based types
type Group struct {
	ID        GroupID
	Name      string
	Type      GroupType
	State     GroupState
	Token     *TokenParams
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (g *Group) IsActive() bool {
	return g.State == GroupStateActive
}

// MarkUnrecordable applies the terminal transition.
func (g *Group) MarkUnrecordable(now time.Time) error {
	if !g.State.CanTransitionTo(GroupStateUnrecordable) {
		return dErrors.New(dErrors.CodeInvariantViolation, "group is already unrecordable")
	}
	g.State = GroupStateUnrecordable
	g.UpdatedAt = now
	return nil
}
