package models

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	groupmodels "creddd/internal/group/models"
)

// TreeRecord is one committed Merkle root for a group. The root never
// changes after commit; BlockNumber is the highest block at which the root
// was observed to be canonical and only moves forward.
type TreeRecord struct {
	ID          uuid.UUID
	GroupID     groupmodels.GroupID
	Root        common.Hash
	BlockNumber uint64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NewTreeRecord creates a record for a freshly built root.
func NewTreeRecord(groupID groupmodels.GroupID, root common.Hash, block uint64, now time.Time) *TreeRecord {
	return &TreeRecord{
		ID:          uuid.New(),
		GroupID:     groupID,
		Root:        root,
		BlockNumber: block,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}
