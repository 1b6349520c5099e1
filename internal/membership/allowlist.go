package membership

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/lib/pq"

	"creddd/internal/group/models"
	"creddd/internal/platform/ethrpc"
)

// Allowlist reads curated members from group_allowlist. Entries carry the
// block they were added at so membership can be evaluated historically.
type Allowlist struct {
	db      *sql.DB
	groupID models.GroupID
	chain   ethrpc.Chain
}

// NewAllowlist is the Constructor for allowlist groups.
func NewAllowlist(group *models.Group, res Resources) (Source, error) {
	if res.DB == nil {
		return nil, errors.New("allowlist flavor needs a database")
	}
	chain := ethrpc.Mainnet
	if group.Token != nil && group.Token.Chain != "" {
		chain = group.Token.Chain
	}
	return &Allowlist{db: res.DB, groupID: group.ID, chain: chain}, nil
}

func (a *Allowlist) Chain() ethrpc.Chain {
	return a.chain
}

// IsReady is always true; the list has no upstream feed.
func (a *Allowlist) IsReady(context.Context) (bool, error) {
	return true, nil
}

func (a *Allowlist) Members(ctx context.Context, block uint64) (Set, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT address FROM group_allowlist
		WHERE group_id = $1 AND added_block <= $2
	`, a.groupID.Hex(), int64(block))
	if err != nil {
		return nil, fmt.Errorf("query allowlist: %w", err)
	}
	defer rows.Close()

	members := NewSet()
	for rows.Next() {
		var addr string
		if err := rows.Scan(&addr); err != nil {
			return nil, fmt.Errorf("scan allowlist: %w", err)
		}
		members.Add(common.HexToAddress(addr))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate allowlist: %w", err)
	}
	return members, nil
}

// SanityCheck confirms every sampled address is still listed.
func (a *Allowlist) SanityCheck(ctx context.Context, sample []common.Address, block uint64) (bool, error) {
	unique := NewSet(sample...)
	if unique.Len() == 0 {
		return true, nil
	}
	addrs := make([]string, 0, unique.Len())
	for _, addr := range unique.Slice() {
		addrs = append(addrs, hexAddress(addr))
	}

	var listed int
	err := a.db.QueryRowContext(ctx, `
		SELECT count(DISTINCT address) FROM group_allowlist
		WHERE group_id = $1 AND address = ANY($2) AND added_block <= $3
	`, a.groupID.Hex(), pq.Array(addrs), int64(block)).Scan(&listed)
	if err != nil {
		return false, fmt.Errorf("check allowlist sample: %w", err)
	}
	return listed == len(addrs), nil
}
