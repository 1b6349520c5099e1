package membership

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"creddd/internal/group/models"
	"creddd/internal/platform/ethrpc"
)

const erc20BalanceOfABI = `[{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"}]`

var erc20ABI = mustParseABI(erc20BalanceOfABI)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return parsed
}

// TokenHolders derives members from ERC-20 transfer logs indexed into
// Postgres by the log sync job: every address whose net balance at the block
// is at least the group's threshold.
type TokenHolders struct {
	db         *sql.DB
	rpc        ContractCaller
	params     models.TokenParams
	syncWindow time.Duration
	now        func() time.Time
}

// NewTokenHolders is the Constructor for whales and all_holders groups.
func NewTokenHolders(group *models.Group, res Resources) (Source, error) {
	if group.Token == nil {
		return nil, fmt.Errorf("group %s (%s) has no token parameters", group.Name, group.Type)
	}
	if res.DB == nil || res.RPC == nil {
		return nil, errors.New("token holders flavor needs a database and an rpc client")
	}
	params := *group.Token
	if params.Threshold == nil || params.Threshold.Sign() <= 0 {
		params.Threshold = big.NewInt(1)
	}
	window := res.SyncWindow
	if window <= 0 {
		window = 60 * time.Second
	}
	return &TokenHolders{
		db:         res.DB,
		rpc:        res.RPC,
		params:     params,
		syncWindow: window,
		now:        res.Now,
	}, nil
}

func (t *TokenHolders) Chain() ethrpc.Chain {
	return t.params.Chain
}

// IsReady reports whether the transfer log sync for the contract ran within
// the sync window.
func (t *TokenHolders) IsReady(ctx context.Context) (bool, error) {
	var updatedAt time.Time
	err := t.db.QueryRowContext(ctx, `
		SELECT updated_at FROM log_sync_info
		WHERE chain = $1 AND contract_address = $2
	`, t.params.Chain.String(), hexAddress(t.params.Contract)).Scan(&updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read log sync info: %w", err)
	}
	return t.now().Sub(updatedAt) <= t.syncWindow, nil
}

// Members sums transfers up to block. Mints come from the zero address, so
// its outflows are excluded; any other negative balance means the indexed
// logs are inconsistent.
func (t *TokenHolders) Members(ctx context.Context, block uint64) (Set, error) {
	rows, err := t.db.QueryContext(ctx, `
		SELECT address, SUM(delta)::text
		FROM (
			SELECT to_address AS address, value AS delta
			FROM transfer_events
			WHERE chain = $1 AND contract_address = $2 AND block_number <= $3
			UNION ALL
			SELECT from_address AS address, -value AS delta
			FROM transfer_events
			WHERE chain = $1 AND contract_address = $2 AND block_number <= $3
		) flows
		WHERE address <> $4
		GROUP BY address
	`, t.params.Chain.String(), hexAddress(t.params.Contract), int64(block), hexAddress(common.Address{}))
	if err != nil {
		return nil, fmt.Errorf("query balances: %w", err)
	}
	defer rows.Close()

	members := NewSet()
	for rows.Next() {
		var addr, raw string
		if err := rows.Scan(&addr, &raw); err != nil {
			return nil, fmt.Errorf("scan balance: %w", err)
		}
		balance, ok := new(big.Int).SetString(raw, 10)
		if !ok {
			return nil, fmt.Errorf("parse balance %q for %s", raw, addr)
		}
		if balance.Sign() < 0 {
			return nil, fmt.Errorf("%w: %s holds %s at block %d", ErrInvalidBalance, addr, balance, block)
		}
		if balance.Cmp(t.params.Threshold) >= 0 {
			members.Add(common.HexToAddress(addr))
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate balances: %w", err)
	}
	return members, nil
}

// SanityCheck asks the chain for each sampled holder's balance at block.
func (t *TokenHolders) SanityCheck(ctx context.Context, sample []common.Address, block uint64) (bool, error) {
	at := new(big.Int).SetUint64(block)
	for _, addr := range sample {
		balance, err := t.balanceOf(ctx, addr, at)
		if err != nil {
			return false, err
		}
		if balance.Cmp(t.params.Threshold) < 0 {
			return false, nil
		}
	}
	return true, nil
}

func (t *TokenHolders) balanceOf(ctx context.Context, owner common.Address, block *big.Int) (*big.Int, error) {
	data, err := erc20ABI.Pack("balanceOf", owner)
	if err != nil {
		return nil, fmt.Errorf("pack balanceOf: %w", err)
	}
	contract := t.params.Contract
	out, err := t.rpc.CallContract(ctx, t.params.Chain, ethereum.CallMsg{To: &contract, Data: data}, block)
	if err != nil {
		return nil, err
	}
	values, err := erc20ABI.Unpack("balanceOf", out)
	if err != nil {
		return nil, fmt.Errorf("unpack balanceOf: %w", err)
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("balanceOf returned %d values", len(values))
	}
	balance, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("balanceOf returned %T", values[0])
	}
	return balance, nil
}

func hexAddress(a common.Address) string {
	return strings.ToLower(a.Hex())
}
