package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"creddd/internal/group/models"
	"creddd/internal/platform/ethrpc"
	"creddd/pkg/platform/sentinel"
)

// PostgresStore persists groups in PostgreSQL. Groups are registered out of
// band; this store only reads them and records lifecycle transitions.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed group store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const groupColumns = `id, display_name, group_type, state, chain, contract_address, balance_threshold::text, created_at, updated_at`

func (s *PostgresStore) FindByID(ctx context.Context, id models.GroupID) (*models.Group, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+groupColumns+` FROM groups WHERE id = $1`, id.Hex())
	g, err := scanGroup(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("group %s: %w", id, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find group: %w", err)
	}
	return g, nil
}

func (s *PostgresStore) ListByState(ctx context.Context, state models.GroupState) ([]*models.Group, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+groupColumns+` FROM groups WHERE state = $1 ORDER BY display_name`, string(state))
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	defer rows.Close()

	var groups []*models.Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate groups: %w", err)
	}
	return groups, nil
}

// UpdateState persists a lifecycle transition. Transitions out of the
// terminal state are rejected in SQL so a concurrent writer cannot revive a
// group.
func (s *PostgresStore) UpdateState(ctx context.Context, id models.GroupID, state models.GroupState) error {
	if !state.IsValid() {
		return fmt.Errorf("group state %q: %w", state, sentinel.ErrInvalidState)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE groups
		SET state = $2, updated_at = now()
		WHERE id = $1 AND (state = $2 OR state = 'active')
	`, id.Hex(), string(state))
	if err != nil {
		return fmt.Errorf("update group state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update group state: %w", err)
	}
	if n == 0 {
		if _, findErr := s.FindByID(ctx, id); findErr != nil {
			return findErr
		}
		return fmt.Errorf("group %s cannot move to %s: %w", id, state, sentinel.ErrInvalidState)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanGroup(row scanner) (*models.Group, error) {
	var (
		g                          models.Group
		idHex, groupType, state    string
		chain, contract, threshold sql.NullString
	)
	if err := row.Scan(&idHex, &g.Name, &groupType, &state, &chain, &contract, &threshold, &g.CreatedAt, &g.UpdatedAt); err != nil {
		return nil, err
	}
	id, err := models.ParseGroupID(idHex)
	if err != nil {
		return nil, err
	}
	g.ID = id
	g.Type = models.GroupType(groupType)
	g.State = models.GroupState(state)

	if contract.Valid {
		params := &models.TokenParams{
			Chain:     ethrpc.Mainnet,
			Contract:  common.HexToAddress(contract.String),
			Threshold: big.NewInt(1),
		}
		if chain.Valid {
			c, err := ethrpc.ParseChain(chain.String)
			if err != nil {
				return nil, err
			}
			params.Chain = c
		}
		if threshold.Valid {
			v, ok := new(big.Int).SetString(threshold.String, 10)
			if !ok {
				return nil, fmt.Errorf("invalid balance threshold %q", threshold.String)
			}
			params.Threshold = v
		}
		g.Token = params
	}
	return &g, nil
}
