package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	groupmodels "creddd/internal/group/models"
	"creddd/internal/tree/models"
	"creddd/pkg/platform/sentinel"
	txcontext "creddd/pkg/platform/tx"
)

// PostgresStore persists tree history in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed tree store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

const treeColumns = `id, group_id, merkle_root, block_number, created_at, updated_at`

// Latest returns the record with the highest block number for the group.
func (s *PostgresStore) Latest(ctx context.Context, groupID groupmodels.GroupID) (*models.TreeRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+treeColumns+` FROM merkle_trees
		WHERE group_id = $1
		ORDER BY block_number DESC
		LIMIT 1
	`, groupID.Hex())
	record, err := scanTree(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("latest tree for %s: %w", groupID, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find latest tree: %w", err)
	}
	return record, nil
}

// FindByRoot looks up the record committing root for the group.
func (s *PostgresStore) FindByRoot(ctx context.Context, groupID groupmodels.GroupID, root common.Hash) (*models.TreeRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+treeColumns+` FROM merkle_trees
		WHERE group_id = $1 AND merkle_root = $2
	`, groupID.Hex(), hexHash(root))
	record, err := scanTree(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("tree %s for %s: %w", root.Hex(), groupID, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find tree by root: %w", err)
	}
	return record, nil
}

// Save writes the record and its leaves in one transaction. A root that was
// committed earlier for the same group keeps its original row; its block
// number advances and record.ID is set to the existing id.
func (s *PostgresStore) Save(ctx context.Context, record *models.TreeRecord, leaves []common.Address) error {
	var id uuid.UUID
	err := txcontext.Run(ctx, s.db, func(ctx context.Context) error {
		err := s.execer(ctx).QueryRowContext(ctx, `
			INSERT INTO merkle_trees (id, group_id, merkle_root, block_number, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (group_id, merkle_root) DO UPDATE
			SET block_number = GREATEST(merkle_trees.block_number, EXCLUDED.block_number),
			    updated_at = EXCLUDED.updated_at
			RETURNING id
		`, record.ID, record.GroupID.Hex(), hexHash(record.Root), int64(record.BlockNumber), record.CreatedAt, record.UpdatedAt).Scan(&id)
		if err != nil {
			return fmt.Errorf("insert tree: %w", err)
		}
		return s.insertLeaves(ctx, id, leaves)
	})
	if err != nil {
		return fmt.Errorf("save tree: %w", err)
	}
	record.ID = id
	return nil
}

const leafBatchSize = 1000

func (s *PostgresStore) insertLeaves(ctx context.Context, treeID uuid.UUID, leaves []common.Address) error {
	for start := 0; start < len(leaves); start += leafBatchSize {
		end := min(start+leafBatchSize, len(leaves))
		values := make([]string, 0, end-start)
		args := make([]any, 0, 1+2*(end-start))
		args = append(args, treeID)
		for i := start; i < end; i++ {
			values = append(values, fmt.Sprintf("($1, $%d, $%d)", len(args)+1, len(args)+2))
			args = append(args, i, strings.ToLower(leaves[i].Hex()))
		}
		query := `INSERT INTO merkle_tree_leaves (tree_id, position, address) VALUES ` +
			strings.Join(values, ", ") + ` ON CONFLICT (tree_id, position) DO NOTHING`
		if _, err := s.execer(ctx).ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("insert tree leaves: %w", err)
		}
	}
	return nil
}

// AdvanceBlock moves the record's block number forward. Older blocks are
// ignored so the stored value never decreases.
func (s *PostgresStore) AdvanceBlock(ctx context.Context, treeID uuid.UUID, block uint64) error {
	_, err := s.execer(ctx).ExecContext(ctx, `
		UPDATE merkle_trees
		SET block_number = $2, updated_at = NOW()
		WHERE id = $1 AND block_number < $2
	`, treeID, int64(block))
	if err != nil {
		return fmt.Errorf("advance tree block: %w", err)
	}
	return nil
}

// Leaves returns the committed leaf addresses in tree order.
func (s *PostgresStore) Leaves(ctx context.Context, treeID uuid.UUID) ([]common.Address, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT address FROM merkle_tree_leaves
		WHERE tree_id = $1
		ORDER BY position
	`, treeID)
	if err != nil {
		return nil, fmt.Errorf("query tree leaves: %w", err)
	}
	defer rows.Close()

	var leaves []common.Address
	for rows.Next() {
		var addr string
		if err := rows.Scan(&addr); err != nil {
			return nil, fmt.Errorf("scan tree leaf: %w", err)
		}
		leaves = append(leaves, common.HexToAddress(addr))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tree leaves: %w", err)
	}
	return leaves, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTree(row scanner) (*models.TreeRecord, error) {
	var (
		record  models.TreeRecord
		groupID string
		root    string
		block   int64
	)
	if err := row.Scan(&record.ID, &groupID, &root, &block, &record.CreatedAt, &record.UpdatedAt); err != nil {
		return nil, err
	}
	id, err := groupmodels.ParseGroupID(groupID)
	if err != nil {
		return nil, fmt.Errorf("stored group id %q: %w", groupID, err)
	}
	record.GroupID = id
	record.Root = common.HexToHash(root)
	record.BlockNumber = uint64(block)
	return &record, nil
}

func hexHash(h common.Hash) string {
	return strings.ToLower(h.Hex())
}
