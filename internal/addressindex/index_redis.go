// Package addressindex maintains the reverse membership index: for every
// address, the set of groups whose trees have contained it. Entries are only
// ever added.
package addressindex

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	"creddd/internal/group/models"
	"creddd/internal/platform/metrics"
)

const (
	// Redis key prefix for an address's group set
	addressGroupsKeyPrefix = "addr_groups:"

	pipelineBatchSize = 5000
)

// RedisIndex stores each address's groups as a Redis SET. SADD is an atomic
// add per key, so concurrent upserts for different groups never lose updates.
type RedisIndex struct {
	client  *redis.Client
	metrics *metrics.Metrics
}

// RedisIndexOption configures a RedisIndex instance.
type RedisIndexOption func(*RedisIndex)

func WithMetrics(m *metrics.Metrics) RedisIndexOption {
	return func(r *RedisIndex) {
		r.metrics = m
	}
}

// NewRedis constructs a Redis-backed address index.
func NewRedis(client *redis.Client, opts ...RedisIndexOption) *RedisIndex {
	idx := &RedisIndex{client: client}
	for _, opt := range opts {
		if opt != nil {
			opt(idx)
		}
	}
	return idx
}

func addressKey(addr common.Address) string {
	return addressGroupsKeyPrefix + strings.ToLower(addr.Hex())
}

// Upsert adds groupID to the set of every address. Addresses are sent in
// pipelined batches.
func (r *RedisIndex) Upsert(ctx context.Context, groupID models.GroupID, addresses ...common.Address) error {
	if len(addresses) == 0 {
		return nil
	}
	start := time.Now()
	defer func() {
		r.metrics.ObserveIndexUpsert(time.Since(start))
	}()

	member := groupID.Hex()
	for from := 0; from < len(addresses); from += pipelineBatchSize {
		to := min(from+pipelineBatchSize, len(addresses))
		pipe := r.client.Pipeline()
		for _, addr := range addresses[from:to] {
			pipe.SAdd(ctx, addressKey(addr), member)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("upsert address groups: %w", err)
		}
	}
	return nil
}

// Groups returns the groups recorded for addr, sorted by hex id.
func (r *RedisIndex) Groups(ctx context.Context, addr common.Address) ([]models.GroupID, error) {
	raw, err := r.client.SMembers(ctx, addressKey(addr)).Result()
	if err != nil {
		return nil, fmt.Errorf("read address groups: %w", err)
	}
	sort.Strings(raw)
	groups := make([]models.GroupID, 0, len(raw))
	for _, s := range raw {
		id, err := models.ParseGroupID(s)
		if err != nil {
			return nil, fmt.Errorf("stored group id %q: %w", s, err)
		}
		groups = append(groups, id)
	}
	return groups, nil
}
