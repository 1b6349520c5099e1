//go:build integration

package syncer_test

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"

	"creddd/internal/addressindex"
	"creddd/internal/group/models"
	groupstore "creddd/internal/group/store"
	"creddd/internal/membership"
	"creddd/internal/platform/ethrpc"
	"creddd/internal/platform/gate"
	"creddd/internal/platform/logger"
	"creddd/internal/platform/metrics"
	"creddd/internal/syncer"
	treestore "creddd/internal/tree/store"
	"creddd/pkg/testutil/containers"
)

type staticHead uint64

func (h staticHead) BlockNumber(context.Context, ethrpc.Chain) (uint64, error) {
	return uint64(h), nil
}

type EngineIntegrationSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	redis    *containers.RedisContainer
	groupID  models.GroupID
}

func TestEngineIntegrationSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(EngineIntegrationSuite))
}

func (s *EngineIntegrationSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.redis = mgr.GetRedis(s.T())
	s.groupID = models.MustParseGroupID(fmt.Sprintf("%064x", 0xa11))
}

func (s *EngineIntegrationSuite) SetupTest() {
	ctx := context.Background()
	s.Require().NoError(s.postgres.TruncateTables(ctx, "merkle_tree_leaves", "merkle_trees", "group_allowlist", "groups"))
	s.Require().NoError(s.redis.FlushAll(ctx))

	_, err := s.postgres.DB.ExecContext(ctx, `
		INSERT INTO groups (id, display_name, group_type) VALUES ($1, 'Early users', 'allowlist')
	`, s.groupID.Hex())
	s.Require().NoError(err)
}

func (s *EngineIntegrationSuite) allow(block int64, addrs ...common.Address) {
	for _, a := range addrs {
		_, err := s.postgres.DB.ExecContext(context.Background(), `
			INSERT INTO group_allowlist (group_id, address, added_block) VALUES ($1, $2, $3)
		`, s.groupID.Hex(), strings.ToLower(a.Hex()), block)
		s.Require().NoError(err)
	}
}

func (s *EngineIntegrationSuite) engine(index *addressindex.RedisIndex) *syncer.Engine {
	groups := groupstore.NewPostgres(s.postgres.DB)
	group, err := groups.FindByID(context.Background(), s.groupID)
	s.Require().NoError(err)

	source, err := membership.DefaultRegistry().New(group, membership.Resources{DB: s.postgres.DB})
	s.Require().NoError(err)

	return syncer.New(group, source, syncer.Resources{
		Heads:  staticHead(0),
		Trees:  treestore.NewPostgres(s.postgres.DB),
		Index:  index,
		Groups: groups,
		Gate:   gate.New(1),
	}, syncer.WithLogger(logger.Discard()), syncer.WithClock(time.Now))
}

func (s *EngineIntegrationSuite) TestCommitAdvanceAndAdditiveIndex() {
	ctx := context.Background()
	a := common.HexToAddress("0xa000000000000000000000000000000000000001")
	b := common.HexToAddress("0xb000000000000000000000000000000000000002")
	c := common.HexToAddress("0xc000000000000000000000000000000000000003")
	s.allow(1, a, b, c)

	index := addressindex.NewRedis(s.redis.Client, addressindex.WithMetrics(metrics.NewWithRegistry(prometheus.NewRegistry())))
	e := s.engine(index)
	trees := treestore.NewPostgres(s.postgres.DB)

	outcome, err := e.SyncToBlock(ctx, 100)
	s.Require().NoError(err)
	s.Equal(syncer.OutcomeCommitted, outcome)
	first, err := trees.Latest(ctx, s.groupID)
	s.Require().NoError(err)

	outcome, err = e.SyncToBlock(ctx, 200)
	s.Require().NoError(err)
	s.Equal(syncer.OutcomeUnchanged, outcome)
	latest, err := trees.Latest(ctx, s.groupID)
	s.Require().NoError(err)
	s.Equal(first.ID, latest.ID)
	s.Equal(uint64(200), latest.BlockNumber)

	_, err = s.postgres.DB.ExecContext(ctx, `DELETE FROM group_allowlist WHERE address = $1`, strings.ToLower(c.Hex()))
	s.Require().NoError(err)

	outcome, err = e.SyncToBlock(ctx, 300)
	s.Require().NoError(err)
	s.Equal(syncer.OutcomeCommitted, outcome)
	latest, err = trees.Latest(ctx, s.groupID)
	s.Require().NoError(err)
	s.NotEqual(first.ID, latest.ID)
	s.Equal(uint64(300), latest.BlockNumber)

	leaves, err := trees.Leaves(ctx, latest.ID)
	s.Require().NoError(err)
	s.Equal([]common.Address{a, b}, leaves)

	groups, err := index.Groups(ctx, c)
	s.Require().NoError(err)
	s.Equal([]models.GroupID{s.groupID}, groups)
}
