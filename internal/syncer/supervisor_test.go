package syncer

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"creddd/internal/addressindex"
	groupmodels "creddd/internal/group/models"
	groupstore "creddd/internal/group/store"
	"creddd/internal/membership"
	"creddd/internal/membership/mocks"
	"creddd/internal/platform/config"
	"creddd/internal/platform/ethrpc"
	"creddd/internal/platform/gate"
	"creddd/internal/platform/logger"
	treestore "creddd/internal/tree/store"
)

func gid(n int) groupmodels.GroupID {
	return groupmodels.MustParseGroupID(fmt.Sprintf("%064x", n))
}

type failingLister struct{}

func (failingLister) ListByState(context.Context, groupmodels.GroupState) ([]*groupmodels.Group, error) {
	return nil, errors.New("db down")
}

func TestSupervisor_Engines(t *testing.T) {
	ctrl := gomock.NewController(t)
	groups := groupstore.NewInMemory(
		&groupmodels.Group{ID: gid(1), Name: "a", Type: groupmodels.GroupTypeAllowlist, State: groupmodels.GroupStateActive},
		&groupmodels.Group{ID: gid(2), Name: "b", Type: "ticker", State: groupmodels.GroupStateActive},
		&groupmodels.Group{ID: gid(3), Name: "c", Type: groupmodels.GroupTypeAllowlist, State: groupmodels.GroupStateUnrecordable},
	)

	registry := membership.NewRegistry()
	var built []string
	registry.Register(groupmodels.GroupTypeAllowlist, func(g *groupmodels.Group, _ membership.Resources) (membership.Source, error) {
		built = append(built, g.Name)
		return mocks.NewMockSource(ctrl), nil
	})

	sup := NewSupervisor(groups, registry, membership.Resources{}, Resources{},
		WithSupervisorLogger(logger.Discard()),
	)
	engines, err := sup.Engines(context.Background())
	require.NoError(t, err)
	assert.Len(t, engines, 1)
	assert.Equal(t, []string{"a"}, built)

	_, err = NewSupervisor(failingLister{}, registry, membership.Resources{}, Resources{}).Engines(context.Background())
	assert.Error(t, err)
}

func TestSupervisor_RunStopsWithContext(t *testing.T) {
	ctrl := gomock.NewController(t)
	groups := groupstore.NewInMemory(
		&groupmodels.Group{ID: gid(1), Name: "a", Type: groupmodels.GroupTypeAllowlist, State: groupmodels.GroupStateActive},
		&groupmodels.Group{ID: gid(2), Name: "b", Type: groupmodels.GroupTypeAllowlist, State: groupmodels.GroupStateActive},
	)
	registry := membership.NewRegistry()
	registry.Register(groupmodels.GroupTypeAllowlist, func(*groupmodels.Group, membership.Resources) (membership.Source, error) {
		src := mocks.NewMockSource(ctrl)
		src.EXPECT().Chain().Return(ethrpc.Mainnet).AnyTimes()
		src.EXPECT().IsReady(gomock.Any()).Return(false, nil).AnyTimes()
		return src, nil
	})

	cadence := config.DefaultSync()
	cadence.Interval = 10 * time.Millisecond
	sup := NewSupervisor(groups, registry, membership.Resources{}, Resources{
		Heads:  &fakeHeads{},
		Trees:  treestore.NewInMemory(),
		Index:  addressindex.NewInMemory(),
		Groups: groups,
		Gate:   gate.New(1),
	},
		WithSupervisorLogger(logger.Discard()),
		WithEngineOptions(WithSyncConfig(cadence)),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	assert.NoError(t, sup.Run(ctx))
}
