package models

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "creddd/pkg/domain-errors"
)

func TestParseGroupID(t *testing.T) {
	valid := strings.Repeat("ab", 32)

	t.Run("accepts bare and prefixed hex", func(t *testing.T) {
		a, err := ParseGroupID(valid)
		require.NoError(t, err)
		b, err := ParseGroupID("0x" + strings.ToUpper(valid))
		require.NoError(t, err)
		assert.Equal(t, a, b)
		assert.Equal(t, "0x"+valid, a.Hex())
	})

	t.Run("rejects wrong length", func(t *testing.T) {
		_, err := ParseGroupID("0xabcd")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects non hex", func(t *testing.T) {
		_, err := ParseGroupID(strings.Repeat("zz", 32))
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})
}

func TestGroupStateTransitions(t *testing.T) {
	assert.True(t, GroupStateActive.CanTransitionTo(GroupStateUnrecordable))
	assert.False(t, GroupStateUnrecordable.CanTransitionTo(GroupStateActive))
	assert.False(t, GroupStateUnrecordable.CanTransitionTo(GroupStateUnrecordable))
	assert.False(t, GroupStateActive.CanTransitionTo(GroupStateActive))

	g := &Group{State: GroupStateActive}
	now := time.Now()
	require.NoError(t, g.MarkUnrecordable(now))
	assert.Equal(t, GroupStateUnrecordable, g.State)
	assert.Equal(t, now, g.UpdatedAt)
	assert.False(t, g.IsActive())

	err := g.MarkUnrecordable(now)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))
}

func TestGroupType(t *testing.T) {
	assert.True(t, GroupTypeWhales.IsTokenBased())
	assert.True(t, GroupTypeAllHolders.IsTokenBased())
	assert.False(t, GroupTypeAllowlist.IsTokenBased())
}
