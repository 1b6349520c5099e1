package tx

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWithTx(t *testing.T) {
	t.Run("nil tx leaves context untouched", func(t *testing.T) {
		ctx := context.Background()
		assert.Equal(t, ctx, WithTx(ctx, nil))

		_, ok := From(ctx)
		assert.False(t, ok)
	})

	t.Run("round trips the transaction", func(t *testing.T) {
		tx := &sql.Tx{}
		got, ok := From(WithTx(context.Background(), tx))
		assert.True(t, ok)
		assert.Same(t, tx, got)
	})
}

func TestRunJoinsExistingTransaction(t *testing.T) {
	ctx := WithTx(context.Background(), &sql.Tx{})

	called := false
	err := Run(ctx, nil, func(inner context.Context) error {
		called = true
		_, ok := From(inner)
		assert.True(t, ok)
		return nil
	})

	assert.NoError(t, err)
	assert.True(t, called)
}
