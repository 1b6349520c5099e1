package membership

import (
	"context"
	"database/sql"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"creddd/internal/group/models"
	"creddd/internal/platform/ethrpc"
)

var (
	holderA = common.HexToAddress("0x1000000000000000000000000000000000000001")
	holderB = common.HexToAddress("0x2000000000000000000000000000000000000002")
	token   = common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")
)

// balanceCaller answers balanceOf from a fixed table.
type balanceCaller struct {
	balances map[common.Address]*big.Int
	err      error
	calls    int
	lastTo   common.Address
	lastAt   *big.Int
}

func (c *balanceCaller) CallContract(_ context.Context, _ ethrpc.Chain, msg ethereum.CallMsg, block *big.Int) ([]byte, error) {
	c.calls++
	c.lastTo = *msg.To
	c.lastAt = block
	if c.err != nil {
		return nil, c.err
	}
	args, err := erc20ABI.Methods["balanceOf"].Inputs.Unpack(msg.Data[4:])
	if err != nil {
		return nil, err
	}
	owner := args[0].(common.Address)
	balance, ok := c.balances[owner]
	if !ok {
		balance = big.NewInt(0)
	}
	return erc20ABI.Methods["balanceOf"].Outputs.Pack(balance)
}

func TestSet(t *testing.T) {
	s := NewSet(holderB, holderA, holderB)
	assert.Equal(t, 2, s.Len())
	assert.True(t, s.Contains(holderA))
	assert.Equal(t, []common.Address{holderA, holderB}, s.Slice())

	s.Add(common.Address{})
	assert.Equal(t, common.Address{}, s.Slice()[0])
}

func TestRegistry(t *testing.T) {
	res := Resources{DB: &sql.DB{}, RPC: &balanceCaller{}}

	t.Run("builds registered flavors", func(t *testing.T) {
		r := DefaultRegistry()
		src, err := r.New(&models.Group{
			Type:  models.GroupTypeWhales,
			Token: &models.TokenParams{Chain: ethrpc.Base, Contract: token},
		}, res)
		require.NoError(t, err)
		assert.Equal(t, ethrpc.Base, src.Chain())

		src, err = r.New(&models.Group{Type: models.GroupTypeAllowlist}, res)
		require.NoError(t, err)
		assert.Equal(t, ethrpc.Mainnet, src.Chain())
	})

	t.Run("unknown type", func(t *testing.T) {
		_, err := DefaultRegistry().New(&models.Group{Type: "ticker"}, res)
		assert.ErrorIs(t, err, ErrUnknownGroupType)
	})

	t.Run("token flavor requires parameters", func(t *testing.T) {
		_, err := DefaultRegistry().New(&models.Group{Type: models.GroupTypeAllHolders}, res)
		assert.Error(t, err)
	})

	t.Run("custom flavor", func(t *testing.T) {
		r := NewRegistry()
		var built bool
		r.Register("ticker", func(*models.Group, Resources) (Source, error) {
			built = true
			return &Allowlist{chain: ethrpc.Optimism}, nil
		})
		_, err := r.New(&models.Group{Type: "ticker"}, res)
		require.NoError(t, err)
		assert.True(t, built)
	})
}

func TestTokenHolders_SanityCheck(t *testing.T) {
	caller := &balanceCaller{balances: map[common.Address]*big.Int{
		holderA: big.NewInt(5_000),
		holderB: big.NewInt(10),
	}}
	src := &TokenHolders{
		rpc:    caller,
		params: models.TokenParams{Chain: ethrpc.Mainnet, Contract: token, Threshold: big.NewInt(1_000)},
	}
	ctx := context.Background()

	t.Run("all above threshold", func(t *testing.T) {
		ok, err := src.SanityCheck(ctx, []common.Address{holderA}, 19_000_000)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, token, caller.lastTo)
		assert.Equal(t, int64(19_000_000), caller.lastAt.Int64())
	})

	t.Run("one below threshold is a false result", func(t *testing.T) {
		ok, err := src.SanityCheck(ctx, []common.Address{holderA, holderB}, 19_000_000)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("rpc failure is an error", func(t *testing.T) {
		failing := &TokenHolders{rpc: &balanceCaller{err: errors.New("timeout")}, params: src.params}
		_, err := failing.SanityCheck(ctx, []common.Address{holderA}, 1)
		assert.Error(t, err)
	})

	t.Run("empty sample passes", func(t *testing.T) {
		ok, err := src.SanityCheck(ctx, nil, 1)
		require.NoError(t, err)
		assert.True(t, ok)
	})
}
