// Package ethrpc holds one go-ethereum client per configured chain and
// exposes the few calls the sync engine and the token flavors need.
package ethrpc

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Chain names an EVM network whose block height space a group depends on.
type Chain string

const (
	Mainnet  Chain = "mainnet"
	Base     Chain = "base"
	Optimism Chain = "optimism"
	Arbitrum Chain = "arbitrum"
)

// ParseChain validates a chain name.
func ParseChain(s string) (Chain, error) {
	c := Chain(strings.ToLower(strings.TrimSpace(s)))
	switch c {
	case Mainnet, Base, Optimism, Arbitrum:
		return c, nil
	default:
		return "", fmt.Errorf("unknown chain %q", s)
	}
}

func (c Chain) String() string {
	return string(c)
}

// backend is the subset of *ethclient.Client used here.
type backend interface {
	BlockNumber(ctx context.Context) (uint64, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	Close()
}

// Client is safe for concurrent use; go-ethereum clients are.
type Client struct {
	backends map[Chain]backend
}

// Dial connects to every endpoint. Keys must be valid chain names.
func Dial(ctx context.Context, endpoints map[string]string) (*Client, error) {
	c := &Client{backends: make(map[Chain]backend, len(endpoints))}
	for name, url := range endpoints {
		chain, err := ParseChain(name)
		if err != nil {
			c.Close()
			return nil, err
		}
		ec, err := ethclient.DialContext(ctx, url)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("dial %s rpc: %w", chain, err)
		}
		c.backends[chain] = ec
	}
	return c, nil
}

func (c *Client) backend(chain Chain) (backend, error) {
	b, ok := c.backends[chain]
	if !ok {
		return nil, fmt.Errorf("no rpc endpoint configured for chain %s", chain)
	}
	return b, nil
}

// BlockNumber returns the latest block height of chain.
func (c *Client) BlockNumber(ctx context.Context, chain Chain) (uint64, error) {
	b, err := c.backend(chain)
	if err != nil {
		return 0, err
	}
	n, err := b.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("%s block number: %w", chain, err)
	}
	return n, nil
}

// CallContract executes a read-only call at the given block.
func (c *Client) CallContract(ctx context.Context, chain Chain, msg ethereum.CallMsg, block *big.Int) ([]byte, error) {
	b, err := c.backend(chain)
	if err != nil {
		return nil, err
	}
	out, err := b.CallContract(ctx, msg, block)
	if err != nil {
		return nil, fmt.Errorf("%s eth_call: %w", chain, err)
	}
	return out, nil
}

// Chains lists the configured chains in name order.
func (c *Client) Chains() []Chain {
	chains := make([]Chain, 0, len(c.backends))
	for chain := range c.backends {
		chains = append(chains, chain)
	}
	sort.Slice(chains, func(i, j int) bool { return chains[i] < chains[j] })
	return chains
}

// Close releases every underlying connection.
func (c *Client) Close() {
	for _, b := range c.backends {
		b.Close()
	}
}
