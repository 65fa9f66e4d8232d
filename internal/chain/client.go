// Package chain wraps the Ethereum JSON-RPC client: head subscriptions, log
// queries, transaction submission and eth_call with state overrides.
package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/ethclient/gethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

// AccountOverride replaces parts of an account for the duration of one
// simulated call.
type AccountOverride struct {
	Code    []byte
	Balance *big.Int
}

// Client bundles the standard and geth-specific RPC clients over a single
// connection. It is safe for concurrent use and is shared by every component
// that talks to the chain.
type Client struct {
	*ethclient.Client
	geth *gethclient.Client
	rpc  *rpc.Client
}

// Dial connects to a node. A websocket or IPC endpoint is required for head
// subscriptions.
func Dial(ctx context.Context, url string) (*Client, error) {
	rc, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("chain: dial %s: %w", url, err)
	}
	return &Client{
		Client: ethclient.NewClient(rc),
		geth:   gethclient.New(rc),
		rpc:    rc,
	}, nil
}

// CallContractWithOverrides executes eth_call with the given per-account state
// overrides applied.
func (c *Client) CallContractWithOverrides(ctx context.Context, msg ethereum.CallMsg, block *big.Int, overrides map[common.Address]AccountOverride) ([]byte, error) {
	if len(overrides) == 0 {
		return c.Client.CallContract(ctx, msg, block)
	}
	geth := make(map[common.Address]gethclient.OverrideAccount, len(overrides))
	for addr, o := range overrides {
		geth[addr] = gethclient.OverrideAccount{
			Code:    o.Code,
			Balance: o.Balance,
		}
	}
	return c.geth.CallContract(ctx, msg, block, &geth)
}

// Close closes the underlying connection.
func (c *Client) Close() {
	c.rpc.Close()
}
