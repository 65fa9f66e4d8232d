package strategy

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/nftarb/internal/chain"
	"github.com/alanyoungcy/nftarb/internal/contracts"
)

const defaultQuoteChunk = 200

// Quoter batches sell quotes through a quoter contract that only exists as a
// state override. One simulated call is made per chunk of pools.
type Quoter struct {
	caller  *chain.OverrideCaller
	codec   *contracts.Codec
	address common.Address
	chunk   int
}

// NewQuoter installs bytecode on caller and returns a quoter calling it.
func NewQuoter(caller *chain.OverrideCaller, codec *contracts.Codec, bytecode []byte, chunk int) *Quoter {
	if chunk <= 0 {
		chunk = defaultQuoteChunk
	}
	return &Quoter{
		caller:  caller,
		codec:   codec,
		address: caller.Install(bytecode),
		chunk:   chunk,
	}
}

// Address is where the quoter bytecode is installed.
func (q *Quoter) Address() common.Address { return q.address }

// Each quotes pools chunk by chunk at block (nil means latest) and hands
// every chunk with its quotes to fn, in order. It stops at the first error.
func (q *Quoter) Each(ctx context.Context, pools []common.Address, block *big.Int, fn func([]common.Address, []contracts.SellQuote) error) error {
	for start := 0; start < len(pools); start += q.chunk {
		end := min(start+q.chunk, len(pools))
		batch := pools[start:end]

		data, err := q.codec.PackSellQuotes(batch)
		if err != nil {
			return err
		}
		out, err := q.caller.Call(ctx, q.address, data, block)
		if err != nil {
			return fmt.Errorf("strategy: quote pools [%d, %d): %w", start, end, err)
		}
		quotes, err := q.codec.UnpackSellQuotes(out)
		if err != nil {
			return err
		}
		if len(quotes) != len(batch) {
			return fmt.Errorf("strategy: quoter returned %d quotes for %d pools", len(quotes), len(batch))
		}
		if err := fn(batch, quotes); err != nil {
			return err
		}
	}
	return nil
}

// Quotes returns one quote per pool, in request order.
func (q *Quoter) Quotes(ctx context.Context, pools []common.Address, block *big.Int) ([]contracts.SellQuote, error) {
	out := make([]contracts.SellQuote, 0, len(pools))
	err := q.Each(ctx, pools, block, func(_ []common.Address, quotes []contracts.SellQuote) error {
		out = append(out, quotes...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
