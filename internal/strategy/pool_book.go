package strategy

import (
	"bytes"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/nftarb/internal/contracts"
)

// PoolBook mirrors the bids of every known sudoswap pool, grouped by the
// collection the pool trades. Every pool in a collection set has a bid and
// every bid belongs to exactly one collection set; empty sets are removed.
//
// PoolBook is not safe for concurrent use. It is owned by the strategy task.
type PoolBook struct {
	pools map[common.Address]map[common.Address]struct{}
	bids  map[common.Address]*big.Int
	owner map[common.Address]common.Address
}

// NewPoolBook returns an empty book.
func NewPoolBook() *PoolBook {
	return &PoolBook{
		pools: make(map[common.Address]map[common.Address]struct{}),
		bids:  make(map[common.Address]*big.Int),
		owner: make(map[common.Address]common.Address),
	}
}

// Apply records fresh quotes for pools. An available quote inserts or
// updates the pool under the quote's collection; an unavailable one removes
// the pool entirely.
func (b *PoolBook) Apply(pools []common.Address, quotes []contracts.SellQuote) error {
	if len(pools) != len(quotes) {
		return fmt.Errorf("strategy: apply %d quotes to %d pools", len(quotes), len(pools))
	}
	for i, pool := range pools {
		q := quotes[i]
		if !q.QuoteAvailable {
			b.remove(pool)
			continue
		}
		if prev, ok := b.owner[pool]; ok && prev != q.NftAddress {
			b.remove(pool)
		}
		set, ok := b.pools[q.NftAddress]
		if !ok {
			set = make(map[common.Address]struct{})
			b.pools[q.NftAddress] = set
		}
		set[pool] = struct{}{}
		b.owner[pool] = q.NftAddress
		price := q.Price
		if price == nil {
			price = new(big.Int)
		}
		b.bids[pool] = new(big.Int).Set(price)
	}
	return nil
}

func (b *PoolBook) remove(pool common.Address) {
	collection, ok := b.owner[pool]
	if !ok {
		return
	}
	delete(b.owner, pool)
	delete(b.bids, pool)
	set := b.pools[collection]
	delete(set, pool)
	if len(set) == 0 {
		delete(b.pools, collection)
	}
}

// BestBid returns the pool paying the most for an NFT of collection. Equal
// bids resolve to the lowest pool address.
func (b *PoolBook) BestBid(collection common.Address) (common.Address, *big.Int, bool) {
	var (
		best    common.Address
		bestBid *big.Int
	)
	for pool := range b.pools[collection] {
		bid := b.bids[pool]
		switch {
		case bestBid == nil:
		case bid.Cmp(bestBid) > 0:
		case bid.Cmp(bestBid) == 0 && bytes.Compare(pool[:], best[:]) < 0:
		default:
			continue
		}
		best, bestBid = pool, bid
	}
	if bestBid == nil {
		return common.Address{}, nil, false
	}
	return best, new(big.Int).Set(bestBid), true
}

// Bid returns the recorded bid for pool.
func (b *PoolBook) Bid(pool common.Address) (*big.Int, bool) {
	bid, ok := b.bids[pool]
	if !ok {
		return nil, false
	}
	return new(big.Int).Set(bid), true
}

// Pools returns every pool with a bid, sorted by address.
func (b *PoolBook) Pools() []common.Address {
	out := make([]common.Address, 0, len(b.bids))
	for pool := range b.bids {
		out = append(out, pool)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out
}

// PoolCount is the number of pools with a bid.
func (b *PoolBook) PoolCount() int { return len(b.bids) }

// CollectionCount is the number of collections with at least one pool.
func (b *PoolBook) CollectionCount() int { return len(b.pools) }

// CollectionBid is the best bid for one collection.
type CollectionBid struct {
	Collection common.Address
	Pool       common.Address
	Bid        *big.Int
	Pools      int
}

// TopBids returns up to n collections ordered by best bid, highest first.
// Equal bids order by collection address. n <= 0 returns every collection.
func (b *PoolBook) TopBids(n int) []CollectionBid {
	out := make([]CollectionBid, 0, len(b.pools))
	for collection, set := range b.pools {
		pool, bid, ok := b.BestBid(collection)
		if !ok {
			continue
		}
		out = append(out, CollectionBid{Collection: collection, Pool: pool, Bid: bid, Pools: len(set)})
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].Bid.Cmp(out[j].Bid); c != 0 {
			return c > 0
		}
		return bytes.Compare(out[i].Collection[:], out[j].Collection[:]) < 0
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}
