package strategy

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sort"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/nftarb/internal/chain"
	"github.com/alanyoungcy/nftarb/internal/contracts"
	"github.com/alanyoungcy/nftarb/internal/domain"
)

var (
	testFactory = common.HexToAddress("0x00000000000000000000000000000000000fac70")
	testArb     = common.HexToAddress("0x00000000000000000000000000000000000a7b00")
	collectionA = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	collectionB = common.HexToAddress("0x00000000000000000000000000000000000000bb")
)

const testDeployBlock = 100

func addr(n int64) common.Address { return common.BigToAddress(big.NewInt(n)) }

// tenths returns n tenths of an ether in wei.
func tenths(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e17))
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func mustCodec(t testing.TB) *contracts.Codec {
	t.Helper()
	c, err := contracts.NewCodec()
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	return c
}

// fakeChain serves BlockNumber and FilterLogs from an in-memory log list.
type fakeChain struct {
	mu      sync.Mutex
	head    uint64
	logs    []types.Log
	queries []ethereum.FilterQuery
	headErr error
	logErr  error
}

func (c *fakeChain) BlockNumber(context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.head, c.headErr
}

func (c *fakeChain) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queries = append(c.queries, q)
	if c.logErr != nil {
		return nil, c.logErr
	}
	from, to := q.FromBlock.Uint64(), q.ToBlock.Uint64()
	var out []types.Log
	for _, lg := range c.logs {
		if lg.BlockNumber < from || lg.BlockNumber > to {
			continue
		}
		if len(q.Addresses) > 0 && !containsAddr(q.Addresses, lg.Address) {
			continue
		}
		if len(q.Topics) > 0 && len(q.Topics[0]) > 0 && !containsHash(q.Topics[0], lg.Topics[0]) {
			continue
		}
		out = append(out, lg)
	}
	return out, nil
}

func containsAddr(list []common.Address, a common.Address) bool {
	for _, v := range list {
		if v == a {
			return true
		}
	}
	return false
}

func containsHash(list []common.Hash, h common.Hash) bool {
	for _, v := range list {
		if v == h {
			return true
		}
	}
	return false
}

type poolState struct {
	block      uint64
	collection common.Address
	price      *big.Int
	available  bool
}

// fakeVenue answers getMultipleSellQuotes from per-pool state timelines. It
// plays the node side of a state-override eth_call.
type fakeVenue struct {
	codec *contracts.Codec

	mu       sync.Mutex
	history  map[common.Address][]poolState
	batches  [][]common.Address
	blocks   []uint64
	err      error
	overrode []common.Address
}

func newFakeVenue(codec *contracts.Codec) *fakeVenue {
	return &fakeVenue{codec: codec, history: make(map[common.Address][]poolState)}
}

func (v *fakeVenue) set(pool common.Address, st poolState) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.history[pool] = append(v.history[pool], st)
	sort.SliceStable(v.history[pool], func(i, j int) bool {
		return v.history[pool][i].block < v.history[pool][j].block
	})
}

func (v *fakeVenue) quoteAt(pool common.Address, block uint64) contracts.SellQuote {
	var cur *poolState
	for i, st := range v.history[pool] {
		if st.block > block {
			break
		}
		cur = &v.history[pool][i]
	}
	if cur == nil || !cur.available {
		return contracts.SellQuote{NftAddress: common.Address{}, Price: new(big.Int)}
	}
	return contracts.SellQuote{QuoteAvailable: true, NftAddress: cur.collection, Price: new(big.Int).Set(cur.price)}
}

func (v *fakeVenue) CallContractWithOverrides(_ context.Context, msg ethereum.CallMsg, block *big.Int, overrides map[common.Address]chain.AccountOverride) ([]byte, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.err != nil {
		return nil, v.err
	}
	if msg.To == nil {
		return nil, errors.New("fake venue: no target")
	}
	if _, ok := overrides[*msg.To]; !ok {
		return nil, errors.New("fake venue: call to account without code")
	}
	v.overrode = append(v.overrode, *msg.To)
	pools, err := v.codec.UnpackSellQuotesInput(msg.Data)
	if err != nil {
		return nil, err
	}
	var at uint64 = ^uint64(0)
	if block != nil {
		at = block.Uint64()
	}
	v.batches = append(v.batches, pools)
	v.blocks = append(v.blocks, at)
	quotes := make([]contracts.SellQuote, len(pools))
	for i, p := range pools {
		quotes[i] = v.quoteAt(p, at)
	}
	return v.codec.PackSellQuotesOutput(quotes)
}

// fakeMarket returns canned fulfillments keyed by order hash.
type fakeMarket struct {
	mu    sync.Mutex
	fills map[common.Hash]*domain.Fulfillment
	err   error
	calls int
}

func (m *fakeMarket) FulfillListing(_ context.Context, l *domain.Listing) (*domain.Fulfillment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	f, ok := m.fills[l.OrderHash]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return f, nil
}

func newPairLog(t testing.TB, codec *contracts.Codec, pool common.Address, block uint64) types.Log {
	t.Helper()
	data, err := codec.PackNewPairData(pool)
	if err != nil {
		t.Fatalf("PackNewPairData: %v", err)
	}
	return types.Log{
		Address:     testFactory,
		Topics:      []common.Hash{codec.NewPairTopic()},
		Data:        data,
		BlockNumber: block,
	}
}

// poolEventLog builds a pair event log; kind indexes Codec.PoolEventTopics.
func poolEventLog(codec *contracts.Codec, pool common.Address, block uint64, kind int) types.Log {
	return types.Log{
		Address:     pool,
		Topics:      []common.Hash{codec.PoolEventTopics()[kind]},
		BlockNumber: block,
	}
}

type harness struct {
	codec  *contracts.Codec
	chain  *fakeChain
	venue  *fakeVenue
	market *fakeMarket
}

func newHarness(t testing.TB) *harness {
	codec := mustCodec(t)
	return &harness{
		codec:  codec,
		chain:  &fakeChain{},
		venue:  newFakeVenue(codec),
		market: &fakeMarket{fills: make(map[common.Hash]*domain.Fulfillment)},
	}
}

// createPool records a NewPair log and the pool's initial quote.
func (h *harness) createPool(t testing.TB, pool, collection common.Address, block uint64, price *big.Int) {
	h.chain.logs = append(h.chain.logs, newPairLog(t, h.codec, pool, block))
	h.venue.set(pool, poolState{block: block, collection: collection, price: price, available: true})
}

func (h *harness) strategy(chunk int) *SudoArb {
	caller := chain.NewOverrideCaller(h.venue)
	q := NewQuoter(caller, h.codec, []byte{0x60, 0x00}, chunk)
	return NewSudoArb(Config{
		ArbContract:            testArb,
		BidPercentage:          50,
		Chain:                  "ethereum",
		Factory:                testFactory,
		FactoryDeploymentBlock: testDeployBlock,
		LogWindow:              2000,
		QuoteChunk:             chunk,
	}, h.chain, h.market, q, h.codec, discard())
}

func sampleParameters(price *big.Int) domain.BasicOrderParameters {
	return domain.BasicOrderParameters{
		ConsiderationToken:                common.Address{},
		ConsiderationIdentifier:           big.NewInt(0),
		ConsiderationAmount:               new(big.Int).Set(price),
		Offerer:                           addr(0xbeef),
		Zone:                              common.Address{},
		OfferToken:                        collectionA,
		OfferIdentifier:                   big.NewInt(42),
		OfferAmount:                       big.NewInt(1),
		BasicOrderType:                    0,
		StartTime:                         big.NewInt(1_700_000_000),
		EndTime:                           big.NewInt(1_800_000_000),
		Salt:                              big.NewInt(7),
		TotalOriginalAdditionalRecipients: big.NewInt(1),
		AdditionalRecipients: []domain.AdditionalRecipient{
			{Amount: big.NewInt(1000), Recipient: addr(0xfee)},
		},
		Signature: []byte{1, 2, 3},
	}
}

func listing(hash byte, collection common.Address, price *big.Int) *domain.Listing {
	return &domain.Listing{
		OrderHash:  common.Hash{hash},
		Chain:      "ethereum",
		Collection: collection,
		TokenID:    big.NewInt(42),
		BasePrice:  price,
	}
}
