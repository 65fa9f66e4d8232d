// Package strategy implements the sudoswap to OpenSea NFT arbitrage: it keeps
// a local mirror of every sudoswap pool bid and, for each new native-currency
// listing, checks whether some pool pays more than the listing asks.
package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"

	"github.com/alanyoungcy/nftarb/internal/chain"
	"github.com/alanyoungcy/nftarb/internal/contracts"
	"github.com/alanyoungcy/nftarb/internal/domain"
)

const (
	defaultLogWindow = 2000
	// DefaultFactoryDeploymentBlock is the mainnet block of the LSSVM
	// pair factory deployment.
	DefaultFactoryDeploymentBlock = 14650730
)

// DefaultFactory is the mainnet LSSVM pair factory.
var DefaultFactory = common.HexToAddress("0xb16c1342E617A5B6E4b631EB114483FDB289c0A4")

// ChainReader is the read access the strategy needs from a node.
type ChainReader interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

// FulfillmentClient fetches the data needed to fill a marketplace listing.
type FulfillmentClient interface {
	FulfillListing(ctx context.Context, listing *domain.Listing) (*domain.Fulfillment, error)
}

// Config holds the strategy parameters.
type Config struct {
	ArbContract            common.Address
	BidPercentage          uint64
	Chain                  string
	Factory                common.Address
	FactoryDeploymentBlock uint64
	LogWindow              uint64
	QuoteChunk             int
}

// Stats is a point-in-time view of the strategy state.
type Stats struct {
	Synced      bool      `json:"synced"`
	Collections int64     `json:"collections"`
	Pools       int64     `json:"pools"`
	LastBlock   uint64    `json:"last_block"`
	Actions     uint64    `json:"actions"`
	SyncedAt    time.Time `json:"synced_at"`
}

// SudoArb is the arbitrage strategy.
type SudoArb struct {
	cfg    Config
	chain  ChainReader
	market FulfillmentClient
	quoter *Quoter
	codec  *contracts.Codec
	book   *PoolBook
	logger *slog.Logger

	now   func() time.Time
	newID func() string

	synced      atomic.Bool
	collections atomic.Int64
	pools       atomic.Int64
	lastBlock   atomic.Uint64
	actions     atomic.Uint64
	syncedAt    atomic.Int64
}

// NewSudoArb creates the strategy. The book stays empty until SyncState.
func NewSudoArb(cfg Config, reader ChainReader, market FulfillmentClient, quoter *Quoter, codec *contracts.Codec, logger *slog.Logger) *SudoArb {
	if cfg.LogWindow == 0 {
		cfg.LogWindow = defaultLogWindow
	}
	if cfg.Factory == (common.Address{}) {
		cfg.Factory = DefaultFactory
	}
	return &SudoArb{
		cfg:    cfg,
		chain:  reader,
		market: market,
		quoter: quoter,
		codec:  codec,
		book:   NewPoolBook(),
		logger: logger.With(slog.String("strategy", "sudo-arb")),
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// Name returns the strategy identifier.
func (s *SudoArb) Name() string { return "sudo-arb" }

// SyncState rebuilds the book from scratch: every pool the factory ever
// created is quoted at the current head.
func (s *SudoArb) SyncState(ctx context.Context) error {
	s.synced.Store(false)
	s.book = NewPoolBook()

	head, err := s.chain.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("strategy: sync: head block: %w: %w", domain.ErrOutOfSync, err)
	}
	s.logger.InfoContext(ctx, "syncing pool state",
		slog.Uint64("from", s.cfg.FactoryDeploymentBlock),
		slog.Uint64("to", head),
	)

	pools, err := s.newPools(ctx, s.cfg.FactoryDeploymentBlock, head, s.logger)
	if err != nil {
		return fmt.Errorf("strategy: sync: %w: %w", domain.ErrOutOfSync, err)
	}
	s.logger.InfoContext(ctx, "discovered pools", slog.Int("count", len(pools)))

	at := new(big.Int).SetUint64(head)
	err = s.quoter.Each(ctx, pools, at, func(batch []common.Address, quotes []contracts.SellQuote) error {
		return s.book.Apply(batch, quotes)
	})
	if err != nil {
		return fmt.Errorf("strategy: sync: %w: %w", domain.ErrOutOfSync, err)
	}

	s.lastBlock.Store(head)
	s.syncedAt.Store(s.now().UnixNano())
	s.synced.Store(true)
	s.publishCounts()
	s.logger.InfoContext(ctx, "pool state synced",
		slog.Int("collections", s.book.CollectionCount()),
		slog.Int("pools", s.book.PoolCount()),
		slog.Uint64("block", head),
	)
	return nil
}

// ProcessEvent handles one event. New blocks patch the book; a failure there
// leaves the book stale and is returned wrapping domain.ErrOutOfSync. Orders
// never fail the strategy.
func (s *SudoArb) ProcessEvent(ctx context.Context, ev domain.Event) (domain.Action, bool, error) {
	switch e := ev.(type) {
	case domain.NewBlock:
		if err := s.processBlock(ctx, e); err != nil {
			return nil, false, err
		}
		return nil, false, nil
	case domain.MarketplaceOrder:
		action, ok := s.processOrder(ctx, e)
		if !ok {
			return nil, false, nil
		}
		return action, true, nil
	default:
		return nil, false, nil
	}
}

func (s *SudoArb) processOrder(ctx context.Context, ev domain.MarketplaceOrder) (domain.SubmitTransaction, bool) {
	l := ev.Listing
	if l == nil || l.BasePrice == nil {
		return domain.SubmitTransaction{}, false
	}
	if l.Chain != s.cfg.Chain || !l.NativePayment() {
		return domain.SubmitTransaction{}, false
	}

	pool, bid, ok := s.book.BestBid(l.Collection)
	if !ok || bid.Cmp(l.BasePrice) <= 0 {
		return domain.SubmitTransaction{}, false
	}

	log := s.logger.With(
		slog.String("order_hash", l.OrderHash.Hex()),
		slog.String("collection", l.Collection.Hex()),
		slog.String("pool", pool.Hex()),
	)
	log.InfoContext(ctx, "pool bid above listing price",
		slog.String("bid", domain.FormatEther(bid)),
		slog.String("price", domain.FormatEther(l.BasePrice)),
	)

	f, err := s.market.FulfillListing(ctx, l)
	if err != nil {
		log.WarnContext(ctx, "fetch fulfillment failed", slog.String("error", err.Error()))
		return domain.SubmitTransaction{}, false
	}

	profit := new(big.Int).Sub(bid, f.PaymentValue)
	if profit.Sign() <= 0 {
		log.InfoContext(ctx, "no profit after fulfillment",
			slog.String("payment_value", domain.FormatEther(f.PaymentValue)),
		)
		return domain.SubmitTransaction{}, false
	}

	data, err := s.codec.PackExecuteArb(f.Parameters, f.PaymentValue, pool)
	if err != nil {
		log.ErrorContext(ctx, "build arb tx failed", slog.String("error", err.Error()))
		return domain.SubmitTransaction{}, false
	}

	s.actions.Add(1)
	log.InfoContext(ctx, "arb opportunity", slog.String("profit", domain.FormatEther(profit)))
	return domain.SubmitTransaction{
		ID:           s.newID(),
		Tx:           domain.TxRequest{To: s.cfg.ArbContract, Data: data},
		GasBid:       &domain.GasBid{TotalProfit: profit, BidPercentage: s.cfg.BidPercentage},
		OrderHash:    l.OrderHash,
		Collection:   l.Collection,
		Pool:         pool,
		PoolBid:      bid,
		PaymentValue: new(big.Int).Set(f.PaymentValue),
		DetectedAt:   s.now(),
	}, true
}

func (s *SudoArb) processBlock(ctx context.Context, ev domain.NewBlock) error {
	s.logger.DebugContext(ctx, "processing block", slog.Uint64("block", ev.Number))

	created, err := s.newPools(ctx, ev.Number, ev.Number, nil)
	if err != nil {
		return fmt.Errorf("strategy: block %d: %w: %w", ev.Number, domain.ErrOutOfSync, err)
	}
	touched, err := s.touchedPools(ctx, ev.Number)
	if err != nil {
		return fmt.Errorf("strategy: block %d: %w: %w", ev.Number, domain.ErrOutOfSync, err)
	}

	pools := dedupe(created, touched)
	if len(pools) > 0 {
		at := new(big.Int).SetUint64(ev.Number)
		err = s.quoter.Each(ctx, pools, at, func(batch []common.Address, quotes []contracts.SellQuote) error {
			return s.book.Apply(batch, quotes)
		})
		if err != nil {
			return fmt.Errorf("strategy: block %d: %w: %w", ev.Number, domain.ErrOutOfSync, err)
		}
		s.publishCounts()
		s.logger.InfoContext(ctx, "pools updated",
			slog.Uint64("block", ev.Number),
			slog.Int("created", len(created)),
			slog.Int("touched", len(touched)),
		)
	}
	s.lastBlock.Store(ev.Number)
	return nil
}

// newPools returns the pools created by the factory in [from, to].
func (s *SudoArb) newPools(ctx context.Context, from, to uint64, progress *slog.Logger) ([]common.Address, error) {
	q := ethereum.FilterQuery{
		Addresses: []common.Address{s.cfg.Factory},
		Topics:    [][]common.Hash{{s.codec.NewPairTopic()}},
	}
	logs, err := chain.ScanLogs(ctx, s.chain, q, from, to, s.cfg.LogWindow, progress)
	if err != nil {
		return nil, err
	}
	pools := make([]common.Address, 0, len(logs))
	for _, lg := range logs {
		pool, err := s.codec.DecodeNewPair(lg)
		if err != nil {
			return nil, err
		}
		pools = append(pools, pool)
	}
	return dedupe(pools), nil
}

// touchedPools returns the known pools that emitted a price-relevant event in
// block.
func (s *SudoArb) touchedPools(ctx context.Context, block uint64) ([]common.Address, error) {
	known := s.book.Pools()
	if len(known) == 0 {
		return nil, nil
	}
	q := ethereum.FilterQuery{
		Addresses: known,
		Topics:    [][]common.Hash{s.codec.PoolEventTopics()},
	}
	logs, err := chain.ScanLogs(ctx, s.chain, q, block, block, s.cfg.LogWindow, nil)
	if err != nil {
		return nil, err
	}
	pools := make([]common.Address, 0, len(logs))
	for _, lg := range logs {
		pools = append(pools, lg.Address)
	}
	return dedupe(pools), nil
}

func (s *SudoArb) publishCounts() {
	s.collections.Store(int64(s.book.CollectionCount()))
	s.pools.Store(int64(s.book.PoolCount()))
}

// Stats is safe to call from any goroutine.
func (s *SudoArb) Stats() Stats {
	st := Stats{
		Synced:      s.synced.Load(),
		Collections: s.collections.Load(),
		Pools:       s.pools.Load(),
		LastBlock:   s.lastBlock.Load(),
		Actions:     s.actions.Load(),
	}
	if ns := s.syncedAt.Load(); ns != 0 {
		st.SyncedAt = time.Unix(0, ns).UTC()
	}
	return st
}

// dedupe concatenates lists keeping the first occurrence of every address.
func dedupe(lists ...[]common.Address) []common.Address {
	seen := make(map[common.Address]struct{})
	var out []common.Address
	for _, list := range lists {
		for _, a := range list {
			if _, ok := seen[a]; ok {
				continue
			}
			seen[a] = struct{}{}
			out = append(out, a)
		}
	}
	return out
}

// TopBids summarises the book. It must not be called while the strategy is
// running in an engine.
func (s *SudoArb) TopBids(n int) []CollectionBid {
	return s.book.TopBids(n)
}
