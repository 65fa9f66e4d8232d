// Package feed holds the engine's event producers.
package feed

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/alanyoungcy/nftarb/internal/domain"
)

const (
	resubscribeDelay    = 2 * time.Second
	maxResubscribeDelay = 60 * time.Second
	defaultPollInterval = 4 * time.Second
)

// HeadSource is the node access the block feed needs.
type HeadSource interface {
	SubscribeNewHead(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

// BlockFeed emits one domain.NewBlock per new chain head. It uses a head
// subscription and falls back to polling when the transport has no
// notifications (plain HTTP endpoints).
type BlockFeed struct {
	src          HeadSource
	pollInterval time.Duration
	retryDelay   time.Duration
	logger       *slog.Logger
}

// NewBlockFeed creates a block producer.
func NewBlockFeed(src HeadSource, pollInterval time.Duration, logger *slog.Logger) *BlockFeed {
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	return &BlockFeed{
		src:          src,
		pollInterval: pollInterval,
		retryDelay:   resubscribeDelay,
		logger:       logger.With(slog.String("component", "block_feed")),
	}
}

// Name identifies the producer in engine logs.
func (f *BlockFeed) Name() string { return "blocks" }

// Events implements engine.Producer.
func (f *BlockFeed) Events(ctx context.Context) (<-chan domain.NewBlock, error) {
	heads := make(chan *types.Header, 16)
	sub, err := f.src.SubscribeNewHead(ctx, heads)
	if errors.Is(err, rpc.ErrNotificationsUnsupported) {
		f.logger.Info("head subscriptions unsupported, polling", slog.Duration("interval", f.pollInterval))
		out := make(chan domain.NewBlock)
		go f.poll(ctx, out)
		return out, nil
	}
	if err != nil {
		return nil, err
	}

	out := make(chan domain.NewBlock)
	go f.subscribe(ctx, sub, heads, out)
	return out, nil
}

func (f *BlockFeed) subscribe(ctx context.Context, sub ethereum.Subscription, heads chan *types.Header, out chan<- domain.NewBlock) {
	defer close(out)
	delay := f.retryDelay
	var last uint64
	for {
		select {
		case <-ctx.Done():
			sub.Unsubscribe()
			return
		case err := <-sub.Err():
			sub.Unsubscribe()
			if err != nil {
				f.logger.Warn("head subscription dropped", slog.String("error", err.Error()))
			}
			for {
				select {
				case <-ctx.Done():
					return
				case <-time.After(delay):
				}
				next, err := f.src.SubscribeNewHead(ctx, heads)
				if err == nil {
					sub = next
					delay = f.retryDelay
					f.logger.Info("head subscription restored", slog.Uint64("last_block", last))
					break
				}
				f.logger.Warn("resubscribe failed", slog.String("error", err.Error()), slog.Duration("retry_in", delay))
				delay = min(delay*2, maxResubscribeDelay)
			}
		case h := <-heads:
			if h == nil || h.Number == nil {
				continue
			}
			n := h.Number.Uint64()
			// A reorged or repeated head is passed through as is.
			from := n
			if last != 0 && n > last+1 {
				from = last + 1
				f.logger.Info("backfilling missed blocks", slog.Uint64("from", from), slog.Uint64("to", n-1))
			}
			if !emitRange(ctx, out, from, h) {
				sub.Unsubscribe()
				return
			}
			last = max(last, n)
		}
	}
}

func (f *BlockFeed) poll(ctx context.Context, out chan<- domain.NewBlock) {
	defer close(out)
	ticker := time.NewTicker(f.pollInterval)
	defer ticker.Stop()

	var last uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		h, err := f.src.HeaderByNumber(ctx, nil)
		if err != nil {
			f.logger.Warn("poll head failed", slog.String("error", err.Error()))
			continue
		}
		n := h.Number.Uint64()
		if last != 0 && n <= last {
			continue
		}
		from := n
		if last != 0 {
			from = last + 1
		}
		if !emitRange(ctx, out, from, h) {
			return
		}
		last = n
	}
}

// emitRange sends blocks from..head in order. Only head carries a hash.
// It reports false when ctx ends first.
func emitRange(ctx context.Context, out chan<- domain.NewBlock, from uint64, head *types.Header) bool {
	n := head.Number.Uint64()
	for b := from; b <= n; b++ {
		ev := domain.NewBlock{Number: b}
		if b == n {
			ev.Hash = head.Hash()
		}
		select {
		case out <- ev:
		case <-ctx.Done():
			return false
		}
	}
	return true
}
