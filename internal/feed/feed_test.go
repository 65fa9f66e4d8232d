package feed

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/alanyoungcy/nftarb/internal/domain"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type fakeSub struct {
	errc chan error
	once sync.Once
}

func newFakeSub() *fakeSub { return &fakeSub{errc: make(chan error, 1)} }

func (s *fakeSub) Unsubscribe()      { s.once.Do(func() { close(s.errc) }) }
func (s *fakeSub) Err() <-chan error { return s.errc }

type fakeHeads struct {
	mu        sync.Mutex
	subErr    error
	subs      []*fakeSub
	ch        chan<- *types.Header
	headers   []*types.Header
	subscribe chan struct{}
}

func (f *fakeHeads) SubscribeNewHead(_ context.Context, ch chan<- *types.Header) (ethereum.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subErr != nil {
		return nil, f.subErr
	}
	f.ch = ch
	sub := newFakeSub()
	f.subs = append(f.subs, sub)
	if f.subscribe != nil {
		f.subscribe <- struct{}{}
	}
	return sub, nil
}

func (f *fakeHeads) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.headers) == 0 {
		return nil, errors.New("no header")
	}
	h := f.headers[0]
	if len(f.headers) > 1 {
		f.headers = f.headers[1:]
	}
	return h, nil
}

func (f *fakeHeads) push(n int64) {
	f.mu.Lock()
	ch := f.ch
	f.mu.Unlock()
	ch <- &types.Header{Number: big.NewInt(n)}
}

func next(t *testing.T, ch <-chan domain.NewBlock) domain.NewBlock {
	t.Helper()
	select {
	case b, ok := <-ch:
		if !ok {
			t.Fatal("feed closed")
		}
		return b
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for block")
	}
	return domain.NewBlock{}
}

func TestBlockFeed_Subscription(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := &fakeHeads{subscribe: make(chan struct{}, 4)}
	f := NewBlockFeed(src, 0, discard())
	f.retryDelay = time.Millisecond

	blocks, err := f.Events(ctx)
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	<-src.subscribe

	src.push(100)
	if b := next(t, blocks); b.Number != 100 || b.Hash == ([32]byte{}) {
		t.Fatalf("block = %+v", b)
	}

	// A dropped subscription is re-established.
	src.subs[0].errc <- errors.New("connection reset")
	select {
	case <-src.subscribe:
	case <-time.After(2 * time.Second):
		t.Fatal("no resubscribe")
	}
	src.push(101)
	if b := next(t, blocks); b.Number != 101 {
		t.Fatalf("block = %+v", b)
	}

	cancel()
	for range blocks {
	}
}

func TestBlockFeed_ResubscribeBackfillsOutage(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := &fakeHeads{subscribe: make(chan struct{}, 4)}
	f := NewBlockFeed(src, 0, discard())
	f.retryDelay = time.Millisecond

	blocks, err := f.Events(ctx)
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	<-src.subscribe
	src.push(100)
	next(t, blocks)

	src.mu.Lock()
	first := src.subs[0]
	src.mu.Unlock()
	first.errc <- errors.New("connection reset")
	select {
	case <-src.subscribe:
	case <-time.After(2 * time.Second):
		t.Fatal("no resubscribe")
	}

	// Blocks 101-103 were produced while the subscription was down.
	src.push(104)
	for _, want := range []uint64{101, 102, 103} {
		if b := next(t, blocks); b.Number != want || b.Hash != ([32]byte{}) {
			t.Fatalf("block = %+v, want backfilled %d", b, want)
		}
	}
	if b := next(t, blocks); b.Number != 104 || b.Hash == ([32]byte{}) {
		t.Fatalf("block = %+v, want head 104", b)
	}

	// A repeated head after a reorg is not treated as a gap.
	src.push(104)
	if b := next(t, blocks); b.Number != 104 {
		t.Fatalf("block = %+v", b)
	}
	src.push(105)
	if b := next(t, blocks); b.Number != 105 {
		t.Fatalf("block = %+v", b)
	}

	cancel()
	for range blocks {
	}
}

func TestBlockFeed_SubscribeError(t *testing.T) {
	src := &fakeHeads{subErr: errors.New("dial tcp: refused")}
	if _, err := NewBlockFeed(src, 0, discard()).Events(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestBlockFeed_PollingFillsGaps(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := &fakeHeads{
		subErr: rpc.ErrNotificationsUnsupported,
		headers: []*types.Header{
			{Number: big.NewInt(10)},
			{Number: big.NewInt(10)},
			{Number: big.NewInt(13)},
		},
	}
	blocks, err := NewBlockFeed(src, time.Millisecond, discard()).Events(ctx)
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	for _, want := range []uint64{10, 11, 12, 13} {
		if b := next(t, blocks); b.Number != want {
			t.Fatalf("block = %d, want %d", b.Number, want)
		}
	}
}

type fakeListings struct {
	ch chan *domain.Listing
}

func (f *fakeListings) Listings(context.Context) (<-chan *domain.Listing, error) {
	return f.ch, nil
}

func TestOrderFeed_FiltersChain(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := &fakeListings{ch: make(chan *domain.Listing, 3)}
	src.ch <- &domain.Listing{Chain: "polygon", TokenID: big.NewInt(1)}
	src.ch <- nil
	src.ch <- &domain.Listing{Chain: "ethereum", TokenID: big.NewInt(2)}
	close(src.ch)

	orders, err := NewOrderFeed(src, "ethereum", discard()).Events(ctx)
	if err != nil {
		t.Fatal(err)
	}
	var got []domain.MarketplaceOrder
	for o := range orders {
		got = append(got, o)
	}
	if len(got) != 1 || got[0].Listing.TokenID.Int64() != 2 {
		t.Fatalf("orders = %+v", got)
	}
}
