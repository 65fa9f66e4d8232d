package executor

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
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/nftarb/internal/crypto"
	"github.com/alanyoungcy/nftarb/internal/domain"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

var arbContract = common.HexToAddress("0x00000000000000000000000000000000000a7b00")

type fakeBackend struct {
	mu         sync.Mutex
	nonce      uint64
	nonceReads int
	gas        uint64
	tip        *big.Int
	baseFee    *big.Int
	sendErr    error
	sent       []*types.Transaction
	estimated  []ethereum.CallMsg
}

func (b *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nonceReads++
	return b.nonce, nil
}

func (b *fakeBackend) EstimateGas(_ context.Context, msg ethereum.CallMsg) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.estimated = append(b.estimated, msg)
	return b.gas, nil
}

func (b *fakeBackend) SuggestGasTipCap(context.Context) (*big.Int, error) {
	return b.tip, nil
}

func (b *fakeBackend) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	return &types.Header{Number: big.NewInt(1), BaseFee: b.baseFee}, nil
}

func (b *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sendErr != nil {
		return b.sendErr
	}
	b.sent = append(b.sent, tx)
	return nil
}

type memorySink struct {
	mu   sync.Mutex
	opps []domain.ArbOpportunity
	err  error
}

func (s *memorySink) Name() string { return "memory" }

func (s *memorySink) Record(_ context.Context, opp domain.ArbOpportunity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opps = append(s.opps, opp)
	return s.err
}

type memoryTracker struct {
	mu     sync.Mutex
	hashes map[string]string
}

func (t *memoryTracker) MarkSubmitted(_ context.Context, id, txHash string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hashes[id] = txHash
	return nil
}

func eth(n int64) *big.Int { return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18)) }

func newSigner(t *testing.T) *crypto.TxSigner {
	t.Helper()
	key, err := ethcrypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	return crypto.NewTxSigner(key, big.NewInt(1))
}

func submission(id string, hash byte, profit *big.Int) domain.SubmitTransaction {
	sub := domain.SubmitTransaction{
		ID:           id,
		Tx:           domain.TxRequest{To: arbContract, Data: []byte{0x01, 0x02}},
		OrderHash:    common.Hash{hash},
		PoolBid:      eth(3),
		PaymentValue: eth(2),
		DetectedAt:   time.Unix(1_700_000_000, 0),
	}
	if profit != nil {
		sub.GasBid = &domain.GasBid{TotalProfit: profit, BidPercentage: 50}
	}
	return sub
}

func TestBidTip(t *testing.T) {
	tests := []struct {
		name   string
		profit *big.Int
		pct    uint64
		gas    uint64
		want   *big.Int
		err    bool
	}{
		{"half of one ether over 250k gas", eth(1), 50, 250_000, big.NewInt(2_000_000_000_000), false},
		{"zero percent", eth(1), 0, 250_000, big.NewInt(0), false},
		{"rounds down", big.NewInt(999), 100, 1_000, big.NewInt(0), false},
		{"zero gas", eth(1), 50, 0, nil, true},
		{"no profit", big.NewInt(0), 50, 21_000, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BidTip(tt.profit, tt.pct, tt.gas)
			if tt.err {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil || got.Cmp(tt.want) != 0 {
				t.Fatalf("BidTip = %v, %v; want %v", got, err, tt.want)
			}
		})
	}
}

func TestMempoolExecutor_SubmitsWithBidSizedTip(t *testing.T) {
	backend := &fakeBackend{nonce: 7, gas: 250_000, baseFee: big.NewInt(20e9), tip: big.NewInt(1e9)}
	signer := newSigner(t)
	sink := &memorySink{}
	tracker := &memoryTracker{hashes: make(map[string]string)}
	rec := NewRecorder("live", tracker, []domain.OpportunitySink{sink}, discard())
	x := NewMempoolExecutor(backend, signer, MempoolConfig{GasLimitBufferPct: 20}, rec, nil, discard())

	ctx := context.Background()
	if err := x.Execute(ctx, submission("a", 1, eth(1))); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if err := x.Execute(ctx, submission("b", 2, nil)); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	rec.Wait()

	if len(backend.sent) != 2 {
		t.Fatalf("sent %d txs, want 2", len(backend.sent))
	}
	first, second := backend.sent[0], backend.sent[1]
	if first.Nonce() != 7 || second.Nonce() != 8 {
		t.Fatalf("nonces = %d, %d", first.Nonce(), second.Nonce())
	}
	if backend.nonceReads != 1 {
		t.Fatalf("pending nonce read %d times", backend.nonceReads)
	}
	if first.GasTipCap().Cmp(big.NewInt(2_000_000_000_000)) != 0 {
		t.Fatalf("bid tip = %v", first.GasTipCap())
	}
	wantCap := new(big.Int).Add(big.NewInt(40e9), first.GasTipCap())
	if first.GasFeeCap().Cmp(wantCap) != 0 {
		t.Fatalf("fee cap = %v, want %v", first.GasFeeCap(), wantCap)
	}
	if first.Gas() != 300_000 {
		t.Fatalf("gas = %d, want buffered estimate", first.Gas())
	}
	if *first.To() != arbContract {
		t.Fatalf("to = %s", first.To().Hex())
	}
	if second.GasTipCap().Cmp(big.NewInt(1e9)) != 0 {
		t.Fatalf("tip without bid = %v, want node suggestion", second.GasTipCap())
	}
	if backend.estimated[0].From != signer.Address() {
		t.Fatal("gas estimated from wrong account")
	}

	from, err := types.Sender(types.LatestSignerForChainID(big.NewInt(1)), first)
	if err != nil || from != signer.Address() {
		t.Fatalf("sender = %s, %v", from.Hex(), err)
	}

	if len(sink.opps) != 2 || sink.opps[0].Profit != eth(1).String() || sink.opps[0].Mode != "live" {
		t.Fatalf("recorded = %+v", sink.opps)
	}
	if tracker.hashes["a"] != first.Hash().Hex() {
		t.Fatalf("tracked hash = %s", tracker.hashes["a"])
	}
}

// stallSink blocks until its context ends.
type stallSink struct{}

func (stallSink) Name() string { return "stall" }

func (stallSink) Record(ctx context.Context, _ domain.ArbOpportunity) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestMempoolExecutor_StalledSinkDoesNotDelayBroadcast(t *testing.T) {
	backend := &fakeBackend{nonce: 1, gas: 100_000, baseFee: big.NewInt(1e9)}
	tracker := &memoryTracker{hashes: make(map[string]string)}
	good := &memorySink{}
	rec := NewRecorder("live", tracker, []domain.OpportunitySink{stallSink{}, good}, discard())
	rec.timeout = 300 * time.Millisecond
	x := NewMempoolExecutor(backend, newSigner(t), MempoolConfig{}, rec, nil, discard())

	start := time.Now()
	if err := x.Execute(context.Background(), submission("slow", 4, eth(1))); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if elapsed := time.Since(start); elapsed >= rec.timeout {
		t.Fatalf("Execute took %s behind a stalled sink", elapsed)
	}
	backend.mu.Lock()
	sent := len(backend.sent)
	backend.mu.Unlock()
	if sent != 1 {
		t.Fatalf("sent %d txs, want 1", sent)
	}

	rec.Wait()
	if len(good.opps) != 1 || good.opps[0].ID != "slow" {
		t.Fatalf("healthy sink got %+v", good.opps)
	}
	if tracker.hashes["slow"] != backend.sent[0].Hash().Hex() {
		t.Fatalf("tracked hash = %q", tracker.hashes["slow"])
	}
}

func TestMempoolExecutor_TipFallsBackToSuggestion(t *testing.T) {
	tests := []struct {
		name   string
		gas    uint64
		profit *big.Int
	}{
		{"zero gas estimate", 0, eth(1)},
		{"zero profit", 100_000, big.NewInt(0)},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := &fakeBackend{gas: tt.gas, baseFee: big.NewInt(1e9), tip: big.NewInt(3e9)}
			x := NewMempoolExecutor(backend, newSigner(t), MempoolConfig{}, nil, nil, discard())
			if err := x.Execute(context.Background(), submission("f", byte(i+1), tt.profit)); err != nil {
				t.Fatalf("Execute: %v", err)
			}
			if len(backend.sent) != 1 {
				t.Fatalf("sent %d txs, want 1", len(backend.sent))
			}
			if got := backend.sent[0].GasTipCap(); got.Cmp(big.NewInt(3e9)) != 0 {
				t.Fatalf("tip = %v, want node suggestion", got)
			}
		})
	}
}

func TestMempoolExecutor_SkipsDuplicateOrder(t *testing.T) {
	backend := &fakeBackend{gas: 100_000, baseFee: big.NewInt(1e9)}
	x := NewMempoolExecutor(backend, newSigner(t), MempoolConfig{}, nil, nil, discard())

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := x.Execute(ctx, submission("dup", 9, eth(1))); err != nil {
			t.Fatal(err)
		}
	}
	if len(backend.sent) != 1 {
		t.Fatalf("sent %d txs, want 1", len(backend.sent))
	}
}

func TestMempoolExecutor_SendFailureResetsNonceAndAllowsRetry(t *testing.T) {
	backend := &fakeBackend{nonce: 3, gas: 100_000, baseFee: big.NewInt(1e9), sendErr: errors.New("nonce too low")}
	x := NewMempoolExecutor(backend, newSigner(t), MempoolConfig{}, nil, nil, discard())

	ctx := context.Background()
	if err := x.Execute(ctx, submission("a", 1, eth(1))); err == nil {
		t.Fatal("expected send error")
	}

	backend.sendErr = nil
	backend.nonce = 4
	if err := x.Execute(ctx, submission("a", 1, eth(1))); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if backend.nonceReads != 2 {
		t.Fatalf("nonce reads = %d, want 2", backend.nonceReads)
	}
	if backend.sent[0].Nonce() != 4 {
		t.Fatalf("nonce = %d, want re-read value", backend.sent[0].Nonce())
	}
}

func TestMempoolExecutor_IgnoresOtherActions(t *testing.T) {
	backend := &fakeBackend{}
	x := NewMempoolExecutor(backend, newSigner(t), MempoolConfig{}, nil, nil, discard())
	if err := x.Execute(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	if len(backend.sent) != 0 {
		t.Fatal("unexpected submission")
	}
}

func TestRecorder_SinkFailureDoesNotStopOthers(t *testing.T) {
	bad := &memorySink{err: errors.New("db down")}
	good := &memorySink{}
	rec := NewRecorder("dry", nil, []domain.OpportunitySink{bad, good}, discard())

	if err := rec.Execute(context.Background(), submission("x", 1, eth(2))); err != nil {
		t.Fatal(err)
	}
	if len(good.opps) != 1 || good.opps[0].ID != "x" || good.opps[0].Mode != "dry" {
		t.Fatalf("good sink got %+v", good.opps)
	}
	rec.MarkSubmitted(context.Background(), "x", "0xabc")
}

func TestDedup_Expiry(t *testing.T) {
	now := time.Unix(0, 0)
	d := NewDedup(time.Minute)
	d.now = func() time.Time { return now }

	if d.IsDuplicate("k") {
		t.Fatal("first sighting reported as duplicate")
	}
	now = now.Add(30 * time.Second)
	if !d.IsDuplicate("k") {
		t.Fatal("repeat within ttl not detected")
	}
	now = now.Add(2 * time.Minute)
	if d.IsDuplicate("k") {
		t.Fatal("expired key reported as duplicate")
	}
	d.Forget("k")
	if d.Len() != 0 {
		t.Fatalf("Len = %d after Forget", d.Len())
	}
}
