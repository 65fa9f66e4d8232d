// Package executor turns strategy actions into side effects: signed
// transactions in the public mempool and opportunity records.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/nftarb/internal/domain"
)

// TxBackend is the node access needed to price, sign and broadcast a
// transaction. *ethclient.Client satisfies it.
type TxBackend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// Signer signs transactions for a single account.
type Signer interface {
	Address() common.Address
	ChainID() *big.Int
	Sign(tx *types.Transaction) (*types.Transaction, error)
}

// MempoolConfig tunes submission.
type MempoolConfig struct {
	// GasLimitBufferPct is added on top of the gas estimate.
	GasLimitBufferPct uint64
	// DedupTTL is how long an order hash blocks resubmission.
	DedupTTL time.Duration
}

// MempoolExecutor signs SubmitTransaction actions and sends them to the
// public mempool. When the action carries a GasBid the priority fee is
// sized so that BidPercentage of the expected profit goes to gas.
type MempoolExecutor struct {
	backend  TxBackend
	signer   Signer
	cfg      MempoolConfig
	dedup    *Dedup
	recorder *Recorder
	metrics  *Metrics
	logger   *slog.Logger

	nonceMu sync.Mutex
	nonce   *uint64
}

// NewMempoolExecutor creates the executor. recorder and metrics may be nil.
func NewMempoolExecutor(backend TxBackend, signer Signer, cfg MempoolConfig, recorder *Recorder, metrics *Metrics, logger *slog.Logger) *MempoolExecutor {
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = 2 * time.Minute
	}
	return &MempoolExecutor{
		backend:  backend,
		signer:   signer,
		cfg:      cfg,
		dedup:    NewDedup(cfg.DedupTTL),
		recorder: recorder,
		metrics:  metrics,
		logger:   logger.With(slog.String("component", "mempool_executor")),
	}
}

// Name identifies the executor in engine logs.
func (e *MempoolExecutor) Name() string { return "mempool" }

// Execute implements engine.Executor. Actions other than SubmitTransaction
// are ignored.
func (e *MempoolExecutor) Execute(ctx context.Context, action domain.Action) error {
	sub, ok := action.(domain.SubmitTransaction)
	if !ok {
		return nil
	}
	log := e.logger.With(
		slog.String("id", sub.ID),
		slog.String("order_hash", sub.OrderHash.Hex()),
	)

	key := sub.OrderHash.Hex()
	if e.dedup.IsDuplicate(key) {
		e.metrics.duplicate()
		log.Info("order already submitted, skipping")
		return nil
	}

	// Sinks run alongside the build and broadcast, never ahead of them.
	var recorded <-chan struct{}
	if e.recorder != nil {
		recorded = e.recorder.Start(ctx, sub)
	}

	tx, err := e.buildTx(ctx, sub)
	if err != nil {
		e.dedup.Forget(key)
		e.metrics.failed()
		return fmt.Errorf("executor: build tx %s: %w", sub.ID, err)
	}
	signed, err := e.signer.Sign(tx)
	if err != nil {
		e.dedup.Forget(key)
		e.resetNonce()
		e.metrics.failed()
		return fmt.Errorf("executor: %w", err)
	}
	if err := e.backend.SendTransaction(ctx, signed); err != nil {
		e.dedup.Forget(key)
		e.resetNonce()
		e.metrics.failed()
		return fmt.Errorf("executor: send tx %s: %w", sub.ID, err)
	}

	e.metrics.submitted()
	log.Info("transaction submitted",
		slog.String("tx_hash", signed.Hash().Hex()),
		slog.Uint64("nonce", signed.Nonce()),
		slog.Uint64("gas", signed.Gas()),
		slog.String("tip_gwei", weiToGwei(signed.GasTipCap())),
	)
	if e.recorder != nil {
		e.recorder.Submitted(ctx, recorded, sub.ID, signed.Hash().Hex())
	}
	return nil
}

func (e *MempoolExecutor) buildTx(ctx context.Context, sub domain.SubmitTransaction) (*types.Transaction, error) {
	from := e.signer.Address()
	to := sub.Tx.To
	value := sub.Tx.Value
	if value == nil {
		value = new(big.Int)
	}

	gas, err := e.backend.EstimateGas(ctx, ethereum.CallMsg{
		From:  from,
		To:    &to,
		Value: value,
		Data:  sub.Tx.Data,
	})
	if err != nil {
		return nil, fmt.Errorf("estimate gas: %w", err)
	}

	tip, err := e.tipCap(ctx, sub.GasBid, gas)
	if err != nil {
		return nil, err
	}

	head, err := e.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("latest header: %w", err)
	}
	baseFee := head.BaseFee
	if baseFee == nil {
		baseFee = new(big.Int)
	}
	feeCap := new(big.Int).Add(new(big.Int).Mul(baseFee, big.NewInt(2)), tip)

	nonce, err := e.nextNonce(ctx, from)
	if err != nil {
		return nil, err
	}

	return types.NewTx(&types.DynamicFeeTx{
		ChainID:   e.signer.ChainID(),
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas + gas*e.cfg.GasLimitBufferPct/100,
		To:        &to,
		Value:     value,
		Data:      sub.Tx.Data,
	}), nil
}

// tipCap returns the priority fee per gas. With a bid, the fee is
// profit * pct / 100 / gas. Without a usable bid (none, no profit, or a zero
// gas estimate) the node's suggestion is used.
func (e *MempoolExecutor) tipCap(ctx context.Context, bid *domain.GasBid, gas uint64) (*big.Int, error) {
	if bid == nil || bid.TotalProfit == nil || bid.TotalProfit.Sign() <= 0 || gas == 0 {
		tip, err := e.backend.SuggestGasTipCap(ctx)
		if err != nil {
			return nil, fmt.Errorf("suggest tip: %w", err)
		}
		return tip, nil
	}
	return BidTip(bid.TotalProfit, bid.BidPercentage, gas)
}

// BidTip sizes the priority fee so that pct percent of profit is spent on
// gas units.
func BidTip(profit *big.Int, pct, gas uint64) (*big.Int, error) {
	if gas == 0 {
		return nil, errors.New("zero gas estimate")
	}
	if profit.Sign() <= 0 {
		return nil, fmt.Errorf("non-positive profit %s", profit)
	}
	tip := new(big.Int).Mul(profit, new(big.Int).SetUint64(pct))
	tip.Quo(tip, big.NewInt(100))
	tip.Quo(tip, new(big.Int).SetUint64(gas))
	return tip, nil
}

func (e *MempoolExecutor) nextNonce(ctx context.Context, from common.Address) (uint64, error) {
	e.nonceMu.Lock()
	defer e.nonceMu.Unlock()
	if e.nonce == nil {
		n, err := e.backend.PendingNonceAt(ctx, from)
		if err != nil {
			return 0, fmt.Errorf("pending nonce: %w", err)
		}
		e.nonce = &n
	}
	n := *e.nonce
	*e.nonce = n + 1
	return n, nil
}

// resetNonce forces the next submission to re-read the pending nonce.
func (e *MempoolExecutor) resetNonce() {
	e.nonceMu.Lock()
	e.nonce = nil
	e.nonceMu.Unlock()
}

func weiToGwei(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	return decimal.NewFromBigInt(wei, -9).String()
}
