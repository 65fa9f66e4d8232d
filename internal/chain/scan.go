package chain

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
)

// LogFilterer is the subset of the client used for log queries.
type LogFilterer interface {
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

// Window is an inclusive block range.
type Window struct {
	From uint64
	To   uint64
}

// Windows splits [from, to] into consecutive inclusive windows of at most size
// blocks. The windows cover the range exactly once. An inverted range yields
// no windows.
func Windows(from, to, size uint64) []Window {
	if size == 0 {
		size = 1
	}
	if from > to {
		return nil
	}
	out := make([]Window, 0, (to-from)/size+1)
	for start := from; ; {
		end := start + size - 1
		if end < start || end > to {
			end = to
		}
		out = append(out, Window{From: start, To: end})
		if end == to {
			return out
		}
		start = end + 1
	}
}

// ScanLogs runs q over [from, to] one window at a time and returns every
// matching log in block order. Progress is logged per window when logger is
// non-nil.
func ScanLogs(ctx context.Context, f LogFilterer, q ethereum.FilterQuery, from, to, window uint64, logger *slog.Logger) ([]types.Log, error) {
	var logs []types.Log
	span := to - from + 1
	for _, w := range Windows(from, to, window) {
		q.FromBlock = new(big.Int).SetUint64(w.From)
		q.ToBlock = new(big.Int).SetUint64(w.To)
		found, err := f.FilterLogs(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("chain: filter logs [%d, %d]: %w", w.From, w.To, err)
		}
		logs = append(logs, found...)
		if logger != nil && span > window {
			logger.Info("scanned block range",
				slog.Uint64("from", w.From),
				slog.Uint64("to", w.To),
				slog.Int("found", len(found)),
				slog.Uint64("progress_pct", 100*(w.To-from+1)/span),
			)
		}
	}
	return logs, nil
}
