package chain

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestWindows_Examples(t *testing.T) {
	tests := []struct {
		name           string
		from, to, size uint64
		want           []Window
	}{
		{"single block", 10, 10, 2000, []Window{{10, 10}}},
		{"exact multiple", 0, 3999, 2000, []Window{{0, 1999}, {2000, 3999}}},
		{"remainder", 5, 4100, 2000, []Window{{5, 2004}, {2005, 4004}, {4005, 4100}}},
		{"inverted", 11, 10, 2000, nil},
		{"zero size treated as one", 1, 3, 0, []Window{{1, 1}, {2, 2}, {3, 3}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Windows(tt.from, tt.to, tt.size)
			if len(got) != len(tt.want) {
				t.Fatalf("Windows(%d, %d, %d) = %v, want %v", tt.from, tt.to, tt.size, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("window %d = %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestWindows_CoverRangeExactly_Property(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("windows are contiguous, bounded and cover [from, to]", prop.ForAll(
		func(from uint64, length uint64, size uint64) bool {
			to := from + length
			ws := Windows(from, to, size)
			if len(ws) == 0 || ws[0].From != from || ws[len(ws)-1].To != to {
				return false
			}
			for i, w := range ws {
				if w.From > w.To || w.To-w.From+1 > size {
					return false
				}
				if i > 0 && w.From != ws[i-1].To+1 {
					return false
				}
			}
			return true
		},
		gen.UInt64Range(0, 20_000_000),
		gen.UInt64Range(0, 50_000),
		gen.UInt64Range(1, 5_000),
	))

	properties.TestingRun(t)
}

type windowFilterer struct {
	calls [][2]uint64
	fail  int
}

func (f *windowFilterer) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	f.calls = append(f.calls, [2]uint64{q.FromBlock.Uint64(), q.ToBlock.Uint64()})
	if f.fail > 0 && len(f.calls) == f.fail {
		return nil, errors.New("query returned more than 10000 results")
	}
	return []types.Log{{BlockNumber: q.FromBlock.Uint64()}}, nil
}

func TestScanLogs_QueriesEachWindowOnce(t *testing.T) {
	f := &windowFilterer{}
	logs, err := ScanLogs(context.Background(), f, ethereum.FilterQuery{}, 100, 4500, 2000, nil)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	want := [][2]uint64{{100, 2099}, {2100, 4099}, {4100, 4500}}
	if len(f.calls) != len(want) {
		t.Fatalf("calls = %v, want %v", f.calls, want)
	}
	for i := range want {
		if f.calls[i] != want[i] {
			t.Fatalf("call %d = %v, want %v", i, f.calls[i], want[i])
		}
	}
	if len(logs) != 3 {
		t.Fatalf("logs = %d, want 3", len(logs))
	}
}

func TestScanLogs_StopsOnError(t *testing.T) {
	f := &windowFilterer{fail: 2}
	if _, err := ScanLogs(context.Background(), f, ethereum.FilterQuery{}, 0, 5999, 2000, nil); err == nil {
		t.Fatalf("expected error from failing window")
	}
	if len(f.calls) != 2 {
		t.Fatalf("calls = %d, want scan to stop after the failing window", len(f.calls))
	}
}
