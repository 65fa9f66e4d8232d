package domain

import (
	"context"
	"math/big"
	"time"

	"github.com/shopspring/decimal"
)

// ArbOpportunity is the audit record of a produced arbitrage action. Amounts
// are decimal wei strings.
type ArbOpportunity struct {
	ID            string    `json:"id"`
	OrderHash     string    `json:"order_hash"`
	Collection    string    `json:"collection"`
	Pool          string    `json:"pool"`
	PoolBid       string    `json:"pool_bid"`
	PaymentValue  string    `json:"payment_value"`
	Profit        string    `json:"profit"`
	BidPercentage uint64    `json:"bid_percentage"`
	Mode          string    `json:"mode"`
	DetectedAt    time.Time `json:"detected_at"`
}

// OpportunitySink receives every opportunity the engine produces.
type OpportunitySink interface {
	Name() string
	Record(ctx context.Context, opp ArbOpportunity) error
}

// OpportunityStore persists opportunities.
type OpportunityStore interface {
	Insert(ctx context.Context, opp ArbOpportunity) error
	MarkSubmitted(ctx context.Context, id string, txHash string) error
	ListRecent(ctx context.Context, limit int) ([]ArbOpportunity, error)
}

// FormatEther renders a wei amount in ether, e.g. "1.25".
func FormatEther(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	return decimal.NewFromBigInt(wei, -18).String()
}

// FormatWeiString is FormatEther for decimal strings; malformed input is
// returned unchanged.
func FormatWeiString(wei string) string {
	v, ok := new(big.Int).SetString(wei, 10)
	if !ok {
		return wei
	}
	return FormatEther(v)
}
