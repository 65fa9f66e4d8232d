package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Action is something a strategy wants done. Executors ignore the variants they
// do not understand.
type Action interface {
	isAction()
}

// TxRequest is an unsigned call. Gas, nonce and fees are filled in by the
// executor at submission time.
type TxRequest struct {
	To    common.Address
	Data  []byte
	Value *big.Int
}

// GasBid tells the executor how much of the expected profit it may spend on
// the priority fee.
type GasBid struct {
	TotalProfit   *big.Int
	BidPercentage uint64
}

// SubmitTransaction asks the executor to sign and broadcast Tx.
type SubmitTransaction struct {
	ID           string
	Tx           TxRequest
	GasBid       *GasBid
	OrderHash    common.Hash
	Collection   common.Address
	Pool         common.Address
	PoolBid      *big.Int
	PaymentValue *big.Int
	DetectedAt   time.Time
}

func (SubmitTransaction) isAction() {}

// Opportunity flattens the submission into the record kept by the sinks.
func (s SubmitTransaction) Opportunity(mode string) ArbOpportunity {
	opp := ArbOpportunity{
		ID:           s.ID,
		OrderHash:    s.OrderHash.Hex(),
		Collection:   s.Collection.Hex(),
		Pool:         s.Pool.Hex(),
		PoolBid:      bigString(s.PoolBid),
		PaymentValue: bigString(s.PaymentValue),
		Mode:         mode,
		DetectedAt:   s.DetectedAt,
	}
	if s.GasBid != nil {
		opp.Profit = bigString(s.GasBid.TotalProfit)
		opp.BidPercentage = s.GasBid.BidPercentage
	}
	return opp
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
