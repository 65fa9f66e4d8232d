package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Event is something that happened outside the process: a new block or a new
// marketplace listing. The set of variants is closed; strategies type-switch on
// the concrete value.
type Event interface {
	isEvent()
}

// NewBlock is emitted once per new chain head.
type NewBlock struct {
	Number uint64
	Hash   common.Hash
}

// MarketplaceOrder carries a freshly published listing. The listing is shared
// between subscribers and must be treated as read-only.
type MarketplaceOrder struct {
	Listing *Listing
}

func (NewBlock) isEvent()         {}
func (MarketplaceOrder) isEvent() {}

// Listing is a signed offer to sell a single NFT at a fixed price.
type Listing struct {
	OrderHash       common.Hash
	Chain           string
	Collection      common.Address
	TokenID         *big.Int
	BasePrice       *big.Int
	PaymentToken    common.Address
	ProtocolAddress common.Address
	Maker           common.Address
	ListedAt        int64
	ExpiresAt       int64
}

// NativePayment reports whether the listing is paid in the chain's native
// currency (the zero token address).
func (l *Listing) NativePayment() bool {
	return l.PaymentToken == (common.Address{})
}
