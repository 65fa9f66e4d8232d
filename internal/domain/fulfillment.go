package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// AdditionalRecipient is a fee or royalty leg of a basic Seaport order.
type AdditionalRecipient struct {
	Amount    *big.Int
	Recipient common.Address
}

// BasicOrderParameters mirrors Seaport's BasicOrderParameters struct. Field
// names match the ABI component names so the struct can be packed directly.
type BasicOrderParameters struct {
	ConsiderationToken                common.Address
	ConsiderationIdentifier           *big.Int
	ConsiderationAmount               *big.Int
	Offerer                           common.Address
	Zone                              common.Address
	OfferToken                        common.Address
	OfferIdentifier                   *big.Int
	OfferAmount                       *big.Int
	BasicOrderType                    uint8
	StartTime                         *big.Int
	EndTime                           *big.Int
	ZoneHash                          [32]byte
	Salt                              *big.Int
	OffererConduitKey                 [32]byte
	FulfillerConduitKey               [32]byte
	TotalOriginalAdditionalRecipients *big.Int
	AdditionalRecipients              []AdditionalRecipient
	Signature                         []byte
}

// Fulfillment is everything needed to fill a listing on-chain.
type Fulfillment struct {
	Protocol     string
	Seaport      common.Address
	PaymentValue *big.Int
	Parameters   BasicOrderParameters
}
