package opensea

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/alanyoungcy/nftarb/internal/domain"
)

// BigInt decodes integers the API sends as JSON numbers, decimal strings or
// 0x-prefixed hex strings. Decimal strings are always base 10, so a leading
// zero is not read as octal.
type BigInt struct {
	big.Int
}

func (b *BigInt) UnmarshalJSON(data []byte) error {
	s := string(bytes.Trim(data, `"`))
	if s == "" || s == "null" {
		b.SetInt64(0)
		return nil
	}
	base := 10
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		s, base = s[2:], 16
	}
	if _, ok := b.SetString(s, base); s == "" || !ok {
		return fmt.Errorf("opensea: invalid integer %q", s)
	}
	return nil
}

func (b *BigInt) MarshalJSON() ([]byte, error) {
	return []byte(`"` + b.String() + `"`), nil
}

// Big returns a copy as *big.Int.
func (b *BigInt) Big() *big.Int {
	return new(big.Int).Set(&b.Int)
}

// FulfillListingRequest is the body of POST /api/v2/listings/fulfillment_data.
type FulfillListingRequest struct {
	Listing   ListingRef `json:"listing"`
	Fulfiller Fulfiller  `json:"fulfiller"`
}

// ListingRef identifies a listing.
type ListingRef struct {
	Hash            string `json:"hash"`
	Chain           string `json:"chain"`
	ProtocolAddress string `json:"protocol_address"`
}

// Fulfiller is the account that will fill the order.
type Fulfiller struct {
	Address string `json:"address"`
}

// FulfillListingResponse is the API response for a fulfillment request.
type FulfillListingResponse struct {
	Protocol        string          `json:"protocol"`
	FulfillmentData FulfillmentData `json:"fulfillment_data"`
}

type FulfillmentData struct {
	Transaction Transaction `json:"transaction"`
}

// Transaction is the call the fulfiller would make on Seaport.
type Transaction struct {
	Function  string         `json:"function"`
	Chain     int64          `json:"chain"`
	To        common.Address `json:"to"`
	Value     BigInt         `json:"value"`
	InputData InputData      `json:"input_data"`
}

type InputData struct {
	Parameters OrderParameters `json:"parameters"`
}

// OrderParameters is Seaport's BasicOrderParameters as JSON.
type OrderParameters struct {
	ConsiderationToken                common.Address        `json:"considerationToken"`
	ConsiderationIdentifier           BigInt                `json:"considerationIdentifier"`
	ConsiderationAmount               BigInt                `json:"considerationAmount"`
	Offerer                           common.Address        `json:"offerer"`
	Zone                              common.Address        `json:"zone"`
	OfferToken                        common.Address        `json:"offerToken"`
	OfferIdentifier                   BigInt                `json:"offerIdentifier"`
	OfferAmount                       BigInt                `json:"offerAmount"`
	BasicOrderType                    uint8                 `json:"basicOrderType"`
	StartTime                         BigInt                `json:"startTime"`
	EndTime                           BigInt                `json:"endTime"`
	ZoneHash                          common.Hash           `json:"zoneHash"`
	Salt                              BigInt                `json:"salt"`
	OffererConduitKey                 common.Hash           `json:"offererConduitKey"`
	FulfillerConduitKey               common.Hash           `json:"fulfillerConduitKey"`
	TotalOriginalAdditionalRecipients BigInt                `json:"totalOriginalAdditionalRecipients"`
	AdditionalRecipients              []AdditionalRecipient `json:"additionalRecipients"`
	Signature                         hexutil.Bytes         `json:"signature"`
}

type AdditionalRecipient struct {
	Amount    BigInt         `json:"amount"`
	Recipient common.Address `json:"recipient"`
}

// ToDomain converts the response into the fulfillment used by strategies.
func (r *FulfillListingResponse) ToDomain() *domain.Fulfillment {
	tx := r.FulfillmentData.Transaction
	p := tx.InputData.Parameters

	recipients := make([]domain.AdditionalRecipient, 0, len(p.AdditionalRecipients))
	for i := range p.AdditionalRecipients {
		recipients = append(recipients, domain.AdditionalRecipient{
			Amount:    p.AdditionalRecipients[i].Amount.Big(),
			Recipient: p.AdditionalRecipients[i].Recipient,
		})
	}

	return &domain.Fulfillment{
		Protocol:     r.Protocol,
		Seaport:      tx.To,
		PaymentValue: tx.Value.Big(),
		Parameters: domain.BasicOrderParameters{
			ConsiderationToken:                p.ConsiderationToken,
			ConsiderationIdentifier:           p.ConsiderationIdentifier.Big(),
			ConsiderationAmount:               p.ConsiderationAmount.Big(),
			Offerer:                           p.Offerer,
			Zone:                              p.Zone,
			OfferToken:                        p.OfferToken,
			OfferIdentifier:                   p.OfferIdentifier.Big(),
			OfferAmount:                       p.OfferAmount.Big(),
			BasicOrderType:                    p.BasicOrderType,
			StartTime:                         p.StartTime.Big(),
			EndTime:                           p.EndTime.Big(),
			ZoneHash:                          p.ZoneHash,
			Salt:                              p.Salt.Big(),
			OffererConduitKey:                 p.OffererConduitKey,
			FulfillerConduitKey:               p.FulfillerConduitKey,
			TotalOriginalAdditionalRecipients: p.TotalOriginalAdditionalRecipients.Big(),
			AdditionalRecipients:              recipients,
			Signature:                         []byte(p.Signature),
		},
	}
}

// phxMessage is a Phoenix channel frame (v1 JSON serializer).
type phxMessage struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     *int64          `json:"ref"`
}

// streamEnvelope wraps every stream event payload.
type streamEnvelope struct {
	EventType string          `json:"event_type"`
	SentAt    string          `json:"sent_at"`
	Payload   json.RawMessage `json:"payload"`
}

// ItemListedPayload is the payload of an item_listed stream event.
type ItemListedPayload struct {
	OrderHash       common.Hash `json:"order_hash"`
	BasePrice       BigInt      `json:"base_price"`
	ProtocolAddress string      `json:"protocol_address"`
	ListingDate     string      `json:"listing_date"`
	ExpirationDate  string      `json:"expiration_date"`
	EventTimestamp  string      `json:"event_timestamp"`
	Quantity        int64       `json:"quantity"`
	IsPrivate       bool        `json:"is_private"`
	Maker           struct {
		Address string `json:"address"`
	} `json:"maker"`
	PaymentToken struct {
		Address  string `json:"address"`
		Symbol   string `json:"symbol"`
		Decimals int    `json:"decimals"`
	} `json:"payment_token"`
	Collection struct {
		Slug string `json:"slug"`
	} `json:"collection"`
	Item struct {
		NftID string `json:"nft_id"`
		Chain struct {
			Name string `json:"name"`
		} `json:"chain"`
	} `json:"item"`
}

// ToListing converts the payload. nft_id has the form chain/contract/token.
func (p *ItemListedPayload) ToListing() (*domain.Listing, error) {
	parts := strings.Split(p.Item.NftID, "/")
	if len(parts) != 3 || !common.IsHexAddress(parts[1]) {
		return nil, fmt.Errorf("opensea: malformed nft_id %q", p.Item.NftID)
	}
	tokenID, ok := new(big.Int).SetString(parts[2], 10)
	if !ok {
		return nil, fmt.Errorf("opensea: malformed token id in %q", p.Item.NftID)
	}
	chain := p.Item.Chain.Name
	if chain == "" {
		chain = parts[0]
	}
	return &domain.Listing{
		OrderHash:       p.OrderHash,
		Chain:           chain,
		Collection:      common.HexToAddress(parts[1]),
		TokenID:         tokenID,
		BasePrice:       p.BasePrice.Big(),
		PaymentToken:    common.HexToAddress(p.PaymentToken.Address),
		ProtocolAddress: common.HexToAddress(p.ProtocolAddress),
		Maker:           common.HexToAddress(p.Maker.Address),
		ListedAt:        parseTimestamp(p.ListingDate),
		ExpiresAt:       parseTimestamp(p.ExpirationDate),
	}, nil
}
