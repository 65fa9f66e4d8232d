// Package contracts holds the ABI codec for the sudoswap factory and pairs,
// the batch quoter and the arbitrage contract.
package contracts

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/nftarb/internal/domain"
)

const factoryABI = `[
	{"anonymous":false,"inputs":[{"indexed":false,"internalType":"address","name":"poolAddress","type":"address"}],"name":"NewPair","type":"event"}
]`

const pairABI = `[
	{"anonymous":false,"inputs":[],"name":"SwapNFTInPair","type":"event"},
	{"anonymous":false,"inputs":[],"name":"SwapNFTOutPair","type":"event"},
	{"anonymous":false,"inputs":[{"indexed":false,"internalType":"uint128","name":"newSpotPrice","type":"uint128"}],"name":"SpotPriceUpdate","type":"event"},
	{"anonymous":false,"inputs":[{"indexed":false,"internalType":"uint256","name":"amount","type":"uint256"}],"name":"TokenWithdrawal","type":"event"}
]`

const quoterABI = `[
	{"inputs":[{"internalType":"address[]","name":"pairAddresses","type":"address[]"}],
	 "name":"getMultipleSellQuotes",
	 "outputs":[{"components":[
		{"internalType":"bool","name":"quoteAvailable","type":"bool"},
		{"internalType":"address","name":"nftAddress","type":"address"},
		{"internalType":"uint256","name":"price","type":"uint256"}],
		"internalType":"struct SudoPairQuoter.SellQuote[]","name":"sellQuotes","type":"tuple[]"}],
	 "stateMutability":"view","type":"function"}
]`

const arbABI = `[
	{"inputs":[
		{"components":[
			{"internalType":"address","name":"considerationToken","type":"address"},
			{"internalType":"uint256","name":"considerationIdentifier","type":"uint256"},
			{"internalType":"uint256","name":"considerationAmount","type":"uint256"},
			{"internalType":"address payable","name":"offerer","type":"address"},
			{"internalType":"address","name":"zone","type":"address"},
			{"internalType":"address","name":"offerToken","type":"address"},
			{"internalType":"uint256","name":"offerIdentifier","type":"uint256"},
			{"internalType":"uint256","name":"offerAmount","type":"uint256"},
			{"internalType":"enum BasicOrderType","name":"basicOrderType","type":"uint8"},
			{"internalType":"uint256","name":"startTime","type":"uint256"},
			{"internalType":"uint256","name":"endTime","type":"uint256"},
			{"internalType":"bytes32","name":"zoneHash","type":"bytes32"},
			{"internalType":"uint256","name":"salt","type":"uint256"},
			{"internalType":"bytes32","name":"offererConduitKey","type":"bytes32"},
			{"internalType":"bytes32","name":"fulfillerConduitKey","type":"bytes32"},
			{"internalType":"uint256","name":"totalOriginalAdditionalRecipients","type":"uint256"},
			{"components":[
				{"internalType":"uint256","name":"amount","type":"uint256"},
				{"internalType":"address payable","name":"recipient","type":"address"}],
			 "internalType":"struct AdditionalRecipient[]","name":"additionalRecipients","type":"tuple[]"},
			{"internalType":"bytes","name":"signature","type":"bytes"}],
		 "internalType":"struct BasicOrderParameters","name":"basicOrder","type":"tuple"},
		{"internalType":"uint256","name":"paymentValue","type":"uint256"},
		{"internalType":"address","name":"sudoPool","type":"address"}],
	 "name":"executeArb","outputs":[],"stateMutability":"nonpayable","type":"function"}
]`

// SellQuote is one element returned by getMultipleSellQuotes.
type SellQuote struct {
	QuoteAvailable bool
	NftAddress     common.Address
	Price          *big.Int
}

// Codec encodes and decodes every contract interaction the strategy makes.
// Build it once with NewCodec and share it; it is read-only after
// construction.
type Codec struct {
	factory abi.ABI
	pair    abi.ABI
	quoter  abi.ABI
	arb     abi.ABI
}

// NewCodec parses the embedded ABIs.
func NewCodec() (*Codec, error) {
	var c Codec
	for _, def := range []struct {
		name string
		src  string
		dst  *abi.ABI
	}{
		{"factory", factoryABI, &c.factory},
		{"pair", pairABI, &c.pair},
		{"quoter", quoterABI, &c.quoter},
		{"arb", arbABI, &c.arb},
	} {
		parsed, err := abi.JSON(strings.NewReader(def.src))
		if err != nil {
			return nil, fmt.Errorf("contracts: parse %s abi: %w", def.name, err)
		}
		*def.dst = parsed
	}
	return &c, nil
}

// NewPairTopic is topic0 of the factory's NewPair event.
func (c *Codec) NewPairTopic() common.Hash {
	return c.factory.Events["NewPair"].ID
}

// PoolEventTopics are the pair events that change a pool's bid: NFT swaps in
// either direction, spot price updates and token withdrawals.
func (c *Codec) PoolEventTopics() []common.Hash {
	return []common.Hash{
		c.pair.Events["SwapNFTInPair"].ID,
		c.pair.Events["SwapNFTOutPair"].ID,
		c.pair.Events["SpotPriceUpdate"].ID,
		c.pair.Events["TokenWithdrawal"].ID,
	}
}

// DecodeNewPair extracts the pool address from a NewPair log.
func (c *Codec) DecodeNewPair(log types.Log) (common.Address, error) {
	var ev struct {
		PoolAddress common.Address
	}
	if err := c.factory.UnpackIntoInterface(&ev, "NewPair", log.Data); err != nil {
		return common.Address{}, fmt.Errorf("contracts: decode NewPair in tx %s: %w", log.TxHash.Hex(), err)
	}
	return ev.PoolAddress, nil
}

// PackNewPairData encodes a NewPair log payload.
func (c *Codec) PackNewPairData(pool common.Address) ([]byte, error) {
	return c.factory.Events["NewPair"].Inputs.Pack(pool)
}

// PackSellQuotes encodes a getMultipleSellQuotes call.
func (c *Codec) PackSellQuotes(pools []common.Address) ([]byte, error) {
	data, err := c.quoter.Pack("getMultipleSellQuotes", pools)
	if err != nil {
		return nil, fmt.Errorf("contracts: pack getMultipleSellQuotes: %w", err)
	}
	return data, nil
}

// UnpackSellQuotesInput decodes the pool list from getMultipleSellQuotes
// calldata.
func (c *Codec) UnpackSellQuotesInput(data []byte) ([]common.Address, error) {
	method, err := c.quoter.MethodById(data)
	if err != nil {
		return nil, fmt.Errorf("contracts: unknown quoter selector: %w", err)
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, fmt.Errorf("contracts: unpack getMultipleSellQuotes input: %w", err)
	}
	pools, ok := args[0].([]common.Address)
	if !ok {
		return nil, fmt.Errorf("contracts: unexpected input type %T", args[0])
	}
	return pools, nil
}

// UnpackSellQuotes decodes the return data of getMultipleSellQuotes.
func (c *Codec) UnpackSellQuotes(data []byte) ([]SellQuote, error) {
	var quotes []SellQuote
	if err := c.quoter.UnpackIntoInterface(&quotes, "getMultipleSellQuotes", data); err != nil {
		return nil, fmt.Errorf("contracts: unpack getMultipleSellQuotes: %w", err)
	}
	return quotes, nil
}

// PackSellQuotesOutput encodes quoter return data.
func (c *Codec) PackSellQuotesOutput(quotes []SellQuote) ([]byte, error) {
	return c.quoter.Methods["getMultipleSellQuotes"].Outputs.Pack(quotes)
}

// PackExecuteArb encodes the arbitrage contract call.
func (c *Codec) PackExecuteArb(order domain.BasicOrderParameters, paymentValue *big.Int, pool common.Address) ([]byte, error) {
	data, err := c.arb.Pack("executeArb", order, paymentValue, pool)
	if err != nil {
		return nil, fmt.Errorf("contracts: pack executeArb: %w", err)
	}
	return data, nil
}

// UnpackExecuteArb decodes executeArb calldata back into its arguments.
func (c *Codec) UnpackExecuteArb(data []byte) (domain.BasicOrderParameters, *big.Int, common.Address, error) {
	var out struct {
		BasicOrder   domain.BasicOrderParameters
		PaymentValue *big.Int
		SudoPool     common.Address
	}
	if len(data) < 4 {
		return out.BasicOrder, nil, common.Address{}, fmt.Errorf("contracts: executeArb calldata too short")
	}
	args, err := c.arb.Methods["executeArb"].Inputs.Unpack(data[4:])
	if err != nil {
		return out.BasicOrder, nil, common.Address{}, fmt.Errorf("contracts: unpack executeArb: %w", err)
	}
	if err := c.arb.Methods["executeArb"].Inputs.Copy(&out, args); err != nil {
		return out.BasicOrder, nil, common.Address{}, fmt.Errorf("contracts: copy executeArb args: %w", err)
	}
	return out.BasicOrder, out.PaymentValue, out.SudoPool, nil
}
