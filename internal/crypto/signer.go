package crypto

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// TxSigner signs transactions for one account on one chain. It uses the
// latest signer for the chain ID, which covers every typed transaction. The
// executor only builds dynamic-fee ones.
type TxSigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
	chainID *big.Int
	signer  types.Signer
}

// NewTxSigner creates a signer for chainID. chainID is copied, so the
// caller may reuse it.
func NewTxSigner(key *ecdsa.PrivateKey, chainID *big.Int) *TxSigner {
	return &TxSigner{
		key:     key,
		address: ethcrypto.PubkeyToAddress(key.PublicKey),
		chainID: new(big.Int).Set(chainID),
		signer:  types.LatestSignerForChainID(chainID),
	}
}

// Address is the account that signs.
func (s *TxSigner) Address() common.Address { return s.address }

// ChainID is the chain the signatures are valid on.
func (s *TxSigner) ChainID() *big.Int { return new(big.Int).Set(s.chainID) }

// Sign returns a signed copy of tx. tx itself is left untouched. Signing
// fails when tx carries a chain ID other than the signer's.
func (s *TxSigner) Sign(tx *types.Transaction) (*types.Transaction, error) {
	signed, err := types.SignTx(tx, s.signer, s.key)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: sign tx: %w", err)
	}
	return signed, nil
}

// Sender recovers the account that signed tx.
func (s *TxSigner) Sender(tx *types.Transaction) (common.Address, error) {
	return types.Sender(s.signer, tx)
}
