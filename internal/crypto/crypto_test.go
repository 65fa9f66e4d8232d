package crypto

import (
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

const testKeyHex = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func TestEncryptDecryptKey(t *testing.T) {
	blob, err := EncryptKey("0x"+testKeyHex, "hunter2")
	if err != nil {
		t.Fatalf("EncryptKey: %v", err)
	}
	if strings.Contains(string(blob), testKeyHex) {
		t.Fatal("key file contains the plaintext key")
	}

	got, err := DecryptKey(blob, "hunter2")
	if err != nil {
		t.Fatalf("DecryptKey: %v", err)
	}
	if got != testKeyHex {
		t.Fatalf("DecryptKey = %s", got)
	}

	if _, err := DecryptKey(blob, "wrong"); err == nil {
		t.Fatal("wrong password should fail")
	}
}

func TestLoadKey(t *testing.T) {
	want, _ := ethcrypto.HexToECDSA(testKeyHex)
	wantAddr := ethcrypto.PubkeyToAddress(want.PublicKey)

	raw, err := LoadKey(KeyConfig{RawPrivateKey: "0x" + testKeyHex})
	if err != nil {
		t.Fatalf("raw: %v", err)
	}
	if ethcrypto.PubkeyToAddress(raw.PublicKey) != wantAddr {
		t.Fatal("raw key mismatch")
	}

	blob, err := EncryptKey(testKeyHex, "pw")
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "key.json")
	if err := os.WriteFile(path, blob, 0o600); err != nil {
		t.Fatal(err)
	}
	fromFile, err := LoadKey(KeyConfig{EncryptedKeyPath: path, KeyPassword: "pw"})
	if err != nil {
		t.Fatalf("file: %v", err)
	}
	if ethcrypto.PubkeyToAddress(fromFile.PublicKey) != wantAddr {
		t.Fatal("file key mismatch")
	}

	if _, err := LoadKey(KeyConfig{}); err == nil {
		t.Fatal("empty config should fail")
	}
	if _, err := LoadKey(KeyConfig{RawPrivateKey: "zz"}); err == nil {
		t.Fatal("invalid hex should fail")
	}
}

func TestTxSigner(t *testing.T) {
	key, _ := ethcrypto.HexToECDSA(testKeyHex)
	s := NewTxSigner(key, big.NewInt(1))

	to := common.HexToAddress("0x00000000000000000000000000000000000a7b00")
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   big.NewInt(1),
		Nonce:     3,
		GasTipCap: big.NewInt(2e9),
		GasFeeCap: big.NewInt(40e9),
		Gas:       250_000,
		To:        &to,
		Data:      []byte{0xde, 0xad},
	})
	signed, err := s.Sign(tx)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	from, err := s.Sender(signed)
	if err != nil {
		t.Fatalf("Sender: %v", err)
	}
	if from != s.Address() {
		t.Fatalf("sender %s, want %s", from.Hex(), s.Address().Hex())
	}
	if s.ChainID().Int64() != 1 {
		t.Fatalf("chain id = %v", s.ChainID())
	}
}
