package chain

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
)

type recordingBackend struct {
	msg       ethereum.CallMsg
	block     *big.Int
	overrides map[common.Address]AccountOverride
	ret       []byte
	err       error
}

func (b *recordingBackend) CallContractWithOverrides(_ context.Context, msg ethereum.CallMsg, block *big.Int, overrides map[common.Address]AccountOverride) ([]byte, error) {
	b.msg = msg
	b.block = block
	b.overrides = overrides
	return b.ret, b.err
}

func TestOverrideCaller_InstallDistinctAddresses(t *testing.T) {
	oc := NewOverrideCaller(&recordingBackend{})
	seen := make(map[common.Address]bool)
	for i := 0; i < 64; i++ {
		addr := oc.Install([]byte{0x60, byte(i)})
		if addr == (common.Address{}) {
			t.Fatalf("install returned zero address")
		}
		if seen[addr] {
			t.Fatalf("install reused address %s", addr.Hex())
		}
		seen[addr] = true
	}
}

func TestOverrideCaller_CallCarriesOnlyInstalledOverrides(t *testing.T) {
	backend := &recordingBackend{ret: []byte{0xaa}}
	oc := NewOverrideCaller(backend)
	code := []byte{0x60, 0x00, 0xf3}
	addr := oc.Install(code)

	out, err := oc.Call(context.Background(), addr, []byte{1, 2, 3, 4}, big.NewInt(100))
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if !bytes.Equal(out, []byte{0xaa}) {
		t.Fatalf("result = %x", out)
	}
	if backend.msg.To == nil || *backend.msg.To != addr {
		t.Fatalf("call target = %v, want %s", backend.msg.To, addr.Hex())
	}
	if backend.block.Uint64() != 100 {
		t.Fatalf("block = %v, want 100", backend.block)
	}
	if len(backend.overrides) != 1 {
		t.Fatalf("overrides = %d, want 1", len(backend.overrides))
	}
	if !bytes.Equal(backend.overrides[addr].Code, code) {
		t.Fatalf("override code = %x", backend.overrides[addr].Code)
	}
}

func TestOverrideCaller_InstallCopiesCode(t *testing.T) {
	backend := &recordingBackend{}
	oc := NewOverrideCaller(backend)
	code := []byte{0x01, 0x02}
	addr := oc.Install(code)
	code[0] = 0xff

	if _, err := oc.Call(context.Background(), addr, nil, nil); err != nil {
		t.Fatalf("call: %v", err)
	}
	if backend.overrides[addr].Code[0] != 0x01 {
		t.Fatalf("installed code aliased caller slice")
	}
}

func TestOverrideCaller_PropagatesBackendError(t *testing.T) {
	want := errors.New("execution reverted")
	oc := NewOverrideCaller(&recordingBackend{err: want})
	addr := oc.Install([]byte{0x00})

	_, err := oc.Call(context.Background(), addr, nil, nil)
	if err != want {
		t.Fatalf("err = %v, want the backend error unchanged", err)
	}
}
