package chain

import (
	"context"
	"crypto/rand"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
)

// OverrideBackend executes a non-committing call with state overrides.
type OverrideBackend interface {
	CallContractWithOverrides(ctx context.Context, msg ethereum.CallMsg, block *big.Int, overrides map[common.Address]AccountOverride) ([]byte, error)
}

// OverrideCaller makes never-deployed bytecode callable. Installed code only
// exists inside the simulated calls issued through this caller; every other
// account is read from the live state at the requested block.
type OverrideCaller struct {
	backend OverrideBackend

	mu        sync.RWMutex
	overrides map[common.Address]AccountOverride
}

// NewOverrideCaller wraps backend with an empty override set.
func NewOverrideCaller(backend OverrideBackend) *OverrideCaller {
	return &OverrideCaller{
		backend:   backend,
		overrides: make(map[common.Address]AccountOverride),
	}
}

// Install places code at a fresh random address and returns it.
func (o *OverrideCaller) Install(code []byte) common.Address {
	o.mu.Lock()
	defer o.mu.Unlock()
	for {
		var addr common.Address
		if _, err := rand.Read(addr[:]); err != nil {
			panic("chain: crypto/rand failed: " + err.Error())
		}
		if _, taken := o.overrides[addr]; taken || addr == (common.Address{}) {
			continue
		}
		o.overrides[addr] = AccountOverride{Code: common.CopyBytes(code)}
		return addr
	}
}

// InstallAt places code at a caller-chosen address, replacing any previous
// override there.
func (o *OverrideCaller) InstallAt(addr common.Address, code []byte) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.overrides[addr] = AccountOverride{Code: common.CopyBytes(code)}
}

// Call runs calldata against to at block (nil means latest). Backend errors
// are returned as-is.
func (o *OverrideCaller) Call(ctx context.Context, to common.Address, data []byte, block *big.Int) ([]byte, error) {
	return o.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, block)
}

// CallContract implements ethereum.ContractCaller.
func (o *OverrideCaller) CallContract(ctx context.Context, msg ethereum.CallMsg, block *big.Int) ([]byte, error) {
	o.mu.RLock()
	overrides := make(map[common.Address]AccountOverride, len(o.overrides))
	for addr, ov := range o.overrides {
		overrides[addr] = ov
	}
	o.mu.RUnlock()
	return o.backend.CallContractWithOverrides(ctx, msg, block, overrides)
}

var _ ethereum.ContractCaller = (*OverrideCaller)(nil)
