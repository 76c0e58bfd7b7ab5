package forkbridge

import (
	"math/big"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/tracing"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/core/vm"
)

// maxDiscoveryRounds bounds how often one call is replayed after pulling
// state it touched but that was not loaded yet.
const maxDiscoveryRounds = 64

// touchRecorder watches execution for accounts and slots that have not been
// loaded from the remote ledger.
type touchRecorder struct {
	state       *forkState
	precompiles mapset.Set[common.Address]
	missing     mapset.Set[BatchKey]
}

func newTouchRecorder(s *forkState, precompiles []common.Address) *touchRecorder {
	return &touchRecorder{
		state:       s,
		precompiles: mapset.NewThreadUnsafeSet(precompiles...),
		missing:     mapset.NewThreadUnsafeSet[BatchKey](),
	}
}

func (r *touchRecorder) touchAccount(addr common.Address) {
	if r.precompiles.Contains(addr) || r.state.hasAccount(addr) {
		return
	}
	r.missing.Add(BatchKey{Address: addr})
}

// touchCallee records addr and, once addr is loaded, the target of an
// EIP-7702 delegation in its code, which the EVM runs in place of addr's own.
func (r *touchRecorder) touchCallee(addr common.Address) {
	r.touchAccount(addr)
	if !r.state.hasAccount(addr) {
		return
	}
	if target, ok := types.ParseDelegation(r.state.db.GetCode(addr)); ok {
		r.touchAccount(target)
	}
}

func (r *touchRecorder) touchSlot(addr common.Address, slot common.Hash) {
	if r.state.hasSlot(addr, slot) {
		return
	}
	r.missing.Add(BatchKey{Address: addr, Slot: slot, Storage: true})
}

// keys returns the missing keys, accounts first.
func (r *touchRecorder) keys() []BatchKey {
	var accounts, slots []BatchKey
	for _, k := range r.missing.ToSlice() {
		if k.Storage {
			slots = append(slots, k)
		} else {
			accounts = append(accounts, k)
		}
	}
	return append(accounts, slots...)
}

func (r *touchRecorder) OnEnter(depth int, typ byte, from common.Address, to common.Address, input []byte, gas uint64, value *big.Int) {
	r.touchAccount(from)
	r.touchCallee(to)
}

func (r *touchRecorder) OnOpcode(pc uint64, op byte, gas, cost uint64, scope tracing.OpContext, rData []byte, depth int, err error) {
	stack := scope.StackData()
	if len(stack) == 0 {
		return
	}
	top := stack[len(stack)-1]
	switch vm.OpCode(op) {
	case vm.SLOAD, vm.SSTORE:
		r.touchSlot(scope.Address(), common.Hash(top.Bytes32()))
	case vm.BALANCE, vm.EXTCODESIZE, vm.EXTCODECOPY, vm.EXTCODEHASH, vm.SELFDESTRUCT:
		r.touchAccount(common.Address(top.Bytes20()))
	case vm.CALL, vm.CALLCODE, vm.DELEGATECALL, vm.STATICCALL:
		if len(stack) >= 2 {
			target := stack[len(stack)-2]
			r.touchCallee(common.Address(target.Bytes20()))
		}
	}
}
