package core

import (
	"bytes"
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/ethereum/go-ethereum/common"

	"github.com/clydemeng/forksim/core/engine"
	"github.com/clydemeng/forksim/numeric"
)

// translateOverride merges ov into the current account state. Fields absent
// from ov keep their current value.
func translateOverride(current *engine.AccountState, ov *StateOverride) *engine.AccountMutation {
	m := &engine.AccountMutation{
		Balance: current.Balance,
		Nonce:   current.Nonce,
		Code:    current.Code,
	}
	if ov.Balance != nil {
		m.Balance = ov.Balance.Value()
	}
	if ov.Nonce != nil {
		m.Nonce = uint64(*ov.Nonce)
	}
	if ov.Code != nil {
		m.Code = common.CopyBytes(*ov.Code)
	}
	switch {
	case ov.State != nil:
		m.ClearStorage = true
		m.Storage = storageSlots(ov.State)
	case ov.StateDiff != nil:
		m.Storage = storageSlots(ov.StateDiff)
	}
	return m
}

func storageSlots(in map[common.Hash]*numeric.Uint256) map[common.Hash]common.Hash {
	out := make(map[common.Hash]common.Hash, len(in))
	for slot, v := range in {
		out[slot] = common.Hash(v.Value().Bytes32())
	}
	return out
}

// applyOverrides reads every overridden account, translates all overrides and
// only then writes them, so a failed read leaves the ledger unchanged.
func applyOverrides(ctx context.Context, ectx engine.Context, overrides map[common.Address]*StateOverride) error {
	if len(overrides) == 0 {
		return nil
	}
	addrs := slices.SortedFunc(maps.Keys(overrides), func(a, b common.Address) int {
		return bytes.Compare(a[:], b[:])
	})
	mutations := make([]*engine.AccountMutation, len(addrs))
	for i, addr := range addrs {
		ov := overrides[addr]
		if ov == nil {
			continue
		}
		current, err := ectx.Account(ctx, addr)
		if err != nil {
			return NewError(KindOverride, fmt.Sprintf("read %s", addr), err)
		}
		mutations[i] = translateOverride(current, ov)
	}
	for i, addr := range addrs {
		if mutations[i] == nil {
			continue
		}
		if err := ectx.Apply(ctx, addr, mutations[i]); err != nil {
			return NewError(KindOverride, fmt.Sprintf("apply %s", addr), err)
		}
	}
	return nil
}
