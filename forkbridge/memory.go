package forkbridge

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/params"
)

// MemoryReader serves a fixed allocation as if it were a remote ledger whose
// every historical block has the same state. It backs the dev mode and tests.
type MemoryReader struct {
	chainID *big.Int
	alloc   types.GenesisAlloc
	head    *types.Header
}

// NewMemoryReader builds a reader with head block number head at time ts.
func NewMemoryReader(chainID uint64, alloc types.GenesisAlloc, head uint64, ts uint64) *MemoryReader {
	if alloc == nil {
		alloc = types.GenesisAlloc{}
	}
	return &MemoryReader{
		chainID: new(big.Int).SetUint64(chainID),
		alloc:   alloc,
		head:    syntheticHeader(head, ts),
	}
}

func syntheticHeader(number, ts uint64) *types.Header {
	return &types.Header{
		Number:     new(big.Int).SetUint64(number),
		Time:       ts,
		GasLimit:   30_000_000,
		BaseFee:    big.NewInt(params.InitialBaseFee),
		Difficulty: new(big.Int),
	}
}

func (m *MemoryReader) ChainID(context.Context) (*big.Int, error) {
	return new(big.Int).Set(m.chainID), nil
}

func (m *MemoryReader) HeaderByNumber(_ context.Context, number *big.Int) (*types.Header, error) {
	if number == nil {
		return types.CopyHeader(m.head), nil
	}
	head := m.head.Number.Uint64()
	if !number.IsUint64() || number.Uint64() > head {
		return nil, ethereum.NotFound
	}
	n := number.Uint64()
	var ts uint64
	if elapsed := (head - n) * 12; elapsed < m.head.Time {
		ts = m.head.Time - elapsed
	}
	return syntheticHeader(n, ts), nil
}

func (m *MemoryReader) BalanceAt(_ context.Context, account common.Address, _ *big.Int) (*big.Int, error) {
	if acc, ok := m.alloc[account]; ok && acc.Balance != nil {
		return new(big.Int).Set(acc.Balance), nil
	}
	return new(big.Int), nil
}

func (m *MemoryReader) NonceAt(_ context.Context, account common.Address, _ *big.Int) (uint64, error) {
	return m.alloc[account].Nonce, nil
}

func (m *MemoryReader) CodeAt(_ context.Context, account common.Address, _ *big.Int) ([]byte, error) {
	return common.CopyBytes(m.alloc[account].Code), nil
}

func (m *MemoryReader) StorageAt(_ context.Context, account common.Address, key common.Hash, _ *big.Int) ([]byte, error) {
	v := m.alloc[account].Storage[key]
	return v.Bytes(), nil
}

func (m *MemoryReader) Close() {}
