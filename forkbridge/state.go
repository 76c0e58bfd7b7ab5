package forkbridge

import (
	"context"
	"fmt"
	"math/big"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/ethereum/go-ethereum/core/state"
	"github.com/ethereum/go-ethereum/core/tracing"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/triedb"
	"github.com/holiman/uint256"
)

// forkState is an in-memory StateDB filled lazily from a remote ledger pinned
// at one block. It tracks which accounts and slots have been pulled so that
// each remote value is loaded at most once and never over a local write.
type forkState struct {
	db     *state.StateDB
	reader Reader
	block  *big.Int // remote reads are pinned here

	cache *remoteCache
	scope []byte

	accounts mapset.Set[common.Address]
	slots    map[common.Address]mapset.Set[common.Hash]
	// wiped accounts had their storage replaced; unloaded slots read zero.
	wiped mapset.Set[common.Address]

	prefetchLimit int
}

func newForkState(reader Reader, block *big.Int, cache *remoteCache, scope []byte, prefetchLimit int) (*forkState, error) {
	db, err := state.New(types.EmptyRootHash, state.NewDatabase(triedb.NewDatabase(rawdb.NewMemoryDatabase(), nil), nil))
	if err != nil {
		return nil, fmt.Errorf("failed to create state: %w", err)
	}
	if prefetchLimit <= 0 {
		prefetchLimit = defaultPrefetchLimit
	}
	return &forkState{
		db:            db,
		reader:        reader,
		block:         new(big.Int).Set(block),
		cache:         cache,
		scope:         scope,
		accounts:      mapset.NewThreadUnsafeSet[common.Address](),
		slots:         make(map[common.Address]mapset.Set[common.Hash]),
		wiped:         mapset.NewThreadUnsafeSet[common.Address](),
		prefetchLimit: prefetchLimit,
	}, nil
}

func (s *forkState) hasAccount(addr common.Address) bool {
	return s.accounts.Contains(addr)
}

func (s *forkState) hasSlot(addr common.Address, slot common.Hash) bool {
	if s.wiped.Contains(addr) {
		return true
	}
	set, ok := s.slots[addr]
	return ok && set.Contains(slot)
}

func (s *forkState) markSlot(addr common.Address, slot common.Hash) {
	set, ok := s.slots[addr]
	if !ok {
		set = mapset.NewThreadUnsafeSet[common.Hash]()
		s.slots[addr] = set
	}
	set.Add(slot)
}

// fetchAccount reads an account from the cache or the remote ledger. It is
// safe to call concurrently.
func (s *forkState) fetchAccount(ctx context.Context, addr common.Address) (*remoteAccount, error) {
	if acc, ok := s.cache.account(s.scope, addr); ok {
		return acc, nil
	}
	balance, err := s.reader.BalanceAt(ctx, addr, s.block)
	if err != nil {
		return nil, fmt.Errorf("balance of %s: %w", addr, err)
	}
	nonce, err := s.reader.NonceAt(ctx, addr, s.block)
	if err != nil {
		return nil, fmt.Errorf("nonce of %s: %w", addr, err)
	}
	code, err := s.reader.CodeAt(ctx, addr, s.block)
	if err != nil {
		return nil, fmt.Errorf("code of %s: %w", addr, err)
	}
	if balance == nil {
		balance = new(big.Int)
	}
	acc := &remoteAccount{Balance: balance, Nonce: nonce, Code: code}
	accountLoadCounter.Inc(1)
	s.cache.setAccount(s.scope, addr, acc)
	return acc, nil
}

// fetchSlot reads a storage slot from the cache or the remote ledger. It is
// safe to call concurrently.
func (s *forkState) fetchSlot(ctx context.Context, addr common.Address, slot common.Hash) (common.Hash, error) {
	if v, ok := s.cache.slot(s.scope, addr, slot); ok {
		return v, nil
	}
	raw, err := s.reader.StorageAt(ctx, addr, slot, s.block)
	if err != nil {
		return common.Hash{}, fmt.Errorf("storage %s[%s]: %w", addr, slot, err)
	}
	v := common.BytesToHash(raw)
	storageLoadCounter.Inc(1)
	s.cache.setSlot(s.scope, addr, slot, v)
	return v, nil
}

// installAccount writes a fetched account into the local state.
func (s *forkState) installAccount(addr common.Address, acc *remoteAccount) {
	if s.accounts.Contains(addr) {
		return
	}
	s.accounts.Add(addr)
	if acc.empty() {
		return
	}
	bal, _ := uint256.FromBig(acc.Balance)
	s.db.SetBalance(addr, bal, tracing.BalanceChangeUnspecified)
	s.db.SetNonce(addr, acc.Nonce, tracing.NonceChangeUnspecified)
	if len(acc.Code) > 0 {
		s.db.SetCode(addr, acc.Code)
	}
}

// installSlot writes a fetched slot into the local state.
func (s *forkState) installSlot(addr common.Address, slot, value common.Hash) {
	if s.hasSlot(addr, slot) {
		return
	}
	s.markSlot(addr, slot)
	if value != (common.Hash{}) {
		s.db.SetState(addr, slot, value)
	}
}

// account returns the local view of addr, loading it first if needed.
func (s *forkState) account(ctx context.Context, addr common.Address) (*uint256.Int, uint64, []byte, error) {
	if err := s.prefetch(ctx, []BatchKey{{Address: addr}}); err != nil {
		return nil, 0, nil, err
	}
	return s.db.GetBalance(addr).Clone(), s.db.GetNonce(addr), common.CopyBytes(s.db.GetCode(addr)), nil
}

// wipeStorage zeroes every slot known locally for addr and stops further
// remote storage loads for it.
func (s *forkState) wipeStorage(addr common.Address) {
	if set, ok := s.slots[addr]; ok {
		for slot := range set.Iter() {
			s.db.SetState(addr, slot, common.Hash{})
		}
	}
	s.wiped.Add(addr)
}

// setSlot writes a slot locally and marks it loaded so remote data never
// overwrites it.
func (s *forkState) setSlot(addr common.Address, slot, value common.Hash) {
	s.markSlot(addr, slot)
	s.db.SetState(addr, slot, value)
}
