package forkbridge

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/lru"
	"github.com/ethereum/go-ethereum/core/tracing"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/params"

	"github.com/clydemeng/forksim/calltrace"
	"github.com/clydemeng/forksim/core/engine"
)

// forkContext is an engine.Context over a forkState.
type forkContext struct {
	ctx    context.Context // used only for BLOCKHASH lookups during a call
	state  *forkState
	reader Reader
	header *types.Header // header of the fork block
	config *params.ChainConfig

	chainID  uint64
	number   uint64
	time     uint64
	gasLimit uint64

	hashes lru.BasicLRU[uint64, common.Hash]
	tracer *calltrace.Tracer
	closed bool
}

func (c *forkContext) ChainID() uint64     { return c.chainID }
func (c *forkContext) BlockNumber() uint64 { return c.number }
func (c *forkContext) Timestamp() uint64   { return c.time }
func (c *forkContext) GasLimit() uint64    { return c.gasLimit }

// SetBlockNumber only moves the block environment; remote reads stay pinned
// at the fork block.
func (c *forkContext) SetBlockNumber(n uint64) error {
	if c.closed {
		return engine.ErrClosed
	}
	c.number = n
	return nil
}

func (c *forkContext) SetTimestamp(ts uint64) error {
	if c.closed {
		return engine.ErrClosed
	}
	c.time = ts
	return nil
}

func (c *forkContext) Account(ctx context.Context, addr common.Address) (*engine.AccountState, error) {
	if c.closed {
		return nil, engine.ErrClosed
	}
	balance, nonce, code, err := c.state.account(ctx, addr)
	if err != nil {
		return nil, err
	}
	return &engine.AccountState{Balance: balance, Nonce: nonce, Code: code}, nil
}

func (c *forkContext) Apply(ctx context.Context, addr common.Address, m *engine.AccountMutation) error {
	if c.closed {
		return engine.ErrClosed
	}
	if err := c.state.prefetch(ctx, []BatchKey{{Address: addr}}); err != nil {
		return err
	}
	if m.ClearStorage {
		c.state.wipeStorage(addr)
	}
	if m.Balance != nil {
		c.state.db.SetBalance(addr, m.Balance, tracing.BalanceChangeUnspecified)
	}
	c.state.db.SetNonce(addr, m.Nonce, tracing.NonceChangeUnspecified)
	c.state.db.SetCode(addr, m.Code)
	for slot, value := range m.Storage {
		c.state.setSlot(addr, slot, value)
	}
	// Settle the override outside the next call's journal so that a
	// committing call does not drop it as an empty account.
	c.state.db.Finalise(false)
	return nil
}

// Call runs the message, replaying it while execution keeps touching state
// that has not been pulled from the remote ledger yet.
func (c *forkContext) Call(ctx context.Context, call *engine.CallMetadata, commit bool) (*engine.CallResult, error) {
	if c.closed {
		return nil, engine.ErrClosed
	}
	defer callTimer.UpdateSince(time.Now())

	accounts, slots := call.Keys()
	accounts = append(accounts, c.header.Coinbase)
	keys := make([]BatchKey, 0, len(accounts))
	for _, addr := range accounts {
		keys = append(keys, BatchKey{Address: addr})
	}
	for addr, list := range slots {
		for _, slot := range list {
			keys = append(keys, BatchKey{Address: addr, Slot: slot, Storage: true})
		}
	}
	if err := c.state.prefetch(ctx, keys); err != nil {
		return nil, err
	}
	if commit {
		c.gasLimit = call.GasLimit
	}
	c.ctx = ctx
	defer func() { c.ctx = nil }()

	precompiles := vm.ActivePrecompiles(c.config.Rules(new(big.Int).SetUint64(c.number), true, c.time))
	for round := 1; ; round++ {
		rec := newTouchRecorder(c.state, precompiles)
		snap := c.state.db.Snapshot()
		out, err := c.applyMessage(call, rec)

		if missing := rec.keys(); len(missing) > 0 {
			c.state.db.RevertToSnapshot(snap)
			if round >= maxDiscoveryRounds {
				return nil, fmt.Errorf("state discovery did not settle after %d rounds", round)
			}
			discoveryMeter.Mark(1)
			log.Trace("Replaying call after loading state", "round", round, "keys", len(missing))
			if err := c.state.prefetch(ctx, missing); err != nil {
				return nil, err
			}
			continue
		}
		if err != nil {
			c.state.db.RevertToSnapshot(snap)
			return nil, err
		}
		if commit {
			c.state.db.Finalise(true)
		} else {
			c.state.db.RevertToSnapshot(snap)
		}
		return &engine.CallResult{
			GasUsed:     out.result.UsedGas,
			BlockNumber: c.number,
			Success:     !out.result.Failed(),
			ExitReason:  calltrace.ClassifyExit(out.result.Err, out.lastOp),
			ReturnData:  common.CopyBytes(out.result.ReturnData),
			Logs:        out.logs,
			Trace:       out.root,
		}, nil
	}
}

// blockHash serves BLOCKHASH. Blocks up to the fork block come from the
// remote ledger; later blocks only exist locally and get a synthetic hash.
func (c *forkContext) blockHash(n uint64) common.Hash {
	if h, ok := c.hashes.Get(n); ok {
		return h
	}
	var hash common.Hash
	if fork := c.header.Number.Uint64(); n > fork {
		var enc [8]byte
		binary.BigEndian.PutUint64(enc[:], n)
		hash = crypto.Keccak256Hash(c.header.Hash().Bytes(), enc[:])
	} else if n == fork {
		hash = c.header.Hash()
	} else {
		ctx := c.ctx
		if ctx == nil {
			ctx = context.Background()
		}
		h, err := c.reader.HeaderByNumber(ctx, new(big.Int).SetUint64(n))
		if err != nil {
			log.Debug("Block hash lookup failed", "number", n, "err", err)
			return common.Hash{}
		}
		hash = h.Hash()
	}
	c.hashes.Add(n, hash)
	return hash
}

func (c *forkContext) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.reader.Close()
	contextGauge.Dec(1)
	return nil
}
