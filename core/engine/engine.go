// Package engine is the narrow capability boundary between the simulation
// orchestrator and the EVM backend that actually executes calls.
package engine

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"

	"github.com/clydemeng/forksim/calltrace"
)

// ErrOutOfGas marks call failures caused by the supplied gas limit rather
// than by execution.
var ErrOutOfGas = errors.New("call gas cost exceeds gas limit")

// ErrClosed is returned by operations on a closed context.
var ErrClosed = errors.New("execution context closed")

// ForkOptions selects where and how a new context is forked.
type ForkOptions struct {
	URL         string
	BlockNumber *uint64 // nil means latest
	GasLimit    uint64
}

// Engine creates execution contexts.
type Engine interface {
	// Engine returns a short human identifier ("rpc-fork", "dev" …).
	Engine() string

	// Fork creates a context seeded from the ledger at opts.URL.
	Fork(ctx context.Context, opts ForkOptions) (Context, error)
}

// Context is one forked ledger plus its block environment. Implementations
// are not safe for concurrent use; callers serialize access.
type Context interface {
	ChainID() uint64
	BlockNumber() uint64
	Timestamp() uint64
	GasLimit() uint64

	// SetBlockNumber changes the block environment seen by later calls.
	SetBlockNumber(n uint64) error
	// SetTimestamp changes the block timestamp seen by later calls.
	SetTimestamp(ts uint64) error

	// Account reads the current balance, nonce and code of addr.
	Account(ctx context.Context, addr common.Address) (*AccountState, error)
	// Apply writes a translated override into the ledger.
	Apply(ctx context.Context, addr common.Address, m *AccountMutation) error

	// Call executes one message. A committing call persists its effects and
	// raises the gas ceiling to the call's gas limit; a non-committing call
	// leaves the ledger untouched.
	Call(ctx context.Context, call *CallMetadata, commit bool) (*CallResult, error)

	Close() error
}

// AccountState is the observable state of one account.
type AccountState struct {
	Balance *uint256.Int
	Nonce   uint64
	Code    []byte
}

// AccountMutation is a full replacement of an account's basic fields, plus a
// storage update. With ClearStorage every slot not listed in Storage reads
// zero afterwards.
type AccountMutation struct {
	Balance      *uint256.Int
	Nonce        uint64
	Code         []byte
	ClearStorage bool
	Storage      map[common.Hash]common.Hash
}

// CallResult is the outcome of one executed message.
type CallResult struct {
	GasUsed     uint64
	BlockNumber uint64
	Success     bool
	ExitReason  calltrace.ExitReason
	ReturnData  []byte
	Logs        []*types.Log
	Trace       *calltrace.Frame
}
