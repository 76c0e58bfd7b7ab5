package forkbridge

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core"
	"github.com/ethereum/go-ethereum/core/state"
	"github.com/ethereum/go-ethereum/core/tracing"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/core/vm"

	"github.com/clydemeng/forksim/calltrace"
	"github.com/clydemeng/forksim/core/engine"
)

// applied is the raw outcome of one message application.
type applied struct {
	result *core.ExecutionResult
	logs   []*types.Log
	root   *calltrace.Frame
	lastOp vm.OpCode
}

// toMessage converts call metadata into a gas-free message that skips nonce
// and sender-code checks.
func toMessage(call *engine.CallMetadata) *core.Message {
	to := call.To
	value := new(big.Int)
	if call.Value != nil {
		value = call.Value.ToBig()
	}
	return &core.Message{
		From:             call.From,
		To:               &to,
		Value:            value,
		GasLimit:         call.GasLimit,
		GasPrice:         new(big.Int),
		GasFeeCap:        new(big.Int),
		GasTipCap:        new(big.Int),
		Data:             call.Data,
		AccessList:       call.AccessList,
		SkipNonceChecks:  true,
		SkipFromEOACheck: true,
	}
}

// blockContext builds the block environment a call executes in.
func (c *forkContext) blockContext(gasLimit uint64) vm.BlockContext {
	random := c.header.MixDigest
	return vm.BlockContext{
		CanTransfer: core.CanTransfer,
		Transfer:    core.Transfer,
		GetHash:     c.blockHash,
		Coinbase:    c.header.Coinbase,
		GasLimit:    gasLimit,
		BlockNumber: new(big.Int).SetUint64(c.number),
		Time:        c.time,
		Difficulty:  new(big.Int),
		BaseFee:     baseFee(c.header),
		BlobBaseFee: big.NewInt(1),
		Random:      &random,
	}
}

func baseFee(h *types.Header) *big.Int {
	if h.BaseFee == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(h.BaseFee)
}

// applyMessage runs one message against the live state with rec and the
// call tracer attached. The caller owns snapshot handling.
func (c *forkContext) applyMessage(call *engine.CallMetadata, rec *touchRecorder) (*applied, error) {
	c.tracer.Reset()
	th := c.tracer.Hooks()
	hooks := &tracing.Hooks{
		OnEnter: func(depth int, typ byte, from common.Address, to common.Address, input []byte, gas uint64, value *big.Int) {
			rec.OnEnter(depth, typ, from, to, input, gas, value)
			th.OnEnter(depth, typ, from, to, input, gas, value)
		},
		OnExit: th.OnExit,
		OnOpcode: func(pc uint64, op byte, gas, cost uint64, scope tracing.OpContext, rData []byte, depth int, err error) {
			rec.OnOpcode(pc, op, gas, cost, scope, rData, depth, err)
			th.OnOpcode(pc, op, gas, cost, scope, rData, depth, err)
		},
		OnLog: th.OnLog,
	}
	gasLimit := c.gasLimit
	if call.GasLimit > gasLimit {
		gasLimit = call.GasLimit
	}
	statedb := state.NewHookedState(c.state.db, hooks)
	evm := vm.NewEVM(c.blockContext(gasLimit), statedb, c.config, vm.Config{Tracer: hooks, NoBaseFee: true})

	msg := toMessage(call)
	evm.SetTxContext(core.NewEVMTxContext(msg))
	result, err := core.ApplyMessage(evm, msg, new(core.GasPool).AddGas(gasLimit))
	if err != nil {
		if errors.Is(err, core.ErrIntrinsicGas) || errors.Is(err, core.ErrGasLimitReached) {
			return nil, errors.Join(engine.ErrOutOfGas, err)
		}
		return nil, err
	}
	logs := c.tracer.Logs()
	for _, l := range logs {
		l.BlockNumber = c.number
	}
	return &applied{result: result, logs: logs, root: c.tracer.Root(), lastOp: c.tracer.LastOp()}, nil
}
