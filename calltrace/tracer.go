// Package calltrace records the call tree of one transaction and renders it.
package calltrace

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/tracing"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/core/vm"
)

// Frame is one call node.
type Frame struct {
	Type     vm.OpCode
	Depth    int
	From     common.Address
	To       common.Address
	Value    *big.Int
	Gas      uint64
	GasUsed  uint64
	Input    []byte
	Output   []byte
	Reverted bool
	Err      error
	Logs     []*types.Log
	Calls    []*Frame

	logStart int
}

// CallType is the name of the opcode that opened the frame.
func (f *Frame) CallType() string {
	return f.Type.String()
}

// Tracer builds the frame tree from EVM hooks. A Tracer is used for a single
// message; Reset prepares it for the next one.
type Tracer struct {
	root   *Frame
	stack  []*Frame
	logs   []*types.Log
	lastOp vm.OpCode
}

func NewTracer() *Tracer {
	return &Tracer{}
}

// Reset discards everything recorded so far.
func (t *Tracer) Reset() {
	t.root = nil
	t.stack = t.stack[:0]
	t.logs = nil
	t.lastOp = vm.STOP
}

// Root returns the outermost frame, or nil if nothing executed.
func (t *Tracer) Root() *Frame {
	return t.root
}

// LastOp is the last opcode executed by the outermost frame.
func (t *Tracer) LastOp() vm.OpCode {
	return t.lastOp
}

// Logs returns the logs of all frames that did not revert, in emission
// order.
func (t *Tracer) Logs() []*types.Log {
	return t.logs
}

// Hooks returns the hook set feeding this tracer.
func (t *Tracer) Hooks() *tracing.Hooks {
	return &tracing.Hooks{
		OnEnter:  t.OnEnter,
		OnExit:   t.OnExit,
		OnOpcode: t.OnOpcode,
		OnLog:    t.OnLog,
	}
}

func (t *Tracer) OnEnter(depth int, typ byte, from common.Address, to common.Address, input []byte, gas uint64, value *big.Int) {
	f := &Frame{
		Type:  vm.OpCode(typ),
		Depth: depth,
		From:  from,
		To:    to,
		Gas:   gas,
		Input: common.CopyBytes(input),
		Value: new(big.Int),

		logStart: len(t.logs),
	}
	if value != nil {
		f.Value.Set(value)
	}
	if len(t.stack) == 0 {
		t.root = f
	} else {
		parent := t.stack[len(t.stack)-1]
		parent.Calls = append(parent.Calls, f)
	}
	t.stack = append(t.stack, f)
}

func (t *Tracer) OnExit(depth int, output []byte, gasUsed uint64, err error, reverted bool) {
	if len(t.stack) == 0 {
		return
	}
	f := t.stack[len(t.stack)-1]
	t.stack = t.stack[:len(t.stack)-1]

	f.Output = common.CopyBytes(output)
	f.GasUsed = gasUsed
	f.Err = err
	f.Reverted = reverted
	if reverted {
		dropLogs(f)
		t.logs = t.logs[:f.logStart]
	}
}

func (t *Tracer) OnOpcode(pc uint64, op byte, gas, cost uint64, scope tracing.OpContext, rData []byte, depth int, err error) {
	if depth == 1 {
		t.lastOp = vm.OpCode(op)
	}
}

func (t *Tracer) OnLog(l *types.Log) {
	if len(t.stack) == 0 {
		return
	}
	f := t.stack[len(t.stack)-1]
	f.Logs = append(f.Logs, l)
	t.logs = append(t.logs, l)
}

// dropLogs clears the logs of a reverted subtree.
func dropLogs(f *Frame) {
	f.Logs = nil
	for _, c := range f.Calls {
		dropLogs(c)
	}
}

// Flatten lists the frames of the tree rooted at f in call order.
func Flatten(f *Frame) []*Frame {
	if f == nil {
		return nil
	}
	out := []*Frame{f}
	for _, c := range f.Calls {
		out = append(out, Flatten(c)...)
	}
	return out
}
