package calltrace

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/core/vm"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	token = common.HexToAddress("0x0000000000000000000000000000000000000707")
	vault = common.HexToAddress("0x0000000000000000000000000000000000000bee")
)

func buildTree(t *Tracer) {
	t.OnEnter(0, byte(vm.CALL), alice, token, []byte{0xa9, 0x05, 0x9c, 0xbb, 0x01}, 100000, big.NewInt(5))
	t.OnOpcode(0, byte(vm.CALL), 0, 0, nil, nil, 1, nil)
	t.OnEnter(1, byte(vm.STATICCALL), token, vault, nil, 5000, nil)
	t.OnLog(&types.Log{Address: vault})
	t.OnExit(1, []byte{0x01}, 300, vm.ErrExecutionReverted, true)
	t.OnLog(&types.Log{Address: token, Topics: []common.Hash{{0x01}}})
	t.OnOpcode(10, byte(vm.RETURN), 0, 0, nil, nil, 1, nil)
	t.OnExit(0, []byte{0x02}, 21000, nil, false)
}

func TestTracerTree(t *testing.T) {
	tr := NewTracer()
	buildTree(tr)

	root := tr.Root()
	if root == nil {
		t.Fatalf("no root frame")
	}
	if root.CallType() != "CALL" || root.Value.Int64() != 5 || root.GasUsed != 21000 {
		t.Fatalf("unexpected root: %+v", root)
	}
	if len(root.Calls) != 1 || root.Calls[0].CallType() != "STATICCALL" {
		t.Fatalf("unexpected children: %+v", root.Calls)
	}
	if !root.Calls[0].Reverted || len(root.Calls[0].Logs) != 0 {
		t.Fatalf("reverted frame kept logs")
	}
	if len(root.Logs) != 1 {
		t.Fatalf("want 1 root log, got %d", len(root.Logs))
	}
	if logs := tr.Logs(); len(logs) != 1 || logs[0].Address != token {
		t.Fatalf("reverted log leaked: %v", logs)
	}
	if tr.LastOp() != vm.RETURN {
		t.Fatalf("last op %v", tr.LastOp())
	}
	flat := Flatten(root)
	if len(flat) != 2 || flat[1].To != vault {
		t.Fatalf("flatten order wrong: %v", flat)
	}

	tr.Reset()
	if tr.Root() != nil || tr.LastOp() != vm.STOP {
		t.Fatalf("reset did not clear state")
	}
}

type stubDecoder struct{}

func (stubDecoder) ContractName(_ context.Context, addr common.Address) string {
	if addr == token {
		return "Token"
	}
	return ""
}

func (stubDecoder) FunctionSignature(_ context.Context, sel [4]byte) string {
	if sel == [4]byte{0xa9, 0x05, 0x9c, 0xbb} {
		return "transfer(address,uint256)"
	}
	return ""
}

func TestFormat(t *testing.T) {
	tr := NewTracer()
	buildTree(tr)

	out := Format(context.Background(), tr.Root(), stubDecoder{})
	for _, want := range []string{
		"[21000] Token::transfer(0x01){value: 5}",
		"├─ [300] " + vault.Hex() + "::fallback() [staticcall]",
		"└─ ← [Revert] 0x01",
		"└─ ← 0x02",
		"emit topics",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in:\n%s", want, out)
		}
	}
	plain := Format(context.Background(), tr.Root(), nil)
	if !strings.Contains(plain, token.Hex()+"::0xa9059cbb(0x01)") {
		t.Fatalf("undecoded output wrong:\n%s", plain)
	}
	if Format(context.Background(), nil, nil) != "" {
		t.Fatalf("nil root must render empty")
	}
}

func TestClassifyExit(t *testing.T) {
	cases := []struct {
		err  error
		last vm.OpCode
		want ExitReason
	}{
		{nil, vm.STOP, ExitStop},
		{nil, vm.RETURN, ExitReturn},
		{nil, vm.SELFDESTRUCT, ExitSelfDestruct},
		{vm.ErrExecutionReverted, vm.REVERT, ExitRevert},
		{vm.ErrOutOfGas, vm.SSTORE, ExitOutOfGas},
		{vm.ErrDepth, vm.CALL, ExitCallTooDeep},
		{vm.ErrWriteProtection, vm.SSTORE, ExitStateChangeDuringStaticCall},
		{errors.New("boom"), vm.STOP, ExitFatalExternalError},
	}
	for _, c := range cases {
		if got := ClassifyExit(c.err, c.last); got != c.want {
			t.Fatalf("ClassifyExit(%v, %v) = %v, want %v", c.err, c.last, got, c.want)
		}
	}
}
