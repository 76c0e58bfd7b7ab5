package calltrace

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/vm"
)

// Decoder resolves human readable names for trace rendering. Both lookups
// are best-effort and return "" when nothing is known.
type Decoder interface {
	ContractName(ctx context.Context, addr common.Address) string
	FunctionSignature(ctx context.Context, selector [4]byte) string
}

// Format renders the tree rooted at root. dec may be nil.
func Format(ctx context.Context, root *Frame, dec Decoder) string {
	if root == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString("Traces:\n")
	writeFrame(ctx, &b, root, dec, "  ", "  ")
	return b.String()
}

func writeFrame(ctx context.Context, b *strings.Builder, f *Frame, dec Decoder, head, pad string) {
	b.WriteString(head)
	fmt.Fprintf(b, "[%d] %s::%s", f.GasUsed, label(ctx, f.To, dec), callName(ctx, f, dec))
	if f.Value != nil && f.Value.Sign() > 0 {
		fmt.Fprintf(b, "{value: %s}", f.Value)
	}
	if f.Type != vm.CALL {
		fmt.Fprintf(b, " [%s]", strings.ToLower(f.Type.String()))
	}
	b.WriteByte('\n')

	for _, l := range f.Logs {
		topics := make([]string, len(l.Topics))
		for i, t := range l.Topics {
			topics[i] = t.Hex()
		}
		fmt.Fprintf(b, "%s├─ emit topics: [%s] data: %s\n", pad, strings.Join(topics, ", "), hexutil.Encode(l.Data))
	}
	for _, c := range f.Calls {
		writeFrame(ctx, b, c, dec, pad+"├─ ", pad+"│  ")
	}
	fmt.Fprintf(b, "%s└─ ← %s\n", pad, outcome(f))
}

func label(ctx context.Context, addr common.Address, dec Decoder) string {
	if dec != nil {
		if name := dec.ContractName(ctx, addr); name != "" {
			return name
		}
	}
	return addr.Hex()
}

func callName(ctx context.Context, f *Frame, dec Decoder) string {
	if f.Type == vm.CREATE || f.Type == vm.CREATE2 {
		return "new"
	}
	if len(f.Input) < 4 {
		if len(f.Input) == 0 {
			return "fallback()"
		}
		return hexutil.Encode(f.Input)
	}
	var sel [4]byte
	copy(sel[:], f.Input[:4])
	args := hexutil.Encode(f.Input[4:])
	if dec != nil {
		if sig := dec.FunctionSignature(ctx, sel); sig != "" {
			if i := strings.IndexByte(sig, '('); i > 0 {
				sig = sig[:i]
			}
			return fmt.Sprintf("%s(%s)", sig, args)
		}
	}
	return fmt.Sprintf("%s(%s)", hexutil.Encode(sel[:]), args)
}

func outcome(f *Frame) string {
	switch {
	case f.Err != nil && !errors.Is(f.Err, vm.ErrExecutionReverted):
		return "[" + f.Err.Error() + "]"
	case f.Reverted:
		return "[Revert] " + hexutil.Encode(f.Output)
	case f.Type == vm.CREATE || f.Type == vm.CREATE2:
		return fmt.Sprintf("%d bytes of code", len(f.Output))
	}
	return hexutil.Encode(f.Output)
}
