package calltrace

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/core/vm"
)

// ExitReason is the machine-readable reason the outermost frame halted.
type ExitReason int

const (
	ExitStop ExitReason = iota
	ExitReturn
	ExitSelfDestruct
	ExitRevert
	ExitCallTooDeep
	ExitOutOfFunds
	ExitOutOfGas
	ExitOpcodeNotFound
	ExitInvalidFEOpcode
	ExitInvalidJump
	ExitStackUnderflow
	ExitStackOverflow
	ExitOutOfOffset
	ExitCreateCollision
	ExitNonceOverflow
	ExitCreateContractSizeLimit
	ExitCreateContractStartingWithEF
	ExitStateChangeDuringStaticCall
	ExitPrecompileError
	ExitFatalExternalError
)

// String returns the name used on the wire.
func (r ExitReason) String() string {
	switch r {
	case ExitStop:
		return "Stop"
	case ExitReturn:
		return "Return"
	case ExitSelfDestruct:
		return "SelfDestruct"
	case ExitRevert:
		return "Revert"
	case ExitCallTooDeep:
		return "CallTooDeep"
	case ExitOutOfFunds:
		return "OutOfFund"
	case ExitOutOfGas:
		return "OutOfGas"
	case ExitOpcodeNotFound:
		return "OpcodeNotFound"
	case ExitInvalidFEOpcode:
		return "InvalidFEOpcode"
	case ExitInvalidJump:
		return "InvalidJump"
	case ExitStackUnderflow:
		return "StackUnderflow"
	case ExitStackOverflow:
		return "StackOverflow"
	case ExitOutOfOffset:
		return "OutOfOffset"
	case ExitCreateCollision:
		return "CreateCollision"
	case ExitNonceOverflow:
		return "NonceOverflow"
	case ExitCreateContractSizeLimit:
		return "CreateContractSizeLimit"
	case ExitCreateContractStartingWithEF:
		return "CreateContractStartingWithEF"
	case ExitStateChangeDuringStaticCall:
		return "StateChangeDuringStaticCall"
	case ExitPrecompileError:
		return "PrecompileError"
	case ExitFatalExternalError:
		return "FatalExternalError"
	}
	return "Unknown"
}

func (r ExitReason) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

// ClassifyExit maps the error of the outermost frame to an ExitReason. last
// is the final opcode executed by that frame, used to tell STOP, RETURN and
// SELFDESTRUCT apart on success.
func ClassifyExit(err error, last vm.OpCode) ExitReason {
	if err == nil {
		switch last {
		case vm.RETURN:
			return ExitReturn
		case vm.SELFDESTRUCT:
			return ExitSelfDestruct
		}
		return ExitStop
	}
	var (
		underflow *vm.ErrStackUnderflow
		overflow  *vm.ErrStackOverflow
		invalid   *vm.ErrInvalidOpCode
	)
	switch {
	case errors.Is(err, vm.ErrExecutionReverted):
		return ExitRevert
	case errors.Is(err, vm.ErrOutOfGas), errors.Is(err, vm.ErrCodeStoreOutOfGas), errors.Is(err, vm.ErrGasUintOverflow):
		return ExitOutOfGas
	case errors.Is(err, vm.ErrDepth):
		return ExitCallTooDeep
	case errors.Is(err, vm.ErrInsufficientBalance):
		return ExitOutOfFunds
	case errors.Is(err, vm.ErrContractAddressCollision):
		return ExitCreateCollision
	case errors.Is(err, vm.ErrMaxCodeSizeExceeded):
		return ExitCreateContractSizeLimit
	case errors.Is(err, vm.ErrInvalidCode):
		return ExitCreateContractStartingWithEF
	case errors.Is(err, vm.ErrWriteProtection):
		return ExitStateChangeDuringStaticCall
	case errors.Is(err, vm.ErrReturnDataOutOfBounds):
		return ExitOutOfOffset
	case errors.Is(err, vm.ErrInvalidJump):
		return ExitInvalidJump
	case errors.Is(err, vm.ErrNonceUintOverflow):
		return ExitNonceOverflow
	case errors.As(err, &underflow):
		return ExitStackUnderflow
	case errors.As(err, &overflow):
		return ExitStackOverflow
	case errors.As(err, &invalid):
		if strings.HasSuffix(err.Error(), vm.INVALID.String()) {
			return ExitInvalidFEOpcode
		}
		return ExitOpcodeNotFound
	}
	return ExitFatalExternalError
}
