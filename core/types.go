package core

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"

	"github.com/clydemeng/forksim/calltrace"
	"github.com/clydemeng/forksim/numeric"
)

// TransactionRequest is one transaction to simulate.
type TransactionRequest struct {
	ChainID        numeric.Uint64                    `json:"chainId"`
	From           common.Address                    `json:"from"`
	To             common.Address                    `json:"to"`
	Data           hexutil.Bytes                     `json:"data,omitempty"`
	GasLimit       numeric.Uint64                    `json:"gasLimit"`
	Value          *numeric.Uint256                  `json:"value,omitempty"`
	AccessList     types.AccessList                  `json:"accessList,omitempty"`
	BlockNumber    *numeric.Uint64                   `json:"blockNumber,omitempty"`
	BlockTimestamp *numeric.Uint64                   `json:"blockTimestamp,omitempty"`
	StateOverrides map[common.Address]*StateOverride `json:"stateOverrides,omitempty"`
	FormatTrace    bool                              `json:"formatTrace,omitempty"`
}

// Validate checks what JSON decoding cannot.
func (r *TransactionRequest) Validate() error {
	for addr, ov := range r.StateOverrides {
		if ov == nil {
			continue
		}
		if ov.State != nil && ov.StateDiff != nil {
			return fmt.Errorf("override for %s sets both state and stateDiff", addr)
		}
	}
	return nil
}

// StateOverride replaces parts of one account before a transaction runs.
// State replaces the whole storage, StateDiff only the listed slots.
type StateOverride struct {
	Balance   *numeric.Uint256                 `json:"balance,omitempty"`
	Nonce     *numeric.Uint64                  `json:"nonce,omitempty"`
	Code      *hexutil.Bytes                   `json:"code,omitempty"`
	State     map[common.Hash]*numeric.Uint256 `json:"state,omitempty"`
	StateDiff map[common.Hash]*numeric.Uint256 `json:"stateDiff,omitempty"`
}

// StatefulRequest opens a session.
type StatefulRequest struct {
	ChainID        numeric.Uint64  `json:"chainId"`
	GasLimit       numeric.Uint64  `json:"gasLimit"`
	BlockNumber    *numeric.Uint64 `json:"blockNumber,omitempty"`
	BlockTimestamp *numeric.Uint64 `json:"blockTimestamp,omitempty"`
}

// StatefulResponse carries a new session id.
type StatefulResponse struct {
	StatefulSimulationID uuid.UUID `json:"statefulSimulationId"`
}

// EndResponse acknowledges a destroyed session.
type EndResponse struct {
	Success bool `json:"success"`
}

// CallTrace is one entry of the flattened call tree.
type CallTrace struct {
	CallType string         `json:"callType"`
	From     common.Address `json:"from"`
	To       common.Address `json:"to"`
	Value    *hexutil.Big   `json:"value"`
}

// SimulationResult is the outcome of one executed transaction.
type SimulationResult struct {
	SimulationID   uint64               `json:"simulationId"`
	GasUsed        uint64               `json:"gasUsed"`
	BlockNumber    uint64               `json:"blockNumber"`
	Success        bool                 `json:"success"`
	Trace          []CallTrace          `json:"trace"`
	FormattedTrace *string              `json:"formattedTrace"`
	Logs           []*types.Log         `json:"logs"`
	ExitReason     calltrace.ExitReason `json:"exitReason"`
	ReturnData     hexutil.Bytes        `json:"returnData"`
}

func optUint64(v *numeric.Uint64) *uint64 {
	if v == nil {
		return nil
	}
	n := uint64(*v)
	return &n
}
