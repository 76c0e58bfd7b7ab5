package core

import (
	"fmt"

	"github.com/clydemeng/forksim/core/engine"
)

// blockTimeIncrement is added to the timestamp whenever a bundle moves the
// context to a later block.
const blockTimeIncrement = 12

// validateBundle checks the invariants that can be decided before anything
// runs: a non-empty bundle, one chain id and non-decreasing declared blocks.
func validateBundle(txs []*TransactionRequest) error {
	if len(txs) == 0 {
		return NewError(KindMalformedBody, "empty transaction list", nil)
	}
	chainID := txs[0].ChainID
	var last *uint64
	for i, tx := range txs {
		if tx == nil {
			return NewError(KindMalformedBody, fmt.Sprintf("transaction %d is null", i), nil)
		}
		if err := tx.Validate(); err != nil {
			return NewError(KindMalformedBody, err.Error(), nil)
		}
		if tx.ChainID != chainID {
			return NewError(KindMultipleChainIDs, "", nil)
		}
		if n := optUint64(tx.BlockNumber); n != nil {
			if last != nil && *n < *last {
				return NewError(KindInvalidBlockNumbers, fmt.Sprintf("transaction %d goes back to block %d", i, *n), nil)
			}
			last = n
		}
	}
	return nil
}

// advanceBlock moves ectx to the transaction's declared block before it runs.
// Transactions without a block run at the current one.
func advanceBlock(ectx engine.Context, i int, tx, first *TransactionRequest) error {
	target := optUint64(tx.BlockNumber)
	if target == nil {
		return nil
	}
	current := ectx.BlockNumber()
	if start := optUint64(first.BlockNumber); start != nil && *target < *start || *target < current {
		return NewError(KindInvalidBlockNumbers, fmt.Sprintf("transaction %d targets block %d behind current block %d", i, *target, current), nil)
	}
	if *target == current {
		return nil
	}
	if err := ectx.SetBlockNumber(*target); err != nil {
		return NewError(KindEngine, "set block number", err)
	}
	if err := ectx.SetTimestamp(ectx.Timestamp() + blockTimeIncrement); err != nil {
		return NewError(KindFailedToSetTimestamp, "", err)
	}
	return nil
}
