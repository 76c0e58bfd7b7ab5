package engine

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
)

// CallMetadata carries the fields needed to run one message on a context.
type CallMetadata struct {
	From       common.Address
	To         common.Address
	Data       []byte
	Value      *uint256.Int // nil means zero
	GasLimit   uint64
	AccessList types.AccessList
}

// Keys lists the accounts and slots the message is known to touch before it
// runs.
func (c *CallMetadata) Keys() (accounts []common.Address, slots map[common.Address][]common.Hash) {
	accounts = []common.Address{c.From, c.To}
	slots = make(map[common.Address][]common.Hash)
	for _, tuple := range c.AccessList {
		accounts = append(accounts, tuple.Address)
		if len(tuple.StorageKeys) > 0 {
			slots[tuple.Address] = append(slots[tuple.Address], tuple.StorageKeys...)
		}
	}
	return accounts, slots
}
