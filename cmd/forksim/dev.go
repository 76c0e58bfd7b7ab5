package main

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/clydemeng/forksim/forkbridge"
)

const (
	devChainID = 1337
	devHead    = 1
)

// devAccounts are funded in the local ledger served by --dev.
var devAccounts = []common.Address{
	common.HexToAddress("0x00000000000000000000000000000000000d0001"),
	common.HexToAddress("0x00000000000000000000000000000000000d0002"),
	common.HexToAddress("0x00000000000000000000000000000000000d0003"),
}

func devLedger() *forkbridge.MemoryReader {
	funds := new(big.Int).Exp(big.NewInt(10), big.NewInt(24), nil)
	alloc := make(types.GenesisAlloc, len(devAccounts))
	for _, addr := range devAccounts {
		alloc[addr] = types.Account{Balance: new(big.Int).Set(funds)}
	}
	return forkbridge.NewMemoryReader(devChainID, alloc, devHead, uint64(time.Now().Unix()))
}
