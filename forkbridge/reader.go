// Package forkbridge executes calls on an in-memory copy of a remote ledger.
// Accounts and storage are pulled from the remote endpoint on first use and
// kept in a geth StateDB for the lifetime of the execution context.
package forkbridge

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Reader is the subset of the eth JSON-RPC API a fork needs. *ethclient.Client
// satisfies it.
type Reader interface {
	ChainID(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	StorageAt(ctx context.Context, account common.Address, key common.Hash, blockNumber *big.Int) ([]byte, error)
	Close()
}

var _ Reader = (*ethclient.Client)(nil)

// DialFunc opens a Reader for an endpoint URL.
type DialFunc func(ctx context.Context, url string) (Reader, error)

// DialRPC connects to a JSON-RPC endpoint.
func DialRPC(ctx context.Context, url string) (Reader, error) {
	client, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, err
	}
	return client, nil
}
