// Package chains maps chain ids to the RPC endpoint a fork is taken from.
package chains

import (
	"errors"
	"fmt"
	"maps"
	"slices"
)

// ErrChainNotSupported is returned by Resolve for chain ids with no endpoint.
var ErrChainNotSupported = errors.New("chain id not supported")

// DefaultEndpoints is the built-in table of public endpoints.
var DefaultEndpoints = map[uint64]string{
	1:        "https://eth.llamarpc.com",
	5:        "https://eth-goerli.g.alchemy.com/v2/demo",
	11155111: "https://eth-sepolia.g.alchemy.com/v2/demo",

	137:   "https://polygon-mainnet.g.alchemy.com/v2/demo",
	80001: "https://polygon-mumbai.g.alchemy.com/v2/demo",

	43114: "https://api.avax.network/ext/bc/C/rpc",
	43113: "https://api.avax-test.network/ext/bc/C/rpc",

	250:  "https://rpcapi.fantom.network/",
	4002: "https://rpc.testnet.fantom.network/",

	100: "https://rpc.xdaichain.com/",

	56: "https://bsc-dataseed.binance.org/",
	97: "https://data-seed-prebsc-1-s1.binance.org:8545/",

	42161:  "https://arb1.arbitrum.io/rpc",
	421613: "https://goerli-rollup.arbitrum.io/rpc",

	10:  "https://mainnet.optimism.io/",
	420: "https://goerli.optimism.io/",
}

// Registry is an immutable chain id -> endpoint table. It is safe for
// concurrent use.
type Registry struct {
	endpoints map[uint64]string
}

// NewRegistry builds a registry from the default table with overrides laid
// on top. An override with an empty URL removes the chain.
func NewRegistry(overrides map[uint64]string) *Registry {
	endpoints := maps.Clone(DefaultEndpoints)
	for id, url := range overrides {
		if url == "" {
			delete(endpoints, id)
			continue
		}
		endpoints[id] = url
	}
	return &Registry{endpoints: endpoints}
}

// Resolve returns the endpoint for chainID.
func (r *Registry) Resolve(chainID uint64) (string, error) {
	url, ok := r.endpoints[chainID]
	if !ok {
		return "", fmt.Errorf("%w: %d", ErrChainNotSupported, chainID)
	}
	return url, nil
}

// ChainIDs lists the supported chain ids in ascending order.
func (r *Registry) ChainIDs() []uint64 {
	return slices.Sorted(maps.Keys(r.endpoints))
}
