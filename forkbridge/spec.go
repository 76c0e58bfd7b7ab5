package forkbridge

import (
	"math/big"

	"github.com/ethereum/go-ethereum/params"
)

// chainConfig returns the execution rules for a chain. Known networks use
// their canonical configs; anything else runs with every fork active.
func chainConfig(chainID uint64) *params.ChainConfig {
	switch chainID {
	case params.MainnetChainConfig.ChainID.Uint64():
		return params.MainnetChainConfig
	case params.SepoliaChainConfig.ChainID.Uint64():
		return params.SepoliaChainConfig
	case params.HoleskyChainConfig.ChainID.Uint64():
		return params.HoleskyChainConfig
	}
	cfg := *params.MergedTestChainConfig
	cfg.ChainID = new(big.Int).SetUint64(chainID)
	return &cfg
}

// ForkName names the newest fork active at the given block and time.
func ForkName(cfg *params.ChainConfig, num uint64, ts uint64) string {
	bn := new(big.Int).SetUint64(num)
	switch {
	case cfg.IsOsaka(bn, ts):
		return "osaka"
	case cfg.IsPrague(bn, ts):
		return "prague"
	case cfg.IsCancun(bn, ts):
		return "cancun"
	case cfg.IsShanghai(bn, ts):
		return "shanghai"
	case cfg.IsLondon(bn):
		if cfg.IsGrayGlacier(bn) {
			return "grayglacier"
		}
		if cfg.IsArrowGlacier(bn) {
			return "arrowglacier"
		}
		return "london"
	case cfg.IsBerlin(bn):
		return "berlin"
	case cfg.IsIstanbul(bn):
		return "istanbul"
	case cfg.IsPetersburg(bn):
		return "petersburg"
	case cfg.IsConstantinople(bn):
		return "constantinople"
	case cfg.IsByzantium(bn):
		return "byzantium"
	case cfg.IsEIP158(bn):
		return "spuriousdragon"
	case cfg.IsEIP150(bn):
		return "tangerinewhistle"
	case cfg.IsHomestead(bn):
		return "homestead"
	default:
		return "frontier"
	}
}
