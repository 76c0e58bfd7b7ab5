package forkbridge

import "github.com/ethereum/go-ethereum/metrics"

var (
	accountLoadCounter = metrics.NewRegisteredCounter("forksim/fork/account/loads", nil)
	storageLoadCounter = metrics.NewRegisteredCounter("forksim/fork/storage/loads", nil)
	cacheHitCounter    = metrics.NewRegisteredCounter("forksim/fork/cache/hits", nil)
	cacheMissCounter   = metrics.NewRegisteredCounter("forksim/fork/cache/misses", nil)

	discoveryMeter = metrics.NewRegisteredMeter("forksim/fork/discovery/rounds", nil)
	callTimer      = metrics.NewRegisteredTimer("forksim/fork/call", nil)
	forkTimer      = metrics.NewRegisteredTimer("forksim/fork/create", nil)
	contextGauge   = metrics.NewRegisteredGauge("forksim/fork/contexts", nil)
)
