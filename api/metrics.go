package api

import "github.com/ethereum/go-ethereum/metrics"

var (
	requestTimer      = metrics.NewRegisteredTimer("forksim/api/requests", nil)
	requestErrorMeter = metrics.NewRegisteredMeter("forksim/api/errors", nil)
)
