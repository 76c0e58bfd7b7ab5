package forkbridge

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/lru"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"

	"github.com/clydemeng/forksim/calltrace"
	"github.com/clydemeng/forksim/core/engine"
)

const blockHashCacheSize = 256

// Config tunes the fork engine.
type Config struct {
	// CacheSize is the byte size of the remote read cache shared by all
	// contexts. Zero disables it.
	CacheSize int
	// PrefetchLimit bounds concurrent remote reads per context.
	PrefetchLimit int
	// DialRetries is how often opening a fork is retried.
	DialRetries uint64
	// Dev replaces every remote endpoint with a local ledger.
	Dev *MemoryReader
}

// Engine forks remote ledgers into execution contexts.
type Engine struct {
	name  string
	dial  DialFunc
	cache *remoteCache
	cfg   Config
}

var _ engine.Engine = (*Engine)(nil)

// New returns the engine selected by cfg: a local ledger when cfg.Dev is set,
// otherwise JSON-RPC forking.
func New(cfg Config) *Engine {
	if cfg.Dev != nil {
		dev := cfg.Dev
		return NewWithDialer("dev", func(context.Context, string) (Reader, error) { return dev, nil }, cfg)
	}
	return NewWithDialer("rpc-fork", DialRPC, cfg)
}

// NewWithDialer builds an engine around a custom dialer.
func NewWithDialer(name string, dial DialFunc, cfg Config) *Engine {
	return &Engine{
		name:  name,
		dial:  dial,
		cache: newRemoteCache(cfg.CacheSize),
		cfg:   cfg,
	}
}

func (e *Engine) Engine() string { return e.name }

type forkHead struct {
	reader  Reader
	chainID uint64
	header  *types.Header
}

func (e *Engine) open(ctx context.Context, opts engine.ForkOptions) (*forkHead, error) {
	reader, err := e.dial(ctx, opts.URL)
	if err != nil {
		return nil, err
	}
	id, err := reader.ChainID(ctx)
	if err != nil {
		reader.Close()
		return nil, fmt.Errorf("chain id: %w", err)
	}
	var number *big.Int
	if opts.BlockNumber != nil {
		number = new(big.Int).SetUint64(*opts.BlockNumber)
	}
	header, err := reader.HeaderByNumber(ctx, number)
	if err != nil {
		reader.Close()
		if errors.Is(err, ethereum.NotFound) {
			return nil, backoff.Permanent(fmt.Errorf("block %v: %w", number, err))
		}
		return nil, fmt.Errorf("header: %w", err)
	}
	return &forkHead{reader: reader, chainID: id.Uint64(), header: header}, nil
}

// Fork opens the endpoint, pins the requested block and returns a context
// with an empty local state.
func (e *Engine) Fork(ctx context.Context, opts engine.ForkOptions) (engine.Context, error) {
	defer forkTimer.UpdateSince(time.Now())

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 200 * time.Millisecond
	policy.MaxInterval = 2 * time.Second
	head, err := backoff.RetryWithData(func() (*forkHead, error) {
		return e.open(ctx, opts)
	}, backoff.WithContext(backoff.WithMaxRetries(policy, e.cfg.DialRetries), ctx))
	if err != nil {
		return nil, err
	}
	number := head.header.Number.Uint64()
	fs, err := newForkState(head.reader, head.header.Number, e.cache, cacheScope(opts.URL, number), e.cfg.PrefetchLimit)
	if err != nil {
		head.reader.Close()
		return nil, err
	}
	config := chainConfig(head.chainID)
	fc := &forkContext{
		state:    fs,
		reader:   head.reader,
		header:   head.header,
		config:   config,
		chainID:  head.chainID,
		number:   number,
		time:     head.header.Time,
		gasLimit: opts.GasLimit,
		hashes:   lru.NewBasicLRU[uint64, common.Hash](blockHashCacheSize),
		tracer:   calltrace.NewTracer(),
	}
	contextGauge.Inc(1)
	log.Debug("Forked ledger", "engine", e.name, "chain", head.chainID, "block", number, "fork", ForkName(config, number, head.header.Time))
	return fc, nil
}
