// Package core is the simulation orchestrator. It forks execution contexts,
// keeps stateful sessions, checks bundle invariants, applies state overrides
// and turns engine results into simulation results.
package core

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"

	"github.com/clydemeng/forksim/calltrace"
	"github.com/clydemeng/forksim/chains"
	"github.com/clydemeng/forksim/core/engine"
	"github.com/clydemeng/forksim/session"
)

// Resolver maps a chain id to a fork endpoint.
type Resolver interface {
	Resolve(chainID uint64) (string, error)
}

// Identifier hands out trace decoders for a chain.
type Identifier interface {
	ForChain(chainID uint64) calltrace.Decoder
}

// Config holds orchestrator settings.
type Config struct {
	// ForkURL, when set, is used for every chain instead of the resolver.
	ForkURL string
}

// Simulator serves the four simulation modes. It is safe for concurrent use.
type Simulator struct {
	engine   engine.Engine
	chains   Resolver
	sessions *session.Store
	identify Identifier
	cfg      Config
}

// NewSimulator wires the orchestrator. identify may be nil, in which case
// formatted traces show raw addresses and selectors.
func NewSimulator(eng engine.Engine, resolver Resolver, sessions *session.Store, identify Identifier, cfg Config) *Simulator {
	return &Simulator{
		engine:   eng,
		chains:   resolver,
		sessions: sessions,
		identify: identify,
		cfg:      cfg,
	}
}

func (s *Simulator) endpoint(chainID uint64) (string, error) {
	if s.cfg.ForkURL != "" {
		return s.cfg.ForkURL, nil
	}
	url, err := s.chains.Resolve(chainID)
	if err != nil {
		if errors.Is(err, chains.ErrChainNotSupported) {
			return "", NewError(KindChainNotSupported, "", err)
		}
		return "", NewError(KindUnhandled, "", err)
	}
	return url, nil
}

// fork opens a context on chainID, checks the ledger really is that chain and
// applies the optional start timestamp.
func (s *Simulator) fork(ctx context.Context, chainID uint64, block *uint64, gasLimit uint64, timestamp *uint64) (engine.Context, error) {
	url, err := s.endpoint(chainID)
	if err != nil {
		return nil, err
	}
	ectx, err := s.engine.Fork(ctx, engine.ForkOptions{URL: url, BlockNumber: block, GasLimit: gasLimit})
	if err != nil {
		log.Warn("Failed to instantiate fork", "chain", chainID, "block", block, "err", err)
		return nil, NewError(KindFailedToInstantiateFork, "", err)
	}
	if ectx.ChainID() != chainID {
		ectx.Close()
		return nil, NewError(KindIncorrectChainID, "", nil)
	}
	if timestamp != nil {
		if err := ectx.SetTimestamp(*timestamp); err != nil {
			ectx.Close()
			return nil, NewError(KindFailedToSetTimestamp, "", err)
		}
	}
	return ectx, nil
}

// Simulate runs one transaction on a throwaway fork without committing it.
func (s *Simulator) Simulate(ctx context.Context, tx *TransactionRequest) (*SimulationResult, error) {
	if tx == nil {
		return nil, NewError(KindMalformedBody, "missing transaction", nil)
	}
	if err := tx.Validate(); err != nil {
		return nil, NewError(KindMalformedBody, err.Error(), nil)
	}
	ectx, err := s.fork(ctx, uint64(tx.ChainID), optUint64(tx.BlockNumber), uint64(tx.GasLimit), optUint64(tx.BlockTimestamp))
	if err != nil {
		return nil, err
	}
	defer ectx.Close()

	return s.execute(ctx, ectx, tx, 1, false)
}

// SimulateBundle runs transactions in order on one throwaway fork, each
// seeing the effects of the previous ones.
func (s *Simulator) SimulateBundle(ctx context.Context, txs []*TransactionRequest) ([]*SimulationResult, error) {
	if err := validateBundle(txs); err != nil {
		return nil, err
	}
	first := txs[0]
	ectx, err := s.fork(ctx, uint64(first.ChainID), optUint64(first.BlockNumber), uint64(first.GasLimit), optUint64(first.BlockTimestamp))
	if err != nil {
		return nil, err
	}
	defer ectx.Close()

	return s.runBundle(ctx, ectx, txs)
}

// CreateSession forks a context that outlives the request and returns its id.
func (s *Simulator) CreateSession(ctx context.Context, req *StatefulRequest) (uuid.UUID, error) {
	if req == nil {
		return uuid.UUID{}, NewError(KindMalformedBody, "missing request", nil)
	}
	ectx, err := s.fork(ctx, uint64(req.ChainID), optUint64(req.BlockNumber), uint64(req.GasLimit), optUint64(req.BlockTimestamp))
	if err != nil {
		return uuid.UUID{}, err
	}
	id, err := s.sessions.Create(ectx)
	if err != nil {
		ectx.Close()
		if errors.Is(err, session.ErrCapacity) {
			return uuid.UUID{}, NewError(KindSessionLimitReached, "", err)
		}
		return uuid.UUID{}, NewError(KindUnhandled, "", err)
	}
	log.Info("Created session", "id", id, "chain", ectx.ChainID(), "block", ectx.BlockNumber(), "live", s.sessions.Len())
	return id, nil
}

// SimulateStateful runs a bundle on a session's context, committing every
// transaction. The session is looked up before the bundle is validated.
func (s *Simulator) SimulateStateful(ctx context.Context, id uuid.UUID, txs []*TransactionRequest) ([]*SimulationResult, error) {
	h, err := s.sessions.Acquire(id)
	if err != nil {
		return nil, NewError(KindSessionNotFound, "", err)
	}
	defer h.Release()

	if err := validateBundle(txs); err != nil {
		return nil, err
	}

	ectx := h.Context()
	if ectx.ChainID() != uint64(txs[0].ChainID) {
		return nil, NewError(KindIncorrectChainID, "", nil)
	}
	return s.runBundle(ctx, ectx, txs)
}

// EndSession destroys a session.
func (s *Simulator) EndSession(id uuid.UUID) error {
	if err := s.sessions.Destroy(id); err != nil {
		return NewError(KindSessionNotFound, "", err)
	}
	log.Info("Ended session", "id", id, "live", s.sessions.Len())
	return nil
}

func (s *Simulator) runBundle(ctx context.Context, ectx engine.Context, txs []*TransactionRequest) ([]*SimulationResult, error) {
	results := make([]*SimulationResult, 0, len(txs))
	for i, tx := range txs {
		if err := advanceBlock(ectx, i, tx, txs[0]); err != nil {
			return nil, err
		}
		res, err := s.execute(ctx, ectx, tx, uint64(i+1), true)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	return results, nil
}

// execute applies the transaction's overrides and runs it.
func (s *Simulator) execute(ctx context.Context, ectx engine.Context, tx *TransactionRequest, seq uint64, commit bool) (*SimulationResult, error) {
	if err := applyOverrides(ctx, ectx, tx.StateOverrides); err != nil {
		return nil, err
	}
	call := &engine.CallMetadata{
		From:       tx.From,
		To:         tx.To,
		Data:       tx.Data,
		GasLimit:   uint64(tx.GasLimit),
		AccessList: tx.AccessList,
	}
	if tx.Value != nil {
		call.Value = tx.Value.Value()
	}
	start := time.Now()
	res, err := ectx.Call(ctx, call, commit)
	if err != nil {
		if errors.Is(err, engine.ErrOutOfGas) {
			return nil, NewError(KindOutOfGas, "", err)
		}
		log.Warn("Execution failed", "from", tx.From, "to", tx.To, "err", err)
		return nil, NewError(KindEngine, "", err)
	}
	log.Debug("Executed transaction", "seq", seq, "to", tx.To, "gas", res.GasUsed, "exit", res.ExitReason, "commit", commit, "elapsed", time.Since(start))
	return s.result(ctx, ectx.ChainID(), seq, tx.FormatTrace, res), nil
}

func (s *Simulator) result(ctx context.Context, chainID uint64, seq uint64, format bool, res *engine.CallResult) *SimulationResult {
	out := &SimulationResult{
		SimulationID: seq,
		GasUsed:      res.GasUsed,
		BlockNumber:  res.BlockNumber,
		Success:      res.Success,
		Trace:        []CallTrace{},
		Logs:         res.Logs,
		ExitReason:   res.ExitReason,
		ReturnData:   res.ReturnData,
	}
	if out.Logs == nil {
		out.Logs = []*types.Log{}
	}
	for _, f := range calltrace.Flatten(res.Trace) {
		out.Trace = append(out.Trace, CallTrace{
			CallType: f.CallType(),
			From:     f.From,
			To:       f.To,
			Value:    (*hexutil.Big)(f.Value),
		})
	}
	if format {
		var dec calltrace.Decoder
		if s.identify != nil {
			dec = s.identify.ForChain(chainID)
		}
		formatted := calltrace.Format(ctx, res.Trace, dec)
		out.FormattedTrace = &formatted
	}
	return out
}
