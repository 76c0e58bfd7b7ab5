package forkbridge

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"
)

const defaultPrefetchLimit = 16

// BatchKey identifies an account, or one storage slot of it when Storage is
// set, to be pulled from the remote ledger.
type BatchKey struct {
	Address common.Address
	Slot    common.Hash
	Storage bool
}

type fetched struct {
	key     BatchKey
	account *remoteAccount
	value   common.Hash
}

// prefetch loads every key not yet present locally. Remote reads run
// concurrently; results are installed in key order once all succeed, so a
// failed prefetch leaves the state untouched.
func (s *forkState) prefetch(ctx context.Context, keys []BatchKey) error {
	var (
		pending []BatchKey
		seen    = make(map[BatchKey]struct{}, len(keys))
	)
	for _, k := range keys {
		if !k.Storage {
			k.Slot = common.Hash{}
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		if k.Storage && s.hasSlot(k.Address, k.Slot) || !k.Storage && s.hasAccount(k.Address) {
			continue
		}
		pending = append(pending, k)
	}
	if len(pending) == 0 {
		return nil
	}
	results := make([]fetched, len(pending))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.prefetchLimit)
	for i, k := range pending {
		g.Go(func() error {
			results[i].key = k
			if k.Storage {
				v, err := s.fetchSlot(gctx, k.Address, k.Slot)
				results[i].value = v
				return err
			}
			acc, err := s.fetchAccount(gctx, k.Address)
			results[i].account = acc
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	for _, r := range results {
		if r.key.Storage {
			s.installSlot(r.key.Address, r.key.Slot, r.value)
		} else {
			s.installAccount(r.key.Address, r.account)
		}
	}
	return nil
}
