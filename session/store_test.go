package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/clydemeng/forksim/core/engine"
)

type fakeContext struct {
	closed atomic.Int32
	calls  atomic.Int32
	busy   atomic.Bool
}

func (f *fakeContext) ChainID() uint64             { return 1 }
func (f *fakeContext) BlockNumber() uint64         { return 0 }
func (f *fakeContext) Timestamp() uint64           { return 0 }
func (f *fakeContext) GasLimit() uint64            { return 0 }
func (f *fakeContext) SetBlockNumber(uint64) error { return nil }
func (f *fakeContext) SetTimestamp(uint64) error   { return nil }
func (f *fakeContext) Account(context.Context, common.Address) (*engine.AccountState, error) {
	return &engine.AccountState{}, nil
}
func (f *fakeContext) Apply(context.Context, common.Address, *engine.AccountMutation) error {
	return nil
}
func (f *fakeContext) Call(context.Context, *engine.CallMetadata, bool) (*engine.CallResult, error) {
	if !f.busy.CompareAndSwap(false, true) {
		return nil, errors.New("concurrent call")
	}
	defer f.busy.Store(false)
	f.calls.Add(1)
	time.Sleep(time.Millisecond)
	return &engine.CallResult{}, nil
}
func (f *fakeContext) Close() error {
	f.closed.Add(1)
	return nil
}

// TestStoreLifecycle verifies create, acquire, destroy and that a second
// destroy fails.
func TestStoreLifecycle(t *testing.T) {
	s := NewStore(Config{})
	fc := new(fakeContext)

	id, err := s.Create(fc)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if id.Version() != 4 {
		t.Fatalf("want random v4 id, got version %d", id.Version())
	}
	h, err := s.Acquire(id)
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	if h.Context() != fc || h.ID() != id {
		t.Fatalf("handle does not point at the session")
	}
	h.Release()
	h.Release() // idempotent

	if err := s.Destroy(id); err != nil {
		t.Fatalf("destroy failed: %v", err)
	}
	if fc.closed.Load() != 1 {
		t.Fatalf("context not closed on destroy")
	}
	if err := s.Destroy(id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second destroy: want ErrNotFound, got %v", err)
	}
	if _, err := s.Acquire(id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("acquire after destroy: want ErrNotFound, got %v", err)
	}
	if _, err := s.Acquire(uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown id: want ErrNotFound, got %v", err)
	}
	if s.Len() != 0 {
		t.Fatalf("store not empty: %d", s.Len())
	}
}

// TestDestroyWhileHeld keeps the context alive until the holder releases.
func TestDestroyWhileHeld(t *testing.T) {
	s := NewStore(Config{})
	fc := new(fakeContext)
	id, _ := s.Create(fc)

	h, err := s.Acquire(id)
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	if err := s.Destroy(id); err != nil {
		t.Fatalf("destroy failed: %v", err)
	}
	if fc.closed.Load() != 0 {
		t.Fatalf("context closed while in use")
	}
	h.Release()
	if fc.closed.Load() != 1 {
		t.Fatalf("context not closed after last release")
	}
}

// TestWaiterSeesDestroy makes sure a request queued behind the lock fails
// once the session is destroyed under it.
func TestWaiterSeesDestroy(t *testing.T) {
	s := NewStore(Config{})
	fc := new(fakeContext)
	id, _ := s.Create(fc)

	h, _ := s.Acquire(id)
	errc := make(chan error, 1)
	go func() {
		h2, err := s.Acquire(id)
		if err == nil {
			h2.Release()
		}
		errc <- err
	}()
	time.Sleep(10 * time.Millisecond)
	if err := s.Destroy(id); err != nil {
		t.Fatalf("destroy failed: %v", err)
	}
	h.Release()
	if err := <-errc; !errors.Is(err, ErrNotFound) {
		t.Fatalf("waiter: want ErrNotFound, got %v", err)
	}
	if fc.closed.Load() != 1 {
		t.Fatalf("context closed %d times", fc.closed.Load())
	}
}

// TestSessionSerialization runs many concurrent calls on one session and
// checks none overlap.
func TestSessionSerialization(t *testing.T) {
	const n = 50
	s := NewStore(Config{})
	fc := new(fakeContext)
	id, _ := s.Create(fc)

	var wg sync.WaitGroup
	wg.Add(n)
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			h, err := s.Acquire(id)
			if err != nil {
				errs <- err
				return
			}
			defer h.Release()
			if _, err := h.Context().Call(context.Background(), nil, true); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("call failed: %v", err)
	}
	if fc.calls.Load() != n {
		t.Fatalf("want %d calls, got %d", n, fc.calls.Load())
	}
}

// TestStoreRace creates and destroys sessions concurrently.
func TestStoreRace(t *testing.T) {
	const n = 100
	s := NewStore(Config{})

	var wg sync.WaitGroup
	wg.Add(n)
	ids := make(chan uuid.UUID, n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			id, err := s.Create(new(fakeContext))
			if err != nil {
				t.Errorf("create failed: %v", err)
				return
			}
			ids <- id
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[uuid.UUID]bool)
	for id := range ids {
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
		if err := s.Destroy(id); err != nil {
			t.Fatalf("destroy %s: %v", id, err)
		}
	}
	if s.Len() != 0 {
		t.Fatalf("store not empty: %d", s.Len())
	}
}

func TestCapacity(t *testing.T) {
	s := NewStore(Config{MaxSessions: 2})
	a, _ := s.Create(new(fakeContext))
	if _, err := s.Create(new(fakeContext)); err != nil {
		t.Fatalf("second create failed: %v", err)
	}
	if _, err := s.Create(new(fakeContext)); !errors.Is(err, ErrCapacity) {
		t.Fatalf("want ErrCapacity, got %v", err)
	}
	s.Destroy(a)
	if _, err := s.Create(new(fakeContext)); err != nil {
		t.Fatalf("create after destroy failed: %v", err)
	}
}

func TestEvictIdle(t *testing.T) {
	s := NewStore(Config{IdleTimeout: time.Minute})
	idle, busy := new(fakeContext), new(fakeContext)
	idleID, _ := s.Create(idle)
	busyID, _ := s.Create(busy)

	h, _ := s.Acquire(busyID)
	if n := s.evictIdle(time.Now().Add(2 * time.Minute)); n != 1 {
		t.Fatalf("want 1 eviction, got %d", n)
	}
	if idle.closed.Load() != 1 || busy.closed.Load() != 0 {
		t.Fatalf("wrong session evicted")
	}
	if _, err := s.Acquire(idleID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("evicted session still acquirable")
	}
	h.Release()
	if n := s.evictIdle(time.Now()); n != 0 {
		t.Fatalf("fresh session evicted")
	}
	s.Close()
	if busy.closed.Load() != 1 {
		t.Fatalf("close did not destroy sessions")
	}
}

// TestCloseDestroysAll closes every context, including ones destroyed
// concurrently.
func TestCloseDestroysAll(t *testing.T) {
	s := NewStore(Config{})
	contexts := make([]*fakeContext, 8)
	ids := make([]uuid.UUID, len(contexts))
	for i := range contexts {
		contexts[i] = new(fakeContext)
		id, err := s.Create(contexts[i])
		if err != nil {
			t.Fatalf("create failed: %v", err)
		}
		ids[i] = id
	}
	var wg sync.WaitGroup
	for _, id := range ids[:4] {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Destroy(id)
		}()
	}
	s.Close()
	wg.Wait()

	if s.Len() != 0 {
		t.Fatalf("store not empty after close: %d", s.Len())
	}
	for i, fc := range contexts {
		if n := fc.closed.Load(); n != 1 {
			t.Fatalf("context %d closed %d times", i, n)
		}
	}
}
