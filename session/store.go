// Package session keeps long-lived execution contexts addressable by an
// opaque id across requests.
package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/clydemeng/forksim/core/engine"
)

var (
	// ErrNotFound is returned for ids that were never created, were destroyed,
	// or were evicted.
	ErrNotFound = errors.New("session not found")
	// ErrCapacity is returned by Create when the store is full.
	ErrCapacity = errors.New("session capacity reached")
)

// Config bounds the store. Zero values disable the respective limit.
type Config struct {
	// IdleTimeout evicts sessions unused for this long.
	IdleTimeout time.Duration
	// MaxSessions caps the number of live sessions.
	MaxSessions int
}

// entry owns one execution context. refs counts the map's reference plus
// every in-flight holder; the context is closed when it drops to zero.
type entry struct {
	mu       sync.Mutex
	refs     atomic.Int32
	removed  atomic.Bool
	lastUsed atomic.Int64
	ctx      engine.Context
}

func (e *entry) retain() bool {
	for {
		n := e.refs.Load()
		if n <= 0 {
			return false
		}
		if e.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

func (e *entry) release() {
	if e.refs.Add(-1) == 0 {
		if err := e.ctx.Close(); err != nil {
			log.Warn("Failed to close execution context", "err", err)
		}
	}
}

func (e *entry) touch() {
	e.lastUsed.Store(time.Now().UnixNano())
}

// Store maps session ids to execution contexts. Different sessions are fully
// independent; operations on one session are serialized.
type Store struct {
	entries *xsync.MapOf[uuid.UUID, *entry]
	size    atomic.Int64
	cfg     Config
}

func NewStore(cfg Config) *Store {
	return &Store{
		entries: xsync.NewMapOf[uuid.UUID, *entry](),
		cfg:     cfg,
	}
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	return int(s.size.Load())
}

// Create registers ctx under a fresh random id. On failure the caller still
// owns ctx.
func (s *Store) Create(ctx engine.Context) (uuid.UUID, error) {
	if max := s.cfg.MaxSessions; max > 0 {
		if s.size.Add(1) > int64(max) {
			s.size.Add(-1)
			return uuid.UUID{}, ErrCapacity
		}
	} else {
		s.size.Add(1)
	}
	e := &entry{ctx: ctx}
	e.refs.Store(1)
	e.touch()
	for {
		id := uuid.New()
		if _, loaded := s.entries.LoadOrStore(id, e); !loaded {
			return id, nil
		}
	}
}

// Handle is exclusive access to one session's context. Release must be
// called exactly once.
type Handle struct {
	id    uuid.UUID
	entry *entry
	once  sync.Once
}

func (h *Handle) ID() uuid.UUID { return h.id }

// Context returns the session's execution context. It must not be used after
// Release.
func (h *Handle) Context() engine.Context { return h.entry.ctx }

func (h *Handle) Release() {
	h.once.Do(func() {
		h.entry.touch()
		h.entry.mu.Unlock()
		h.entry.release()
	})
}

// Acquire waits for exclusive access to the session. It fails with
// ErrNotFound if the session does not exist or is destroyed while waiting.
func (s *Store) Acquire(id uuid.UUID) (*Handle, error) {
	e, ok := s.entries.Load(id)
	if !ok || !e.retain() {
		return nil, ErrNotFound
	}
	e.mu.Lock()
	if e.removed.Load() {
		e.mu.Unlock()
		e.release()
		return nil, ErrNotFound
	}
	return &Handle{id: id, entry: e}, nil
}

// Destroy removes the session. A holder that is executing keeps the context
// alive until it releases; later acquisitions fail.
func (s *Store) Destroy(id uuid.UUID) error {
	e, ok := s.entries.LoadAndDelete(id)
	if !ok || !e.removed.CompareAndSwap(false, true) {
		return ErrNotFound
	}
	s.size.Add(-1)
	e.release()
	return nil
}

// Run evicts idle sessions until ctx is done. It returns immediately when no
// idle timeout is configured.
func (s *Store) Run(ctx context.Context) {
	if s.cfg.IdleTimeout <= 0 {
		return
	}
	interval := s.cfg.IdleTimeout / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := s.evictIdle(now); n > 0 {
				log.Info("Evicted idle sessions", "count", n, "live", s.Len())
			}
		}
	}
}

// evictIdle drops sessions idle since before now-IdleTimeout. Sessions in use
// are skipped.
func (s *Store) evictIdle(now time.Time) int {
	cutoff := now.Add(-s.cfg.IdleTimeout).UnixNano()
	evicted := 0
	s.entries.Range(func(id uuid.UUID, e *entry) bool {
		if e.lastUsed.Load() > cutoff || !e.mu.TryLock() {
			return true
		}
		if e.lastUsed.Load() <= cutoff && e.removed.CompareAndSwap(false, true) {
			s.entries.Delete(id)
			s.size.Add(-1)
			evicted++
			e.mu.Unlock()
			e.release()
			return true
		}
		e.mu.Unlock()
		return true
	})
	return evicted
}

// Close destroys every session.
func (s *Store) Close() {
	s.entries.Range(func(id uuid.UUID, _ *entry) bool {
		// A concurrent Destroy or eviction may have won the race.
		if err := s.Destroy(id); err != nil {
			log.Debug("Session already gone at close", "id", id, "err", err)
		}
		return true
	})
}
