package state

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Persister is the external document store the core forwards patches to.
//
// The core treats it as eventually consistent: a failed Update leaves local
// state authoritative until the collaborator pushes a fresh snapshot.
type Persister interface {
	Update(ctx context.Context, key string, p Patch) error
}

// PersistError wraps a collaborator write failure.
//
// It is surfaced to callers for logging only; the already-applied local
// state is never rolled back (optimistic local-first update).
type PersistError struct {
	Key string
	Err error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Key, e.Err)
}

func (e *PersistError) Unwrap() error { return e.Err }

// Store owns the canonical in-memory SystemState snapshot.
//
// All mutations go through Apply or ApplyLocal. The design assumes a single
// logical writer: two racing Apply calls on the same field are last-write-
// wins with no conflict detection. The mutex only guards snapshot copy-out
// so readers never observe a half-merged state.
type Store struct {
	mu        sync.Mutex
	state     SystemState
	persister Persister
	key       string
	seq       atomic.Int64
}

// NewStore creates a store around an initial snapshot.
// The persister may be nil, in which case patches are applied locally only
// (used by tests and the conformance harness).
func NewStore(initial SystemState, persister Persister, key string) *Store {
	return &Store{
		state:     initial.Clone(),
		persister: persister,
		key:       key,
	}
}

// Current returns a defensive deep copy of the snapshot.
func (s *Store) Current() SystemState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// Apply merges the patch into the local snapshot and forwards it to the
// persistence collaborator.
//
// Local state updates before the remote write, so callers observe the new
// state immediately. A remote failure is returned as *PersistError for the
// caller to log; local state stays applied.
func (s *Store) Apply(ctx context.Context, p Patch) error {
	p.Seq = s.seq.Add(1)
	s.merge(p)

	if s.persister == nil {
		return nil
	}
	if err := s.persister.Update(ctx, s.key, p); err != nil {
		perr := &PersistError{Key: s.key, Err: err}
		slog.Error("persist write failed, local state retained",
			"key", s.key,
			"seq", p.Seq,
			"error", err,
		)
		return perr
	}
	return nil
}

// ApplyLocal merges the patch into the local snapshot without persisting.
//
// Used by the vibration gauge's write-amplification throttle: sub-unit
// decay updates stay local until the accumulated delta is worth a write.
func (s *Store) ApplyLocal(p Patch) {
	p.Seq = s.seq.Add(1)
	s.merge(p)
}

// Replace swaps the whole snapshot, e.g. when the persistence collaborator
// delivers a fresh remote document.
func (s *Store) Replace(next SystemState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = next.Clone()
}

// Seq returns the last issued patch sequence number.
func (s *Store) Seq() int64 {
	return s.seq.Load()
}

// ResetSeq positions the sequence counter, typically to continue a
// persisted patch trail after restart. The next Apply issues n+1.
func (s *Store) ResetSeq(n int64) {
	s.seq.Store(n)
}

func (s *Store) merge(p Patch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	Merge(&s.state, p)
}

// Merge applies shallow patch semantics to dst: scalar and struct fields
// replace wholesale, map fields merge per key (each present key replaces
// its entry wholesale), the accounts slice replaces wholesale.
//
// Shared by the in-memory store and the persistence collaborator so the
// local snapshot and the persisted document evolve identically.
func Merge(dst *SystemState, p Patch) {
	if p.IsHalted != nil {
		dst.IsHalted = *p.IsHalted
	}
	if p.Vibration != nil {
		dst.Vibration = *p.Vibration
	}
	if p.Accounts != nil {
		next := make([]Account, len(p.Accounts))
		for i, a := range p.Accounts {
			next[i] = a.Clone()
		}
		dst.Accounts = next
	}
	for k, v := range p.CurrencyRates {
		if dst.CurrencyRates == nil {
			dst.CurrencyRates = make(map[Currency]float64)
		}
		dst.CurrencyRates[k] = v
	}
	for k, v := range p.Infrastructure {
		if dst.Infrastructure == nil {
			dst.Infrastructure = make(map[InfraKey]InfraEntry)
		}
		dst.Infrastructure[k] = v
	}
}
