// Package state defines the canonical protocol document (SystemState) and
// the Store that owns it.
//
// The Store is the only component allowed to mutate the snapshot. Every
// mutation is expressed as a Patch with shallow merge semantics and is
// applied local-first: callers observe the new state immediately, while the
// persistence collaborator is updated best-effort in the background of the
// same call. A failed persist is surfaced as *PersistError and logged, never
// rolled back - the next remote snapshot push reconciles divergence.
//
// Invariants:
//   - Vibration.Value stays in [0, 2*gauge.Limit]
//   - Account ids are unique within Accounts; order is creation order
//   - Each patch touches only the fields it declares
package state
