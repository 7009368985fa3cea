package gauge

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/quartzlab/auditcore/internal/state"
)

// Limit is the soft gate: validation rejects acts once the gauge value
// reaches it.
const Limit = 100.0

// HardCeiling is the absolute cap on the gauge value. Add clamps here;
// the value may sit between Limit and HardCeiling while acts are refused.
const HardCeiling = 2 * Limit

// DecayRate is the gauge decay in units per elapsed second.
const DecayRate = 0.5

// commitThreshold bounds write amplification: decay commits to the
// persistence collaborator only once the accumulated delta reaches one
// full unit. Smaller deltas stay in the local snapshot.
const commitThreshold = 1.0

// TimeSource supplies wall-clock time.
// Injected so tests can drive decay deterministically.
type TimeSource interface {
	Now() time.Time
}

// SystemTime is the production TimeSource.
type SystemTime struct{}

// Now returns the current wall-clock time.
func (SystemTime) Now() time.Time { return time.Now() }

// Gauge is the time-decayed activity metric bounding how many acts may
// execute. Every successful act charges it; a periodic tick decays it.
type Gauge struct {
	store *state.Store
	now   TimeSource
}

// New creates a gauge over the given store.
// A nil TimeSource defaults to SystemTime.
func New(store *state.Store, now TimeSource) *Gauge {
	if now == nil {
		now = SystemTime{}
	}
	return &Gauge{store: store, now: now}
}

// Value returns the current gauge reading.
func (g *Gauge) Value() float64 {
	return g.store.Current().Vibration.Value
}

// Add charges the gauge, clamping at HardCeiling, and commits the new
// level through the store. Persist failures are logged by the store and
// returned for the caller to surface; the local level is already charged.
func (g *Gauge) Add(ctx context.Context, amount float64) error {
	cur := g.store.Current().Vibration
	next := state.VibrationLevel{
		Value:     math.Min(cur.Value+amount, HardCeiling),
		LastDecay: cur.LastDecay,
	}
	slog.Debug("vibration charged",
		"amount", amount,
		"from", cur.Value,
		"to", next.Value,
	)
	return g.store.Apply(ctx, state.Patch{Vibration: &next})
}

// Decay applies elapsed-time decay at DecayRate.
//
// Elapsed time under one second is a no-op. The new level is committed to
// the persistence collaborator only when the delta has reached
// commitThreshold; otherwise only the local snapshot advances. This
// throttling is load-bearing: the decay tick fires every second and would
// otherwise storm the collaborator with sub-unit writes.
func (g *Gauge) Decay(ctx context.Context) error {
	now := g.now.Now()
	cur := g.store.Current().Vibration

	elapsed := now.Sub(time.UnixMilli(cur.LastDecay)).Seconds()
	if elapsed < 1 {
		return nil
	}

	next := state.VibrationLevel{
		Value:     math.Max(0, cur.Value-elapsed*DecayRate),
		LastDecay: now.UnixMilli(),
	}

	if math.Abs(next.Value-cur.Value) >= commitThreshold {
		return g.store.Apply(ctx, state.Patch{Vibration: &next})
	}
	g.store.ApplyLocal(state.Patch{Vibration: &next})
	return nil
}

// Reset zeroes the gauge and restarts the decay window. Always commits.
func (g *Gauge) Reset(ctx context.Context) error {
	next := state.VibrationLevel{
		Value:     0,
		LastDecay: g.now.Now().UnixMilli(),
	}
	return g.store.Apply(ctx, state.Patch{Vibration: &next})
}
