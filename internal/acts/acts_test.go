package acts

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quartzlab/auditcore/internal/gauge"
	"github.com/quartzlab/auditcore/internal/knowledge"
	"github.com/quartzlab/auditcore/internal/state"
	"github.com/quartzlab/auditcore/internal/testutil"
)

var epoch = time.UnixMilli(1_700_000_000_000)

// newEngine builds an engine over a fresh default state, optionally
// reshaped by setup. No persistence collaborator, frozen clock.
func newEngine(t *testing.T, setup func(*state.SystemState)) (*Engine, *state.Store, *gauge.Gauge, *testutil.ManualClock) {
	t.Helper()
	defs := knowledge.Default()
	snap := defs.DefaultState(epoch.UnixMilli())
	if setup != nil {
		setup(&snap)
	}
	st := state.NewStore(snap, nil, "acts-test")
	clock := testutil.NewManualClock(epoch)
	g := gauge.New(st, clock)
	return NewEngine(st, g, defs, clock), st, g, clock
}

func seedAccount(id string, balances map[state.Currency]float64) func(*state.SystemState) {
	return func(s *state.SystemState) {
		b := map[state.Currency]float64{"ALPHA": 0, "BETA": 0, "GAMMA": 0}
		for cur, amt := range balances {
			b[cur] = amt
		}
		s.Accounts = append(s.Accounts, state.Account{ID: id, Name: id, Balances: b})
	}
}

// TestEngine_HaltChargesOnce tests the kill switch with idempotence:
// repeating halt neither transitions nor charges again.
func TestEngine_HaltChargesOnce(t *testing.T) {
	e, st, g, _ := newEngine(t, nil)
	ctx := context.Background()

	require.NoError(t, e.Halt(ctx))
	assert.True(t, st.Current().IsHalted)
	assert.Equal(t, CostHalt, g.Value())

	require.NoError(t, e.Halt(ctx))
	assert.True(t, st.Current().IsHalted)
	assert.Equal(t, CostHalt, g.Value())
}

// TestEngine_RestartChargesOnce tests the symmetric restart behavior.
func TestEngine_RestartChargesOnce(t *testing.T) {
	e, st, g, _ := newEngine(t, func(s *state.SystemState) {
		s.IsHalted = true
	})
	ctx := context.Background()

	require.NoError(t, e.Restart(ctx))
	assert.False(t, st.Current().IsHalted)
	assert.Equal(t, CostRestart, g.Value())

	require.NoError(t, e.Restart(ctx))
	assert.Equal(t, CostRestart, g.Value())
}

// TestEngine_HaltNotGatedByVibration tests that halt works even with the
// gauge pinned above the soft gate.
func TestEngine_HaltNotGatedByVibration(t *testing.T) {
	e, st, _, _ := newEngine(t, func(s *state.SystemState) {
		s.Vibration.Value = 150
	})

	require.NoError(t, e.Halt(context.Background()))
	assert.True(t, st.Current().IsHalted)
}

// TestEngine_CreateAccount tests creation with zero balances in every
// configured currency.
func TestEngine_CreateAccount(t *testing.T) {
	e, st, g, _ := newEngine(t, nil)

	require.NoError(t, e.CreateAccount(context.Background(), "alice", "Alice"))

	snap := st.Current()
	acct, ok := snap.FindAccount("alice")
	require.True(t, ok)
	assert.Equal(t, "Alice", acct.Name)
	assert.Equal(t, map[state.Currency]float64{"ALPHA": 0, "BETA": 0, "GAMMA": 0}, acct.Balances)
	assert.Equal(t, CostCreateAccount, g.Value())
}

// TestEngine_CreateAccountDuplicate tests id uniqueness.
func TestEngine_CreateAccountDuplicate(t *testing.T) {
	e, st, g, _ := newEngine(t, seedAccount("alice", nil))

	err := e.CreateAccount(context.Background(), "alice", "Shadow")
	require.Error(t, err)
	assert.Equal(t, ErrCodeDuplicateAccountID, CodeOf(err))

	assert.Len(t, st.Current().Accounts, 1)
	assert.Equal(t, 0.0, g.Value())
}

// TestEngine_CreateAccountNormalizes tests NFC normalization: a
// decomposed id collides with its composed twin.
func TestEngine_CreateAccountNormalizes(t *testing.T) {
	e, _, _, _ := newEngine(t, nil)
	ctx := context.Background()

	// composed form (U+00E9)
	require.NoError(t, e.CreateAccount(ctx, "caf\u00e9", "Cafe"))

	// decomposed form (e + U+0301) normalizes to the same id
	err := e.CreateAccount(ctx, "cafe\u0301", "Cafe Again")
	require.Error(t, err)
	assert.Equal(t, ErrCodeDuplicateAccountID, CodeOf(err))
}

// TestEngine_CreateAccountEmptyID tests rejection of blank ids,
// including whitespace-only input.
func TestEngine_CreateAccountEmptyID(t *testing.T) {
	e, _, _, _ := newEngine(t, nil)

	for _, id := range []string{"", "   ", "\t"} {
		err := e.CreateAccount(context.Background(), id, "Nobody")
		require.Error(t, err)
		assert.Equal(t, ErrCodeInvalidAccountID, CodeOf(err))
	}
}

// TestEngine_CreateAccountHalted tests the kill switch gate.
func TestEngine_CreateAccountHalted(t *testing.T) {
	e, _, _, _ := newEngine(t, func(s *state.SystemState) {
		s.IsHalted = true
	})

	err := e.CreateAccount(context.Background(), "alice", "Alice")
	assert.True(t, IsHalted(err))
}

// TestEngine_Transfer tests the happy path: debit, credit, charge.
func TestEngine_Transfer(t *testing.T) {
	e, st, g, _ := newEngine(t, func(s *state.SystemState) {
		seedAccount("alice", map[state.Currency]float64{"ALPHA": 1000})(s)
		seedAccount("bob", nil)(s)
	})

	require.NoError(t, e.Transfer(context.Background(), "alice", "bob", 300, "ALPHA"))

	snap := st.Current()
	alice, _ := snap.FindAccount("alice")
	bob, _ := snap.FindAccount("bob")
	assert.Equal(t, 700.0, alice.Balances["ALPHA"])
	assert.Equal(t, 300.0, bob.Balances["ALPHA"])
	assert.Equal(t, CostTransfer, g.Value())

	// Supply conserved
	assert.Equal(t, 1000.0, snap.Supply("ALPHA"))
}

// TestEngine_TransferInsufficientBalance tests that an uncovered transfer
// rejects and leaves all state untouched.
func TestEngine_TransferInsufficientBalance(t *testing.T) {
	e, st, g, _ := newEngine(t, func(s *state.SystemState) {
		seedAccount("alice", map[state.Currency]float64{"ALPHA": 1000})(s)
		seedAccount("bob", nil)(s)
	})

	err := e.Transfer(context.Background(), "alice", "bob", 2000, "ALPHA")
	require.Error(t, err)

	var actErr *ActError
	require.ErrorAs(t, err, &actErr)
	assert.Equal(t, ErrCodeInsufficientBalance, actErr.Code)
	assert.Equal(t, "alice", actErr.AccountID)
	assert.Equal(t, "ALPHA", actErr.Currency)

	snap := st.Current()
	alice, _ := snap.FindAccount("alice")
	bob, _ := snap.FindAccount("bob")
	assert.Equal(t, 1000.0, alice.Balances["ALPHA"])
	assert.Equal(t, 0.0, bob.Balances["ALPHA"])
	assert.Equal(t, 0.0, g.Value())
}

// TestEngine_TransferValidationOrder tests that the halt switch wins over
// every later check.
func TestEngine_TransferValidationOrder(t *testing.T) {
	e, _, _, _ := newEngine(t, func(s *state.SystemState) {
		s.IsHalted = true
		s.Vibration.Value = 150
	})

	// Halted and vibrating and unknown currency: halt is reported first.
	err := e.Transfer(context.Background(), "ghost", "ghost2", -5, "NOPE")
	assert.Equal(t, ErrCodeSystemHalted, CodeOf(err))
}

// TestEngine_TransferVibrationGate tests rejection at the soft gate.
func TestEngine_TransferVibrationGate(t *testing.T) {
	e, _, g, _ := newEngine(t, func(s *state.SystemState) {
		seedAccount("alice", map[state.Currency]float64{"ALPHA": 1000})(s)
		seedAccount("bob", nil)(s)
		s.Vibration.Value = gauge.Limit
	})

	err := e.Transfer(context.Background(), "alice", "bob", 10, "ALPHA")
	assert.True(t, IsVibrationExceeded(err))
	assert.Equal(t, gauge.Limit, g.Value())
}

// TestEngine_TransferRejections tests the remaining validation failures.
func TestEngine_TransferRejections(t *testing.T) {
	e, _, _, _ := newEngine(t, func(s *state.SystemState) {
		seedAccount("alice", map[state.Currency]float64{"ALPHA": 100})(s)
		seedAccount("bob", nil)(s)
	})
	ctx := context.Background()

	tests := []struct {
		name      string
		sender    string
		recipient string
		amount    float64
		currency  state.Currency
		code      ActErrorCode
	}{
		{"zero amount", "alice", "bob", 0, "ALPHA", ErrCodeInvalidAmount},
		{"negative amount", "alice", "bob", -10, "ALPHA", ErrCodeInvalidAmount},
		{"nan amount", "alice", "bob", math.NaN(), "ALPHA", ErrCodeInvalidAmount},
		{"unknown currency", "alice", "bob", 10, "DOGE", ErrCodeUnknownCurrency},
		{"missing sender", "ghost", "bob", 10, "ALPHA", ErrCodeAccountNotFound},
		{"missing recipient", "alice", "ghost", 10, "ALPHA", ErrCodeAccountNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := e.Transfer(ctx, tt.sender, tt.recipient, tt.amount, tt.currency)
			assert.Equal(t, tt.code, CodeOf(err))
		})
	}
}

// TestEngine_Mint tests issuance: recipient credited, supply inflated,
// vibration charged.
func TestEngine_Mint(t *testing.T) {
	e, st, g, _ := newEngine(t, seedAccount("treasury", map[state.Currency]float64{"ALPHA": 1000}))

	require.NoError(t, e.Mint(context.Background(), "treasury", 50, "ALPHA"))

	snap := st.Current()
	acct, _ := snap.FindAccount("treasury")
	assert.Equal(t, 1050.0, acct.Balances["ALPHA"])
	assert.Equal(t, 1050.0, snap.Supply("ALPHA"))
	assert.Equal(t, CostMint, g.Value())
}

// TestEngine_MintRejections tests mint validation: recipient must exist,
// no sender-side checks apply.
func TestEngine_MintRejections(t *testing.T) {
	e, _, _, _ := newEngine(t, nil)
	ctx := context.Background()

	err := e.Mint(ctx, "ghost", 50, "ALPHA")
	assert.Equal(t, ErrCodeAccountNotFound, CodeOf(err))

	err = e.Mint(ctx, "ghost", -1, "ALPHA")
	assert.Equal(t, ErrCodeInvalidAmount, CodeOf(err))
}

// TestEngine_Exchange tests conversion at the configured cross rate.
func TestEngine_Exchange(t *testing.T) {
	e, st, g, _ := newEngine(t, seedAccount("alice", map[state.Currency]float64{"ALPHA": 100}))

	// Default rates: ALPHA 1.0, BETA 10.0 so 5 ALPHA -> 50 BETA
	received, err := e.Exchange(context.Background(), "alice", 5, "ALPHA", "BETA")
	require.NoError(t, err)
	assert.Equal(t, 50.0, received)

	cur := st.Current()
	acct, _ := cur.FindAccount("alice")
	assert.Equal(t, 95.0, acct.Balances["ALPHA"])
	assert.Equal(t, 50.0, acct.Balances["BETA"])
	assert.Equal(t, CostExchange, g.Value())
}

// TestEngine_ExchangeSameCurrency tests that identical currencies reject
// before any other validation runs.
func TestEngine_ExchangeSameCurrency(t *testing.T) {
	e, _, _, _ := newEngine(t, nil)

	// Account does not even exist; SAME_CURRENCY still wins.
	_, err := e.Exchange(context.Background(), "ghost", 5, "ALPHA", "ALPHA")
	assert.Equal(t, ErrCodeSameCurrency, CodeOf(err))
}

// TestEngine_ExchangeUnknownTarget tests rejection of an unknown target
// currency after source-side validation passes.
func TestEngine_ExchangeUnknownTarget(t *testing.T) {
	e, st, g, _ := newEngine(t, seedAccount("alice", map[state.Currency]float64{"ALPHA": 100}))

	_, err := e.Exchange(context.Background(), "alice", 5, "ALPHA", "DOGE")
	assert.Equal(t, ErrCodeUnknownCurrency, CodeOf(err))

	cur := st.Current()
	acct, _ := cur.FindAccount("alice")
	assert.Equal(t, 100.0, acct.Balances["ALPHA"])
	assert.Equal(t, 0.0, g.Value())
}

// TestEngine_ExchangeInsufficientSource tests balance coverage in the
// source currency.
func TestEngine_ExchangeInsufficientSource(t *testing.T) {
	e, _, _, _ := newEngine(t, seedAccount("alice", map[state.Currency]float64{"ALPHA": 3}))

	_, err := e.Exchange(context.Background(), "alice", 5, "ALPHA", "BETA")
	assert.Equal(t, ErrCodeInsufficientBalance, CodeOf(err))
}

// TestEngine_AdjustInfrastructure tests a supply level replacement with a
// fresh change timestamp.
func TestEngine_AdjustInfrastructure(t *testing.T) {
	e, st, g, clock := newEngine(t, nil)

	clock.Advance(5 * time.Second)
	require.NoError(t, e.AdjustInfrastructure(context.Background(), state.InfraEnergy, 42))

	entry := st.Current().Infrastructure[state.InfraEnergy]
	assert.Equal(t, 42.0, entry.Value)
	assert.Equal(t, clock.Now().UnixMilli(), entry.LastChange)
	assert.Equal(t, CostInfra, g.Value())

	// The other channel is untouched
	assert.Equal(t, 100.0, st.Current().Infrastructure[state.InfraNet].Value)
}

// TestEngine_AdjustInfrastructureRejections tests channel and range
// validation.
func TestEngine_AdjustInfrastructureRejections(t *testing.T) {
	e, _, _, _ := newEngine(t, nil)
	ctx := context.Background()

	err := e.AdjustInfrastructure(ctx, "WATER", 50)
	assert.Equal(t, ErrCodeUnknownInfraKey, CodeOf(err))

	err = e.AdjustInfrastructure(ctx, state.InfraNet, -1)
	assert.Equal(t, ErrCodeInvalidAmount, CodeOf(err))

	err = e.AdjustInfrastructure(ctx, state.InfraNet, 100.5)
	assert.Equal(t, ErrCodeInvalidAmount, CodeOf(err))

	err = e.AdjustInfrastructure(ctx, state.InfraNet, math.NaN())
	assert.Equal(t, ErrCodeInvalidAmount, CodeOf(err))
}

// TestEngine_AdjustInfrastructureHalted tests the kill switch gate.
func TestEngine_AdjustInfrastructureHalted(t *testing.T) {
	e, _, _, _ := newEngine(t, func(s *state.SystemState) {
		s.IsHalted = true
	})

	err := e.AdjustInfrastructure(context.Background(), state.InfraEnergy, 50)
	assert.True(t, IsHalted(err))
}

// TestEngine_ActSequenceAccumulatesVibration tests cost accumulation
// across a mixed act sequence.
func TestEngine_ActSequenceAccumulatesVibration(t *testing.T) {
	e, _, g, _ := newEngine(t, func(s *state.SystemState) {
		seedAccount("alice", map[state.Currency]float64{"ALPHA": 1000})(s)
		seedAccount("bob", nil)(s)
	})
	ctx := context.Background()

	require.NoError(t, e.Transfer(ctx, "alice", "bob", 100, "ALPHA"))
	require.NoError(t, e.Mint(ctx, "bob", 10, "BETA"))
	_, err := e.Exchange(ctx, "alice", 10, "ALPHA", "GAMMA")
	require.NoError(t, err)

	assert.Equal(t, CostTransfer+CostMint+CostExchange, g.Value())
}
