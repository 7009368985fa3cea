package harness

import (
	"context"
	"fmt"
	"time"

	"github.com/quartzlab/auditcore/internal/acts"
	"github.com/quartzlab/auditcore/internal/gauge"
	"github.com/quartzlab/auditcore/internal/knowledge"
	"github.com/quartzlab/auditcore/internal/state"
	"github.com/quartzlab/auditcore/internal/testutil"
)

// scenarioEpoch is the fixed starting instant for every scenario run.
// A frozen clock keeps decay out of the picture unless a scenario
// advances time explicitly, and keeps golden traces stable.
var scenarioEpoch = time.UnixMilli(1_700_000_000_000)

// TraceEvent records one executed flow step.
type TraceEvent struct {
	Act     string `json:"act"`
	Outcome string `json:"outcome"` // "ok" or an act error code
}

// Result is the outcome of running a scenario.
type Result struct {
	// Trace lists each flow step with its outcome, in order.
	Trace []TraceEvent

	// Failures lists assertion failures. Empty means the scenario passed.
	Failures []string

	// Final is the state snapshot after the flow.
	Final state.SystemState
}

// Passed reports whether all assertions held.
func (r *Result) Passed() bool {
	return len(r.Failures) == 0
}

// Run executes a scenario against a fresh in-memory engine.
//
// The engine runs without a persistence collaborator and with a frozen
// clock, so runs are fully deterministic. Returns an error only for
// execution problems (bad args, outcome mismatch against an explicit
// expect); assertion failures land in Result.Failures.
func Run(scenario *Scenario) (*Result, error) {
	defs := knowledge.Default()
	clock := testutil.NewManualClock(scenarioEpoch)

	snap := defs.DefaultState(scenarioEpoch.UnixMilli())
	applySetup(&snap, scenario.Setup, defs)

	st := state.NewStore(snap, nil, scenario.Name)
	g := gauge.New(st, clock)
	engine := acts.NewEngine(st, g, defs, clock)

	ctx := context.Background()
	result := &Result{}

	for i, step := range scenario.Flow {
		outcome, err := perform(ctx, engine, step)
		if err != nil {
			return nil, fmt.Errorf("flow[%d] %s: %w", i, step.Act, err)
		}
		result.Trace = append(result.Trace, TraceEvent{Act: step.Act, Outcome: outcome})

		if step.Expect != "" && outcome != step.Expect {
			return nil, fmt.Errorf("flow[%d] %s: outcome %q, expected %q", i, step.Act, outcome, step.Expect)
		}
	}

	result.Final = st.Current()
	result.Failures = checkAssertions(scenario.Assertions, result.Final)
	return result, nil
}

// applySetup seeds the snapshot directly, bypassing the act catalog so
// setup never charges vibration.
func applySetup(snap *state.SystemState, setup Setup, defs *knowledge.Definitions) {
	for _, sa := range setup.Accounts {
		balances := make(map[state.Currency]float64, len(defs.Currencies))
		for _, code := range defs.Codes() {
			balances[code] = 0
		}
		for cur, amount := range sa.Balances {
			balances[state.Currency(cur)] = amount
		}
		snap.Accounts = append(snap.Accounts, state.Account{
			ID:       sa.ID,
			Name:     sa.Name,
			Balances: balances,
		})
	}
	for cur, rate := range setup.Rates {
		snap.CurrencyRates[state.Currency(cur)] = rate
	}
	snap.Vibration.Value = setup.Vibration
	snap.IsHalted = setup.Halted
}

// perform dispatches one flow step to the act catalog.
// Returns "ok" or the act error code; a non-act error is an execution
// failure.
func perform(ctx context.Context, engine *acts.Engine, step FlowStep) (string, error) {
	var err error
	switch step.Act {
	case "halt":
		err = engine.Halt(ctx)
	case "restart":
		err = engine.Restart(ctx)
	case "create_account":
		id, aerr := argString(step.Args, "id")
		if aerr != nil {
			return "", aerr
		}
		name, _ := argString(step.Args, "name")
		err = engine.CreateAccount(ctx, id, name)
	case "transfer":
		sender, aerr := argString(step.Args, "sender")
		if aerr != nil {
			return "", aerr
		}
		recipient, aerr := argString(step.Args, "recipient")
		if aerr != nil {
			return "", aerr
		}
		amount, aerr := argFloat(step.Args, "amount")
		if aerr != nil {
			return "", aerr
		}
		currency, aerr := argString(step.Args, "currency")
		if aerr != nil {
			return "", aerr
		}
		err = engine.Transfer(ctx, sender, recipient, amount, state.Currency(currency))
	case "mint":
		recipient, aerr := argString(step.Args, "recipient")
		if aerr != nil {
			return "", aerr
		}
		amount, aerr := argFloat(step.Args, "amount")
		if aerr != nil {
			return "", aerr
		}
		currency, aerr := argString(step.Args, "currency")
		if aerr != nil {
			return "", aerr
		}
		err = engine.Mint(ctx, recipient, amount, state.Currency(currency))
	case "exchange":
		account, aerr := argString(step.Args, "account")
		if aerr != nil {
			return "", aerr
		}
		amount, aerr := argFloat(step.Args, "amount")
		if aerr != nil {
			return "", aerr
		}
		from, aerr := argString(step.Args, "from")
		if aerr != nil {
			return "", aerr
		}
		to, aerr := argString(step.Args, "to")
		if aerr != nil {
			return "", aerr
		}
		_, err = engine.Exchange(ctx, account, amount, state.Currency(from), state.Currency(to))
	case "adjust_infrastructure":
		kind, aerr := argString(step.Args, "kind")
		if aerr != nil {
			return "", aerr
		}
		amount, aerr := argFloat(step.Args, "amount")
		if aerr != nil {
			return "", aerr
		}
		err = engine.AdjustInfrastructure(ctx, state.InfraKey(kind), amount)
	default:
		return "", fmt.Errorf("unknown act %q", step.Act)
	}

	if err == nil {
		return "ok", nil
	}
	if code := acts.CodeOf(err); code != "" {
		return string(code), nil
	}
	return "", err
}

func argString(args map[string]any, key string) (string, error) {
	v, ok := args[key]
	if !ok {
		return "", fmt.Errorf("missing arg %q", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("arg %q: expected string, got %T", key, v)
	}
	return s, nil
}

func argFloat(args map[string]any, key string) (float64, error) {
	v, ok := args[key]
	if !ok {
		return 0, fmt.Errorf("missing arg %q", key)
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("arg %q: expected number, got %T", key, v)
	}
}
