package rules

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quartzlab/auditcore/internal/state"
)

func testSnapshot() state.SystemState {
	return state.SystemState{
		IsHalted:  false,
		Vibration: state.VibrationLevel{Value: 95, LastDecay: 1000},
		CurrencyRates: map[state.Currency]float64{
			"ALPHA": 1.0,
			"BETA":  10.0,
		},
		Accounts: []state.Account{
			{ID: "a", Balances: map[state.Currency]float64{"ALPHA": 600}},
			{ID: "b", Balances: map[state.Currency]float64{"ALPHA": 500}},
		},
		Infrastructure: map[state.InfraKey]state.InfraEntry{
			state.InfraEnergy: {Value: 20, LastChange: 1000},
			state.InfraNet:    {Value: 100, LastChange: 1000},
		},
	}
}

func logRule(id string, triggers ...Predicate) Rule {
	return Rule{
		ID:          id,
		Description: "test rule " + id,
		Triggers:    triggers,
		Actions:     []Action{{Type: ActionLog, Severity: SeverityWarn, Message: id + " fired"}},
	}
}

// TestEngine_Evaluate tests firing with AND trigger semantics.
func TestEngine_Evaluate(t *testing.T) {
	table := []Rule{
		logRule("hot-gauge",
			Predicate{Type: StateCheck, Param: "vibrationLevel.value", Operator: OpGe, Value: 90.0},
		),
		logRule("halted-and-hot",
			Predicate{Type: StateCheck, Param: "isHalted", Operator: OpEq, Value: true},
			Predicate{Type: StateCheck, Param: "vibrationLevel.value", Operator: OpGe, Value: 90.0},
		),
		logRule("big-supply",
			Predicate{Type: SupplyCheck, Param: "ALPHA", Operator: OpGt, Value: 1000.0},
		),
	}
	engine := New(table, slog.Default())

	report := engine.Evaluate(testSnapshot())

	assert.Equal(t, 3, report.Evaluated)
	require.Len(t, report.Fired, 2)
	assert.Equal(t, "hot-gauge", report.Fired[0].RuleID)
	assert.Equal(t, "big-supply", report.Fired[1].RuleID)
}

// TestEngine_EvaluateNeverMutates tests that evaluation is read-only.
func TestEngine_EvaluateNeverMutates(t *testing.T) {
	table := []Rule{
		logRule("hot-gauge",
			Predicate{Type: StateCheck, Param: "vibrationLevel.value", Operator: OpGe, Value: 0.0},
		),
	}
	engine := New(table, slog.Default())

	snap := testSnapshot()
	before := snap.Clone()
	engine.Evaluate(snap)

	assert.Equal(t, before, snap)
}

// TestEngine_BadRuleSkipped tests that an unresolvable predicate is
// logged and skipped without poisoning the rest of the table.
func TestEngine_BadRuleSkipped(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	table := []Rule{
		logRule("broken",
			Predicate{Type: StateCheck, Param: "no.such.path", Operator: OpEq, Value: 1.0},
		),
		logRule("works",
			Predicate{Type: StateCheck, Param: "infrastructure.ENERGY.value", Operator: OpLt, Value: 25.0},
		),
	}
	engine := New(table, logger)

	report := engine.Evaluate(testSnapshot())

	require.Len(t, report.Fired, 1)
	assert.Equal(t, "works", report.Fired[0].RuleID)
	assert.Contains(t, buf.String(), "rule evaluation failed")
	assert.Contains(t, buf.String(), "broken")
}

// TestEngine_ActionLogged tests that a fired LOG action reaches the logger
// with rule attribution.
func TestEngine_ActionLogged(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	table := []Rule{
		logRule("hot-gauge",
			Predicate{Type: StateCheck, Param: "vibrationLevel.value", Operator: OpGe, Value: 90.0},
		),
	}
	New(table, logger).Evaluate(testSnapshot())

	out := buf.String()
	assert.Contains(t, out, "hot-gauge fired")
	assert.Contains(t, out, "rule=hot-gauge")
	assert.Contains(t, out, "level=WARN")
}

// TestEngine_DefaultTableAgainstDefaultState tests the embedded rules on a
// quiet snapshot: nothing should fire.
func TestEngine_DefaultTableAgainstDefaultState(t *testing.T) {
	snap := state.SystemState{
		Vibration:     state.VibrationLevel{Value: 0},
		CurrencyRates: map[state.Currency]float64{"ALPHA": 1.0},
		Infrastructure: map[state.InfraKey]state.InfraEntry{
			state.InfraEnergy: {Value: 100},
			state.InfraNet:    {Value: 100},
		},
	}
	report := New(Default(), slog.Default()).Evaluate(snap)

	assert.Empty(t, report.Fired)
}

// TestResolvePath tests the dotted path vocabulary.
func TestResolvePath(t *testing.T) {
	snap := testSnapshot()

	tests := []struct {
		path string
		want any
	}{
		{"isHalted", false},
		{"vibrationLevel.value", 95.0},
		{"vibrationLevel.lastDecay", 1000.0},
		{"currencyRates.BETA", 10.0},
		{"accounts.length", 2.0},
		{"infrastructure.ENERGY.value", 20.0},
		{"infrastructure.NET.lastChange", 1000.0},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, err := resolvePath(snap, tt.path)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// TestResolvePath_Errors tests unknown paths and missing entries.
func TestResolvePath_Errors(t *testing.T) {
	snap := testSnapshot()

	for _, path := range []string{
		"",
		"nonsense",
		"isHalted.value",
		"vibrationLevel",
		"vibrationLevel.nope",
		"currencyRates.DOGE",
		"accounts.first",
		"infrastructure.WATER.value",
		"infrastructure.ENERGY.nope",
	} {
		t.Run(path, func(t *testing.T) {
			_, err := resolvePath(snap, path)
			assert.Error(t, err)
		})
	}
}

// TestCompare tests operator behavior per operand type.
func TestCompare(t *testing.T) {
	tests := []struct {
		name     string
		actual   any
		op       Operator
		expected any
		want     bool
	}{
		{"float eq", 5.0, OpEq, 5.0, true},
		{"float ne", 5.0, OpNe, 4.0, true},
		{"float gt", 5.0, OpGt, 4.0, true},
		{"float lt", 5.0, OpLt, 4.0, false},
		{"float ge boundary", 5.0, OpGe, 5.0, true},
		{"float le boundary", 5.0, OpLe, 5.0, true},
		{"float vs int expected", 5.0, OpEq, 5, true},
		{"bool eq", true, OpEq, true, true},
		{"bool ne", true, OpNe, false, true},
		{"string eq", "x", OpEq, "x", true},
		{"string ne", "x", OpNe, "y", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := compare(tt.actual, tt.op, tt.expected)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// TestCompare_Errors tests type mismatches and undefined orderings.
func TestCompare_Errors(t *testing.T) {
	_, err := compare(true, OpGt, false)
	assert.Error(t, err)

	_, err = compare("a", OpLt, "b")
	assert.Error(t, err)

	_, err = compare(5.0, OpEq, "not-a-number")
	assert.Error(t, err)

	_, err = compare(struct{}{}, OpEq, 1.0)
	assert.Error(t, err)
}

// TestNew_CopiesTable tests that later mutation of the caller's slice does
// not affect the engine.
func TestNew_CopiesTable(t *testing.T) {
	table := []Rule{logRule("original",
		Predicate{Type: StateCheck, Param: "isHalted", Operator: OpEq, Value: false},
	)}
	engine := New(table, slog.Default())

	table[0].ID = "mutated"

	assert.Equal(t, "original", engine.Rules()[0].ID)
}
