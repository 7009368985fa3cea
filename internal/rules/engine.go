package rules

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/quartzlab/auditcore/internal/state"
)

// Engine evaluates a static rule table against state snapshots.
//
// The engine is read-only: it never applies patches. It is an audit layer
// running parallel to the act catalog, not a gatekeeper. Rules are
// evaluated in declaration order; the order never changes after
// construction.
type Engine struct {
	rules []Rule
	log   *slog.Logger
}

// Firing records one rule whose triggers all held.
type Firing struct {
	RuleID        string  `json:"rule_id"`
	Description   string  `json:"description"`
	VibrationCost float64 `json:"vibration_cost"`
}

// Report summarizes one evaluation pass.
type Report struct {
	Evaluated int      `json:"evaluated"`
	Fired     []Firing `json:"fired"`
}

// New creates an engine over the given rule table.
// The slice is copied so later mutation by the caller cannot change
// evaluation order. A nil logger defaults to slog.Default().
func New(table []Rule, logger *slog.Logger) *Engine {
	rulesCopy := make([]Rule, len(table))
	copy(rulesCopy, table)
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{rules: rulesCopy, log: logger}
}

// Rules returns the rule table in declaration order.
// Used for introspection and testing.
func (e *Engine) Rules() []Rule {
	return e.rules
}

// Evaluate runs every rule against the snapshot.
//
// All triggers of a rule must hold (logical AND) for its actions to fire.
// A predicate that fails to resolve (unknown path, type mismatch) is
// logged and treated as not holding; evaluation continues with the next
// rule so one bad rule cannot poison the table.
func (e *Engine) Evaluate(snap state.SystemState) Report {
	report := Report{Evaluated: len(e.rules)}

	for _, rule := range e.rules {
		fired, err := e.holds(rule, snap)
		if err != nil {
			e.log.Warn("rule evaluation failed",
				"rule", rule.ID,
				"error", err,
			)
			continue
		}
		if !fired {
			continue
		}

		for _, action := range rule.Actions {
			e.execute(rule, action)
		}
		report.Fired = append(report.Fired, Firing{
			RuleID:        rule.ID,
			Description:   rule.Description,
			VibrationCost: rule.VibrationCost,
		})
	}

	return report
}

// holds reports whether every trigger of the rule matches the snapshot.
func (e *Engine) holds(rule Rule, snap state.SystemState) (bool, error) {
	for i, pred := range rule.Triggers {
		ok, err := evalPredicate(pred, snap)
		if err != nil {
			return false, fmt.Errorf("triggers[%d]: %w", i, err)
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// execute performs a single action for a fired rule.
// LOG is the only implemented kind; the compiler guarantees that.
func (e *Engine) execute(rule Rule, action Action) {
	attrs := []any{
		"rule", rule.ID,
		"cost", rule.VibrationCost,
	}
	switch action.Severity {
	case SeverityError:
		e.log.Error(action.Message, attrs...)
	case SeverityWarn:
		e.log.Warn(action.Message, attrs...)
	default:
		e.log.Info(action.Message, attrs...)
	}
}

// evalPredicate resolves the predicate operand and compares it.
func evalPredicate(pred Predicate, snap state.SystemState) (bool, error) {
	var actual any
	switch pred.Type {
	case StateCheck:
		v, err := resolvePath(snap, pred.Param)
		if err != nil {
			return false, err
		}
		actual = v
	case SupplyCheck:
		actual = snap.Supply(state.Currency(pred.Param))
	default:
		return false, fmt.Errorf("unknown predicate type %q", pred.Type)
	}
	return compare(actual, pred.Operator, pred.Value)
}

// resolvePath walks a dotted path into the state document.
//
// Supported paths:
//
//	isHalted
//	vibrationLevel.value | vibrationLevel.lastDecay
//	currencyRates.<CODE>
//	accounts.length
//	infrastructure.<KEY>.value | infrastructure.<KEY>.lastChange
func resolvePath(snap state.SystemState, path string) (any, error) {
	parts := strings.Split(path, ".")
	switch parts[0] {
	case "isHalted":
		if len(parts) != 1 {
			return nil, fmt.Errorf("unknown path %q", path)
		}
		return snap.IsHalted, nil

	case "vibrationLevel":
		if len(parts) != 2 {
			return nil, fmt.Errorf("unknown path %q", path)
		}
		switch parts[1] {
		case "value":
			return snap.Vibration.Value, nil
		case "lastDecay":
			return float64(snap.Vibration.LastDecay), nil
		}

	case "currencyRates":
		if len(parts) != 2 {
			return nil, fmt.Errorf("unknown path %q", path)
		}
		rate, ok := snap.CurrencyRates[state.Currency(parts[1])]
		if !ok {
			return nil, fmt.Errorf("no rate for currency %q", parts[1])
		}
		return rate, nil

	case "accounts":
		if len(parts) == 2 && parts[1] == "length" {
			return float64(len(snap.Accounts)), nil
		}

	case "infrastructure":
		if len(parts) != 3 {
			return nil, fmt.Errorf("unknown path %q", path)
		}
		entry, ok := snap.Infrastructure[state.InfraKey(parts[1])]
		if !ok {
			return nil, fmt.Errorf("no infrastructure entry %q", parts[1])
		}
		switch parts[2] {
		case "value":
			return entry.Value, nil
		case "lastChange":
			return float64(entry.LastChange), nil
		}
	}
	return nil, fmt.Errorf("unknown path %q", path)
}

// compare applies the operator to the actual and expected scalars.
//
// Numbers support all operators. Bools and strings support equality only;
// an ordering operator on them is a rule configuration error.
func compare(actual any, op Operator, expected any) (bool, error) {
	switch a := actual.(type) {
	case float64:
		b, ok := toFloat(expected)
		if !ok {
			return false, fmt.Errorf("comparing number against %T", expected)
		}
		switch op {
		case OpEq:
			return a == b, nil
		case OpNe:
			return a != b, nil
		case OpGt:
			return a > b, nil
		case OpLt:
			return a < b, nil
		case OpGe:
			return a >= b, nil
		case OpLe:
			return a <= b, nil
		}

	case bool:
		b, ok := expected.(bool)
		if !ok {
			return false, fmt.Errorf("comparing bool against %T", expected)
		}
		switch op {
		case OpEq:
			return a == b, nil
		case OpNe:
			return a != b, nil
		default:
			return false, fmt.Errorf("operator %s not defined for bool", op)
		}

	case string:
		b, ok := expected.(string)
		if !ok {
			return false, fmt.Errorf("comparing string against %T", expected)
		}
		switch op {
		case OpEq:
			return a == b, nil
		case OpNe:
			return a != b, nil
		default:
			return false, fmt.Errorf("operator %s not defined for string", op)
		}
	}
	return false, fmt.Errorf("unsupported operand type %T", actual)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
