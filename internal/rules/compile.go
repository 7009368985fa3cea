package rules

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/token"
)

//go:embed defaults.cue
var defaultsCUE []byte

// CompileError describes a rule file that failed to compile.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s: %s: %s", e.Pos, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// LoadDir compiles every *.cue file in dir into a single rule table.
//
// Files are processed in lexical order so the resulting rule order is
// deterministic. Rule ids must be unique across the whole table.
func LoadDir(dir string) ([]Rule, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read rules dir: %w", err)
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".cue" {
			continue
		}
		paths = append(paths, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(paths)

	if len(paths) == 0 {
		return nil, fmt.Errorf("no .cue rule files in %s", dir)
	}

	ctx := cuecontext.New()
	var all []Rule
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read rule file: %w", err)
		}
		rules, err := compileRules(ctx, data, path)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		all = append(all, rules...)
	}

	if err := validateTable(all); err != nil {
		return nil, err
	}
	return all, nil
}

// Default returns the embedded rule table, so the engine runs without an
// external rules directory.
func Default() []Rule {
	ctx := cuecontext.New()
	rules, err := compileRules(ctx, defaultsCUE, "defaults.cue")
	if err != nil {
		// The embedded table is part of the build; failing to compile it
		// is a programming error.
		panic(fmt.Sprintf("embedded rules invalid: %v", err))
	}
	if err := validateTable(rules); err != nil {
		panic(fmt.Sprintf("embedded rules invalid: %v", err))
	}
	return rules
}

// compileRules parses a CUE document with a top-level "rules" list.
// Uses the CUE SDK's Go API directly (not a CLI subprocess).
func compileRules(ctx *cue.Context, data []byte, filename string) ([]Rule, error) {
	v := ctx.CompileBytes(data, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("compile: %w", err)
	}

	listVal := v.LookupPath(cue.ParsePath("rules"))
	if !listVal.Exists() {
		return nil, &CompileError{
			Field:   "rules",
			Message: "top-level 'rules' list is required",
			Pos:     v.Pos(),
		}
	}

	iter, err := listVal.List()
	if err != nil {
		return nil, &CompileError{
			Field:   "rules",
			Message: "'rules' must be a list",
			Pos:     listVal.Pos(),
		}
	}

	var out []Rule
	for i := 0; iter.Next(); i++ {
		rule, err := parseRule(iter.Value())
		if err != nil {
			return nil, fmt.Errorf("rules[%d]: %w", i, err)
		}
		out = append(out, rule)
	}
	return out, nil
}

func parseRule(v cue.Value) (Rule, error) {
	var rule Rule

	id, err := requiredString(v, "id")
	if err != nil {
		return rule, err
	}
	rule.ID = id

	desc, err := requiredString(v, "description")
	if err != nil {
		return rule, err
	}
	rule.Description = desc

	costVal := v.LookupPath(cue.ParsePath("vibration_cost"))
	if costVal.Exists() {
		cost, err := costVal.Float64()
		if err != nil {
			return rule, &CompileError{
				Field:   "vibration_cost",
				Message: "vibration_cost must be a number",
				Pos:     costVal.Pos(),
			}
		}
		if cost < 0 {
			return rule, &CompileError{
				Field:   "vibration_cost",
				Message: "vibration_cost must be non-negative",
				Pos:     costVal.Pos(),
			}
		}
		rule.VibrationCost = cost
	}

	triggers, err := parseTriggers(v)
	if err != nil {
		return rule, err
	}
	rule.Triggers = triggers

	actions, err := parseActions(v)
	if err != nil {
		return rule, err
	}
	rule.Actions = actions

	return rule, nil
}

func parseTriggers(v cue.Value) ([]Predicate, error) {
	listVal := v.LookupPath(cue.ParsePath("triggers"))
	if !listVal.Exists() {
		return nil, &CompileError{
			Field:   "triggers",
			Message: "triggers list is required",
			Pos:     v.Pos(),
		}
	}

	iter, err := listVal.List()
	if err != nil {
		return nil, &CompileError{
			Field:   "triggers",
			Message: "triggers must be a list",
			Pos:     listVal.Pos(),
		}
	}

	var out []Predicate
	for i := 0; iter.Next(); i++ {
		pred, err := parsePredicate(iter.Value())
		if err != nil {
			return nil, fmt.Errorf("triggers[%d]: %w", i, err)
		}
		out = append(out, pred)
	}
	if len(out) == 0 {
		return nil, &CompileError{
			Field:   "triggers",
			Message: "at least one trigger is required",
			Pos:     listVal.Pos(),
		}
	}
	return out, nil
}

func parsePredicate(v cue.Value) (Predicate, error) {
	var pred Predicate

	typ, err := requiredString(v, "type")
	if err != nil {
		return pred, err
	}
	pred.Type = PredicateType(typ)
	if !ValidPredicateTypes[pred.Type] {
		return pred, &CompileError{
			Field:   "type",
			Message: fmt.Sprintf("invalid predicate type %q, must be STATE_CHECK or SUPPLY_CHECK", typ),
			Pos:     v.Pos(),
		}
	}

	param, err := requiredString(v, "param")
	if err != nil {
		return pred, err
	}
	pred.Param = param

	op, err := requiredString(v, "op")
	if err != nil {
		return pred, err
	}
	pred.Operator = Operator(op)
	if !ValidOperators[pred.Operator] {
		return pred, &CompileError{
			Field:   "op",
			Message: fmt.Sprintf("invalid operator %q", op),
			Pos:     v.Pos(),
		}
	}

	valueVal := v.LookupPath(cue.ParsePath("value"))
	if !valueVal.Exists() {
		return pred, &CompileError{
			Field:   "value",
			Message: "value is required",
			Pos:     v.Pos(),
		}
	}
	value, err := parseScalar(valueVal)
	if err != nil {
		return pred, err
	}
	pred.Value = value

	return pred, nil
}

func parseActions(v cue.Value) ([]Action, error) {
	listVal := v.LookupPath(cue.ParsePath("actions"))
	if !listVal.Exists() {
		return nil, &CompileError{
			Field:   "actions",
			Message: "actions list is required",
			Pos:     v.Pos(),
		}
	}

	iter, err := listVal.List()
	if err != nil {
		return nil, &CompileError{
			Field:   "actions",
			Message: "actions must be a list",
			Pos:     listVal.Pos(),
		}
	}

	var out []Action
	for i := 0; iter.Next(); i++ {
		action, err := parseAction(iter.Value())
		if err != nil {
			return nil, fmt.Errorf("actions[%d]: %w", i, err)
		}
		out = append(out, action)
	}
	if len(out) == 0 {
		return nil, &CompileError{
			Field:   "actions",
			Message: "at least one action is required",
			Pos:     listVal.Pos(),
		}
	}
	return out, nil
}

func parseAction(v cue.Value) (Action, error) {
	var action Action

	typ, err := requiredString(v, "type")
	if err != nil {
		return action, err
	}
	action.Type = ActionType(typ)
	if action.Type != ActionLog {
		return action, &CompileError{
			Field:   "type",
			Message: fmt.Sprintf("unsupported action type %q (only LOG is implemented)", typ),
			Pos:     v.Pos(),
		}
	}

	msg, err := requiredString(v, "message")
	if err != nil {
		return action, err
	}
	action.Message = msg

	sevVal := v.LookupPath(cue.ParsePath("severity"))
	if sevVal.Exists() {
		sev, err := sevVal.String()
		if err != nil {
			return action, &CompileError{
				Field:   "severity",
				Message: "severity must be a string",
				Pos:     sevVal.Pos(),
			}
		}
		switch sev {
		case SeverityInfo, SeverityWarn, SeverityError:
			action.Severity = sev
		default:
			return action, &CompileError{
				Field:   "severity",
				Message: fmt.Sprintf("invalid severity %q, must be info, warn, or error", sev),
				Pos:     sevVal.Pos(),
			}
		}
	} else {
		action.Severity = SeverityInfo
	}

	return action, nil
}

// parseScalar decodes a predicate comparison value: number, bool, or string.
func parseScalar(v cue.Value) (any, error) {
	switch v.Kind() {
	case cue.NumberKind, cue.IntKind, cue.FloatKind:
		f, err := v.Float64()
		if err != nil {
			return nil, &CompileError{
				Field:   "value",
				Message: "number value out of range",
				Pos:     v.Pos(),
			}
		}
		return f, nil
	case cue.BoolKind:
		b, err := v.Bool()
		if err != nil {
			return nil, &CompileError{Field: "value", Message: "invalid bool", Pos: v.Pos()}
		}
		return b, nil
	case cue.StringKind:
		s, err := v.String()
		if err != nil {
			return nil, &CompileError{Field: "value", Message: "invalid string", Pos: v.Pos()}
		}
		return s, nil
	default:
		return nil, &CompileError{
			Field:   "value",
			Message: fmt.Sprintf("value must be a number, bool, or string, got %v", v.Kind()),
			Pos:     v.Pos(),
		}
	}
}

func requiredString(v cue.Value, field string) (string, error) {
	fieldVal := v.LookupPath(cue.ParsePath(field))
	if !fieldVal.Exists() {
		return "", &CompileError{
			Field:   field,
			Message: field + " is required",
			Pos:     v.Pos(),
		}
	}
	s, err := fieldVal.String()
	if err != nil {
		return "", &CompileError{
			Field:   field,
			Message: field + " must be a string",
			Pos:     fieldVal.Pos(),
		}
	}
	if s == "" {
		return "", &CompileError{
			Field:   field,
			Message: field + " must not be empty",
			Pos:     fieldVal.Pos(),
		}
	}
	return s, nil
}

// validateTable checks cross-rule invariants: unique ids.
func validateTable(rules []Rule) error {
	seen := make(map[string]bool, len(rules))
	for _, rule := range rules {
		if seen[rule.ID] {
			return fmt.Errorf("duplicate rule id: %s", rule.ID)
		}
		seen[rule.ID] = true
	}
	return nil
}
