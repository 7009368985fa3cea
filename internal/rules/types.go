package rules

// PredicateType selects what a predicate inspects.
type PredicateType string

const (
	// StateCheck compares a dotted path into the state document.
	StateCheck PredicateType = "STATE_CHECK"

	// SupplyCheck compares the aggregate supply of a currency across
	// all accounts.
	SupplyCheck PredicateType = "SUPPLY_CHECK"
)

// ValidPredicateTypes defines the closed predicate vocabulary.
var ValidPredicateTypes = map[PredicateType]bool{
	StateCheck:  true,
	SupplyCheck: true,
}

// Operator is a comparison operator in a predicate.
type Operator string

// The closed operator set. Ordering operators require numeric operands.
const (
	OpEq Operator = "=="
	OpNe Operator = "!="
	OpGt Operator = ">"
	OpLt Operator = "<"
	OpGe Operator = ">="
	OpLe Operator = "<="
)

// ValidOperators defines the allowed comparison operators.
var ValidOperators = map[Operator]bool{
	OpEq: true, OpNe: true, OpGt: true, OpLt: true, OpGe: true, OpLe: true,
}

// Predicate is one trigger condition.
//
// For StateCheck, Param is a dotted path into the state document
// (e.g. "vibrationLevel.value", "isHalted", "infrastructure.ENERGY.value",
// "accounts.length", "currencyRates.ALPHA"). For SupplyCheck, Param is a
// currency code.
type Predicate struct {
	Type     PredicateType `json:"type"`
	Param    string        `json:"param"`
	Operator Operator      `json:"operator"`

	// Value is the scalar compared against: float64, bool, or string.
	Value any `json:"value"`
}

// ActionType selects what a fired rule does.
type ActionType string

const (
	// ActionLog emits a structured log entry. The only implemented kind;
	// the vocabulary is closed but designed for extension (rate
	// suppression, fee injection).
	ActionLog ActionType = "LOG"
)

// Severity classes for log actions, mapped onto slog levels.
const (
	SeverityInfo  = "info"
	SeverityWarn  = "warn"
	SeverityError = "error"
)

// Action is one consequence of a fired rule.
type Action struct {
	Type     ActionType `json:"type"`
	Severity string     `json:"severity,omitempty"`
	Message  string     `json:"message,omitempty"`
}

// Rule is one declarative audit rule.
//
// Rules are immutable configuration compiled once at process start. All
// triggers must hold (logical AND) for the actions to fire, in order.
// VibrationCost is advisory metadata describing what enforcement of the
// rule would charge; the engine itself never mutates state.
type Rule struct {
	ID            string      `json:"id"`
	Description   string      `json:"description"`
	Triggers      []Predicate `json:"triggers"`
	Actions       []Action    `json:"actions"`
	VibrationCost float64     `json:"vibration_cost"`
}
