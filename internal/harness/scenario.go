package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario defines a conformance test scenario: an initial ledger
// arrangement, a flow of acts with expected outcomes, and assertions on
// the final state.
type Scenario struct {
	// Name uniquely identifies this scenario (also the golden file name).
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Setup establishes the initial state before the flow runs.
	Setup Setup `yaml:"setup,omitempty"`

	// Flow contains the acts to perform, in order.
	Flow []FlowStep `yaml:"flow"`

	// Assertions validate the final state after the flow.
	Assertions []Assertion `yaml:"assertions"`
}

// Setup describes the starting ledger arrangement.
// Accounts are created directly in the snapshot, bypassing the create
// act, so setup never charges vibration.
type Setup struct {
	// Accounts to pre-create, with explicit starting balances.
	Accounts []SetupAccount `yaml:"accounts,omitempty"`

	// Rates overrides the configured currency rates.
	Rates map[string]float64 `yaml:"rates,omitempty"`

	// Vibration sets the starting gauge value.
	Vibration float64 `yaml:"vibration,omitempty"`

	// Halted starts the system with the kill switch engaged.
	Halted bool `yaml:"halted,omitempty"`
}

// SetupAccount is one pre-created account.
type SetupAccount struct {
	ID       string             `yaml:"id"`
	Name     string             `yaml:"name,omitempty"`
	Balances map[string]float64 `yaml:"balances,omitempty"`
}

// FlowStep performs one act.
type FlowStep struct {
	// Act names the operation: halt, restart, create_account, transfer,
	// mint, exchange, adjust_infrastructure.
	Act string `yaml:"act"`

	// Args contains the act arguments.
	Args map[string]any `yaml:"args,omitempty"`

	// Expect is "ok" or an act error code (e.g. "INSUFFICIENT_BALANCE").
	// Empty means the step is assumed to succeed.
	Expect string `yaml:"expect,omitempty"`
}

// Assertion validates one fact about the final state.
type Assertion struct {
	// Type: balance, supply, vibration, halted, accounts, infrastructure.
	Type string `yaml:"type"`

	Account  string  `yaml:"account,omitempty"`
	Currency string  `yaml:"currency,omitempty"`
	Kind     string  `yaml:"kind,omitempty"` // infrastructure channel
	Value    float64 `yaml:"value,omitempty"`
	Bool     bool    `yaml:"bool,omitempty"` // for halted
	Count    int     `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertBalance   = "balance"
	AssertSupply    = "supply"
	AssertVibration = "vibration"
	AssertHalted    = "halted"
	AssertAccounts  = "accounts"
	AssertInfra     = "infrastructure"
)

// Known act names, in the flow vocabulary.
var validActs = map[string]bool{
	"halt":                  true,
	"restart":               true,
	"create_account":        true,
	"transfer":              true,
	"mint":                  true,
	"exchange":              true,
	"adjust_infrastructure": true,
}

// LoadScenario reads and parses a scenario YAML file.
// Unknown fields are rejected to catch typos (e.g. "assertion:" for
// "assertions:").
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, step := range s.Flow {
		if !validActs[step.Act] {
			return fmt.Errorf("flow[%d]: unknown act %q", i, step.Act)
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}

	return nil
}

func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case AssertBalance:
		if a.Account == "" || a.Currency == "" {
			return fmt.Errorf("assertions[%d]: balance requires account and currency", index)
		}
	case AssertSupply:
		if a.Currency == "" {
			return fmt.Errorf("assertions[%d]: supply requires currency", index)
		}
	case AssertInfra:
		if a.Kind == "" {
			return fmt.Errorf("assertions[%d]: infrastructure requires kind", index)
		}
	case AssertVibration, AssertHalted, AssertAccounts:
		// value/bool/count fields carry the expectation
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
