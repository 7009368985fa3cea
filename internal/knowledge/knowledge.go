// Package knowledge loads the static protocol definitions: the currency
// set, protocol metadata strings, and the guideline list used by log
// narration. Core logic only ever checks currency membership against it;
// the set is configuration, not code.
package knowledge

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/quartzlab/auditcore/internal/state"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// CurrencyDef is one configured currency.
type CurrencyDef struct {
	// Code is the currency identifier checked by act validation.
	Code string `yaml:"code"`

	// Name is the display name.
	Name string `yaml:"name"`

	// Rate is the initial exchange rate relative to the base currency.
	Rate float64 `yaml:"rate"`
}

// ProtocolMeta holds display metadata for the protocol.
type ProtocolMeta struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	Motto   string `yaml:"motto,omitempty"`
}

// Definitions is the full knowledge document.
// Loaded once at startup; treated as immutable thereafter.
type Definitions struct {
	Protocol   ProtocolMeta  `yaml:"protocol"`
	Currencies []CurrencyDef `yaml:"currencies"`
	Guidelines []string      `yaml:"guidelines,omitempty"`
}

// Load reads definitions from a YAML file.
// Unknown fields are rejected to catch config typos early.
func Load(path string) (*Definitions, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read definitions: %w", err)
	}
	return parse(data)
}

// Default returns the embedded definitions, so the binary runs without an
// external config file.
func Default() *Definitions {
	defs, err := parse(defaultsYAML)
	if err != nil {
		// The embedded document is part of the build; failing to parse it
		// is a programming error, not a runtime condition.
		panic(fmt.Sprintf("embedded definitions invalid: %v", err))
	}
	return defs
}

func parse(data []byte) (*Definitions, error) {
	var defs Definitions
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&defs); err != nil {
		return nil, fmt.Errorf("parse definitions: %w", err)
	}
	if err := validate(&defs); err != nil {
		return nil, fmt.Errorf("invalid definitions: %w", err)
	}
	return &defs, nil
}

func validate(defs *Definitions) error {
	if len(defs.Currencies) == 0 {
		return fmt.Errorf("at least one currency is required")
	}
	seen := make(map[string]bool, len(defs.Currencies))
	for i, c := range defs.Currencies {
		if c.Code == "" {
			return fmt.Errorf("currencies[%d]: code is required", i)
		}
		if seen[c.Code] {
			return fmt.Errorf("duplicate currency code %q", c.Code)
		}
		seen[c.Code] = true
		if c.Rate <= 0 {
			return fmt.Errorf("currency %s: rate must be positive, got %v", c.Code, c.Rate)
		}
	}
	return nil
}

// HasCurrency reports whether the code is in the configured set.
func (d *Definitions) HasCurrency(code state.Currency) bool {
	for _, c := range d.Currencies {
		if state.Currency(c.Code) == code {
			return true
		}
	}
	return false
}

// Codes returns the configured currency codes in declaration order.
func (d *Definitions) Codes() []state.Currency {
	codes := make([]state.Currency, len(d.Currencies))
	for i, c := range d.Currencies {
		codes[i] = state.Currency(c.Code)
	}
	return codes
}

// DefaultState builds the initial SystemState snapshot: operational, zero
// vibration, configured rates, no accounts, both infrastructure channels
// at full supply. now stamps the decay and change timestamps (unix millis).
func (d *Definitions) DefaultState(now int64) state.SystemState {
	rates := make(map[state.Currency]float64, len(d.Currencies))
	for _, c := range d.Currencies {
		rates[state.Currency(c.Code)] = c.Rate
	}
	return state.SystemState{
		IsHalted:      false,
		Vibration:     state.VibrationLevel{Value: 0, LastDecay: now},
		CurrencyRates: rates,
		Accounts:      []state.Account{},
		Infrastructure: map[state.InfraKey]state.InfraEntry{
			state.InfraEnergy: {Value: 100, LastChange: now},
			state.InfraNet:    {Value: 100, LastChange: now},
		},
	}
}
