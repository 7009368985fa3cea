package state

// Currency identifies a configured currency code (e.g. "ALPHA").
// The valid set is supplied by the knowledge collaborator, never hardcoded.
type Currency string

// InfraKey identifies an infrastructure supply channel.
type InfraKey string

// Infrastructure channels adjustable through the supply act.
const (
	InfraEnergy InfraKey = "ENERGY"
	InfraNet    InfraKey = "NET"
)

// ValidInfraKeys defines the allowed infrastructure channels.
var ValidInfraKeys = map[InfraKey]bool{
	InfraEnergy: true,
	InfraNet:    true,
}

// VibrationLevel is the decaying activity gauge snapshot.
// LastDecay is a unix-millisecond timestamp of the last decay application.
type VibrationLevel struct {
	Value     float64 `json:"value"`
	LastDecay int64   `json:"last_decay"`
}

// InfraEntry is one infrastructure channel's supply level.
// Value is a percentage in [0,100]. LastChange is unix milliseconds.
type InfraEntry struct {
	Value      float64 `json:"value"`
	LastChange int64   `json:"last_change"`
}

// Account is a ledger participant with one balance per configured currency.
// ID is immutable once created; accounts are never deleted.
type Account struct {
	ID       string               `json:"id"`
	Name     string               `json:"name"`
	Balances map[Currency]float64 `json:"balances"`
}

// SystemState is the canonical protocol document.
//
// It is owned exclusively by Store and mutated only through Store.Apply /
// Store.ApplyLocal. Accounts keep creation order; ids are unique within
// the slice.
type SystemState struct {
	IsHalted       bool                    `json:"is_halted"`
	Vibration      VibrationLevel          `json:"vibration_level"`
	CurrencyRates  map[Currency]float64    `json:"currency_rates"`
	Accounts       []Account               `json:"accounts"`
	Infrastructure map[InfraKey]InfraEntry `json:"infrastructure"`
}

// Patch is a partial SystemState update.
//
// Merge semantics are shallow: a non-nil field replaces the corresponding
// state field wholesale, except the two maps, which merge per key (each
// present key replaces its entry wholesale). Nil fields leave state
// untouched.
type Patch struct {
	IsHalted       *bool                   `json:"is_halted,omitempty"`
	Vibration      *VibrationLevel         `json:"vibration_level,omitempty"`
	CurrencyRates  map[Currency]float64    `json:"currency_rates,omitempty"`
	Accounts       []Account               `json:"accounts,omitempty"`
	Infrastructure map[InfraKey]InfraEntry `json:"infrastructure,omitempty"`

	// Seq is the logical sequence number stamped by Store.Apply.
	// Orders the persisted patch log deterministically.
	Seq int64 `json:"seq"`
}

// Clone returns a deep copy of the state.
// Callers may mutate the copy freely without affecting the original.
func (s SystemState) Clone() SystemState {
	out := s
	if s.CurrencyRates != nil {
		out.CurrencyRates = make(map[Currency]float64, len(s.CurrencyRates))
		for k, v := range s.CurrencyRates {
			out.CurrencyRates[k] = v
		}
	}
	if s.Infrastructure != nil {
		out.Infrastructure = make(map[InfraKey]InfraEntry, len(s.Infrastructure))
		for k, v := range s.Infrastructure {
			out.Infrastructure[k] = v
		}
	}
	if s.Accounts != nil {
		out.Accounts = make([]Account, len(s.Accounts))
		for i, a := range s.Accounts {
			out.Accounts[i] = a.Clone()
		}
	}
	return out
}

// Clone returns a deep copy of the account.
func (a Account) Clone() Account {
	out := a
	if a.Balances != nil {
		out.Balances = make(map[Currency]float64, len(a.Balances))
		for k, v := range a.Balances {
			out.Balances[k] = v
		}
	}
	return out
}

// FindAccount returns the account with the given id and true, or a zero
// Account and false. The returned account is a reference into the slice;
// callers holding a defensive copy may mutate it.
func (s *SystemState) FindAccount(id string) (*Account, bool) {
	for i := range s.Accounts {
		if s.Accounts[i].ID == id {
			return &s.Accounts[i], true
		}
	}
	return nil, false
}

// Supply returns the aggregate balance of one currency across all accounts.
// Used by the rule engine's SUPPLY_CHECK predicates.
func (s *SystemState) Supply(cur Currency) float64 {
	var total float64
	for i := range s.Accounts {
		total += s.Accounts[i].Balances[cur]
	}
	return total
}
