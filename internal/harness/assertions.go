package harness

import (
	"fmt"
	"math"

	"github.com/quartzlab/auditcore/internal/state"
)

// floatTolerance absorbs accumulated float64 noise in balance math.
const floatTolerance = 1e-9

// checkAssertions evaluates every assertion against the final snapshot.
// Returns one message per failed assertion.
func checkAssertions(assertions []Assertion, snap state.SystemState) []string {
	var failures []string
	for i, a := range assertions {
		if msg := checkAssertion(a, snap); msg != "" {
			failures = append(failures, fmt.Sprintf("assertions[%d]: %s", i, msg))
		}
	}
	return failures
}

func checkAssertion(a Assertion, snap state.SystemState) string {
	switch a.Type {
	case AssertBalance:
		acct, ok := snap.FindAccount(a.Account)
		if !ok {
			return fmt.Sprintf("account %q not found", a.Account)
		}
		got := acct.Balances[state.Currency(a.Currency)]
		if !closeTo(got, a.Value) {
			return fmt.Sprintf("balance(%s,%s) = %v, expected %v", a.Account, a.Currency, got, a.Value)
		}

	case AssertSupply:
		got := snap.Supply(state.Currency(a.Currency))
		if !closeTo(got, a.Value) {
			return fmt.Sprintf("supply(%s) = %v, expected %v", a.Currency, got, a.Value)
		}

	case AssertVibration:
		got := snap.Vibration.Value
		if !closeTo(got, a.Value) {
			return fmt.Sprintf("vibration = %v, expected %v", got, a.Value)
		}

	case AssertHalted:
		if snap.IsHalted != a.Bool {
			return fmt.Sprintf("halted = %v, expected %v", snap.IsHalted, a.Bool)
		}

	case AssertAccounts:
		if len(snap.Accounts) != a.Count {
			return fmt.Sprintf("accounts = %d, expected %d", len(snap.Accounts), a.Count)
		}

	case AssertInfra:
		entry, ok := snap.Infrastructure[state.InfraKey(a.Kind)]
		if !ok {
			return fmt.Sprintf("infrastructure %q not found", a.Kind)
		}
		if !closeTo(entry.Value, a.Value) {
			return fmt.Sprintf("infrastructure(%s) = %v, expected %v", a.Kind, entry.Value, a.Value)
		}
	}
	return ""
}

func closeTo(got, want float64) bool {
	return math.Abs(got-want) <= floatTolerance
}
