// Package harness runs YAML conformance scenarios against a fresh,
// fully in-memory engine: seed a ledger arrangement, perform a flow of
// acts with expected outcomes, then assert on balances, supply, the
// vibration gauge, and the halt switch.
//
// Scenario runs are deterministic (frozen clock, no persistence), so act
// traces can be compared against golden files.
package harness
