// Package acts is the catalog of atomic ledger operations: halt, restart,
// account creation, transfer, mint, exchange, and infrastructure supply
// adjustment.
//
// Every act follows the same shape: validate against the current snapshot,
// compute a full replacement for the fields it touches, commit through the
// state store, then charge the vibration gauge. Costs are charged only on
// success; a validation failure leaves state and gauge byte-identical.
//
// The system has two global states, Operational and Halted, transitioned
// only by the halt/restart acts. Both transitions are idempotent no-ops
// when the system is already in the target state.
package acts
