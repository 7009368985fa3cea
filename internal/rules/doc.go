// Package rules is the audit rule engine: a declarative trigger/action
// layer evaluated against state snapshots, independent of the imperative
// act catalog.
//
// Rules are compiled once at startup from CUE files into an immutable
// table. Each rule is a conjunction of predicates over the state document
// (STATE_CHECK) or aggregate currency supply (SUPPLY_CHECK) plus an
// ordered action list. The only implemented action is structured logging;
// the vocabulary is a closed tagged set so future policy actions (rate
// suppression, fee injection) are additions to the interpreter, not new
// imperative code paths.
//
// The engine is advisory: it observes and logs, it never blocks an act or
// applies a patch.
package rules
