// Package store is the persistence collaborator: a document-oriented
// SQLite store keyed by a fixed application identifier.
//
// Each key maps to one JSON SystemState document. Update merges a patch
// into the document inside a transaction and appends the patch to an
// ordered audit log (patch_log), which is the durable trail behind the
// audit CLI command. Subscribers registered with Subscribe receive the
// post-merge snapshot after every successful Update, modeling the remote
// snapshot-listener surface in-process.
//
// The core treats this layer as eventually consistent: local state is
// applied before Update resolves, and an Update failure is logged by the
// caller, never rolled back.
package store
