package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/quartzlab/auditcore/internal/state"
)

// PatchRecord is one audit-trail entry: a patch as it was applied.
type PatchRecord struct {
	Seq       int64       `json:"seq"`
	Patch     state.Patch `json:"patch"`
	AppliedAt int64       `json:"applied_at"` // unix milliseconds
}

// Listener receives the post-merge snapshot after each successful Update.
type Listener func(state.SystemState)

// subscriptions tracks in-process snapshot listeners per document key.
type subscriptions struct {
	mu        sync.Mutex
	nextID    int
	listeners map[string]map[int]Listener
}

// ReadOrCreate returns the document stored under key, inserting def first
// if no document exists yet. The returned snapshot is always the stored
// row, so a caller whose insert loses a create race against another
// writer seeds from the winning document, not from its own default.
func (s *Store) ReadOrCreate(ctx context.Context, key string, def state.SystemState) (state.SystemState, error) {
	var doc string
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM documents WHERE key = ?`, key,
	).Scan(&doc)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		data, err := json.Marshal(def)
		if err != nil {
			return state.SystemState{}, fmt.Errorf("marshal default document: %w", err)
		}
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO documents (key, doc, updated_at)
			VALUES (?, ?, ?)
			ON CONFLICT(key) DO NOTHING
		`, key, string(data), time.Now().UnixMilli())
		if err != nil {
			return state.SystemState{}, fmt.Errorf("create document %s: %w", key, err)
		}
		if err := s.db.QueryRowContext(ctx,
			`SELECT doc FROM documents WHERE key = ?`, key,
		).Scan(&doc); err != nil {
			return state.SystemState{}, fmt.Errorf("reread document %s: %w", key, err)
		}

	case err != nil:
		return state.SystemState{}, fmt.Errorf("read document %s: %w", key, err)
	}

	var snap state.SystemState
	if err := json.Unmarshal([]byte(doc), &snap); err != nil {
		return state.SystemState{}, fmt.Errorf("decode document %s: %w", key, err)
	}
	return snap, nil
}

// Update merges the patch into the stored document and appends it to the
// audit log, all in one transaction. Implements state.Persister.
//
// A (key, seq) pair that is already logged with the same patch is a naive
// retry and stays idempotent - patches are replacements, so re-applying
// the document merge is safe too. A pair logged with a DIFFERENT patch
// means another writer seeded the same sequence counter; the entry is
// appended under the next free sequence number instead so the trail never
// loses a patch that mutated the document.
//
// Registered listeners are notified with the post-merge snapshot after the
// transaction commits.
func (s *Store) Update(ctx context.Context, key string, p state.Patch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("update %s: begin tx: %w", key, err)
	}
	defer tx.Rollback() // No-op if committed

	var doc string
	err = tx.QueryRowContext(ctx,
		`SELECT doc FROM documents WHERE key = ?`, key,
	).Scan(&doc)
	if err != nil {
		return fmt.Errorf("update %s: read document: %w", key, err)
	}

	var snap state.SystemState
	if err := json.Unmarshal([]byte(doc), &snap); err != nil {
		return fmt.Errorf("update %s: decode document: %w", key, err)
	}

	state.Merge(&snap, p)

	merged, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("update %s: marshal document: %w", key, err)
	}

	now := time.Now().UnixMilli()
	if _, err := tx.ExecContext(ctx, `
		UPDATE documents SET doc = ?, updated_at = ? WHERE key = ?
	`, string(merged), now, key); err != nil {
		return fmt.Errorf("update %s: write document: %w", key, err)
	}

	patchJSON, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("update %s: marshal patch: %w", key, err)
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO patch_log (key, seq, patch, applied_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key, seq) DO NOTHING
	`, key, p.Seq, string(patchJSON), now)
	if err != nil {
		return fmt.Errorf("update %s: append patch log: %w", key, err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update %s: append patch log: %w", key, err)
	}
	if inserted == 0 {
		var existing string
		if err := tx.QueryRowContext(ctx,
			`SELECT patch FROM patch_log WHERE key = ? AND seq = ?`, key, p.Seq,
		).Scan(&existing); err != nil {
			return fmt.Errorf("update %s: read logged patch %d: %w", key, p.Seq, err)
		}
		if existing != string(patchJSON) {
			// Sequence collision between writers, not a retry. MAX(seq)
			// is stable here because the transaction holds the write lock.
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO patch_log (key, seq, patch, applied_at)
				SELECT ?, COALESCE(MAX(seq), 0) + 1, ?, ?
				FROM patch_log WHERE key = ?
			`, key, string(patchJSON), now, key); err != nil {
				return fmt.Errorf("update %s: reseq patch log: %w", key, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("update %s: commit: %w", key, err)
	}

	s.notify(key, snap)
	return nil
}

// PatchLog returns the audit trail for key in sequence order.
// limit <= 0 returns the full trail.
func (s *Store) PatchLog(ctx context.Context, key string, limit int) ([]PatchRecord, error) {
	query := `SELECT seq, patch, applied_at FROM patch_log WHERE key = ? ORDER BY seq`
	args := []any{key}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("patch log %s: %w", key, err)
	}
	defer rows.Close()

	var out []PatchRecord
	for rows.Next() {
		var rec PatchRecord
		var patchJSON string
		if err := rows.Scan(&rec.Seq, &patchJSON, &rec.AppliedAt); err != nil {
			return nil, fmt.Errorf("patch log %s: scan: %w", key, err)
		}
		if err := json.Unmarshal([]byte(patchJSON), &rec.Patch); err != nil {
			return nil, fmt.Errorf("patch log %s: decode seq %d: %w", key, rec.Seq, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("patch log %s: %w", key, err)
	}
	return out, nil
}

// LastSeq returns the highest sequence number in the patch log for key,
// or zero when the trail is empty. New writers continue from here so the
// trail stays collision-free across process restarts.
func (s *Store) LastSeq(ctx context.Context, key string) (int64, error) {
	var seq sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(seq) FROM patch_log WHERE key = ?`, key,
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("last seq %s: %w", key, err)
	}
	return seq.Int64, nil
}

// Subscribe registers a listener for post-Update snapshots of key.
// Returns an unsubscribe function. Listeners run synchronously on the
// updating goroutine, in registration order.
func (s *Store) Subscribe(key string, fn Listener) func() {
	s.subs.mu.Lock()
	defer s.subs.mu.Unlock()

	if s.subs.listeners == nil {
		s.subs.listeners = make(map[string]map[int]Listener)
	}
	if s.subs.listeners[key] == nil {
		s.subs.listeners[key] = make(map[int]Listener)
	}

	id := s.subs.nextID
	s.subs.nextID++
	s.subs.listeners[key][id] = fn

	return func() {
		s.subs.mu.Lock()
		defer s.subs.mu.Unlock()
		delete(s.subs.listeners[key], id)
	}
}

func (s *Store) notify(key string, snap state.SystemState) {
	s.subs.mu.Lock()
	ids := make([]int, 0, len(s.subs.listeners[key]))
	for id := range s.subs.listeners[key] {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]Listener, 0, len(ids))
	for _, id := range ids {
		fns = append(fns, s.subs.listeners[key][id])
	}
	s.subs.mu.Unlock()

	for _, fn := range fns {
		fn(snap.Clone())
	}
}
