package cli

import (
	"context"
	"time"

	"github.com/quartzlab/auditcore/internal/acts"
	"github.com/quartzlab/auditcore/internal/gauge"
	"github.com/quartzlab/auditcore/internal/knowledge"
	"github.com/quartzlab/auditcore/internal/state"
	"github.com/quartzlab/auditcore/internal/store"
)

// DocKey is the fixed document identifier the protocol state lives under.
const DocKey = "audit-protocol-state"

// env wires the collaborators a command needs: the SQLite document store,
// the in-memory state store seeded from it, the gauge, and the act engine.
type env struct {
	db     *store.Store
	st     *state.Store
	gauge  *gauge.Gauge
	engine *acts.Engine
	defs   *knowledge.Definitions
}

// openEnv opens the database, loads definitions, and reads (or creates)
// the state document. The returned close function must be called when the
// command finishes.
func openEnv(ctx context.Context, dbPath, defsPath string) (*env, func(), error) {
	defs, err := loadDefs(defsPath)
	if err != nil {
		return nil, nil, err
	}

	db, err := store.Open(dbPath)
	if err != nil {
		return nil, nil, err
	}

	snap, err := db.ReadOrCreate(ctx, DocKey, defs.DefaultState(time.Now().UnixMilli()))
	if err != nil {
		db.Close()
		return nil, nil, err
	}

	st := state.NewStore(snap, db, DocKey)
	lastSeq, err := db.LastSeq(ctx, DocKey)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	st.ResetSeq(lastSeq)
	g := gauge.New(st, nil)
	engine := acts.NewEngine(st, g, defs, nil)

	e := &env{db: db, st: st, gauge: g, engine: engine, defs: defs}
	return e, func() { db.Close() }, nil
}

func loadDefs(path string) (*knowledge.Definitions, error) {
	if path == "" {
		return knowledge.Default(), nil
	}
	return knowledge.Load(path)
}
