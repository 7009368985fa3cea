package cli

import (
	"bytes"
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quartzlab/auditcore/internal/rules"
)

// TestTick_AuditsExternalActs tests that the periodic reload re-evaluates
// the rule table against state changed by another process, even when the
// gauge is drained and decay never commits a write of its own.
func TestTick_AuditsExternalActs(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "audit.db")
	ctx := context.Background()

	e, closeEnv, err := openEnv(ctx, dbPath, "")
	require.NoError(t, err)
	defer closeEnv()

	// Another process halts the system through its own handle.
	other, closeOther, err := openEnv(ctx, dbPath, "")
	require.NoError(t, err)
	require.NoError(t, other.engine.Halt(ctx))
	closeOther()

	var buf bytes.Buffer
	ruleEngine := rules.New(rules.Default(), slog.New(slog.NewTextHandler(&buf, nil)))

	tick(ctx, e, ruleEngine)

	assert.True(t, e.st.Current().IsHalted)
	assert.Contains(t, buf.String(), "halted-audit")
}

// TestTick_QuietStateFiresNothing tests that the reload path stays silent
// when no rule triggers hold.
func TestTick_QuietStateFiresNothing(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "audit.db")
	ctx := context.Background()

	e, closeEnv, err := openEnv(ctx, dbPath, "")
	require.NoError(t, err)
	defer closeEnv()

	var buf bytes.Buffer
	ruleEngine := rules.New(rules.Default(), slog.New(slog.NewTextHandler(&buf, nil)))

	tick(ctx, e, ruleEngine)

	assert.Empty(t, buf.String())
}
