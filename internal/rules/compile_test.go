package rules

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeRuleFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

// TestDefault tests the embedded rule table.
func TestDefault(t *testing.T) {
	table := Default()
	require.NotEmpty(t, table)

	ids := make(map[string]bool)
	for _, r := range table {
		assert.NotEmpty(t, r.ID)
		assert.NotEmpty(t, r.Description)
		assert.NotEmpty(t, r.Triggers)
		assert.NotEmpty(t, r.Actions)
		assert.False(t, ids[r.ID], "duplicate id %s", r.ID)
		ids[r.ID] = true
	}
}

// TestLoadDir tests compiling a rules directory.
func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	writeRuleFile(t, dir, "audit.cue", `
rules: [
	{
		id:          "high-vibration"
		description: "Warn when the gauge runs hot"
		vibration_cost: 2
		triggers: [
			{type: "STATE_CHECK", param: "vibrationLevel.value", op: ">=", value: 80},
		]
		actions: [
			{type: "LOG", severity: "warn", message: "vibration running hot"},
		]
	},
]
`)

	table, err := LoadDir(dir)
	require.NoError(t, err)
	require.Len(t, table, 1)

	rule := table[0]
	assert.Equal(t, "high-vibration", rule.ID)
	assert.Equal(t, 2.0, rule.VibrationCost)
	require.Len(t, rule.Triggers, 1)
	assert.Equal(t, StateCheck, rule.Triggers[0].Type)
	assert.Equal(t, "vibrationLevel.value", rule.Triggers[0].Param)
	assert.Equal(t, OpGe, rule.Triggers[0].Operator)
	assert.Equal(t, 80.0, rule.Triggers[0].Value)
	require.Len(t, rule.Actions, 1)
	assert.Equal(t, ActionLog, rule.Actions[0].Type)
	assert.Equal(t, SeverityWarn, rule.Actions[0].Severity)
}

// TestLoadDir_LexicalOrder tests deterministic ordering across files.
func TestLoadDir_LexicalOrder(t *testing.T) {
	dir := t.TempDir()
	ruleTemplate := `
rules: [
	{
		id:          "%s"
		description: "ordering probe"
		triggers: [{type: "STATE_CHECK", param: "isHalted", op: "==", value: true}]
		actions: [{type: "LOG", message: "probe"}]
	},
]
`
	writeRuleFile(t, dir, "b.cue", fmt.Sprintf(ruleTemplate, "from-b"))
	writeRuleFile(t, dir, "a.cue", fmt.Sprintf(ruleTemplate, "from-a"))

	table, err := LoadDir(dir)
	require.NoError(t, err)
	require.Len(t, table, 2)
	assert.Equal(t, "from-a", table[0].ID)
	assert.Equal(t, "from-b", table[1].ID)
}

// TestLoadDir_Errors tests the compile failure modes.
func TestLoadDir_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "no rules list",
			content: `foo: 1`,
			wantErr: "'rules' list is required",
		},
		{
			name: "missing id",
			content: `rules: [{
				description: "nameless"
				triggers: [{type: "STATE_CHECK", param: "isHalted", op: "==", value: true}]
				actions: [{type: "LOG", message: "x"}]
			}]`,
			wantErr: "id is required",
		},
		{
			name: "invalid predicate type",
			content: `rules: [{
				id: "r", description: "d"
				triggers: [{type: "TIME_CHECK", param: "x", op: "==", value: 1}]
				actions: [{type: "LOG", message: "x"}]
			}]`,
			wantErr: "invalid predicate type",
		},
		{
			name: "invalid operator",
			content: `rules: [{
				id: "r", description: "d"
				triggers: [{type: "STATE_CHECK", param: "x", op: "~=", value: 1}]
				actions: [{type: "LOG", message: "x"}]
			}]`,
			wantErr: "invalid operator",
		},
		{
			name: "missing trigger value",
			content: `rules: [{
				id: "r", description: "d"
				triggers: [{type: "STATE_CHECK", param: "x", op: "=="}]
				actions: [{type: "LOG", message: "x"}]
			}]`,
			wantErr: "value is required",
		},
		{
			name: "empty triggers",
			content: `rules: [{
				id: "r", description: "d"
				triggers: []
				actions: [{type: "LOG", message: "x"}]
			}]`,
			wantErr: "at least one trigger",
		},
		{
			name: "unsupported action type",
			content: `rules: [{
				id: "r", description: "d"
				triggers: [{type: "STATE_CHECK", param: "x", op: "==", value: 1}]
				actions: [{type: "BLOCK", message: "x"}]
			}]`,
			wantErr: "unsupported action type",
		},
		{
			name: "missing action message",
			content: `rules: [{
				id: "r", description: "d"
				triggers: [{type: "STATE_CHECK", param: "x", op: "==", value: 1}]
				actions: [{type: "LOG"}]
			}]`,
			wantErr: "message is required",
		},
		{
			name: "invalid severity",
			content: `rules: [{
				id: "r", description: "d"
				triggers: [{type: "STATE_CHECK", param: "x", op: "==", value: 1}]
				actions: [{type: "LOG", severity: "fatal", message: "x"}]
			}]`,
			wantErr: "invalid severity",
		},
		{
			name: "negative cost",
			content: `rules: [{
				id: "r", description: "d"
				vibration_cost: -1
				triggers: [{type: "STATE_CHECK", param: "x", op: "==", value: 1}]
				actions: [{type: "LOG", message: "x"}]
			}]`,
			wantErr: "non-negative",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeRuleFile(t, dir, "bad.cue", tt.content)

			_, err := LoadDir(dir)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

// TestLoadDir_DuplicateIDAcrossFiles tests table-level id uniqueness.
func TestLoadDir_DuplicateIDAcrossFiles(t *testing.T) {
	dir := t.TempDir()
	content := `
rules: [
	{
		id: "dup", description: "d"
		triggers: [{type: "STATE_CHECK", param: "isHalted", op: "==", value: true}]
		actions: [{type: "LOG", message: "x"}]
	},
]
`
	writeRuleFile(t, dir, "a.cue", content)
	writeRuleFile(t, dir, "b.cue", content)

	_, err := LoadDir(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate rule id")
}

// TestLoadDir_EmptyDir tests the no-rule-files error.
func TestLoadDir_EmptyDir(t *testing.T) {
	_, err := LoadDir(t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no .cue rule files")
}

// TestLoadDir_DefaultSeverity tests the severity fallback to info.
func TestLoadDir_DefaultSeverity(t *testing.T) {
	dir := t.TempDir()
	writeRuleFile(t, dir, "r.cue", `
rules: [
	{
		id: "quiet", description: "d"
		triggers: [{type: "SUPPLY_CHECK", param: "ALPHA", op: ">", value: 100}]
		actions: [{type: "LOG", message: "supply note"}]
	},
]
`)

	table, err := LoadDir(dir)
	require.NoError(t, err)
	require.Len(t, table, 1)
	assert.Equal(t, SeverityInfo, table[0].Actions[0].Severity)
	assert.Equal(t, SupplyCheck, table[0].Triggers[0].Type)
}
