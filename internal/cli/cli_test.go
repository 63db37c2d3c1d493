package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intent-guard/internal/approval"
	"intent-guard/internal/pipeline"
	"intent-guard/internal/state"
	"intent-guard/internal/types"
)

func writeConfig(t *testing.T, dir string) string {
	t.Helper()
	cfg := fmt.Sprintf(`mode: DRY_RUN
poll_seconds: 1
state_path: %s
journal_dir: %s
execution:
  enabled: false
breaker:
  fail_threshold: 3
  cooldown_sec: 60
caps:
  default_symbol_notional: 0
`, filepath.Join(dir, "intents.db"), filepath.Join(dir, "logs"))
	p := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(cfg), 0o644))
	return p
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestExitCodeClassification(t *testing.T) {
	assert.Equal(t, ExitOK, ExitCode(nil))
	assert.Equal(t, ExitInternal, ExitCode(errors.New("boom")))
	assert.Equal(t, ExitPolicyBlocked, ExitCode(&ExitError{Code: ExitPolicyBlocked, Err: errors.New("blocked")}))
	assert.Equal(t, ExitStateConflict, ExitCode(&state.CASConflictError{
		IntentID: "it-1", Expected: types.StateApproved, Actual: types.StateExecuting,
	}))
	assert.Equal(t, ExitStateConflict, ExitCode(fmt.Errorf("wrap: %w", state.ErrInvalidTransition)))
	assert.Equal(t, ExitExecutionFailed, ExitCode(&approval.ExecutionError{
		IntentID: "it-1", Err: errors.New("broker down"),
	}))
}

func TestInvalidFormatRejected(t *testing.T) {
	_, err := execute(t, "--format", "yaml", "list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestProposeApproveListFlow(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir)

	proposals := `[{"action":"BUY","symbol":"INFY","qty":10,"price":1500,"rationale":"breakout"}]`
	propPath := filepath.Join(dir, "proposals.json")
	require.NoError(t, os.WriteFile(propPath, []byte(proposals), 0o644))

	out, err := execute(t, "propose", propPath, "--config", cfgPath, "--format", "json")
	require.NoError(t, err)

	var step pipeline.StepResult
	require.NoError(t, json.Unmarshal([]byte(out), &step))
	require.Len(t, step.Persisted, 1)
	id := step.Persisted[0]

	// Approve with execution: DRY_RUN simulates a fill.
	out, err = execute(t, "approve", id, "--execute", "--config", cfgPath, "--format", "json")
	require.NoError(t, err)
	var res approval.ApproveResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, types.StateExecuted, res.Status)
	require.NotNil(t, res.Execution)
	assert.NotEmpty(t, res.Execution.OrderID)

	// Rejecting the executed intent exits with the policy code.
	_, err = execute(t, "reject", id, "--config", cfgPath)
	require.Error(t, err)
	assert.Equal(t, ExitPolicyBlocked, ExitCode(err))

	out, err = execute(t, "list", "--config", cfgPath, "--format", "json")
	require.NoError(t, err)
	var rows []approval.ListRow
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, types.StateExecuted, rows[0].Status)

	out, err = execute(t, "journal", id, "--config", cfgPath, "--format", "json")
	require.NoError(t, err)
	var entries []state.JournalEntry
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	// init, approved, executing, executed
	require.Len(t, entries, 4)
	assert.Equal(t, types.StateExecuted, entries[len(entries)-1].ToState)
}

func TestProposeAllBlockedExitsPolicy(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir)

	// Opposite sides on one symbol: the loser is blocked, winner persists.
	// Force a full block with a tie instead.
	proposals := `[
	  {"action":"BUY","symbol":"INFY","qty":10,"price":1500,"priority":5},
	  {"action":"SELL","symbol":"INFY","qty":10,"price":1500,"priority":5}
	]`
	propPath := filepath.Join(dir, "proposals.json")
	require.NoError(t, os.WriteFile(propPath, []byte(proposals), 0o644))

	_, err := execute(t, "propose", propPath, "--config", cfgPath)
	require.Error(t, err)
	assert.Equal(t, ExitPolicyBlocked, ExitCode(err))
}

func TestScreenCommand(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir)

	intents := `[
	  {"intent_id":"a","action":"BUY","symbol":"INFY","qty":10,"price":1500,"order_type":"limit","priority":9},
	  {"intent_id":"b","action":"SELL","symbol":"INFY","qty":10,"price":1500,"order_type":"limit","priority":1}
	]`
	intPath := filepath.Join(dir, "intents.json")
	require.NoError(t, os.WriteFile(intPath, []byte(intents), 0o644))

	out, err := execute(t, "screen", intPath, "--config", cfgPath, "--format", "text")
	require.NoError(t, err)
	assert.Contains(t, out, "approved=1 blocked=1")
	assert.Contains(t, out, "opposite_side_conflict")
}

func TestJournalUnknownIntent(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir)
	_, err := execute(t, "journal", "missing", "--config", cfgPath)
	require.Error(t, err)
	assert.Equal(t, ExitInternal, ExitCode(err))
}
