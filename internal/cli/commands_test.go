package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testHooks = `
version: 1

hooks: {
	name: {id: 1, predicate: 100, kind: "exists"}
	age: {id: 2, predicate: 200, kind: "compare", op: "ge", threshold: 18}
}
`

const testFeed = `
- domain: 0
  rows:
    - {s: 1, p: 100, o: 5}
    - {s: 2, p: 200, o: 30}
    - {s: 3, p: 200, o: 12}
`

// writeFile writes content to dir/name and returns the path.
func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// execute runs the root command with args and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	out, diag := &bytes.Buffer{}, &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(diag)
	cmd.SetIn(strings.NewReader(""))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// recordedRun runs the test feed into a fresh database and returns the
// directory, the hooks path and the database path.
func recordedRun(t *testing.T) (string, string, string) {
	t.Helper()
	dir := t.TempDir()
	hooksPath := writeFile(t, dir, "hooks.cue", testHooks)
	feedPath := writeFile(t, dir, "feed.yaml", testFeed)
	dbPath := filepath.Join(dir, "prov.db")

	out, err := execute(t, "run", "--hooks", hooksPath, "--feed", feedPath, "--db", dbPath)
	require.NoError(t, err)
	require.Contains(t, out, "1 cycles committed")
	return dir, hooksPath, dbPath
}

func TestRun_CommitsFeed(t *testing.T) {
	dir := t.TempDir()
	hooksPath := writeFile(t, dir, "hooks.cue", testHooks)
	feedPath := writeFile(t, dir, "feed.yaml", testFeed)

	out, err := execute(t, "run", "--hooks", hooksPath, "--feed", feedPath)
	require.NoError(t, err)
	assert.Contains(t, out, "epoch 0  cycle 1  ticks 1  actions 2  cost 3  digest 9b826dff")
	assert.Contains(t, out, "1 accepted, 0 refused, 1 cycles committed, 0 parked")
}

func TestRun_JSON(t *testing.T) {
	dir := t.TempDir()
	hooksPath := writeFile(t, dir, "hooks.cue", testHooks)
	feedPath := writeFile(t, dir, "feed.yaml", testFeed+`
- domain: 0
  rows: [{s: 1, p: 999, o: 1}]
`)

	out, err := execute(t, "--format", "json", "run", "--hooks", hooksPath, "--feed", feedPath)
	require.NoError(t, err)

	// One line per committed cycle, then the summary response.
	dec := json.NewDecoder(strings.NewReader(out))
	var cycle CycleSummary
	require.NoError(t, dec.Decode(&cycle))
	assert.Equal(t, uint64(0), cycle.Epoch)
	assert.Equal(t, 2, cycle.Actions)
	assert.Equal(t, 3, cycle.Cost)
	assert.True(t, strings.HasPrefix(cycle.Digest, "9b826dff"))

	var resp struct {
		Status string     `json:"status"`
		Data   RunSummary `json:"data"`
	}
	require.NoError(t, dec.Decode(&resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 2, resp.Data.Accepted)
	assert.Equal(t, 1, resp.Data.Cycles)
	assert.NotEmpty(t, resp.Data.RunID)
}

func TestRun_ResubmitSplitsParkedDeltas(t *testing.T) {
	dir := t.TempDir()
	hooksPath := writeFile(t, dir, "hooks.cue", testHooks)
	feedPath := writeFile(t, dir, "feed.yaml", testFeed)

	out, err := execute(t, "run", "--hooks", hooksPath, "--feed", feedPath, "--budget", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "0 cycles committed, 1 parked")

	out, err = execute(t, "run", "--hooks", hooksPath, "--feed", feedPath, "--budget", "2", "--resubmit")
	require.NoError(t, err)
	assert.Contains(t, out, "1 cycles committed, 0 parked")
}

func TestRun_Errors(t *testing.T) {
	dir := t.TempDir()
	hooksPath := writeFile(t, dir, "hooks.cue", testHooks)
	feedPath := writeFile(t, dir, "feed.yaml", testFeed)
	badHooks := writeFile(t, dir, "bad.cue", `hooks: a: {id: 1, predicate: 1, kind: "regex"}`)

	_, err := execute(t, "run", "--feed", feedPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `required flag(s) "hooks" not set`)

	_, err = execute(t, "run", "--hooks", badHooks, "--feed", feedPath)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, err = execute(t, "run", "--hooks", hooksPath, "--feed", filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, err = execute(t, "run", "--hooks", hooksPath, "--feed", feedPath, "--shards", "9")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestReconcile(t *testing.T) {
	dir := t.TempDir()
	hooksPath := writeFile(t, dir, "hooks.cue", testHooks)

	out, err := execute(t, "reconcile", "--hooks", hooksPath, "-t", "1,100,5", "-t", "2,200,30", "-t", "3,200,12")
	require.NoError(t, err)
	assert.Contains(t, out, "reconciled: 2 actions, cost 3, digest b71376f8")
	assert.Contains(t, out, "lane 0  asserted  (1, 100, 5)")
	assert.Contains(t, out, "lane 1  compared  (2, 200, 30)")

	out, err = execute(t, "reconcile", "--hooks", hooksPath, "-t", "1,100,5", "-t", "2,200,30", "--budget", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "parked: needs 3 ticks, budget 1 (hook 2)")
}

func TestReconcile_Errors(t *testing.T) {
	dir := t.TempDir()
	hooksPath := writeFile(t, dir, "hooks.cue", testHooks)

	out, err := execute(t, "--format", "json", "reconcile", "--hooks", hooksPath, "-t", "1,999,5")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, `"code": "NO_HOOK_REGISTERED"`)

	_, err = execute(t, "reconcile", "--hooks", hooksPath, "-t", "1,100")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	args := []string{"reconcile", "--hooks", hooksPath}
	for i := 0; i < 9; i++ {
		args = append(args, "-t", "1,100,5")
	}
	_, err = execute(t, args...)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "batch exceeds lane bounds")
}

func TestParseTriple(t *testing.T) {
	tr, err := parseTriple(" 1, 2 ,3")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), tr.S)
	assert.Equal(t, uint64(2), tr.P)
	assert.Equal(t, uint64(3), tr.O)

	_, err = parseTriple("1,2,x")
	assert.Error(t, err)
	_, err = parseTriple("1,2,3,4")
	assert.Error(t, err)
}

func TestReplay_Verified(t *testing.T) {
	_, hooksPath, dbPath := recordedRun(t)

	out, err := execute(t, "replay", "--db", dbPath, "--hooks", hooksPath)
	require.NoError(t, err)
	assert.Contains(t, out, "replayed 1 cycles, 1 ticks")
	assert.Contains(t, out, "chain intact: 1 records")
	assert.Contains(t, out, "✓ replay verified")
}

func TestReplay_DivergesWithChangedHooks(t *testing.T) {
	dir, _, dbPath := recordedRun(t)
	changed := writeFile(t, dir, "changed.cue", `hooks: name: {id: 1, predicate: 100, kind: "exists"}`)

	out, err := execute(t, "replay", "--db", dbPath, "--hooks", changed)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ epoch 0 domain 0 tick 1 (cycle 1): NO_HOOK_REGISTERED")

	out, err = execute(t, "--format", "json", "replay", "--db", dbPath, "--hooks", changed)
	require.Error(t, err)
	assert.Contains(t, out, `"code": "E_REPLAY_DIVERGED"`)
}

func TestReplay_MissingDatabase(t *testing.T) {
	dir := t.TempDir()
	hooksPath := writeFile(t, dir, "hooks.cue", testHooks)

	_, err := execute(t, "replay", "--db", filepath.Join(dir, "nope.db"), "--hooks", hooksPath)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "file not found")
}

func TestTrace(t *testing.T) {
	_, _, dbPath := recordedRun(t)

	out, err := execute(t, "trace", "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, out, "epoch 0  cycle 1  digest 9b826dff")
	assert.Contains(t, out, "[0:asserted 1:compared]")

	out, err = execute(t, "--format", "json", "trace", "--db", dbPath)
	require.NoError(t, err)
	var resp struct {
		Status  string       `json:"status"`
		Data    []TraceCycle `json:"data"`
		TraceID string       `json:"trace_id"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, resp.Data[0].TraceID, resp.TraceID)
	require.Len(t, resp.Data[0].Records, 1)
	assert.Equal(t, []string{"0:asserted", "1:compared"}, resp.Data[0].Records[0].Actions)
	assert.Equal(t, uint8(3), resp.Data[0].Records[0].Rows)

	_, err = execute(t, "trace", "--db", dbPath, "--epoch", "0")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--epoch requires --run")

	_, err = execute(t, "trace", "--db", dbPath, "--run", "nope", "--epoch", "0")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestHooksValidate(t *testing.T) {
	dir := t.TempDir()
	hooksPath := writeFile(t, dir, "hooks.cue", testHooks)

	out, err := execute(t, "hooks", "validate", hooksPath)
	require.NoError(t, err)
	assert.Contains(t, out, "2 hooks (version 1")
	assert.Contains(t, out, "compare")

	out, err = execute(t, "--format", "json", "hooks", "validate", hooksPath)
	require.NoError(t, err)
	var resp struct {
		Data HooksResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Data.Hooks, 2)
	assert.Equal(t, "age", resp.Data.Hooks[1].Name)
	assert.Equal(t, uint8(2), resp.Data.Hooks[1].Cost)
	assert.Len(t, resp.Data.Fingerprint, 16)

	bad := writeFile(t, dir, "bad.cue", `hooks: a: {id: 1, predicate: 1, kind: "regex"}`)
	_, err = execute(t, "hooks", "validate", bad)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestTestCommand(t *testing.T) {
	out, err := execute(t, "test", "../harness/testdata/scenarios")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ adult_check")
	assert.Contains(t, out, "Test Summary: 4 passed, 0 failed, 4 total")

	out, err = execute(t, "test", "../harness/testdata/scenarios", "--filter", "budget*")
	require.NoError(t, err)
	assert.Contains(t, out, "Test Summary: 1 passed, 0 failed, 1 total")
}

func TestTestCommand_UpdateAndMismatch(t *testing.T) {
	golden := t.TempDir()

	out, err := execute(t, "test", "../harness/testdata/scenarios", "--filter", "no_hook", "--golden", golden, "--update")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ no_hook (golden updated)")

	written, err := os.ReadFile(filepath.Join(golden, "no_hook.golden"))
	require.NoError(t, err)
	want, err := os.ReadFile("../harness/testdata/golden/no_hook.golden")
	require.NoError(t, err)
	assert.Equal(t, string(want), string(written))

	require.NoError(t, os.WriteFile(filepath.Join(golden, "no_hook.golden"), []byte("{}"), 0644))
	out, err = execute(t, "test", "../harness/testdata/scenarios", "--filter", "no_hook", "--golden", golden)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "trace does not match golden file")
}

func TestTestCommand_MissingDir(t *testing.T) {
	_, err := execute(t, "test", "/nonexistent/scenarios")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
