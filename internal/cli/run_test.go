package cli

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/optisync/internal/store"
	"github.com/roach88/optisync/internal/testutil"
)

// runDeterministic runs a mutation with sequential mutation and tx ids
// unless opts already carries generators.
func runDeterministic(t *testing.T, opts *RunOptions, path string) (string, error) {
	t.Helper()
	if opts.MutationIDs == nil {
		opts.MutationIDs = testutil.NewSequentialIDs("m")
	}
	if opts.TxIDs == nil {
		opts.TxIDs = testutil.NewSequentialIDs("tx")
	}

	out := &bytes.Buffer{}
	cmd := &cobra.Command{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetContext(context.Background())
	err := runMutation(opts, path, cmd)
	return out.String(), err
}

func TestRunMissingDatabaseFlag(t *testing.T) {
	_, err := executeCommand(t, "run", chatMutation)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required flag")
	assert.Contains(t, err.Error(), "db")
}

func TestRunServerAndRejectExclusive(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	_, err := executeCommand(t, "run", "--db", dbPath, "--reject", "x", "--server", "s.json", chatMutation)
	require.Error(t, err)
}

func TestRunNonExistentMutation(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	out, err := executeCommand(t, "run", "--db", dbPath, "missing.yaml")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error [E005]")
}

func TestRunConfirmsWithoutServerData(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	opts := &RunOptions{RootOptions: &RootOptions{Format: "text"}, Database: dbPath}

	out, err := runDeterministic(t, opts, chatMutation)
	require.NoError(t, err)

	assert.Contains(t, out, "Mutation: m-1 (confirmed)")
	assert.Contains(t, out, "1. session [tx-1]")
	assert.Contains(t, out, "2. message [tx-2]")
	assert.Contains(t, out, `Message:temp_1 {"id":"temp_1","sessionId":"temp_0","text":"hi"}`)
	assert.Contains(t, out, `Session:temp_0 {"id":"temp_0","title":"Chat"}`)
	assert.Contains(t, out, "✓ Mutation m-1 confirmed")
}

func TestRunSetOverridesDocumentInput(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	opts := &RunOptions{
		RootOptions: &RootOptions{Format: "json"},
		Database:    dbPath,
		Set:         []string{"title=Standup"},
	}

	out, err := runDeterministic(t, opts, chatMutation)
	require.NoError(t, err)

	var result RunResult
	resp := decodeResponse(t, out, &result)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "m-1", result.MutationID)
	assert.Equal(t, "confirmed", result.Status)
	assert.Equal(t, []string{"session", "message"}, result.Order)
	require.Len(t, result.Entities, 2)
	assert.Equal(t, "Session", result.Entities[1].Entity)
	assert.Equal(t, "Standup", result.Entities[1].Data["title"])
}

func TestRunServerDataReplacesRecord(t *testing.T) {
	dir := t.TempDir()
	server := writeFile(t, dir, "server.json", `{"session": {"id": "temp_0", "title": "Chat", "createdAt": "2024-01-01T00:00:00.000Z"}}`)
	opts := &RunOptions{
		RootOptions: &RootOptions{Format: "json"},
		Database:    filepath.Join(dir, "test.db"),
		Server:      server,
	}

	out, err := runDeterministic(t, opts, chatMutation)
	require.NoError(t, err)

	var result RunResult
	decodeResponse(t, out, &result)
	require.Len(t, result.Entities, 2)
	session := result.Entities[1]
	assert.Equal(t, "2024-01-01T00:00:00.000Z", session.Data["createdAt"])
}

func TestRunServerFileMustHoldRecords(t *testing.T) {
	dir := t.TempDir()
	server := writeFile(t, dir, "server.json", `{"session": "nope"}`)
	opts := &RunOptions{
		RootOptions: &RootOptions{Format: "text"},
		Database:    filepath.Join(dir, "test.db"),
		Server:      server,
	}

	out, err := runDeterministic(t, opts, chatMutation)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error [E006]")
	assert.Contains(t, out, `server record "session" must be a map`)
}

func TestRunRejectRollsBack(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	opts := &RunOptions{
		RootOptions: &RootOptions{Format: "json"},
		Database:    dbPath,
		Reject:      "offline",
	}

	out, err := runDeterministic(t, opts, chatMutation)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var result RunResult
	resp := decodeResponse(t, out, &result)
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeRejected, resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "offline")
	assert.Equal(t, "rolled_back", result.Status)
	assert.Empty(t, result.Entities, "creates are removed on rollback")

	st, err := store.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()
	m, err := st.ReadMutation(context.Background(), "m-1")
	require.NoError(t, err)
	assert.Equal(t, store.MutationRolledBack, m.Status)
}

func TestRunEvaluationError(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "bad.yaml", `
mutation:
  a:
    $entity: A
    $op: create
    other: { $ref: b.id }
  b:
    $entity: B
    $op: create
    other: { $ref: a.id }
`)

	out, err := executeCommand(t, "run", "--db", filepath.Join(dir, "test.db"), path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Error [E008]")
}

func TestRunReusesDatabase(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	_, err := executeCommand(t, "run", "--db", dbPath, chatMutation)
	require.NoError(t, err)
	_, err = executeCommand(t, "run", "--db", dbPath, "--set", "list=l1", "--set", "title=Milk", todoMutation)
	require.NoError(t, err)

	st, err := store.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()
	mutations, err := st.ReadMutations(context.Background())
	require.NoError(t, err)
	require.Len(t, mutations, 2)
	assert.Less(t, mutations[0].Seq, mutations[1].Seq)
}
