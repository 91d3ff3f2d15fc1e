package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/optisync/internal/ir"
)

func TestEvalText(t *testing.T) {
	out, err := executeCommand(t, "eval", chatMutation)
	require.NoError(t, err)

	assert.Contains(t, out, `1. session {"data":{"title":"Chat"},"entity":"Session","id":"temp_0","op":"create"}`)
	assert.Contains(t, out, `2. message {"data":{"sessionId":"temp_0","text":"hi"},"entity":"Message","id":"temp_1","op":"create"}`)
	assert.Contains(t, out, "batch ")
}

func TestEvalJSON(t *testing.T) {
	out, err := executeCommand(t, "--format", "json", "eval", todoMutation, "--set", "list=l1", "--set", "title=Milk")
	require.NoError(t, err)

	var result EvalResult
	resp := decodeResponse(t, out, &result)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, []string{"todo", "list"}, result.Order)
	require.Len(t, result.Operations, 2)

	todo := result.Operations[0]
	assert.Equal(t, "temp_0", todo.Op["id"])
	assert.Equal(t, map[string]any{"title": "Milk", "listId": "l1", "done": false}, todo.Op["data"])

	list := result.Operations[1]
	assert.Equal(t, "l1", list.Op["id"])
	assert.Contains(t, list.Op, "deferred")
	assert.Len(t, result.BatchHash, 64)
	assert.Len(t, list.Hash, 64)
}

func TestEvalIsDeterministic(t *testing.T) {
	first, err := executeCommand(t, "--format", "json", "eval", chatMutation)
	require.NoError(t, err)
	second, err := executeCommand(t, "--format", "json", "eval", chatMutation)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestEvalMissingID(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "bump.yaml", `
mutation:
  bump:
    $entity: Counter
    $op: update
    $id: { $input: counter }
    value: { $increment: 1 }
`)

	out, err := executeCommand(t, "--format", "json", "eval", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	resp := decodeResponse(t, out, nil)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeEvalFailed, resp.Error.Code)
	assert.Equal(t, map[string]any{"code": "MISSING_ID", "operation": "bump"}, resp.Error.Details)
}

func TestEvalParseError(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "broken.cue", "mutation: {")

	out, err := executeCommand(t, "eval", path)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error [E002]")
}

func TestBuildEvalResultHashesMatchIR(t *testing.T) {
	ops := []ir.EvaluatedOperation{{
		Name:   "a",
		Entity: "A",
		Op:     ir.OpCreate,
		ID:     "temp_0",
		Data:   map[string]any{"x": int64(1)},
	}}
	result, err := buildEvalResult(ops)
	require.NoError(t, err)

	want, err := ir.BatchHash(ops)
	require.NoError(t, err)
	assert.Equal(t, want, result.BatchHash)
	opHash, err := ir.OperationHash(ops[0])
	require.NoError(t, err)
	assert.Equal(t, opHash, result.Operations[0].Hash)
}
