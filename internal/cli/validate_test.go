package cli

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/optisync/internal/compiler"
)

func TestValidateDirectory(t *testing.T) {
	out, err := executeCommand(t, "validate", mutationsDir)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ All mutations valid (2 file(s))")
}

func TestValidateSingleFileJSON(t *testing.T) {
	out, err := executeCommand(t, "--format", "json", "validate", todoMutation)
	require.NoError(t, err)

	var result ValidationResult
	resp := decodeResponse(t, out, &result)
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, result.Valid)
	assert.Equal(t, 1, result.Files)
}

func TestValidateNonExistentPath(t *testing.T) {
	out, err := executeCommand(t, "validate", "/does/not/exist")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error [E005]")
}

func TestValidateEmptyDirectory(t *testing.T) {
	out, err := executeCommand(t, "validate", t.TempDir())
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error [E003]")
}

func TestValidateReportsEveryProblem(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "bad.yaml", `
bump:
  $entity: Counter
  $op: update
  value: { $increment: 1 }
post:
  $entity: Message
  $op: create
  sessionId: { $ref: session.id }
`)

	out, err := executeCommand(t, "validate", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	assert.Contains(t, out, "✗ Validation failed")
	assert.Contains(t, out, compiler.ErrMissingIdentifier+": "+filepath.Join(dir, "bad.yaml")+": bump:")
	assert.Contains(t, out, compiler.ErrUnknownSibling)
}

func TestValidateCycleJSON(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "cycle.yaml", `
a: { $entity: A, $op: create, b: { $ref: b.id } }
b: { $entity: B, $op: create, a: { $ref: a.id } }
`)

	out, err := executeCommand(t, "--format", "json", "validate", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var result ValidationResult
	resp := decodeResponse(t, out, &result)
	assert.Equal(t, "error", resp.Status)
	assert.False(t, result.Valid)
	require.NotEmpty(t, result.Errors)
	assert.Equal(t, compiler.ErrCircularDependency, result.Errors[0].Code)
	assert.Equal(t, compiler.ErrCircularDependency, resp.Error.Code)
}

func TestValidateFiles_LoadFailure(t *testing.T) {
	dir := t.TempDir()
	broken := writeFile(t, dir, "broken.cue", "mutation: {")
	formatter := newFormatter(&RootOptions{Format: "text"}, &bytes.Buffer{}, &bytes.Buffer{})

	errs := ValidateFiles([]string{broken}, formatter)
	require.Len(t, errs, 1)
	assert.Equal(t, "load", errs[0].Field)
	assert.Equal(t, ErrCodeParseFailed, errs[0].Code)
	assert.Contains(t, errs[0].Message, broken)
}
