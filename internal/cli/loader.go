package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue/token"
	"gopkg.in/yaml.v3"

	"github.com/roach88/optisync/internal/compiler"
	"github.com/roach88/optisync/internal/ir"
)

// Error code constants - unified across all CLI commands.
const (
	ErrCodeGeneric       = "E001" // Generic/unknown error
	ErrCodeParseFailed   = "E002" // Mutation document could not be parsed
	ErrCodeNoFiles       = "E003" // No mutation files found
	ErrCodeCompileFailed = "E004" // Batch compilation failed
	ErrCodeNotFound      = "E005" // Path not found
	ErrCodeInputFailed   = "E006" // Input record could not be loaded
	ErrCodeWriteFailed   = "E007" // File write error
	ErrCodeEvalFailed    = "E008" // Batch evaluation failed
	ErrCodeRejected      = "E009" // Mutation rejected and rolled back
	ErrCodeJournal       = "E010" // Journal read/write failed
)

// mutationExts lists the recognized mutation document extensions.
var mutationExts = []string{".cue", ".yaml", ".yml", ".json"}

// LoadedMutation is a compiled mutation document with its merged input.
type LoadedMutation struct {
	Path  string
	Batch *ir.Batch
	Input map[string]any
}

// LoadError represents an error that occurred while loading a mutation.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// LoadMutation parses and compiles a mutation document. Input is merged in
// increasing precedence: the document's own input block, the record in
// inputPath (if set), then each key=value pair of sets.
func LoadMutation(path, inputPath string, sets []string) (*LoadedMutation, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("mutation file not found: %s", path)}
		}
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing mutation file: %v", err)}
	}

	src, err := compiler.LoadFile(path)
	if err != nil {
		return nil, convertCompileError(ErrCodeParseFailed, err)
	}
	batch, err := src.Batch()
	if err != nil {
		return nil, convertCompileError(ErrCodeCompileFailed, err)
	}

	input := ir.CloneMap(src.Input)
	if input == nil {
		input = map[string]any{}
	}
	if inputPath != "" {
		rec, err := compiler.LoadInput(inputPath)
		if err != nil {
			return nil, &LoadError{Code: ErrCodeInputFailed, Message: err.Error()}
		}
		for k, v := range rec {
			input[k] = v
		}
	}
	for _, kv := range sets {
		k, v, err := parseSet(kv)
		if err != nil {
			return nil, &LoadError{Code: ErrCodeInputFailed, Message: err.Error()}
		}
		input[k] = v
	}

	return &LoadedMutation{Path: path, Batch: batch, Input: input}, nil
}

// parseSet splits "key=value" and decodes value as a YAML scalar, so
// "count=3" yields an integer and "title=hello" a string.
func parseSet(kv string) (string, any, error) {
	key, raw, ok := strings.Cut(kv, "=")
	if !ok || key == "" {
		return "", nil, fmt.Errorf("invalid --set %q: want key=value", kv)
	}
	var v any
	if err := yaml.Unmarshal([]byte(raw), &v); err != nil {
		return "", nil, fmt.Errorf("invalid --set %q: %w", kv, err)
	}
	n, err := ir.Normalize(v)
	if err != nil {
		return "", nil, fmt.Errorf("invalid --set %q: %w", kv, err)
	}
	return key, n, nil
}

// FindMutationFiles walks path and returns every mutation document in it.
// A file path is returned as is.
func FindMutationFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("path not found: %s", path)}
		}
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing path: %v", err)}
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	var files []string
	err = filepath.Walk(path, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && isMutationFile(p) {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, &LoadError{Code: ErrCodeGeneric, Message: fmt.Sprintf("error scanning directory: %v", err)}
	}
	if len(files) == 0 {
		return nil, &LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no mutation files found in %s", path)}
	}
	return files, nil
}

func isMutationFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range mutationExts {
		if ext == e {
			return true
		}
	}
	return false
}

// convertCompileError converts a compiler error to a LoadError with position info.
func convertCompileError(code string, err error) *LoadError {
	var compileErr *compiler.CompileError
	if errors.As(err, &compileErr) {
		msg := compileErr.Message
		if compileErr.Operation != "" {
			msg = fmt.Sprintf("%s.%s: %s", compileErr.Operation, compileErr.Field, compileErr.Message)
		}
		return &LoadError{Code: code, Message: msg, Pos: compileErr.Pos}
	}
	return &LoadError{Code: code, Message: err.Error()}
}

// loadErrorCode returns the code and message of a LoadError. Other errors
// map to ErrCodeGeneric.
func loadErrorCode(err error) (string, string) {
	var loadErr *LoadError
	if errors.As(err, &loadErr) {
		return loadErr.Code, loadErr.Message
	}
	return ErrCodeGeneric, err.Error()
}
