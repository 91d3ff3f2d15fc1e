package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/optisync/internal/compiler"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool                       `json:"valid"`
	Files  int                        `json:"files"`
	Errors []compiler.ValidationError `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <path>",
		Short: "Validate mutation documents without evaluating them",
		Long: `Validate mutation documents without evaluating them.

Path is a single file or a directory searched recursively for .cue, .yaml,
.yml and .json documents. Each document is parsed and compiled, then
checked for missing identifiers, unknown siblings and tags, and sibling
reference cycles.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())

	files, err := FindMutationFiles(path)
	if err != nil {
		code, msg := loadErrorCode(err)
		return outputValidateError(formatter, code, msg, nil)
	}

	formatter.VerboseLog("Found %d mutation file(s) in %s", len(files), path)

	validationErrors := ValidateFiles(files, formatter)
	if len(validationErrors) > 0 {
		return outputValidationErrors(formatter, len(files), validationErrors)
	}

	return outputValidateSuccess(formatter, len(files))
}

// ValidateFiles loads and validates every file. Load failures are reported
// as validation errors under the field "load".
func ValidateFiles(files []string, formatter *OutputFormatter) []compiler.ValidationError {
	var all []compiler.ValidationError
	for _, file := range files {
		formatter.VerboseLog("Validating: %s", file)

		m, err := LoadMutation(file, "", nil)
		if err != nil {
			code, msg := loadErrorCode(err)
			verr := compiler.ValidationError{Field: "load", Message: fmt.Sprintf("%s: %s", file, msg), Code: code}
			if le, ok := err.(*LoadError); ok && le.Pos.IsValid() {
				verr.Line = le.Pos.Line()
			}
			all = append(all, verr)
			continue
		}

		for _, verr := range compiler.Validate(m.Batch) {
			verr.Field = file + ": " + verr.Field
			all = append(all, verr)
		}
	}
	return all
}

// outputValidateSuccess outputs successful validation results.
func outputValidateSuccess(formatter *OutputFormatter, files int) error {
	if formatter.Format == "json" {
		return formatter.Success(ValidationResult{Valid: true, Files: files})
	}

	fmt.Fprintf(formatter.Writer, "✓ All mutations valid (%d file(s))\n", files)
	return nil
}

// outputValidateError outputs a single command-level error.
func outputValidateError(formatter *OutputFormatter, code, message string, details any) error {
	_ = formatter.Error(code, message, details)
	return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message))
}

// outputValidationErrors outputs multiple validation errors.
func outputValidationErrors(formatter *OutputFormatter, files int, errs []compiler.ValidationError) error {
	if formatter.Format == "json" {
		err := formatter.Respond(CLIResponse{
			Status: "error",
			Data:   ValidationResult{Valid: false, Files: files, Errors: errs},
			Error: &CLIError{
				Code:    errs[0].Code,
				Message: errs[0].Message,
			},
		})
		if err != nil {
			return err
		}
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)

	for _, err := range errs {
		if err.Line > 0 {
			fmt.Fprintf(formatter.Writer, "line %d\n", err.Line)
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s: %s\n\n", err.Code, err.Field, err.Message)
	}

	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
}
