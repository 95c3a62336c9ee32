package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/tessera/internal/engine"
	"github.com/roach88/tessera/internal/ir"
	"github.com/roach88/tessera/internal/schema"
	"github.com/roach88/tessera/internal/snapshot"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Validation or scenario failure, forbidden snapshot operation
	ExitCommandError = 2 // Command error (invalid paths, unreadable config, database errors)
)

// Error codes reported in CLIError.Code.
const (
	ErrCodeGeneric      = "E001"
	ErrCodeNotFound     = "E002"
	ErrCodeInvalidGraph = "E003"
	ErrCodeForbidden    = "E004"
	ErrCodeTestFailed   = "E_TEST_FAILED"
)

// ExitError represents an error with a specific exit code.
// Use this to return errors with meaningful exit codes from CLI commands.
type ExitError struct {
	Code    int    // Exit code (use ExitFailure or ExitCommandError)
	Message string // Error message
	Err     error  // Underlying error (optional)
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // Separate writer for verbose/diagnostic output (defaults to Writer)
	Verbose   bool

	notices []ir.Notice
}

// NewFormatter creates a formatter writing to the command's streams.
func NewFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}

// Notice records a session notice; it is printed with the next result.
func (f *OutputFormatter) Notice(n ir.Notice) {
	f.notices = append(f.notices, n)
}

// Fail reports err in the configured format and converts it into an
// ExitError carrying the matching exit code.
func (f *OutputFormatter) Fail(message string, err error) error {
	code, exit := ErrCodeGeneric, ExitCommandError
	var verrs schema.Errors
	switch {
	case errors.As(err, &verrs):
		if outErr := f.Error(ErrCodeInvalidGraph, message, []schema.ValidationError(verrs)); outErr != nil {
			return outErr
		}
		if f.Format != "json" {
			for _, v := range verrs {
				fmt.Fprintf(f.Writer, "  %s\n", v.Error())
			}
		}
		return WrapExitError(ExitFailure, message, err)
	case errors.Is(err, snapshot.ErrForbidden):
		code, exit = ErrCodeForbidden, ExitFailure
	case errors.Is(err, snapshot.ErrNotFound), engine.IsNotFoundError(err):
		code = ErrCodeNotFound
	}
	if outErr := f.Error(code, fmt.Sprintf("%s: %v", message, err), nil); outErr != nil {
		return outErr
	}
	return WrapExitError(exit, message, err)
}

// CLIResponse is the standard JSON response format for CLI output.
type CLIResponse struct {
	Status  string      `json:"status"`            // "ok" or "error"
	Data    any         `json:"data,omitempty"`    // success payload
	Error   *CLIError   `json:"error,omitempty"`   // error details
	Notices []ir.Notice `json:"notices,omitempty"` // notices raised by the session
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string `json:"code"`              // "E001", "E002", etc.
	Message string `json:"message"`           // human-readable message
	Details any    `json:"details,omitempty"` // additional context
}

// Success outputs a successful result in the configured format.
func (f *OutputFormatter) Success(data any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status:  "ok",
			Data:    data,
			Notices: f.notices,
		})
	}
	for _, n := range f.notices {
		fmt.Fprintf(f.Writer, "[%s] %s: %s\n", n.Kind, n.Op, n.Message)
	}

	// Human-readable text output
	fmt.Fprintln(f.Writer, data)
	return nil
}

// Error outputs an error in the configured format.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status:  "error",
			Notices: f.notices,
			Error: &CLIError{
				Code:    code,
				Message: message,
				Details: details,
			},
		})
	}

	// Human-readable error
	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

// VerboseLog outputs a message only if verbose mode is enabled.
// Uses ErrWriter if set, otherwise falls back to Writer.
// When format is JSON, verbose logs go to ErrWriter to avoid corrupting JSON output.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	w := f.ErrWriter
	if w == nil {
		w = f.Writer
	}
	fmt.Fprintf(w, format+"\n", args...)
}

// GetErrWriter returns the appropriate writer for diagnostic output.
// Returns ErrWriter if set, otherwise Writer.
func (f *OutputFormatter) GetErrWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}
