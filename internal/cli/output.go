package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/gomlx/exceptions"

	"github.com/roach88/graphir/internal/framework"
	"github.com/roach88/graphir/internal/passes"
)

// Process exit codes.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // a pass, program or scenario failed
	ExitCommandError = 2 // bad flags, paths or unreadable inputs
)

// CLI error codes that are not pass or IR codes.
const (
	ErrCodeGeneric     = "E001"
	ErrCodeNotFound    = "E002"
	ErrCodeBadInput    = "E003"
	ErrCodeWriteFailed = "E004"
	ErrCodeStore       = "E005"
)

// ExitError is returned by command handlers; main turns Code into the
// process exit status.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

// NewExitError returns an ExitError without a cause.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError returns an ExitError caused by err.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode maps err to a process exit code. Errors that carry no
// ExitError count as ExitFailure.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	if ee := (*ExitError)(nil); errors.As(err, &ee) {
		return ee.Code
	}
	return ExitFailure
}

// errorCode returns the pass or IR code carried by err, or fallback.
func errorCode(err error, fallback string) string {
	if code, ok := passes.CodeOf(err); ok {
		return string(code)
	}
	if code, ok := framework.CodeOf(err); ok {
		return string(code)
	}
	return fallback
}

// catch runs fn and turns an invariant panic into an error.
func catch(fn func() error) error {
	var err error
	if perr := exceptions.TryCatch[error](func() { err = fn() }); perr != nil {
		return perr
	}
	return err
}

// OutputFormatter writes command results as text or as a JSON envelope.
type OutputFormatter struct {
	Format    string // "text" or "json"
	Writer    io.Writer
	ErrWriter io.Writer // diagnostics; Writer when nil
	Verbose   bool
}

func newFormatter(opts *RootOptions, w, errW io.Writer) *OutputFormatter {
	return &OutputFormatter{Format: opts.Format, Writer: w, ErrWriter: errW, Verbose: opts.Verbose}
}

// CLIResponse is the JSON envelope of every command.
type CLIResponse struct {
	Status string    `json:"status"`          // "ok" or "error"
	Data   any       `json:"data,omitempty"`  // success payload
	Error  *CLIError `json:"error,omitempty"` // error details
}

// CLIError is the error part of a CLIResponse.
type CLIError struct {
	Code    string `json:"code"`              // "E305", "E002", etc.
	Message string `json:"message"`           // human-readable message
	Details any    `json:"details,omitempty"` // additional context
}

// Success outputs a successful result. Text output prints text, JSON
// output encodes data.
func (f *OutputFormatter) Success(data any, text string) error {
	if f.Format == "json" {
		return f.encode(CLIResponse{Status: "ok", Data: data})
	}
	_, err := io.WriteString(f.Writer, text)
	return err
}

// Fail reports a failure and returns an ExitError carrying exitCode.
// Details are printed in text mode only when verbose.
func (f *OutputFormatter) Fail(exitCode int, code, message string, details any) error {
	if f.Format == "json" {
		resp := CLIResponse{Status: "error", Error: &CLIError{Code: code, Message: message, Details: details}}
		if err := f.encode(resp); err != nil {
			return err
		}
		return NewExitError(exitCode, message)
	}
	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return NewExitError(exitCode, message)
}

func (f *OutputFormatter) encode(resp CLIResponse) error {
	enc := json.NewEncoder(f.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}

// VerboseLog prints a diagnostic line in verbose mode. It goes to
// ErrWriter so JSON on Writer stays parseable.
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
