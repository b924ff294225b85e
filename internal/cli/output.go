package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/roach88/contractworker/internal/compiler"
	"github.com/roach88/contractworker/internal/failure"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Scenario failure, failed execution, invalid definitions
	ExitCommandError = 2 // Command error (bad flags, unreadable config, unreachable backend)
)

// ExitError is an error carrying the process exit code.
type ExitError struct {
	Code    int    // ExitFailure or ExitCommandError
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

// GetExitCode extracts the exit code from an error. Without an ExitError
// in the chain, an unreachable job backend is a command error and
// anything else a failure.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	if failure.Is(err, failure.QueueServiceError) {
		return ExitCommandError
	}
	return ExitFailure
}

// Response is the envelope of every JSON output.
type Response struct {
	Status string   `json:"status"` // "ok" or "error"
	Data   any      `json:"data,omitempty"`
	Error  *Problem `json:"error,omitempty"`
}

// Problem describes one error in JSON output.
type Problem struct {
	// Code is a compiler code ("E101") or a failure name
	// ("WorkerNoElement"), or "Error" when the cause is uncategorized.
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

// ProblemOf classifies err.
func ProblemOf(err error) Problem {
	p := Problem{Code: "Error", Message: err.Error()}
	var (
		le *compiler.LoadError
		ve compiler.ValidationError
		fe *failure.Error
	)
	switch {
	case errors.As(err, &le):
		p.Code = le.Code
		if le.Pos.IsValid() {
			p.Details = map[string]string{
				"position": fmt.Sprintf("%s:%d:%d", le.Pos.Filename(), le.Pos.Line(), le.Pos.Column()),
			}
		}
	case errors.As(err, &ve):
		p.Code = ve.Code
		p.Details = map[string]string{"slug": ve.Slug}
	case errors.As(err, &fe):
		p.Code = string(fe.Name)
		if len(fe.Details) > 0 {
			p.Details = maps.Clone(fe.Details)
		}
	}
	return p
}

// OutputFormatter writes command results as text or JSON.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // Verbose notes go here so they never mix with JSON
	Verbose   bool
}

// Success outputs a successful result in the configured format.
func (f *OutputFormatter) Success(data any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(Response{Status: "ok", Data: data})
	}
	fmt.Fprintln(f.Writer, data)
	return nil
}

// Failure reports err under its code. Details are printed in text mode
// only when verbose.
func (f *OutputFormatter) Failure(err error) error {
	p := ProblemOf(err)
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(Response{Status: "error", Error: &p})
	}

	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", p.Code, p.Message)
	if f.Verbose {
		keys := make([]string, 0, len(p.Details))
		for k := range p.Details {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			fmt.Fprintf(f.Writer, "  %s: %s\n", k, p.Details[k])
		}
	}
	return nil
}

// Table renders rows under header. JSON output encodes data instead.
func (f *OutputFormatter) Table(data any, header table.Row, rows []table.Row) error {
	if f.Format == "json" {
		return f.Success(data)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(f.Writer)
	tw.AppendHeader(header)
	tw.AppendRows(rows)
	tw.Render()
	return nil
}

// VerboseLog writes a note to ErrWriter, or Writer when unset, if verbose.
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
