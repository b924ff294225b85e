package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/contractworker/internal/compiler"
	"github.com/roach88/contractworker/internal/failure"
)

func decodeOutput(t *testing.T, buf *bytes.Buffer) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	return resp
}

func TestOutputFormatter_Success(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	require.NoError(t, formatter.Success(map[string]int{"processed": 3}))
	resp := decodeOutput(t, buf)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, map[string]any{"processed": float64(3)}, resp.Data)
	assert.Nil(t, resp.Error)

	buf.Reset()
	formatter.Format = "text"
	require.NoError(t, formatter.Success("Processed 3 job(s), 0 left in queue"))
	assert.Equal(t, "Processed 3 job(s), 0 left in queue\n", buf.String())
}

func TestProblemOf(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		code    string
		details map[string]string
	}{
		{
			name: "failure with details",
			err:  failure.New(failure.WorkerCascadeLimit, "stopped").With("cascade", "c1"),
			code: "WorkerCascadeLimit",
			details: map[string]string{
				"cascade": "c1",
			},
		},
		{
			name: "wrapped failure",
			err:  fmt.Errorf("enqueue: %w", failure.New(failure.WorkerNoElement, "no card card-1")),
			code: "WorkerNoElement",
		},
		{
			name: "load error",
			err:  &compiler.LoadError{Code: compiler.ErrCodeNotFound, Message: "directory not found: specs"},
			code: "E005",
		},
		{
			name:    "validation error",
			err:     compiler.ValidationError{Code: compiler.ErrCodeInvalidTrigger, Slug: "flag-large", Message: "unknown action"},
			code:    "E110",
			details: map[string]string{"slug": "flag-large"},
		},
		{
			name: "uncategorized",
			err:  errors.New("disk full"),
			code: "Error",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := ProblemOf(tt.err)
			assert.Equal(t, tt.code, p.Code)
			assert.Equal(t, tt.err.Error(), p.Message)
			assert.Equal(t, tt.details, p.Details)
		})
	}
}

func TestOutputFormatter_Failure(t *testing.T) {
	cause := failure.New(failure.WorkerAlreadyExecuted, "request r1 was already executed").With("request", "r1")

	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}
	require.NoError(t, formatter.Failure(cause))
	resp := decodeOutput(t, buf)
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "WorkerAlreadyExecuted", resp.Error.Code)
	assert.Equal(t, map[string]string{"request": "r1"}, resp.Error.Details)

	buf.Reset()
	formatter.Format = "text"
	require.NoError(t, formatter.Failure(cause))
	assert.Contains(t, buf.String(), "Error [WorkerAlreadyExecuted]")
	assert.NotContains(t, buf.String(), "request: r1", "details need verbose")

	buf.Reset()
	formatter.Verbose = true
	require.NoError(t, formatter.Failure(cause))
	assert.Contains(t, buf.String(), "  request: r1")
}

func TestOutputFormatter_VerboseLog(t *testing.T) {
	tests := []struct {
		name    string
		verbose bool
		wantLog bool
	}{
		{"verbose_enabled", true, true},
		{"verbose_disabled", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, diag := &bytes.Buffer{}, &bytes.Buffer{}
			formatter := &OutputFormatter{
				Format:    "json",
				Writer:    out,
				ErrWriter: diag,
				Verbose:   tt.verbose,
			}

			formatter.VerboseLog("installed %s", "invoice@1.0.0")

			assert.Empty(t, out.String(), "notes never reach the JSON stream")
			if tt.wantLog {
				assert.Contains(t, diag.String(), "installed invoice@1.0.0")
			} else {
				assert.Empty(t, diag.String())
			}
		})
	}
}

func TestOutputFormatter_Table(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}

	rows := []table.Row{{1, "sa-1"}, {2, ""}}
	require.NoError(t, formatter.Table(nil, table.Row{"ID", "Key"}, rows))
	assert.Contains(t, buf.String(), "ID")
	assert.Contains(t, buf.String(), "sa-1")

	buf.Reset()
	formatter.Format = "json"
	require.NoError(t, formatter.Table([]string{"sa-1"}, table.Row{"ID"}, rows))
	assert.Equal(t, []any{"sa-1"}, decodeOutput(t, buf).Data)
}

func TestGetExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"exit error", WrapExitError(ExitCommandError, "open", errors.New("boom")), ExitCommandError},
		{"backend unavailable", failure.New(failure.QueueServiceError, "job table unavailable after 10 attempts"), ExitCommandError},
		{"action failure", failure.New(failure.WorkerNoElement, "no card"), ExitFailure},
		{"plain", errors.New("other"), ExitFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GetExitCode(tt.err))
		})
	}
	assert.Equal(t, "open: boom", WrapExitError(ExitCommandError, "open", errors.New("boom")).Error())
}
