// Package failure defines the typed error taxonomy shared by the queue and
// the worker, and its {name, message} wire form stored in execute events.
package failure

import (
	"errors"
	"fmt"
)

// Name identifies an error category. Names are persisted, never renamed.
type Name string

const (
	// QueueInvalidAction indicates a malformed schedule or action config.
	QueueInvalidAction Name = "QueueInvalidAction"
	// QueueInvalidRequest indicates a malformed action request.
	QueueInvalidRequest Name = "QueueInvalidRequest"
	// QueueInvalidSession indicates a missing or unknown actor.
	QueueInvalidSession Name = "QueueInvalidSession"
	// QueueNoRequest indicates a wait that never saw an execute event.
	QueueNoRequest Name = "QueueNoRequest"
	// QueueServiceError indicates the job backend stayed unavailable.
	QueueServiceError Name = "QueueServiceError"

	// WorkerNoElement indicates a referenced contract or type is missing.
	WorkerNoElement Name = "WorkerNoElement"
	// WorkerSchemaMismatch indicates argument or filter validation failed.
	WorkerSchemaMismatch Name = "WorkerSchemaMismatch"
	// WorkerInvalidAction indicates an unknown action slug.
	WorkerInvalidAction Name = "WorkerInvalidAction"
	// WorkerAuthenticationError indicates the actor could not be resolved.
	WorkerAuthenticationError Name = "WorkerAuthenticationError"
	// WorkerInvalidTrigger indicates a triggered action that cannot compile.
	WorkerInvalidTrigger Name = "WorkerInvalidTrigger"
	// WorkerAlreadyExecuted indicates a second execution of one request.
	WorkerAlreadyExecuted Name = "WorkerAlreadyExecuted"
	// WorkerCascadeLimit indicates a sync-trigger cascade cycled or ran too long.
	WorkerCascadeLimit Name = "WorkerCascadeLimit"
)

// Error is a categorized failure.
type Error struct {
	Name    Name
	Message string
	Details map[string]string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Name, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Name, e.Message)
}

// Unwrap exposes the cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an Error with a formatted message.
func New(name Name, format string, args ...any) *Error {
	return &Error{Name: name, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error around a cause.
func Wrap(name Name, err error, format string, args ...any) *Error {
	return &Error{Name: name, Message: fmt.Sprintf(format, args...), Err: err}
}

// With returns a copy carrying an extra detail.
func (e *Error) With(key, value string) *Error {
	cp := *e
	cp.Details = make(map[string]string, len(e.Details)+1)
	for k, v := range e.Details {
		cp.Details[k] = v
	}
	cp.Details[key] = value
	return &cp
}

// Is reports whether err carries the given name anywhere in its chain.
func Is(err error, name Name) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Name == name
	}
	return false
}

// NameOf returns the category of err, or "" for uncategorized errors.
func NameOf(err error) Name {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Name
	}
	return ""
}

// Permanent reports whether retrying cannot change the outcome.
// Validation and lookup failures are permanent; everything else is not.
func Permanent(err error) bool {
	switch NameOf(err) {
	case QueueInvalidAction, QueueInvalidRequest, QueueInvalidSession,
		WorkerNoElement, WorkerSchemaMismatch, WorkerInvalidAction,
		WorkerAuthenticationError, WorkerInvalidTrigger,
		WorkerAlreadyExecuted, WorkerCascadeLimit:
		return true
	default:
		return false
	}
}

// Payload renders err in the {name, message} form persisted in execute
// events. Uncategorized errors use the name "Error".
func Payload(err error) map[string]any {
	name := string(NameOf(err))
	if name == "" {
		name = "Error"
	}
	return map[string]any{
		"name":    name,
		"message": err.Error(),
	}
}

// FromPayload reconstructs an error from its persisted form.
func FromPayload(data any) error {
	m, ok := data.(map[string]any)
	if !ok {
		return &Error{Name: "Error", Message: fmt.Sprintf("%v", data)}
	}
	name, _ := m["name"].(string)
	message, _ := m["message"].(string)
	if name == "" {
		name = "Error"
	}
	return &Error{Name: Name(name), Message: message}
}
