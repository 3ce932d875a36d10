// Package apperr defines the error kinds shared by the queue, the registry,
// the scheduler and the HTTP surface.
//
// Callers wrap a kind together with the underlying cause:
//
//	fmt.Errorf("%w: claim job %d: %w", apperr.ErrStorage, id, err)
//
// and inspect it with errors.Is.
package apperr

import (
	"errors"
	"net/http"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrNotAuthorized      = errors.New("device not authorized")
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("conflict")
	ErrInvalidTransition  = errors.New("invalid state transition")
	ErrStorage            = errors.New("storage error")
	ErrValidation         = errors.New("validation error")
)

type kind struct {
	err    error
	status int
	typ    string
	title  string
}

// Order matters: a storage error wrapping a not-found from a lookup is still
// reported as storage.
var kinds = []kind{
	{ErrStorage, http.StatusInternalServerError, "storage_error", "Storage failure"},
	{ErrValidation, http.StatusBadRequest, "invalid_request", "Invalid request"},
	{ErrInvalidCredentials, http.StatusUnauthorized, "invalid_credentials", "Invalid or missing credentials"},
	{ErrNotAuthorized, http.StatusForbidden, "not_authorized", "Device not authorized"},
	{ErrNotFound, http.StatusNotFound, "not_found", "Resource not found"},
	{ErrConflict, http.StatusConflict, "conflict", "Conflict"},
	{ErrInvalidTransition, http.StatusConflict, "invalid_transition", "Invalid state transition"},
}

func lookup(err error) (kind, bool) {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k, true
		}
	}
	return kind{}, false
}

// Status maps err to an HTTP status code. Unknown errors are 500.
func Status(err error) int {
	if k, ok := lookup(err); ok {
		return k.status
	}
	return http.StatusInternalServerError
}

// Type returns the problem+json type for err.
func Type(err error) string {
	if k, ok := lookup(err); ok {
		return k.typ
	}
	return "internal_error"
}

// Title returns a short human readable title for err.
func Title(err error) string {
	if k, ok := lookup(err); ok {
		return k.title
	}
	return "Internal error"
}

// Storage wraps a driver error as ErrStorage, keeping the cause inspectable.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	return &wrapped{kind: ErrStorage, op: op, err: err}
}

// Validation builds an ErrValidation with a message.
func Validation(msg string) error {
	return &wrapped{kind: ErrValidation, op: msg}
}

type wrapped struct {
	kind error
	op   string
	err  error
}

func (w *wrapped) Error() string {
	if w.err == nil {
		return w.kind.Error() + ": " + w.op
	}
	return w.kind.Error() + ": " + w.op + ": " + w.err.Error()
}

func (w *wrapped) Unwrap() []error {
	if w.err == nil {
		return []error{w.kind}
	}
	return []error{w.kind, w.err}
}
