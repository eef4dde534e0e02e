// Package apierr defines the error kinds shared across the transfer
// pipeline and the HTTP surface: every failure path in the upload state
// machine, the limiters, the worker pool, and the download assembler
// returns one of these so the API layer can translate it into the
// standard error body without guessing at intent.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies the class of failure.
type Code int

const (
	// Validation indicates a malformed request; never retryable.
	Validation Code = iota + 1
	// Auth indicates a missing/invalid credential or an ownership violation.
	Auth
	// NotFound indicates no such upload or chunk.
	NotFound
	// Conflict indicates an idempotency mismatch or a terminal-state violation.
	Conflict
	// Checksum indicates a body or whole-file integrity mismatch.
	Checksum
	// Backpressure indicates admission was refused by a limiter.
	Backpressure
	// TransientStorage indicates a storage failure retryable within MaxRetries.
	TransientStorage
	// PermanentStorage indicates a non-retryable storage failure.
	PermanentStorage
	// Range indicates a malformed or unsatisfiable byte range.
	Range
	// Internal indicates an unexpected, uncategorized failure.
	Internal
)

// String returns a human-readable name for the code, used as the
// "error_code" field in the standard error body.
func (c Code) String() string {
	switch c {
	case Validation:
		return "validation"
	case Auth:
		return "auth"
	case NotFound:
		return "not_found"
	case Conflict:
		return "conflict"
	case Checksum:
		return "checksum"
	case Backpressure:
		return "backpressure"
	case TransientStorage:
		return "transient_storage"
	case PermanentStorage:
		return "permanent_storage"
	case Range:
		return "range"
	case Internal:
		return "internal"
	default:
		return fmt.Sprintf("unknown(%d)", int(c))
	}
}

// HTTPStatus maps the code to the HTTP status used for error responses.
// Every error of a given code gets the same status, whichever endpoint
// returns it.
func (c Code) HTTPStatus() int {
	switch c {
	case Validation:
		return http.StatusBadRequest
	case Auth:
		return http.StatusForbidden
	case NotFound:
		return http.StatusNotFound
	case Conflict:
		return http.StatusConflict
	case Checksum:
		return http.StatusUnprocessableEntity
	case Backpressure:
		return http.StatusTooManyRequests
	case TransientStorage, PermanentStorage:
		return http.StatusBadGateway
	case Range:
		return http.StatusRequestedRangeNotSatisfiable
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether the client may usefully retry the operation
// as-is (true for transient storage failures and backpressure).
func (c Code) Retryable() bool {
	return c == TransientStorage || c == Backpressure
}

// Error is the error type returned across package boundaries in this
// module. RequestID/UploadID/TraceID are filled in by the layer that has
// them available (usually the HTTP handler) before the error is rendered.
type Error struct {
	Code      Code
	Message   string
	RequestID string
	UploadID  string
	TraceID   string

	// Reason further qualifies a Backpressure error: "queue-full",
	// "global-full", "per-upload-full", or "fair-share-full".
	Reason string

	cause error
}

// New constructs an *Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf constructs an *Error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap annotates an existing error with a Code, preserving it for Unwrap.
func Wrap(code Code, cause error, message string) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

// WithReason sets the backpressure refusal reason and returns e for chaining.
func (e *Error) WithReason(reason string) *Error {
	e.Reason = reason
	return e
}

// WithUploadID sets the upload id and returns e for chaining.
func (e *Error) WithUploadID(id string) *Error {
	e.UploadID = id
	return e
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped cause, if any, to errors.Is/As.
func (e *Error) Unwrap() error {
	return e.cause
}

// Body is the standard JSON error body.
type Body struct {
	Detail    string `json:"detail"`
	ErrorCode string `json:"error_code"`
	RequestID string `json:"request_id"`
	UploadID  string `json:"upload_id,omitempty"`
	TraceID   string `json:"trace_id,omitempty"`
}

// ToBody renders e as the standard error body.
func (e *Error) ToBody() Body {
	return Body{
		Detail:    e.Message,
		ErrorCode: e.Code.String(),
		RequestID: e.RequestID,
		UploadID:  e.UploadID,
		TraceID:   e.TraceID,
	}
}

// As extracts an *Error from err, or synthesizes an Internal one if err is
// not already typed. Used at the boundary between internal packages (which
// may still leak a bare error) and the API layer.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Code: Internal, Message: err.Error(), cause: err}
}
