// Package xoloerr is Xolo's error taxonomy: every workflow, store, and
// client in this module returns (or wraps) an *xoloerr.Error so the HTTP
// layer and the progress-stream writer can map failures consistently
// without string-sniffing.
package xoloerr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Kind is the closed set of error categories. Every *Error carries
// exactly one.
type Kind string

const (
	// NotFound: the referenced title, version, or entity does not exist.
	NotFound Kind = "NOT_FOUND"
	// AlreadyExists: a create would collide with an existing entity.
	AlreadyExists Kind = "ALREADY_EXISTS"
	// Locked: the entity is held by another workflow or lock token.
	Locked Kind = "LOCKED"
	// InvalidData: the caller supplied data failing validation.
	InvalidData Kind = "INVALID_DATA"
	// MissingData: a required field or file was absent.
	MissingData Kind = "MISSING_DATA"
	// Unsupported: the operation does not apply in the entity's current state.
	Unsupported Kind = "UNSUPPORTED"
	// Unavailable: an upstream system (Catalog, Fleet) could not be reached.
	Unavailable Kind = "UNAVAILABLE"
	// Timeout: an operation exceeded its deadline.
	Timeout Kind = "TIMEOUT"
	// Server: an unexpected internal failure.
	Server Kind = "SERVER"
)

// Error is the concrete error type returned across Xolo's internal
// packages. It wraps an optional cause so callers can still errors.Is/As
// through it.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

// New builds an *Error with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an *Error carrying cause. If cause is already an *Error and
// kind is empty, its Kind is reused.
func Wrap(kind Kind, message string, cause error) *Error {
	if kind == "" {
		var xe *Error
		if errors.As(cause, &xe) {
			kind = xe.Kind
		}
	}
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap lets errors.Is/As reach through to Cause.
func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var xe *Error
	if errors.As(err, &xe) {
		return xe.Kind == kind
	}
	return false
}

// KindOf extracts the Kind carried by err, defaulting to Server when err
// is not an *Error.
func KindOf(err error) Kind {
	var xe *Error
	if errors.As(err, &xe) {
		return xe.Kind
	}
	if err == nil {
		return ""
	}
	return Server
}

// StatusCode maps a Kind to the HTTP status the API layer writes. Kept
// separate from Kind itself so streamed-workflow callers (which never
// touch HTTP status) don't need net/http.
func StatusCode(kind Kind) int {
	switch kind {
	case NotFound:
		return http.StatusNotFound
	case AlreadyExists:
		return http.StatusConflict
	case Locked:
		return http.StatusConflict
	case InvalidData, MissingData:
		return http.StatusBadRequest
	case Unsupported:
		return http.StatusUnprocessableEntity
	case Unavailable:
		return http.StatusServiceUnavailable
	case Timeout:
		return http.StatusGatewayTimeout
	case Server:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// Response is the JSON body the API layer writes for a failed request.
type Response struct {
	Kind      Kind   `json:"kind"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
	Timestamp string `json:"timestamp"`
}

// WriteHTTP writes err as a JSON error response with the status StatusCode
// maps its Kind to.
func WriteHTTP(w http.ResponseWriter, err error, requestID string) {
	kind := KindOf(err)
	resp := Response{
		Kind:      kind,
		Message:   err.Error(),
		RequestID: requestID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(StatusCode(kind))
	_ = json.NewEncoder(w).Encode(resp)
}

// WriteStream writes err to a progress-stream writer as an "ERROR:"
// line instead of an HTTP status, the streamed-workflow error
// convention.
func WriteStream(w interface{ Write([]byte) (int, error) }, err error) {
	_, _ = w.Write([]byte("ERROR: " + err.Error() + "\n"))
}

// Convenience constructors used throughout the workflow packages.

func NotFoundf(format string, args ...interface{}) *Error {
	return New(NotFound, fmt.Sprintf(format, args...))
}

func AlreadyExistsf(format string, args ...interface{}) *Error {
	return New(AlreadyExists, fmt.Sprintf(format, args...))
}

func Lockedf(format string, args ...interface{}) *Error {
	return New(Locked, fmt.Sprintf(format, args...))
}

func InvalidDataf(format string, args ...interface{}) *Error {
	return New(InvalidData, fmt.Sprintf(format, args...))
}

func MissingDataf(format string, args ...interface{}) *Error {
	return New(MissingData, fmt.Sprintf(format, args...))
}

func Unsupportedf(format string, args ...interface{}) *Error {
	return New(Unsupported, fmt.Sprintf(format, args...))
}

func Unavailablef(format string, args ...interface{}) *Error {
	return New(Unavailable, fmt.Sprintf(format, args...))
}
