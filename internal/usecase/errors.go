package usecase

import (
	"errors"
	"fmt"
)

type ErrorCode string

const (
	ErrorInvalidRequest    ErrorCode = "INVALID_REQUEST"
	ErrorAuth              ErrorCode = "AUTH_ERROR"
	ErrorNotFound          ErrorCode = "NOT_FOUND"
	ErrorIntegrityConflict ErrorCode = "INTEGRITY_CONFLICT"
	ErrorUpstream          ErrorCode = "UPSTREAM_ERROR"
	ErrorInternal          ErrorCode = "INTERNAL_ERROR"
)

// Error is the typed failure returned by every use case. Reason is a stable
// tag for logs; Message is safe to show to the caller.
type Error struct {
	Code    ErrorCode
	Reason  string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("usecase: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("usecase: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ClientMessage returns Message, or a generic text for the code when no
// message was set. Err is never exposed.
func (e *Error) ClientMessage() string {
	if e == nil {
		return ""
	}
	if e.Message != "" {
		return e.Message
	}
	switch e.Code {
	case ErrorInvalidRequest:
		return "Invalid request."
	case ErrorAuth:
		return "Invalid or expired token."
	case ErrorNotFound:
		return "Not found."
	case ErrorIntegrityConflict:
		return "Resource already exists."
	case ErrorUpstream:
		return "Upstream provider error."
	}
	return "Internal server error."
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}

func invalid(reason, message string) *Error {
	return &Error{Code: ErrorInvalidRequest, Reason: reason, Message: message}
}

func notFound(reason, message string, err error) *Error {
	return &Error{Code: ErrorNotFound, Reason: reason, Message: message, Err: err}
}

// upstreamError carries the provider's own message to the caller.
func upstreamError(reason string, err error) *Error {
	msg := err.Error()
	var pm providerMessager
	if errors.As(err, &pm) && pm.ProviderMessage() != "" {
		msg = pm.ProviderMessage()
	}
	return &Error{Code: ErrorUpstream, Reason: reason, Message: msg, Err: err}
}

type providerMessager interface {
	ProviderMessage() string
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

func upstreamStatusCode(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}
