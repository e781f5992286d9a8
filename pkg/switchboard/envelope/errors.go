package envelope

import (
	"errors"
	"fmt"
)

// Error codes produced by the protocol core. Handlers may use their own codes.
const (
	CodeInvalidRequest = "INVALID_REQUEST"
	CodeInvalidParams  = "INVALID_PARAMS"
	CodeNotFound       = "NOT_FOUND"
	CodeInternal       = "INTERNAL"
)

// ErrMalformedEnvelope is returned (wrapped) by Parse for frames that are not
// valid JSON objects or that lack the fields required by their kind.
var ErrMalformedEnvelope = errors.New("malformed envelope")

// Error is the error object carried by a failed Response. It implements the
// error interface so handlers can return it directly to pick a code.
type Error struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details"`
	Retryable bool           `json:"retryable"`
}

// NewError creates a non-retryable error without details.
func NewError(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Errorf creates a non-retryable error with a formatted message.
func Errorf(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithDetails returns a copy of e with the given details attached.
func (e *Error) WithDetails(details map[string]any) *Error {
	c := *e
	c.Details = details
	return &c
}

// WithRetryable returns a copy of e with the retryable flag set.
func (e *Error) WithRetryable(retryable bool) *Error {
	c := *e
	c.Retryable = retryable
	return &c
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

// FromError converts an arbitrary handler error to a wire error. Errors that
// wrap an *Error keep their code; everything else becomes INTERNAL with the
// original message preserved.
func FromError(err error) *Error {
	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	return &Error{Code: CodeInternal, Message: err.Error(), Retryable: false}
}
