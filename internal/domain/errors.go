// internal/domain/errors.go
package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures. The taxonomy is flat.
type ErrorKind string

const (
	KindBrokerUnavailable    ErrorKind = "BrokerUnavailable"
	KindProviderFailure      ErrorKind = "ProviderFailure"
	KindValidationFailure    ErrorKind = "ValidationFailure"
	KindAuthorizationFailure ErrorKind = "AuthorizationFailure"
	// KindUnknown is reserved for failures nobody anticipated.
	KindUnknown ErrorKind = "Unknown"
)

// Error is a classified failure.
type Error struct {
	Kind    ErrorKind
	Op      string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if e.Op == "" {
		return msg
	}
	return fmt.Sprintf("%s: %s", e.Op, msg)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of err, or KindUnknown if it is not classified.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindUnknown
}

// IsKind reports whether err is classified as kind.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

// BrokerUnavailable wraps a transport failure talking to the broker.
func BrokerUnavailable(op string, err error) error {
	return &Error{Kind: KindBrokerUnavailable, Op: op, Message: "broker unavailable", Err: err}
}

// ProviderFailure wraps an error raised by a generation provider.
func ProviderFailure(op string, err error) error {
	return &Error{Kind: KindProviderFailure, Op: op, Err: err}
}

// ValidationFailure reports a payload that failed to parse or validate.
// raw is the offending text and is included in the message.
func ValidationFailure(op, reason, raw string) error {
	msg := reason
	if raw != "" {
		msg = fmt.Sprintf("%s: %q", reason, raw)
	}
	return &Error{Kind: KindValidationFailure, Op: op, Message: msg}
}

// AuthorizationFailure reports a rejected caller credential.
func AuthorizationFailure(op string) error {
	return &Error{Kind: KindAuthorizationFailure, Op: op, Message: "invalid or missing API key"}
}
