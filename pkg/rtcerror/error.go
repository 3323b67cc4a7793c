// Package rtcerror defines the machine-readable error codes carried in
// every *-error signaling event and the typed error value the rest of
// the control plane returns instead of bare errors.
package rtcerror

import (
	"fmt"

	"github.com/pkg/errors"
)

// Code is one of the machine-readable error codes sent to clients.
type Code string

const (
	NotJoined        Code = "not-joined"
	AlreadyJoined    Code = "already-joined"
	UnknownRoom      Code = "unknown-room"
	UnknownTransport Code = "unknown-transport"
	UnknownProducer  Code = "unknown-producer"
	UnknownConsumer  Code = "unknown-consumer"
	WrongDirection   Code = "wrong-direction"
	NotConnected     Code = "not-connected"
	AlreadyConnected Code = "already-connected"
	DuplicateKind    Code = "duplicate-kind"
	CannotConsume    Code = "cannot-consume"
	NotOwner         Code = "not-owner"
	EngineFailure    Code = "engine-failure"
	Timeout          Code = "timeout"
)

// Error is a typed protocol/engine error with a machine Code and a
// human-readable Detail, optionally wrapping a lower-level cause.
type Error struct {
	Code   Code
	Detail string
	cause  error
}

func New(code Code, detail string) *Error {
	return &Error{Code: code, Detail: detail}
}

func Wrap(code Code, cause error, detail string) *Error {
	return &Error{Code: code, Detail: detail, cause: cause}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Detail, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Detail)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// As extracts an *Error from err, defaulting to EngineFailure when err
// carries no typed code of its own.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var rtcErr *Error
	if errors.As(err, &rtcErr) {
		return rtcErr
	}
	return &Error{Code: EngineFailure, Detail: err.Error(), cause: err}
}
