package domain

import (
	"errors"
	"fmt"
)

// Kind classifies an error for transport mapping (HTTP status, OCPP CallError code).
type Kind string

const (
	KindInvalidArgument    Kind = "InvalidArgument"
	KindUnauthenticated    Kind = "Unauthenticated"
	KindForbidden          Kind = "Forbidden"
	KindNotFound           Kind = "NotFound"
	KindConflict           Kind = "Conflict"
	KindInsufficientFunds  Kind = "InsufficientFunds"
	KindStationUnavailable Kind = "StationUnavailable"
	KindProviderFailure    Kind = "ProviderFailure"
	KindTimeout            Kind = "Timeout"
	KindInternal           Kind = "Internal"
)

// Error is the error value returned by every service contract.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]interface{}
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func NewError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Errorf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func WrapError(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the Kind from any error chain, defaulting to Internal.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}

func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Common sentinel constructors used across services.
var (
	ErrClientBusy    = &Error{Kind: KindConflict, Message: "client already has an active charging session"}
	ErrConnectorBusy = &Error{Kind: KindConflict, Message: "connector is occupied by another session"}
)
