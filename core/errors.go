package core

import (
	"errors"
	"net/http"
)

// Kind classifies every failure a simulation request can end with.
type Kind int

const (
	KindUnhandled Kind = iota
	KindChainNotSupported
	KindIncorrectChainID
	KindMultipleChainIDs
	KindInvalidBlockNumbers
	KindSessionNotFound
	KindSessionLimitReached
	KindOverride
	KindFailedToInstantiateFork
	KindFailedToSetTimestamp
	KindOutOfGas
	KindEngine
	KindMalformedBody
	KindUnauthorized
	KindNotFound
	KindMethodNotAllowed
	KindPayloadTooLarge
)

// Tag is the stable wire name of the kind.
func (k Kind) Tag() string {
	switch k {
	case KindChainNotSupported:
		return "CHAIN_ID_NOT_SUPPORTED"
	case KindIncorrectChainID:
		return "INCORRECT_CHAIN_ID"
	case KindMultipleChainIDs:
		return "MULTIPLE_CHAIN_IDS"
	case KindInvalidBlockNumbers:
		return "INVALID_BLOCK_NUMBERS"
	case KindSessionNotFound:
		return "STATE_NOT_FOUND"
	case KindSessionLimitReached:
		return "SESSION_LIMIT_REACHED"
	case KindOverride:
		return "OVERRIDE_ERROR"
	case KindFailedToInstantiateFork:
		return "FAILED_INSTANTIATE_FORK"
	case KindFailedToSetTimestamp:
		return "FAILED_TO_SET_BLOCK_TIMESTAMP"
	case KindOutOfGas:
		return "OUT_OF_GAS"
	case KindEngine:
		return "EVM_ERROR"
	case KindMalformedBody:
		return "BAD_REQUEST"
	case KindUnauthorized:
		return "UNAUTHORIZED"
	case KindNotFound:
		return "NOT_FOUND"
	case KindMethodNotAllowed:
		return "METHOD_NOT_ALLOWED"
	case KindPayloadTooLarge:
		return "PAYLOAD_TOO_LARGE"
	}
	return "UNHANDLED_REJECTION"
}

// Status is the HTTP status the kind maps to.
func (k Kind) Status() int {
	switch k {
	case KindChainNotSupported, KindIncorrectChainID, KindMultipleChainIDs,
		KindInvalidBlockNumbers, KindOutOfGas, KindMalformedBody:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindSessionNotFound, KindNotFound:
		return http.StatusNotFound
	case KindMethodNotAllowed:
		return http.StatusMethodNotAllowed
	case KindSessionLimitReached:
		return http.StatusServiceUnavailable
	case KindPayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusInternalServerError
}

// Error is the single error type returned by the simulator.
type Error struct {
	Kind   Kind
	Detail string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Kind.Tag()
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Message is the client-facing text. Server-side failures carry only the
// tag; the cause goes to the log.
func (e *Error) Message() string {
	if e.Detail == "" || e.Kind.Status() >= http.StatusInternalServerError {
		return e.Kind.Tag()
	}
	return e.Kind.Tag() + ": " + e.Detail
}

// NewError builds an Error.
func NewError(kind Kind, detail string, err error) *Error {
	return &Error{Kind: kind, Detail: detail, Err: err}
}

// AsError converts any error into an *Error, classifying unknown errors as
// unhandled.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Kind: KindUnhandled, Err: err}
}
