// internal/types/errors.go
package types

import (
	"errors"
	"fmt"
)

// Error kinds. A *ServiceError unwraps to exactly one of the first three.
var (
	ErrTimeout           = errors.New("timeout")
	ErrRemoteRejected    = errors.New("remote rejected")
	ErrRemoteUnavailable = errors.New("remote unavailable")

	ErrNotFound       = errors.New("not found")
	ErrUnsupportedURL = errors.New("unsupported url")
	ErrAdapterClosed  = errors.New("adapter closed")
)

// Reason refines a kind with a user-facing cause.
type Reason string

const (
	ReasonNotFound    Reason = "not_found"
	ReasonPrivate     Reason = "private"
	ReasonMalformed   Reason = "malformed"
	ReasonTooLong     Reason = "too_long"
	ReasonUnavailable Reason = "unavailable"
	ReasonRateLimited Reason = "rate_limited"
)

// ServiceError is returned by every adapter call that fails.
type ServiceError struct {
	Service string
	Op      string
	Kind    error
	Reason  Reason
	Err     error
}

func (e *ServiceError) Error() string {
	msg := fmt.Sprintf("%s %s: %v", e.Service, e.Op, e.Kind)
	if e.Reason != "" {
		msg += " (" + string(e.Reason) + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ServiceError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Rejected builds a RemoteRejected error.
func Rejected(service, op string, reason Reason, err error) *ServiceError {
	return &ServiceError{Service: service, Op: op, Kind: ErrRemoteRejected, Reason: reason, Err: err}
}

// Unavailable builds a RemoteUnavailable error.
func Unavailable(service, op string, err error) *ServiceError {
	return &ServiceError{Service: service, Op: op, Kind: ErrRemoteUnavailable, Reason: ReasonUnavailable, Err: err}
}

// TimedOut builds a Timeout error.
func TimedOut(service, op string, err error) *ServiceError {
	return &ServiceError{Service: service, Op: op, Kind: ErrTimeout, Err: err}
}

// ReasonOf returns the reason carried by err, if any.
func ReasonOf(err error) Reason {
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Reason
	}
	return ""
}
