package analysis

import (
	"errors"
	"fmt"
)

// Sentinel errors matched by *Error through errors.Is.
var (
	ErrTimeout = errors.New("analysis: timeout")
	ErrService = errors.New("analysis: service error")
)

// Kind classifies an analysis failure.
type Kind int

const (
	KindService Kind = iota
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	default:
		return "service"
	}
}

// Error is returned by Client for every failed call.
type Error struct {
	Kind Kind
	// StatusCode is the upstream HTTP status, zero when no response arrived.
	StatusCode int
	// Message is the upstream explanation, if any.
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Kind == KindTimeout:
		return "analysis: timed out waiting for classification service"
	case e.StatusCode != 0:
		return fmt.Sprintf("analysis: classification service returned %d: %s", e.StatusCode, e.Message)
	default:
		return fmt.Sprintf("analysis: %s", e.Message)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is lets callers match on ErrTimeout / ErrService.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrTimeout:
		return e.Kind == KindTimeout
	case ErrService:
		return e.Kind == KindService
	}
	return false
}

func timeoutError(err error) *Error {
	return &Error{Kind: KindTimeout, Message: "deadline exceeded", Err: err}
}

func serviceError(status int, msg string, err error) *Error {
	if msg == "" && err != nil {
		msg = err.Error()
	}
	return &Error{Kind: KindService, StatusCode: status, Message: msg, Err: err}
}
