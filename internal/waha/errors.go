package waha

import (
	"errors"
	"fmt"
)

// ErrTransport matches every failure produced by the client.
var ErrTransport = errors.New("waha transport failure")

// Kind classifies a transport failure.
type Kind string

const (
	// KindStatus is a non-retryable HTTP status (4xx other than 429).
	KindStatus Kind = "status"
	// KindExhausted means every attempt hit 429 or 5xx.
	KindExhausted Kind = "exhausted"
	// KindNetwork is a connection-level failure; no response was received.
	KindNetwork Kind = "network"
	// KindDecode means the response body did not have the expected shape.
	KindDecode Kind = "decode"
)

type Error struct {
	Kind     Kind
	Method   string
	Path     string
	Status   int
	Attempts int
	Body     string
	Err      error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := fmt.Sprintf("waha %s %s: %s", e.Method, e.Path, e.Kind)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d", e.Status)
		if e.Attempts > 1 {
			msg += fmt.Sprintf(", %d attempts", e.Attempts)
		}
		msg += ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Is(target error) bool { return target == ErrTransport }

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the failure kind of err, or "" if err is not a transport error.
func KindOf(err error) Kind {
	var transportErr *Error
	if errors.As(err, &transportErr) {
		return transportErr.Kind
	}
	return ""
}

// IsRetryable reports whether an HTTP status is worth another attempt.
func IsRetryable(status int) bool {
	return status == 429 || status >= 500
}
