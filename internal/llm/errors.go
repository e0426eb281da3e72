package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Kind classifies completion failures.
type Kind string

const (
	KindUnauthenticated Kind = "unauthenticated"
	KindRateLimited     Kind = "rate_limited"
	KindUnavailable     Kind = "unavailable"
	KindBadRequest      Kind = "bad_request"
	KindUnknown         Kind = "unknown"
)

var (
	ErrUnauthenticated = errors.New("llm unauthenticated")
	ErrRateLimited     = errors.New("llm rate limited")
	ErrUnavailable     = errors.New("llm unavailable")
	ErrBadRequest      = errors.New("llm bad request")
	ErrUnknown         = errors.New("llm error")
)

var sentinels = map[Kind]error{
	KindUnauthenticated: ErrUnauthenticated,
	KindRateLimited:     ErrRateLimited,
	KindUnavailable:     ErrUnavailable,
	KindBadRequest:      ErrBadRequest,
	KindUnknown:         ErrUnknown,
}

// Error is a classified completion failure. errors.Is matches the sentinel of
// its kind as well as the wrapped cause.
type Error struct {
	Kind    Kind
	Status  int
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s (status %d): %s", e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Is matches the kind sentinel.
func (e *Error) Is(target error) bool {
	return sentinels[e.Kind] == target
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.Cause
}

// KindOf classifies any error returned by a Completer.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var le *Error
	if errors.As(err, &le) {
		return le.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindUnavailable
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindUnavailable
	}
	return KindUnknown
}

func kindForStatus(status int) Kind {
	switch {
	case status == 401 || status == 403:
		return KindUnauthenticated
	case status == 429:
		return KindRateLimited
	case status >= 500:
		return KindUnavailable
	case status >= 400:
		return KindBadRequest
	}
	return KindUnknown
}
