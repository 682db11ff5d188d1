package service

import (
	"context"
	"errors"

	"github.com/0xTanzim/weather-extension/internal/client"
)

// Kind classifies every failure the service can surface. Callers branch on
// the kind; they never see raw transport errors.
type Kind int

const (
	KindInvalidInput Kind = iota
	KindNotFound
	KindUnauthorized
	KindRateLimited
	KindTimeout
	KindTransport
	KindInvalidResponse
)

func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid_input"
	case KindNotFound:
		return "not_found"
	case KindUnauthorized:
		return "unauthorized"
	case KindRateLimited:
		return "rate_limited"
	case KindTimeout:
		return "timeout"
	case KindTransport:
		return "transport"
	case KindInvalidResponse:
		return "invalid_response"
	default:
		return "unknown"
	}
}

// Error is the typed failure returned by every service operation.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the failure kind from an error returned by the service.
// ok is false for nil or foreign errors.
func KindOf(err error) (Kind, bool) {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind, true
	}
	return 0, false
}

func invalidInput(err error) error {
	return &Error{Kind: KindInvalidInput, Err: err}
}

// classify maps a client error to a failure kind. Anything unrecognized is a
// transport failure.
func classify(err error) Kind {
	switch {
	case errors.Is(err, client.ErrNotFound):
		return KindNotFound
	case errors.Is(err, client.ErrUnauthorized):
		return KindUnauthorized
	case errors.Is(err, client.ErrRateLimited):
		return KindRateLimited
	case errors.Is(err, client.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, client.ErrBadPayload):
		return KindInvalidResponse
	default:
		return KindTransport
	}
}

// retryable reports whether a failure kind is worth another attempt with
// backoff. Validation and not-found outcomes never change on retry.
func retryable(k Kind) bool {
	return k == KindTimeout || k == KindTransport
}
