package session

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfiguration is returned when a session or throttler is built
	// with a non-positive rate limit or period.
	ErrInvalidConfiguration = errors.New("invalid session configuration")

	// ErrSessionClosed is returned by requests issued after Close.
	ErrSessionClosed = errors.New("session is closed")
)

// SessionError is implemented by every error the retry layer surfaces.
type SessionError interface {
	error
	sessionError()
}

// ClientSessionError reports that every attempt failed with a transient error.
type ClientSessionError struct {
	Attempts int
	Last     error
}

func (e *ClientSessionError) Error() string {
	if e.Last == nil {
		return fmt.Sprintf("client session error after %d attempts", e.Attempts)
	}
	return fmt.Sprintf("client session error after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ClientSessionError) Unwrap() error { return e.Last }

func (e *ClientSessionError) sessionError() {}

// UnknownSessionError wraps a non-transient failure. It is never retried.
type UnknownSessionError struct {
	Op  string
	Err error
}

func (e *UnknownSessionError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("unknown session error: %v", e.Err)
	}
	return fmt.Sprintf("unknown session error: %s: %v", e.Op, e.Err)
}

func (e *UnknownSessionError) Unwrap() error { return e.Err }

func (e *UnknownSessionError) sessionError() {}

// DecodeError reports a response body that is not valid JSON.
type DecodeError struct {
	Body string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode response body: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// PayloadError reports a failure while reading or decoding a response body.
type PayloadError struct {
	URL string
	Err error
}

func (e *PayloadError) Error() string {
	return fmt.Sprintf("read payload from %s: %v", e.URL, e.Err)
}

func (e *PayloadError) Unwrap() error { return e.Err }

// ContentTypeError reports a response whose Content-Type does not match the
// type the caller asked for.
type ContentTypeError struct {
	URL      string
	Expected string
	Actual   string
}

func (e *ContentTypeError) Error() string {
	return fmt.Sprintf("unexpected content type from %s: want %q, got %q", e.URL, e.Expected, e.Actual)
}
