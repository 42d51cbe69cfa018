package models

import (
	"errors"
	"fmt"
)

// ErrCancelled is returned when the user aborts an in-flight reply. It is not reported to the user.
var ErrCancelled = errors.New("request cancelled")

// TransportError reports that the model endpoint could not be reached, answered with a non-success status,
// broke the response body, or sent an error record in the stream.
type TransportError struct {
	// StatusCode is the HTTP status, or 0 when no response was received.
	StatusCode int
	Message    string
	Err        error
}

// ParseError reports a single stream record that could not be decoded. It never ends the stream.
type ParseError struct {
	Line []byte
	Err  error
}

func (e *TransportError) Error() string {
	msg := e.Message
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("malformed stream record %q: %v", e.Line, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// IsCancelled reports whether err is, or wraps, ErrCancelled.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}

// IsTransport reports whether err is, or wraps, a *TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
