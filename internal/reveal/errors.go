package reveal

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidAdvance is returned by Buffer.AdvanceCursor for a negative step.
	// It signals a programming error and is never surfaced to the user.
	ErrInvalidAdvance = errors.New("reveal: invalid advance")

	// ErrClosed is returned when an event is posted to an engine after Close.
	ErrClosed = errors.New("reveal: engine closed")
)

// TransportError reports a failure of the transport feeding a session.
// Recoverable failures let buffered text finish revealing; fatal failures
// (malformed framing) truncate the session immediately.
type TransportError struct {
	Reason string
	Fatal  bool
	Err    error
}

func (e *TransportError) Error() string {
	kind := "recoverable"
	if e.Fatal {
		kind = "fatal"
	}
	if e.Err != nil {
		return fmt.Sprintf("reveal: %s transport error: %s: %v", kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("reveal: %s transport error: %s", kind, e.Reason)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsFatal implements the fatal classification used by IsFatal.
func (e *TransportError) IsFatal() bool {
	return e.Fatal
}

// IsFatal reports whether err, or any error it wraps, classifies itself as
// fatal through an IsFatal() bool method. Everything else is recoverable.
func IsFatal(err error) bool {
	var f interface{ IsFatal() bool }
	if errors.As(err, &f) {
		return f.IsFatal()
	}
	return false
}
