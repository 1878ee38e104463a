package fallback

import (
	"errors"
	"fmt"
)

// ErrNoTransport is returned when a Requester has no primary transport.
var ErrNoTransport = errors.New("fallback: no transport configured")

// ErrEmptyReply is reported for a transport that returned neither a reply
// nor an error.
var ErrEmptyReply = errors.New("fallback: transport returned no reply")

// TransportError is a failed attempt on a single transport: either no reply
// (Err set) or a reply the transport's protocol marks as unsuccessful.
type TransportError struct {
	Transport string
	Status    int
	Message   string
	Err       error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transport %s: %v", e.Transport, e.Err)
	}
	if e.Message != "" {
		return fmt.Sprintf("transport %s: status %d: %s", e.Transport, e.Status, e.Message)
	}
	return fmt.Sprintf("transport %s: status %d", e.Transport, e.Status)
}

func (e *TransportError) Unwrap() error { return e.Err }

// StatusCode returns the HTTP status of the failed reply, or 0 if there was none.
func (e *TransportError) StatusCode() int { return e.Status }

// Error reports that every transport of a Requester failed. Unwrap yields
// the secondary failure first.
type Error struct {
	Primary   error
	Secondary error
}

func (e *Error) Error() string {
	if e.Secondary == nil {
		return fmt.Sprintf("request failed: %v", e.Primary)
	}
	return fmt.Sprintf("all transports failed: %v (after primary: %v)", e.Secondary, e.Primary)
}

func (e *Error) Unwrap() []error {
	if e.Secondary == nil {
		return []error{e.Primary}
	}
	return []error{e.Secondary, e.Primary}
}

// Last returns the error of the final transport attempted.
func (e *Error) Last() error {
	if e.Secondary != nil {
		return e.Secondary
	}
	return e.Primary
}
