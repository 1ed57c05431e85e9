// ABOUTME: Error taxonomy for the wsdsp protocol
// ABOUTME: Sentinel errors plus typed reports raised while dispatching frames
package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidArgument     = errors.New("protocol: invalid argument")
	ErrMalformedFrame      = errors.New("protocol: malformed frame")
	ErrUnsolicitedResponse = errors.New("protocol: unsolicited response")
	ErrIDInUse             = errors.New("protocol: correlation id already outstanding")
	ErrIDSpaceExhausted    = errors.New("protocol: no free correlation id")
)

// FrameError describes a problem with a single inbound frame. It is only
// reported to the diagnostic channel, never returned from OnFrame.
type FrameError struct {
	Kind  error // ErrMalformedFrame or ErrUnsolicitedResponse
	Frame FrameKind
	ID    uint32
	Err   error
}

func (e *FrameError) Error() string {
	if e.Err != nil && errors.Is(e.Err, e.Kind) {
		return fmt.Sprintf("%v (%s frame, id=%d)", e.Err, e.Frame, e.ID)
	}
	msg := fmt.Sprintf("%v (%s frame, id=%d)", e.Kind, e.Frame, e.ID)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FrameError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// TransportError wraps an error surfaced by the underlying channel.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return "protocol: transport error: " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// invalidArg wraps ErrInvalidArgument with the name of the offending parameter.
func invalidArg(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// malformed wraps ErrMalformedFrame with a description of the inconsistency.
func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedFrame, fmt.Sprintf(format, args...))
}
