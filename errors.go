package genvex

import (
	"fmt"

	"github.com/pkg/errors"
)

// Errors returned by session operations.
var (
	// ErrNotConnected is returned when a command is sent without an open transport.
	ErrNotConnected = errors.New("not connected to device")
	// ErrNoFrame is returned by a Codec when no complete frame arrived before the
	// transport read timed out.
	ErrNoFrame = errors.New("no frame received")
	// ErrPayloadTooLarge is returned when a payload does not fit the 2 byte length field.
	ErrPayloadTooLarge = errors.New("payload too large")
)

// Decode failures. A malformed frame never aborts an exchange on its own; the
// session treats it as "no usable frame" for that attempt.
var (
	ErrTooShort         = errors.New("frame too short")
	ErrBadFraming       = errors.New("bad frame delimiters")
	ErrIncomplete       = errors.New("frame shorter than declared length")
	ErrChecksumMismatch = errors.New("checksum mismatch")
	ErrUnknownType      = errors.New("unknown packet type")
)

// UnknownTypeError is returned by Unmarshal for a well formed frame whose type
// byte is not one of the known packet types. It matches ErrUnknownType.
type UnknownTypeError struct {
	Type     byte
	Sequence uint8
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("unknown packet type 0x%02x (seq %d)", e.Type, e.Sequence)
}

// Is reports whether target is ErrUnknownType.
func (e *UnknownTypeError) Is(target error) bool {
	return target == ErrUnknownType
}

// ConnectError is returned by Connect when the transport cannot be opened.
type ConnectError struct {
	Err error
}

func (e *ConnectError) Error() string {
	return "connect failed: " + e.Err.Error()
}

func (e *ConnectError) Unwrap() error { return e.Err }

// TransportError reports a write, flush or unrecoverable read failure in the
// middle of an exchange. It is never retried.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return "transport " + e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolViolationError is returned when a correctly sequenced frame carries a
// type the exchange cannot accept. The exchange stops immediately.
type ProtocolViolationError struct {
	Type     byte
	Sequence uint8
}

func (e *ProtocolViolationError) Error() string {
	return fmt.Sprintf("protocol violation: unexpected packet type 0x%02x for seq %d", e.Type, e.Sequence)
}

// ResponseTimeoutError is returned when the attempt budget runs out before a
// data frame with the expected sequence arrives.
type ResponseTimeoutError struct {
	Sequence      uint8
	Notifications int
	Attempts      int
}

func (e *ResponseTimeoutError) Error() string {
	return fmt.Sprintf("timeout waiting for response to seq %d: received %d notify packets, but no data response after %d attempts",
		e.Sequence, e.Notifications, e.Attempts)
}
