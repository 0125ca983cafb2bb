// Package genvex implements the serial protocol spoken by Genvex ventilation
// units. It provides byte exact framing with XOR checksums, a wrapping
// sequence allocator shared between sessions, and a Session that sends one
// request at a time and absorbs the notification frames the device emits
// before its real answer.
package genvex

import (
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"
)

// Frame delimiters and sizes.
const (
	STX = 0x02
	ETX = 0x03

	// HeaderSize covers STX, TYPE, SEQ and the 2 byte LENGTH.
	HeaderSize = 5
	// TrailerSize covers CHECKSUM and ETX.
	TrailerSize = 2
	// MinFrameSize is the size of a frame with an empty payload.
	MinFrameSize = HeaderSize + TrailerSize
	// MaxPayloadSize is the largest payload the LENGTH field can describe.
	MaxPayloadSize = 0xFFFF
)

// PacketType identifies the kind of frame on the wire.
type PacketType byte

// Known packet types.
const (
	// Request is sent by the host to command the device.
	Request PacketType = 0x30
	// Notify is an interim "still working" frame the device emits before answering.
	Notify PacketType = 0x34
	// Data carries the device's final answer.
	Data PacketType = 0x35
)

// Valid reports whether t is one of the known packet types.
func (t PacketType) Valid() bool {
	switch t {
	case Request, Notify, Data:
		return true
	}
	return false
}

func (t PacketType) String() string {
	switch t {
	case Request:
		return "REQUEST"
	case Notify:
		return "NOTIFY"
	case Data:
		return "DATA"
	}
	return fmt.Sprintf("PacketType(0x%02x)", byte(t))
}

// Packet is the logical content of a frame.
type Packet struct {
	Type     PacketType
	Sequence uint8
	Payload  []byte
}

// Length returns the payload length.
func (p Packet) Length() int {
	return len(p.Payload)
}

// Body returns the raw payload.
func (p Packet) Body() []byte {
	return p.Payload
}

// Marshal encodes p into its wire frame:
//
//	STX | TYPE | SEQ | LENGTH (2, little-endian) | PAYLOAD | CHECKSUM | ETX
//
// CHECKSUM is the XOR of every byte from TYPE through the last payload byte.
func Marshal(p Packet) ([]byte, error) {
	if len(p.Payload) > MaxPayloadSize {
		return nil, errors.Wrapf(ErrPayloadTooLarge, "%d bytes (max %d)", len(p.Payload), MaxPayloadSize)
	}

	frame := make([]byte, MinFrameSize+len(p.Payload))
	frame[0] = STX
	frame[1] = byte(p.Type)
	frame[2] = p.Sequence
	binary.LittleEndian.PutUint16(frame[3:5], uint16(len(p.Payload)))
	copy(frame[HeaderSize:], p.Payload)

	end := HeaderSize + len(p.Payload)
	frame[end] = checksum(frame[1:end])
	frame[end+1] = ETX
	return frame, nil
}

// Unmarshal validates a complete wire frame and returns the packet it carries.
// Checks run in order: minimum size, delimiters, declared length, checksum and
// finally the type byte. The checksum is taken at the trailer of the buffer, so
// a LENGTH that understates the buffer fails it; a buffer that still carries
// bytes past the declared payload is ErrBadFraming. The returned payload does
// not alias frame.
func Unmarshal(frame []byte) (Packet, error) {
	if len(frame) < MinFrameSize {
		return Packet{}, ErrTooShort
	}
	if frame[0] != STX || frame[len(frame)-1] != ETX {
		return Packet{}, ErrBadFraming
	}

	length := int(binary.LittleEndian.Uint16(frame[3:5]))
	if len(frame) < MinFrameSize+length {
		return Packet{}, ErrIncomplete
	}

	trailer := len(frame) - TrailerSize
	if checksum(frame[1:trailer]) != frame[trailer] {
		return Packet{}, ErrChecksumMismatch
	}

	end := HeaderSize + length
	if end != trailer {
		return Packet{}, errors.Wrapf(ErrBadFraming, "%d bytes past declared length", trailer-end)
	}

	typ := PacketType(frame[1])
	seq := frame[2]
	if !typ.Valid() {
		return Packet{}, &UnknownTypeError{Type: frame[1], Sequence: seq}
	}

	payload := make([]byte, length)
	copy(payload, frame[HeaderSize:end])
	return Packet{Type: typ, Sequence: seq, Payload: payload}, nil
}

func checksum(b []byte) byte {
	var sum byte
	for _, c := range b {
		sum ^= c
	}
	return sum
}
