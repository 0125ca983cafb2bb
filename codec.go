package genvex

import (
	"encoding/binary"
	"io"
	"net"
	"os"

	"github.com/pkg/errors"
)

// Codec is the interface for encoding packets and reading frames off a transport.
//
// Decode reads from an io.Reader whose reads may time out. It should read
// exactly the bytes of one frame and return ErrNoFrame when the reader ran dry
// before a whole frame arrived. Any other error that is not a decode failure
// is treated as a fatal transport error by the session.
type Codec interface {
	// Decode reads and validates one frame from r.
	Decode(r io.Reader) (Packet, error)
	// Encode encodes a Packet into its wire frame.
	Encode(Packet) ([]byte, error)
}

// FrameCodec is the default Codec. It reads a frame in three steps: the STX
// byte, the remaining 4 header bytes, then LENGTH payload bytes plus the
// trailer. A first byte other than STX is dropped and reported as ErrNoFrame.
type FrameCodec struct{}

// Encode implements Codec.
func (FrameCodec) Encode(p Packet) ([]byte, error) {
	return Marshal(p)
}

// Decode implements Codec.
func (FrameCodec) Decode(r io.Reader) (Packet, error) {
	frame := make([]byte, HeaderSize, MinFrameSize)

	n, err := readExact(r, frame[:1])
	if err != nil {
		return Packet{}, err
	}
	if n < 1 || frame[0] != STX {
		return Packet{}, ErrNoFrame
	}

	n, err = readExact(r, frame[1:HeaderSize])
	if err != nil {
		return Packet{}, err
	}
	if n < HeaderSize-1 {
		return Packet{}, ErrNoFrame
	}

	length := int(binary.LittleEndian.Uint16(frame[3:5]))
	frame = append(frame, make([]byte, length+TrailerSize)...)
	n, err = readExact(r, frame[HeaderSize:])
	if err != nil {
		return Packet{}, err
	}
	if n < length+TrailerSize {
		return Packet{}, ErrNoFrame
	}

	return Unmarshal(frame)
}

// readExact fills buf from r and returns how many bytes arrived. A read that
// yields nothing, io.EOF or a timeout ends the fill early without an error.
func readExact(r io.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			if isTimeout(err) {
				return total, nil
			}
			return total, errors.Wrap(err, "read")
		}
		if n == 0 {
			return total, nil
		}
	}
	return total, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
