package genvex

import (
	"context"
	"io"
	"net"
	"time"

	"github.com/pkg/errors"
	"github.com/tarm/serial"
)

// Transport is the byte stream a Session talks over.
//
// Read must return within the transport's own read timeout. A read that
// returns no data, io.EOF or a timeout error is taken as "nothing arrived";
// any other error is fatal for the exchange in progress. Transports whose peer
// can hang up must report that as an error wrapping net.ErrClosed, not io.EOF.
type Transport interface {
	io.ReadWriteCloser

	// Flush pushes any buffered output to the device.
	Flush() error
}

// Dialer opens a Transport.
type Dialer func(ctx context.Context) (Transport, error)

// Default transport settings.
const (
	DefaultBaud        = 9600
	DefaultReadTimeout = 2 * time.Second
)

// SerialConfig holds serial port configuration. The port is always opened
// as 8 data bits, no parity, one stop bit.
type SerialConfig struct {
	// Device path (e.g., "/dev/ttyUSB0", "COM3")
	Device string

	// Baud rate, DefaultBaud when zero
	Baud int

	// Read timeout, DefaultReadTimeout when zero
	ReadTimeout time.Duration
}

// SerialDialer returns a Dialer opening the configured serial port.
func SerialDialer(cfg SerialConfig) Dialer {
	if cfg.Baud <= 0 {
		cfg.Baud = DefaultBaud
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}

	return func(ctx context.Context) (Transport, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if cfg.Device == "" {
			return nil, errors.New("serial device not set")
		}

		port, err := serial.OpenPort(&serial.Config{
			Name:        cfg.Device,
			Baud:        cfg.Baud,
			ReadTimeout: cfg.ReadTimeout,
			Size:        8,
			Parity:      serial.ParityNone,
			StopBits:    serial.Stop1,
		})
		if err != nil {
			return nil, errors.Wrapf(err, "open serial port %s", cfg.Device)
		}
		return &serialTransport{port: port, name: cfg.Device}, nil
	}
}

// serialTransport wraps a tarm/serial port. Its Read returns io.EOF when the
// port's read timeout expires.
type serialTransport struct {
	port *serial.Port
	name string
}

func (t *serialTransport) Read(b []byte) (int, error)  { return t.port.Read(b) }
func (t *serialTransport) Write(b []byte) (int, error) { return t.port.Write(b) }
func (t *serialTransport) Close() error                { return t.port.Close() }
func (t *serialTransport) String() string              { return t.name }

// Flush is a no-op. Writes go straight to the file descriptor, and
// serial.Port.Flush discards unread input, which would drop replies.
func (t *serialTransport) Flush() error { return nil }

// NetConfig configures a serial-over-TCP bridge such as ser2net.
type NetConfig struct {
	// Address in host:port form
	Address string

	// Dial timeout, no limit when zero
	DialTimeout time.Duration

	// Read timeout applied before every read, DefaultReadTimeout when zero
	ReadTimeout time.Duration
}

// NetDialer returns a Dialer connecting to the configured TCP bridge.
func NetDialer(cfg NetConfig) Dialer {
	return func(ctx context.Context) (Transport, error) {
		d := net.Dialer{Timeout: cfg.DialTimeout}
		conn, err := d.DialContext(ctx, "tcp", cfg.Address)
		if err != nil {
			return nil, errors.Wrapf(err, "dial %s", cfg.Address)
		}
		if tcp, ok := conn.(*net.TCPConn); ok {
			_ = tcp.SetNoDelay(true)
		}
		return NewStreamTransport(conn, cfg.ReadTimeout), nil
	}
}

// NewStreamTransport adapts a net.Conn to a Transport. Every Read is bounded
// by readTimeout (DefaultReadTimeout when zero).
func NewStreamTransport(conn net.Conn, readTimeout time.Duration) Transport {
	if readTimeout <= 0 {
		readTimeout = DefaultReadTimeout
	}
	return &streamTransport{conn: conn, readTimeout: readTimeout}
}

type streamTransport struct {
	conn        net.Conn
	readTimeout time.Duration
}

// Read reports a deadline expiry as a timeout and a peer hangup as net.ErrClosed.
func (t *streamTransport) Read(b []byte) (int, error) {
	_ = t.conn.SetReadDeadline(time.Now().Add(t.readTimeout))
	n, err := t.conn.Read(b)
	if errors.Is(err, io.EOF) {
		return n, errors.Wrap(net.ErrClosed, "peer closed connection")
	}
	return n, err
}

func (t *streamTransport) Write(b []byte) (int, error) {
	return t.conn.Write(b)
}

func (t *streamTransport) Close() error { return t.conn.Close() }

// Flush is a no-op; net.Conn writes are unbuffered.
func (t *streamTransport) Flush() error { return nil }

func (t *streamTransport) String() string {
	if addr := t.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return "stream"
}
