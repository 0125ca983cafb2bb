package genvex

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Session owns one transport to a device and runs strictly sequential
// request/response exchanges over it.
//
// The device may answer a request with any number of Notify frames before the
// Data frame carrying the real answer. SendCommand absorbs those, skips frames
// belonging to other sequences and tolerates line noise, all within a single
// attempt budget: a read timeout, a mismatched or malformed frame and a Notify
// frame each consume one attempt. The worst case wait for one command is
// therefore maxRetries * (transport read timeout + retry delay).
//
// Calls on one Session are serialized internally. The sequence allocator may
// be shared with other sessions through SequencerOption.
type Session struct {
	dial Dialer
	opts options

	mu        sync.Mutex
	transport Transport
	id        string

	stats sessionStats
}

// Stats is a snapshot of the session counters.
type Stats struct {
	Requests      uint64 // request frames written
	Responses     uint64 // data frames returned to callers
	Notifications uint64 // notify frames absorbed
	Mismatches    uint64 // frames carrying another sequence
	Discarded     uint64 // attempts without a usable frame (timeouts, noise, corrupt frames)
	Timeouts      uint64 // exchanges that ran out of attempts
}

type sessionStats struct {
	requests      atomic.Uint64
	responses     atomic.Uint64
	notifications atomic.Uint64
	mismatches    atomic.Uint64
	discarded     atomic.Uint64
	timeouts      atomic.Uint64
}

// NewSession creates a session that opens its transport with dial.
// The session is not connected until Connect is called.
func NewSession(dial Dialer, opt ...Option) *Session {
	opts := options{
		maxRetries: DefaultMaxRetries,
		retryDelay: DefaultRetryDelay,
	}
	for _, o := range opt {
		o(&opts)
	}
	checkOptions(&opts)

	return &Session{dial: dial, opts: opts}
}

// WithSession connects a new session, runs fn and disconnects on every exit
// path, including a panic in fn.
func WithSession(ctx context.Context, dial Dialer, fn func(*Session) error, opt ...Option) error {
	s := NewSession(dial, opt...)
	if err := s.Connect(ctx); err != nil {
		return err
	}
	defer s.Disconnect()

	return fn(s)
}

// Connect opens the transport. It does not retry; a failure is returned as a
// *ConnectError. Connecting an already connected session is a no-op.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.transport != nil {
		return nil
	}

	if s.dial == nil {
		return &ConnectError{Err: errors.New("no dialer configured")}
	}

	t, err := s.dial(ctx)
	if err != nil {
		return &ConnectError{Err: err}
	}

	s.transport = t
	s.id = uuid.NewString()
	s.opts.logger.Info("connected to device", "session", s.id, "transport", describe(t))
	s.opts.logger.Debug("session options", "session", s.id,
		"max_retries", s.opts.maxRetries,
		"retry_delay", s.opts.retryDelay)

	return nil
}

// Disconnect closes the transport. Safe to call multiple times and on a
// session that never connected.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.transport == nil {
		return nil
	}

	err := s.transport.Close()
	s.transport = nil
	s.opts.logger.Info("disconnected from device", "session", s.id)
	s.id = ""

	return errors.Wrap(err, "close transport")
}

// IsConnected returns true while a transport is held open.
func (s *Session) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.transport != nil
}

// ID returns the identifier of the current connection, or "" when disconnected.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.id
}

// Sequencer returns the session's sequence allocator.
func (s *Session) Sequencer() *Sequencer {
	return s.opts.sequencer
}

// Stats returns a snapshot of the session counters.
func (s *Session) Stats() Stats {
	return Stats{
		Requests:      s.stats.requests.Load(),
		Responses:     s.stats.responses.Load(),
		Notifications: s.stats.notifications.Load(),
		Mismatches:    s.stats.mismatches.Load(),
		Discarded:     s.stats.discarded.Load(),
		Timeouts:      s.stats.timeouts.Load(),
	}
}

// ResetStats zeroes the session counters.
func (s *Session) ResetStats() {
	s.stats.requests.Store(0)
	s.stats.responses.Store(0)
	s.stats.notifications.Store(0)
	s.stats.mismatches.Store(0)
	s.stats.discarded.Store(0)
	s.stats.timeouts.Store(0)
}

// SendCommand sends payload in a Request frame with the next sequence number.
//
// With waitForResponse false it returns (nil, nil) once the frame is written.
// Otherwise it waits for the Data frame carrying the same sequence and returns it.
//
// Returns:
//   - ErrNotConnected: no transport is open
//   - ErrPayloadTooLarge: payload exceeds MaxPayloadSize
//   - *TransportError: write, flush or read failed; never retried
//   - *ProtocolViolationError: a frame with the expected sequence had an unexpected type
//   - *ResponseTimeoutError: the attempt budget ran out
//   - ctx.Err(): the context ended between attempts
func (s *Session) SendCommand(ctx context.Context, payload []byte, waitForResponse bool) (*Packet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.transport == nil {
		return nil, ErrNotConnected
	}

	if len(payload) > MaxPayloadSize {
		return nil, errors.Wrapf(ErrPayloadTooLarge, "%d bytes (max %d)", len(payload), MaxPayloadSize)
	}

	seq := s.opts.sequencer.Next()
	if err := s.send(Packet{Type: Request, Sequence: seq, Payload: payload}); err != nil {
		return nil, err
	}

	if !waitForResponse {
		return nil, nil
	}

	return s.receive(ctx, seq)
}

// send encodes and writes one frame.
func (s *Session) send(p Packet) error {
	frame, err := s.opts.codec.Encode(p)
	if err != nil {
		return err
	}

	n, err := s.transport.Write(frame)
	if err != nil {
		return &TransportError{Op: "write", Err: err}
	}
	if n != len(frame) {
		return &TransportError{Op: "write", Err: fmt.Errorf("incomplete write: %d/%d bytes", n, len(frame))}
	}
	if err := s.transport.Flush(); err != nil {
		return &TransportError{Op: "flush", Err: err}
	}

	s.stats.requests.Add(1)
	s.opts.logger.Debug("sent packet", "session", s.id,
		"type", p.Type, "seq", p.Sequence, "len", len(p.Payload))

	return nil
}

// receive runs the attempt loop for the exchange with sequence expected.
func (s *Session) receive(ctx context.Context, expected uint8) (*Packet, error) {
	notifications := 0
	var unknown *UnknownTypeError

	for attempt := 1; attempt <= s.opts.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		p, err := s.opts.codec.Decode(s.transport)
		switch {
		case err == nil:
		case errors.Is(err, ErrNoFrame):
			s.stats.discarded.Add(1)
			s.opts.logger.Debug("no frame received", "session", s.id,
				"attempt", attempt, "max_retries", s.opts.maxRetries)
			if err := s.pause(ctx, attempt); err != nil {
				return nil, err
			}
			continue
		case errors.As(err, &unknown):
			if unknown.Sequence == expected {
				return nil, &ProtocolViolationError{Type: unknown.Type, Sequence: unknown.Sequence}
			}
			s.stats.mismatches.Add(1)
			s.opts.logger.Warn("sequence mismatch", "session", s.id,
				"expected", expected, "got", unknown.Sequence, "type", unknown.Type)
			if err := s.pause(ctx, attempt); err != nil {
				return nil, err
			}
			continue
		case isDecodeFailure(err):
			s.stats.discarded.Add(1)
			s.opts.logger.Warn("discarded malformed frame", "session", s.id,
				"attempt", attempt, "error", err)
			if err := s.pause(ctx, attempt); err != nil {
				return nil, err
			}
			continue
		default:
			return nil, &TransportError{Op: "read", Err: err}
		}

		s.opts.logger.Debug("received packet", "session", s.id,
			"type", p.Type, "seq", p.Sequence, "len", len(p.Payload))

		if p.Sequence != expected {
			s.stats.mismatches.Add(1)
			s.opts.logger.Warn("sequence mismatch", "session", s.id,
				"expected", expected, "got", p.Sequence)
			if err := s.pause(ctx, attempt); err != nil {
				return nil, err
			}
			continue
		}

		switch p.Type {
		case Notify:
			notifications++
			s.stats.notifications.Add(1)
			s.opts.logger.Debug("received notify packet", "session", s.id,
				"attempt", attempt, "max_retries", s.opts.maxRetries)
			if err := s.pause(ctx, attempt); err != nil {
				return nil, err
			}
		case Data:
			s.stats.responses.Add(1)
			s.opts.logger.Info("received data response", "session", s.id,
				"seq", p.Sequence, "notifications", notifications)
			return &p, nil
		default:
			return nil, &ProtocolViolationError{Type: byte(p.Type), Sequence: p.Sequence}
		}
	}

	s.stats.timeouts.Add(1)
	return nil, &ResponseTimeoutError{
		Sequence:      expected,
		Notifications: notifications,
		Attempts:      s.opts.maxRetries,
	}
}

// pause sleeps retryDelay unless attempt was the last one.
func (s *Session) pause(ctx context.Context, attempt int) error {
	if attempt >= s.opts.maxRetries || s.opts.retryDelay <= 0 {
		return nil
	}

	timer := time.NewTimer(s.opts.retryDelay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func isDecodeFailure(err error) bool {
	return errors.Is(err, ErrTooShort) ||
		errors.Is(err, ErrBadFraming) ||
		errors.Is(err, ErrIncomplete) ||
		errors.Is(err, ErrChecksumMismatch)
}

func describe(t Transport) string {
	if s, ok := t.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%T", t)
}
