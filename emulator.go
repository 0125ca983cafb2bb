package genvex

import (
	"context"
	"io"
	"net"
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Handler answers request packets on behalf of an emulated device.
type Handler interface {
	// Handle returns the payload of the Data frame answering request.
	Handle(request Packet) []byte
}

// HandlerFunc adapts an ordinary function to the Handler interface.
type HandlerFunc func(request Packet) []byte

// Handle calls f(request).
func (f HandlerFunc) Handle(request Packet) []byte {
	return f(request)
}

// EchoHandler answers every request with its own payload.
var EchoHandler = HandlerFunc(func(request Packet) []byte {
	return request.Payload
})

// Emulator plays the device side of the protocol over a Transport. Every
// request is answered with a configurable number of Notify frames followed by
// one Data frame, all carrying the request's sequence.
type Emulator struct {
	transport     Transport
	handler       Handler
	codec         Codec
	logger        Logger
	notifications int
}

// EmulatorOption configures an Emulator.
type EmulatorOption func(*Emulator)

// EmulatorNotifyOption sets how many Notify frames precede each Data frame.
func EmulatorNotifyOption(n int) EmulatorOption {
	return func(e *Emulator) {
		e.notifications = n
	}
}

// EmulatorLoggerOption sets the logger for the emulator.
func EmulatorLoggerOption(logger Logger) EmulatorOption {
	return func(e *Emulator) {
		e.logger = logger
	}
}

// EmulatorCodecOption replaces the default FrameCodec.
func EmulatorCodecOption(codec Codec) EmulatorOption {
	return func(e *Emulator) {
		e.codec = codec
	}
}

// NewEmulator creates an emulator answering over t with handler.
// A nil handler echoes request payloads.
func NewEmulator(t Transport, handler Handler, opts ...EmulatorOption) *Emulator {
	if handler == nil {
		handler = EchoHandler
	}

	e := &Emulator{
		transport: t,
		handler:   handler,
		codec:     FrameCodec{},
		logger:    defaultLogger(),
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.notifications < 0 {
		e.notifications = 0
	}

	return e
}

// Serve answers requests until the context is canceled or the transport is
// closed. The transport is closed when Serve returns, which also unblocks a
// read pending at cancellation.
func (e *Emulator) Serve(ctx context.Context) error {
	e.logger.Info("emulator started", "transport", describe(e.transport), "notifications", e.notifications)

	child, cancel := context.WithCancel(ctx)
	group, gctx := errgroup.WithContext(child)

	group.Go(func() error {
		defer cancel()
		return e.serve(gctx)
	})

	group.Go(func() error {
		<-gctx.Done()
		_ = e.transport.Close()
		return nil
	})

	err := group.Wait()
	if err == nil {
		err = ctx.Err()
	}

	e.logger.Info("emulator stopped", "transport", describe(e.transport), "error", err)
	return err
}

func (e *Emulator) serve(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		req, err := e.codec.Decode(e.transport)
		switch {
		case err == nil:
		case errors.Is(err, ErrNoFrame):
			continue
		case isClosed(err):
			return nil
		case isDecodeFailure(err) || errors.Is(err, ErrUnknownType):
			e.logger.Warn("emulator discarded frame", "error", err)
			continue
		default:
			return err
		}

		if req.Type != Request {
			e.logger.Debug("emulator ignored packet", "type", req.Type, "seq", req.Sequence)
			continue
		}

		if err := e.answer(req); err != nil {
			if isClosed(err) {
				return nil
			}
			return err
		}
	}
}

// answer writes the Notify frames and the final Data frame for req.
func (e *Emulator) answer(req Packet) error {
	for i := 0; i < e.notifications; i++ {
		if err := e.write(Packet{Type: Notify, Sequence: req.Sequence}); err != nil {
			return err
		}
	}

	return e.write(Packet{Type: Data, Sequence: req.Sequence, Payload: e.handler.Handle(req)})
}

func (e *Emulator) write(p Packet) error {
	frame, err := e.codec.Encode(p)
	if err != nil {
		return err
	}
	if _, err := e.transport.Write(frame); err != nil {
		return errors.Wrap(err, "emulator write")
	}
	return e.transport.Flush()
}

func isClosed(err error) bool {
	return errors.Is(err, io.ErrClosedPipe) || errors.Is(err, net.ErrClosed) || errors.Is(err, os.ErrClosed)
}
