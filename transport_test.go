package genvex

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"
)

func TestNewStreamTransport_DefaultTimeout(t *testing.T) {
	hostConn, deviceConn := net.Pipe()
	defer hostConn.Close()
	defer deviceConn.Close()

	tr := NewStreamTransport(hostConn, 0).(*streamTransport)
	if tr.readTimeout != DefaultReadTimeout {
		t.Errorf("readTimeout = %v, want %v", tr.readTimeout, DefaultReadTimeout)
	}
	if tr.Flush() != nil {
		t.Error("Flush should be a no-op")
	}
	if tr.String() != "pipe" {
		t.Errorf("String() = %q, want %q", tr.String(), "pipe")
	}
}

func TestStreamTransport_ReadTimeoutIsNoFrame(t *testing.T) {
	hostConn, deviceConn := net.Pipe()
	defer hostConn.Close()
	defer deviceConn.Close()

	tr := NewStreamTransport(hostConn, 20*time.Millisecond)

	start := time.Now()
	_, err := FrameCodec{}.Decode(tr)
	if !errors.Is(err, ErrNoFrame) {
		t.Errorf("expected ErrNoFrame, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Decode took %v, want about 20ms", elapsed)
	}
}

func TestNetDialer_Exchange(t *testing.T) {
	listener, err := net.ListenTCP("tcp", &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	if err != nil {
		t.Fatalf("failed to create listener: %v", err)
	}
	defer listener.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	served := make(chan error, 1)
	go func() {
		conn, err := listener.AcceptTCP()
		if err != nil {
			served <- err
			return
		}
		emu := NewEmulator(NewStreamTransport(conn, 50*time.Millisecond), nil,
			EmulatorNotifyOption(1),
			EmulatorLoggerOption(&mockLogger{}))
		served <- emu.Serve(ctx)
	}()

	dial := NetDialer(NetConfig{
		Address:     listener.Addr().String(),
		DialTimeout: time.Second,
		ReadTimeout: time.Second,
	})

	err = WithSession(context.Background(), dial, func(s *Session) error {
		p, err := s.SendCommand(context.Background(), []byte{0xCA, 0xFE}, true)
		if err != nil {
			return err
		}
		if p.Type != Data || len(p.Payload) != 2 || p.Payload[0] != 0xCA {
			t.Errorf("response = %+v", p)
		}
		if s.Stats().Notifications != 1 {
			t.Errorf("Notifications = %d, want 1", s.Stats().Notifications)
		}
		return nil
	}, RetryDelayOption(0), LoggerOption(&mockLogger{}))
	if err != nil {
		t.Fatalf("exchange failed: %v", err)
	}

	// the emulator stops on its own once the session hangs up
	select {
	case err := <-served:
		if err != nil {
			t.Errorf("Serve returned %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for emulator")
	}
}

func TestStreamTransport_PeerHangup(t *testing.T) {
	hostConn, deviceConn := net.Pipe()
	defer hostConn.Close()

	tr := NewStreamTransport(hostConn, time.Second)
	deviceConn.Close()

	_, err := tr.Read(make([]byte, 1))
	if !errors.Is(err, net.ErrClosed) {
		t.Errorf("expected net.ErrClosed, got %v", err)
	}
	if isTimeout(err) {
		t.Error("a hangup must not be treated as a timeout")
	}
}

func TestNetDialer_Refused(t *testing.T) {
	listener, err := net.ListenTCP("tcp", &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	if err != nil {
		t.Fatalf("failed to create listener: %v", err)
	}
	addr := listener.Addr().String()
	listener.Close()

	s := NewSession(NetDialer(NetConfig{Address: addr, DialTimeout: time.Second}), LoggerOption(&mockLogger{}))

	var ce *ConnectError
	if err := s.Connect(context.Background()); !errors.As(err, &ce) {
		t.Errorf("expected *ConnectError, got %v", err)
	}
}

func TestSerialDialer_NoDevice(t *testing.T) {
	s := NewSession(SerialDialer(SerialConfig{}), LoggerOption(&mockLogger{}))

	var ce *ConnectError
	if err := s.Connect(context.Background()); !errors.As(err, &ce) {
		t.Errorf("expected *ConnectError, got %v", err)
	}
}

func TestSerialDialer_MissingDevice(t *testing.T) {
	dial := SerialDialer(SerialConfig{Device: "/dev/genvex-test-missing", ReadTimeout: 100 * time.Millisecond})

	if _, err := dial(context.Background()); err == nil {
		t.Error("expected an error opening a missing device")
	}
}

func TestSerialDialer_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := SerialDialer(SerialConfig{Device: "/dev/ttyUSB0"})(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
