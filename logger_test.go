package genvex

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
)

// mockLogger records calls for assertions.
type mockLogger struct {
	mu sync.Mutex

	debugCalled bool
	infoCalled  bool
	warnCalled  bool
	errorCalled bool
	messages    []string
	lastArgs    []any
}

func (l *mockLogger) record(msg string, args []any) {
	l.messages = append(l.messages, msg)
	l.lastArgs = args
}

func (l *mockLogger) Debug(msg string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.debugCalled = true
	l.record(msg, args)
}

func (l *mockLogger) Info(msg string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.infoCalled = true
	l.record(msg, args)
}

func (l *mockLogger) Warn(msg string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warnCalled = true
	l.record(msg, args)
}

func (l *mockLogger) Error(msg string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errorCalled = true
	l.record(msg, args)
}

func (l *mockLogger) logged(msg string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, m := range l.messages {
		if m == msg {
			return true
		}
	}
	return false
}

func TestLogger_Interface(t *testing.T) {
	var _ Logger = slog.Default()
}

func TestDefaultLogger(t *testing.T) {
	if defaultLogger() != slog.Default() {
		t.Error("defaultLogger did not return slog.Default()")
	}
}

func TestSession_LogsLifecycle(t *testing.T) {
	logger := &mockLogger{}
	s := NewSession(dialMock(&mockTransport{}), LoggerOption(logger))

	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if !logger.logged("connected to device") {
		t.Error("Connect should log at info level")
	}

	if err := s.Disconnect(); err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}
	if !logger.logged("disconnected from device") {
		t.Error("Disconnect should log at info level")
	}
}

func TestSession_LogsDiscardedFrame(t *testing.T) {
	m := &mockTransport{}
	corrupt := mustMarshal(t, Packet{Type: Data, Sequence: 0, Payload: []byte{0x01}})
	corrupt[HeaderSize] ^= 0x01
	m.rx.Write(corrupt)

	logger := &mockLogger{}
	s := newTestSession(t, m, LoggerOption(logger), MaxRetriesOption(1))

	_, _ = s.SendCommand(context.Background(), nil, true)

	if !logger.warnCalled || !logger.logged("discarded malformed frame") {
		t.Error("a corrupt frame should be logged as a warning")
	}
}

func TestSession_SlogFields(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	m := &mockTransport{}
	m.queue(t, Packet{Type: Data, Sequence: 0, Payload: []byte{0x22}})
	s := newTestSession(t, m, LoggerOption(logger))

	if _, err := s.SendCommand(context.Background(), []byte{0x01}, true); err != nil {
		t.Fatalf("SendCommand failed: %v", err)
	}

	out := buf.String()
	for _, want := range []string{"session=" + s.ID(), "type=REQUEST", "type=DATA", "notifications=0"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q:\n%s", want, out)
		}
	}
}
