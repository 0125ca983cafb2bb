package main

import (
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Zereker/genvex"
	"golang.org/x/sync/errgroup"
)

var (
	configPath = flag.String("config", "", "TOML config file")
	device     = flag.String("device", "", "Serial device path (overrides config)")
	address    = flag.String("address", "", "Serial-over-TCP bridge host:port (overrides config)")
	payload    = flag.String("payload", "01020304", "Command payload in hex")
	noWait     = flag.Bool("no-wait", false, "Send without waiting for a response")
	watch      = flag.Duration("watch", 0, "Repeat the command at this interval until interrupted")
	verbose    = flag.Bool("verbose", false, "Enable debug logging")
	emulate    = flag.Int("emulate", -1, "Talk to an in-process emulated device sending this many notify frames per answer")
)

func main() {
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if err := run(logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	cfg := defaultConfig()
	if *configPath != "" {
		loaded, err := loadConfig(*configPath)
		if err != nil {
			return err
		}
		cfg = loaded
		logger.Info("loaded config", "path", *configPath)
	}
	if *device != "" {
		cfg.Device = *device
		cfg.Address = ""
	}
	if *address != "" {
		cfg.Address = *address
	}

	data, err := hex.DecodeString(*payload)
	if err != nil {
		return fmt.Errorf("parse payload: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, ctx := errgroup.WithContext(ctx)

	dial := cfg.dialer()
	if *emulate >= 0 {
		hostConn, deviceConn := net.Pipe()
		emu := genvex.NewEmulator(genvex.NewStreamTransport(deviceConn, 100*time.Millisecond), nil,
			genvex.EmulatorNotifyOption(*emulate),
			genvex.EmulatorLoggerOption(logger))
		group.Go(func() error {
			return emu.Serve(ctx)
		})
		dial = func(context.Context) (genvex.Transport, error) {
			return genvex.NewStreamTransport(hostConn, cfg.ReadTimeout), nil
		}
	}

	opts := append(cfg.options(), genvex.LoggerOption(logger))
	group.Go(func() error {
		// stop the emulator once the commands are done
		defer stop()
		return genvex.WithSession(ctx, dial, func(s *genvex.Session) error {
			return commandLoop(ctx, s, data)
		}, opts...)
	})

	return group.Wait()
}

func commandLoop(ctx context.Context, s *genvex.Session, data []byte) error {
	if err := sendOnce(ctx, s, data); err != nil {
		return err
	}
	if *watch <= 0 {
		return nil
	}

	ticker := time.NewTicker(*watch)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			stats := s.Stats()
			fmt.Printf("requests=%d responses=%d notifications=%d mismatches=%d discarded=%d timeouts=%d\n",
				stats.Requests, stats.Responses, stats.Notifications, stats.Mismatches, stats.Discarded, stats.Timeouts)
			return nil
		case <-ticker.C:
			if err := sendOnce(ctx, s, data); err != nil {
				var rte *genvex.ResponseTimeoutError
				if errors.As(err, &rte) {
					// a missed poll is not fatal in watch mode
					slog.Warn("poll timed out", "notifications", rte.Notifications, "attempts", rte.Attempts)
					continue
				}
				return err
			}
		}
	}
}

func sendOnce(ctx context.Context, s *genvex.Session, data []byte) error {
	fmt.Printf("Sending command: %s\n", hex.EncodeToString(data))

	p, err := s.SendCommand(ctx, data, !*noWait)
	if err != nil {
		return err
	}
	if p == nil {
		fmt.Println("Command sent")
		return nil
	}

	fmt.Printf("Received response: type=%s seq=%d data=%s\n", p.Type, p.Sequence, hex.EncodeToString(p.Payload))
	return nil
}
