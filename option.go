package genvex

import (
	"time"
)

// Default configuration values.
const (
	// DefaultMaxRetries is the default attempt budget for one response.
	DefaultMaxRetries = 10
	// DefaultRetryDelay is the default pause between attempts.
	DefaultRetryDelay = 100 * time.Millisecond
)

// options holds the configuration for a session.
type options struct {
	codec     Codec
	logger    Logger
	sequencer *Sequencer

	maxRetries int           // attempts per response; timeouts, mismatches and notifications all count
	retryDelay time.Duration // pause after every attempt that did not resolve the exchange
}

// Option is a function that configures session options.
type Option func(*options)

// CustomCodecOption returns an Option that replaces the default FrameCodec.
func CustomCodecOption(codec Codec) Option {
	return func(o *options) {
		o.codec = codec
	}
}

// LoggerOption returns an Option that sets the logger.
// If not set, the default slog logger will be used.
func LoggerOption(logger Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// SequencerOption returns an Option that sets the sequence allocator.
// Sessions talking to the same device should share one Sequencer.
func SequencerOption(seq *Sequencer) Option {
	return func(o *options) {
		o.sequencer = seq
	}
}

// MaxRetriesOption returns an Option that sets how many frames (or read
// timeouts) a session consumes while waiting for one response.
func MaxRetriesOption(n int) Option {
	return func(o *options) {
		o.maxRetries = n
	}
}

// RetryDelayOption returns an Option that sets the pause between attempts.
// Zero disables the pause.
func RetryDelayOption(d time.Duration) Option {
	return func(o *options) {
		o.retryDelay = d
	}
}

// checkOptions sets default values for unset options.
func checkOptions(opts *options) {
	if opts.codec == nil {
		opts.codec = FrameCodec{}
	}

	if opts.logger == nil {
		opts.logger = defaultLogger()
	}

	if opts.sequencer == nil {
		opts.sequencer = NewSequencer()
	}

	if opts.maxRetries <= 0 {
		opts.maxRetries = DefaultMaxRetries
	}

	if opts.retryDelay < 0 {
		opts.retryDelay = 0
	}
}
