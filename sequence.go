package genvex

import "sync/atomic"

// Sequencer hands out correlation sequence numbers. They run 0..255 and wrap.
// A Sequencer is safe for concurrent use and may be shared by several sessions.
// The zero value starts at 0.
type Sequencer struct {
	c atomic.Uint32
}

// NewSequencer returns a Sequencer starting at 0.
func NewSequencer() *Sequencer {
	return &Sequencer{}
}

// Next returns the current value and advances the counter by one, wrapping
// after 255.
func (s *Sequencer) Next() uint8 {
	for {
		cur := s.c.Load()
		if s.c.CompareAndSwap(cur, (cur+1)%256) {
			return uint8(cur)
		}
	}
}

// Reset sets the counter back to 0.
func (s *Sequencer) Reset() {
	s.c.Store(0)
}

// Current returns the value the next call to Next will return.
func (s *Sequencer) Current() uint8 {
	return uint8(s.c.Load())
}
