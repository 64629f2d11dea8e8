package sequence

import "sync/atomic"

// Sequencer hands out strictly increasing sequence numbers. It is resumed
// from the highest number already persisted so restarts never reuse one.
type Sequencer struct {
	last atomic.Uint64
}

// New starts after the given value: the first Next returns start+1.
func New(start uint64) *Sequencer {
	s := &Sequencer{}
	s.last.Store(start)
	return s
}

// Next returns the next sequence number.
func (s *Sequencer) Next() uint64 {
	return s.last.Add(1)
}

// Current is the last number handed out.
func (s *Sequencer) Current() uint64 {
	return s.last.Load()
}

// Observe moves the sequencer forward to at least v. Lower values are
// ignored, so concurrent observers can never move it backwards.
func (s *Sequencer) Observe(v uint64) {
	for {
		cur := s.last.Load()
		if v <= cur || s.last.CompareAndSwap(cur, v) {
			return
		}
	}
}
