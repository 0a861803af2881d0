package rpc

import "time"

// NewSequence picks a pseudo random starting sequence so a restarted
// controller is unlikely to reuse the sequence of a response still sitting
// in the channel.
func NewSequence() uint32 {
	return NextSequence(uint32(time.Now().UnixNano()))
}

// NextSequence calculates the sequence after s. Zero is never issued.
func NextSequence(s uint32) uint32 {
	if s++; s == 0 {
		s = 1
	}
	return s
}

// abandonedHistory is the number of abandoned sequences remembered for
// diagnostics.
const abandonedHistory = 16

// Match classifies a response sequence against the tracker state.
type Match int

// Match results.
const (
	MatchUnknown Match = iota
	MatchCurrent
	MatchAbandoned
)

// Tracker is the controller side bookkeeping of one channel pair: the next
// sequence to issue, the call in flight and recently abandoned calls.
// It is not safe for concurrent use; Client serializes access.
type Tracker struct {
	last      uint32
	current   uint32
	inflight  bool
	abandoned [abandonedHistory]uint32
	next      int
}

// NewTracker creates a tracker whose first issued sequence follows start.
func NewTracker(start uint32) *Tracker {
	return &Tracker{last: start}
}

// Begin issues the sequence for a new call.
func (t *Tracker) Begin() uint32 {
	t.last = NextSequence(t.last)
	t.current, t.inflight = t.last, true
	return t.current
}

// Outstanding returns the sequence of the call in flight.
func (t *Tracker) Outstanding() (uint32, bool) {
	return t.current, t.inflight
}

// Match classifies a received response sequence.
func (t *Tracker) Match(seq uint32) Match {
	if t.inflight && seq == t.current {
		return MatchCurrent
	}
	for _, s := range t.abandoned {
		if s != 0 && s == seq {
			return MatchAbandoned
		}
	}
	return MatchUnknown
}

// Complete ends the call in flight.
func (t *Tracker) Complete() {
	t.inflight = false
}

// Abandon ends the call in flight and remembers its sequence.
func (t *Tracker) Abandon() {
	if !t.inflight {
		return
	}
	t.abandoned[t.next] = t.current
	t.next = (t.next + 1) % abandonedHistory
	t.inflight = false
}
