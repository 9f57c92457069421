// Created by WINK Streaming (https://www.wink.co)
package rtp

import "sync/atomic"

// SeqTracker watches RTP sequence numbers as they arrive and counts gaps.
// It never reorders or buffers packets — the depacketizer's correctness
// still assumes in-order, non-lossy delivery within a frame. SeqTracker
// only turns that documented limitation into an observable counter for
// callers who want to know how often it is being violated.
type SeqTracker struct {
	initialized bool
	lastSeq     uint16
	cycles      uint32
	totalPkts   uint64
	totalLost   uint64
}

// Push records a newly observed sequence number and returns how many
// packets are presumed lost since the previous call (0 on the first call
// or on an in-order/duplicate arrival).
func (s *SeqTracker) Push(seq uint16) uint64 {
	if !s.initialized {
		s.lastSeq = seq
		s.initialized = true
		s.totalPkts = 1
		return 0
	}

	udelta := seq - s.lastSeq
	var lost uint64

	if udelta < 0x8000 {
		if udelta > 1 {
			lost = uint64(udelta - 1)
			s.totalLost += lost
		}
		if seq < s.lastSeq && udelta > 0 {
			s.cycles++
		}
	}
	// udelta >= 0x8000: either a large backward jump (out-of-order
	// reordering, not a gap) or a full-range wrap; neither is counted as
	// loss here — SeqTracker only exists to surface the common case.

	s.lastSeq = seq
	s.totalPkts++
	return lost
}

// Stats is a point-in-time snapshot of sequence tracking.
type Stats struct {
	Packets uint64
	Lost    uint64
	LastSeq uint16
	Cycles  uint32
}

// Stats returns the tracker's current counters.
func (s *SeqTracker) Stats() Stats {
	return Stats{
		Packets: s.totalPkts,
		Lost:    s.totalLost,
		LastSeq: s.lastSeq,
		Cycles:  s.cycles,
	}
}

// Aggregator accumulates byte/packet/loss counters across one or more
// Depacketizers, e.g. when a caller supervises several cameras through
// camerapool.Pool.
type Aggregator struct {
	packets atomic.Uint64
	lost    atomic.Uint64
	bytes   atomic.Uint64
}

// NewAggregator creates an empty Aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{}
}

// AddPackets adds n to the packet counter.
func (a *Aggregator) AddPackets(n uint64) {
	if n > 0 {
		a.packets.Add(n)
	}
}

// AddLoss adds n to the loss counter.
func (a *Aggregator) AddLoss(n uint64) {
	if n > 0 {
		a.lost.Add(n)
	}
}

// AddBytes adds n to the byte counter.
func (a *Aggregator) AddBytes(n uint64) {
	if n > 0 {
		a.bytes.Add(n)
	}
}

// Snapshot is a point-in-time read of an Aggregator.
type Snapshot struct {
	Packets uint64
	Lost    uint64
	Bytes   uint64
}

// Snapshot reads the current aggregate counters.
func (a *Aggregator) Snapshot() Snapshot {
	return Snapshot{
		Packets: a.packets.Load(),
		Lost:    a.lost.Load(),
		Bytes:   a.bytes.Load(),
	}
}

// LossRate returns the packet loss rate as a percentage.
func (s Snapshot) LossRate() float64 {
	total := s.Packets + s.Lost
	if total == 0 {
		return 0
	}
	return float64(s.Lost) * 100.0 / float64(total)
}
