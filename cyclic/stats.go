package cyclic

import "sync/atomic"

// Stats is a point-in-time view of the engine counters.
type Stats struct {
	TransmitErrors uint64 // failed transmits since start, partial writes included
	FramesLastPass int    // frames handed to transmitters in the last completed pass
	Passes         uint64
	FramesSent     uint64
}

// stats is written by the scheduler goroutine only.
type stats struct {
	errors   atomic.Uint64
	lastPass atomic.Int64
	passes   atomic.Uint64
	sent     atomic.Uint64
}

func (s *stats) recordTransmitError() {
	s.errors.Add(1)
}

func (s *stats) recordPass(n int) {
	s.lastPass.Store(int64(n))
	s.sent.Add(uint64(n))
	s.passes.Add(1)
}

func (s *stats) snapshot() Stats {
	return Stats{
		TransmitErrors: s.errors.Load(),
		FramesLastPass: int(s.lastPass.Load()),
		Passes:         s.passes.Load(),
		FramesSent:     s.sent.Load(),
	}
}
