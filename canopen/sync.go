package canopen

import (
	"fmt"
	"sync"
	"time"

	"github.com/notnil/cansocket"
)

// SYNC represents a CANopen SYNC message. Counter is optional (nil => length 0).
type SYNC struct {
	Counter *uint8
}

// MarshalCANFrame encodes the SYNC to a CAN frame.
func (s SYNC) MarshalCANFrame() (cansocket.Frame, error) {
	var f cansocket.Frame
	f.ID = COBID(FC_SYNC, 0)
	if s.Counter != nil {
		f.Len = 1
		f.Data[0] = *s.Counter
	}
	return f, nil
}

// UnmarshalCANFrame decodes the SYNC from a CAN frame.
func (s *SYNC) UnmarshalCANFrame(f cansocket.Frame) error {
	if f.Extended || f.ID != COBID(FC_SYNC, 0) {
		return fmt.Errorf("canopen: not a SYNC frame (id=0x%X)", f.ID)
	}
	switch f.Len {
	case 0:
		s.Counter = nil
	case 1:
		v := f.Data[0]
		s.Counter = &v
	default:
		return fmt.Errorf("canopen: SYNC length %d invalid", f.Len)
	}
	return nil
}

// SYNCProducer keeps a SYNC frame registered on a scheduler.
type SYNCProducer struct {
	sched Scheduler
	id    uint32

	once sync.Once
	err  error
}

// NewSYNCProducer registers a SYNC frame at the given period. If withCounter
// is true the frame carries one counter byte that the scheduler advances on
// every transmission. It counts 1..255 and wraps through 0, a wider range
// than the CiA 301 overflow value. Counters cannot be unregistered, so a
// counting producer should be created once per scheduler.
func NewSYNCProducer(s Scheduler, conn cansocket.Transmitter, ifIndex int, period time.Duration, withCounter bool) (*SYNCProducer, error) {
	var msg SYNC
	if withCounter {
		var zero uint8
		msg.Counter = &zero
		if err := s.EnableAutoIncrement(COBID(FC_SYNC, 0), 0); err != nil {
			return nil, fmt.Errorf("canopen: sync counter: %w", err)
		}
	}
	id, err := Schedule(s, conn, ifIndex, msg, period)
	if err != nil {
		return nil, fmt.Errorf("canopen: sync: %w", err)
	}
	return &SYNCProducer{sched: s, id: id}, nil
}

// Stop removes the SYNC frame.
func (p *SYNCProducer) Stop() error {
	p.once.Do(func() { p.err = p.sched.Remove(p.id) })
	return p.err
}
