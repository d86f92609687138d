package canopen

import (
	"time"

	"github.com/notnil/cansocket"
	"github.com/notnil/cansocket/cyclic"
)

// FrameMarshaler encodes a typed CANopen entity into a CAN frame.
type FrameMarshaler interface {
	MarshalCANFrame() (cansocket.Frame, error)
}

// FrameUnmarshaler decodes a typed CANopen entity from a CAN frame.
type FrameUnmarshaler interface {
	UnmarshalCANFrame(cansocket.Frame) error
}

// FrameCodec combines marshaling and unmarshaling of CAN frames.
type FrameCodec interface {
	FrameMarshaler
	FrameUnmarshaler
}

// Scheduler is the part of cyclic.Engine the producers use.
type Scheduler interface {
	Add(conn cansocket.Transmitter, ifIndex int, id uint32, data []byte, period time.Duration) error
	Adopt(id uint32, data []byte) error
	Remove(id uint32) error
	EnableAutoIncrement(id uint32, bytePos int) error
}

var _ Scheduler = (*cyclic.Engine)(nil)

// Schedule registers the encoded form of m for cyclic transmission and
// returns its identifier.
func Schedule(s Scheduler, conn cansocket.Transmitter, ifIndex int, m FrameMarshaler, period time.Duration) (uint32, error) {
	f, err := m.MarshalCANFrame()
	if err != nil {
		return 0, err
	}
	if err := s.Add(conn, ifIndex, f.ID, f.Payload(), period); err != nil {
		return 0, err
	}
	return f.ID, nil
}
