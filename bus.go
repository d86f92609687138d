package cansocket

import (
	"context"
	"errors"
)

// Bus represents a CAN bus connection which can send and receive CAN frames.
// Implementations should be safe for concurrent use by multiple goroutines.
type Bus interface {
	// Send transmits a frame. It may block until the frame is queued or sent.
	// Context cancellation should abort the operation and return the context error.
	Send(ctx context.Context, frame Frame) error

	// Receive retrieves the next available frame. It should block until a frame
	// is available or the context is cancelled.
	Receive(ctx context.Context) (Frame, error)

	// Close releases resources. Further Send/Receive may return an error.
	Close() error
}

// Transmitter sends one frame on an already bound connection. The identifier
// is the raw 32-bit value including the EFF/RTR/ERR flag bits, and data holds
// 0..8 payload bytes. Implementations must be safe for concurrent use.
type Transmitter interface {
	TransmitFrame(ctx context.Context, ifIndex int, id uint32, data []byte) error
}

var (
	// ErrClosed indicates the bus or endpoint has been closed.
	ErrClosed = errors.New("cansocket: closed")

	// ErrShortWrite is returned when the kernel accepted only part of a frame.
	ErrShortWrite = errors.New("cansocket: short write")

	// ErrShortRead is returned when a read did not yield a complete frame.
	ErrShortRead = errors.New("cansocket: short read")
)

// BusTransmitter adapts a Bus to the Transmitter interface. The interface
// index is ignored since a Bus is already bound to one interface. Error frames
// cannot be represented by Frame and are rejected with ErrInvalidID.
func BusTransmitter(bus Bus) Transmitter {
	return busTransmitter{bus: bus}
}

type busTransmitter struct {
	bus Bus
}

func (t busTransmitter) TransmitFrame(ctx context.Context, _ int, id uint32, data []byte) error {
	f, err := FrameFromRaw(id, data)
	if err != nil {
		return err
	}
	return t.bus.Send(ctx, f)
}
