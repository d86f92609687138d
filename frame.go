package cansocket

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

// Frame represents a classical CAN (2.0A/2.0B) frame.
//
// Supported features:
//   - Standard (11-bit) and Extended (29-bit) identifiers
//   - Data frames and Remote Transmission Request (RTR)
//   - Data length 0-8 bytes (classical CAN)
//
// Not implemented: CAN FD specific fields.
type Frame struct {
	ID       uint32 // 11-bit (std) or 29-bit (ext)
	Extended bool   // true for 29-bit identifier
	RTR      bool   // remote transmission request
	Len      uint8  // 0..8
	Data     [8]byte
}

// Validation limits.
const (
	maxStdID = 0x7FF
	maxExtID = 0x1FFFFFFF

	// MaxDataLen is the payload size of a classical CAN frame.
	MaxDataLen = 8
)

// Flag bits carried in the raw 32-bit identifier (struct can_frame can_id).
const (
	FlagEFF uint32 = 0x80000000
	FlagRTR uint32 = 0x40000000
	FlagERR uint32 = 0x20000000

	MaskSFF uint32 = 0x000007FF
	MaskEFF uint32 = 0x1FFFFFFF
)

// Classical and FD frame sizes as seen by the kernel.
const (
	CANMTU   = 16
	CANFDMTU = 72
)

var (
	ErrInvalidID  = errors.New("cansocket: invalid identifier")
	ErrInvalidLen = errors.New("cansocket: invalid data length")
)

// Validate returns an error if the frame is not valid.
func (f Frame) Validate() error {
	if f.Len > MaxDataLen {
		return ErrInvalidLen
	}
	if f.Extended {
		if f.ID > maxExtID {
			return ErrInvalidID
		}
	} else {
		if f.ID > maxStdID {
			return ErrInvalidID
		}
	}
	return nil
}

// MustFrame constructs a Frame and panics if invalid. Convenience for examples.
func MustFrame(id uint32, data []byte) Frame {
	var f Frame
	f.ID = id
	if id > maxStdID {
		f.Extended = true
	}
	if len(data) > MaxDataLen {
		panic(ErrInvalidLen)
	}
	f.Len = uint8(len(data))
	copy(f.Data[:], data)
	if err := f.Validate(); err != nil {
		panic(err)
	}
	return f
}

// Payload returns the used portion of Data.
func (f Frame) Payload() []byte {
	n := f.Len
	if n > MaxDataLen {
		n = MaxDataLen
	}
	return f.Data[:n]
}

// RawID returns the identifier with the EFF and RTR flag bits applied, as
// expected by the kernel in struct can_frame.
func (f Frame) RawID() uint32 {
	id := f.ID
	if f.Extended {
		id |= FlagEFF
	}
	if f.RTR {
		id |= FlagRTR
	}
	return id
}

// FrameFromRaw builds a Frame from a raw flag-carrying identifier and payload.
// Error frames (FlagERR) are rejected.
func FrameFromRaw(raw uint32, data []byte) (Frame, error) {
	if IsError(raw) {
		return Frame{}, fmt.Errorf("%w: error frame 0x%08X", ErrInvalidID, raw)
	}
	if len(data) > MaxDataLen {
		return Frame{}, ErrInvalidLen
	}
	var f Frame
	f.Extended = IsExtended(raw)
	f.RTR = IsRTR(raw)
	if f.Extended {
		f.ID = EFF(raw)
	} else {
		f.ID = SFF(raw)
	}
	f.Len = uint8(len(data))
	copy(f.Data[:], data)
	return f, f.Validate()
}

// IsExtended reports whether the raw identifier carries the EFF flag.
func IsExtended(raw uint32) bool { return raw&FlagEFF != 0 }

// IsRTR reports whether the raw identifier carries the RTR flag.
func IsRTR(raw uint32) bool { return raw&FlagRTR != 0 }

// IsError reports whether the raw identifier carries the ERR flag.
func IsError(raw uint32) bool { return raw&FlagERR != 0 }

// SFF masks the raw identifier down to an 11-bit standard identifier.
func SFF(raw uint32) uint32 { return raw & MaskSFF }

// EFF masks the raw identifier down to a 29-bit extended identifier.
func EFF(raw uint32) uint32 { return raw & MaskEFF }

// String formats the frame like candump: "123 [2] DE AD".
func (f Frame) String() string {
	var b strings.Builder
	if f.Extended {
		fmt.Fprintf(&b, "%08X", f.ID)
	} else {
		fmt.Fprintf(&b, "%03X", f.ID)
	}
	fmt.Fprintf(&b, " [%d]", f.Len)
	if f.RTR {
		b.WriteString(" RTR")
		return b.String()
	}
	for _, c := range f.Payload() {
		fmt.Fprintf(&b, " %02X", c)
	}
	return b.String()
}

// MarshalBinary encodes the frame to the Linux SocketCAN "struct can_frame" layout
// (16 bytes) for classical CAN. It intentionally does not include timestamping.
//
// Layout (little-endian):
//
//	0..3  can_id (with flags: EFF/RTR/ERR)
//	4     can_dlc (data length code)
//	5..7  padding (set to zero)
//	8..15 data bytes
func (f Frame) MarshalBinary() ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	buf := make([]byte, CANMTU)
	putRaw(buf, f.RawID(), f.Payload())
	return buf, nil
}

// UnmarshalBinary decodes a frame from the Linux SocketCAN can_frame layout.
func (f *Frame) UnmarshalBinary(data []byte) error {
	if len(data) < CANMTU {
		return fmt.Errorf("cansocket: need %d bytes, got %d", CANMTU, len(data))
	}
	id := binary.LittleEndian.Uint32(data[0:4])
	f.Extended = IsExtended(id)
	f.RTR = IsRTR(id)
	if f.Extended {
		f.ID = EFF(id)
	} else {
		f.ID = SFF(id)
	}
	f.Len = data[4]
	copy(f.Data[:], data[8:16])
	return f.Validate()
}

// putRaw writes a can_frame with an opaque raw identifier into buf.
func putRaw(buf []byte, raw uint32, data []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], raw)
	buf[4] = uint8(len(data))
	buf[5], buf[6], buf[7] = 0, 0, 0
	n := copy(buf[8:16], data)
	clear(buf[8+n : 16])
}
