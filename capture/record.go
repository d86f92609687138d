package capture

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/notnil/cansocket"
)

// Direction tells whether a frame was sent or received.
type Direction uint8

const (
	DirectionTx Direction = iota
	DirectionRx
)

// String returns "tx" or "rx".
func (d Direction) String() string {
	switch d {
	case DirectionTx:
		return "tx"
	case DirectionRx:
		return "rx"
	default:
		return "unknown"
	}
}

// Record is one captured frame. Integer keys keep the encoding compact.
type Record struct {
	Session   string    `cbor:"1,keyasint"`
	Time      time.Time `cbor:"2,keyasint"`
	Direction Direction `cbor:"3,keyasint"`
	IfIndex   int       `cbor:"4,keyasint,omitempty"`
	ID        uint32    `cbor:"5,keyasint"` // raw identifier, flags included
	Data      []byte    `cbor:"6,keyasint"`
}

// Frame converts the record back into a Frame.
func (r Record) Frame() (cansocket.Frame, error) {
	return cansocket.FrameFromRaw(r.ID, r.Data)
}

// String formats the record like a candump log line.
func (r Record) String() string {
	f, err := r.Frame()
	if err != nil {
		return fmt.Sprintf("%s %s %08X [%d] %X", r.Time.Format(time.RFC3339Nano), r.Direction, r.ID, len(r.Data), r.Data)
	}
	return fmt.Sprintf("%s %s %s", r.Time.Format(time.RFC3339Nano), r.Direction, f)
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.EncOptions{
		Sort:        cbor.SortCanonical,
		IndefLength: cbor.IndefLengthForbidden,
		Time:        cbor.TimeRFC3339Nano,
	}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("capture: cbor encoder mode: %v", err))
	}
	decMode, err = cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyQuiet,
		IndefLength: cbor.IndefLengthAllowed,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("capture: cbor decoder mode: %v", err))
	}
}
