package canopen

import "fmt"

// NodeID represents a CANopen node identifier (1..127).
// Value 0 addresses all nodes in NMT commands.
type NodeID uint8

// Validate checks that the node identifier is in the range 1..127.
func (n NodeID) Validate() error {
	if n < 1 || n > 127 {
		return fmt.Errorf("canopen: invalid node id %d (valid 1..127)", n)
	}
	return nil
}

// FunctionCode enumerates the COB-ID bases used by this package.
type FunctionCode uint16

const (
	FC_NMT         FunctionCode = 0x000
	FC_SYNC        FunctionCode = 0x080
	FC_EMCY        FunctionCode = 0x080 // + node id
	FC_TIME        FunctionCode = 0x100
	FC_NMT_ERRCTRL FunctionCode = 0x700 // heartbeat / node guarding
)

// COBID composes the 11-bit CAN identifier for a function code and node id.
// The node id is ignored for NMT and TIME. SYNC shares its base with EMCY,
// so pass node 0 for SYNC.
func COBID(fc FunctionCode, node NodeID) uint32 {
	if fc == FC_NMT || fc == FC_TIME {
		return uint32(fc)
	}
	return uint32(fc) + uint32(node)
}

// ParseCOBID infers the function code and node id from an 11-bit id.
// 0x080 is reported as SYNC, 0x081..0x0FF as EMCY.
func ParseCOBID(id uint32) (FunctionCode, NodeID, error) {
	if id > 0x7FF {
		return 0, 0, fmt.Errorf("canopen: invalid 11-bit id 0x%X", id)
	}
	switch {
	case id == uint32(FC_NMT):
		return FC_NMT, 0, nil
	case id == uint32(FC_SYNC):
		return FC_SYNC, 0, nil
	case id == uint32(FC_TIME):
		return FC_TIME, 0, nil
	case id > 0x080 && id <= 0x0FF:
		return FC_EMCY, NodeID(id - 0x080), nil
	case id >= 0x700 && id <= 0x77F:
		return FC_NMT_ERRCTRL, NodeID(id - 0x700), nil
	default:
		return 0, 0, fmt.Errorf("canopen: id 0x%X not handled", id)
	}
}
