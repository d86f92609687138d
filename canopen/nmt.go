package canopen

import (
	"fmt"

	"github.com/notnil/cansocket"
)

// NMTCommand is the command specifier for NMT service.
type NMTCommand uint8

const (
	NMTStart               NMTCommand = 0x01
	NMTStop                NMTCommand = 0x02
	NMTEnterPreOperational NMTCommand = 0x80
	NMTResetNode           NMTCommand = 0x81
	NMTResetCommunication  NMTCommand = 0x82
)

// NMTState encodes the node state as used in heartbeat.
type NMTState uint8

const (
	StateBootup         NMTState = 0x00
	StateStopped        NMTState = 0x04
	StateOperational    NMTState = 0x05
	StatePreOperational NMTState = 0x7F
)

func (s NMTState) String() string {
	switch s {
	case StateBootup:
		return "bootup"
	case StateStopped:
		return "stopped"
	case StateOperational:
		return "operational"
	case StatePreOperational:
		return "pre-operational"
	default:
		return fmt.Sprintf("NMTState(0x%02X)", uint8(s))
	}
}

// Next returns the state a node enters after receiving cmd.
func (s NMTState) Next(cmd NMTCommand) NMTState {
	switch cmd {
	case NMTStart:
		return StateOperational
	case NMTStop:
		return StateStopped
	case NMTEnterPreOperational:
		return StatePreOperational
	case NMTResetNode, NMTResetCommunication:
		return StateBootup
	default:
		return s
	}
}

// BuildNMT builds an NMT command frame. node 0 means broadcast.
func BuildNMT(cmd NMTCommand, node NodeID) cansocket.Frame {
	var f cansocket.Frame
	f.ID = COBID(FC_NMT, 0)
	f.Len = 2
	f.Data[0] = byte(cmd)
	f.Data[1] = byte(node)
	return f
}

// ParseNMT decodes an NMT frame returning command and target node.
func ParseNMT(f cansocket.Frame) (NMTCommand, NodeID, error) {
	if f.Extended || f.ID != COBID(FC_NMT, 0) {
		return 0, 0, fmt.Errorf("canopen: not an NMT frame (id=0x%X)", f.ID)
	}
	if f.Len < 2 {
		return 0, 0, fmt.Errorf("canopen: NMT frame too short: %d", f.Len)
	}
	return NMTCommand(f.Data[0]), NodeID(f.Data[1]), nil
}
