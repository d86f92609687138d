package canopen

import "github.com/notnil/cansocket"

// NMT matches NMT command frames (COB-ID 0x000, standard IDs).
func NMT() cansocket.FrameFilter {
	return cansocket.And(cansocket.StandardOnly(), cansocket.ByID(uint32(FC_NMT)))
}

// SYNCFrames matches SYNC frames (COB-ID 0x080, standard IDs).
func SYNCFrames() cansocket.FrameFilter {
	return cansocket.And(cansocket.StandardOnly(), cansocket.ByID(uint32(FC_SYNC)))
}

// HeartbeatAny matches all heartbeat frames (0x701..0x77F).
func HeartbeatAny() cansocket.FrameFilter {
	return cansocket.And(
		cansocket.StandardOnly(),
		cansocket.And(cansocket.ByMask(uint32(FC_NMT_ERRCTRL), 0x780), cansocket.Not(cansocket.ByID(uint32(FC_NMT_ERRCTRL)))),
	)
}

// HeartbeatFrom matches heartbeats from a specific node id.
func HeartbeatFrom(node NodeID) cansocket.FrameFilter {
	return cansocket.And(cansocket.StandardOnly(), cansocket.ByID(COBID(FC_NMT_ERRCTRL, node)))
}

// KernelFilters returns the socket filters that let heartbeat, SYNC and NMT
// frames through.
func KernelFilters() []cansocket.Filter {
	return []cansocket.Filter{
		cansocket.ExactFilter(uint32(FC_NMT)),
		cansocket.ExactFilter(uint32(FC_SYNC)),
		{ID: uint32(FC_NMT_ERRCTRL), Mask: 0x780 | cansocket.FlagEFF | cansocket.FlagRTR},
	}
}
