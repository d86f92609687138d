package canopen

import (
	"fmt"
	"sync"
	"time"

	"github.com/notnil/cansocket"
)

// Heartbeat represents an NMT error control heartbeat from a node.
type Heartbeat struct {
	Node  NodeID
	State NMTState
}

// MarshalCANFrame encodes the heartbeat to a CAN frame.
func (h Heartbeat) MarshalCANFrame() (cansocket.Frame, error) {
	if err := h.Node.Validate(); err != nil {
		return cansocket.Frame{}, err
	}
	var f cansocket.Frame
	f.ID = COBID(FC_NMT_ERRCTRL, h.Node)
	f.Len = 1
	f.Data[0] = byte(h.State)
	return f, nil
}

// UnmarshalCANFrame decodes the heartbeat from a CAN frame.
func (h *Heartbeat) UnmarshalCANFrame(f cansocket.Frame) error {
	if f.Len < 1 {
		return fmt.Errorf("canopen: heartbeat too short: %d", f.Len)
	}
	fc, node, err := ParseCOBID(f.ID)
	if err != nil {
		return err
	}
	if f.Extended || fc != FC_NMT_ERRCTRL {
		return fmt.Errorf("canopen: not a heartbeat frame (id=0x%X)", f.ID)
	}
	h.Node = node
	h.State = NMTState(f.Data[0])
	return nil
}

// SubscribeHeartbeats subscribes to heartbeat frames via mux and delivers
// parsed events. If nodeFilter is non-nil, only heartbeats from that node are
// delivered. The channel is closed on cancel or when the mux closes.
func SubscribeHeartbeats(mux *cansocket.Mux, nodeFilter *NodeID, buffer int) (<-chan Heartbeat, func()) {
	filter := HeartbeatAny()
	if nodeFilter != nil {
		filter = HeartbeatFrom(*nodeFilter)
	}
	frames, cancel := mux.Subscribe(cansocket.And(filter, cansocket.LenExactly(1)), buffer)

	out := make(chan Heartbeat, buffer)
	go func() {
		defer close(out)
		for f := range frames {
			var hb Heartbeat
			if err := hb.UnmarshalCANFrame(f); err != nil {
				continue
			}
			out <- hb
		}
	}()
	return out, cancel
}

// HeartbeatProducer keeps a node heartbeat registered on a scheduler. State
// changes replace the payload in place so the frame keeps its slot.
type HeartbeatProducer struct {
	sched Scheduler
	id    uint32

	mu      sync.Mutex
	state   NMTState
	stopped bool
}

// NewHeartbeatProducer registers the heartbeat of node with the given state.
func NewHeartbeatProducer(s Scheduler, conn cansocket.Transmitter, ifIndex int, node NodeID, state NMTState, period time.Duration) (*HeartbeatProducer, error) {
	id, err := Schedule(s, conn, ifIndex, Heartbeat{Node: node, State: state}, period)
	if err != nil {
		return nil, fmt.Errorf("canopen: heartbeat node %d: %w", node, err)
	}
	return &HeartbeatProducer{sched: s, id: id, state: state}, nil
}

// ID returns the heartbeat COB-ID.
func (p *HeartbeatProducer) ID() uint32 { return p.id }

// State returns the advertised state.
func (p *HeartbeatProducer) State() NMTState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// SetState changes the advertised state from the next pass on.
func (p *HeartbeatProducer) SetState(state NMTState) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return fmt.Errorf("canopen: heartbeat 0x%X stopped", p.id)
	}
	if err := p.sched.Adopt(p.id, []byte{byte(state)}); err != nil {
		return err
	}
	p.state = state
	return nil
}

// Apply moves the advertised state according to an NMT command addressed to
// node or broadcast. It reports whether the state changed.
func (p *HeartbeatProducer) Apply(cmd NMTCommand, target NodeID) (bool, error) {
	if target != 0 && COBID(FC_NMT_ERRCTRL, target) != p.id {
		return false, nil
	}
	cur := p.State()
	next := cur.Next(cmd)
	if next == cur {
		return false, nil
	}
	return true, p.SetState(next)
}

// Stop removes the heartbeat. Further calls are no-ops.
func (p *HeartbeatProducer) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return nil
	}
	p.stopped = true
	return p.sched.Remove(p.id)
}
