package cyclic

import (
	"sync"
	"time"

	"github.com/notnil/cansocket"
)

// Entry is a frame registered for cyclic transmission.
type Entry struct {
	Conn    cansocket.Transmitter
	IfIndex int
	ID      uint32 // raw identifier, flags included
	Len     uint8
	Data    [MaxPayload]byte
	Period  time.Duration // as passed to Add; see Engine.Period
}

// Payload returns the used portion of Data.
func (e Entry) Payload() []byte {
	return e.Data[:e.Len]
}

type slot struct {
	used  bool
	entry Entry
}

// frameRegistry is a fixed-size slot table. Free slots are reused by later
// adds, so iteration order is slot order rather than strict insertion order.
type frameRegistry struct {
	mu      sync.Mutex
	slots   []slot
	latched bool
	period  time.Duration
}

func newFrameRegistry(capacity int, period time.Duration) *frameRegistry {
	return &frameRegistry{slots: make([]slot, capacity), period: period}
}

// add stores e in the first free slot. first reports whether this call
// latched the cycle period.
func (r *frameRegistry) add(e Entry) (first bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	free := -1
	for i := range r.slots {
		if !r.slots[i].used {
			if free < 0 {
				free = i
			}
			continue
		}
		if r.slots[i].entry.ID == e.ID {
			return false, ErrDuplicateID
		}
	}
	if free < 0 {
		return false, ErrCapacityExceeded
	}
	r.slots[free] = slot{used: true, entry: e}
	if !r.latched {
		r.latched = true
		r.period = e.Period
		first = true
	}
	return first, nil
}

func (r *frameRegistry) remove(id uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.slots {
		if r.slots[i].used && r.slots[i].entry.ID == id {
			r.slots[i] = slot{}
			return nil
		}
	}
	return ErrNotFound
}

func (r *frameRegistry) removeAll() {
	r.mu.Lock()
	clear(r.slots)
	r.mu.Unlock()
}

// adopt replaces the payload of the entry with the given id.
func (r *frameRegistry) adopt(id uint32, n uint8, data [MaxPayload]byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.slots {
		if r.slots[i].used && r.slots[i].entry.ID == id {
			r.slots[i].entry.Len = n
			r.slots[i].entry.Data = data
			return nil
		}
	}
	return ErrNotFound
}

// snapshot appends copies of the active entries to dst in slot order.
func (r *frameRegistry) snapshot(dst []Entry) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.slots {
		if r.slots[i].used {
			dst = append(dst, r.slots[i].entry)
		}
	}
	return dst
}

func (r *frameRegistry) cyclePeriod() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.period
}
