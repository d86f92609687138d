package cyclic

import "sync"

// Counter is an auto-increment byte: the engine owns the value at BytePos in
// every transmitted copy of the frame with identifier ID.
type Counter struct {
	ID      uint32
	BytePos int
	Value   uint8
}

func (c Counter) valid() bool {
	return c.BytePos >= 0 && c.BytePos < MaxPayload
}

// counterRegistry is append-only. Counters with an out-of-range BytePos are
// kept but never applied.
type counterRegistry struct {
	mu       sync.Mutex
	counters []Counter
	capacity int
}

func newCounterRegistry(capacity int) *counterRegistry {
	return &counterRegistry{counters: make([]Counter, 0, capacity), capacity: capacity}
}

func (r *counterRegistry) enable(id uint32, bytePos int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.counters) >= r.capacity {
		return ErrCapacityExceeded
	}
	r.counters = append(r.counters, Counter{ID: id, BytePos: bytePos})
	return nil
}

// apply advances every counter owned by e.ID and writes the new values into
// e. Called once per entry per pass.
func (r *counterRegistry) apply(e *Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.counters {
		c := &r.counters[i]
		if c.ID != e.ID || !c.valid() {
			continue
		}
		c.Value++
		e.Data[c.BytePos] = c.Value
	}
}

// fill writes the current counter values for id into data without advancing
// them.
func (r *counterRegistry) fill(id uint32, data *[MaxPayload]byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.counters {
		if c.ID == id && c.valid() {
			data[c.BytePos] = c.Value
		}
	}
}

func (r *counterRegistry) snapshot() []Counter {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Counter(nil), r.counters...)
}
