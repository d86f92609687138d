package cyclic

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/notnil/cansocket"
)

// Engine defaults.
const (
	// DefaultCapacity is the number of slots in each table.
	DefaultCapacity = 90

	// MaxPayload is the payload size of a classical CAN frame.
	MaxPayload = cansocket.MaxDataLen

	// DefaultInterFrameGap is the assumed spacing between frames on the bus.
	DefaultInterFrameGap = 1100 * time.Microsecond

	// DefaultCyclePeriod paces the engine until the first Add latches a period.
	DefaultCyclePeriod = 100 * time.Millisecond
)

var (
	// ErrDuplicateID is returned by Add when the identifier is already active.
	ErrDuplicateID = errors.New("cyclic: identifier already registered")

	// ErrNotFound is returned by Remove and Adopt for unknown identifiers.
	ErrNotFound = errors.New("cyclic: identifier not registered")

	// ErrCapacityExceeded is returned when the frame or counter table is full.
	ErrCapacityExceeded = errors.New("cyclic: capacity exceeded")

	// ErrPayloadTooLong is returned for payloads over MaxPayload bytes.
	ErrPayloadTooLong = errors.New("cyclic: payload longer than 8 bytes")

	// ErrInvalidPeriod is returned by Add for a zero or negative period.
	ErrInvalidPeriod = errors.New("cyclic: period must be positive")

	// ErrNilTransmitter is returned by Add without a transmitter.
	ErrNilTransmitter = errors.New("cyclic: nil transmitter")

	// ErrClosed is returned by Add and Start after Close.
	ErrClosed = errors.New("cyclic: engine closed")
)

// State is the lifecycle state of an Engine.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateStopped
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Option configures an Engine.
type Option func(*Engine)

// WithCapacity sets the size of the frame and counter tables.
func WithCapacity(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.capacity = n
		}
	}
}

// WithInterFrameGap sets the per-frame budget used for pacing.
func WithInterFrameGap(d time.Duration) Option {
	return func(e *Engine) {
		if d >= 0 {
			e.gap = d
		}
	}
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// Engine retransmits registered frames until closed. All methods are safe for
// concurrent use.
type Engine struct {
	frames   *frameRegistry
	counters *counterRegistry
	stats    stats

	capacity int
	gap      time.Duration
	log      zerolog.Logger
	sleep    func(context.Context, time.Duration) error
	wake     chan struct{}

	lifeMu sync.Mutex
	state  atomic.Int32
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates an idle engine. The scheduler starts on the first successful
// Add or an explicit Start.
func New(opts ...Option) *Engine {
	e := &Engine{
		capacity: DefaultCapacity,
		gap:      DefaultInterFrameGap,
		log:      zerolog.Nop(),
		wake:     make(chan struct{}, 1),
	}
	e.sleep = e.sleepContext
	for _, opt := range opts {
		opt(e)
	}
	e.frames = newFrameRegistry(e.capacity, DefaultCyclePeriod)
	e.counters = newCounterRegistry(e.capacity)
	return e
}

// Add registers a frame for cyclic transmission and starts the scheduler if
// it is not running yet. The first successful Add latches the cycle period
// for the whole engine.
func (e *Engine) Add(conn cansocket.Transmitter, ifIndex int, id uint32, data []byte, period time.Duration) error {
	e.lifeMu.Lock()
	defer e.lifeMu.Unlock()
	if e.State() == StateStopped {
		return ErrClosed
	}
	switch {
	case conn == nil:
		return ErrNilTransmitter
	case len(data) > MaxPayload:
		return ErrPayloadTooLong
	case period <= 0:
		return ErrInvalidPeriod
	}
	entry := Entry{Conn: conn, IfIndex: ifIndex, ID: id, Len: uint8(len(data)), Period: period}
	copy(entry.Data[:], data)

	first, err := e.frames.add(entry)
	if err != nil {
		return fmt.Errorf("add 0x%X: %w", id, err)
	}
	if first {
		e.log.Info().Dur("period", period).Uint32("id", id).Msg("cyclic period latched")
	} else if period != e.Period() {
		e.log.Debug().Dur("period", period).Dur("latched", e.Period()).Uint32("id", id).
			Msg("cyclic frame period ignored")
	}
	if e.State() == StateRunning {
		if first {
			// The scheduler may be sleeping out DefaultCyclePeriod.
			e.signalWake()
		}
		return nil
	}
	return e.startLocked(context.Background())
}

// Remove stops transmitting the frame with the given identifier. Its slot
// becomes free for a later Add. Counters for the identifier are kept.
func (e *Engine) Remove(id uint32) error {
	if err := e.frames.remove(id); err != nil {
		return fmt.Errorf("remove 0x%X: %w", id, err)
	}
	return nil
}

// RemoveAll clears every frame. Counters and the latched period are kept.
func (e *Engine) RemoveAll() error {
	e.frames.removeAll()
	return nil
}

// Adopt replaces the payload of a registered frame. Bytes at auto-increment
// positions are placeholders: they are replaced by the counters' current
// values before the payload is stored.
func (e *Engine) Adopt(id uint32, data []byte) error {
	if len(data) > MaxPayload {
		return ErrPayloadTooLong
	}
	var buf [MaxPayload]byte
	copy(buf[:], data)
	e.counters.fill(id, &buf)
	if err := e.frames.adopt(id, uint8(len(data)), buf); err != nil {
		return fmt.Errorf("adopt 0x%X: %w", id, err)
	}
	return nil
}

// EnableAutoIncrement registers a counter at bytePos of the frame with the
// given identifier. The frame need not exist yet. Positions outside 0..7 are
// accepted but never applied. Counters cannot be removed.
func (e *Engine) EnableAutoIncrement(id uint32, bytePos int) error {
	if err := e.counters.enable(id, bytePos); err != nil {
		return fmt.Errorf("auto-increment 0x%X[%d]: %w", id, bytePos, err)
	}
	if bytePos < 0 || bytePos >= MaxPayload {
		e.log.Warn().Uint32("id", id).Int("byte", bytePos).Msg("auto-increment position out of range, counter is inert")
	}
	return nil
}

// ErrorCount returns the number of failed cyclic transmits.
func (e *Engine) ErrorCount() uint64 {
	return e.stats.errors.Load()
}

// FramesSentLastPass returns the number of frames sent in the last completed
// pass.
func (e *Engine) FramesSentLastPass() int {
	return int(e.stats.lastPass.Load())
}

// Stats returns all engine counters.
func (e *Engine) Stats() Stats {
	return e.stats.snapshot()
}

// Frames returns the active entries in transmission order.
func (e *Engine) Frames() []Entry {
	return e.frames.snapshot(nil)
}

// Counters returns the registered auto-increment counters.
func (e *Engine) Counters() []Counter {
	return e.counters.snapshot()
}

// Period returns the cycle period currently used for pacing.
func (e *Engine) Period() time.Duration {
	return e.frames.cyclePeriod()
}

// State returns the lifecycle state.
func (e *Engine) State() State {
	return State(e.state.Load())
}

// Start launches the scheduler. It returns nil if the scheduler is already
// running and ErrClosed after Close. Cancelling ctx stops the engine.
func (e *Engine) Start(ctx context.Context) error {
	e.lifeMu.Lock()
	defer e.lifeMu.Unlock()
	return e.startLocked(ctx)
}

func (e *Engine) startLocked(ctx context.Context) error {
	switch e.State() {
	case StateRunning:
		return nil
	case StateStopped:
		return ErrClosed
	}
	ctx, e.cancel = context.WithCancel(ctx)
	e.done = make(chan struct{})
	e.state.Store(int32(StateRunning))
	go e.run(ctx, e.done)
	e.log.Info().Dur("period", e.Period()).Int("capacity", e.capacity).Msg("cyclic engine started")
	return nil
}

// Close stops the scheduler and waits for the current pass to finish. It is
// safe to call more than once. A closed engine cannot be restarted.
func (e *Engine) Close() error {
	e.lifeMu.Lock()
	e.state.Store(int32(StateStopped))
	cancel, done := e.cancel, e.done
	e.cancel = nil
	e.lifeMu.Unlock()
	if cancel != nil {
		cancel()
		<-done
		e.log.Info().Uint64("errors", e.ErrorCount()).Msg("cyclic engine stopped")
	}
	return nil
}

func (e *Engine) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer e.state.Store(int32(StateStopped))
	var buf []Entry
	for {
		if ctx.Err() != nil {
			return
		}
		var wait time.Duration
		buf, wait = e.step(ctx, buf[:0])
		if wait == 0 {
			continue
		}
		if err := e.sleep(ctx, wait); err != nil {
			return
		}
	}
}

// step runs one pass and returns the time to wait before the next one. A
// pass cut short by cancellation is not recorded.
func (e *Engine) step(ctx context.Context, buf []Entry) ([]Entry, time.Duration) {
	buf = e.frames.snapshot(buf)
	sent := e.pass(ctx, buf)
	if ctx.Err() != nil {
		return buf, 0
	}
	e.stats.recordPass(sent)
	return buf, pacing(sent, e.Period(), e.gap)
}

// pass transmits each snapshot entry once with its counters applied. Failures
// are counted and never abort the pass.
func (e *Engine) pass(ctx context.Context, entries []Entry) int {
	sent := 0
	for i := range entries {
		f := &entries[i]
		e.counters.apply(f)
		if err := f.Conn.TransmitFrame(ctx, f.IfIndex, f.ID, f.Payload()); err != nil {
			if ctx.Err() != nil {
				return sent
			}
			e.stats.recordTransmitError()
			e.log.Debug().Err(err).Uint32("id", f.ID).Int("ifindex", f.IfIndex).Msg("cyclic transmit failed")
		}
		sent++
	}
	return sent
}

func (e *Engine) signalWake() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// sleepContext waits for d, cancellation or a wake-up from Add.
func (e *Engine) sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	case <-e.wake:
		return nil
	}
}
