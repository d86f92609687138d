package cansocket

import (
	"context"
	"slices"
	"sync"
)

// loopbackDepth is the number of frames a port buffers before Send blocks.
const loopbackDepth = 64

// LoopbackBus is an in-memory CAN segment. Every frame sent on one of its
// ports is delivered to all the other ports, in send order per sender.
type LoopbackBus struct {
	mu    sync.Mutex
	ports []*loopPort
	done  chan struct{}
	once  sync.Once
}

// NewLoopbackBus returns an empty segment.
func NewLoopbackBus() *LoopbackBus {
	return &LoopbackBus{done: make(chan struct{})}
}

// Open attaches a new port. A port opened after Close is already closed.
func (b *LoopbackBus) Open() Bus {
	p := &loopPort{
		bus:  b,
		rx:   make(chan Frame, loopbackDepth),
		done: make(chan struct{}),
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.isClosed() {
		p.shutdown()
		return p
	}
	b.ports = append(b.ports, p)
	return p
}

// Close closes every port and rejects further traffic.
func (b *LoopbackBus) Close() error {
	b.once.Do(func() {
		b.mu.Lock()
		ports := b.ports
		b.ports = nil
		close(b.done)
		b.mu.Unlock()
		for _, p := range ports {
			p.shutdown()
		}
	})
	return nil
}

func (b *LoopbackBus) isClosed() bool {
	select {
	case <-b.done:
		return true
	default:
		return false
	}
}

// peers returns the attached ports other than from.
func (b *LoopbackBus) peers(from *loopPort) ([]*loopPort, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.isClosed() {
		return nil, ErrClosed
	}
	out := make([]*loopPort, 0, len(b.ports))
	for _, p := range b.ports {
		if p != from {
			out = append(out, p)
		}
	}
	return out, nil
}

// deliver queues frame on every peer of from. A peer closing mid-delivery is
// skipped; a full peer blocks until it drains or ctx ends.
func (b *LoopbackBus) deliver(ctx context.Context, from *loopPort, frame Frame) error {
	peers, err := b.peers(from)
	if err != nil {
		return err
	}
	for _, p := range peers {
		select {
		case p.rx <- frame:
		case <-p.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (b *LoopbackBus) detach(p *loopPort) {
	b.mu.Lock()
	b.ports = slices.DeleteFunc(b.ports, func(q *loopPort) bool { return q == p })
	b.mu.Unlock()
}

// loopPort is one attachment to a LoopbackBus. rx is never closed; done
// signals shutdown to senders and receivers alike.
type loopPort struct {
	bus  *LoopbackBus
	rx   chan Frame
	done chan struct{}
	once sync.Once
}

func (p *loopPort) shutdown() {
	p.once.Do(func() { close(p.done) })
}

func (p *loopPort) closed() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Send validates frame and hands it to every other port on the bus.
func (p *loopPort) Send(ctx context.Context, frame Frame) error {
	if err := frame.Validate(); err != nil {
		return err
	}
	if p.closed() {
		return ErrClosed
	}
	return p.bus.deliver(ctx, p, frame)
}

// Receive returns the next queued frame. Frames still queued when the port
// closes are discarded.
func (p *loopPort) Receive(ctx context.Context) (Frame, error) {
	if p.closed() {
		return Frame{}, ErrClosed
	}
	select {
	case f := <-p.rx:
		return f, nil
	case <-p.done:
		return Frame{}, ErrClosed
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}

// Close detaches the port and wakes any pending Receive.
func (p *loopPort) Close() error {
	p.shutdown()
	p.bus.detach(p)
	return nil
}
