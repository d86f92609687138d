package capture

import (
	"context"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"github.com/notnil/cansocket"
)

// Writer appends records to a CBOR stream.
type Writer struct {
	mu      sync.Mutex
	enc     *cbor.Encoder
	closer  io.Closer
	closed  bool
	session string
	now     func() time.Time
}

// NewWriter writes records to w with a fresh session identifier.
func NewWriter(w io.Writer) *Writer {
	c, _ := w.(io.Closer)
	return &Writer{
		enc:     encMode.NewEncoder(w),
		closer:  c,
		session: uuid.NewString(),
		now:     time.Now,
	}
}

// NewFileWriter appends records to the file at path, creating it with
// permissions 0644 if needed.
func NewFileWriter(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return NewWriter(f), nil
}

// Session returns the identifier stamped on every record of this writer.
func (w *Writer) Session() string {
	return w.session
}

// Record encodes one frame. Calls after Close are ignored.
func (w *Writer) Record(dir Direction, ifIndex int, id uint32, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	return w.enc.Encode(Record{
		Session:   w.session,
		Time:      w.now(),
		Direction: dir,
		IfIndex:   ifIndex,
		ID:        id,
		Data:      append([]byte{}, data...),
	})
}

// Close closes the underlying writer if it is an io.Closer. It is safe to
// call more than once.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	if w.closer != nil {
		return w.closer.Close()
	}
	return nil
}

// WrapBus records every frame sent or received through bus. Capture errors
// never fail the bus operation.
func WrapBus(bus cansocket.Bus, w *Writer) cansocket.Bus {
	return &recordedBus{inner: bus, w: w}
}

type recordedBus struct {
	inner cansocket.Bus
	w     *Writer
}

func (b *recordedBus) Send(ctx context.Context, f cansocket.Frame) error {
	err := b.inner.Send(ctx, f)
	if err == nil {
		_ = b.w.Record(DirectionTx, 0, f.RawID(), f.Payload())
	}
	return err
}

func (b *recordedBus) Receive(ctx context.Context) (cansocket.Frame, error) {
	f, err := b.inner.Receive(ctx)
	if err == nil {
		_ = b.w.Record(DirectionRx, 0, f.RawID(), f.Payload())
	}
	return f, err
}

func (b *recordedBus) Close() error {
	return b.inner.Close()
}

// WrapTransmitter records every frame successfully handed to t.
func WrapTransmitter(t cansocket.Transmitter, w *Writer) cansocket.Transmitter {
	return recordedTransmitter{inner: t, w: w}
}

type recordedTransmitter struct {
	inner cansocket.Transmitter
	w     *Writer
}

func (r recordedTransmitter) TransmitFrame(ctx context.Context, ifIndex int, id uint32, data []byte) error {
	err := r.inner.TransmitFrame(ctx, ifIndex, id, data)
	if err == nil {
		_ = r.w.Record(DirectionTx, ifIndex, id, data)
	}
	return err
}
