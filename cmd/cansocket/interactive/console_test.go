package interactive

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notnil/cansocket"
	"github.com/notnil/cansocket/cyclic"
)

type sent struct {
	ifIndex int
	id      uint32
	data    []byte
}

type recorder struct {
	mu     sync.Mutex
	frames []sent
}

func (r *recorder) TransmitFrame(_ context.Context, ifIndex int, id uint32, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, sent{ifIndex: ifIndex, id: id, data: append([]byte(nil), data...)})
	return nil
}

func (r *recorder) last() sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames[len(r.frames)-1]
}

func newConsole(t *testing.T) (*Console, *cyclic.Engine, *recorder, *bytes.Buffer) {
	t.Helper()
	e := cyclic.New()
	t.Cleanup(func() { _ = e.Close() })
	rec := &recorder{}
	var out bytes.Buffer
	return New(e, rec, 2, time.Hour, &out), e, rec, &out
}

func TestConsoleAddListRemove(t *testing.T) {
	c, e, _, out := newConsole(t)
	ctx := context.Background()

	assert.False(t, c.Exec(ctx, "add 0x123 0102"))
	assert.Contains(t, out.String(), "added 0x123 every 1h0m0s")

	assert.False(t, c.Exec(ctx, "add 18FF50E5 AA 10"))
	frames := e.Frames()
	require.Len(t, frames, 2)
	assert.Equal(t, uint32(0x123), frames[0].ID)
	assert.Equal(t, 2, frames[0].IfIndex)
	assert.Equal(t, 0x18FF50E5|cansocket.FlagEFF, frames[1].ID)
	assert.Equal(t, time.Hour, e.Period(), "first add latches the period")

	out.Reset()
	c.Exec(ctx, "list")
	assert.Contains(t, out.String(), "0x123")
	assert.Contains(t, out.String(), "01 02")
	assert.Contains(t, out.String(), "0x18FF50E5")

	out.Reset()
	c.Exec(ctx, "remove 123")
	assert.Contains(t, out.String(), "removed 0x123")
	require.Len(t, e.Frames(), 1)

	out.Reset()
	c.Exec(ctx, "remove 123")
	assert.Contains(t, out.String(), "error:")
	assert.Contains(t, out.String(), cyclic.ErrNotFound.Error())

	c.Exec(ctx, "clear")
	assert.Empty(t, e.Frames())
}

func TestConsoleAdoptAndAutoInc(t *testing.T) {
	c, e, _, out := newConsole(t)
	ctx := context.Background()

	c.Exec(ctx, "autoinc 0x200 1")
	c.Exec(ctx, "add 0x200 0000")
	c.Exec(ctx, "adopt 0x200 FF00")
	frames := e.Frames()
	require.Len(t, frames, 1)
	assert.Equal(t, byte(0xFF), frames[0].Data[0])

	out.Reset()
	c.Exec(ctx, "list")
	assert.Contains(t, out.String(), "counter 0x200 byte 1")

	out.Reset()
	c.Exec(ctx, "autoinc 0x200 x")
	assert.Contains(t, out.String(), "invalid byte position")
}

func TestConsoleSend(t *testing.T) {
	c, _, rec, out := newConsole(t)
	ctx := context.Background()

	c.Exec(ctx, "send 7FF DEADBEEF")
	assert.Contains(t, out.String(), "sent 0x7FF")
	got := rec.last()
	assert.Equal(t, sent{ifIndex: 2, id: 0x7FF, data: []byte{0xDE, 0xAD, 0xBE, 0xEF}}, got)

	out.Reset()
	c.Exec(ctx, "send 0x100 001122334455667788")
	assert.Contains(t, out.String(), "error:")
}

func TestConsoleMisc(t *testing.T) {
	c, _, _, out := newConsole(t)
	ctx := context.Background()

	assert.False(t, c.Exec(ctx, "   "))
	assert.False(t, c.Exec(ctx, "bogus"))
	assert.Contains(t, out.String(), "Unknown command: bogus")

	out.Reset()
	c.Exec(ctx, "list")
	assert.Contains(t, out.String(), "no frames registered")

	out.Reset()
	c.Exec(ctx, "stats")
	assert.Contains(t, out.String(), "state:            idle")

	out.Reset()
	c.Exec(ctx, "help")
	assert.Contains(t, out.String(), "autoinc <id> <byte>")

	assert.True(t, c.Exec(ctx, "EXIT"))
}

type scriptedReader struct {
	lines  chan string
	closed chan struct{}
	once   sync.Once
}

func newScriptedReader(lines ...string) *scriptedReader {
	r := &scriptedReader{lines: make(chan string, len(lines)), closed: make(chan struct{})}
	for _, l := range lines {
		r.lines <- l
	}
	return r
}

func (r *scriptedReader) Readline() (string, error) {
	select {
	case l := <-r.lines:
		return l, nil
	case <-r.closed:
		return "", io.EOF
	}
}

func (r *scriptedReader) Close() error {
	r.once.Do(func() { close(r.closed) })
	return nil
}

func TestConsoleLoopStopsOnCancel(t *testing.T) {
	c, _, _, _ := newConsole(t)
	ctx, cancel := context.WithCancel(context.Background())
	r := newScriptedReader()

	errc := make(chan error, 1)
	go func() { errc <- c.loop(ctx, func() {}, r) }()

	cancel()
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("loop still blocked in Readline after cancel")
	}
	select {
	case <-r.closed:
	default:
		t.Fatal("reader not closed")
	}
}

func TestConsoleLoopExitCommand(t *testing.T) {
	c, e, _, out := newConsole(t)
	r := newScriptedReader("add 0x321 01", "exit")
	var cancelled bool

	require.NoError(t, c.loop(context.Background(), func() { cancelled = true }, r))
	assert.True(t, cancelled)
	assert.Len(t, e.Frames(), 1)
	assert.Contains(t, out.String(), "Exiting...")
	assert.Eventually(t, func() bool {
		select {
		case <-r.closed:
			return true
		default:
			return false
		}
	}, time.Second, time.Millisecond)
}
