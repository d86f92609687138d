package capture

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notnil/cansocket"
)

func TestWriterReaderStream(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	at := time.Date(2024, 5, 1, 12, 0, 0, 123456789, time.UTC)
	w.now = func() time.Time { return at }

	require.NoError(t, w.Record(DirectionTx, 3, 0x123, []byte{1, 2}))
	require.NoError(t, w.Record(DirectionRx, 0, 0x1ABCDEFF|cansocket.FlagEFF, nil))

	recs, err := NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, recs, 2)

	assert.Equal(t, w.Session(), recs[0].Session)
	assert.True(t, at.Equal(recs[0].Time))
	assert.Equal(t, DirectionTx, recs[0].Direction)
	assert.Equal(t, 3, recs[0].IfIndex)
	assert.Equal(t, []byte{1, 2}, recs[0].Data)

	f, err := recs[1].Frame()
	require.NoError(t, err)
	assert.True(t, f.Extended)
	assert.Equal(t, uint32(0x1ABCDEFF), f.ID)
	assert.Equal(t, "rx", recs[1].Direction.String())
}

func TestFileWriterAppendsSessions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.cbor")

	var sessions []string
	for i := 0; i < 2; i++ {
		w, err := NewFileWriter(path)
		require.NoError(t, err)
		require.NoError(t, w.Record(DirectionTx, 0, uint32(i), []byte{byte(i)}))
		sessions = append(sessions, w.Session())
		require.NoError(t, w.Close())
		require.NoError(t, w.Close())
		require.NoError(t, w.Record(DirectionTx, 0, 0x7FF, nil))
	}
	assert.NotEqual(t, sessions[0], sessions[1])

	r, err := OpenFile(path)
	require.NoError(t, err)
	defer r.Close()
	recs, err := r.ReadAll()
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, sessions[0], recs[0].Session)
	assert.Equal(t, sessions[1], recs[1].Session)

	_, err = r.Next()
	assert.True(t, errors.Is(err, io.EOF))
}

func TestWrapBusRecordsBothDirections(t *testing.T) {
	lb := cansocket.NewLoopbackBus()
	defer lb.Close()

	var buf bytes.Buffer
	w := NewWriter(&buf)
	tx := WrapBus(lb.Open(), w)
	rx := WrapBus(lb.Open(), w)
	defer tx.Close()
	defer rx.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, tx.Send(ctx, cansocket.MustFrame(0x321, []byte("hi"))))
	_, err := rx.Receive(ctx)
	require.NoError(t, err)

	recs, err := NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, DirectionTx, recs[0].Direction)
	assert.Equal(t, DirectionRx, recs[1].Direction)
	assert.Equal(t, []byte("hi"), recs[1].Data)
}

type failingTransmitter struct{ err error }

func (f failingTransmitter) TransmitFrame(context.Context, int, uint32, []byte) error { return f.err }

func TestWrapTransmitterSkipsFailures(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	ok := WrapTransmitter(failingTransmitter{}, w)
	bad := WrapTransmitter(failingTransmitter{err: cansocket.ErrShortWrite}, w)

	require.NoError(t, ok.TransmitFrame(context.Background(), 2, 0x10, []byte{0xAA}))
	require.ErrorIs(t, bad.TransmitFrame(context.Background(), 2, 0x11, nil), cansocket.ErrShortWrite)

	recs, err := NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, uint32(0x10), recs[0].ID)
	assert.Equal(t, 2, recs[0].IfIndex)
	assert.Contains(t, recs[0].String(), "010 [1] AA")
}
