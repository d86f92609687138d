package cansocket

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
)

type logLine struct {
	Level   string `json:"level"`
	Message string `json:"message"`
	Frame   string `json:"frame"`
	Data    string `json:"data"`
}

func logLines(t *testing.T, buf *bytes.Buffer) []logLine {
	t.Helper()
	var out []logLine
	for _, raw := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		if len(raw) == 0 {
			continue
		}
		var l logLine
		if err := json.Unmarshal(raw, &l); err != nil {
			t.Fatalf("decode %q: %v", raw, err)
		}
		out = append(out, l)
	}
	return out
}

func hasLogMsg(lines []logLine, level, msg string) bool {
	for _, l := range lines {
		if l.Level == level && l.Message == msg {
			return true
		}
	}
	return false
}

func TestLoggedBus_WriteAndReadLogging(t *testing.T) {
	ctx := context.Background()
	lb := NewLoopbackBus()
	defer lb.Close()

	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	// Wrap both endpoints to verify read and write logging independently.
	sender := NewLoggedBus(lb.Open(), logger, zerolog.InfoLevel, LogWrite)
	receiver := NewLoggedBus(lb.Open(), logger, zerolog.InfoLevel, LogRead)
	defer sender.Close()
	defer receiver.Close()

	frame := MustFrame(0x123, []byte{1, 2, 3})
	if err := sender.Send(ctx, frame); err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, err := receiver.Receive(ctx); err != nil {
		t.Fatalf("receive: %v", err)
	}

	lines := logLines(t, &buf)
	if len(lines) != 2 {
		t.Fatalf("got %d log lines, want 2", len(lines))
	}
	if !hasLogMsg(lines, "info", "cansocket send") {
		t.Fatalf("expected write log entry")
	}
	if !hasLogMsg(lines, "info", "cansocket receive") {
		t.Fatalf("expected read log entry")
	}
	if lines[0].Frame != "123 [3] 01 02 03" || lines[0].Data != "010203" {
		t.Fatalf("unexpected frame fields: %+v", lines[0])
	}
}

func TestLoggedBus_ErrorLogging(t *testing.T) {
	lb := NewLoopbackBus()
	// Create and immediately close a receiver to force error on Receive
	rx := lb.Open()
	_ = rx.Close()

	var buf bytes.Buffer
	wrapped := NewLoggedBus(rx, zerolog.New(&buf), zerolog.InfoLevel, LogRead)
	_, _ = wrapped.Receive(context.Background())

	if !hasLogMsg(logLines(t, &buf), "error", "cansocket receive error") {
		t.Fatalf("expected receive error log entry")
	}
}

func TestLoggedBus_Filter(t *testing.T) {
	ctx := context.Background()
	lb := NewLoopbackBus()
	defer lb.Close()
	rx := lb.Open()

	var buf bytes.Buffer
	sender := NewLoggedBusWithFilter(lb.Open(), zerolog.New(&buf), zerolog.DebugLevel, LogAll, ByID(0x200))
	for _, id := range []uint32{0x100, 0x200} {
		if err := sender.Send(ctx, MustFrame(id, nil)); err != nil {
			t.Fatalf("send: %v", err)
		}
		if _, err := rx.Receive(ctx); err != nil {
			t.Fatalf("receive: %v", err)
		}
	}

	lines := logLines(t, &buf)
	if len(lines) != 1 || lines[0].Frame != "200 [0]" || lines[0].Level != "debug" {
		t.Fatalf("unexpected log lines: %+v", lines)
	}
}
