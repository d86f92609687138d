package cansocket

import (
	"context"

	"github.com/rs/zerolog"
)

// LogOption is a bitmask for selecting which operations to log.
type LogOption uint8

const (
	LogNone  LogOption = 0
	LogRead  LogOption = 1 << iota
	LogWrite
	LogAll = LogRead | LogWrite
)

// NewLoggedBus wraps the given Bus and logs selected operations at the given
// level. Errors are always logged at error level.
func NewLoggedBus(inner Bus, logger zerolog.Logger, level zerolog.Level, opts LogOption) Bus {
	return &loggedBus{inner: inner, logger: logger, level: level, opts: opts}
}

// NewLoggedBusWithFilter is NewLoggedBus restricted to frames accepted by
// filter. A nil filter logs every frame.
func NewLoggedBusWithFilter(inner Bus, logger zerolog.Logger, level zerolog.Level, opts LogOption, filter FrameFilter) Bus {
	return &loggedBus{inner: inner, logger: logger, level: level, opts: opts, filter: filter}
}

type loggedBus struct {
	inner  Bus
	logger zerolog.Logger
	level  zerolog.Level
	opts   LogOption
	filter FrameFilter
}

func (l *loggedBus) wants(f Frame) bool {
	return l.filter == nil || l.filter(f)
}

func (l *loggedBus) frameEvent(msg string, f Frame) {
	l.logger.WithLevel(l.level).
		Uint32("id", f.ID).
		Bool("extended", f.Extended).
		Bool("rtr", f.RTR).
		Uint8("len", f.Len).
		Hex("data", f.Payload()).
		Str("frame", f.String()).
		Msg(msg)
}

// Send logs the frame and the result when write logging is enabled.
func (l *loggedBus) Send(ctx context.Context, frame Frame) error {
	if l.opts&LogWrite != 0 && l.wants(frame) {
		l.frameEvent("cansocket send", frame)
	}
	err := l.inner.Send(ctx, frame)
	if l.opts&LogWrite != 0 && err != nil {
		l.logger.Error().Err(err).Uint32("id", frame.ID).Msg("cansocket send error")
	}
	return err
}

// Receive logs the received frame or error when read logging is enabled.
func (l *loggedBus) Receive(ctx context.Context) (Frame, error) {
	f, err := l.inner.Receive(ctx)
	if l.opts&LogRead == 0 {
		return f, err
	}
	if err != nil {
		l.logger.Error().Err(err).Msg("cansocket receive error")
	} else if l.wants(f) {
		l.frameEvent("cansocket receive", f)
	}
	return f, err
}

// Close forwards to the inner Bus without logging.
func (l *loggedBus) Close() error {
	return l.inner.Close()
}
