// Command cansocket transmits a configured set of CAN frames cyclically on a
// SocketCAN interface or an in-memory loopback bus.
//
// Usage:
//
//	cansocket [flags]
//
// Flags:
//
//	-config string     Configuration file path (.toml, .yaml or .yml)
//	-iface string      CAN interface name (default "can0")
//	-loopback          Use an in-memory loopback bus instead of SocketCAN
//	-period duration   Cycle period for frames without their own
//	-capture string    Record transmitted and received frames to a CBOR file
//	-dump string       Print a capture file and exit
//	-bitrate uint      Configure the interface bitrate and bring it up
//	-log-level string  Log level: trace, debug, info, warn, error
//	-interactive       Start the interactive console
//
// Examples:
//
//	# Heartbeat-like frame on vcan0 every 100ms
//	cansocket -iface vcan0 -config frames.toml
//
//	# Try the console without hardware
//	cansocket -loopback -interactive
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/notnil/cansocket"
	"github.com/notnil/cansocket/capture"
	"github.com/notnil/cansocket/cmd/cansocket/interactive"
	"github.com/notnil/cansocket/cyclic"
	"github.com/notnil/cansocket/internal/config"
	"github.com/notnil/cansocket/internal/logging"
)

type options struct {
	ConfigFile  string
	Iface       string
	Loopback    bool
	Period      time.Duration
	Capture     string
	Dump        string
	Bitrate     uint
	LogLevel    string
	Interactive bool
}

func main() {
	var opts options
	flag.StringVar(&opts.ConfigFile, "config", "", "Configuration file path (.toml, .yaml or .yml)")
	flag.StringVar(&opts.Iface, "iface", "", "CAN interface name (default from config, else can0)")
	flag.BoolVar(&opts.Loopback, "loopback", false, "Use an in-memory loopback bus instead of SocketCAN")
	flag.DurationVar(&opts.Period, "period", 0, "Cycle period for frames without their own")
	flag.StringVar(&opts.Capture, "capture", "", "Record transmitted and received frames to a CBOR file")
	flag.StringVar(&opts.Dump, "dump", "", "Print a capture file and exit")
	flag.UintVar(&opts.Bitrate, "bitrate", 0, "Configure the interface bitrate and bring it up")
	flag.StringVar(&opts.LogLevel, "log-level", "", "Log level: trace, debug, info, warn, error")
	flag.BoolVar(&opts.Interactive, "interactive", false, "Start the interactive console")
	flag.Parse()

	if opts.Dump != "" {
		if err := dump(opts.Dump); err != nil {
			fmt.Fprintf(os.Stderr, "cansocket: %v\n", err)
			os.Exit(1)
		}
		return
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cansocket: %v\n", err)
		os.Exit(2)
	}

	log := logging.New("cansocket", cfg.Log, os.Stderr)
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cancel, cfg, opts, log); err != nil {
		log.Error().Err(err).Msg("cansocket failed")
		cancel()
		os.Exit(1)
	}
}

func loadConfig(opts options) (config.Config, error) {
	cfg := config.Default()
	if opts.ConfigFile != "" {
		var err error
		cfg, err = config.Load(opts.ConfigFile)
		if err != nil {
			return config.Config{}, err
		}
	}
	if opts.Iface != "" {
		cfg.Interface = opts.Iface
	}
	if opts.Loopback {
		cfg.Loopback = true
	}
	if opts.Period > 0 {
		cfg.Period = opts.Period
	}
	if opts.Capture != "" {
		cfg.Capture = opts.Capture
	}
	if opts.LogLevel != "" {
		if _, ok := logging.ParseLevel(opts.LogLevel); !ok {
			return config.Config{}, fmt.Errorf("unknown log level %q", opts.LogLevel)
		}
		cfg.Log.Level = opts.LogLevel
	}
	return cfg, cfg.Validate()
}

// endpoint is the transport the engine transmits on.
type endpoint struct {
	conn    cansocket.Transmitter
	rx      cansocket.Bus
	ifIndex int
	close   func() error
}

func run(ctx context.Context, cancel context.CancelFunc, cfg config.Config, opts options, log zerolog.Logger) error {
	var (
		ep  endpoint
		err error
	)
	if cfg.Loopback {
		ep = openLoopback()
		log.Info().Msg("using loopback bus")
	} else {
		ep, err = openSocket(cfg.Interface, opts.Bitrate, log)
		if err != nil {
			return err
		}
		log.Info().Str("iface", cfg.Interface).Int("ifindex", ep.ifIndex).Msg("socket bound")
	}
	defer ep.close()

	if cfg.Capture != "" {
		w, err := capture.NewFileWriter(cfg.Capture)
		if err != nil {
			return fmt.Errorf("open capture: %w", err)
		}
		defer w.Close()
		ep.conn = capture.WrapTransmitter(ep.conn, w)
		ep.rx = capture.WrapBus(ep.rx, w)
		log.Info().Str("file", cfg.Capture).Str("session", w.Session()).Msg("capturing frames")
	}

	engine := cyclic.New(
		cyclic.WithCapacity(cfg.Capacity),
		cyclic.WithInterFrameGap(cfg.InterFrameGap),
		cyclic.WithLogger(log.With().Str("component", "cyclic").Logger()),
	)
	defer engine.Close()
	if err := engine.Start(ctx); err != nil {
		return err
	}

	for _, a := range cfg.AutoIncrement {
		if err := engine.EnableAutoIncrement(config.RawID(a.ID), a.Byte); err != nil {
			return err
		}
	}
	for _, f := range cfg.Frames {
		if err := engine.Add(ep.conn, ep.ifIndex, config.RawID(f.ID), f.Data, cfg.FramePeriod(f)); err != nil {
			return err
		}
	}
	go receive(ctx, cansocket.NewLoggedBus(ep.rx, log.With().Str("component", "rx").Logger(), zerolog.DebugLevel, cansocket.LogRead))
	go reportStats(ctx, engine, log)

	if opts.Interactive {
		console := interactive.New(engine, ep.conn, ep.ifIndex, cfg.Period, os.Stdout)
		if err := console.Run(ctx, cancel); err != nil {
			return err
		}
	}
	<-ctx.Done()
	log.Info().Msg("shutting down")
	return nil
}

func openLoopback() endpoint {
	bus := cansocket.NewLoopbackBus()
	tx := bus.Open()
	return endpoint{
		conn:  cansocket.BusTransmitter(tx),
		rx:    bus.Open(),
		close: bus.Close,
	}
}

// receive drains rx so received frames reach the log and the capture.
func receive(ctx context.Context, rx cansocket.Bus) {
	for {
		_, err := rx.Receive(ctx)
		if err == nil {
			continue
		}
		if ctx.Err() != nil || errors.Is(err, cansocket.ErrClosed) {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func reportStats(ctx context.Context, engine *cyclic.Engine, log zerolog.Logger) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := engine.Stats()
			log.Debug().
				Uint64("passes", s.Passes).
				Uint64("frames_sent", s.FramesSent).
				Int("frames_last_pass", s.FramesLastPass).
				Uint64("errors", s.TransmitErrors).
				Msg("cyclic stats")
		}
	}
}

func dump(path string) error {
	r, err := capture.OpenFile(path)
	if err != nil {
		return err
	}
	defer r.Close()
	recs, err := r.ReadAll()
	if err != nil {
		return err
	}
	for _, rec := range recs {
		fmt.Println(rec.String())
	}
	return nil
}
