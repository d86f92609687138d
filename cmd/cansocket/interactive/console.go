// Package interactive provides the interactive command-line interface for
// editing the cyclic frame set of a running cansocket.
package interactive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/chzyer/readline"

	"github.com/notnil/cansocket"
	"github.com/notnil/cansocket/cyclic"
	"github.com/notnil/cansocket/internal/config"
)

// Console executes operator commands against an engine.
type Console struct {
	engine  *cyclic.Engine
	conn    cansocket.Transmitter
	ifIndex int
	period  time.Duration
	out     io.Writer
}

// New creates a console. Frames added without an explicit period use period.
func New(engine *cyclic.Engine, conn cansocket.Transmitter, ifIndex int, period time.Duration, out io.Writer) *Console {
	return &Console{engine: engine, conn: conn, ifIndex: ifIndex, period: period, out: out}
}

// lineReader is the part of *readline.Instance the loop needs.
type lineReader interface {
	Readline() (string, error)
	Close() error
}

// Run reads commands until exit, EOF or ctx cancellation. cancel is called
// when the operator leaves.
func (c *Console) Run(ctx context.Context, cancel context.CancelFunc) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "can> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("failed to create readline: %w", err)
	}
	c.out = rl.Stdout()
	c.printHelp()
	return c.loop(ctx, cancel, rl)
}

// loop closes lr when ctx ends so a pending Readline returns.
func (c *Console) loop(ctx context.Context, cancel context.CancelFunc, lr lineReader) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		_ = lr.Close()
	}()

	for {
		line, err := lr.Readline()
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			fmt.Fprintln(c.out, "Exiting...")
			cancel()
			return nil
		}
		if c.Exec(ctx, line) {
			cancel()
			return nil
		}
	}
}

// Exec runs one command line and reports whether the operator asked to quit.
func (c *Console) Exec(ctx context.Context, line string) bool {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return false
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	var err error
	switch cmd {
	case "help", "?":
		c.printHelp()
	case "add", "a":
		err = c.cmdAdd(args)
	case "remove", "rm":
		err = c.cmdRemove(args)
	case "clear":
		err = c.engine.RemoveAll()
		if err == nil {
			fmt.Fprintln(c.out, "all frames removed")
		}
	case "adopt":
		err = c.cmdAdopt(args)
	case "autoinc", "inc":
		err = c.cmdAutoInc(args)
	case "send", "s":
		err = c.cmdSend(ctx, args)
	case "list", "ls":
		c.cmdList()
	case "stats":
		c.cmdStats()
	case "quit", "exit", "q":
		fmt.Fprintln(c.out, "Exiting...")
		return true
	default:
		fmt.Fprintf(c.out, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	if err != nil {
		fmt.Fprintf(c.out, "error: %v\n", err)
	}
	return false
}

func (c *Console) printHelp() {
	fmt.Fprintln(c.out, `
Cyclic frames:
  add <id> [data] [period_ms]  - Transmit a frame cyclically
  remove <id>                  - Stop transmitting a frame
  clear                        - Remove all frames
  adopt <id> [data]            - Replace the payload of a frame
  autoinc <id> <byte>          - Increment a payload byte on every pass

One-shot:
  send <id> [data]             - Transmit a frame once

Status:
  list                         - Show registered frames and counters
  stats                        - Show engine counters

  help                         - Show this help
  exit                         - Quit`)
}

func parseID(raw string) (uint32, error) {
	id, err := config.ParseID(raw)
	if err != nil {
		return 0, err
	}
	return config.RawID(id), nil
}

func parseFrameArgs(args []string) (uint32, []byte, error) {
	if len(args) < 1 {
		return 0, nil, errors.New("missing identifier")
	}
	id, err := parseID(args[0])
	if err != nil {
		return 0, nil, err
	}
	var data []byte
	if len(args) > 1 {
		data, err = config.ParseData(args[1])
		if err != nil {
			return 0, nil, err
		}
	}
	return id, data, nil
}

func (c *Console) cmdAdd(args []string) error {
	if len(args) > 3 {
		return errors.New("usage: add <id> [data] [period_ms]")
	}
	id, data, err := parseFrameArgs(args)
	if err != nil {
		return err
	}
	period := c.period
	if len(args) == 3 {
		ms, err := strconv.Atoi(args[2])
		if err != nil || ms <= 0 {
			return fmt.Errorf("invalid period %q", args[2])
		}
		period = time.Duration(ms) * time.Millisecond
	}
	if err := c.engine.Add(c.conn, c.ifIndex, id, data, period); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "added 0x%X every %s\n", id&cansocket.MaskEFF, c.engine.Period())
	return nil
}

func (c *Console) cmdRemove(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: remove <id>")
	}
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	if err := c.engine.Remove(id); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "removed 0x%X\n", id&cansocket.MaskEFF)
	return nil
}

func (c *Console) cmdAdopt(args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return errors.New("usage: adopt <id> [data]")
	}
	id, data, err := parseFrameArgs(args)
	if err != nil {
		return err
	}
	if err := c.engine.Adopt(id, data); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "adopted 0x%X\n", id&cansocket.MaskEFF)
	return nil
}

func (c *Console) cmdAutoInc(args []string) error {
	if len(args) != 2 {
		return errors.New("usage: autoinc <id> <byte>")
	}
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	pos, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("invalid byte position %q", args[1])
	}
	if err := c.engine.EnableAutoIncrement(id, pos); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "auto-increment 0x%X byte %d\n", id&cansocket.MaskEFF, pos)
	return nil
}

func (c *Console) cmdSend(ctx context.Context, args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return errors.New("usage: send <id> [data]")
	}
	id, data, err := parseFrameArgs(args)
	if err != nil {
		return err
	}
	if err := c.conn.TransmitFrame(ctx, c.ifIndex, id, data); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "sent 0x%X\n", id&cansocket.MaskEFF)
	return nil
}

func (c *Console) cmdList() {
	frames := c.engine.Frames()
	counters := c.engine.Counters()
	if len(frames) == 0 && len(counters) == 0 {
		fmt.Fprintln(c.out, "no frames registered")
		return
	}
	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tLEN\tDATA\tIFINDEX")
	for _, f := range frames {
		fmt.Fprintf(tw, "0x%X\t%d\t% X\t%d\n", f.ID&cansocket.MaskEFF, f.Len, f.Payload(), f.IfIndex)
	}
	tw.Flush()
	for _, ctr := range counters {
		fmt.Fprintf(c.out, "counter 0x%X byte %d = %d\n", ctr.ID&cansocket.MaskEFF, ctr.BytePos, ctr.Value)
	}
	fmt.Fprintf(c.out, "period %s\n", c.engine.Period())
}

func (c *Console) cmdStats() {
	s := c.engine.Stats()
	fmt.Fprintf(c.out, "state:            %s\n", c.engine.State())
	fmt.Fprintf(c.out, "period:           %s\n", c.engine.Period())
	fmt.Fprintf(c.out, "passes:           %d\n", s.Passes)
	fmt.Fprintf(c.out, "frames sent:      %d\n", s.FramesSent)
	fmt.Fprintf(c.out, "frames last pass: %d\n", s.FramesLastPass)
	fmt.Fprintf(c.out, "transmit errors:  %d\n", s.TransmitErrors)
}
