// Package config loads cansocket settings from TOML or YAML files.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/notnil/cansocket"
	"github.com/notnil/cansocket/cyclic"
	"github.com/notnil/cansocket/internal/logging"
)

var (
	ErrInvalidID   = errors.New("config: invalid identifier")
	ErrInvalidData = errors.New("config: invalid frame data")
)

// Frame is a cyclic frame registered at startup.
type Frame struct {
	ID     uint32
	Data   []byte
	Period time.Duration
}

// AutoIncrement is a counter registered at startup.
type AutoIncrement struct {
	ID   uint32
	Byte int
}

// Config holds everything the cansocket command needs.
type Config struct {
	Interface     string
	Loopback      bool
	Period        time.Duration
	InterFrameGap time.Duration
	Capacity      int
	Capture       string
	Log           logging.Config
	Frames        []Frame
	AutoIncrement []AutoIncrement
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Interface:     "can0",
		Period:        cyclic.DefaultCyclePeriod,
		InterFrameGap: cyclic.DefaultInterFrameGap,
		Capacity:      cyclic.DefaultCapacity,
		Log:           logging.DefaultConfig(),
	}
}

// Validate checks the settings for values the engine would reject.
func (c Config) Validate() error {
	if !c.Loopback && strings.TrimSpace(c.Interface) == "" {
		return errors.New("config: interface is required unless loopback is set")
	}
	if c.Period <= 0 {
		return fmt.Errorf("config: period must be positive, got %s", c.Period)
	}
	if c.InterFrameGap < 0 {
		return fmt.Errorf("config: inter_frame_gap must not be negative, got %s", c.InterFrameGap)
	}
	if c.Capacity <= 0 {
		return fmt.Errorf("config: capacity must be positive, got %d", c.Capacity)
	}
	if len(c.Frames) > c.Capacity {
		return fmt.Errorf("config: %d frames exceed capacity %d", len(c.Frames), c.Capacity)
	}
	if len(c.AutoIncrement) > c.Capacity {
		return fmt.Errorf("config: %d auto_increment entries exceed capacity %d", len(c.AutoIncrement), c.Capacity)
	}
	seen := make(map[uint32]struct{}, len(c.Frames))
	for i, f := range c.Frames {
		if len(f.Data) > cyclic.MaxPayload {
			return fmt.Errorf("config: frame[%d] 0x%X: %w", i, f.ID, ErrInvalidData)
		}
		if f.Period < 0 {
			return fmt.Errorf("config: frame[%d] 0x%X: negative period", i, f.ID)
		}
		if _, dup := seen[f.ID]; dup {
			return fmt.Errorf("config: frame[%d]: duplicate id 0x%X", i, f.ID)
		}
		seen[f.ID] = struct{}{}
	}
	return nil
}

// FramePeriod returns the period to register f with.
func (c Config) FramePeriod(f Frame) time.Duration {
	if f.Period > 0 {
		return f.Period
	}
	return c.Period
}

type fileLog struct {
	Level     string `toml:"level" yaml:"level"`
	Timestamp bool   `toml:"timestamp" yaml:"timestamp"`
	NoColor   bool   `toml:"no_color" yaml:"no_color"`
	JSON      bool   `toml:"json" yaml:"json"`
}

type fileFrame struct {
	ID       string `toml:"id" yaml:"id"`
	Data     string `toml:"data" yaml:"data"`
	PeriodMS int64  `toml:"period_ms" yaml:"period_ms"`
}

type fileAutoIncrement struct {
	ID   string `toml:"id" yaml:"id"`
	Byte int    `toml:"byte" yaml:"byte"`
}

type fileConfig struct {
	Interface       string              `toml:"interface" yaml:"interface"`
	Loopback        bool                `toml:"loopback" yaml:"loopback"`
	PeriodMS        int64               `toml:"period_ms" yaml:"period_ms"`
	InterFrameGapUS int64               `toml:"inter_frame_gap_us" yaml:"inter_frame_gap_us"`
	Capacity        int                 `toml:"capacity" yaml:"capacity"`
	Capture         string              `toml:"capture" yaml:"capture"`
	Log             fileLog             `toml:"log" yaml:"log"`
	Frame           []fileFrame         `toml:"frame" yaml:"frame"`
	AutoIncrement   []fileAutoIncrement `toml:"auto_increment" yaml:"auto_increment"`
}

// Load reads path and overlays it on Default. Files ending in .yaml or .yml
// are parsed as YAML, everything else as TOML.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ParseYAML(data)
	default:
		return ParseTOML(data)
	}
}

// ParseTOML parses a TOML document.
func ParseTOML(data []byte) (Config, error) {
	var raw fileConfig
	meta, err := toml.NewDecoder(bytes.NewReader(data)).Decode(&raw)
	if err != nil {
		return Config{}, fmt.Errorf("parse toml config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("parse toml config: unknown key %q", undecoded[0].String())
	}
	return apply(raw, func(key ...string) bool { return meta.IsDefined(key...) })
}

// ParseYAML parses a YAML document.
func ParseYAML(data []byte) (Config, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return Config{}, fmt.Errorf("parse yaml config: %w", err)
	}
	var raw fileConfig
	if len(root.Content) == 0 {
		return apply(raw, func(...string) bool { return false })
	}
	doc := root.Content[0]
	if err := doc.Decode(&raw); err != nil {
		return Config{}, fmt.Errorf("parse yaml config: %w", err)
	}
	return apply(raw, func(key ...string) bool { return yamlDefined(doc, key) })
}

// yamlDefined reports whether the mapping path key exists below n.
func yamlDefined(n *yaml.Node, key []string) bool {
	for _, k := range key {
		if n.Kind != yaml.MappingNode {
			return false
		}
		var next *yaml.Node
		for i := 0; i+1 < len(n.Content); i += 2 {
			if n.Content[i].Value == k {
				next = n.Content[i+1]
				break
			}
		}
		if next == nil {
			return false
		}
		n = next
	}
	return true
}

func apply(raw fileConfig, defined func(key ...string) bool) (Config, error) {
	cfg := Default()

	if defined("interface") {
		cfg.Interface = strings.TrimSpace(raw.Interface)
	}
	if defined("loopback") {
		cfg.Loopback = raw.Loopback
	}
	if defined("period_ms") {
		cfg.Period = time.Duration(raw.PeriodMS) * time.Millisecond
	}
	if defined("inter_frame_gap_us") {
		cfg.InterFrameGap = time.Duration(raw.InterFrameGapUS) * time.Microsecond
	}
	if defined("capacity") {
		cfg.Capacity = raw.Capacity
	}
	if defined("capture") {
		cfg.Capture = strings.TrimSpace(raw.Capture)
	}
	if defined("log", "level") {
		if _, ok := logging.ParseLevel(raw.Log.Level); !ok {
			return Config{}, fmt.Errorf("parse log.level: unknown level %q", raw.Log.Level)
		}
		cfg.Log.Level = strings.TrimSpace(raw.Log.Level)
	}
	if defined("log", "timestamp") {
		cfg.Log.Timestamp = raw.Log.Timestamp
	}
	if defined("log", "no_color") {
		cfg.Log.NoColor = raw.Log.NoColor
	}
	if defined("log", "json") {
		cfg.Log.JSON = raw.Log.JSON
	}

	for i, f := range raw.Frame {
		id, err := ParseID(f.ID)
		if err != nil {
			return Config{}, fmt.Errorf("parse frame[%d].id: %w", i, err)
		}
		data, err := ParseData(f.Data)
		if err != nil {
			return Config{}, fmt.Errorf("parse frame[%d].data: %w", i, err)
		}
		cfg.Frames = append(cfg.Frames, Frame{
			ID:     id,
			Data:   data,
			Period: time.Duration(f.PeriodMS) * time.Millisecond,
		})
	}
	for i, a := range raw.AutoIncrement {
		id, err := ParseID(a.ID)
		if err != nil {
			return Config{}, fmt.Errorf("parse auto_increment[%d].id: %w", i, err)
		}
		cfg.AutoIncrement = append(cfg.AutoIncrement, AutoIncrement{ID: id, Byte: a.Byte})
	}
	return cfg, nil
}

// ParseID parses a CAN identifier. A 0x prefix selects hex, otherwise the
// value is read as hex as candump prints it. Values above the 29-bit range
// are rejected.
func ParseID(raw string) (uint32, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidID)
	}
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidID, raw)
	}
	if uint32(v) > cansocket.MaskEFF {
		return 0, fmt.Errorf("%w: %q exceeds 29 bits", ErrInvalidID, raw)
	}
	return uint32(v), nil
}

// RawID returns the flag-carrying identifier for id: values that do not fit
// 11 bits get the extended frame flag.
func RawID(id uint32) uint32 {
	if id > cansocket.MaskSFF {
		return id | cansocket.FlagEFF
	}
	return id
}

// ParseData parses a hex payload of at most eight bytes. Spaces, dots and
// colons between bytes are ignored.
func ParseData(raw string) ([]byte, error) {
	s := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '.', ':', '\t':
			return -1
		}
		return r
	}, raw)
	if len(s)%2 != 0 {
		return nil, fmt.Errorf("%w: odd number of hex digits in %q", ErrInvalidData, raw)
	}
	if len(s)/2 > cyclic.MaxPayload {
		return nil, fmt.Errorf("%w: %q longer than %d bytes", ErrInvalidData, raw, cyclic.MaxPayload)
	}
	out := make([]byte, len(s)/2)
	for i := range out {
		v, err := strconv.ParseUint(s[2*i:2*i+2], 16, 8)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidData, raw)
		}
		out[i] = byte(v)
	}
	return out, nil
}
