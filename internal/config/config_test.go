package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notnil/cansocket/cyclic"
)

const sampleTOML = `
interface = "vcan0"
period_ms = 50
capture = "/tmp/run.cbor"

[log]
level = "debug"
json = true

[[frame]]
id = "0x123"
data = "DE AD BE EF"

[[frame]]
id = "18FF50E5"
data = "01.02"
period_ms = 20

[[auto_increment]]
id = "0x123"
byte = 3
`

const sampleYAML = `
interface: vcan1
loopback: true
inter_frame_gap_us: 500
log:
  no_color: true
frame:
  - id: "0x700"
    data: "05"
auto_increment:
  - id: "700"
    byte: 0
`

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, cyclic.DefaultCyclePeriod, cfg.Period)
	assert.Equal(t, cyclic.DefaultCapacity, cfg.Capacity)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestParseTOML(t *testing.T) {
	cfg, err := ParseTOML([]byte(sampleTOML))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "vcan0", cfg.Interface)
	assert.Equal(t, 50*time.Millisecond, cfg.Period)
	assert.Equal(t, cyclic.DefaultInterFrameGap, cfg.InterFrameGap)
	assert.Equal(t, "/tmp/run.cbor", cfg.Capture)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Log.JSON)
	assert.True(t, cfg.Log.Timestamp, "undefined keys keep defaults")

	require.Len(t, cfg.Frames, 2)
	assert.Equal(t, Frame{ID: 0x123, Data: []byte{0xDE, 0xAD, 0xBE, 0xEF}}, cfg.Frames[0])
	assert.Equal(t, uint32(0x18FF50E5), cfg.Frames[1].ID)
	assert.Equal(t, []byte{1, 2}, cfg.Frames[1].Data)
	assert.Equal(t, 50*time.Millisecond, cfg.FramePeriod(cfg.Frames[0]))
	assert.Equal(t, 20*time.Millisecond, cfg.FramePeriod(cfg.Frames[1]))

	assert.Equal(t, []AutoIncrement{{ID: 0x123, Byte: 3}}, cfg.AutoIncrement)
}

func TestParseTOMLRejectsUnknownKey(t *testing.T) {
	_, err := ParseTOML([]byte("interfce = \"can0\"\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "interfce")
}

func TestParseYAML(t *testing.T) {
	cfg, err := ParseYAML([]byte(sampleYAML))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "vcan1", cfg.Interface)
	assert.True(t, cfg.Loopback)
	assert.Equal(t, 500*time.Microsecond, cfg.InterFrameGap)
	assert.Equal(t, cyclic.DefaultCyclePeriod, cfg.Period)
	assert.True(t, cfg.Log.NoColor)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, []Frame{{ID: 0x700, Data: []byte{5}}}, cfg.Frames)
	assert.Equal(t, []AutoIncrement{{ID: 0x700, Byte: 0}}, cfg.AutoIncrement)
}

func TestParseYAMLEmpty(t *testing.T) {
	cfg, err := ParseYAML(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadByExtension(t *testing.T) {
	dir := t.TempDir()
	tomlPath := filepath.Join(dir, "cansocket.toml")
	yamlPath := filepath.Join(dir, "cansocket.yml")
	require.NoError(t, os.WriteFile(tomlPath, []byte(sampleTOML), 0o644))
	require.NoError(t, os.WriteFile(yamlPath, []byte(sampleYAML), 0o644))

	cfg, err := Load(tomlPath)
	require.NoError(t, err)
	assert.Equal(t, "vcan0", cfg.Interface)

	cfg, err = Load(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, "vcan1", cfg.Interface)

	_, err = Load(filepath.Join(dir, "missing.toml"))
	require.Error(t, err)
}

func TestLoadRejectsBadValues(t *testing.T) {
	_, err := ParseTOML([]byte("[log]\nlevel = \"loud\"\n"))
	require.Error(t, err)

	_, err = ParseTOML([]byte("[[frame]]\nid = \"zz\"\ndata = \"00\"\n"))
	require.ErrorIs(t, err, ErrInvalidID)

	_, err = ParseYAML([]byte("frame:\n  - id: \"1\"\n    data: \"000102030405060708\"\n"))
	require.ErrorIs(t, err, ErrInvalidData)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"no interface", func(c *Config) { c.Interface = "" }},
		{"zero period", func(c *Config) { c.Period = 0 }},
		{"negative gap", func(c *Config) { c.InterFrameGap = -time.Microsecond }},
		{"zero capacity", func(c *Config) { c.Capacity = 0 }},
		{"too many frames", func(c *Config) {
			c.Capacity = 1
			c.Frames = []Frame{{ID: 1}, {ID: 2}}
		}},
		{"duplicate frame", func(c *Config) { c.Frames = []Frame{{ID: 1}, {ID: 1}} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	cfg := Default()
	cfg.Interface = ""
	cfg.Loopback = true
	assert.NoError(t, cfg.Validate())
}

func TestParseID(t *testing.T) {
	tests := []struct {
		in      string
		want    uint32
		wantErr bool
	}{
		{"0x123", 0x123, false},
		{"7FF", 0x7FF, false},
		{" 0X1FFFFFFF ", 0x1FFFFFFF, false},
		{"0", 0, false},
		{"20000000", 0, true},
		{"", 0, true},
		{"0xG1", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseID(tt.in)
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrInvalidID, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestParseData(t *testing.T) {
	got, err := ParseData("de:ad be.ef")
	require.NoError(t, err)
	assert.Equal(t, []byte{0xDE, 0xAD, 0xBE, 0xEF}, got)

	got, err = ParseData("")
	require.NoError(t, err)
	assert.Empty(t, got)

	for _, bad := range []string{"ABC", "0011223344556677AA", "ZZ"} {
		_, err := ParseData(bad)
		assert.ErrorIs(t, err, ErrInvalidData, bad)
	}
}
