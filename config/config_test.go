package config

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/physic"

	"github.com/mklimuk/biosense/vcnl4020"
)

func TestRead(t *testing.T) {
	in := `
adapter: generic
device: /dev/i2c-1
address: 0x13
speed: 100kHz
interrupt_pin: GPIO17
settings:
  bio_rate: 3
  led_current: 20
  thresholds:
    low: 100
    high: 3000
`
	p, err := Read(strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, AdapterGeneric, p.Adapter)
	assert.Equal(t, "/dev/i2c-1", p.Device)
	assert.Equal(t, uint8(0x13), p.Address)
	assert.Equal(t, "GPIO17", p.InterruptPin)
	assert.Equal(t, vcnl4020.BioRate16_6, p.Settings.BioRate)
	assert.Equal(t, uint8(20), p.Settings.LEDCurrent)
	assert.Equal(t, vcnl4020.Thresholds{Low: 100, High: 3000}, p.Settings.Thresholds)
	// untouched keys keep the defaults
	assert.Equal(t, vcnl4020.DefaultSettings().ALS, p.Settings.ALS)
	assert.Equal(t, vcnl4020.RecommendedModulation, p.Settings.Modulation)

	f, err := p.BusSpeed()
	require.NoError(t, err)
	assert.Equal(t, 100*physic.KiloHertz, f)
}

func TestDefault(t *testing.T) {
	p := Default()
	assert.Equal(t, vcnl4020.DefaultSettings(), p.Settings)
	assert.Equal(t, uint8(10), p.Settings.LEDCurrent)
	assert.Equal(t, vcnl4020.ALSRate10, p.Settings.ALS.Rate)
	assert.Equal(t, vcnl4020.Average1, p.Settings.ALS.Averaging)
	assert.Empty(t, p.Speed)
	assert.NoError(t, p.Validate())
}

func TestRead_Empty(t *testing.T) {
	p, err := Read(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, Default(), p)
}

func TestRead_Invalid(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"unknown adapter", "adapter: ftdi"},
		{"address out of range", "address: 0x80"},
		{"zero address", "address: 0"},
		{"bad speed", "speed: fast"},
		{"led current", "settings:\n  led_current: 21"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := Read(strings.NewReader(test.in))
			assert.ErrorIs(t, err, ErrInvalidProfile)
		})
	}
	_, err := Read(strings.NewReader("adapters: mock"))
	assert.Error(t, err, "unknown keys are rejected")
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "biosense.yaml")
	p := Default()
	p.Adapter = AdapterMock
	p.Settings.Thresholds = vcnl4020.Thresholds{Low: 5, High: 500}
	require.NoError(t, p.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, p, loaded)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestWrite(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Default().Write(&buf))
	assert.Contains(t, buf.String(), "adapter: mcp2221")
	assert.NotContains(t, buf.String(), "speed")
	assert.NotContains(t, buf.String(), "interrupt_pin")

	p := Default()
	p.Speed = "400kHz"
	buf.Reset()
	require.NoError(t, p.Write(&buf))
	assert.Contains(t, buf.String(), "speed: 400kHz")
}
