// Package config holds the YAML profile describing how the sensor is wired and
// which settings to apply.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
	"periph.io/x/conn/v3/physic"

	"github.com/mklimuk/biosense/vcnl4020"
)

const (
	AdapterMCP2221 = "mcp2221"
	AdapterGeneric = "generic"
	AdapterNanoPi  = "nanopi"
	AdapterMock    = "mock"
)

var ErrInvalidProfile = errors.New("invalid profile")

type Profile struct {
	// Adapter is one of mcp2221, generic, nanopi or mock.
	Adapter string `yaml:"adapter"`
	// Device names the bus: an i2c-dev name for generic, a bus number for
	// nanopi. Ignored by the other adapters.
	Device  string `yaml:"device,omitempty"`
	Address uint8  `yaml:"address"`
	// Speed is a bus frequency such as "400kHz". Empty leaves the bus clock
	// untouched.
	Speed string `yaml:"speed,omitempty"`
	// InterruptPin is a host GPIO name (generic, nanopi) or an adapter GP pin
	// number (mcp2221). Empty selects polling.
	InterruptPin string            `yaml:"interrupt_pin,omitempty"`
	Settings     vcnl4020.Settings `yaml:"settings"`
}

// Default returns a profile for a sensor on an MCP2221 adapter, polled, with
// the settings applied by InitDefault. These differ from the chip's power-on
// register values.
func Default() Profile {
	return Profile{
		Adapter:  AdapterMCP2221,
		Address:  vcnl4020.DefaultAddress,
		Settings: vcnl4020.DefaultSettings(),
	}
}

// Load reads a profile file. Keys missing from the file keep their default
// values.
func Load(path string) (Profile, error) {
	f, err := os.Open(path)
	if err != nil {
		return Profile{}, fmt.Errorf("could not open profile: %w", err)
	}
	defer f.Close()
	return Read(f)
}

func Read(r io.Reader) (Profile, error) {
	p := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil && !errors.Is(err, io.EOF) {
		return Profile{}, fmt.Errorf("could not decode profile: %w", err)
	}
	if err := p.Validate(); err != nil {
		return Profile{}, err
	}
	return p, nil
}

func (p Profile) Write(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(p); err != nil {
		return fmt.Errorf("could not encode profile: %w", err)
	}
	return enc.Close()
}

func (p Profile) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("could not create profile: %w", err)
	}
	if err := p.Write(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func (p Profile) Validate() error {
	switch p.Adapter {
	case AdapterMCP2221, AdapterGeneric, AdapterNanoPi, AdapterMock:
	default:
		return fmt.Errorf("%w: unknown adapter %q", ErrInvalidProfile, p.Adapter)
	}
	if p.Address == 0 || p.Address > 0x7F {
		return fmt.Errorf("%w: address %#x is not a 7-bit address", ErrInvalidProfile, p.Address)
	}
	if _, err := p.BusSpeed(); err != nil {
		return err
	}
	if p.Settings.LEDCurrent > 20 {
		return fmt.Errorf("%w: led current %d above 20 (200 mA)", ErrInvalidProfile, p.Settings.LEDCurrent)
	}
	return nil
}

// BusSpeed parses Speed. It returns zero when Speed is empty.
func (p Profile) BusSpeed() (physic.Frequency, error) {
	if p.Speed == "" {
		return 0, nil
	}
	var f physic.Frequency
	if err := f.Set(p.Speed); err != nil {
		return 0, fmt.Errorf("%w: speed %q: %v", ErrInvalidProfile, p.Speed, err)
	}
	return f, nil
}
