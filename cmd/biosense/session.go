package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/urfave/cli/v2"
	"gobot.io/x/gobot/v2/platforms/friendlyelec/nanopi"

	"github.com/mklimuk/biosense"
	"github.com/mklimuk/biosense/adapter"
	"github.com/mklimuk/biosense/config"
	"github.com/mklimuk/biosense/gpio"
	"github.com/mklimuk/biosense/i2c"
	"github.com/mklimuk/biosense/snsctx"
	"github.com/mklimuk/biosense/vcnl4020"
)

var profileFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "profile",
		Aliases: []string{"p"},
		Usage:   "YAML profile to load",
		EnvVars: []string{"BIOSENSE_PROFILE"},
	},
	&cli.StringFlag{
		Name:    "adapter",
		Aliases: []string{"a"},
		Usage:   "bus adapter: mcp2221, generic, nanopi or mock",
	},
	&cli.StringFlag{
		Name:  "device",
		Usage: "i2c-dev bus (generic), bus number (nanopi) or adapter index (mcp2221)",
	},
	&cli.UintFlag{
		Name:  "address",
		Usage: "sensor address",
	},
	&cli.StringFlag{
		Name:  "speed",
		Usage: "bus speed, e.g. 400kHz",
	},
	&cli.StringFlag{
		Name:  "int-pin",
		Usage: "interrupt pin: host GPIO name or MCP2221 GP pin number",
	},
}

// loadProfile merges the profile file with command line overrides.
func loadProfile(c *cli.Context) (config.Profile, error) {
	p := config.Default()
	if path := c.String("profile"); path != "" {
		var err error
		if p, err = config.Load(path); err != nil {
			return p, err
		}
	}
	if c.IsSet("adapter") {
		p.Adapter = c.String("adapter")
	}
	if c.IsSet("device") {
		p.Device = c.String("device")
	}
	if c.IsSet("address") {
		p.Address = uint8(c.Uint("address"))
	}
	if c.IsSet("speed") {
		p.Speed = c.String("speed")
	}
	if c.IsSet("int-pin") {
		p.InterruptPin = c.String("int-pin")
	}
	return p, p.Validate()
}

// session is an opened sensor. For the mock adapter only reading is available.
type session struct {
	profile config.Profile
	bus     biosense.I2CBus
	opts    []vcnl4020.Opt
	dev     *vcnl4020.Device
	mock    *vcnl4020.MockSensor
	line    vcnl4020.InterruptLine
	closers []func() error
}

// reopen replaces the device with one built with additional options.
func (s *session) reopen(opts ...vcnl4020.Opt) {
	s.dev = vcnl4020.New(s.bus, append(s.opts, opts...)...)
}

var errMockUnsupported = errors.New("operation not available with the mock adapter")

func (s *session) device() (*vcnl4020.Device, error) {
	if s.dev == nil {
		return nil, errMockUnsupported
	}
	return s.dev, nil
}

// read triggers a conversion on the device, or asks the mock.
func (s *session) read(ctx context.Context, ch vcnl4020.Channel) (uint16, error) {
	if s.dev != nil {
		return s.dev.Measure(ctx, ch)
	}
	if ch == vcnl4020.ChannelALS {
		return s.mock.ALSValue(ctx)
	}
	return s.mock.BioValue(ctx)
}

func (s *session) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			slog.Debug("close error", "error", err)
		}
	}
}

func open(c *cli.Context, opts ...vcnl4020.Opt) (context.Context, *session, error) {
	ctx := snsctx.WithFrameDump(c.Context, c.Bool("verbose"))
	p, err := loadProfile(c)
	if err != nil {
		return ctx, nil, err
	}
	s := &session{profile: p}
	var bus biosense.I2CBus
	switch p.Adapter {
	case config.AdapterMock:
		s.mock = vcnl4020.NewMockSensor(simulated(time.Now()))
		return ctx, s, nil
	case config.AdapterMCP2221:
		var aopts []adapter.MCP2221Opt
		if p.Device != "" {
			idx, err := strconv.Atoi(p.Device)
			if err != nil {
				return ctx, nil, fmt.Errorf("invalid adapter index %q", p.Device)
			}
			aopts = append(aopts, adapter.WithDeviceIndex(idx))
		}
		a := adapter.NewMCP2221(aopts...)
		if err := a.Init(ctx); err != nil {
			return ctx, nil, err
		}
		bus = a
		if p.InterruptPin != "" {
			pin, err := strconv.Atoi(p.InterruptPin)
			if err != nil {
				return ctx, nil, fmt.Errorf("invalid GP pin %q", p.InterruptPin)
			}
			s.line = adapter.NewGPIOLine(a, pin, 0)
		}
	case config.AdapterGeneric:
		b, err := i2c.NewGenericBus(p.Device)
		if err != nil {
			return ctx, nil, err
		}
		s.closers = append(s.closers, b.Close)
		bus = b
	case config.AdapterNanoPi:
		busNr := -1
		if p.Device != "" {
			if busNr, err = strconv.Atoi(p.Device); err != nil {
				return ctx, nil, fmt.Errorf("invalid bus number %q", p.Device)
			}
		}
		npi := nanopi.NewNeoAdaptor()
		if err := npi.I2cBusAdaptor.Connect(); err != nil {
			return ctx, nil, fmt.Errorf("adaptor connect error: %w", err)
		}
		s.closers = append(s.closers, npi.I2cBusAdaptor.Finalize)
		b := i2c.NewGobotBus(npi, busNr)
		s.closers = append(s.closers, b.Close)
		bus = b
	}
	if s.line == nil && p.InterruptPin != "" {
		line, err := gpio.Open(p.InterruptPin)
		if err != nil {
			s.Close()
			return ctx, nil, err
		}
		s.line = line
	}
	// zero keeps the clock configured by the board or adapter
	speed, _ := p.BusSpeed()
	s.bus = bus
	s.opts = append([]vcnl4020.Opt{vcnl4020.WithAddress(p.Address), vcnl4020.WithBusSpeed(speed)}, opts...)
	s.reopen()
	return ctx, s, nil
}

// simulated produces a slow pulse on the bio channel and a steady ambient
// level.
func simulated(start time.Time) vcnl4020.ReadingFunc {
	return func(ctx context.Context, ch vcnl4020.Channel) (uint16, error) {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if ch == vcnl4020.ChannelALS {
			return 1200, nil
		}
		phase := time.Since(start).Seconds() * 2 * math.Pi * 1.2
		return uint16(20000 + 1500*math.Sin(phase)), nil
	}
}
