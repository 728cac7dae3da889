package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/urfave/cli/v2"

	"github.com/mklimuk/biosense/cmd/biosense/console"
	"github.com/mklimuk/biosense/vcnl4020"
)

var bioSetCmd = cli.Command{
	Name:  "set",
	Usage: "write a single configuration register",
	Subcommands: cli.Commands{
		&setRateCmd,
		&setLEDCmd,
		&setALSCmd,
		&setIntCmd,
		&setThresholdCmd,
		&setModCmd,
	},
}

// setAction opens the sensor and runs apply on it.
func setAction(apply func(ctx context.Context, c *cli.Context, dev *vcnl4020.Device) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		ctx, s, err := open(c)
		if err != nil {
			return console.Fail("could not open sensor", err)
		}
		defer s.Close()
		dev, err := s.device()
		if err != nil {
			return console.Fail("set", err)
		}
		if err := apply(ctx, c, dev); err != nil {
			return console.Fail("could not write configuration", err)
		}
		return nil
	}
}

func uintArg(c *cli.Context, name string, max uint64) (uint64, error) {
	if c.NArg() < 1 {
		return 0, fmt.Errorf("missing %s argument", name)
	}
	v, err := strconv.ParseUint(c.Args().First(), 0, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, c.Args().First(), err)
	}
	if v > max {
		console.Warnf("%s %d out of range, clamped to %d", name, v, max)
		v = max
	}
	return v, nil
}

var setRateCmd = cli.Command{
	Name:      "rate",
	Usage:     "biosensor rate code, 0 (1.95/s) to 7 (250/s)",
	ArgsUsage: "<code>",
	Action: setAction(func(ctx context.Context, c *cli.Context, dev *vcnl4020.Device) error {
		v, err := uintArg(c, "rate", uint64(vcnl4020.BioRate250))
		if err != nil {
			return err
		}
		if err := dev.SetBioDataRate(ctx, vcnl4020.BioRate(v)); err != nil {
			return err
		}
		console.Infof("bio rate set to %s", console.White(vcnl4020.BioRate(v)))
		return nil
	}),
}

var setLEDCmd = cli.Command{
	Name:      "led",
	Usage:     "IR LED current in 10 mA steps, 0 to 20",
	ArgsUsage: "<steps>",
	Action: setAction(func(ctx context.Context, c *cli.Context, dev *vcnl4020.Device) error {
		v, err := uintArg(c, "current", 20)
		if err != nil {
			return err
		}
		if err := dev.SetLEDCurrent(ctx, uint8(v)); err != nil {
			return err
		}
		console.Infof("LED current set to %s mA", console.White(v*10))
		return nil
	}),
}

var setALSCmd = cli.Command{
	Name:  "als",
	Usage: "ambient light parameters",
	Flags: []cli.Flag{
		&cli.UintFlag{Name: "rate", Value: uint(vcnl4020.ALSRate10), Usage: "rate code, 0 (1/s) to 7 (10/s)"},
		&cli.UintFlag{Name: "avg", Usage: "averaging code, 2^n conversions"},
		&cli.BoolFlag{Name: "offset", Usage: "enable offset compensation"},
		&cli.BoolFlag{Name: "continuous", Usage: "enable continuous conversion"},
	},
	Action: setAction(func(ctx context.Context, c *cli.Context, dev *vcnl4020.Device) error {
		p := vcnl4020.ALSParams{
			Rate:                 vcnl4020.ALSRate(c.Uint("rate")),
			Averaging:            vcnl4020.Averaging(c.Uint("avg")),
			OffsetCompensation:   c.Bool("offset"),
			ContinuousConversion: c.Bool("continuous"),
		}
		if err := dev.SetALSParams(ctx, p); err != nil {
			return err
		}
		return encode(dev.Settings().ALS)
	}),
}

var setIntCmd = cli.Command{
	Name:  "int",
	Usage: "interrupt control",
	Flags: []cli.Flag{
		&cli.BoolFlag{Name: "bio", Usage: "bio data ready interrupt"},
		&cli.BoolFlag{Name: "als", Usage: "als data ready interrupt"},
		&cli.BoolFlag{Name: "threshold", Usage: "threshold interrupt"},
		&cli.StringFlag{Name: "target", Value: "bio", Usage: "threshold channel, bio or als"},
		&cli.UintFlag{Name: "count", Usage: "count code, 2^n measurements beyond threshold"},
	},
	Action: setAction(func(ctx context.Context, c *cli.Context, dev *vcnl4020.Device) error {
		ic := vcnl4020.InterruptControl{
			BioReady:  c.Bool("bio"),
			ALSReady:  c.Bool("als"),
			Threshold: c.Bool("threshold"),
			Count:     vcnl4020.InterruptCount(c.Uint("count")),
		}
		switch c.String("target") {
		case "bio":
			ic.Target = vcnl4020.ThresholdBio
		case "als":
			ic.Target = vcnl4020.ThresholdALS
		default:
			return fmt.Errorf("unknown threshold target %q", c.String("target"))
		}
		if err := dev.SetInterruptControl(ctx, ic); err != nil {
			return err
		}
		return encode(dev.Settings().Interrupts)
	}),
}

var setThresholdCmd = cli.Command{
	Name:  "threshold",
	Usage: "low and high thresholds",
	Flags: []cli.Flag{
		&cli.UintFlag{Name: "low"},
		&cli.UintFlag{Name: "high"},
	},
	Action: setAction(func(ctx context.Context, c *cli.Context, dev *vcnl4020.Device) error {
		if !c.IsSet("low") && !c.IsSet("high") {
			return fmt.Errorf("nothing to set, use --low and/or --high")
		}
		if c.IsSet("low") {
			if err := dev.SetThresholdLow(ctx, uint16(min(c.Uint("low"), 0xFFFF))); err != nil {
				return err
			}
		}
		if c.IsSet("high") {
			if err := dev.SetThresholdHigh(ctx, uint16(min(c.Uint("high"), 0xFFFF))); err != nil {
				return err
			}
		}
		th, err := dev.Thresholds(ctx)
		if err != nil {
			return err
		}
		return encode(th)
	}),
}

var setModCmd = cli.Command{
	Name:  "mod",
	Usage: "biosensor modulator timing",
	Flags: []cli.Flag{
		&cli.BoolFlag{Name: "recommended", Usage: "use the recommended timing"},
		&cli.UintFlag{Name: "delay", Usage: "delay time, 0 to 7"},
		&cli.UintFlag{Name: "freq", Usage: "frequency code, 0 (390.625 kHz) to 3 (3.125 MHz)"},
		&cli.UintFlag{Name: "dead", Usage: "dead time, 0 to 7"},
	},
	Action: setAction(func(ctx context.Context, c *cli.Context, dev *vcnl4020.Device) error {
		m := vcnl4020.RecommendedModulation
		if !c.Bool("recommended") {
			m = vcnl4020.Modulation{
				DelayTime: uint8(min(c.Uint("delay"), 7)),
				Frequency: vcnl4020.ModFrequency(min(c.Uint("freq"), 3)),
				DeadTime:  uint8(min(c.Uint("dead"), 7)),
			}
		}
		if err := dev.SetBioModulation(ctx, m); err != nil {
			return err
		}
		return encode(dev.Settings().Modulation)
	}),
}
