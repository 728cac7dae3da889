package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/mklimuk/biosense/cmd/biosense/console"
	"github.com/mklimuk/biosense/vcnl4020"
)

var bioCmd = cli.Command{
	Name:  "bio",
	Usage: "VCNL4020C sensor operations",
	Flags: profileFlags,
	Subcommands: cli.Commands{
		&bioInitCmd,
		&bioIDsCmd,
		&bioStatusCmd,
		&bioReadCmd,
		&bioWatchCmd,
		&bioStopCmd,
		&bioSetCmd,
	},
}

var bioInitCmd = cli.Command{
	Name:  "init",
	Usage: "verify the sensor identity and write the default configuration",
	Flags: []cli.Flag{
		&cli.BoolFlag{Name: "force", Usage: "skip the identity check"},
		&cli.BoolFlag{Name: "apply", Usage: "apply the profile settings after initialization"},
	},
	Action: func(c *cli.Context) error {
		ctx, s, err := open(c)
		if err != nil {
			return console.Fail("could not open sensor", err)
		}
		defer s.Close()
		dev, err := s.device()
		if err != nil {
			return console.Fail("init", err)
		}
		if c.Bool("force") {
			s.reopen(vcnl4020.WithIdentityCheck(false))
			dev = s.dev
		}
		err = dev.InitDefault(ctx)
		if errors.Is(err, vcnl4020.ErrIdentityMismatch) {
			ok, perr := console.Confirm(fmt.Sprintf("%s, initialize anyway?", err))
			if perr != nil || !ok {
				return console.Fail("sensor initialization error", err)
			}
			s.reopen(vcnl4020.WithIdentityCheck(false))
			dev = s.dev
			err = dev.InitDefault(ctx)
		}
		if err != nil {
			return console.Fail("sensor initialization error", err)
		}
		if c.Bool("apply") {
			if err := dev.Apply(ctx, s.profile.Settings); err != nil {
				return console.Fail("could not apply profile settings", err)
			}
		}
		console.Infof("sensor at %s initialized", console.White(fmt.Sprintf("%#02x", dev.Address())))
		return encode(dev.Settings())
	},
}

var bioIDsCmd = cli.Command{
	Name:  "ids",
	Usage: "read product and revision IDs",
	Action: func(c *cli.Context) error {
		ctx, s, err := open(c)
		if err != nil {
			return console.Fail("could not open sensor", err)
		}
		defer s.Close()
		dev, err := s.device()
		if err != nil {
			return console.Fail("ids", err)
		}
		prod, rev, err := dev.IDs(ctx)
		if err != nil {
			return console.Fail("could not read IDs", err)
		}
		match := console.Green("match")
		if prod != vcnl4020.ProductID || rev != vcnl4020.RevisionID {
			match = console.Red("mismatch")
		}
		console.Printf("product %s revision %s (%s)\n", console.White(prod), console.White(rev), match)
		return nil
	},
}

type commandStatus struct {
	Locked      bool `yaml:"config_lock"`
	SelfTimed   bool `yaml:"self_timed"`
	PeriodicBio bool `yaml:"periodic_bio"`
	PeriodicALS bool `yaml:"periodic_als"`
	BioReady    bool `yaml:"bio_ready"`
	ALSReady    bool `yaml:"als_ready"`
}

type interruptStatus struct {
	BioReady      bool `yaml:"bio_ready"`
	ALSReady      bool `yaml:"als_ready"`
	ThresholdLow  bool `yaml:"threshold_low"`
	ThresholdHigh bool `yaml:"threshold_high"`
}

type deviceStatus struct {
	Address    string            `yaml:"address"`
	ProductID  uint8             `yaml:"product_id"`
	RevisionID uint8             `yaml:"revision_id"`
	Command    commandStatus     `yaml:"command"`
	Settings   vcnl4020.Settings `yaml:"settings"`
	Interrupts interruptStatus   `yaml:"interrupt_status"`
	Bio        uint16            `yaml:"bio"`
	ALS        uint16            `yaml:"als"`
}

func readStatus(ctx context.Context, dev *vcnl4020.Device) (*deviceStatus, error) {
	st := &deviceStatus{Address: fmt.Sprintf("%#02x", dev.Address())}
	var err error
	if st.ProductID, st.RevisionID, err = dev.IDs(ctx); err != nil {
		return nil, err
	}
	cmd, err := dev.Command(ctx)
	if err != nil {
		return nil, err
	}
	st.Command = commandStatus{
		Locked:      cmd.Locked(),
		SelfTimed:   cmd.SelfTimed(),
		PeriodicBio: cmd.PeriodicBio(),
		PeriodicALS: cmd.PeriodicALS(),
		BioReady:    cmd.BioDataReady(),
		ALSReady:    cmd.ALSDataReady(),
	}
	set := &st.Settings
	if set.BioRate, err = dev.BioDataRate(ctx); err != nil {
		return nil, err
	}
	if set.LEDCurrent, err = dev.LEDCurrent(ctx); err != nil {
		return nil, err
	}
	if set.ALS, err = dev.ALSParams(ctx); err != nil {
		return nil, err
	}
	if set.Interrupts, err = dev.InterruptControl(ctx); err != nil {
		return nil, err
	}
	if set.Thresholds, err = dev.Thresholds(ctx); err != nil {
		return nil, err
	}
	if set.Modulation, err = dev.BioModulation(ctx); err != nil {
		return nil, err
	}
	is, err := dev.InterruptStatus(ctx)
	if err != nil {
		return nil, err
	}
	st.Interrupts = interruptStatus{
		BioReady:      is.BioReady(),
		ALSReady:      is.ALSReady(),
		ThresholdLow:  is.ThresholdLow(),
		ThresholdHigh: is.ThresholdHigh(),
	}
	if st.Bio, err = dev.BioValue(ctx); err != nil {
		return nil, err
	}
	if st.ALS, err = dev.ALSValue(ctx); err != nil {
		return nil, err
	}
	return st, nil
}

var bioStatusCmd = cli.Command{
	Name:  "status",
	Usage: "dump all sensor registers",
	Action: func(c *cli.Context) error {
		ctx, s, err := open(c)
		if err != nil {
			return console.Fail("could not open sensor", err)
		}
		defer s.Close()
		dev, err := s.device()
		if err != nil {
			return console.Fail("status", err)
		}
		st, err := readStatus(ctx, dev)
		if err != nil {
			return console.Fail("sensor communication error", err)
		}
		return encode(st)
	},
}

var channelFlag = &cli.StringFlag{
	Name:    "channel",
	Aliases: []string{"c"},
	Value:   "both",
	Usage:   "bio, als or both",
}

func channels(c *cli.Context) (bio, als bool, err error) {
	switch c.String("channel") {
	case "bio":
		return true, false, nil
	case "als":
		return false, true, nil
	case "both":
		return true, true, nil
	}
	return false, false, fmt.Errorf("unknown channel %q", c.String("channel"))
}

func printReading(ch vcnl4020.Channel, v uint16) {
	if ch == vcnl4020.ChannelALS {
		console.PInfof(console.PictoBulb, "als %s counts", console.White(v))
		return
	}
	console.PInfof(console.PictoHeart, "bio %s counts", console.White(v))
}

var bioReadCmd = cli.Command{
	Name:    "read",
	Aliases: []string{"rd"},
	Usage:   "trigger on-demand measurements",
	Flags: []cli.Flag{
		channelFlag,
		&cli.IntFlag{Name: "count", Value: 1, Usage: "number of measurements"},
		&cli.DurationFlag{Name: "interval", Value: time.Second},
		&cli.DurationFlag{Name: "timeout", Value: time.Second, Usage: "per measurement"},
	},
	Action: func(c *cli.Context) error {
		bio, als, err := channels(c)
		if err != nil {
			return console.Exit(1, "%s", err)
		}
		ctx, s, err := open(c)
		if err != nil {
			return console.Fail("could not open sensor", err)
		}
		defer s.Close()
		ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
		defer stop()
		for i := 0; i < c.Int("count"); i++ {
			if i > 0 {
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(c.Duration("interval")):
				}
			}
			for _, ch := range selected(bio, als) {
				mctx, cancel := context.WithTimeout(ctx, c.Duration("timeout"))
				v, err := s.read(mctx, ch)
				cancel()
				if err != nil {
					console.Errorf("error getting %s reading: %s", ch, console.Red(err))
					continue
				}
				printReading(ch, v)
			}
		}
		return nil
	},
}

func selected(bio, als bool) []vcnl4020.Channel {
	var res []vcnl4020.Channel
	if bio {
		res = append(res, vcnl4020.ChannelBio)
	}
	if als {
		res = append(res, vcnl4020.ChannelALS)
	}
	return res
}

var bioWatchCmd = cli.Command{
	Name:  "watch",
	Usage: "run continuous measurements until interrupted",
	Flags: []cli.Flag{
		channelFlag,
		&cli.DurationFlag{Name: "interval", Value: 50 * time.Millisecond, Usage: "data ready polling interval"},
		&cli.DurationFlag{Name: "duration", Usage: "stop after this long"},
	},
	Action: func(c *cli.Context) error {
		bio, als, err := channels(c)
		if err != nil {
			return console.Exit(1, "%s", err)
		}
		ctx, s, err := open(c)
		if err != nil {
			return console.Fail("could not open sensor", err)
		}
		defer s.Close()
		ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
		defer stop()
		if d := c.Duration("duration"); d > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d)
			defer cancel()
		}
		if s.dev == nil {
			return watchMock(ctx, s, bio, als, c.Duration("interval"))
		}
		return watch(ctx, s, bio, als, c.Duration("interval"))
	},
}

func watchMock(ctx context.Context, s *session, bio, als bool, interval time.Duration) error {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
		for _, ch := range selected(bio, als) {
			v, err := s.read(ctx, ch)
			if err != nil {
				continue
			}
			printReading(ch, v)
		}
	}
}

func watch(ctx context.Context, s *session, bio, als bool, interval time.Duration) error {
	dev := s.dev
	events := make(chan struct{}, 1)
	if err := startWatch(ctx, dev, s.line, bio, als, events); err != nil {
		return console.Fail("could not start measurement", err)
	}
	defer func() {
		if err := dev.StopContinuous(context.Background()); err != nil {
			console.Errorf("could not stop measurement: %s", console.Red(err))
		}
	}()
	console.Infof("watching %s (rate %s), interrupt line: %s", channelName(bio, als), dev.Settings().BioRate, console.Flag(s.line != nil))

	// with an interrupt line the ticker only catches edges lost while a
	// handler was still queued
	if s.line != nil {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-events:
		case <-t.C:
		}
		if s.line != nil {
			handleInterrupts(ctx, dev)
			continue
		}
		cmd, err := dev.Command(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			console.Errorf("sensor communication error: %s", console.Red(err))
			continue
		}
		if bio && cmd.BioDataReady() {
			readAndPrint(ctx, dev, vcnl4020.ChannelBio)
		}
		if als && cmd.ALSDataReady() {
			readAndPrint(ctx, dev, vcnl4020.ChannelALS)
		}
	}
}

// startWatch loads the configuration left on the chip, so that thresholds set
// by earlier commands are armed, and starts continuous measurement. Edges on
// line are signalled on events without blocking.
func startWatch(ctx context.Context, dev *vcnl4020.Device, line vcnl4020.InterruptLine, bio, als bool, events chan<- struct{}) error {
	if err := dev.Refresh(ctx); err != nil {
		return err
	}
	if line != nil {
		dev.SetInterrupt(line, func() {
			select {
			case events <- struct{}{}:
			default:
			}
		})
	}
	return dev.StartContinuous(ctx, bio, als)
}

func handleInterrupts(ctx context.Context, dev *vcnl4020.Device) {
	if ok, err := dev.CheckBioInterrupt(ctx); ok {
		readAndPrint(ctx, dev, vcnl4020.ChannelBio)
	} else if err != nil {
		console.Errorf("interrupt check failed: %s", console.Red(err))
	}
	if ok, err := dev.CheckALSInterrupt(ctx); ok {
		readAndPrint(ctx, dev, vcnl4020.ChannelALS)
	} else if err != nil {
		console.Errorf("interrupt check failed: %s", console.Red(err))
	}
	if ok, _ := dev.CheckThresholdLowInterrupt(ctx); ok {
		console.PInfof(console.PictoBell, "value below low threshold")
	}
	if ok, _ := dev.CheckThresholdHighInterrupt(ctx); ok {
		console.PInfof(console.PictoBell, "value above high threshold")
	}
}

func readAndPrint(ctx context.Context, dev *vcnl4020.Device, ch vcnl4020.Channel) {
	var v uint16
	var err error
	if ch == vcnl4020.ChannelALS {
		v, err = dev.ALSValue(ctx)
	} else {
		v, err = dev.BioValue(ctx)
	}
	if err != nil {
		console.Errorf("error getting %s reading: %s", ch, console.Red(err))
		return
	}
	printReading(ch, v)
}

func channelName(bio, als bool) string {
	switch {
	case bio && als:
		return "bio and als"
	case als:
		return "als"
	default:
		return "bio"
	}
}

var bioStopCmd = cli.Command{
	Name:  "stop",
	Usage: "stop all measurements and clear pending interrupts",
	Action: func(c *cli.Context) error {
		ctx, s, err := open(c)
		if err != nil {
			return console.Fail("could not open sensor", err)
		}
		defer s.Close()
		dev, err := s.device()
		if err != nil {
			return console.Fail("stop", err)
		}
		if s.line != nil {
			// a fresh device has nothing attached; binding makes stop clear the status
			dev.SetInterrupt(s.line, func() {})
		}
		if err := dev.StopContinuous(ctx); err != nil {
			return console.Fail("could not stop measurement", err)
		}
		console.PInfof(console.PictoStop, "measurements stopped")
		return nil
	},
}

func encode(v interface{}) error {
	enc := yaml.NewEncoder(console.Writer())
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return console.Exit(1, "encoding error: %s", console.Red(err))
	}
	return enc.Close()
}
