package vcnl4020

import (
	"context"
	"fmt"
)

// State is the measurement state as last requested through the Device.
type State int

const (
	Idle State = iota
	SinglePending
	Continuous
)

func (s State) String() string {
	switch s {
	case SinglePending:
		return "single"
	case Continuous:
		return "continuous"
	default:
		return "idle"
	}
}

// Channel selects a measurement channel.
type Channel int

const (
	ChannelBio Channel = iota
	ChannelALS
)

func (c Channel) String() string {
	switch c {
	case ChannelBio:
		return "bio"
	case ChannelALS:
		return "als"
	default:
		return fmt.Sprintf("channel(%d)", int(c))
	}
}

func (d *Device) State() State {
	d.stateMx.Lock()
	defer d.stateMx.Unlock()
	return d.state
}

func (d *Device) setState(s State) {
	d.stateMx.Lock()
	d.state = s
	d.stateMx.Unlock()
}

// StartSingle requests one on-demand conversion on the selected channels.
//
// When an interrupt line and handler are bound (see SetInterrupt) the line is
// attached and only the interrupt control register is written: data ready
// interrupts for the selected channels, plus the threshold interrupt when both
// thresholds are non-zero. Otherwise the command register is written with the
// on-demand bits and self-timed mode disabled.
func (d *Device) StartSingle(ctx context.Context, bio, als bool) error {
	bound, err := d.armInterrupts(ctx, bio, als)
	if err != nil {
		return err
	}
	if !bound {
		if err := d.writeReg(ctx, regCommand, onDemandCommand(bio, als)); err != nil {
			return fmt.Errorf("vcnl4020: could not start single measurement: %w", err)
		}
	}
	d.setState(SinglePending)
	return nil
}

// StartContinuous enables self-timed periodic conversion on the selected
// channels, arming interrupts first when an interrupt line is bound.
func (d *Device) StartContinuous(ctx context.Context, bio, als bool) error {
	if _, err := d.armInterrupts(ctx, bio, als); err != nil {
		return err
	}
	cmd := cmdSelfTimedEnable
	if bio {
		cmd |= cmdPeriodicBio
	}
	if als {
		cmd |= cmdPeriodicALS
	}
	if err := d.writeReg(ctx, regCommand, cmd); err != nil {
		return fmt.Errorf("vcnl4020: could not start continuous measurement: %w", err)
	}
	d.setState(Continuous)
	return nil
}

// StopContinuous stops all measurements. With an interrupt line bound, the
// line is detached and every pending status bit is cleared first.
func (d *Device) StopContinuous(ctx context.Context) error {
	d.stateMx.Lock()
	bound := d.line != nil && d.handler != nil
	d.stateMx.Unlock()

	var statusErr error
	if bound {
		statusErr = d.detach()
		if statusErr == nil {
			if err := d.writeReg(ctx, regIntStatus, statusAll); err != nil {
				statusErr = fmt.Errorf("vcnl4020: could not clear interrupt status: %w", err)
			}
		}
	}
	d.stateMx.Lock()
	d.armed = armedInterrupts{}
	d.stateMx.Unlock()
	if statusErr != nil {
		return statusErr
	}
	if err := d.writeReg(ctx, regCommand, 0); err != nil {
		return fmt.Errorf("vcnl4020: could not stop measurement: %w", err)
	}
	d.setState(Idle)
	return nil
}

// Measure triggers a single on-demand conversion on ch, polls the data ready
// bit until it is set and returns the result. It writes the command register
// directly and does not use the interrupt line.
func (d *Device) Measure(ctx context.Context, ch Channel) (uint16, error) {
	if ch != ChannelBio && ch != ChannelALS {
		return 0, fmt.Errorf("%w: %s", ErrUnknownChannel, ch)
	}
	bio, als := ch == ChannelBio, ch == ChannelALS
	if err := d.writeReg(ctx, regCommand, onDemandCommand(bio, als)); err != nil {
		return 0, fmt.Errorf("vcnl4020: could not start %s measurement: %w", ch, err)
	}
	d.setState(SinglePending)
	for {
		cmd, err := d.Command(ctx)
		if err != nil {
			return 0, err
		}
		if (bio && cmd.BioDataReady()) || (als && cmd.ALSDataReady()) {
			break
		}
		if err := sleep(ctx, d.opts.PollInterval); err != nil {
			return 0, fmt.Errorf("vcnl4020: waiting for %s data: %w", ch, err)
		}
	}
	d.setState(Idle)
	if als {
		return d.ALSValue(ctx)
	}
	return d.BioValue(ctx)
}

func onDemandCommand(bio, als bool) byte {
	var cmd byte
	if bio {
		cmd |= cmdOnDemandBio
	}
	if als {
		cmd |= cmdOnDemandALS
	}
	return cmd &^ cmdSelfTimedEnable
}
