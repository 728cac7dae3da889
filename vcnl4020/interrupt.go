package vcnl4020

import (
	"context"
	"errors"
	"fmt"
)

// InterruptLine is the host input wired to the sensor INT pad. The pad is
// pulled low while at least one interrupt status bit is set, so
// implementations should trigger on the falling edge with a pull-up.
type InterruptLine interface {
	// Attach starts delivering edges to handler.
	Attach(handler func()) error
	Detach() error
}

// InterruptStatus is the content of the interrupt status register.
type InterruptStatus byte

func (s InterruptStatus) BioReady() bool      { return byte(s)&statusBioReady != 0 }
func (s InterruptStatus) ALSReady() bool      { return byte(s)&statusALSReady != 0 }
func (s InterruptStatus) ThresholdLow() bool  { return byte(s)&statusThresholdLow != 0 }
func (s InterruptStatus) ThresholdHigh() bool { return byte(s)&statusThresholdHigh != 0 }

// SetInterrupt binds an interrupt line and handler. Nothing is written to the
// device: the binding is used by the next StartSingle or StartContinuous,
// which attach the line. The line is only detached by StopContinuous.
// Passing a nil line or handler selects polling.
//
// The handler runs on the line's goroutine. Bus transactions through the
// Device are serialized, but handlers should stay short.
func (d *Device) SetInterrupt(line InterruptLine, handler func()) {
	d.stateMx.Lock()
	defer d.stateMx.Unlock()
	d.line = line
	d.handler = handler
}

// armInterrupts writes the interrupt control register for the requested
// channels when an interrupt line is bound. It reports whether a line is bound.
func (d *Device) armInterrupts(ctx context.Context, bio, als bool) (bool, error) {
	d.stateMx.Lock()
	if d.line == nil || d.handler == nil {
		d.stateMx.Unlock()
		return false, nil
	}
	if d.attached == nil {
		if err := d.line.Attach(d.handler); err != nil {
			d.stateMx.Unlock()
			return true, fmt.Errorf("vcnl4020: could not attach interrupt line: %w", err)
		}
		d.attached = d.line
	}
	var ctl byte
	if bio {
		ctl |= intBioReadyEn
		d.armed.bio = true
	}
	if als {
		ctl |= intALSReadyEn
		d.armed.als = true
	}
	// there is no separate enable flag: zero thresholds mean "not configured"
	if d.settings.Thresholds.Low != 0 && d.settings.Thresholds.High != 0 {
		ctl |= intThresholdEn
		d.armed.threshold = true
	}
	d.stateMx.Unlock()

	if err := d.writeReg(ctx, regIntControl, ctl); err != nil {
		return true, fmt.Errorf("vcnl4020: could not arm interrupts: %w", err)
	}
	d.updateSettings(func(s *Settings) { s.Interrupts = unpackInterruptControl(ctl) })
	return true, nil
}

// detach releases the attached line. On failure the line is still considered
// attached. The state lock is not held during Detach since a running handler
// may be calling the check operations.
func (d *Device) detach() error {
	d.stateMx.Lock()
	line := d.attached
	d.stateMx.Unlock()
	if line == nil {
		return nil
	}
	if err := line.Detach(); err != nil {
		return fmt.Errorf("vcnl4020: could not detach interrupt line: %w", err)
	}
	d.stateMx.Lock()
	if d.attached == line {
		d.attached = nil
	}
	d.stateMx.Unlock()
	return nil
}

// InterruptStatus reads the interrupt status register without clearing it.
func (d *Device) InterruptStatus(ctx context.Context) (InterruptStatus, error) {
	b, err := d.readReg(ctx, regIntStatus)
	return InterruptStatus(b), err
}

// CheckBioInterrupt reports whether the bio data ready interrupt is pending.
// A pending bit is cleared, and the interrupt re-armed if it was armed by
// StartSingle or StartContinuous. When the bit was set but clearing or
// re-arming failed, true is returned together with the error.
func (d *Device) CheckBioInterrupt(ctx context.Context) (bool, error) {
	return d.checkInterrupt(ctx, statusBioReady, intBioReadyEn, func(a armedInterrupts) bool { return a.bio })
}

// CheckALSInterrupt is CheckBioInterrupt for the ambient light channel.
func (d *Device) CheckALSInterrupt(ctx context.Context) (bool, error) {
	return d.checkInterrupt(ctx, statusALSReady, intALSReadyEn, func(a armedInterrupts) bool { return a.als })
}

// CheckThresholdLowInterrupt reports whether the low threshold was exceeded.
func (d *Device) CheckThresholdLowInterrupt(ctx context.Context) (bool, error) {
	return d.checkInterrupt(ctx, statusThresholdLow, intThresholdEn, func(a armedInterrupts) bool { return a.threshold })
}

// CheckThresholdHighInterrupt reports whether the high threshold was exceeded.
func (d *Device) CheckThresholdHighInterrupt(ctx context.Context) (bool, error) {
	return d.checkInterrupt(ctx, statusThresholdHigh, intThresholdEn, func(a armedInterrupts) bool { return a.threshold })
}

func (d *Device) checkInterrupt(ctx context.Context, bit, enable byte, isArmed func(armedInterrupts) bool) (bool, error) {
	status, err := d.readReg(ctx, regIntStatus)
	if err != nil {
		return false, err
	}
	if status&bit == 0 {
		return false, nil
	}
	// write one to clear, other bits are left untouched
	if err := d.writeReg(ctx, regIntStatus, bit); err != nil {
		return true, fmt.Errorf("vcnl4020: could not clear interrupt status: %w", err)
	}
	d.stateMx.Lock()
	rearm := isArmed(d.armed)
	d.stateMx.Unlock()
	if !rearm {
		return true, nil
	}
	ctl, err := d.readReg(ctx, regIntControl)
	if err != nil {
		return true, errors.Join(errors.New("vcnl4020: could not re-arm interrupt"), err)
	}
	ctl |= enable
	if err := d.writeReg(ctx, regIntControl, ctl); err != nil {
		return true, errors.Join(errors.New("vcnl4020: could not re-arm interrupt"), err)
	}
	d.updateSettings(func(s *Settings) { s.Interrupts = unpackInterruptControl(ctl) })
	return true, nil
}
