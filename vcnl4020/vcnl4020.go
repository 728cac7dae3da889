// Package vcnl4020 provides a driver for the Vishay VCNL4020C biosensor and
// ambient light sensor.
//
// Datasheet: https://www.vishay.com/docs/84180/vcnl4020c.pdf
//
// Typical usage:
//
//	d := vcnl4020.New(bus)
//	if err := d.InitDefault(ctx); err != nil {
//		return err
//	}
//	v, err := d.Measure(ctx, vcnl4020.ChannelBio)
//
// All registers are a single byte wide. 16-bit values (results, thresholds) are
// split over a high and a low register and are transferred one byte at a time,
// so a 16-bit write is not atomic.
package vcnl4020

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mklimuk/biosense"
)

var (
	ErrIdentityMismatch = errors.New("vcnl4020: unexpected product or revision ID")
	ErrUnknownChannel   = errors.New("vcnl4020: unknown channel")
)

// Device represents the VCNL4020C sensor on a bus owned by the caller.
type Device struct {
	// serializes register transactions
	mx        sync.Mutex
	transport biosense.I2CBus
	opts      Opts
	log       *slog.Logger

	stateMx  sync.Mutex
	settings Settings
	state    State
	line     InterruptLine
	handler  func()
	// line currently delivering edges, nil when detached
	attached InterruptLine
	armed    armedInterrupts
}

type armedInterrupts struct {
	bio       bool
	als       bool
	threshold bool
}

func New(transport biosense.I2CBus, opts ...Opt) *Device {
	config := defaultOpts()
	for _, opt := range opts {
		opt(&config)
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Device{
		transport: transport,
		opts:      config,
		log:       logger.With("device", "vcnl4020", "addr", fmt.Sprintf("%#02x", config.Address)),
	}
}

// Address returns the 7-bit bus address of the device.
func (d *Device) Address() byte {
	return d.opts.Address
}

// InitDefault verifies the device identity, resets the command register and
// applies DefaultSettings. An attached interrupt line is detached. The first
// failing step aborts the sequence; the device may then be partially
// configured and InitDefault should be run again.
func (d *Device) InitDefault(ctx context.Context) error {
	if setter, ok := d.transport.(biosense.SpeedSetter); ok && d.opts.BusSpeed > 0 {
		if err := setter.SetSpeed(ctx, d.opts.BusSpeed); err != nil {
			return fmt.Errorf("vcnl4020: could not set bus speed: %w", err)
		}
	}
	prod, rev, err := d.IDs(ctx)
	if err != nil {
		return err
	}
	if d.opts.IdentityCheck && (prod != ProductID || rev != RevisionID) {
		return fmt.Errorf("%w: product %d revision %d", ErrIdentityMismatch, prod, rev)
	}
	if err := d.detach(); err != nil {
		return err
	}
	if err := d.writeReg(ctx, regCommand, 0); err != nil {
		return fmt.Errorf("vcnl4020: could not reset command register: %w", err)
	}
	d.stateMx.Lock()
	d.state = Idle
	d.armed = armedInterrupts{}
	d.stateMx.Unlock()
	if err := sleep(ctx, d.opts.SettleDelay); err != nil {
		return err
	}
	if err := d.Apply(ctx, DefaultSettings()); err != nil {
		return err
	}
	d.log.DebugContext(ctx, "sensor initialized", "product", prod, "revision", rev)
	return nil
}

// Apply writes every field of s to the device, stopping at the first error.
func (d *Device) Apply(ctx context.Context, s Settings) error {
	if err := d.SetBioDataRate(ctx, s.BioRate); err != nil {
		return err
	}
	if err := d.SetLEDCurrent(ctx, s.LEDCurrent); err != nil {
		return err
	}
	if err := d.SetALSParams(ctx, s.ALS); err != nil {
		return err
	}
	if err := d.SetInterruptControl(ctx, s.Interrupts); err != nil {
		return err
	}
	if err := d.SetThresholdLow(ctx, s.Thresholds.Low); err != nil {
		return err
	}
	if err := d.SetThresholdHigh(ctx, s.Thresholds.High); err != nil {
		return err
	}
	return d.SetBioModulation(ctx, s.Modulation)
}

// Settings returns the last configuration successfully written through this
// Device. Registers are authoritative: the copy is not refreshed from hardware.
func (d *Device) Settings() Settings {
	d.stateMx.Lock()
	defer d.stateMx.Unlock()
	return d.settings
}

// Refresh reads the configuration registers back into Settings. Run it before
// starting measurements on a device configured by another Device or process,
// since threshold interrupts are only armed for non-zero thresholds.
func (d *Device) Refresh(ctx context.Context) error {
	var (
		s   Settings
		err error
	)
	if s.BioRate, err = d.BioDataRate(ctx); err != nil {
		return err
	}
	if s.LEDCurrent, err = d.LEDCurrent(ctx); err != nil {
		return err
	}
	if s.ALS, err = d.ALSParams(ctx); err != nil {
		return err
	}
	if s.Interrupts, err = d.InterruptControl(ctx); err != nil {
		return err
	}
	if s.Thresholds, err = d.Thresholds(ctx); err != nil {
		return err
	}
	if s.Modulation, err = d.BioModulation(ctx); err != nil {
		return err
	}
	d.updateSettings(func(cur *Settings) { *cur = s })
	return nil
}

func (d *Device) updateSettings(update func(s *Settings)) {
	d.stateMx.Lock()
	update(&d.settings)
	d.stateMx.Unlock()
}

// Command reads the command register.
func (d *Device) Command(ctx context.Context) (Command, error) {
	b, err := d.readReg(ctx, regCommand)
	return Command(b), err
}

// ALSDataReady reports whether an ambient light result is waiting to be read.
func (d *Device) ALSDataReady(ctx context.Context) (bool, error) {
	cmd, err := d.Command(ctx)
	if err != nil {
		return false, err
	}
	return cmd.ALSDataReady(), nil
}

// BioDataReady reports whether a biosensor result is waiting to be read.
func (d *Device) BioDataReady(ctx context.Context) (bool, error) {
	cmd, err := d.Command(ctx)
	if err != nil {
		return false, err
	}
	return cmd.BioDataReady(), nil
}

// IDs returns the product and revision IDs.
func (d *Device) IDs(ctx context.Context) (prodID, revID uint8, err error) {
	b, err := d.readReg(ctx, regProductID)
	if err != nil {
		return 0, 0, err
	}
	return b >> prodIDShift, b & revisionMask, nil
}

func (d *Device) BioDataRate(ctx context.Context) (BioRate, error) {
	b, err := d.readReg(ctx, regBioRate)
	return BioRate(b & bioRateMask), err
}

// SetBioDataRate sets the self-timed biosensor rate. Rates above BioRate250
// are clamped.
func (d *Device) SetBioDataRate(ctx context.Context, rate BioRate) error {
	rate = rate.clamp()
	if err := d.writeReg(ctx, regBioRate, byte(rate)); err != nil {
		return fmt.Errorf("vcnl4020: could not set bio data rate: %w", err)
	}
	d.updateSettings(func(s *Settings) { s.BioRate = rate })
	return nil
}

// LEDCurrent returns the IR LED current setting in 10 mA steps.
func (d *Device) LEDCurrent(ctx context.Context) (uint8, error) {
	b, err := d.readReg(ctx, regLEDCurrent)
	return b & currentMask, err
}

// FuseProgramID returns the read-only fuse program ID held in the top bits of
// the LED current register.
func (d *Device) FuseProgramID(ctx context.Context) (uint8, error) {
	b, err := d.readReg(ctx, regLEDCurrent)
	return (b & fuseMask) >> fuseShift, err
}

// SetLEDCurrent sets the IR LED current in 10 mA steps (0 to 200 mA).
// Values above 20 are clamped to 20.
func (d *Device) SetLEDCurrent(ctx context.Context, current uint8) error {
	current = min(current, maxCurrent)
	if err := d.writeReg(ctx, regLEDCurrent, current); err != nil {
		return fmt.Errorf("vcnl4020: could not set LED current: %w", err)
	}
	d.updateSettings(func(s *Settings) { s.LEDCurrent = current })
	return nil
}

func (d *Device) ALSParams(ctx context.Context) (ALSParams, error) {
	b, err := d.readReg(ctx, regALSParam)
	if err != nil {
		return ALSParams{}, err
	}
	return unpackALSParams(b), nil
}

// SetALSParams writes the ambient light parameter register. Rate and
// averaging beyond their maximum are clamped.
func (d *Device) SetALSParams(ctx context.Context, p ALSParams) error {
	p = p.clamped()
	if err := d.writeReg(ctx, regALSParam, p.pack()); err != nil {
		return fmt.Errorf("vcnl4020: could not set ALS parameters: %w", err)
	}
	d.updateSettings(func(s *Settings) { s.ALS = p })
	return nil
}

func (d *Device) InterruptControl(ctx context.Context) (InterruptControl, error) {
	b, err := d.readReg(ctx, regIntControl)
	if err != nil {
		return InterruptControl{}, err
	}
	return unpackInterruptControl(b), nil
}

// SetInterruptControl writes the interrupt control register. Any target other
// than ThresholdBio selects the ambient light channel.
func (d *Device) SetInterruptControl(ctx context.Context, c InterruptControl) error {
	c = c.clamped()
	if err := d.writeReg(ctx, regIntControl, c.pack()); err != nil {
		return fmt.Errorf("vcnl4020: could not set interrupt control: %w", err)
	}
	d.updateSettings(func(s *Settings) { s.Interrupts = c })
	return nil
}

// Thresholds reads both interrupt thresholds.
func (d *Device) Thresholds(ctx context.Context) (Thresholds, error) {
	low, err := d.readWord(ctx, regLowThreshH, regLowThreshL)
	if err != nil {
		return Thresholds{}, err
	}
	high, err := d.readWord(ctx, regHighThreshH, regHighThreshL)
	if err != nil {
		return Thresholds{}, err
	}
	return Thresholds{Low: low, High: high}, nil
}

// SetThresholdLow writes the low threshold, low byte first.
func (d *Device) SetThresholdLow(ctx context.Context, threshold uint16) error {
	if err := d.writeWord(ctx, regLowThreshH, regLowThreshL, threshold); err != nil {
		return fmt.Errorf("vcnl4020: could not set low threshold: %w", err)
	}
	d.updateSettings(func(s *Settings) { s.Thresholds.Low = threshold })
	return nil
}

// SetThresholdHigh writes the high threshold, low byte first.
func (d *Device) SetThresholdHigh(ctx context.Context, threshold uint16) error {
	if err := d.writeWord(ctx, regHighThreshH, regHighThreshL, threshold); err != nil {
		return fmt.Errorf("vcnl4020: could not set high threshold: %w", err)
	}
	d.updateSettings(func(s *Settings) { s.Thresholds.High = threshold })
	return nil
}

func (d *Device) BioModulation(ctx context.Context) (Modulation, error) {
	b, err := d.readReg(ctx, regBioMod)
	if err != nil {
		return Modulation{}, err
	}
	return unpackModulation(b), nil
}

// SetBioModulation writes the biosensor modulator timing adjustment.
// Use RecommendedModulation unless the vendor advises otherwise.
func (d *Device) SetBioModulation(ctx context.Context, m Modulation) error {
	m = m.clamped()
	if err := d.writeReg(ctx, regBioMod, m.pack()); err != nil {
		return fmt.Errorf("vcnl4020: could not set bio modulation: %w", err)
	}
	d.updateSettings(func(s *Settings) { s.Modulation = m })
	return nil
}

// ALSValue reads the ambient light result.
func (d *Device) ALSValue(ctx context.Context) (uint16, error) {
	return d.readWord(ctx, regALSResultH, regALSResultL)
}

// BioValue reads the biosensor result.
func (d *Device) BioValue(ctx context.Context) (uint16, error) {
	return d.readWord(ctx, regBioResultH, regBioResultL)
}

// readWord reads the low register first, then the high one.
func (d *Device) readWord(ctx context.Context, regH, regL byte) (uint16, error) {
	lo, err := d.readReg(ctx, regL)
	if err != nil {
		return 0, err
	}
	hi, err := d.readReg(ctx, regH)
	if err != nil {
		return 0, err
	}
	return uint16(hi)<<8 | uint16(lo), nil
}

// writeWord writes the low register first, then the high one, as two
// independent transactions.
func (d *Device) writeWord(ctx context.Context, regH, regL byte, value uint16) error {
	if err := d.writeReg(ctx, regL, byte(value)); err != nil {
		return err
	}
	return d.writeReg(ctx, regH, byte(value>>8))
}

func (d *Device) readReg(ctx context.Context, reg byte) (byte, error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	var buf [1]byte
	var err error
	if tx, ok := d.transport.(biosense.Transactor); ok {
		err = tx.TxToAddr(ctx, d.opts.Address, []byte{reg}, buf[:])
	} else {
		err = d.transport.WriteToAddr(ctx, d.opts.Address, []byte{reg})
		if err == nil {
			err = d.transport.ReadFromAddr(ctx, d.opts.Address, buf[:])
		}
	}
	if err != nil {
		return 0, fmt.Errorf("vcnl4020: could not read register %#02x: %w", reg, err)
	}
	d.log.DebugContext(ctx, "register read", "reg", fmt.Sprintf("%#02x", reg), "value", fmt.Sprintf("%#08b", buf[0]))
	return buf[0], nil
}

func (d *Device) writeReg(ctx context.Context, reg, value byte) error {
	d.mx.Lock()
	defer d.mx.Unlock()
	err := d.transport.WriteToAddr(ctx, d.opts.Address, []byte{reg, value})
	if err != nil {
		return fmt.Errorf("vcnl4020: could not write register %#02x: %w", reg, err)
	}
	d.log.DebugContext(ctx, "register write", "reg", fmt.Sprintf("%#02x", reg), "value", fmt.Sprintf("%#08b", value))
	return nil
}

func sleep(ctx context.Context, duration time.Duration) error {
	if duration <= 0 {
		return nil
	}
	timer := time.NewTimer(duration)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
