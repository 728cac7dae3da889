package vcnl4020

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/physic"
)

func newTestDevice(opts ...Opt) (*Device, *txBus) {
	bus := &txBus{regBus: newRegBus()}
	opts = append([]Opt{WithSettleDelay(0), WithPollInterval(0)}, opts...)
	return New(bus, opts...), bus
}

var defaultInitWrites = []regWrite{
	{regCommand, 0x00},
	{regBioRate, 0x06},
	{regLEDCurrent, 10},
	{regALSParam, 0x70},
	{regIntControl, 0x00},
	{regLowThreshL, 0x00},
	{regLowThreshH, 0x00},
	{regHighThreshL, 0x00},
	{regHighThreshH, 0x00},
	{regBioMod, 0x01},
}

func TestInitDefault(t *testing.T) {
	d, bus := newTestDevice()
	err := d.InitDefault(context.Background())
	require.NoError(t, err)
	assert.Equal(t, defaultInitWrites, bus.written())
	assert.Equal(t, DefaultSettings(), d.Settings())
	assert.Equal(t, Idle, d.State())
	assert.Equal(t, 1, bus.txCount, "identity should be read with a repeated start")
}

func TestInitDefault_SetsBusSpeed(t *testing.T) {
	bus := &speedBus{txBus: &txBus{regBus: newRegBus()}}
	d := New(bus, WithSettleDelay(0))
	require.NoError(t, d.InitDefault(context.Background()))
	assert.Equal(t, 800*physic.KiloHertz, bus.speed)

	bus = &speedBus{txBus: &txBus{regBus: newRegBus()}, err: errNack}
	d = New(bus, WithSettleDelay(0), WithBusSpeed(400*physic.KiloHertz))
	err := d.InitDefault(context.Background())
	assert.ErrorIs(t, err, errNack)
	assert.Equal(t, 400*physic.KiloHertz, bus.speed)
	assert.Empty(t, bus.written())
}

func TestInitDefault_IdentityMismatch(t *testing.T) {
	tests := []struct {
		id byte
	}{
		{0x31},
		{0x22},
		{0x00},
		{0xFF},
	}
	for _, test := range tests {
		t.Run(fmt.Sprintf("%#02x", test.id), func(t *testing.T) {
			d, bus := newTestDevice()
			bus.set(regProductID, test.id)
			err := d.InitDefault(context.Background())
			assert.ErrorIs(t, err, ErrIdentityMismatch)
			assert.Empty(t, bus.written())
		})
	}
}

func TestInitDefault_IdentityCheckDisabled(t *testing.T) {
	d, bus := newTestDevice(WithIdentityCheck(false))
	bus.set(regProductID, 0x22)
	require.NoError(t, d.InitDefault(context.Background()))
	assert.Equal(t, defaultInitWrites, bus.written())
}

func TestInitDefault_IDReadFailure(t *testing.T) {
	d, bus := newTestDevice()
	bus.failRead[regProductID] = errNack
	err := d.InitDefault(context.Background())
	assert.ErrorIs(t, err, errNack)
	assert.Empty(t, bus.written())
}

func TestInitDefault_AbortsOnFirstFailure(t *testing.T) {
	tests := []struct {
		name    string
		failReg byte
	}{
		{"command", regCommand},
		{"bio rate", regBioRate},
		{"als params", regALSParam},
		{"low threshold high byte", regLowThreshH},
		{"modulation", regBioMod},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			d, bus := newTestDevice()
			bus.failWrite[test.failReg] = errNack
			err := d.InitDefault(context.Background())
			require.ErrorIs(t, err, errNack)
			// every write before the failing register went through, none after
			var expected []regWrite
			for _, w := range defaultInitWrites {
				if w.reg == test.failReg {
					break
				}
				expected = append(expected, w)
			}
			assert.Equal(t, expected, bus.written())
		})
	}
}

func TestInitDefault_ContextCancelledDuringSettle(t *testing.T) {
	bus := &txBus{regBus: newRegBus()}
	d := New(bus)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := d.InitDefault(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []regWrite{{regCommand, 0x00}}, bus.written())
}

func TestIDs(t *testing.T) {
	d, bus := newTestDevice()
	bus.set(regProductID, 0x21)
	prod, rev, err := d.IDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint8(2), prod)
	assert.Equal(t, uint8(1), rev)
}

func TestSetters_Packing(t *testing.T) {
	tests := []struct {
		name     string
		set      func(ctx context.Context, d *Device) error
		expected regWrite
	}{
		{"led current", func(ctx context.Context, d *Device) error { return d.SetLEDCurrent(ctx, 7) }, regWrite{regLEDCurrent, 7}},
		{"led current clamped", func(ctx context.Context, d *Device) error { return d.SetLEDCurrent(ctx, 25) }, regWrite{regLEDCurrent, 0b00010100}},
		{"bio rate", func(ctx context.Context, d *Device) error { return d.SetBioDataRate(ctx, BioRate31_2) }, regWrite{regBioRate, 0x04}},
		{"bio rate clamped", func(ctx context.Context, d *Device) error { return d.SetBioDataRate(ctx, 9) }, regWrite{regBioRate, 0x07}},
		{"als params", func(ctx context.Context, d *Device) error {
			return d.SetALSParams(ctx, ALSParams{Rate: ALSRate2, Averaging: Average32, OffsetCompensation: true})
		}, regWrite{regALSParam, 0b00011101}},
		{"als params continuous conversion", func(ctx context.Context, d *Device) error {
			return d.SetALSParams(ctx, ALSParams{Rate: ALSRate1, Averaging: Average1, ContinuousConversion: true})
		}, regWrite{regALSParam, 0b10000000}},
		{"als params clamped", func(ctx context.Context, d *Device) error {
			return d.SetALSParams(ctx, ALSParams{Rate: 12, Averaging: 9, OffsetCompensation: true})
		}, regWrite{regALSParam, 0b01111111}},
		{"interrupt control", func(ctx context.Context, d *Device) error {
			return d.SetInterruptControl(ctx, InterruptControl{ALSReady: true, Target: ThresholdBio, Count: Count4})
		}, regWrite{regIntControl, 0b01000100}},
		{"interrupt control any target selects als", func(ctx context.Context, d *Device) error {
			return d.SetInterruptControl(ctx, InterruptControl{BioReady: true, Threshold: true, Target: 5, Count: 200})
		}, regWrite{regIntControl, 0b11101011}},
		{"modulation recommended", func(ctx context.Context, d *Device) error {
			return d.SetBioModulation(ctx, RecommendedModulation)
		}, regWrite{regBioMod, 0x01}},
		{"modulation", func(ctx context.Context, d *Device) error {
			return d.SetBioModulation(ctx, Modulation{DelayTime: 2, Frequency: Freq1M56, DeadTime: 3})
		}, regWrite{regBioMod, 0b01010011}},
		{"modulation clamped", func(ctx context.Context, d *Device) error {
			return d.SetBioModulation(ctx, Modulation{DelayTime: 9, Frequency: 7, DeadTime: 9})
		}, regWrite{regBioMod, 0xFF}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			d, bus := newTestDevice()
			require.NoError(t, test.set(context.Background(), d))
			assert.Equal(t, []regWrite{test.expected}, bus.written())
		})
	}
}

func TestSetters_UpdateSettings(t *testing.T) {
	ctx := context.Background()
	d, _ := newTestDevice()
	require.NoError(t, d.SetLEDCurrent(ctx, 25))
	require.NoError(t, d.SetBioDataRate(ctx, BioRate62_5))
	require.NoError(t, d.SetALSParams(ctx, ALSParams{Rate: 20, Averaging: Average4}))
	require.NoError(t, d.SetInterruptControl(ctx, InterruptControl{Threshold: true, Target: 3}))
	require.NoError(t, d.SetBioModulation(ctx, Modulation{DeadTime: 2}))
	s := d.Settings()
	assert.Equal(t, uint8(20), s.LEDCurrent)
	assert.Equal(t, BioRate62_5, s.BioRate)
	assert.Equal(t, ALSParams{Rate: ALSRate10, Averaging: Average4}, s.ALS)
	assert.Equal(t, InterruptControl{Threshold: true, Target: ThresholdALS}, s.Interrupts)
	assert.Equal(t, Modulation{DeadTime: 2}, s.Modulation)
}

func TestSetters_FailureLeavesSettings(t *testing.T) {
	d, bus := newTestDevice()
	bus.failWrite[regLEDCurrent] = errNack
	err := d.SetLEDCurrent(context.Background(), 5)
	assert.ErrorIs(t, err, errNack)
	assert.Equal(t, uint8(0), d.Settings().LEDCurrent)
}

func TestGetters_Decode(t *testing.T) {
	ctx := context.Background()
	d, bus := newTestDevice()
	bus.set(regBioRate, 0b11111101)
	bus.set(regLEDCurrent, 0b11001010)
	bus.set(regALSParam, 0b10011101)
	bus.set(regIntControl, 0b01101011)
	bus.set(regBioMod, 0b01010011)
	bus.set(regCommand, 0b11100111)

	rate, err := d.BioDataRate(ctx)
	require.NoError(t, err)
	assert.Equal(t, BioRate62_5, rate)

	current, err := d.LEDCurrent(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint8(10), current, "fuse program bits must be masked")
	fuse, err := d.FuseProgramID(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint8(3), fuse)

	als, err := d.ALSParams(ctx)
	require.NoError(t, err)
	assert.Equal(t, ALSParams{Rate: ALSRate2, Averaging: Average32, OffsetCompensation: true, ContinuousConversion: true}, als)

	ctl, err := d.InterruptControl(ctx)
	require.NoError(t, err)
	assert.Equal(t, InterruptControl{BioReady: true, Threshold: true, Target: ThresholdALS, Count: Count8}, ctl)

	mod, err := d.BioModulation(ctx)
	require.NoError(t, err)
	assert.Equal(t, Modulation{DelayTime: 2, Frequency: Freq1M56, DeadTime: 3}, mod)

	cmd, err := d.Command(ctx)
	require.NoError(t, err)
	assert.True(t, cmd.Locked())
	assert.True(t, cmd.ALSDataReady())
	assert.True(t, cmd.BioDataReady())
	assert.True(t, cmd.PeriodicALS())
	assert.True(t, cmd.PeriodicBio())
	assert.True(t, cmd.SelfTimed())
	assert.False(t, cmd.OnDemandALS())

	ready, err := d.ALSDataReady(ctx)
	require.NoError(t, err)
	assert.True(t, ready)
	bus.set(regCommand, cmdConfigLock|cmdALSDataReady)
	ready, err = d.BioDataReady(ctx)
	require.NoError(t, err)
	assert.False(t, ready)
}

func TestDataReady_ReadFailure(t *testing.T) {
	d, bus := newTestDevice()
	bus.set(regCommand, 0xFF)
	bus.failRead[regCommand] = errNack
	ready, err := d.ALSDataReady(context.Background())
	assert.ErrorIs(t, err, errNack)
	assert.False(t, ready)
	ready, err = d.BioDataReady(context.Background())
	assert.ErrorIs(t, err, errNack)
	assert.False(t, ready)
}

func TestThresholds_RoundTrip(t *testing.T) {
	ctx := context.Background()
	d, bus := newTestDevice()
	require.NoError(t, d.SetThresholdLow(ctx, 0x1234))
	require.NoError(t, d.SetThresholdHigh(ctx, 0xBEEF))
	assert.Equal(t, []regWrite{
		{regLowThreshL, 0x34},
		{regLowThreshH, 0x12},
		{regHighThreshL, 0xEF},
		{regHighThreshH, 0xBE},
	}, bus.written())

	th, err := d.Thresholds(ctx)
	require.NoError(t, err)
	assert.Equal(t, Thresholds{Low: 0x1234, High: 0xBEEF}, th)
	assert.Equal(t, th, d.Settings().Thresholds)
}

func TestThresholds_HalfWritten(t *testing.T) {
	ctx := context.Background()
	d, bus := newTestDevice()
	bus.failWrite[regLowThreshH] = errNack
	err := d.SetThresholdLow(ctx, 0xABCD)
	require.ErrorIs(t, err, errNack)
	assert.Equal(t, byte(0xCD), bus.get(regLowThreshL))
	assert.Equal(t, byte(0x00), bus.get(regLowThreshH))
	assert.Equal(t, uint16(0), d.Settings().Thresholds.Low)
}

func TestResultValues(t *testing.T) {
	tests := []struct {
		hi, lo   byte
		expected uint16
	}{
		{0x00, 0x00, 0x0000},
		{0xAB, 0xCD, 0xABCD},
		{0x00, 0xFF, 0x00FF},
		{0xFF, 0xFF, 0xFFFF},
	}
	for _, test := range tests {
		t.Run(fmt.Sprintf("%#04x", test.expected), func(t *testing.T) {
			ctx := context.Background()
			d, bus := newTestDevice()
			bus.set(regALSResultH, test.hi)
			bus.set(regALSResultL, test.lo)
			bus.set(regBioResultH, test.hi)
			bus.set(regBioResultL, test.lo)
			als, err := d.ALSValue(ctx)
			require.NoError(t, err)
			assert.Equal(t, test.expected, als)
			bio, err := d.BioValue(ctx)
			require.NoError(t, err)
			assert.Equal(t, test.expected, bio)
		})
	}
}

func TestResultValues_ReadFailure(t *testing.T) {
	for _, reg := range []byte{regALSResultH, regALSResultL} {
		t.Run(fmt.Sprintf("%#02x", reg), func(t *testing.T) {
			d, bus := newTestDevice()
			bus.failRead[reg] = errNack
			_, err := d.ALSValue(context.Background())
			assert.ErrorIs(t, err, errNack)
		})
	}
	for _, reg := range []byte{regBioResultH, regBioResultL} {
		t.Run(fmt.Sprintf("%#02x", reg), func(t *testing.T) {
			d, bus := newTestDevice()
			bus.failRead[reg] = errNack
			_, err := d.BioValue(context.Background())
			assert.ErrorIs(t, err, errNack)
		})
	}
}

func TestApply(t *testing.T) {
	ctx := context.Background()
	d, bus := newTestDevice()
	s := Settings{
		BioRate:    BioRate250,
		LEDCurrent: 20,
		ALS:        ALSParams{Rate: ALSRate5, Averaging: Average128, OffsetCompensation: true},
		Interrupts: InterruptControl{Threshold: true, Target: ThresholdALS, Count: Count2},
		Thresholds: Thresholds{Low: 100, High: 4000},
		Modulation: RecommendedModulation,
	}
	require.NoError(t, d.Apply(ctx, s))
	assert.Equal(t, s, d.Settings())
	assert.Len(t, bus.written(), 9)
	th, err := d.Thresholds(ctx)
	require.NoError(t, err)
	assert.Equal(t, s.Thresholds, th)
}

func TestReadRegister_WithoutRepeatedStart(t *testing.T) {
	bus := new(MockI2CBus)
	d := New(bus)
	ctx := context.Background()
	bus.On("WriteToAddr", mock.Anything, byte(DefaultAddress), []byte{regProductID}).Return(nil).Once()
	bus.On("ReadFromAddr", mock.Anything, byte(DefaultAddress), mock.Anything).Return([]byte{0x21}, nil).Once()

	prod, rev, err := d.IDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint8(2), prod)
	assert.Equal(t, uint8(1), rev)
	bus.AssertExpectations(t)
}

func TestWriteRegister_BusError(t *testing.T) {
	bus := new(MockI2CBus)
	d := New(bus, WithAddress(0x26))
	ctx := context.Background()
	busErr := errors.New("arbitration lost")
	bus.On("WriteToAddr", mock.Anything, byte(0x26), []byte{regLEDCurrent, 20}).Return(busErr).Once()

	err := d.SetLEDCurrent(ctx, 30)
	assert.ErrorIs(t, err, busErr)
	bus.AssertExpectations(t)
	bus.AssertNotCalled(t, "ReadFromAddr", mock.Anything, mock.Anything, mock.Anything)
}

func TestTypes_Strings(t *testing.T) {
	assert.Equal(t, "125/s", BioRate125.String())
	assert.Equal(t, "250/s", BioRate(12).String())
	assert.Equal(t, "8/s", ALSRate8.String())
	assert.Equal(t, 32, Average32.Conversions())
	assert.Equal(t, 128, Averaging(10).Conversions())
	assert.Equal(t, 16, Count16.Measurements())
	assert.Equal(t, "als", ThresholdTarget(7).String())
	assert.Equal(t, "bio", ThresholdBio.String())
}

func TestRefresh(t *testing.T) {
	ctx := context.Background()
	d, bus := newTestDevice()
	bus.set(regBioRate, 0x03)
	bus.set(regLEDCurrent, 0b01000101)
	bus.set(regALSParam, 0x25)
	bus.set(regIntControl, 0b00101010)
	bus.set(regLowThreshH, 0x00)
	bus.set(regLowThreshL, 10)
	bus.set(regHighThreshH, 0x01)
	bus.set(regHighThreshL, 0x2C)
	bus.set(regBioMod, 0x01)

	require.NoError(t, d.Refresh(ctx))
	assert.Equal(t, Settings{
		BioRate:    BioRate16_6,
		LEDCurrent: 5,
		ALS:        ALSParams{Rate: ALSRate3, Averaging: Average32},
		Interrupts: InterruptControl{Threshold: true, BioReady: true, Count: Count2},
		Thresholds: Thresholds{Low: 10, High: 300},
		Modulation: RecommendedModulation,
	}, d.Settings())
	assert.Empty(t, bus.written())
}

func TestRefresh_ReadFailure(t *testing.T) {
	ctx := context.Background()
	d, bus := newTestDevice()
	bus.set(regHighThreshL, 0x2C)
	bus.failRead[regHighThreshL] = errNack
	assert.ErrorIs(t, d.Refresh(ctx), errNack)
	assert.Equal(t, Settings{}, d.Settings(), "settings are only replaced after a full read")
}
