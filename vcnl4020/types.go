package vcnl4020

import "fmt"

// BioRate selects the self-timed biosensor measurement rate.
type BioRate uint8

const (
	BioRate1_95 BioRate = iota // 1.95 measurements/s
	BioRate3_9                 // 3.90625 measurements/s
	BioRate7_8                 // 7.8125 measurements/s
	BioRate16_6                // 16.625 measurements/s
	BioRate31_2                // 31.25 measurements/s
	BioRate62_5                // 62.5 measurements/s
	BioRate125                 // 125 measurements/s
	BioRate250                 // 250 measurements/s
)

var bioRateNames = [...]string{"1.95/s", "3.9/s", "7.8/s", "16.6/s", "31.25/s", "62.5/s", "125/s", "250/s"}

func (r BioRate) clamp() BioRate {
	if r > BioRate250 {
		return BioRate250
	}
	return r
}

func (r BioRate) String() string {
	return bioRateNames[r.clamp()]
}

// ALSRate selects the self-timed ambient light measurement rate.
type ALSRate uint8

const (
	ALSRate1  ALSRate = iota // 1 sample/s
	ALSRate2                 // 2 samples/s
	ALSRate3                 // 3 samples/s
	ALSRate4                 // 4 samples/s
	ALSRate5                 // 5 samples/s
	ALSRate6                 // 6 samples/s
	ALSRate8                 // 8 samples/s
	ALSRate10                // 10 samples/s
)

var alsRateSamples = [...]int{1, 2, 3, 4, 5, 6, 8, 10}

func (r ALSRate) clamp() ALSRate {
	if r > ALSRate10 {
		return ALSRate10
	}
	return r
}

func (r ALSRate) String() string {
	return fmt.Sprintf("%d/s", alsRateSamples[r.clamp()])
}

// Averaging is the number of conversions averaged into one ALS result, 2^n.
type Averaging uint8

const (
	Average1 Averaging = iota
	Average2
	Average4
	Average8
	Average16
	Average32
	Average64
	Average128
)

func (a Averaging) clamp() Averaging {
	if a > Average128 {
		return Average128
	}
	return a
}

// Conversions returns the number of conversions per measurement.
func (a Averaging) Conversions() int {
	return 1 << a.clamp()
}

// InterruptCount is the number of consecutive measurements beyond a threshold
// needed to raise the threshold interrupt, 2^n.
type InterruptCount uint8

const (
	Count1 InterruptCount = iota
	Count2
	Count4
	Count8
	Count16
	Count32
	Count64
	Count128
)

func (c InterruptCount) clamp() InterruptCount {
	if c > Count128 {
		return Count128
	}
	return c
}

// Measurements returns the number of consecutive measurements.
func (c InterruptCount) Measurements() int {
	return 1 << c.clamp()
}

// ThresholdTarget selects which channel the thresholds are compared against.
// Any value other than ThresholdBio selects the ambient light channel.
type ThresholdTarget uint8

const (
	ThresholdBio ThresholdTarget = 0
	ThresholdALS ThresholdTarget = 1
)

func (t ThresholdTarget) String() string {
	if t == ThresholdBio {
		return "bio"
	}
	return "als"
}

// ModFrequency is the biosensor test signal frequency.
type ModFrequency uint8

const (
	Freq390k ModFrequency = iota // 390.625 kHz
	Freq781k                     // 781.25 kHz
	Freq1M56                     // 1.5625 MHz
	Freq3M12                     // 3.125 MHz
)

func (f ModFrequency) clamp() ModFrequency {
	if f > Freq3M12 {
		return Freq3M12
	}
	return f
}

// ALSParams holds the ambient light parameter register fields.
type ALSParams struct {
	Rate                 ALSRate   `yaml:"rate"`
	Averaging            Averaging `yaml:"averaging"`
	OffsetCompensation   bool      `yaml:"offset_compensation"`
	ContinuousConversion bool      `yaml:"continuous_conversion"`
}

func (p ALSParams) pack() byte {
	var b byte
	if p.ContinuousConversion {
		b |= alsContConv
	}
	b |= byte(p.Rate.clamp()) << alsRateShift
	if p.OffsetCompensation {
		b |= alsAutoOffset
	}
	b |= byte(p.Averaging.clamp())
	return b
}

func (p ALSParams) clamped() ALSParams {
	p.Rate = p.Rate.clamp()
	p.Averaging = p.Averaging.clamp()
	return p
}

func unpackALSParams(b byte) ALSParams {
	return ALSParams{
		Rate:                 ALSRate((b & alsRateMask) >> alsRateShift),
		Averaging:            Averaging(b & alsAveragingMask),
		OffsetCompensation:   b&alsAutoOffset != 0,
		ContinuousConversion: b&alsContConv != 0,
	}
}

// InterruptControl holds the interrupt control register fields.
type InterruptControl struct {
	BioReady  bool            `yaml:"bio_ready"`
	ALSReady  bool            `yaml:"als_ready"`
	Threshold bool            `yaml:"threshold"`
	Target    ThresholdTarget `yaml:"target"`
	Count     InterruptCount  `yaml:"count"`
}

func (c InterruptControl) pack() byte {
	var b byte
	if c.BioReady {
		b |= intBioReadyEn
	}
	if c.ALSReady {
		b |= intALSReadyEn
	}
	if c.Threshold {
		b |= intThresholdEn
	}
	if c.Target != ThresholdBio {
		b |= intThresholdALS
	}
	b |= byte(c.Count.clamp()) << intCountShift
	return b
}

func (c InterruptControl) clamped() InterruptControl {
	if c.Target != ThresholdBio {
		c.Target = ThresholdALS
	}
	c.Count = c.Count.clamp()
	return c
}

func unpackInterruptControl(b byte) InterruptControl {
	c := InterruptControl{
		BioReady:  b&intBioReadyEn != 0,
		ALSReady:  b&intALSReadyEn != 0,
		Threshold: b&intThresholdEn != 0,
		Count:     InterruptCount((b & intCountMask) >> intCountShift),
	}
	if b&intThresholdALS != 0 {
		c.Target = ThresholdALS
	}
	return c
}

// Modulation holds the biosensor modulator timing adjustment fields.
// The recommended setting is delay 0, dead time 1, frequency 390.625 kHz.
type Modulation struct {
	DelayTime uint8        `yaml:"delay_time"`
	Frequency ModFrequency `yaml:"frequency"`
	DeadTime  uint8        `yaml:"dead_time"`
}

// RecommendedModulation is the modulator setting recommended by the vendor.
var RecommendedModulation = unpackModulation(modRecommended)

func (m Modulation) pack() byte {
	return m.DelayTime<<modDelayShift&modDelayMask |
		byte(m.Frequency.clamp())<<modFrequencyShift |
		m.DeadTime&modDeadTimeMask
}

func (m Modulation) clamped() Modulation {
	m.DelayTime = min(m.DelayTime, 7)
	m.Frequency = m.Frequency.clamp()
	m.DeadTime = min(m.DeadTime, 7)
	return m
}

func unpackModulation(b byte) Modulation {
	return Modulation{
		DelayTime: (b & modDelayMask) >> modDelayShift,
		Frequency: ModFrequency((b & modFrequencyMask) >> modFrequencyShift),
		DeadTime:  b & modDeadTimeMask,
	}
}

// Thresholds are the low and high interrupt thresholds.
type Thresholds struct {
	Low  uint16 `yaml:"low"`
	High uint16 `yaml:"high"`
}

// Command is the content of the command register.
type Command byte

func (c Command) ALSDataReady() bool { return byte(c)&cmdALSDataReady != 0 }
func (c Command) BioDataReady() bool { return byte(c)&cmdBioDataReady != 0 }
func (c Command) SelfTimed() bool    { return byte(c)&cmdSelfTimedEnable != 0 }
func (c Command) PeriodicBio() bool  { return byte(c)&cmdPeriodicBio != 0 }
func (c Command) PeriodicALS() bool  { return byte(c)&cmdPeriodicALS != 0 }
func (c Command) OnDemandBio() bool  { return byte(c)&cmdOnDemandBio != 0 }
func (c Command) OnDemandALS() bool  { return byte(c)&cmdOnDemandALS != 0 }
func (c Command) Locked() bool       { return byte(c)&cmdConfigLock != 0 }

// Settings mirrors the last configuration written to the device.
type Settings struct {
	BioRate    BioRate          `yaml:"bio_rate"`
	LEDCurrent uint8            `yaml:"led_current"`
	ALS        ALSParams        `yaml:"als"`
	Interrupts InterruptControl `yaml:"interrupts"`
	Thresholds Thresholds       `yaml:"thresholds"`
	Modulation Modulation       `yaml:"modulation"`
}

// DefaultSettings returns the configuration applied by InitDefault.
func DefaultSettings() Settings {
	return Settings{
		BioRate:    BioRate125,
		LEDCurrent: 10,
		ALS: ALSParams{
			Rate:      ALSRate10,
			Averaging: Average1,
		},
		Interrupts: InterruptControl{Target: ThresholdBio, Count: Count1},
		Modulation: RecommendedModulation,
	}
}
