package vcnl4020

import (
	"log/slog"
	"time"

	"periph.io/x/conn/v3/physic"
)

type Opts struct {
	Address       byte
	BusSpeed      physic.Frequency
	SettleDelay   time.Duration
	PollInterval  time.Duration
	IdentityCheck bool
	Logger        *slog.Logger
}

type Opt func(*Opts)

// WithAddress overrides the default 0x13 bus address.
func WithAddress(address byte) Opt {
	return func(o *Opts) {
		o.Address = address
	}
}

// WithBusSpeed sets the clock requested from the bus during InitDefault.
// Zero leaves the bus speed untouched.
func WithBusSpeed(f physic.Frequency) Opt {
	return func(o *Opts) {
		o.BusSpeed = f
	}
}

func WithSettleDelay(delay time.Duration) Opt {
	return func(o *Opts) {
		o.SettleDelay = delay
	}
}

// WithPollInterval sets how often Measure checks the data ready bits.
func WithPollInterval(interval time.Duration) Opt {
	return func(o *Opts) {
		o.PollInterval = interval
	}
}

// WithIdentityCheck toggles product/revision verification in InitDefault.
func WithIdentityCheck(enabled bool) Opt {
	return func(o *Opts) {
		o.IdentityCheck = enabled
	}
}

func WithLogger(logger *slog.Logger) Opt {
	return func(o *Opts) {
		o.Logger = logger
	}
}

func defaultOpts() Opts {
	return Opts{
		Address:       DefaultAddress,
		BusSpeed:      800 * physic.KiloHertz,
		SettleDelay:   10 * time.Millisecond,
		PollInterval:  5 * time.Millisecond,
		IdentityCheck: true,
	}
}
