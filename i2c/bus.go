package i2c

import (
	"context"
	"fmt"
	"log/slog"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"

	"github.com/mklimuk/biosense"
	"github.com/mklimuk/biosense/snsctx"
)

var (
	_ biosense.I2CBus      = &GenericBus{}
	_ biosense.Transactor  = &GenericBus{}
	_ biosense.SpeedSetter = &GenericBus{}
)

// GenericBus is an i2c-dev bus opened through periph.io.
type GenericBus struct {
	bus i2c.BusCloser
}

// NewGenericBus opens the bus by name ("" for the first one, "1" or
// "/dev/i2c-1").
func NewGenericBus(dev string) (*GenericBus, error) {
	state, err := host.Init()
	if err != nil {
		return nil, fmt.Errorf("could not init host: %w", err)
	}
	for _, driver := range state.Loaded {
		slog.Debug("host driver loaded", "driver", driver.String())
	}
	bus, err := i2creg.Open(dev)
	if err != nil {
		return nil, fmt.Errorf("could not open i2c bus: %w", err)
	}
	return WrapBus(bus), nil
}

// WrapBus uses an already opened periph bus.
func WrapBus(bus i2c.BusCloser) *GenericBus {
	return &GenericBus{bus: bus}
}

func (b *GenericBus) ReadFromAddr(ctx context.Context, address byte, buffer []byte) error {
	err := b.bus.Tx(uint16(address), nil, buffer)
	if err != nil {
		return fmt.Errorf("could not read from i2c bus %x: %w", address, err)
	}
	dump(ctx, "read", address, buffer)
	return nil
}

func (b *GenericBus) WriteToAddr(ctx context.Context, address byte, buffer []byte) error {
	dump(ctx, "write", address, buffer)
	err := b.bus.Tx(uint16(address), buffer, nil)
	if err != nil {
		return fmt.Errorf("could not write to i2c bus %x: %w", address, err)
	}
	return nil
}

// TxToAddr writes w then reads r after a repeated start.
func (b *GenericBus) TxToAddr(ctx context.Context, address byte, w, r []byte) error {
	dump(ctx, "write", address, w)
	err := b.bus.Tx(uint16(address), w, r)
	if err != nil {
		return fmt.Errorf("could not transact with %x on i2c bus: %w", address, err)
	}
	dump(ctx, "read", address, r)
	return nil
}

func (b *GenericBus) SetSpeed(ctx context.Context, f physic.Frequency) error {
	if err := b.bus.SetSpeed(f); err != nil {
		return fmt.Errorf("could not set i2c bus speed to %s: %w", f, err)
	}
	return nil
}

func (b *GenericBus) Release(ctx context.Context) error {
	return nil
}

func (b *GenericBus) Close() error {
	return b.bus.Close()
}

func (b *GenericBus) String() string {
	return b.bus.String()
}

func dump(ctx context.Context, op string, address byte, buffer []byte) {
	snsctx.DumpFrame(ctx, "i2c "+op, buffer, "address", fmt.Sprintf("%#02x", address))
}
