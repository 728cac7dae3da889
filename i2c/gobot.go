package i2c

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"gobot.io/x/gobot/v2/drivers/i2c"

	"github.com/mklimuk/biosense"
)

var (
	_ biosense.I2CBus     = &GobotBus{}
	_ biosense.Transactor = &GobotBus{}
)

// connection is the part of a gobot i2c.Connection used by GobotBus.
type connection interface {
	Read(b []byte) (int, error)
	Write(b []byte) (int, error)
	Close() error
	ReadByteData(reg uint8) (uint8, error)
	ReadBlockData(reg uint8, b []byte) error
}

// GobotBus adapts a gobot i2c connector (e.g. the NanoPi NEO adaptor) to the
// bus interface. One connection is kept per device address.
type GobotBus struct {
	mx    sync.Mutex
	dial  func(address int) (connection, error)
	conns map[byte]connection
}

// NewGobotBus uses bus number busNr of the connector, or its default bus when
// busNr is negative. The connector must already be connected.
func NewGobotBus(connector i2c.Connector, busNr int) *GobotBus {
	if busNr < 0 {
		busNr = connector.DefaultI2cBus()
	}
	return newGobotBus(func(address int) (connection, error) {
		return connector.GetI2cConnection(address, busNr)
	})
}

func newGobotBus(dial func(address int) (connection, error)) *GobotBus {
	return &GobotBus{
		dial:  dial,
		conns: map[byte]connection{},
	}
}

func (b *GobotBus) connection(address byte) (connection, error) {
	if c, ok := b.conns[address]; ok {
		return c, nil
	}
	c, err := b.dial(int(address))
	if err != nil {
		return nil, fmt.Errorf("could not open connection to %x: %w", address, err)
	}
	b.conns[address] = c
	return c, nil
}

func (b *GobotBus) ReadFromAddr(ctx context.Context, address byte, buffer []byte) error {
	b.mx.Lock()
	defer b.mx.Unlock()
	c, err := b.connection(address)
	if err != nil {
		return err
	}
	n, err := c.Read(buffer)
	if err != nil {
		return fmt.Errorf("could not read from i2c bus %x: %w", address, err)
	}
	if n != len(buffer) {
		return fmt.Errorf("short read from %x: %d of %d bytes", address, n, len(buffer))
	}
	dump(ctx, "read", address, buffer)
	return nil
}

func (b *GobotBus) WriteToAddr(ctx context.Context, address byte, buffer []byte) error {
	b.mx.Lock()
	defer b.mx.Unlock()
	c, err := b.connection(address)
	if err != nil {
		return err
	}
	dump(ctx, "write", address, buffer)
	if _, err := c.Write(buffer); err != nil {
		return fmt.Errorf("could not write to i2c bus %x: %w", address, err)
	}
	return nil
}

// TxToAddr maps register reads onto SMBus read byte / read block transfers,
// which use a repeated start. Other shapes fall back to a write followed by a
// read.
func (b *GobotBus) TxToAddr(ctx context.Context, address byte, w, r []byte) error {
	b.mx.Lock()
	defer b.mx.Unlock()
	c, err := b.connection(address)
	if err != nil {
		return err
	}
	dump(ctx, "write", address, w)
	switch {
	case len(w) == 1 && len(r) == 1:
		v, err := c.ReadByteData(w[0])
		if err != nil {
			return fmt.Errorf("could not read register %#02x of %x: %w", w[0], address, err)
		}
		r[0] = v
	case len(w) == 1 && len(r) > 1:
		if err := c.ReadBlockData(w[0], r); err != nil {
			return fmt.Errorf("could not read registers from %#02x of %x: %w", w[0], address, err)
		}
	default:
		if _, err := c.Write(w); err != nil {
			return fmt.Errorf("could not write to i2c bus %x: %w", address, err)
		}
		if len(r) > 0 {
			if _, err := c.Read(r); err != nil {
				return fmt.Errorf("could not read from i2c bus %x: %w", address, err)
			}
		}
	}
	dump(ctx, "read", address, r)
	return nil
}

func (b *GobotBus) Release(ctx context.Context) error {
	return nil
}

// Close closes all cached connections.
func (b *GobotBus) Close() error {
	b.mx.Lock()
	defer b.mx.Unlock()
	var errs []error
	for addr, c := range b.conns {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("could not close connection to %x: %w", addr, err))
		}
		delete(b.conns, addr)
	}
	return errors.Join(errs...)
}
