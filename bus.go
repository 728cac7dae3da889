package biosense

import (
	"context"
	"fmt"

	"periph.io/x/conn/v3/physic"
)

var ErrBusBusy = fmt.Errorf("I2C engine is busy (command not completed)")

type AddressableReader interface {
	ReadFromAddr(ctx context.Context, address byte, buffer []byte) error
}

type AddressableWriter interface {
	WriteToAddr(ctx context.Context, address byte, buffer []byte) error
	Release(ctx context.Context) error
}

// I2CBus is the transport used by device drivers. The bus is owned by the
// caller and may be shared by several devices.
type I2CBus interface {
	AddressableReader
	AddressableWriter
}

// Transactor is implemented by buses able to write and then read back from the
// same address with a repeated start, without releasing the bus in between.
type Transactor interface {
	TxToAddr(ctx context.Context, address byte, w, r []byte) error
}

// SpeedSetter is implemented by buses with a configurable clock.
type SpeedSetter interface {
	SetSpeed(ctx context.Context, f physic.Frequency) error
}
