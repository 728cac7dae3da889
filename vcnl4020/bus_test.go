package vcnl4020

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/stretchr/testify/mock"
	"periph.io/x/conn/v3/physic"
)

var errNack = errors.New("nack")

type regWrite struct {
	reg   byte
	value byte
}

// regBus emulates the sensor register file. The interrupt status register is
// write-one-to-clear, as on the device.
type regBus struct {
	mu        sync.Mutex
	regs      map[byte]byte
	writes    []regWrite
	pointer   byte
	failWrite map[byte]error
	failRead  map[byte]error
	onWrite   func(b *regBus, reg, value byte)
}

func newRegBus() *regBus {
	return &regBus{
		regs: map[byte]byte{
			regCommand:   cmdConfigLock,
			regProductID: 0x21,
		},
		failWrite: map[byte]error{},
		failRead:  map[byte]error{},
	}
}

func (b *regBus) WriteToAddr(ctx context.Context, address byte, buffer []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if address != DefaultAddress {
		return fmt.Errorf("no device at %#x: %w", address, errNack)
	}
	if len(buffer) == 0 {
		return errNack
	}
	// failWrite only covers register writes, pointer writes fail through failRead
	reg := buffer[0]
	if len(buffer) < 2 {
		b.pointer = reg
		return nil
	}
	if err := b.failWrite[reg]; err != nil {
		return err
	}
	b.pointer = reg
	value := buffer[1]
	b.writes = append(b.writes, regWrite{reg, value})
	if reg == regIntStatus {
		b.regs[reg] &^= value
	} else {
		b.regs[reg] = value
	}
	if b.onWrite != nil {
		b.onWrite(b, reg, value)
	}
	return nil
}

func (b *regBus) ReadFromAddr(ctx context.Context, address byte, buffer []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if address != DefaultAddress {
		return fmt.Errorf("no device at %#x: %w", address, errNack)
	}
	if err := b.failRead[b.pointer]; err != nil {
		return err
	}
	for i := range buffer {
		buffer[i] = b.regs[b.pointer+byte(i)]
	}
	return nil
}

func (b *regBus) Release(ctx context.Context) error {
	return nil
}

func (b *regBus) set(reg, value byte) {
	b.mu.Lock()
	b.regs[reg] = value
	b.mu.Unlock()
}

func (b *regBus) get(reg byte) byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.regs[reg]
}

func (b *regBus) written() []regWrite {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]regWrite(nil), b.writes...)
}

func (b *regBus) resetWrites() {
	b.mu.Lock()
	b.writes = nil
	b.mu.Unlock()
}

// txBus adds repeated-start reads to regBus.
type txBus struct {
	*regBus
	txCount int
}

func (b *txBus) TxToAddr(ctx context.Context, address byte, w, r []byte) error {
	if err := b.WriteToAddr(ctx, address, w); err != nil {
		return err
	}
	b.txCount++
	return b.ReadFromAddr(ctx, address, r)
}

// speedBus records the requested bus speed.
type speedBus struct {
	*txBus
	speed physic.Frequency
	err   error
}

func (b *speedBus) SetSpeed(ctx context.Context, f physic.Frequency) error {
	b.speed = f
	return b.err
}

// MockI2CBus is a mock implementation of biosense.I2CBus using testify/mock
type MockI2CBus struct {
	mock.Mock
}

func (m *MockI2CBus) WriteToAddr(ctx context.Context, address byte, buffer []byte) error {
	args := m.Called(ctx, address, buffer)
	return args.Error(0)
}

func (m *MockI2CBus) ReadFromAddr(ctx context.Context, address byte, buffer []byte) error {
	args := m.Called(ctx, address, buffer)
	if data, ok := args.Get(0).([]byte); ok && len(data) <= len(buffer) {
		copy(buffer, data)
	}
	return args.Error(1)
}

func (m *MockI2CBus) Release(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// fakeLine is an InterruptLine driven by the test.
type fakeLine struct {
	mu        sync.Mutex
	handler   func()
	attached  int
	detached  int
	attachErr error
	detachErr error
}

func (l *fakeLine) Attach(handler func()) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.attachErr != nil {
		return l.attachErr
	}
	l.handler = handler
	l.attached++
	return nil
}

func (l *fakeLine) Detach() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.detachErr != nil {
		return l.detachErr
	}
	l.handler = nil
	l.detached++
	return nil
}

func (l *fakeLine) fire() {
	l.mu.Lock()
	h := l.handler
	l.mu.Unlock()
	if h != nil {
		h()
	}
}
