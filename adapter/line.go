package adapter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

var ErrPinNotInput = errors.New("pin is not configured as a GPIO input")

const DefaultLinePollInterval = 10 * time.Millisecond

// GPIOLine watches one of the adapter GP pins for falling edges by polling its
// level, so a sensor interrupt output can be used without host GPIO.
type GPIOLine struct {
	dev      *MCP2221
	pin      int
	interval time.Duration

	mx     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewGPIOLine(dev *MCP2221, pin int, interval time.Duration) *GPIOLine {
	if interval <= 0 {
		interval = DefaultLinePollInterval
	}
	return &GPIOLine{dev: dev, pin: pin, interval: interval}
}

// Attach checks that the pin is a GPIO input and starts polling it. The pin
// configuration lives in the adapter flash and is not changed here.
func (l *GPIOLine) Attach(handler func()) error {
	if l.pin < 0 || l.pin > 3 {
		return fmt.Errorf("invalid GP pin %d", l.pin)
	}
	if handler == nil {
		return errors.New("nil edge handler")
	}
	l.mx.Lock()
	defer l.mx.Unlock()
	if l.cancel != nil {
		return errors.New("line already attached")
	}
	ctx, cancel := context.WithCancel(context.Background())
	params, err := l.dev.GetGPIOParameters(ctx)
	if err != nil {
		cancel()
		return fmt.Errorf("could not read GP%d configuration: %w", l.pin, err)
	}
	if params.Modes[l.pin] != GPIOModeIn || params.Designations[l.pin] != GPIOOperation {
		cancel()
		return fmt.Errorf("GP%d: %w", l.pin, ErrPinNotInput)
	}
	l.cancel = cancel
	l.done = make(chan struct{})
	go l.poll(ctx, handler, l.done)
	return nil
}

func (l *GPIOLine) poll(ctx context.Context, handler func(), done chan struct{}) {
	defer close(done)
	t := time.NewTicker(l.interval)
	defer t.Stop()
	// the line idles high
	previous := byte(1)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		values, err := l.dev.ReadGPIO(ctx)
		if err != nil {
			if ctx.Err() == nil {
				slog.Debug("interrupt line poll failed", "pin", l.pin, "error", err)
			}
			continue
		}
		level := values.Values[l.pin]
		if previous != 0 && level == 0 {
			handler()
		}
		previous = level
	}
}

// Detach stops polling. It must not be called from the handler.
func (l *GPIOLine) Detach() error {
	l.mx.Lock()
	defer l.mx.Unlock()
	if l.cancel == nil {
		return nil
	}
	l.cancel()
	<-l.done
	l.cancel, l.done = nil, nil
	return nil
}
