package gpio

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

var ErrAttached = errors.New("line already attached")

// DefaultEdgeTimeout bounds a single WaitForEdge call so that Detach does not
// block on a quiet line.
const DefaultEdgeTimeout = 100 * time.Millisecond

// Pin is the part of periph's gpio.PinIn used by EdgeLine.
type Pin interface {
	String() string
	In(pull gpio.Pull, edge gpio.Edge) error
	WaitForEdge(timeout time.Duration) bool
}

var _ Pin = gpio.PinIn(nil)

// EdgeLine delivers falling edges of an active-low open-drain interrupt output
// to a handler running on a watcher goroutine.
type EdgeLine struct {
	pin     Pin
	timeout time.Duration
	log     *slog.Logger

	mx   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

type EdgeLineOpt func(*EdgeLine)

func WithEdgeTimeout(d time.Duration) EdgeLineOpt {
	return func(l *EdgeLine) {
		if d > 0 {
			l.timeout = d
		}
	}
}

func WithLogger(log *slog.Logger) EdgeLineOpt {
	return func(l *EdgeLine) {
		if log != nil {
			l.log = log
		}
	}
}

func NewEdgeLine(pin Pin, opts ...EdgeLineOpt) *EdgeLine {
	l := &EdgeLine{
		pin:     pin,
		timeout: DefaultEdgeTimeout,
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Open initializes the host drivers and looks up the pin by name
// (e.g. "GPIO17" or "PA6").
func Open(name string, opts ...EdgeLineOpt) (*EdgeLine, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("could not init host: %w", err)
	}
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("could not find gpio pin %q", name)
	}
	return NewEdgeLine(p, opts...), nil
}

func (l *EdgeLine) String() string {
	return l.pin.String()
}

// Attach enables the pull-up and falling edge detection and starts watching.
func (l *EdgeLine) Attach(handler func()) error {
	if handler == nil {
		return errors.New("nil edge handler")
	}
	l.mx.Lock()
	defer l.mx.Unlock()
	if l.stop != nil {
		return ErrAttached
	}
	if err := l.pin.In(gpio.PullUp, gpio.FallingEdge); err != nil {
		return fmt.Errorf("could not enable edge detection on %s: %w", l.pin, err)
	}
	l.stop = make(chan struct{})
	l.done = make(chan struct{})
	go l.watch(handler, l.stop, l.done)
	l.log.Debug("interrupt line attached", "pin", l.pin.String())
	return nil
}

func (l *EdgeLine) watch(handler func(), stop, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-stop:
			return
		default:
		}
		if !l.pin.WaitForEdge(l.timeout) {
			continue
		}
		select {
		case <-stop:
			return
		default:
		}
		handler()
	}
}

// Detach stops the watcher and disables edge detection. Detaching a line that
// is not attached is a no-op. It must not be called from the handler.
func (l *EdgeLine) Detach() error {
	l.mx.Lock()
	defer l.mx.Unlock()
	if l.stop == nil {
		return nil
	}
	close(l.stop)
	<-l.done
	l.stop, l.done = nil, nil
	if err := l.pin.In(gpio.PullUp, gpio.NoEdge); err != nil {
		return fmt.Errorf("could not disable edge detection on %s: %w", l.pin, err)
	}
	l.log.Debug("interrupt line detached", "pin", l.pin.String())
	return nil
}
