package gpio

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/gpio"
)

type inCall struct {
	pull gpio.Pull
	edge gpio.Edge
}

type fakePin struct {
	mu    sync.Mutex
	calls []inCall
	inErr error
	edges chan struct{}
}

func newFakePin() *fakePin {
	return &fakePin{edges: make(chan struct{}, 8)}
}

func (p *fakePin) String() string { return "GPIO17" }

func (p *fakePin) In(pull gpio.Pull, edge gpio.Edge) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inErr != nil {
		return p.inErr
	}
	p.calls = append(p.calls, inCall{pull, edge})
	return nil
}

func (p *fakePin) WaitForEdge(timeout time.Duration) bool {
	select {
	case <-p.edges:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (p *fakePin) inCalls() []inCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]inCall(nil), p.calls...)
}

func TestEdgeLine_AttachDetach(t *testing.T) {
	pin := newFakePin()
	line := NewEdgeLine(pin, WithEdgeTimeout(5*time.Millisecond))

	var count atomic.Int32
	require.NoError(t, line.Attach(func() { count.Add(1) }))
	pin.edges <- struct{}{}
	pin.edges <- struct{}{}
	assert.Eventually(t, func() bool { return count.Load() == 2 }, time.Second, time.Millisecond)

	require.NoError(t, line.Detach())
	assert.Equal(t, []inCall{
		{gpio.PullUp, gpio.FallingEdge},
		{gpio.PullUp, gpio.NoEdge},
	}, pin.inCalls())

	// no delivery after detach
	pin.edges <- struct{}{}
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(2), count.Load())
}

func TestEdgeLine_AttachTwice(t *testing.T) {
	line := NewEdgeLine(newFakePin(), WithEdgeTimeout(time.Millisecond))
	require.NoError(t, line.Attach(func() {}))
	defer line.Detach()
	assert.ErrorIs(t, line.Attach(func() {}), ErrAttached)
}

func TestEdgeLine_AttachFailure(t *testing.T) {
	pin := newFakePin()
	pin.inErr = errors.New("edge detection not supported")
	line := NewEdgeLine(pin)
	err := line.Attach(func() {})
	assert.ErrorIs(t, err, pin.inErr)

	// a failed attach leaves the line detached
	pin.inErr = nil
	require.NoError(t, line.Attach(func() {}))
	require.NoError(t, line.Detach())
}

func TestEdgeLine_NilHandler(t *testing.T) {
	line := NewEdgeLine(newFakePin())
	assert.Error(t, line.Attach(nil))
}

func TestEdgeLine_DetachNotAttached(t *testing.T) {
	pin := newFakePin()
	line := NewEdgeLine(pin)
	assert.NoError(t, line.Detach())
	assert.Empty(t, pin.inCalls())
}

func TestEdgeLine_Reattach(t *testing.T) {
	pin := newFakePin()
	line := NewEdgeLine(pin, WithEdgeTimeout(time.Millisecond))
	for i := 0; i < 3; i++ {
		require.NoError(t, line.Attach(func() {}))
		require.NoError(t, line.Detach())
	}
	assert.Len(t, pin.inCalls(), 6)
	assert.Equal(t, "GPIO17", line.String())
}
