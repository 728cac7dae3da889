package vcnl4020

import "context"

// Sensor is the reading side of the driver.
type Sensor interface {
	ALSValue(ctx context.Context) (uint16, error)
	BioValue(ctx context.Context) (uint16, error)
}

var _ Sensor = &Device{}

// ReadingFunc produces a reading for the given channel.
type ReadingFunc func(ctx context.Context, ch Channel) (uint16, error)

// MockSensor is a Sensor driven by a behavior function, for use without
// hardware.
//
// Example usage:
//
//	// Static value
//	s := NewMockSensor(func(ctx context.Context, ch Channel) (uint16, error) {
//		return 1200, nil
//	})
//
//	// Error simulation
//	s := NewMockSensor(func(ctx context.Context, ch Channel) (uint16, error) {
//		return 0, fmt.Errorf("sensor malfunction")
//	})
type MockSensor struct {
	behavior ReadingFunc
}

func NewMockSensor(behavior ReadingFunc) *MockSensor {
	return &MockSensor{behavior: behavior}
}

func (m *MockSensor) ALSValue(ctx context.Context) (uint16, error) {
	return m.behavior(ctx, ChannelALS)
}

func (m *MockSensor) BioValue(ctx context.Context) (uint16, error) {
	return m.behavior(ctx, ChannelBio)
}
