package adapter

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/karalabe/hid"
	"periph.io/x/conn/v3/physic"

	"github.com/mklimuk/biosense"
	"github.com/mklimuk/biosense/snsctx"
)

const VendorID = 0x04D8
const ProductID = 0x00DD

// ClockHz is the reference the I2C speed divider is computed from.
const ClockHz = 12_000_000

// maxTransfer is the payload of a single HID report.
const maxTransfer = 60

const (
	cmdStatus          byte = 0x10
	cmdI2CGetData      byte = 0x40
	cmdGPIOGet         byte = 0x51
	cmdI2CWrite        byte = 0x90
	cmdI2CRead         byte = 0x91
	cmdI2CReadRepStart byte = 0x93
	cmdI2CWriteNoStop  byte = 0x94
	cmdFlashRead       byte = 0xB0
)

var ErrCommandUnsupported = errors.New("unsupported command")
var ErrCommandFailed = errors.New("command failed")
var ErrDeviceNotFound = errors.New("MCP2221 device not found")

var (
	_ biosense.I2CBus      = &MCP2221{}
	_ biosense.Transactor  = &MCP2221{}
	_ biosense.SpeedSetter = &MCP2221{}
)

// hidDevice is the part of hid.Device used by the adapter.
type hidDevice interface {
	Write(b []byte) (int, error)
	Read(b []byte) (int, error)
	Close() error
}

type opener func(index int) (hidDevice, error)

// MCP2221 is a USB-HID to I2C bridge. The HID device is opened for every
// command so that several processes may share the adapter.
type MCP2221 struct {
	mx           sync.Mutex
	request      []byte
	response     []byte
	responseWait time.Duration
	index        int
	open         opener
}

type MCP2221Status struct {
	State                  byte   `yaml:"i2c_state"`
	I2CDataBufferCounter   int    `yaml:"i2c_buffer_counter"`
	I2CSpeedDivider        int    `yaml:"i2c_speed_divider"`
	I2CTimeout             int    `yaml:"i2c_timeout"`
	CurrentAddress         string `yaml:"current_address"`
	LastWriteRequestedSize uint16 `yaml:"last_write_requested"`
	LastWriteSentSize      uint16 `yaml:"last_write_sent"`
	ReadPending            int    `yaml:"read_pending"`
	SCL                    byte   `yaml:"scl"`
	SDA                    byte   `yaml:"sda"`
	Interrupt              byte   `yaml:"interrupt"`
	Hardware               string `yaml:"hardware"`
	Firmware               string `yaml:"firmware"`
}

// Speed returns the bus clock matching the reported divider.
func (s *MCP2221Status) Speed() physic.Frequency {
	if s.I2CSpeedDivider == 0 {
		return 0
	}
	return physic.Frequency(ClockHz/(s.I2CSpeedDivider+3)) * physic.Hertz
}

type GPIOMode byte

const (
	GPIOModeOut         GPIOMode = 0b00000000
	GPIOModeIn          GPIOMode = 0b00001000
	GPIOModeNoOperation GPIOMode = 0xEF
)

func (m GPIOMode) String() string {
	switch m {
	case GPIOModeIn:
		return "INPUT"
	case GPIOModeOut:
		return "OUTPUT"
	default:
		return "NOOP"
	}
}

func (m GPIOMode) MarshalYAML() (interface{}, error) {
	return m.String(), nil
}

type GPIODesignation byte

const (
	GPIOOperation GPIODesignation = 0b00000000
	// alternate function of GP1, latches edges in the status interrupt flag
	GPIO1InterruptDetection GPIODesignation = 0b00000100
)

const gpioModeMask = 0b00001000
const gpioOperationMask = 0b00000111

type MCP2221GPIOValues struct {
	Modes  [4]GPIOMode `yaml:"modes"`
	Values [4]byte     `yaml:"values"`
}

type MCP2221GPIOParameters struct {
	Modes        [4]GPIOMode        `yaml:"modes"`
	Designations [4]GPIODesignation `yaml:"designations"`
}

type MCP2221Opt func(*MCP2221)

// WithDeviceIndex selects one of several connected adapters, in enumeration order.
func WithDeviceIndex(i int) MCP2221Opt {
	return func(d *MCP2221) {
		d.index = i
	}
}

func WithResponseWait(wait time.Duration) MCP2221Opt {
	return func(d *MCP2221) {
		d.responseWait = wait
	}
}

func NewMCP2221(opts ...MCP2221Opt) *MCP2221 {
	d := &MCP2221{
		request:      make([]byte, 64),
		response:     make([]byte, 64),
		responseWait: 5 * time.Millisecond,
		index:        -1,
		open:         openHID,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Init checks the adapter is reachable and cancels a transfer left pending by
// a previous process.
func (d *MCP2221) Init(ctx context.Context) error {
	status, err := d.Status(ctx)
	if err != nil {
		return fmt.Errorf("could not initialize adapter: %w", err)
	}
	if status.State == 0 {
		return nil
	}
	slog.Debug("adapter bus not idle, cancelling transfer", "state", status.State)
	if _, err := d.ReleaseBus(ctx); err != nil {
		return fmt.Errorf("could not initialize adapter: %w", err)
	}
	return nil
}

func (d *MCP2221) WriteToAddr(ctx context.Context, address byte, buffer []byte) error {
	d.mx.Lock()
	defer d.mx.Unlock()
	if err := d.write(ctx, cmdI2CWrite, address, buffer); err != nil {
		return fmt.Errorf("write to %x failed: %w", address, err)
	}
	return nil
}

func (d *MCP2221) ReadFromAddr(ctx context.Context, address byte, buffer []byte) error {
	d.mx.Lock()
	defer d.mx.Unlock()
	if err := d.read(ctx, cmdI2CRead, address, buffer); err != nil {
		return fmt.Errorf("bus read from %x failed: %w", address, err)
	}
	return nil
}

// TxToAddr writes w without a stop condition and reads r after a repeated start.
func (d *MCP2221) TxToAddr(ctx context.Context, address byte, w, r []byte) error {
	d.mx.Lock()
	defer d.mx.Unlock()
	if err := d.write(ctx, cmdI2CWriteNoStop, address, w); err != nil {
		return fmt.Errorf("write to %x failed: %w", address, err)
	}
	if err := d.read(ctx, cmdI2CReadRepStart, address, r); err != nil {
		return fmt.Errorf("bus read from %x failed: %w", address, err)
	}
	return nil
}

func (d *MCP2221) write(ctx context.Context, cmd, address byte, buffer []byte) error {
	if len(buffer) > maxTransfer {
		return fmt.Errorf("transfer of %d bytes exceeds %d", len(buffer), maxTransfer)
	}
	d.resetBuffers()
	d.request[0] = cmd
	binary.LittleEndian.PutUint16(d.request[1:3], uint16(len(buffer)))
	d.request[3] = address << 1
	copy(d.request[4:], buffer)
	if err := d.send(ctx); err != nil {
		return err
	}
	// the engine is still busy with a previous transfer
	if d.response[1] == 0x01 {
		slog.Debug("adapter busy")
		return biosense.ErrBusBusy
	}
	return nil
}

func (d *MCP2221) read(ctx context.Context, cmd, address byte, buffer []byte) error {
	if len(buffer) > maxTransfer {
		return fmt.Errorf("transfer of %d bytes exceeds %d", len(buffer), maxTransfer)
	}
	d.resetBuffers()
	d.request[0] = cmd
	binary.LittleEndian.PutUint16(d.request[1:3], uint16(len(buffer)))
	d.request[3] = address<<1 + 1
	if err := d.send(ctx); err != nil {
		return err
	}
	if d.response[1] == 0x01 {
		slog.Debug("adapter busy")
		return biosense.ErrBusBusy
	}
	d.resetBuffers()
	d.request[0] = cmdI2CGetData
	if err := d.send(ctx); err != nil {
		return fmt.Errorf("error getting read data from adapter: %w", err)
	}
	if d.response[1] == 0x41 {
		return fmt.Errorf("error reading the I2C slave data from the I2C engine")
	}
	if d.response[3] == 127 || int(d.response[3]) != len(buffer) {
		return fmt.Errorf("invalid data size byte; expected %d, got %d", len(buffer), d.response[3])
	}
	copy(buffer, d.response[4:])
	return nil
}

// SetSpeed sets the I2C clock until the adapter is reset. The MCP2221 accepts
// frequencies between 46.5 kHz and 4 MHz; it is unreliable above 400 kHz.
func (d *MCP2221) SetSpeed(ctx context.Context, f physic.Frequency) error {
	div, err := speedDivider(f)
	if err != nil {
		return err
	}
	d.mx.Lock()
	defer d.mx.Unlock()
	d.resetBuffers()
	d.request[0] = cmdStatus
	d.request[3] = 0x20
	d.request[4] = div
	if err := d.send(ctx); err != nil {
		return fmt.Errorf("set speed request failed: %w", err)
	}
	if d.response[3] == 0x21 {
		return fmt.Errorf("speed change rejected, transfer in progress: %w", ErrCommandFailed)
	}
	return nil
}

func speedDivider(f physic.Frequency) (byte, error) {
	hz := int64(f / physic.Hertz)
	if hz > ClockHz/3 || hz < ClockHz/258 {
		return 0, fmt.Errorf("unsupported bus speed %s", f)
	}
	return byte(ClockHz/hz - 3), nil
}

func (d *MCP2221) ReadGPIO(ctx context.Context) (MCP2221GPIOValues, error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	d.resetBuffers()
	d.request[0] = cmdGPIOGet
	var res MCP2221GPIOValues
	if err := d.send(ctx); err != nil {
		return res, fmt.Errorf("read GPIO values command write failed: %w", err)
	}
	if d.response[1] == 0x01 {
		return res, ErrCommandFailed
	}
	for i := range res.Values {
		res.Values[i] = d.response[2+2*i]
		res.Modes[i] = GPIOModeNoOperation
		if dir := d.response[3+2*i]; dir != byte(GPIOModeNoOperation) {
			res.Modes[i] = GPIOMode(dir << 3)
		}
	}
	return res, nil
}

func (d *MCP2221) GetGPIOParameters(ctx context.Context) (MCP2221GPIOParameters, error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	d.resetBuffers()
	d.request[0] = cmdFlashRead
	d.request[1] = 0x01
	var res MCP2221GPIOParameters
	if err := d.send(ctx); err != nil {
		return res, fmt.Errorf("get GP parameters command write failed: %w", err)
	}
	if d.response[1] == 0x01 {
		return res, ErrCommandUnsupported
	}
	for i := range res.Modes {
		res.Modes[i] = GPIOMode(d.response[4+i] & gpioModeMask)
		res.Designations[i] = GPIODesignation(d.response[4+i] & gpioOperationMask)
	}
	return res, nil
}

func (d *MCP2221) Status(ctx context.Context) (*MCP2221Status, error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	d.resetBuffers()
	d.request[0] = cmdStatus
	if err := d.send(ctx); err != nil {
		return nil, fmt.Errorf("status request failed: %w", err)
	}
	return bufferToStatus(d.response), nil
}

func bufferToStatus(buffer []byte) *MCP2221Status {
	/*
		8: I2C state machine, 0 when idle
		9-10: requested I2C transfer length
		11-12: already transferred number of bytes
		13: internal I2C data buffer counter
		14: current I2C communication speed divider value
		15: current I2C timeout value
		16-17: I2C address being used
		22-23: SCL and SDA line levels
		24: interrupt edge detector state
		25: I2C read pending
		46-49: hardware and firmware revision
	*/
	status := &MCP2221Status{
		State:                buffer[8],
		I2CDataBufferCounter: int(buffer[13]),
		I2CSpeedDivider:      int(buffer[14]),
		I2CTimeout:           int(buffer[15]),
		CurrentAddress:       hex.EncodeToString(buffer[16:18]),
		SCL:                  buffer[22],
		SDA:                  buffer[23],
		Interrupt:            buffer[24],
		ReadPending:          int(buffer[25]),
		Hardware:             string([]byte{buffer[46], '.', buffer[47]}),
		Firmware:             string([]byte{buffer[48], '.', buffer[49]}),
	}
	status.LastWriteRequestedSize = binary.LittleEndian.Uint16(buffer[9:11])
	status.LastWriteSentSize = binary.LittleEndian.Uint16(buffer[11:13])
	return status
}

func (d *MCP2221) Release(ctx context.Context) error {
	_, err := d.ReleaseBus(ctx)
	return err
}

// ReleaseBus cancels the current transfer and frees the bus.
func (d *MCP2221) ReleaseBus(ctx context.Context) (*MCP2221Status, error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	d.resetBuffers()
	d.request[0] = cmdStatus
	d.request[2] = 0x10
	if err := d.send(ctx); err != nil {
		return nil, fmt.Errorf("cancel request failed: %w", err)
	}
	return bufferToStatus(d.response), nil
}

func (d *MCP2221) send(ctx context.Context) error {
	dev, err := d.open(d.index)
	if err != nil {
		return err
	}
	defer func() {
		if err := dev.Close(); err != nil {
			slog.Debug("could not close adapter", "error", err)
		}
	}()
	snsctx.DumpFrame(ctx, "sending message to adapter", d.request)
	n, err := dev.Write(d.request)
	if err != nil {
		return fmt.Errorf("could not write request: %w", err)
	}
	if n != 64 {
		return fmt.Errorf("short write: %d", n)
	}
	if err := wait(ctx, d.responseWait); err != nil {
		return err
	}
	n, err = dev.Read(d.response)
	if err != nil {
		return fmt.Errorf("could not read response: %w", err)
	}
	if n != 64 {
		return fmt.Errorf("short read: %d", n)
	}
	snsctx.DumpFrame(ctx, "read message from adapter", d.response)
	if d.response[0] != d.request[0] {
		return fmt.Errorf("response to %#02x, expected %#02x: %w", d.response[0], d.request[0], ErrCommandFailed)
	}
	return nil
}

func (d *MCP2221) resetBuffers() {
	clear(d.request)
	clear(d.response)
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Devices lists connected adapters.
func Devices() []hid.DeviceInfo {
	return hid.Enumerate(VendorID, ProductID)
}

func openHID(index int) (hidDevice, error) {
	devs := Devices()
	if len(devs) == 0 {
		return nil, ErrDeviceNotFound
	}
	if index < 0 {
		if len(devs) > 1 {
			return nil, fmt.Errorf("ambiguous device identification, %d adapters connected", len(devs))
		}
		index = 0
	}
	if index >= len(devs) {
		return nil, fmt.Errorf("no device with id %d", index)
	}
	dev, err := devs[index].Open()
	if err != nil {
		return nil, fmt.Errorf("error opening device: %w", err)
	}
	return dev, nil
}
