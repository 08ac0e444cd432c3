package radio

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/ImGhostCode/smart-garden/internal/address"
)

// Modem opcodes. A response echoes the opcode, then a status byte, then data.
const (
	opBegin           byte = 0x01
	opSetPALevel      byte = 0x02
	opSetDataRate     byte = 0x03
	opSetChannel      byte = 0x04
	opSetPayloadSize  byte = 0x05
	opOpenReadingPipe byte = 0x06
	opOpenWritingPipe byte = 0x07
	opStartListening  byte = 0x08
	opStopListening   byte = 0x09
	opAvailable       byte = 0x0A
	opRead            byte = 0x0B
	opWrite           byte = 0x0C
)

// Modem status codes.
const (
	statusOK         byte = 0x00
	statusError      byte = 0x01
	statusBadRequest byte = 0x02
)

const (
	defaultSerialReadTimeout = 50 * time.Millisecond
	defaultRequestTimeout    = 500 * time.Millisecond
	// Write waits for up to 15 auto-retransmits at the longest delay.
	defaultWriteTimeout = time.Second
)

// Port is the byte stream to the modem. go.bug.st/serial ports satisfy it.
type Port interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
}

// SerialDriver drives an nRF24L01 attached to a USB serial modem that speaks
// a small framed request/response protocol.
type SerialDriver struct {
	mu             sync.Mutex
	port           Port
	requestTimeout time.Duration
	writeTimeout   time.Duration
}

// NewSerialDriver wraps an open modem port.
func NewSerialDriver(port Port) *SerialDriver {
	return &SerialDriver{
		port:           port,
		requestTimeout: defaultRequestTimeout,
		writeTimeout:   defaultWriteTimeout,
	}
}

// OpenSerial opens the modem on portName.
func OpenSerial(portName string, baudRate int) (*SerialDriver, error) {
	if portName == "" {
		return nil, fmt.Errorf("%w: serial port is empty", ErrModem)
	}
	if baudRate <= 0 {
		return nil, fmt.Errorf("%w: invalid baud rate %d", ErrModem, baudRate)
	}

	port, err := serial.Open(portName, &serial.Mode{BaudRate: baudRate})
	if err != nil {
		return nil, fmt.Errorf("open serial port %q: %w", portName, err)
	}
	if err := port.SetReadTimeout(defaultSerialReadTimeout); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("set serial read timeout: %w", err)
	}
	return NewSerialDriver(port), nil
}

// Begin asks the modem whether the transceiver answers on SPI.
func (d *SerialDriver) Begin(ctx context.Context) error {
	data, err := d.call(ctx, d.requestTimeout, opBegin)
	if err != nil {
		return err
	}
	if len(data) < 1 || data[0] != 1 {
		return fmt.Errorf("%w: transceiver not responding", ErrNotReady)
	}
	return nil
}

func (d *SerialDriver) SetPALevel(level PALevel) error {
	return d.simple(opSetPALevel, byte(level))
}

func (d *SerialDriver) SetDataRate(rate DataRate) error {
	return d.simple(opSetDataRate, byte(rate))
}

func (d *SerialDriver) SetChannel(channel uint8) error {
	if channel > 125 {
		return fmt.Errorf("%w: channel %d out of range", ErrModem, channel)
	}
	return d.simple(opSetChannel, channel)
}

func (d *SerialDriver) SetPayloadSize(size uint8) error {
	if size == 0 || size > MaxPayloadSize {
		return fmt.Errorf("%w: %d", ErrPayloadTooLarge, size)
	}
	return d.simple(opSetPayloadSize, size)
}

func (d *SerialDriver) OpenReadingPipe(pipe uint8, addr address.RadioAddress) error {
	if pipe < 1 || pipe > 5 {
		return fmt.Errorf("%w: reading pipe %d out of range", ErrModem, pipe)
	}
	args := append([]byte{pipe}, addr[:]...)
	return d.simple(opOpenReadingPipe, args...)
}

func (d *SerialDriver) OpenWritingPipe(addr address.RadioAddress) error {
	return d.simple(opOpenWritingPipe, addr[:]...)
}

func (d *SerialDriver) StartListening() error {
	return d.simple(opStartListening)
}

func (d *SerialDriver) StopListening() error {
	return d.simple(opStopListening)
}

func (d *SerialDriver) Available() (uint8, bool, error) {
	data, err := d.call(context.Background(), d.requestTimeout, opAvailable)
	if err != nil {
		return 0, false, err
	}
	if len(data) < 2 {
		return 0, false, fmt.Errorf("%w: short available response", ErrFrame)
	}
	return data[1], data[0] == 1, nil
}

func (d *SerialDriver) Read(buf []byte) (int, error) {
	n := len(buf)
	if n > MaxPayloadSize {
		n = MaxPayloadSize
	}
	data, err := d.call(context.Background(), d.requestTimeout, opRead, byte(n))
	if err != nil {
		return 0, err
	}
	return copy(buf, data), nil
}

func (d *SerialDriver) Write(ctx context.Context, payload []byte) (bool, error) {
	if len(payload) == 0 || len(payload) > MaxPayloadSize {
		return false, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(payload))
	}
	data, err := d.call(ctx, d.writeTimeout, opWrite, payload...)
	if err != nil {
		return false, err
	}
	if len(data) < 1 {
		return false, fmt.Errorf("%w: short write response", ErrFrame)
	}
	return data[0] == 1, nil
}

func (d *SerialDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.port == nil {
		return nil
	}
	err := d.port.Close()
	d.port = nil
	return err
}

func (d *SerialDriver) simple(op byte, args ...byte) error {
	_, err := d.call(context.Background(), d.requestTimeout, op, args...)
	return err
}

// call sends one request frame and waits for the matching response.
func (d *SerialDriver) call(ctx context.Context, timeout time.Duration, op byte, args ...byte) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.port == nil {
		return nil, fmt.Errorf("%w: port closed", ErrModem)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	frame, err := encodeFrame(append([]byte{op}, args...))
	if err != nil {
		return nil, err
	}
	if err := writeFull(ctx, d.port, frame); err != nil {
		return nil, fmt.Errorf("%w: write request 0x%02x: %w", ErrModem, op, err)
	}

	for {
		resp, err := readFrame(func(buf []byte) error {
			return readFull(ctx, d.port, buf)
		})
		if err != nil {
			return nil, fmt.Errorf("%w: response to 0x%02x: %w", ErrModem, op, err)
		}
		if len(resp) < 2 {
			return nil, fmt.Errorf("%w: response of %d bytes", ErrFrame, len(resp))
		}
		if resp[0] != op {
			// Stale response from an earlier timed-out request.
			continue
		}

		switch resp[1] {
		case statusOK:
			return resp[2:], nil
		case statusBadRequest:
			return nil, fmt.Errorf("%w: modem rejected request 0x%02x", ErrModem, op)
		default:
			return nil, fmt.Errorf("%w: request 0x%02x failed with status %d", ErrModem, op, resp[1])
		}
	}
}
