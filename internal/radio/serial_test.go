package radio

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/ImGhostCode/smart-garden/internal/address"
)

// fakeModem is a scripted modem port. Each request frame written to it is
// answered by respond.
type fakeModem struct {
	mu       sync.Mutex
	in       bytes.Buffer
	out      bytes.Buffer
	requests [][]byte
	respond  func(req []byte) []byte
	closed   bool
}

func (m *fakeModem) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, io.ErrClosedPipe
	}
	m.in.Write(p)

	for {
		req, err := readFrame(func(buf []byte) error {
			_, err := io.ReadFull(&m.in, buf)
			return err
		})
		if err != nil {
			break
		}
		m.requests = append(m.requests, req)
		if m.respond != nil {
			if resp := m.respond(req); resp != nil {
				frame, _ := encodeFrame(resp)
				m.out.Write(frame)
			}
		}
	}
	return len(p), nil
}

func (m *fakeModem) Read(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.out.Len() == 0 {
		// Read timeout on a real port returns zero bytes.
		return 0, nil
	}
	return m.out.Read(p)
}

func (m *fakeModem) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func (m *fakeModem) SetReadTimeout(time.Duration) error { return nil }

func (m *fakeModem) sent() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte(nil), m.requests...)
}

func okModem(req []byte) []byte {
	switch req[0] {
	case opBegin:
		return []byte{opBegin, statusOK, 1}
	case opAvailable:
		return []byte{opAvailable, statusOK, 1, 2}
	case opRead:
		resp := []byte{opRead, statusOK}
		return append(resp, bytes.Repeat([]byte{0xAB}, int(req[1]))...)
	case opWrite:
		return []byte{opWrite, statusOK, 1}
	default:
		return []byte{req[0], statusOK}
	}
}

func newTestDriver(respond func([]byte) []byte) (*SerialDriver, *fakeModem) {
	m := &fakeModem{respond: respond}
	d := NewSerialDriver(m)
	d.requestTimeout = 100 * time.Millisecond
	d.writeTimeout = 100 * time.Millisecond
	return d, m
}

func TestSerialDriver_Requests(t *testing.T) {
	d, m := newTestDriver(okModem)
	ctx := context.Background()
	addr, _ := address.ParseRadioAddress("2NODE")

	if err := d.Begin(ctx); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if err := d.SetPALevel(PALow); err != nil {
		t.Fatalf("SetPALevel() error = %v", err)
	}
	if err := d.OpenReadingPipe(2, addr); err != nil {
		t.Fatalf("OpenReadingPipe() error = %v", err)
	}
	acked, err := d.Write(ctx, []byte("ON\x00"))
	if err != nil || !acked {
		t.Fatalf("Write() = %v, %v", acked, err)
	}

	reqs := m.sent()
	want := [][]byte{
		{opBegin},
		{opSetPALevel, byte(PALow)},
		{opOpenReadingPipe, 2, '2', 'N', 'O', 'D', 'E'},
		{opWrite, 'O', 'N', 0},
	}
	if len(reqs) != len(want) {
		t.Fatalf("requests = %x, want %x", reqs, want)
	}
	for i := range want {
		if !bytes.Equal(reqs[i], want[i]) {
			t.Errorf("request[%d] = %x, want %x", i, reqs[i], want[i])
		}
	}
}

func TestSerialDriver_AvailableAndRead(t *testing.T) {
	d, _ := newTestDriver(okModem)

	pipe, ok, err := d.Available()
	if err != nil || !ok || pipe != 2 {
		t.Fatalf("Available() = %d, %v, %v", pipe, ok, err)
	}

	buf := make([]byte, MaxPayloadSize)
	n, err := d.Read(buf)
	if err != nil || n != MaxPayloadSize || buf[0] != 0xAB {
		t.Fatalf("Read() = %d, %v, buf[0]=%x", n, err, buf[0])
	}
}

func TestSerialDriver_NoChip(t *testing.T) {
	d, _ := newTestDriver(func(req []byte) []byte {
		return []byte{req[0], statusOK, 0}
	})
	if err := d.Begin(context.Background()); !errors.Is(err, ErrNotReady) {
		t.Errorf("Begin() error = %v, want ErrNotReady", err)
	}
}

func TestSerialDriver_StatusErrors(t *testing.T) {
	d, _ := newTestDriver(func(req []byte) []byte {
		return []byte{req[0], statusBadRequest}
	})
	if err := d.StartListening(); !errors.Is(err, ErrModem) {
		t.Errorf("StartListening() error = %v, want ErrModem", err)
	}

	d, _ = newTestDriver(func(req []byte) []byte {
		return []byte{req[0], statusError}
	})
	if err := d.StopListening(); !errors.Is(err, ErrModem) {
		t.Errorf("StopListening() error = %v, want ErrModem", err)
	}
}

func TestSerialDriver_Timeout(t *testing.T) {
	d, _ := newTestDriver(nil)
	err := d.StartListening()
	if !errors.Is(err, ErrModem) || !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("StartListening() error = %v, want ErrModem wrapping deadline", err)
	}
}

func TestSerialDriver_SkipsStaleResponse(t *testing.T) {
	d, m := newTestDriver(okModem)

	// Late answer to an earlier, timed-out request is still in the buffer.
	stale, _ := encodeFrame([]byte{opAvailable, statusOK, 0, 0})
	m.out.Write(stale)

	if err := d.StopListening(); err != nil {
		t.Fatalf("StopListening() error = %v", err)
	}
	if m.out.Len() != 0 {
		t.Errorf("%d unread bytes left on the port", m.out.Len())
	}
}

func TestSerialDriver_ArgumentChecks(t *testing.T) {
	d, m := newTestDriver(okModem)

	if err := d.SetChannel(126); !errors.Is(err, ErrModem) {
		t.Errorf("SetChannel(126) error = %v", err)
	}
	if err := d.SetPayloadSize(33); !errors.Is(err, ErrPayloadTooLarge) {
		t.Errorf("SetPayloadSize(33) error = %v", err)
	}
	if err := d.OpenReadingPipe(0, address.RadioAddress{}); !errors.Is(err, ErrModem) {
		t.Errorf("OpenReadingPipe(0) error = %v", err)
	}
	if _, err := d.Write(context.Background(), make([]byte, 33)); !errors.Is(err, ErrPayloadTooLarge) {
		t.Errorf("Write(33 bytes) error = %v", err)
	}
	if n := len(m.sent()); n != 0 {
		t.Errorf("%d requests reached the modem, want 0", n)
	}
}

func TestSerialDriver_Closed(t *testing.T) {
	d, _ := newTestDriver(okModem)
	if err := d.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	if err := d.StartListening(); !errors.Is(err, ErrModem) {
		t.Errorf("StartListening() after Close error = %v, want ErrModem", err)
	}
}

func TestOpenSerial_Validation(t *testing.T) {
	if _, err := OpenSerial("", 115200); !errors.Is(err, ErrModem) {
		t.Errorf("OpenSerial(empty) error = %v", err)
	}
	if _, err := OpenSerial("/dev/ttyUSB0", 0); !errors.Is(err, ErrModem) {
		t.Errorf("OpenSerial(baud 0) error = %v", err)
	}
}

func TestReadFrame_ResyncsToMagic(t *testing.T) {
	raw := bytes.NewBuffer([]byte{
		0x00, 0x4E, 0x11, // noise, including a lone first magic byte
		frameMagic[0], frameMagic[1],
		0x00, 0x02,
		0x08, 0x00,
	})

	got, err := readFrame(func(buf []byte) error {
		_, err := io.ReadFull(raw, buf)
		return err
	})
	if err != nil {
		t.Fatalf("readFrame() error = %v", err)
	}
	if !bytes.Equal(got, []byte{0x08, 0x00}) {
		t.Errorf("readFrame() = %x", got)
	}
}

func TestReadFrame_BadLength(t *testing.T) {
	for _, n := range []uint16{0, maxFrameSize + 1, math.MaxUint16} {
		raw := bytes.NewBuffer([]byte{frameMagic[0], frameMagic[1], byte(n >> 8), byte(n)})
		_, err := readFrame(func(buf []byte) error {
			_, err := io.ReadFull(raw, buf)
			return err
		})
		if !errors.Is(err, ErrFrame) {
			t.Errorf("length %d: error = %v, want ErrFrame", n, err)
		}
	}
}

func TestEncodeFrame_Limits(t *testing.T) {
	if _, err := encodeFrame(nil); !errors.Is(err, ErrFrame) {
		t.Errorf("encodeFrame(nil) error = %v", err)
	}
	if _, err := encodeFrame(make([]byte, maxFrameSize+1)); !errors.Is(err, ErrFrame) {
		t.Errorf("encodeFrame(oversize) error = %v", err)
	}
	frame, err := encodeFrame([]byte{opStartListening})
	if err != nil {
		t.Fatalf("encodeFrame() error = %v", err)
	}
	if want := []byte{0x4E, 0x52, 0x00, 0x01, opStartListening}; !bytes.Equal(frame, want) {
		t.Errorf("encodeFrame() = %x, want %x", frame, want)
	}
}
