package radio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ImGhostCode/smart-garden/internal/address"
)

// Config holds the RF settings applied by Transport.Init.
type Config struct {
	PALevel     PALevel
	DataRate    DataRate
	Channel     uint8
	PayloadSize uint8 // 0 means MaxPayloadSize
}

// DefaultConfig matches the node firmware: PA low, 1 Mbps, channel 76,
// 32 byte static payloads.
func DefaultConfig() Config {
	return Config{
		PALevel:     PALow,
		DataRate:    Rate1Mbps,
		Channel:     76,
		PayloadSize: MaxPayloadSize,
	}
}

// Logger is the logging interface used by the transport.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Inbound is one payload read from a gateway reading pipe.
type Inbound struct {
	Pipe    uint8
	Node    address.NodeID // node bound to Pipe, zero if the pipe is not in the table
	Payload []byte
}

// Stats counts radio traffic since start-up.
type Stats struct {
	Sent     uint64
	SendFail uint64
	Received uint64
}

// Transport owns the radio driver and performs all mode switching.
//
// Thread Safety: the gateway loop is the only expected caller of Init, Send
// and PollReceive. Stats and Ready may be read from any goroutine.
type Transport struct {
	driver Driver
	table  *address.Table
	cfg    Config
	buf    []byte
	ready  atomic.Bool

	sent     atomic.Uint64
	sendFail atomic.Uint64
	received atomic.Uint64

	logger   Logger
	loggerMu sync.RWMutex
}

// NewTransport creates a transport. Call Init before Send or PollReceive.
func NewTransport(driver Driver, table *address.Table, cfg Config) *Transport {
	if cfg.PayloadSize == 0 || cfg.PayloadSize > MaxPayloadSize {
		cfg.PayloadSize = MaxPayloadSize
	}
	return &Transport{
		driver: driver,
		table:  table,
		cfg:    cfg,
		buf:    make([]byte, cfg.PayloadSize),
	}
}

// SetLogger sets the logger for this transport.
func (t *Transport) SetLogger(logger Logger) {
	t.loggerMu.Lock()
	t.logger = logger
	t.loggerMu.Unlock()
}

// Init configures the chip, binds one reading pipe per node and starts
// listening.
func (t *Transport) Init(ctx context.Context) error {
	if err := t.driver.Begin(ctx); err != nil {
		return fmt.Errorf("beginning radio: %w", err)
	}
	if err := t.driver.SetPALevel(t.cfg.PALevel); err != nil {
		return fmt.Errorf("setting PA level: %w", err)
	}
	if err := t.driver.SetDataRate(t.cfg.DataRate); err != nil {
		return fmt.Errorf("setting data rate: %w", err)
	}
	if err := t.driver.SetChannel(t.cfg.Channel); err != nil {
		return fmt.Errorf("setting channel: %w", err)
	}
	if err := t.driver.SetPayloadSize(t.cfg.PayloadSize); err != nil {
		return fmt.Errorf("setting payload size: %w", err)
	}

	for _, p := range t.table.Pipes() {
		if err := t.driver.OpenReadingPipe(p.Number, p.Address); err != nil {
			return fmt.Errorf("opening reading pipe %d (%s): %w", p.Number, p.Address, err)
		}
	}

	if err := t.driver.StartListening(); err != nil {
		return fmt.Errorf("starting listening: %w", err)
	}

	t.ready.Store(true)
	t.logDebug("radio initialised",
		"pa_level", t.cfg.PALevel.String(),
		"data_rate", t.cfg.DataRate.String(),
		"channel", t.cfg.Channel,
		"pipes", len(t.table.Pipes()))
	return nil
}

// Send transmits payload to one node and waits for the auto-ack.
//
// The radio is returned to listening mode before Send returns, whatever the
// outcome. An unacknowledged write returns ErrTransportFailure. An unknown
// node returns address.ErrUnknownNode without touching the radio.
func (t *Transport) Send(ctx context.Context, id address.NodeID, payload []byte) (err error) {
	addr, err := t.table.AddressFor(id)
	if err != nil {
		return err
	}
	if !t.ready.Load() {
		return ErrNotReady
	}
	if len(payload) > int(t.cfg.PayloadSize) {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrPayloadTooLarge, len(payload), t.cfg.PayloadSize)
	}

	defer func() {
		if lerr := t.driver.StartListening(); lerr != nil {
			t.logWarn("failed to resume listening after send", "node_id", int(id), "error", lerr)
			err = errors.Join(err, fmt.Errorf("%w: resume listening: %w", ErrTransportFailure, lerr))
		}
		if err != nil {
			t.sendFail.Add(1)
		} else {
			t.sent.Add(1)
		}
	}()

	if err := t.driver.StopListening(); err != nil {
		return fmt.Errorf("%w: stop listening: %w", ErrTransportFailure, err)
	}
	if err := t.driver.OpenWritingPipe(addr); err != nil {
		return fmt.Errorf("%w: open writing pipe %s: %w", ErrTransportFailure, addr, err)
	}

	acked, err := t.driver.Write(ctx, payload)
	if err != nil {
		return fmt.Errorf("%w: write to node %d: %w", ErrTransportFailure, id, err)
	}
	if !acked {
		return fmt.Errorf("%w: node %d (%s) did not acknowledge", ErrTransportFailure, id, addr)
	}
	return nil
}

// PollReceive returns the next pending payload, if any. It never blocks
// waiting for traffic.
func (t *Transport) PollReceive() (Inbound, bool, error) {
	if !t.ready.Load() {
		return Inbound{}, false, ErrNotReady
	}

	pipe, ok, err := t.driver.Available()
	if err != nil {
		return Inbound{}, false, fmt.Errorf("%w: available: %w", ErrTransportFailure, err)
	}
	if !ok {
		return Inbound{}, false, nil
	}

	n, err := t.driver.Read(t.buf)
	if err != nil {
		return Inbound{}, false, fmt.Errorf("%w: read pipe %d: %w", ErrTransportFailure, pipe, err)
	}
	t.received.Add(1)

	payload := make([]byte, n)
	copy(payload, t.buf[:n])

	in := Inbound{Pipe: pipe, Payload: payload}
	if node, known := t.table.NodeForPipe(pipe); known {
		in.Node = node
	}
	return in, true, nil
}

// Stats returns traffic counters.
func (t *Transport) Stats() Stats {
	return Stats{
		Sent:     t.sent.Load(),
		SendFail: t.sendFail.Load(),
		Received: t.received.Load(),
	}
}

// Ready reports whether Init completed.
func (t *Transport) Ready() bool {
	return t.ready.Load()
}

// Close releases the driver.
func (t *Transport) Close() error {
	t.ready.Store(false)
	if err := t.driver.Close(); err != nil {
		return fmt.Errorf("closing radio driver: %w", err)
	}
	return nil
}

func (t *Transport) logDebug(msg string, args ...any) {
	t.loggerMu.RLock()
	logger := t.logger
	t.loggerMu.RUnlock()
	if logger != nil {
		logger.Debug(msg, args...)
	}
}

func (t *Transport) logWarn(msg string, args ...any) {
	t.loggerMu.RLock()
	logger := t.logger
	t.loggerMu.RUnlock()
	if logger != nil {
		logger.Warn(msg, args...)
	}
}
