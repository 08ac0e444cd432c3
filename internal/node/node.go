package node

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ImGhostCode/smart-garden/internal/address"
	"github.com/ImGhostCode/smart-garden/internal/packet"
	"github.com/ImGhostCode/smart-garden/internal/radio"
)

// DefaultSampleInterval matches the deployed firmware.
const DefaultSampleInterval = 15 * time.Second

// readingPipe is the pipe a node listens for commands on.
const readingPipe = 1

// Sample is one set of sensor values. Temperature and Humidity are NaN when
// the DHT read failed.
type Sample struct {
	Temperature float32
	Humidity    float32
	LDR         uint16
	Soil        uint16
}

// Sensors reads the node's sensors.
type Sensors interface {
	Read(ctx context.Context) (Sample, error)
}

// Relay drives the pump relay.
type Relay interface {
	Set(on bool) error
}

// Logger is the logging interface used by the node.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Config holds per-node settings.
type Config struct {
	ID             address.NodeID
	SampleInterval time.Duration // 0 means DefaultSampleInterval
	Radio          radio.Config  // zero value means radio.DefaultConfig()
	Now            func() time.Time
}

// Stats counts node activity.
type Stats struct {
	Commands   uint64
	Ignored    uint64
	Sent       uint64
	SendFailed uint64
}

// Node runs the firmware loop: listen for pump commands on its own address
// and transmit a telemetry packet every sample interval.
//
// A Node is driven from a single goroutine. PumpOn and Stats may be read
// from any goroutine.
type Node struct {
	driver  radio.Driver
	sensors Sensors
	relay   Relay
	addr    address.RadioAddress
	cfg     Config
	now     func() time.Time

	lastSend time.Time
	begun    bool
	pumpOn   atomic.Bool

	commands   atomic.Uint64
	ignored    atomic.Uint64
	sent       atomic.Uint64
	sendFailed atomic.Uint64

	logger   Logger
	loggerMu sync.RWMutex
}

// New creates a node with id cfg.ID from table.
func New(driver radio.Driver, table *address.Table, sensors Sensors, relay Relay, cfg Config) (*Node, error) {
	addr, err := table.AddressFor(cfg.ID)
	if err != nil {
		return nil, err
	}
	if driver == nil || sensors == nil || relay == nil {
		return nil, fmt.Errorf("node %d: driver, sensors and relay are required", cfg.ID)
	}
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = DefaultSampleInterval
	}
	if cfg.Radio == (radio.Config{}) {
		cfg.Radio = radio.DefaultConfig()
	}
	if cfg.Radio.PayloadSize == 0 {
		cfg.Radio.PayloadSize = radio.MaxPayloadSize
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Node{
		driver:  driver,
		sensors: sensors,
		relay:   relay,
		addr:    addr,
		cfg:     cfg,
		now:     now,
	}, nil
}

// SetLogger attaches a logger.
func (n *Node) SetLogger(logger Logger) {
	n.loggerMu.Lock()
	n.logger = logger
	n.loggerMu.Unlock()
}

// ID returns the node id.
func (n *Node) ID() address.NodeID {
	return n.cfg.ID
}

// Address returns the node's radio address.
func (n *Node) Address() address.RadioAddress {
	return n.addr
}

// Begin switches the relay off, configures the radio, binds reading pipe 1
// to the node's own address and starts listening. The first telemetry
// packet goes out one sample interval later.
func (n *Node) Begin(ctx context.Context) error {
	if err := n.relay.Set(false); err != nil {
		return fmt.Errorf("node %d: releasing relay: %w", n.cfg.ID, err)
	}
	n.pumpOn.Store(false)

	if err := n.driver.Begin(ctx); err != nil {
		return fmt.Errorf("node %d: beginning radio: %w", n.cfg.ID, err)
	}
	if err := n.driver.SetPALevel(n.cfg.Radio.PALevel); err != nil {
		return fmt.Errorf("node %d: setting PA level: %w", n.cfg.ID, err)
	}
	if err := n.driver.SetDataRate(n.cfg.Radio.DataRate); err != nil {
		return fmt.Errorf("node %d: setting data rate: %w", n.cfg.ID, err)
	}
	if err := n.driver.SetChannel(n.cfg.Radio.Channel); err != nil {
		return fmt.Errorf("node %d: setting channel: %w", n.cfg.ID, err)
	}
	if err := n.driver.SetPayloadSize(n.cfg.Radio.PayloadSize); err != nil {
		return fmt.Errorf("node %d: setting payload size: %w", n.cfg.ID, err)
	}
	if err := n.driver.OpenReadingPipe(readingPipe, n.addr); err != nil {
		return fmt.Errorf("node %d: opening reading pipe: %w", n.cfg.ID, err)
	}
	if err := n.driver.StartListening(); err != nil {
		return fmt.Errorf("node %d: starting listening: %w", n.cfg.ID, err)
	}

	n.lastSend = n.now()
	n.begun = true
	n.logInfo("node listening", "address", n.addr.String(), "sample_interval", n.cfg.SampleInterval.String())
	return nil
}

// Step handles at most one pending command, then sends telemetry if the
// sample interval has elapsed.
func (n *Node) Step(ctx context.Context) error {
	if !n.begun {
		return radio.ErrNotReady
	}

	if err := n.pollCommand(); err != nil {
		return err
	}

	if n.now().Sub(n.lastSend) >= n.cfg.SampleInterval {
		n.lastSend = n.now()
		if err := n.SendTelemetry(ctx); err != nil {
			n.logWarn("telemetry send failed", "error", err)
		}
	}
	return nil
}

// Run repeats Step every poll until ctx is cancelled.
func (n *Node) Run(ctx context.Context, poll time.Duration) error {
	if poll <= 0 {
		poll = 10 * time.Millisecond
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		if err := n.Step(ctx); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// pollCommand reads one command if available and drives the relay.
func (n *Node) pollCommand() error {
	_, ok, err := n.driver.Available()
	if err != nil {
		return fmt.Errorf("node %d: available: %w", n.cfg.ID, err)
	}
	if !ok {
		return nil
	}

	buf := make([]byte, packet.CommandSize)
	if _, err := n.driver.Read(buf); err != nil {
		return fmt.Errorf("node %d: reading command: %w", n.cfg.ID, err)
	}
	n.commands.Add(1)

	text := packet.DecodeCommand(buf)
	var on bool
	switch text {
	case packet.CommandOn:
		on = true
	case packet.CommandOff:
		on = false
	default:
		n.ignored.Add(1)
		n.logWarn("ignoring unknown command", "command", text)
		return nil
	}

	if err := n.relay.Set(on); err != nil {
		n.logWarn("relay switch failed", "command", text, "error", err)
		return nil
	}
	n.pumpOn.Store(on)
	n.logInfo("pump switched", "command", text)
	return nil
}

// SendTelemetry samples the sensors and transmits one packet to the
// node's own address. The radio always returns to listening mode.
func (n *Node) SendTelemetry(ctx context.Context) (err error) {
	s, serr := n.sensors.Read(ctx)
	if serr != nil {
		// A failed DHT read still reports the analogue channels.
		n.logWarn("sensor read failed", "error", serr)
		s.Temperature = float32(math.NaN())
		s.Humidity = float32(math.NaN())
	}

	payload := packet.EncodeTelemetry(packet.Telemetry{
		NodeID:      uint8(n.cfg.ID), //nolint:gosec // ids are 1..5
		Temperature: s.Temperature,
		Humidity:    s.Humidity,
		LDR:         s.LDR,
		Soil:        s.Soil,
	})

	defer func() {
		if lerr := n.driver.StartListening(); lerr != nil {
			err = errors.Join(err, fmt.Errorf("%w: resume listening: %w", radio.ErrTransportFailure, lerr))
		}
		if err != nil {
			n.sendFailed.Add(1)
		} else {
			n.sent.Add(1)
		}
	}()

	if err := n.driver.StopListening(); err != nil {
		return fmt.Errorf("%w: stop listening: %w", radio.ErrTransportFailure, err)
	}
	if err := n.driver.OpenWritingPipe(n.addr); err != nil {
		return fmt.Errorf("%w: open writing pipe: %w", radio.ErrTransportFailure, err)
	}
	acked, err := n.driver.Write(ctx, payload)
	if err != nil {
		return fmt.Errorf("%w: write: %w", radio.ErrTransportFailure, err)
	}
	if !acked {
		return fmt.Errorf("%w: gateway did not acknowledge", radio.ErrTransportFailure)
	}
	n.logDebug("telemetry sent", "bytes", len(payload))
	return nil
}

// PumpOn reports the last relay state set by a command.
func (n *Node) PumpOn() bool {
	return n.pumpOn.Load()
}

// Stats returns activity counters.
func (n *Node) Stats() Stats {
	return Stats{
		Commands:   n.commands.Load(),
		Ignored:    n.ignored.Load(),
		Sent:       n.sent.Load(),
		SendFailed: n.sendFailed.Load(),
	}
}

func (n *Node) getLogger() Logger {
	n.loggerMu.RLock()
	defer n.loggerMu.RUnlock()
	return n.logger
}

func (n *Node) logDebug(msg string, args ...any) {
	if l := n.getLogger(); l != nil {
		l.Debug(msg, append(args, "node_id", int(n.cfg.ID))...)
	}
}

func (n *Node) logInfo(msg string, args ...any) {
	if l := n.getLogger(); l != nil {
		l.Info(msg, append(args, "node_id", int(n.cfg.ID))...)
	}
}

func (n *Node) logWarn(msg string, args ...any) {
	if l := n.getLogger(); l != nil {
		l.Warn(msg, append(args, "node_id", int(n.cfg.ID))...)
	}
}
