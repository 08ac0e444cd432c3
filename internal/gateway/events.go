package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/ImGhostCode/smart-garden/internal/address"
	"github.com/ImGhostCode/smart-garden/internal/packet"
)

// Command sources.
const (
	SourceMQTT       = "mqtt"
	SourceAPI        = "api"
	SourceAutomation = "automation"
)

// Command outcomes.
const (
	CommandSent      = "sent"
	CommandFailed    = "failed"
	CommandRejected  = "rejected"
	CommandRequested = "requested"
)

// Reading is a decoded telemetry record as received by the gateway.
type Reading struct {
	Telemetry  packet.Telemetry
	Node       address.NodeID
	Pipe       uint8
	ReceivedAt time.Time
	// Published is false when the MQTT publish failed.
	Published bool
}

// CommandEvent describes the outcome of one command.
type CommandEvent struct {
	Node    address.NodeID // zero when the topic named no valid node
	Command string
	Source  string
	Status  string
	Error   string
	At      time.Time
}

// Sink receives readings and command outcomes. Calls arrive on the control
// goroutine and, through Gateway.RecordCommand, from API handlers, so
// implementations must be safe for concurrent use and must not block for
// long. Errors are logged and dropped.
type Sink interface {
	OnReading(ctx context.Context, r Reading) error
	OnCommand(ctx context.Context, ev CommandEvent) error
}

// sinkSet fans events out to every registered sink.
type sinkSet struct {
	mu     sync.RWMutex
	sinks  []Sink
	logger Logger
}

func (s *sinkSet) add(sink Sink) {
	s.mu.Lock()
	s.sinks = append(s.sinks, sink)
	s.mu.Unlock()
}

func (s *sinkSet) snapshot() []Sink {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Sink(nil), s.sinks...)
}

func (s *sinkSet) reading(ctx context.Context, r Reading) {
	for _, sink := range s.snapshot() {
		if err := sink.OnReading(ctx, r); err != nil && s.logger != nil {
			s.logger.Warn("reading sink failed", "node_id", r.Node, "error", err)
		}
	}
}

func (s *sinkSet) command(ctx context.Context, ev CommandEvent) {
	for _, sink := range s.snapshot() {
		if err := sink.OnCommand(ctx, ev); err != nil && s.logger != nil {
			s.logger.Warn("command sink failed", "node_id", ev.Node, "error", err)
		}
	}
}
