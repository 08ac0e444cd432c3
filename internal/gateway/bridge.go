package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ImGhostCode/smart-garden/internal/address"
	"github.com/ImGhostCode/smart-garden/internal/infrastructure/config"
	"github.com/ImGhostCode/smart-garden/internal/infrastructure/mqtt"
	"github.com/ImGhostCode/smart-garden/internal/packet"
	"github.com/ImGhostCode/smart-garden/internal/radio"
)

// Session is the MQTT session the bridge drives.
// *mqtt.Session satisfies it.
type Session interface {
	IsConnected() bool
	Reconnect(ctx context.Context) error
	Loop() int
	Publish(topic string, payload []byte) error
	PublishStatus(msg mqtt.StatusMessage) error
	SetCommandHandler(h mqtt.MessageHandler)
}

// Radio is the transport the gateway owns. *radio.Transport satisfies it.
type Radio interface {
	Send(ctx context.Context, id address.NodeID, payload []byte) error
	PollReceive() (radio.Inbound, bool, error)
	Ready() bool
	Stats() radio.Stats
}

// Logger is the logging interface used by the gateway.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Bridge translates between MQTT and the radio.
//
// Inbound: a command message on <prefix>/node/<id>/<actuator> becomes one
// radio transmission to the node. Outbound: a telemetry record becomes one
// JSON publish on the node's telemetry topic.
//
// Thread Safety: the bridge runs on the control goroutine only.
type Bridge struct {
	session Session
	radio   Radio
	table   *address.Table
	topics  config.MQTTTopicsConfig
	sinks   *sinkSet
	logger  Logger
	now     func() time.Time

	// loopCtx is the context of the ProcessEvents call in progress.
	loopCtx context.Context

	commandsSent     atomic.Uint64
	commandsFailed   atomic.Uint64
	commandsRejected atomic.Uint64
}

// NewBridge creates a bridge and registers it as the session's command handler.
func NewBridge(session Session, r Radio, table *address.Table, topics config.MQTTTopicsConfig, logger Logger) *Bridge {
	b := &Bridge{
		session: session,
		radio:   r,
		table:   table,
		topics:  topics,
		sinks:   &sinkSet{logger: logger},
		logger:  logger,
		now:     time.Now,
		loopCtx: context.Background(),
	}
	session.SetCommandHandler(b.HandleCommand)
	return b
}

// IsConnected reports whether the session is subscribed.
func (b *Bridge) IsConnected() bool {
	return b.session.IsConnected()
}

// Reconnect blocks until the session is subscribed again or ctx is done.
func (b *Bridge) Reconnect(ctx context.Context) error {
	return b.session.Reconnect(ctx)
}

// ProcessEvents runs one session loop step. Command handlers fire here.
func (b *Bridge) ProcessEvents(ctx context.Context) int {
	b.loopCtx = ctx
	defer func() { b.loopCtx = context.Background() }()
	return b.session.Loop()
}

// HandleCommand forwards a command message to the addressed node.
//
// The payload is sent as opaque NUL-terminated text, truncated to
// packet.CommandSize-1 bytes. An empty payload goes out as a lone NUL and
// the node ignores it. Topics that do not name a configured node are
// rejected without touching the radio.
func (b *Bridge) HandleCommand(topic string, payload []byte) error {
	ctx := b.loopCtx
	ev := CommandEvent{Source: SourceMQTT, At: b.now()}

	id, err := b.table.NodeIDFromTopic(topic, b.topics.Command)
	if err != nil {
		ev.Command = packet.EncodeCommand(payload).Text()
		return b.reject(ctx, ev, fmt.Errorf("%w: %w", ErrRejectedCommand, err))
	}
	ev.Node = id

	cmd := packet.EncodeCommand(payload)
	ev.Command = cmd.Text()
	if packet.Truncated(payload) {
		b.logWarn("command truncated",
			"node_id", id,
			"original_length", len(payload),
			"command", cmd.Text(),
		)
	}

	if err := b.radio.Send(ctx, id, cmd.Bytes()); err != nil {
		b.commandsFailed.Add(1)
		ev.Status = CommandFailed
		ev.Error = err.Error()
		b.sinks.command(ctx, ev)
		return fmt.Errorf("sending %q to node %d: %w", cmd.Text(), id, err)
	}

	b.commandsSent.Add(1)
	ev.Status = CommandSent
	b.sinks.command(ctx, ev)
	b.logDebug("command sent", "node_id", id, "command", cmd.Text())
	return nil
}

func (b *Bridge) reject(ctx context.Context, ev CommandEvent, err error) error {
	b.commandsRejected.Add(1)
	ev.Status = CommandRejected
	ev.Error = err.Error()
	b.sinks.command(ctx, ev)
	return err
}

// PublishTelemetry publishes t as JSON on its node's telemetry topic.
func (b *Bridge) PublishTelemetry(t packet.Telemetry) error {
	topic, err := b.table.TopicFor(address.NodeID(t.NodeID), b.topics.Telemetry)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encoding telemetry: %w", err)
	}
	return b.session.Publish(topic, payload)
}

// CommandStats are cumulative command counters.
type CommandStats struct {
	Sent     uint64
	Failed   uint64
	Rejected uint64
}

// CommandStats returns the command counters.
func (b *Bridge) CommandStats() CommandStats {
	return CommandStats{
		Sent:     b.commandsSent.Load(),
		Failed:   b.commandsFailed.Load(),
		Rejected: b.commandsRejected.Load(),
	}
}

// isSessionLost reports whether err means the publish failed for lack of a
// session rather than a broker error.
func isSessionLost(err error) bool {
	return errors.Is(err, mqtt.ErrSessionLost)
}

func (b *Bridge) logDebug(msg string, args ...any) {
	if b.logger != nil {
		b.logger.Debug(msg, args...)
	}
}

func (b *Bridge) logWarn(msg string, args ...any) {
	if b.logger != nil {
		b.logger.Warn(msg, args...)
	}
}
