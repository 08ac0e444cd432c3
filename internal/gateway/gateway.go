package gateway

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/ImGhostCode/smart-garden/internal/packet"
)

// Config holds control loop settings.
type Config struct {
	GatewayID string
	Version   string
	// PollInterval is the pause between steps. Zero or less runs a tight
	// loop, which is the default.
	PollInterval time.Duration
	// HealthInterval is how often a healthy status is published. Zero
	// disables periodic health.
	HealthInterval time.Duration
	// Now defaults to time.Now.
	Now func() time.Time
}

// Stats are cumulative control loop counters.
type Stats struct {
	Reconnects    uint64
	Readings      uint64
	Published     uint64
	PublishFailed uint64
	Malformed     uint64
	UnknownNode   uint64
	RadioErrors   uint64
}

// Gateway is the single control loop that owns the radio and the MQTT
// session.
//
// Each Step:
//  1. reconnects the session if it is down (blocking)
//  2. dispatches queued command messages to the radio
//  3. polls the radio for one telemetry payload and publishes it
//  4. publishes periodic health when due
type Gateway struct {
	cfg    Config
	bridge *Bridge
	health *HealthReporter
	logger Logger
	now    func() time.Time

	// radioFailing suppresses repeated poll error logs.
	radioFailing bool

	reconnects    atomic.Uint64
	readings      atomic.Uint64
	published     atomic.Uint64
	publishFailed atomic.Uint64
	malformed     atomic.Uint64
	unknownNode   atomic.Uint64
	radioErrors   atomic.Uint64
}

// New creates the control loop around bridge.
func New(cfg Config, bridge *Bridge, logger Logger) *Gateway {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	g := &Gateway{
		cfg:    cfg,
		bridge: bridge,
		logger: logger,
		now:    cfg.Now,
	}
	bridge.now = cfg.Now
	g.health = NewHealthReporter(HealthReporterConfig{
		GatewayID: cfg.GatewayID,
		Version:   cfg.Version,
		Interval:  cfg.HealthInterval,
		Publisher: bridge.session,
		Stats:     g.Details,
		Now:       g.clock,
	})
	g.health.SetLogger(logger)
	return g
}

// AddSink registers a sink for readings and command outcomes.
func (g *Gateway) AddSink(s Sink) {
	g.bridge.sinks.add(s)
}

// RecordCommand hands a command event that did not pass through the radio
// (an API request, for instance) to every sink.
func (g *Gateway) RecordCommand(ctx context.Context, ev CommandEvent) {
	if ev.At.IsZero() {
		ev.At = g.clock()
	}
	g.bridge.sinks.command(ctx, ev)
}

// Bridge returns the MQTT/radio bridge driven by this loop.
func (g *Gateway) Bridge() *Bridge {
	return g.bridge
}

// Step runs one control loop iteration. It only fails when ctx is done
// while reconnecting.
func (g *Gateway) Step(ctx context.Context) error {
	if !g.bridge.IsConnected() {
		g.logWarn("mqtt session down, reconnecting")
		if err := g.bridge.Reconnect(ctx); err != nil {
			return err
		}
		g.reconnects.Add(1)
		g.logInfo("mqtt session restored")
	}

	g.bridge.ProcessEvents(ctx)
	g.receive(ctx)
	g.health.MaybePublish(g.clock())
	return nil
}

// Run repeats Step until ctx is cancelled.
func (g *Gateway) Run(ctx context.Context) error {
	var timer *time.Timer
	if g.cfg.PollInterval > 0 {
		timer = time.NewTimer(g.cfg.PollInterval)
		defer timer.Stop()
	}

	for {
		if err := g.Step(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}

		if timer == nil {
			if ctx.Err() != nil {
				return nil
			}
			continue
		}
		timer.Reset(g.cfg.PollInterval)
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}
	}
}

// receive handles at most one pending radio payload.
func (g *Gateway) receive(ctx context.Context) {
	in, ok, err := g.bridge.radio.PollReceive()
	if err != nil {
		g.radioErrors.Add(1)
		if !g.radioFailing {
			g.radioFailing = true
			g.logWarn("radio poll failed", "error", err)
		}
		return
	}
	if g.radioFailing {
		g.radioFailing = false
		g.logInfo("radio poll recovered")
	}
	if !ok {
		return
	}

	t, err := packet.DecodeTelemetry(in.Payload)
	if err != nil {
		g.malformed.Add(1)
		g.logWarn("dropping malformed packet", "pipe", in.Pipe, "length", len(in.Payload), "error", err)
		return
	}

	id, err := g.bridge.table.Validate(int(t.NodeID))
	if err != nil {
		g.unknownNode.Add(1)
		g.logWarn("dropping telemetry from unknown node", "pipe", in.Pipe, "error", err)
		return
	}
	if in.Node != 0 && in.Node != id {
		g.logDebug("telemetry node id differs from pipe binding", "node_id", id, "pipe_node", in.Node)
	}

	g.readings.Add(1)
	r := Reading{
		Telemetry:  t,
		Node:       id,
		Pipe:       in.Pipe,
		ReceivedAt: g.clock(),
	}

	if err := g.bridge.PublishTelemetry(t); err != nil {
		g.publishFailed.Add(1)
		g.logWarn("telemetry publish failed", "node_id", id, "session_lost", isSessionLost(err), "error", err)
	} else {
		g.published.Add(1)
		r.Published = true
	}

	g.bridge.sinks.reading(ctx, r)
}

// Stats returns a snapshot of the loop counters.
func (g *Gateway) Stats() Stats {
	return Stats{
		Reconnects:    g.reconnects.Load(),
		Readings:      g.readings.Load(),
		Published:     g.published.Load(),
		PublishFailed: g.publishFailed.Load(),
		Malformed:     g.malformed.Load(),
		UnknownNode:   g.unknownNode.Load(),
		RadioErrors:   g.radioErrors.Load(),
	}
}

// Details returns the loop, radio and command counters reported in health
// messages.
func (g *Gateway) Details() map[string]any {
	s := g.Stats()
	rs := g.bridge.radio.Stats()
	cs := g.bridge.CommandStats()
	return map[string]any{
		"nodes":             g.bridge.table.Len(),
		"radio_ready":       g.bridge.radio.Ready(),
		"radio_sent":        rs.Sent,
		"radio_send_failed": rs.SendFail,
		"radio_received":    rs.Received,
		"readings":          s.Readings,
		"malformed":         s.Malformed,
		"unknown_node":      s.UnknownNode,
		"publish_failed":    s.PublishFailed,
		"commands_sent":     cs.Sent,
		"commands_failed":   cs.Failed,
		"commands_rejected": cs.Rejected,
		"reconnects":        s.Reconnects,
	}
}

func (g *Gateway) clock() time.Time {
	return g.now()
}

func (g *Gateway) logDebug(msg string, args ...any) {
	if g.logger != nil {
		g.logger.Debug(msg, args...)
	}
}

func (g *Gateway) logInfo(msg string, args ...any) {
	if g.logger != nil {
		g.logger.Info(msg, args...)
	}
}

func (g *Gateway) logWarn(msg string, args ...any) {
	if g.logger != nil {
		g.logger.Warn(msg, args...)
	}
}
