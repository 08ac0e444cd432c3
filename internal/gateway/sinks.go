package gateway

import (
	"context"
	"time"

	"github.com/ImGhostCode/smart-garden/internal/packet"
)

// TimeSeriesWriter is the non-blocking time-series writer.
// *influxdb.Client satisfies it.
type TimeSeriesWriter interface {
	WriteTelemetry(t packet.Telemetry, at time.Time)
	WriteCommand(nodeID int, command, source, status string, at time.Time)
}

// TimeSeriesSink forwards events to a time-series writer.
type TimeSeriesSink struct {
	w TimeSeriesWriter
}

// NewTimeSeriesSink wraps w as a Sink.
func NewTimeSeriesSink(w TimeSeriesWriter) *TimeSeriesSink {
	return &TimeSeriesSink{w: w}
}

func (s *TimeSeriesSink) OnReading(_ context.Context, r Reading) error {
	s.w.WriteTelemetry(r.Telemetry, r.ReceivedAt)
	return nil
}

func (s *TimeSeriesSink) OnCommand(_ context.Context, ev CommandEvent) error {
	s.w.WriteCommand(int(ev.Node), ev.Command, ev.Source, ev.Status, ev.At)
	return nil
}

// SinkFuncs adapts plain functions to Sink. Nil fields are skipped.
type SinkFuncs struct {
	Reading func(ctx context.Context, r Reading) error
	Command func(ctx context.Context, ev CommandEvent) error
}

func (f SinkFuncs) OnReading(ctx context.Context, r Reading) error {
	if f.Reading == nil {
		return nil
	}
	return f.Reading(ctx, r)
}

func (f SinkFuncs) OnCommand(ctx context.Context, ev CommandEvent) error {
	if f.Command == nil {
		return nil
	}
	return f.Command(ctx, ev)
}
