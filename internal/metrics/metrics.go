// Package metrics exposes gateway counters to Prometheus.
//
// Loop counters already kept by the session, transport and control loop are
// exported with CounterFunc/GaugeFunc so there is a single source of truth.
// Per-event series (telemetry results, command outcomes, node last-seen) are
// fed by registering Metrics as a gateway Sink.
package metrics

import (
	"context"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ImGhostCode/smart-garden/internal/gateway"
	"github.com/ImGhostCode/smart-garden/internal/infrastructure/mqtt"
	"github.com/ImGhostCode/smart-garden/internal/radio"
)

const (
	namespace = "smartgarden"
	subsystem = "gateway"
)

// Sources supplies the counters kept elsewhere. Nil sources are skipped.
type Sources struct {
	Session   func() mqtt.Stats
	Connected func() bool
	Radio     func() radio.Stats
	Loop      func() gateway.Stats
}

// Metrics holds the gateway collectors.
type Metrics struct {
	telemetry    *prometheus.CounterVec
	commands     *prometheus.CounterVec
	nodeLastSeen *prometheus.GaugeVec
}

var _ gateway.Sink = (*Metrics)(nil)

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer, src Sources) (*Metrics, error) {
	m := &Metrics{
		telemetry: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "telemetry_total",
			Help:      "Decoded telemetry records by publish result.",
		}, []string{"result"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "commands_total",
			Help:      "Actuator commands by source and outcome.",
		}, []string{"source", "status"}),
		nodeLastSeen: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "node_last_seen_timestamp_seconds",
			Help:      "Unix time of the last reading from each node.",
		}, []string{"node_id"}),
	}

	collectors := []prometheus.Collector{m.telemetry, m.commands, m.nodeLastSeen}
	collectors = append(collectors, sourceCollectors(src)...)
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func sourceCollectors(src Sources) []prometheus.Collector {
	var cs []prometheus.Collector

	counter := func(name, help string, labels prometheus.Labels, fn func() float64) {
		cs = append(cs, prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		}, fn))
	}

	if src.Session != nil {
		s := src.Session
		counter("mqtt_connect_attempts_total", "MQTT connect attempts.", nil,
			func() float64 { return float64(s().ConnectAttempts) })
		counter("mqtt_connection_lost_total", "MQTT sessions lost after subscribing.", nil,
			func() float64 { return float64(s().ConnectionLosts) })
		counter("mqtt_inbox_dropped_total", "Command messages dropped on a full inbox.", nil,
			func() float64 { return float64(s().InboxDropped) })
	}
	if src.Connected != nil {
		connected := src.Connected
		cs = append(cs, prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "mqtt_connected",
			Help:      "1 when the MQTT session is subscribed.",
		}, func() float64 {
			if connected() {
				return 1
			}
			return 0
		}))
	}
	if src.Radio != nil {
		r := src.Radio
		counter("radio_sent_total", "Radio transmissions acknowledged by a node.", nil,
			func() float64 { return float64(r().Sent) })
		counter("radio_send_failed_total", "Radio transmissions that failed or were not acknowledged.", nil,
			func() float64 { return float64(r().SendFail) })
		counter("radio_received_total", "Radio payloads read from the receive FIFO.", nil,
			func() float64 { return float64(r().Received) })
	}
	if src.Loop != nil {
		l := src.Loop
		counter("telemetry_dropped_total", "Radio payloads dropped before publishing.",
			prometheus.Labels{"reason": "malformed"},
			func() float64 { return float64(l().Malformed) })
		counter("telemetry_dropped_total", "Radio payloads dropped before publishing.",
			prometheus.Labels{"reason": "unknown_node"},
			func() float64 { return float64(l().UnknownNode) })
		counter("mqtt_reconnects_total", "Sessions restored by the control loop.", nil,
			func() float64 { return float64(l().Reconnects) })
	}
	return cs
}

// OnReading counts the reading and updates the node's last-seen gauge.
func (m *Metrics) OnReading(_ context.Context, r gateway.Reading) error {
	result := "published"
	if !r.Published {
		result = "publish_failed"
	}
	m.telemetry.WithLabelValues(result).Inc()
	m.nodeLastSeen.WithLabelValues(strconv.Itoa(int(r.Node))).Set(float64(r.ReceivedAt.Unix()))
	return nil
}

// OnCommand counts the command outcome.
func (m *Metrics) OnCommand(_ context.Context, ev gateway.CommandEvent) error {
	m.commands.WithLabelValues(ev.Source, ev.Status).Inc()
	return nil
}
