package influxdb

import (
	"math"
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/ImGhostCode/smart-garden/internal/packet"
)

// Measurement names.
const (
	MeasurementTelemetry = "garden_telemetry"
	MeasurementCommand   = "garden_command"
)

// WriteTelemetry records one decoded reading. NaN sensor values are left
// out of the point; a reading with no valid field at all still records the
// ADC channels, which are always present.
func (c *Client) WriteTelemetry(t packet.Telemetry, at time.Time) {
	if !c.IsConnected() {
		return
	}

	fields := map[string]interface{}{
		"ldr":  int64(t.LDR),
		"soil": int64(t.Soil),
	}
	if isFinite(t.Temperature) {
		fields["temperature"] = float64(t.Temperature)
	}
	if isFinite(t.Humidity) {
		fields["humidity"] = float64(t.Humidity)
	}

	point := write.NewPoint(
		MeasurementTelemetry,
		map[string]string{"node_id": strconv.Itoa(int(t.NodeID))},
		fields,
		at,
	)
	c.writeAPI.WritePoint(point)
}

// WriteCommand records an actuator command and its outcome.
//
// Parameters:
//   - nodeID: Target node
//   - command: Directive text ("ON", "OFF")
//   - source: "mqtt" or "api"
//   - status: "sent", "failed", "rejected" or "requested"
func (c *Client) WriteCommand(nodeID int, command, source, status string, at time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		MeasurementCommand,
		map[string]string{
			"node_id": strconv.Itoa(nodeID),
			"source":  source,
			"status":  status,
		},
		map[string]interface{}{
			"command": command,
			"ok":      status == "sent",
		},
		at,
	)
	c.writeAPI.WritePoint(point)
}

func isFinite(f float32) bool {
	v := float64(f)
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
