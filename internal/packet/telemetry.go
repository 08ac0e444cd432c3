package packet

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// TelemetrySize is the on-air size of a telemetry record in bytes.
const TelemetrySize = 13

// Telemetry is one sensor sample reported by a node.
type Telemetry struct {
	NodeID      uint8
	Temperature float32 // °C
	Humidity    float32 // %RH
	LDR         uint16  // raw ADC light level
	Soil        uint16  // raw ADC soil moisture
}

// wireTelemetry mirrors the packed firmware struct. encoding/binary never
// inserts padding, so binary.Size(wireTelemetry{}) == TelemetrySize.
type wireTelemetry struct {
	NodeID      uint8
	Temperature float32
	Humidity    float32
	LDR         uint16
	Soil        uint16
}

// EncodeTelemetry serialises a record into its 13-byte radio form.
func EncodeTelemetry(t Telemetry) []byte {
	var buf bytes.Buffer
	buf.Grow(TelemetrySize)
	//nolint:errcheck // bytes.Buffer writes cannot fail
	binary.Write(&buf, binary.LittleEndian, wireTelemetry(t))
	return buf.Bytes()
}

// DecodeTelemetry parses a radio payload into a record.
//
// Payloads longer than TelemetrySize are truncated (the radio delivers
// fixed-width payloads padded past the record). Shorter payloads fail with
// ErrMalformedPacket and a zero record.
func DecodeTelemetry(b []byte) (Telemetry, error) {
	if len(b) < TelemetrySize {
		return Telemetry{}, fmt.Errorf("%w: telemetry needs %d bytes, got %d",
			ErrMalformedPacket, TelemetrySize, len(b))
	}

	var w wireTelemetry
	if err := binary.Read(bytes.NewReader(b[:TelemetrySize]), binary.LittleEndian, &w); err != nil {
		return Telemetry{}, fmt.Errorf("%w: %w", ErrMalformedPacket, err)
	}
	return Telemetry(w), nil
}

// telemetryJSON is the MQTT payload shape. Float fields are pointers so a
// failed sensor read (NaN) is published as null instead of breaking the
// encoder.
type telemetryJSON struct {
	NodeID      uint8        `json:"node_id"`
	Temperature *json.Number `json:"temperature"`
	Humidity    *json.Number `json:"humidity"`
	LDR         uint16       `json:"ldr"`
	Soil        uint16       `json:"soil"`
}

// MarshalJSON encodes the record as
// {"node_id":3,"temperature":24.5,"humidity":61,"ldr":512,"soil":300}.
func (t Telemetry) MarshalJSON() ([]byte, error) {
	return json.Marshal(telemetryJSON{
		NodeID:      t.NodeID,
		Temperature: float32Number(t.Temperature),
		Humidity:    float32Number(t.Humidity),
		LDR:         t.LDR,
		Soil:        t.Soil,
	})
}

// UnmarshalJSON accepts the payload produced by MarshalJSON. A null
// temperature or humidity decodes to NaN.
func (t *Telemetry) UnmarshalJSON(data []byte) error {
	var raw struct {
		NodeID      uint8    `json:"node_id"`
		Temperature *float64 `json:"temperature"`
		Humidity    *float64 `json:"humidity"`
		LDR         uint16   `json:"ldr"`
		Soil        uint16   `json:"soil"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*t = Telemetry{
		NodeID:      raw.NodeID,
		Temperature: float32OrNaN(raw.Temperature),
		Humidity:    float32OrNaN(raw.Humidity),
		LDR:         raw.LDR,
		Soil:        raw.Soil,
	}
	return nil
}

// Valid reports whether both float channels carry a real reading.
func (t Telemetry) Valid() bool {
	return isFinite(t.Temperature) && isFinite(t.Humidity)
}

// float32Number formats v with float32 precision so 0.1 stays "0.1" rather
// than the widened float64 expansion.
func float32Number(v float32) *json.Number {
	if !isFinite(v) {
		return nil
	}
	n := json.Number(strconv.FormatFloat(float64(v), 'f', -1, 32))
	return &n
}

func float32OrNaN(v *float64) float32 {
	if v == nil {
		return float32(math.NaN())
	}
	return float32(*v)
}

func isFinite(v float32) bool {
	f := float64(v)
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
