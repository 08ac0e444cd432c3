package packet

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
)

func TestEncodeTelemetry_Layout(t *testing.T) {
	rec := Telemetry{NodeID: 3, Temperature: 24.5, Humidity: 61.0, LDR: 512, Soil: 300}

	got := EncodeTelemetry(rec)
	if len(got) != TelemetrySize {
		t.Fatalf("len(EncodeTelemetry()) = %d, want %d", len(got), TelemetrySize)
	}

	want := []byte{
		0x03,                   // node_id
		0x00, 0x00, 0xC4, 0x41, // 24.5f LE
		0x00, 0x00, 0x74, 0x42, // 61.0f LE
		0x00, 0x02, // 512 LE
		0x2C, 0x01, // 300 LE
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("byte %d = %#02x, want %#02x", i, got[i], want[i])
		}
	}
}

func TestTelemetry_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		rec  Telemetry
	}{
		{"typical", Telemetry{NodeID: 3, Temperature: 24.5, Humidity: 61.0, LDR: 512, Soil: 300}},
		{"zero", Telemetry{}},
		{"max ids", Telemetry{NodeID: 255, Temperature: -40.25, Humidity: 100, LDR: 65535, Soil: 65535}},
		{"fractional", Telemetry{NodeID: 1, Temperature: 0.1, Humidity: 33.333, LDR: 1, Soil: 4095}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeTelemetry(EncodeTelemetry(tt.rec))
			if err != nil {
				t.Fatalf("DecodeTelemetry() error = %v", err)
			}
			if got != tt.rec {
				t.Errorf("DecodeTelemetry(EncodeTelemetry(r)) = %+v, want %+v", got, tt.rec)
			}
		})
	}
}

func TestDecodeTelemetry_NaNBitsSurvive(t *testing.T) {
	rec := Telemetry{NodeID: 2, Temperature: float32(math.NaN()), Humidity: 50}

	got, err := DecodeTelemetry(EncodeTelemetry(rec))
	if err != nil {
		t.Fatalf("DecodeTelemetry() error = %v", err)
	}
	if !math.IsNaN(float64(got.Temperature)) {
		t.Errorf("Temperature = %v, want NaN", got.Temperature)
	}
	if got.Valid() {
		t.Error("Valid() = true for NaN temperature")
	}
}

func TestDecodeTelemetry_Short(t *testing.T) {
	for n := 0; n < TelemetrySize; n++ {
		buf := EncodeTelemetry(Telemetry{NodeID: 4, Temperature: 20, Humidity: 40, LDR: 9, Soil: 9})[:n]

		got, err := DecodeTelemetry(buf)
		if !errors.Is(err, ErrMalformedPacket) {
			t.Fatalf("DecodeTelemetry(%d bytes) error = %v, want ErrMalformedPacket", n, err)
		}
		if got != (Telemetry{}) {
			t.Errorf("DecodeTelemetry(%d bytes) = %+v, want zero record", n, got)
		}
	}
}

func TestDecodeTelemetry_LongIsTruncated(t *testing.T) {
	rec := Telemetry{NodeID: 5, Temperature: 18.75, Humidity: 70, LDR: 100, Soil: 200}
	buf := append(EncodeTelemetry(rec), make([]byte, 32-TelemetrySize)...)
	for i := TelemetrySize; i < len(buf); i++ {
		buf[i] = 0xFF
	}

	got, err := DecodeTelemetry(buf)
	if err != nil {
		t.Fatalf("DecodeTelemetry() error = %v", err)
	}
	if got != rec {
		t.Errorf("DecodeTelemetry() = %+v, want %+v", got, rec)
	}
}

func TestTelemetry_MarshalJSON(t *testing.T) {
	rec := Telemetry{NodeID: 3, Temperature: 24.5, Humidity: 61.0, LDR: 512, Soil: 300}

	data, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("json.Marshal() error = %v", err)
	}

	want := `{"node_id":3,"temperature":24.5,"humidity":61,"ldr":512,"soil":300}`
	if string(data) != want {
		t.Errorf("json.Marshal() = %s, want %s", data, want)
	}
}

func TestTelemetry_MarshalJSON_Float32Precision(t *testing.T) {
	data, err := json.Marshal(Telemetry{NodeID: 1, Temperature: 0.1, Humidity: 33.3})
	if err != nil {
		t.Fatalf("json.Marshal() error = %v", err)
	}

	want := `{"node_id":1,"temperature":0.1,"humidity":33.3,"ldr":0,"soil":0}`
	if string(data) != want {
		t.Errorf("json.Marshal() = %s, want %s", data, want)
	}
}

func TestTelemetry_MarshalJSON_NaNIsNull(t *testing.T) {
	rec := Telemetry{NodeID: 2, Temperature: float32(math.NaN()), Humidity: float32(math.Inf(1)), LDR: 7, Soil: 8}

	data, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("json.Marshal() error = %v", err)
	}

	want := `{"node_id":2,"temperature":null,"humidity":null,"ldr":7,"soil":8}`
	if string(data) != want {
		t.Errorf("json.Marshal() = %s, want %s", data, want)
	}

	var back Telemetry
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("json.Unmarshal() error = %v", err)
	}
	if !math.IsNaN(float64(back.Temperature)) || !math.IsNaN(float64(back.Humidity)) {
		t.Errorf("null fields decoded as %v/%v, want NaN", back.Temperature, back.Humidity)
	}
}

func TestTelemetry_UnmarshalJSON(t *testing.T) {
	var got Telemetry
	if err := json.Unmarshal([]byte(`{"node_id":3,"temperature":24.5,"humidity":61,"ldr":512,"soil":300}`), &got); err != nil {
		t.Fatalf("json.Unmarshal() error = %v", err)
	}

	want := Telemetry{NodeID: 3, Temperature: 24.5, Humidity: 61, LDR: 512, Soil: 300}
	if got != want {
		t.Errorf("json.Unmarshal() = %+v, want %+v", got, want)
	}
}
