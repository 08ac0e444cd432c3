// Package gateway implements the smart garden gateway control loop.
//
// The gateway bridges MQTT and an nRF24 radio network of up to five garden
// nodes. It owns both the radio transport and the MQTT session and drives
// them from a single goroutine:
//
//	MQTT command topic → Bridge.HandleCommand → radio.Transport.Send → node
//	node → radio.Transport.PollReceive → packet.DecodeTelemetry → MQTT telemetry topic
//
// Readings and command outcomes are fanned out to Sinks (SQLite registry,
// time-series writer, metrics, WebSocket hub) on the same goroutine.
//
// Failures are logged and dropped. Only a lost MQTT session is retried, by
// the blocking reconnect at the start of the next Step.
package gateway
