// Package api implements the HTTP REST API and WebSocket server for the
// smart garden gateway.
//
// This package provides:
//   - REST endpoints for nodes, readings history and the command log
//   - A pump endpoint that publishes commands to the MQTT command topic
//   - WebSocket hub for live reading and command events
//   - Prometheus scrape endpoint
//   - Middleware stack (request ID, logging, recovery, CORS)
//
// # Architecture
//
// The API server never touches the radio. Pump requests are published to
// the broker like any other MQTT client would, and reach the radio through
// the gateway control loop. Live events reach WebSocket clients because the
// Hub is registered as a gateway sink.
//
// # Graceful Degradation
//
// The server operates without MQTT: reads and WebSocket connections work,
// only pump commands fail with 503.
package api
