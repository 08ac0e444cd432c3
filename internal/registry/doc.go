// Package registry persists garden nodes, telemetry history and the command
// log in SQLite.
//
// The registry is a Sink of the gateway control loop: every decoded reading
// and every command outcome is written as it happens. It is a history, not a
// store-and-forward queue; nothing here is replayed to MQTT.
//
// Tables (see migrations/):
//   - nodes: one row per address table entry, seeded at start-up
//   - readings: decoded telemetry, pruned after database.retention_days
//   - command_log: actuator commands from MQTT and the HTTP API
package registry
