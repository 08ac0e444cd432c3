// Package influxdb writes garden telemetry and command events to InfluxDB v2
// using the official influxdb-client-go library.
//
// Writes are non-blocking and batched according to batch_size and
// flush_interval; failures surface through the SetOnError callback, never
// through the control loop.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // time-series sink not configured
//	}
//	defer client.Close()
//
//	client.WriteTelemetry(reading, time.Now())
package influxdb
