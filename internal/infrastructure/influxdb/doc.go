// Package influxdb provides InfluxDB connectivity for the Free Sleep bridge.
//
// It wraps the official influxdb-client-go v2 library with connection
// management, batched non-blocking writes, and health monitoring.
//
// # Purpose
//
// This package handles time-series storage for:
//   - Sleep vitals (heart rate, breathing rate, HRV) per side
//   - Bed and target temperatures per side
//   - Pod telemetry (WiFi strength, water level, priming state)
//
// SQLite keeps the snapshot and command audit trail; InfluxDB carries the
// high-resolution numeric series that dashboards graph over weeks. The
// bridge works fine with InfluxDB disabled - writes become no-ops.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    // ErrDisabled when turned off in config
//	}
//	defer client.Close()
//
//	client.WriteVitals("left", 58, 13.5, 42)
//	client.WriteTemperature("left", 71.3, 72.0)
//
// Writes are batched and flushed asynchronously; failures surface through
// the SetOnError callback.
package influxdb
