package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteVitals writes one sleep vitals measurement for a side.
//
// The write is non-blocking; data is batched and sent asynchronously.
//
// Parameters:
//   - side: "left" or "right"
//   - heartRate: Average heart rate in bpm
//   - breathingRate: Average breaths per minute
//   - hrv: Heart rate variability in ms
//
// Example:
//
//	client.WriteVitals("left", 58, 13.5, 42)
func (c *Client) WriteVitals(side string, heartRate, breathingRate, hrv float64) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"vitals",
		map[string]string{
			"side": side,
		},
		map[string]interface{}{
			"heart_rate":     heartRate,
			"breathing_rate": breathingRate,
			"hrv":            hrv,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteTemperature writes the current and target bed temperature for a side.
//
// Parameters:
//   - side: "left" or "right"
//   - currentF: Reported bed temperature in Fahrenheit
//   - targetF: Target temperature in Fahrenheit
func (c *Client) WriteTemperature(side string, currentF, targetF float64) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"temperature",
		map[string]string{
			"side": side,
		},
		map[string]interface{}{
			"current_f": currentF,
			"target_f":  targetF,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePodTelemetry writes shared pod telemetry.
//
// Parameters:
//   - wifiStrength: WiFi signal strength as reported by the pod
//   - waterLevelOK: Whether the water level is adequate
//   - priming: Whether a priming cycle is running
func (c *Client) WritePodTelemetry(wifiStrength int, waterLevelOK, priming bool) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"pod_telemetry",
		map[string]string{},
		map[string]interface{}{
			"wifi_strength":  wifiStrength,
			"water_level_ok": waterLevelOK,
			"priming":        priming,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for custom measurements that don't fit the helper methods.
//
// Parameters:
//   - measurement: The measurement name (table)
//   - tags: Key-value pairs for indexing (low cardinality)
//   - fields: Key-value pairs for the actual data
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

// WritePointWithTime writes a custom point with a specific timestamp.
//
// Use this when the timestamp is not "now" (e.g., a vitals summary stamped
// by the pod itself).
//
// Parameters:
//   - measurement: The measurement name
//   - tags: Key-value pairs for indexing
//   - fields: Key-value pairs for the data
//   - timestamp: The exact time for this data point
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}
