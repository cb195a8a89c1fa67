// Package influxdb records locator telemetry in InfluxDB 2.x.
//
// Two measurements are written, each also tagged with the site ID:
//
//	led_locate    tags: event, location_id   fields: led, duration_ms
//	wled_request  tags: step                 fields: ok, duration_ms
//
// InfluxDB is optional. Connect returns ErrDisabled when it is switched
// off, and a nil or closed Client drops writes silently.
package influxdb
