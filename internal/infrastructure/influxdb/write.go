package influxdb

import "time"

const (
	measurementLocate     = "led_locate"
	measurementController = "wled_request"
)

// millis renders d as fractional milliseconds.
func millis(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}

// WriteLocateEvent records one locator event. led is nil for events that
// targeted no LED, such as an unlocatable lookup or turning the strip off.
func (c *Client) WriteLocateEvent(locationID, eventType string, led *int, duration time.Duration) {
	tags := map[string]string{"event": eventType}
	if locationID != "" {
		tags["location_id"] = locationID
	}
	fields := map[string]any{"duration_ms": millis(duration)}
	if led != nil {
		fields["led"] = *led
	}
	c.WritePoint(measurementLocate, tags, fields)
}

// WriteControllerRequest records one WLED request; step is "clear" or
// "mark". It satisfies wled.Recorder.
func (c *Client) WriteControllerRequest(step string, ok bool, elapsed time.Duration) {
	c.WritePoint(measurementController,
		map[string]string{"step": step},
		map[string]any{"ok": ok, "duration_ms": millis(elapsed)},
	)
}
