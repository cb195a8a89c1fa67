// Package metrics exports Prometheus counters for the locator.
//
// Collectors are registered with promauto on the default registry, and
// Handler serves them in the Prometheus text format. A Recorder feeds them
// from two places: locator events (as a locator.EventSink) and per-request
// controller timings (as a wled.Recorder).
package metrics
