package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/ledlocator/internal/locator"
)

const namespace = "ledlocator"

var (
	locatorEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "locator",
		Name:      "events_total",
		Help:      "Locator events by type",
	}, []string{"type"})

	locateDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "locator",
		Name:      "locate_duration_seconds",
		Help:      "Time from locate request to the marker command completing",
		Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	})

	controllerRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "controller",
		Name:      "requests_total",
		Help:      "Controller state requests by step and success",
	}, []string{"step", "ok"})

	controllerDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "controller",
		Name:      "request_duration_seconds",
		Help:      "Controller state request latency",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 3},
	}, []string{"step"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Recorder updates the package collectors. The zero value is ready to use.
type Recorder struct{}

// HandleEvent implements locator.EventSink.
func (Recorder) HandleEvent(_ context.Context, ev locator.Event) {
	locatorEvents.WithLabelValues(string(ev.Type)).Inc()
	if ev.Type == locator.EventLocated && ev.Duration > 0 {
		locateDuration.Observe(ev.Duration.Seconds())
	}
}

// WriteControllerRequest implements wled.Recorder.
func (Recorder) WriteControllerRequest(step string, ok bool, elapsed time.Duration) {
	controllerRequests.WithLabelValues(step, strconv.FormatBool(ok)).Inc()
	controllerDuration.WithLabelValues(step).Observe(elapsed.Seconds())
}

var _ locator.EventSink = Recorder{}
