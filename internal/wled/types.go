package wled

import (
	"strings"
	"time"

	"github.com/nerrad567/ledlocator/internal/infrastructure/config"
)

// Color is a 6-digit RGB hex string as the controller expects it, e.g. "FF0000".
type Color string

// Default colours: everything dark, marked LED red.
const (
	DefaultOffColor    Color = "000000"
	DefaultMarkerColor Color = "FF0000"
)

// DefaultTimeout bounds each controller request when Config.Timeout is unset.
const DefaultTimeout = 3 * time.Second

// Step names a command within a DesiredState.
type Step string

const (
	// StepClear sets every LED on the segment to the off colour.
	StepClear Step = "clear"

	// StepMark sets the target LED to the marker colour.
	StepMark Step = "mark"
)

// Segment is the "seg" object of a /json/state body.
//
// I is WLED's individual-LED array: either [start, stop, colour] for a range
// or [index, colour] for a single LED.
type Segment struct {
	I []any `json:"i"`
}

// StatePayload is the JSON body POSTed to /json/state.
type StatePayload struct {
	Seg Segment `json:"seg"`
}

// StateCommand is one request in a DesiredState.
type StateCommand struct {
	Step    Step
	Payload StatePayload
}

// DesiredState is the ordered list of commands for one Set call.
// It is built per call and never stored.
type DesiredState []StateCommand

// Info is the subset of /json/info the locator reports.
type Info struct {
	Name     string `json:"name"`
	Version  string `json:"version"`
	LEDCount int    `json:"led_count"`
}

// Config holds controller settings. It is built once at startup.
type Config struct {
	// Address is host, host:port, or a full http:// base URL.
	Address string

	// MaxLEDs is the number of addressable LEDs on the segment.
	MaxLEDs int

	// Timeout bounds each request. Zero means DefaultTimeout.
	Timeout time.Duration

	OffColor    Color
	MarkerColor Color
}

// ConfigFrom converts the wled section of the service configuration.
func ConfigFrom(cfg config.WLEDConfig) Config {
	return Config{
		Address:     cfg.Address,
		MaxLEDs:     cfg.MaxLEDs,
		Timeout:     cfg.Timeout,
		OffColor:    Color(cfg.OffColor),
		MarkerColor: Color(cfg.MarkerColor),
	}
}

// Validate reports whether Set could ever succeed with this configuration.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Address) == "" {
		return ErrNoAddress
	}
	if c.MaxLEDs < 1 {
		return ErrInvalidCapacity
	}
	return nil
}

func (c Config) timeout() time.Duration {
	if c.Timeout <= 0 {
		return DefaultTimeout
	}
	return c.Timeout
}

func (c Config) offColor() Color {
	if c.OffColor == "" {
		return DefaultOffColor
	}
	return c.OffColor
}

func (c Config) markerColor() Color {
	if c.MarkerColor == "" {
		return DefaultMarkerColor
	}
	return c.MarkerColor
}
