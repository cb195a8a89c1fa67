package wled

import (
	"errors"
	"fmt"
)

// Sentinel errors for controller operations.
//
// Configuration problems are detected before any request is made:
//
//	if errors.Is(err, wled.ErrConfiguration) {
//	    // address missing, capacity invalid, or target out of range
//	}
var (
	// ErrConfiguration is the parent of every error raised before I/O.
	ErrConfiguration = errors.New("wled: configuration error")

	// ErrNoAddress is returned when no controller address is configured.
	ErrNoAddress = fmt.Errorf("%w: no controller address", ErrConfiguration)

	// ErrInvalidCapacity is returned when MaxLEDs is below 1.
	ErrInvalidCapacity = fmt.Errorf("%w: max leds must be at least 1", ErrConfiguration)

	// ErrTargetOutOfRange is returned when the LED to mark is not on the strip.
	ErrTargetOutOfRange = fmt.Errorf("%w: target led out of range", ErrConfiguration)

	// ErrNetwork covers timeouts, refused connections, non-2xx replies and
	// malformed response bodies.
	ErrNetwork = errors.New("wled: network error")
)

// StepError reports which command of a DesiredState failed.
// A failed clear means no mark was sent. A failed mark leaves the strip
// cleared.
type StepError struct {
	Step Step
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("wled %s step: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}
