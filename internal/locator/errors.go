package locator

import "errors"

// Sentinel errors for locator operations. All are raised before any side
// effect. Controller failures are passed through unchanged from the
// Illuminator.
var (
	// ErrValidation is returned when an LED index is not a non-negative integer.
	ErrValidation = errors.New("locator: invalid led index")

	// ErrNotFound is returned when the location does not exist.
	// Registry implementations wrap it for missing locations.
	ErrNotFound = errors.New("locator: location not found")

	// ErrUnauthorized is returned when the principal may not manage LEDs.
	ErrUnauthorized = errors.New("locator: not authorised")
)
