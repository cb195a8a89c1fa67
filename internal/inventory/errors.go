package inventory

import "errors"

var (
	// ErrLocationNotFound is returned when a location ID does not exist.
	ErrLocationNotFound = errors.New("stock location not found")

	// ErrParentNotFound is returned when creating a child of a missing parent.
	ErrParentNotFound = errors.New("parent location not found")

	// ErrInvalidName is returned for empty or oversized names.
	ErrInvalidName = errors.New("invalid location name")

	// ErrInvalidMetadata is returned for metadata that would not fit the store.
	ErrInvalidMetadata = errors.New("invalid metadata")
)
