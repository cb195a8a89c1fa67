package inventory

import (
	"fmt"
	"strings"
)

const (
	maxNameLength        = 100
	maxDescriptionLength = 250
	maxMetadataKeys      = 50
	maxMetadataKeyLen    = 64
	maxMetadataValueLen  = 1024
)

// ValidateName checks a location name. Names may not contain the path separator.
func ValidateName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: name cannot be empty", ErrInvalidName)
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidName, maxNameLength)
	}
	if strings.Contains(name, pathSeparator) {
		return fmt.Errorf("%w: name cannot contain %q", ErrInvalidName, pathSeparator)
	}
	return nil
}

// ValidateLocation validates a Location before persistence.
func ValidateLocation(l *Location) error {
	if err := ValidateName(l.Name); err != nil {
		return err
	}
	if len(l.Description) > maxDescriptionLength {
		return fmt.Errorf("%w: description exceeds %d characters", ErrInvalidName, maxDescriptionLength)
	}
	return validateMetadata(l.Metadata)
}

func validateMetadata(m Metadata) error {
	if len(m) > maxMetadataKeys {
		return fmt.Errorf("%w: more than %d keys", ErrInvalidMetadata, maxMetadataKeys)
	}
	for k, v := range m {
		if err := validateMetadataEntry(k, v); err != nil {
			return err
		}
	}
	return nil
}

func validateMetadataEntry(key string, value any) error {
	if key == "" || len(key) > maxMetadataKeyLen {
		return fmt.Errorf("%w: key must be 1-%d characters", ErrInvalidMetadata, maxMetadataKeyLen)
	}
	if s, ok := value.(string); ok && len(s) > maxMetadataValueLen {
		return fmt.Errorf("%w: value for %q too long", ErrInvalidMetadata, key)
	}
	return nil
}
