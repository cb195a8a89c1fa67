package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/nerrad567/ledlocator/internal/locator"
)

// LEDMetadataKey is the metadata key holding a location's LED index.
const LEDMetadataKey = "wled_led"

// MetadataRegistry stores LED bindings in location metadata under
// LEDMetadataKey. It satisfies locator.Registry.
type MetadataRegistry struct {
	repo Repository
}

// NewMetadataRegistry creates a registry backed by repo.
func NewMetadataRegistry(repo Repository) *MetadataRegistry {
	return &MetadataRegistry{repo: repo}
}

var _ locator.Registry = (*MetadataRegistry)(nil)

// Get returns the raw LED value bound to locationID.
func (r *MetadataRegistry) Get(ctx context.Context, locationID string) (string, bool, error) {
	v, ok, err := r.repo.GetMetadata(ctx, locationID, LEDMetadataKey)
	if err != nil {
		return "", false, registryError(locationID, err)
	}
	return v, ok, nil
}

// Set binds value to locationID, replacing any previous binding.
func (r *MetadataRegistry) Set(ctx context.Context, locationID, value string) error {
	if err := r.repo.SetMetadata(ctx, locationID, LEDMetadataKey, value); err != nil {
		return registryError(locationID, err)
	}
	return nil
}

// Clear removes the binding. Clearing an unbound location is a no-op.
func (r *MetadataRegistry) Clear(ctx context.Context, locationID string) error {
	if err := r.repo.ClearMetadata(ctx, locationID, LEDMetadataKey); err != nil {
		return registryError(locationID, err)
	}
	return nil
}

// DisplayName returns the full path of the location, e.g. "Shelf A/Bin 3".
func (r *MetadataRegistry) DisplayName(ctx context.Context, locationID string) (string, error) {
	loc, err := r.repo.Get(ctx, locationID)
	if err != nil {
		return "", registryError(locationID, err)
	}
	return loc.PathString, nil
}

// List returns every bound location ordered by path.
func (r *MetadataRegistry) List(ctx context.Context) ([]locator.Registration, error) {
	locs, err := r.repo.ListWithMetadataKey(ctx, LEDMetadataKey)
	if err != nil {
		return nil, fmt.Errorf("listing LED registrations: %w", err)
	}

	regs := make([]locator.Registration, 0, len(locs))
	for _, loc := range locs {
		regs = append(regs, locator.Registration{
			LocationID: loc.ID,
			Name:       loc.PathString,
			LED:        metadataString(loc.Metadata[LEDMetadataKey]),
		})
	}
	return regs, nil
}

func registryError(locationID string, err error) error {
	if errors.Is(err, ErrLocationNotFound) {
		return fmt.Errorf("%w: %s", locator.ErrNotFound, locationID)
	}
	if errors.Is(err, ErrInvalidMetadata) {
		return fmt.Errorf("%w: %w", locator.ErrValidation, err)
	}
	return err
}
