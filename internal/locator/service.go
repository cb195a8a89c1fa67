package locator

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/ledlocator/internal/auth"
	"github.com/nerrad567/ledlocator/internal/infrastructure/logging"
)

// Deps holds the collaborators a Service needs.
type Deps struct {
	Registry    Registry
	Illuminator Illuminator
	Notifier    Notifier
	Authorizer  Authorizer

	// MaxLEDs is only used to warn about registrations past the end of the
	// strip. Illumination range checks belong to the Illuminator.
	MaxLEDs int

	Logger *logging.Logger
}

// Service orchestrates LED registration, lookup and illumination.
//
// Thread Safety: All methods are safe for concurrent use. Nothing
// serialises illumination; see package wled.
type Service struct {
	registry    Registry
	illuminator Illuminator
	notifier    Notifier
	authorizer  Authorizer
	maxLEDs     int
	logger      *logging.Logger

	sinks  []EventSink
	sinkMu sync.RWMutex
}

// NewService validates deps and returns a ready Service.
func NewService(deps Deps) (*Service, error) {
	switch {
	case deps.Registry == nil:
		return nil, errors.New("locator: registry is required")
	case deps.Illuminator == nil:
		return nil, errors.New("locator: illuminator is required")
	case deps.Notifier == nil:
		return nil, errors.New("locator: notifier is required")
	case deps.Authorizer == nil:
		return nil, errors.New("locator: authorizer is required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = logging.Default()
	}

	return &Service{
		registry:    deps.Registry,
		illuminator: deps.Illuminator,
		notifier:    deps.Notifier,
		authorizer:  deps.Authorizer,
		maxLEDs:     deps.MaxLEDs,
		logger:      logger.Component("locator"),
	}, nil
}

// AddSink registers a receiver for events emitted after successful operations.
func (s *Service) AddSink(sink EventSink) {
	s.sinkMu.Lock()
	s.sinks = append(s.sinks, sink)
	s.sinkMu.Unlock()
}

func (s *Service) emit(ctx context.Context, ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	s.sinkMu.RLock()
	sinks := s.sinks
	s.sinkMu.RUnlock()

	for _, sink := range sinks {
		sink.HandleEvent(ctx, ev)
	}
}

// Locate lights the LED bound to locationID.
//
// A location that is missing, unbound, or bound to something that is not a
// non-negative integer is unlocatable: the failure is logged, the notifier
// is called once, the strip is left alone, and the result carries
// OutcomeUnlocatable with a nil error. Registry storage errors and
// Illuminator errors are returned.
func (s *Service) Locate(ctx context.Context, locationID string) (LocateResult, error) {
	start := time.Now()

	raw, ok, err := s.registry.Get(ctx, locationID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return LocateResult{}, fmt.Errorf("reading led for %s: %w", locationID, err)
	}

	led, parseErr := parseLED(raw)
	if err != nil || !ok || parseErr != nil {
		return s.unlocatable(ctx, locationID, raw, start), nil
	}

	if err := s.illuminator.Set(ctx, &led); err != nil {
		s.logger.Error("illuminating location failed",
			"location_id", locationID,
			"led", led,
			"error", err,
		)
		return LocateResult{}, fmt.Errorf("locating %s: %w", locationID, err)
	}

	s.logger.Info("location illuminated", "location_id", locationID, "led", led)
	s.emit(ctx, Event{
		Type:       EventLocated,
		LocationID: locationID,
		LED:        &led,
		Duration:   time.Since(start),
	})

	return LocateResult{LocationID: locationID, Outcome: OutcomeLocated, LED: &led}, nil
}

func (s *Service) unlocatable(ctx context.Context, locationID, raw string, start time.Time) LocateResult {
	name := s.displayName(ctx, locationID)

	s.logger.Error("no LED number assigned for location",
		"location_id", locationID,
		"name", name,
		"value", raw,
	)

	if err := s.notifier.NotifyUnlocatable(ctx, locationID, name); err != nil {
		s.logger.Warn("unlocatable notification failed",
			"location_id", locationID,
			"error", err,
		)
	}

	s.emit(ctx, Event{
		Type:        EventUnlocatable,
		LocationID:  locationID,
		DisplayName: name,
		Duration:    time.Since(start),
	})

	return LocateResult{LocationID: locationID, Outcome: OutcomeUnlocatable}
}

// displayName falls back to the ID when the location cannot be named.
func (s *Service) displayName(ctx context.Context, locationID string) string {
	name, err := s.registry.DisplayName(ctx, locationID)
	if err != nil || name == "" {
		return locationID
	}
	return name
}

// TurnOff switches every LED off. Requires led:manage.
func (s *Service) TurnOff(ctx context.Context, principal auth.Principal) error {
	if err := s.authorize(ctx, principal); err != nil {
		return err
	}

	if err := s.illuminator.Set(ctx, nil); err != nil {
		s.logger.Error("turning LEDs off failed", "user_id", principal.UserID, "error", err)
		return fmt.Errorf("turning off: %w", err)
	}

	s.logger.Info("LEDs turned off", "user_id", principal.UserID)
	s.emit(ctx, Event{Type: EventOff, UserID: principal.UserID})
	return nil
}

// Register binds locationID to ledIndex, replacing any previous binding.
// Requires led:manage.
//
// Checks run in order: authorisation, index format, location existence.
// An index at or past MaxLEDs is stored with a warning; the controller will
// reject it at locate time.
func (s *Service) Register(ctx context.Context, principal auth.Principal, locationID, ledIndex string) (RegisterOutcome, error) {
	if err := s.authorize(ctx, principal); err != nil {
		return RegisterOutcome{}, err
	}

	led, err := parseLED(ledIndex)
	if err != nil {
		return RegisterOutcome{}, err
	}
	if s.maxLEDs > 0 && led >= s.maxLEDs {
		s.logger.Warn("registering LED beyond configured strip length",
			"location_id", locationID,
			"led", led,
			"max_leds", s.maxLEDs,
		)
	}

	raw, ok, err := s.registry.Get(ctx, locationID)
	if err != nil {
		return RegisterOutcome{}, s.registryError("reading led for", locationID, err)
	}

	if err := s.registry.Set(ctx, locationID, strconv.Itoa(led)); err != nil {
		return RegisterOutcome{}, s.registryError("storing led for", locationID, err)
	}

	outcome := RegisterOutcome{LocationID: locationID, Current: led}
	if ok {
		// An unparseable previous value counts as no previous binding.
		if prev, perr := parseLED(raw); perr == nil {
			outcome.Previous = &prev
		}
	}

	s.logger.Info("LED registered",
		"location_id", locationID,
		"led", led,
		"overwrote", outcome.Overwrote(),
		"user_id", principal.UserID,
	)
	s.emit(ctx, Event{
		Type:       EventRegistered,
		LocationID: locationID,
		LED:        &led,
		Previous:   outcome.Previous,
		UserID:     principal.UserID,
	})

	return outcome, nil
}

// Unregister removes any binding for locationID. Requires led:manage.
// Unbound and unknown locations are not errors.
func (s *Service) Unregister(ctx context.Context, principal auth.Principal, locationID string) error {
	if err := s.authorize(ctx, principal); err != nil {
		return err
	}

	err := s.registry.Clear(ctx, locationID)
	switch {
	case errors.Is(err, ErrNotFound):
		s.logger.Debug("unregister for unknown location ignored", "location_id", locationID)
		return nil
	case err != nil:
		return fmt.Errorf("clearing led for %s: %w", locationID, err)
	}

	s.logger.Info("LED unregistered", "location_id", locationID, "user_id", principal.UserID)
	s.emit(ctx, Event{Type: EventUnregistered, LocationID: locationID, UserID: principal.UserID})
	return nil
}

// Registrations lists every location with a stored LED value, by path.
func (s *Service) Registrations(ctx context.Context) ([]Registration, error) {
	regs, err := s.registry.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing registrations: %w", err)
	}
	return regs, nil
}

func (s *Service) authorize(ctx context.Context, principal auth.Principal) error {
	if err := s.authorizer.Authorize(ctx, principal, auth.PermLEDManage); err != nil {
		s.logger.Warn("LED management denied",
			"user_id", principal.UserID,
			"role", principal.Role,
		)
		return fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	return nil
}

func (s *Service) registryError(action, locationID string, err error) error {
	if errors.Is(err, ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, locationID)
	}
	return fmt.Errorf("%s %s: %w", action, locationID, err)
}

// parseLED accepts a base-10 non-negative integer with optional surrounding
// whitespace.
func parseLED(s string) (int, error) {
	led, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not an integer", ErrValidation, s)
	}
	if led < 0 {
		return 0, fmt.Errorf("%w: %d is negative", ErrValidation, led)
	}
	return led, nil
}
