package locator

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/ledlocator/internal/auth"
)

// Registry maps location IDs to LED values.
//
// Get reports ok == false when no value is stored. A location that does not
// exist is an error matching ErrNotFound from Get, Set, Clear and DisplayName.
type Registry interface {
	Get(ctx context.Context, locationID string) (value string, ok bool, err error)
	Set(ctx context.Context, locationID, value string) error
	Clear(ctx context.Context, locationID string) error
	DisplayName(ctx context.Context, locationID string) (string, error)
	List(ctx context.Context) ([]Registration, error)
}

// Illuminator drives the LED strip. A nil target means all off.
type Illuminator interface {
	Set(ctx context.Context, target *int) error
}

// Notifier tells whoever looks after the stores that a location has no LED.
type Notifier interface {
	NotifyUnlocatable(ctx context.Context, locationID, displayName string) error
}

// Authorizer decides whether principal holds perm.
type Authorizer interface {
	Authorize(ctx context.Context, principal auth.Principal, perm auth.Permission) error
}

// Outcome is the result kind of Locate.
type Outcome string

const (
	OutcomeLocated     Outcome = "located"
	OutcomeUnlocatable Outcome = "unlocatable"
)

// LocateResult is returned by a successful Locate call. LED is set only
// when the location was located.
type LocateResult struct {
	LocationID string  `json:"location_id"`
	Outcome    Outcome `json:"outcome"`
	LED        *int    `json:"led,omitempty"`
}

// RegisterOutcome describes what Register changed.
type RegisterOutcome struct {
	LocationID string `json:"location_id"`
	Previous   *int   `json:"previous,omitempty"`
	Current    int    `json:"led"`
}

// Overwrote reports whether an existing, different binding was replaced.
func (o RegisterOutcome) Overwrote() bool {
	return o.Previous != nil && *o.Previous != o.Current
}

// Message is the user-facing confirmation text.
func (o RegisterOutcome) Message() string {
	if o.Overwrote() {
		return fmt.Sprintf("Location was registered to %d, changed to %d", *o.Previous, o.Current)
	}
	return "Allocation registered, refresh the page to see it in the list"
}

// Registration is one row of the LED table: a location and its raw value.
type Registration struct {
	LocationID string `json:"id"`
	Name       string `json:"name"`
	LED        string `json:"led"`
}

// EventType names something the locator did.
type EventType string

const (
	EventLocated      EventType = "led.located"
	EventUnlocatable  EventType = "location.unlocatable"
	EventOff          EventType = "led.off"
	EventRegistered   EventType = "led.registered"
	EventUnregistered EventType = "led.unregistered"
)

// Event is emitted to every EventSink after an operation succeeds.
type Event struct {
	Type        EventType     `json:"type"`
	LocationID  string        `json:"location_id,omitempty"`
	DisplayName string        `json:"display_name,omitempty"`
	LED         *int          `json:"led,omitempty"`
	Previous    *int          `json:"previous,omitempty"`
	UserID      string        `json:"user_id,omitempty"`
	Duration    time.Duration `json:"-"`
	Timestamp   time.Time     `json:"timestamp"`
}

// EventSink receives locator events. Implementations must not block for
// long; errors are theirs to log.
type EventSink interface {
	HandleEvent(ctx context.Context, ev Event)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(ctx context.Context, ev Event)

// HandleEvent calls f(ctx, ev).
func (f EventSinkFunc) HandleEvent(ctx context.Context, ev Event) {
	f(ctx, ev)
}
