package notify

import (
	"errors"
	"fmt"
	"time"
)

// SlugNoLED identifies "this location has no LED" notifications.
const SlugNoLED = "stocklocation.no_led"

// Notification is one message addressed to one user.
type Notification struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Slug      string    `json:"slug"`
	Name      string    `json:"name"`
	Message   string    `json:"message"`
	TargetID  string    `json:"target_id"`
	IsRead    bool      `json:"is_read"`
	CreatedAt time.Time `json:"created_at"`
}

// unlocatableTemplate renders the fixed no-LED notice for displayName.
func unlocatableTemplate(displayName string) (name, message string) {
	return fmt.Sprintf("No location for %s", displayName),
		fmt.Sprintf("No LED number is assigned for %s", displayName)
}

// unlocatablePayload is published over MQTT alongside the stored notices.
type unlocatablePayload struct {
	LocationID  string    `json:"location_id"`
	DisplayName string    `json:"display_name"`
	Slug        string    `json:"slug"`
	Message     string    `json:"message"`
	Recipients  int       `json:"recipients"`
	Timestamp   time.Time `json:"timestamp"`
}

// ErrNotificationNotFound is returned when marking a notification that does
// not exist or belongs to someone else.
var ErrNotificationNotFound = errors.New("notification not found")
