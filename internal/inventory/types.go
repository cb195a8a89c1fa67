package inventory

import "time"

// Location is a place stock can be kept: a shelf, a drawer, a bin.
// Locations nest; PathString joins the names from the root down.
type Location struct {
	ID          string    `json:"id"`
	ParentID    string    `json:"parent_id,omitempty"`
	Name        string    `json:"name"`
	PathString  string    `json:"pathstring"`
	Description string    `json:"description,omitempty"`
	Metadata    Metadata  `json:"metadata"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Metadata is free-form per-location data stored as a JSON object.
// Plugins and integrations each own their own keys.
type Metadata map[string]any

// pathSeparator joins names in PathString.
const pathSeparator = "/"
