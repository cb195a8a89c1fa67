package audit

import (
	"context"
	"time"

	"github.com/nerrad567/ledlocator/internal/infrastructure/logging"
	"github.com/nerrad567/ledlocator/internal/locator"
)

// Audit actions and entity types written by Recorder.
const (
	ActionRegister    = "register"
	ActionUnregister  = "unregister"
	ActionOff         = "off"
	ActionUnlocatable = "unlocatable"

	EntityLocation = "location"
	EntityStrip    = "led_strip"

	// SourceLocator marks rows written from locator events.
	SourceLocator = "locator"
)

// auditWriteTimeout bounds each insert so a slow disk cannot hold a request.
const auditWriteTimeout = 2 * time.Second

// Recorder is a locator.EventSink that writes audit rows.
// Write failures are logged and never reach the caller.
type Recorder struct {
	repo   Repository
	logger *logging.Logger
}

// NewRecorder creates a Recorder writing to repo.
func NewRecorder(repo Repository, logger *logging.Logger) *Recorder {
	if logger == nil {
		logger = logging.Default()
	}
	return &Recorder{repo: repo, logger: logger.Component("audit")}
}

var _ locator.EventSink = (*Recorder)(nil)

// HandleEvent records ev if it is an auditable action.
func (r *Recorder) HandleEvent(ctx context.Context, ev locator.Event) {
	entry := toEntry(ev)
	if entry == nil {
		return
	}

	// The request may already be finishing; the row should still land.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditWriteTimeout)
	defer cancel()

	if err := r.repo.Create(writeCtx, entry); err != nil {
		r.logger.Warn("writing audit log failed",
			"action", entry.Action,
			"entity_id", entry.EntityID,
			"error", err,
		)
	}
}

func toEntry(ev locator.Event) *Entry {
	entry := &Entry{
		EntityType: EntityLocation,
		EntityID:   ev.LocationID,
		UserID:     ev.UserID,
		Source:     SourceLocator,
		CreatedAt:  ev.Timestamp,
	}

	switch ev.Type {
	case locator.EventRegistered:
		entry.Action = ActionRegister
		details := map[string]any{}
		if ev.LED != nil {
			details["led"] = *ev.LED
		}
		if ev.Previous != nil {
			details["previous"] = *ev.Previous
		}
		entry.Details = details
	case locator.EventUnregistered:
		entry.Action = ActionUnregister
	case locator.EventOff:
		entry.Action = ActionOff
		entry.EntityType = EntityStrip
	case locator.EventUnlocatable:
		entry.Action = ActionUnlocatable
		entry.Details = map[string]any{"name": ev.DisplayName}
	default:
		return nil
	}
	return entry
}
