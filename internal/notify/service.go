package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/ledlocator/internal/auth"
	"github.com/nerrad567/ledlocator/internal/infrastructure/logging"
	"github.com/nerrad567/ledlocator/internal/infrastructure/mqtt"
)

// RecipientSource lists the users who should hear about a missing LED.
type RecipientSource interface {
	ListByRoles(ctx context.Context, roles ...auth.Role) ([]auth.User, error)
}

// Publisher is the subset of the MQTT client used for broadcast notices.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// Deps holds the collaborators a Service needs. Publisher may be nil.
type Deps struct {
	Repo       Repository
	Recipients RecipientSource
	Roles      []auth.Role
	Publisher  Publisher
	Logger     *logging.Logger
}

// Service stores and publishes user notifications.
type Service struct {
	repo       Repository
	recipients RecipientSource
	roles      []auth.Role
	publisher  Publisher
	logger     *logging.Logger
}

// NewService creates a notification service.
func NewService(deps Deps) (*Service, error) {
	if deps.Repo == nil || deps.Recipients == nil {
		return nil, errors.New("notify: repository and recipient source are required")
	}
	if len(deps.Roles) == 0 {
		return nil, errors.New("notify: at least one recipient role is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		repo:       deps.Repo,
		recipients: deps.Recipients,
		roles:      append([]auth.Role(nil), deps.Roles...),
		publisher:  deps.Publisher,
		logger:     logger.Component("notify"),
	}, nil
}

// NotifyUnlocatable tells every current recipient that locationID has no
// usable LED. Recipients are looked up on each call, so role changes take
// effect immediately. One row is stored per recipient; the MQTT broadcast
// is best-effort.
func (s *Service) NotifyUnlocatable(ctx context.Context, locationID, displayName string) error {
	users, err := s.recipients.ListByRoles(ctx, s.roles...)
	if err != nil {
		return fmt.Errorf("listing notification recipients: %w", err)
	}

	name, message := unlocatableTemplate(displayName)

	notes := make([]Notification, 0, len(users))
	for _, u := range users {
		notes = append(notes, Notification{
			UserID:   u.ID,
			Slug:     SlugNoLED,
			Name:     name,
			Message:  message,
			TargetID: locationID,
		})
	}
	if err := s.repo.CreateBatch(ctx, notes); err != nil {
		return fmt.Errorf("storing unlocatable notifications: %w", err)
	}

	if len(notes) == 0 {
		s.logger.Warn("no recipients for unlocatable notification",
			"location_id", locationID,
			"roles", s.roles,
		)
	}

	s.publish(locationID, unlocatablePayload{
		LocationID:  locationID,
		DisplayName: displayName,
		Slug:        SlugNoLED,
		Message:     message,
		Recipients:  len(notes),
		Timestamp:   time.Now().UTC(),
	})

	s.logger.Debug("unlocatable notification sent",
		"location_id", locationID,
		"recipients", len(notes),
	)
	return nil
}

func (s *Service) publish(locationID string, payload unlocatablePayload) {
	if s.publisher == nil {
		return
	}
	b, err := json.Marshal(payload)
	if err != nil {
		s.logger.Warn("encoding unlocatable payload failed", "error", err)
		return
	}
	if err := s.publisher.Publish(mqtt.Topics{}.NotifyUnlocatable(locationID), b, 1, false); err != nil {
		s.logger.Warn("publishing unlocatable notification failed",
			"location_id", locationID,
			"error", err,
		)
	}
}

// List returns userID's notifications, newest first.
func (s *Service) List(ctx context.Context, userID string, unreadOnly bool) ([]Notification, error) {
	return s.repo.ListForUser(ctx, userID, unreadOnly)
}

// MarkRead marks one of userID's notifications as read.
func (s *Service) MarkRead(ctx context.Context, userID, id string) error {
	return s.repo.MarkRead(ctx, userID, id)
}
