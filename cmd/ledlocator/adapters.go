package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/ledlocator/internal/infrastructure/logging"
	"github.com/nerrad567/ledlocator/internal/infrastructure/mqtt"
	"github.com/nerrad567/ledlocator/internal/locator"
	"github.com/nerrad567/ledlocator/internal/wled"
)

// commandTimeout bounds one MQTT-triggered locate, controller round trips
// included.
const commandTimeout = 10 * time.Second

// eventPublisher is the part of *mqtt.Client the event sink uses.
type eventPublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// mqttEventSink republishes locator events on ledlocator/event/{type}.
type mqttEventSink struct {
	publisher eventPublisher
	log       *logging.Logger
}

// HandleEvent implements locator.EventSink. Events are dropped while the
// broker is unreachable.
func (s *mqttEventSink) HandleEvent(_ context.Context, ev locator.Event) {
	if !s.publisher.IsConnected() {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		s.log.Warn("encoding locator event failed", "type", ev.Type, "error", err)
		return
	}
	if err := s.publisher.Publish(mqtt.Topics{}.Event(string(ev.Type)), payload, 1, false); err != nil {
		s.log.Warn("publishing locator event failed", "type", ev.Type, "error", err)
	}
}

// locateEventWriter is the part of *influxdb.Client the telemetry sink uses.
type locateEventWriter interface {
	WriteLocateEvent(locationID, eventType string, led *int, duration time.Duration)
}

// influxEventSink records every locator event as a led_locate point.
type influxEventSink struct {
	writer locateEventWriter
}

// HandleEvent implements locator.EventSink.
func (s *influxEventSink) HandleEvent(_ context.Context, ev locator.Event) {
	s.writer.WriteLocateEvent(ev.LocationID, string(ev.Type), ev.LED, ev.Duration)
}

// controllerRecorders fans controller timings out to several recorders.
type controllerRecorders []wled.Recorder

// WriteControllerRequest implements wled.Recorder.
func (rs controllerRecorders) WriteControllerRequest(step string, ok bool, elapsed time.Duration) {
	for _, r := range rs {
		r.WriteControllerRequest(step, ok, elapsed)
	}
}

// locater is the part of *locator.Service the command listener uses.
type locater interface {
	Locate(ctx context.Context, locationID string) (locator.LocateResult, error)
}

// errEmptyCommand is returned for a locate command with no location.
var errEmptyCommand = errors.New("locate command has no location_id")

// locateCommand is the JSON form of a command on ledlocator/command/locate.
// A bare location ID is accepted as well.
type locateCommand struct {
	LocationID string `json:"location_id"`
}

func parseLocateCommand(payload []byte) (string, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return "", errEmptyCommand
	}
	if trimmed[0] != '{' {
		return string(trimmed), nil
	}

	var cmd locateCommand
	if err := json.Unmarshal(trimmed, &cmd); err != nil {
		return "", fmt.Errorf("decoding locate command: %w", err)
	}
	id := strings.TrimSpace(cmd.LocationID)
	if id == "" {
		return "", errEmptyCommand
	}
	return id, nil
}

// locateCommandHandler runs Locate for each command received over MQTT, so
// scanners and shelf buttons can trigger the strip without the HTTP API.
// Results reach subscribers through the usual event sinks.
func locateCommandHandler(ctx context.Context, svc locater, log *logging.Logger) mqtt.MessageHandler {
	return func(topic string, payload []byte) error {
		id, err := parseLocateCommand(payload)
		if err != nil {
			return err
		}

		cmdCtx, cancel := context.WithTimeout(ctx, commandTimeout)
		defer cancel()

		res, err := svc.Locate(cmdCtx, id)
		if err != nil {
			return fmt.Errorf("locate %s: %w", id, err)
		}
		log.Debug("locate command handled", "topic", topic, "location_id", id, "outcome", res.Outcome)
		return nil
	}
}
