package mqtt

import "fmt"

// Topic prefixes. Everything the locator publishes or listens to lives
// under ledlocator/.
const (
	// TopicPrefix is the root of the locator's topic tree.
	TopicPrefix = "ledlocator"

	// TopicPrefixSystem is the base for process status topics.
	TopicPrefixSystem = "ledlocator/system"

	// TopicPrefixEvent is the base for locator event topics.
	TopicPrefixEvent = "ledlocator/event"

	// TopicPrefixNotify is the base for notification broadcasts.
	TopicPrefixNotify = "ledlocator/notify"

	// TopicPrefixCommand is the base for inbound commands.
	TopicPrefixCommand = "ledlocator/command"
)

// Topics provides builders for locator MQTT topics.
//
//	topic := mqtt.Topics{}.Event("led.located")
//	// Returns: "ledlocator/event/led.located"
type Topics struct{}

// SystemStatus returns the retained online/offline status topic.
//
// Example: ledlocator/system/status
func (Topics) SystemStatus() string {
	return TopicPrefixSystem + "/status"
}

// Event returns the topic for one locator event type.
//
// Example: ledlocator/event/led.off
func (Topics) Event(eventType string) string {
	return fmt.Sprintf("%s/%s", TopicPrefixEvent, eventType)
}

// NotifyUnlocatable returns the topic announcing a location without an LED.
//
// Example: ledlocator/notify/unlocatable/loc-1a2b3c4d
func (Topics) NotifyUnlocatable(locationID string) string {
	return fmt.Sprintf("%s/unlocatable/%s", TopicPrefixNotify, locationID)
}

// CommandLocate is where scanners and pick lists ask for a location to be lit.
//
// Example: ledlocator/command/locate
func (Topics) CommandLocate() string {
	return TopicPrefixCommand + "/locate"
}

// AllEvents returns a wildcard matching every event topic.
//
// Pattern: ledlocator/event/#
func (Topics) AllEvents() string {
	return TopicPrefixEvent + "/#"
}

// AllTopics returns a wildcard matching the whole locator tree.
//
// Pattern: ledlocator/#
func (Topics) AllTopics() string {
	return TopicPrefix + "/#"
}
