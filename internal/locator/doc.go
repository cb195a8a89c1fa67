// Package locator finds stock locations by lighting their LED.
//
// A Service ties four collaborators together:
//
//   - Registry: location ID to LED value (the "wled_led" metadata key)
//   - Illuminator: the LED strip (package wled)
//   - Notifier: tells administrators when a location has no LED
//   - Authorizer: gates the management operations
//
// Locate is open to any caller. TurnOff, Register and Unregister need the
// led:manage permission and check it before anything else happens.
//
// Looking up a location with no usable LED is not an error. Locate returns
// OutcomeUnlocatable, logs it, and sends exactly one notification; the
// strip is not touched.
//
// Successful operations are broadcast as Events to any registered
// EventSink (audit trail, WebSocket hub, MQTT, metrics).
package locator
