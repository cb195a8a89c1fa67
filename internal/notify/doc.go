// Package notify delivers in-app notifications.
//
// The only producer today is the locator: when a location is looked up and
// has no LED, every active user in the configured recipient roles gets a
// "No location for ..." notice. Notices are stored per user in SQLite and,
// when MQTT is enabled, announced once on
// ledlocator/notify/unlocatable/{location_id}.
package notify
