// Package audit keeps a trail of who changed what.
//
// Recorder turns locator events into audit_logs rows: LED registrations,
// removals, strip switch-offs and lookups that found no LED. Plain
// successful lookups are not audited; they go to telemetry instead.
package audit
