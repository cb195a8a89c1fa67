// Package logging builds the structured slog loggers used across the
// service. Records are JSON by default, or text for a bench terminal, and
// always carry the service name and build version.
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Subsystems take a child via Component:
//
//	log.Component("locator").Warn("no LED assigned", "location_id", id)
//
// Secrets, tokens and passwords are never logged.
package logging
