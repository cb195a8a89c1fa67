// Package api implements the HTTP REST API and WebSocket server for the LED
// locator.
//
// This package provides:
//   - REST endpoints to locate stock, turn the strip off, and manage LED
//     bindings and stock locations
//   - A WebSocket hub that relays locator events (led.located, led.off,
//     location.unlocatable, led.registered, led.unregistered)
//   - JWT bearer authentication with ticket-based WebSocket auth
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//   - TLS support for production deployments
//
// # Errors
//
// Failures use a {status, code, message} envelope. Locator and controller
// errors map to: validation_error 400, not_found 404, forbidden 403,
// controller_not_configured 503 and controller_unreachable 502. A location
// without a usable LED is not an error; locate answers 200 with outcome
// "unlocatable".
//
// # Lifecycle
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
package api
