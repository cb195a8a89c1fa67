// Package wled drives a WLED LED-strip controller over its JSON HTTP API.
//
// The package knows one trick: turn every LED on a segment off, then
// optionally light one LED in the marker colour. Each Set call computes a
// DesiredState of one or two commands and POSTs them, in order, to
// http://{address}/json/state:
//
//	{"seg":{"i":[0,MaxLEDs,"000000"]}}   always
//	{"seg":{"i":[target,"FF0000"]}}     only when a target is given
//
// # Errors
//
// Anything wrong with the configuration (no address, MaxLEDs < 1, target
// outside the strip) wraps ErrConfiguration and is returned before the
// network is touched. Anything that goes wrong on the wire wraps ErrNetwork
// and arrives as a *StepError naming the failed command. A failed clear
// aborts; a failed mark leaves the strip dark. There are no retries.
//
// # Concurrency
//
// Set holds no lock. Two overlapping calls can interleave their clear and
// mark commands on the controller, and the last command received wins.
// For a single person looking for one bin at a time this is acceptable.
//
// # Usage
//
//	client := wled.NewClient(wled.ConfigFrom(cfg.WLED), nil)
//	led := 7
//	if err := client.Set(ctx, &led); err != nil {
//	    return err
//	}
//	// later
//	_ = client.Set(ctx, nil) // all off
package wled
