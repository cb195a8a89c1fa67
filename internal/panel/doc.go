// Package panel serves the pick-station web page.
//
// The page is a small static HTML/JS client of the REST API: it signs in,
// lists stock locations that have an LED, and calls locate or off with a
// single tap. The assets are embedded with go:embed so the binary has no
// runtime file dependencies. A directory on disk can be served instead
// while editing the page.
package panel
