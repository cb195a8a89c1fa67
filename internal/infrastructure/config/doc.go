// Package config loads the service's YAML settings.
//
// Load starts from built-in defaults, lays the file over them, then applies
// LEDLOCATOR_* environment variables (the usual home for secrets such as
// LEDLOCATOR_JWT_SECRET and LEDLOCATOR_MQTT_PASSWORD). A malformed variable
// is an error rather than being ignored. Validate reports every problem it
// finds at once.
//
// An empty wled.address is accepted so the service can run before the strip
// is installed; illumination then fails fast with a configuration error.
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//		return err
//	}
//	srv := api.New(api.Deps{Config: cfg.API, ...})
//
// RedactedYAML renders the effective settings with secrets masked, for
// `ledlocator config show`.
package config
