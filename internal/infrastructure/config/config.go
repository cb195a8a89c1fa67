package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"regexp"
	"slices"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is everything the service reads at startup.
type Config struct {
	Site      SiteConfig      `yaml:"site"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
	WLED      WLEDConfig      `yaml:"wled"`
	Notify    NotifyConfig    `yaml:"notify"`
}

// Seconds is a whole number of seconds, the unit most YAML settings use.
type Seconds int

// Duration converts s to a time.Duration.
func (s Seconds) Duration() time.Duration {
	return time.Duration(s) * time.Second
}

// SiteConfig names the store room. ID tags telemetry.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"` // seconds
}

// MQTTConfig configures the optional broker link used for notices,
// event fan-out and the locate command topic.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig bounds the client's reconnect backoff.
type MQTTReconnectConfig struct {
	InitialDelay Seconds `yaml:"initial_delay"`
	MaxDelay     Seconds `yaml:"max_delay"`
}

type APIConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	TLS  struct {
		Enabled  bool   `yaml:"enabled"`
		CertFile string `yaml:"cert_file"`
		KeyFile  string `yaml:"key_file"`
	} `yaml:"tls"`
	Timeouts struct {
		Read  Seconds `yaml:"read"`
		Write Seconds `yaml:"write"`
		Idle  Seconds `yaml:"idle"`
	} `yaml:"timeouts"`
	CORS CORSConfig `yaml:"cors"`

	// PanelDir serves the pick-station page from disk instead of the
	// embedded copy.
	PanelDir string `yaml:"panel_dir"`
}

type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

type WebSocketConfig struct {
	MaxMessageSize int     `yaml:"max_message_size"` // bytes
	PingInterval   Seconds `yaml:"ping_interval"`
	PongTimeout    Seconds `yaml:"pong_timeout"`
}

// InfluxDBConfig configures the optional telemetry sink.
type InfluxDBConfig struct {
	Enabled       bool    `yaml:"enabled"`
	URL           string  `yaml:"url"`
	Token         string  `yaml:"token"`
	Org           string  `yaml:"org"`
	Bucket        string  `yaml:"bucket"`
	BatchSize     int     `yaml:"batch_size"`
	FlushInterval Seconds `yaml:"flush_interval"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

type JWTConfig struct {
	Secret         string `yaml:"secret"`
	AccessTokenTTL int    `yaml:"access_token_ttl"` // minutes
}

// WLEDConfig describes the LED-strip controller.
type WLEDConfig struct {
	// Address is host, IP or host:port. Empty leaves illumination
	// unconfigured; it has no default.
	Address string `yaml:"address"`

	// MaxLEDs is the number of addressable LEDs on the segment.
	MaxLEDs int `yaml:"max_leds"`

	Timeout time.Duration `yaml:"timeout"`

	// OffColor and MarkerColor are RRGGBB hex.
	OffColor    string `yaml:"off_color"`
	MarkerColor string `yaml:"marker_color"`
}

// NotifyConfig lists the roles told about locations without an LED.
type NotifyConfig struct {
	RecipientRoles []string `yaml:"recipient_roles"`
}

const (
	envPrefix          = "LEDLOCATOR_"
	minJWTSecretLength = 32
)

var (
	hexColor  = regexp.MustCompile(`^[0-9A-Fa-f]{6}$`)
	userRoles = []string{"user", "admin", "owner"}
)

// Load reads the YAML file at path over the defaults, applies LEDLOCATOR_*
// environment overrides and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func defaultConfig() *Config {
	cfg := &Config{
		Site:      SiteConfig{ID: "store-001", Name: "Stores"},
		Database:  DatabaseConfig{Path: "./data/ledlocator.db", WALMode: true, BusyTimeout: 5},
		WebSocket: WebSocketConfig{MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10},
		Logging:   LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
		WLED: WLEDConfig{
			MaxLEDs:     1,
			Timeout:     3 * time.Second,
			OffColor:    "000000",
			MarkerColor: "FF0000",
		},
		Notify: NotifyConfig{RecipientRoles: []string{"admin", "owner"}},
	}

	cfg.MQTT = MQTTConfig{
		Broker:    MQTTBrokerConfig{Host: "localhost", Port: 1883, ClientID: "ledlocator"},
		QoS:       1,
		Reconnect: MQTTReconnectConfig{InitialDelay: 1, MaxDelay: 60},
	}

	cfg.API.Host = "0.0.0.0"
	cfg.API.Port = 8080
	cfg.API.Timeouts.Read = 30
	cfg.API.Timeouts.Write = 30
	cfg.API.Timeouts.Idle = 60

	cfg.Security.JWT.AccessTokenTTL = 60
	return cfg
}

// envOverride binds one LEDLOCATOR_<name> variable to a setting.
type envOverride struct {
	name string
	set  func(c *Config, v string) error
}

func setString(field func(*Config) *string) func(*Config, string) error {
	return func(c *Config, v string) error {
		*field(c) = v
		return nil
	}
}

func setInt(field func(*Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("not an integer: %q", v)
		}
		*field(c) = n
		return nil
	}
}

func setBool(field func(*Config) *bool) func(*Config, string) error {
	return func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("not a boolean: %q", v)
		}
		*field(c) = b
		return nil
	}
}

// envOverrides are mostly secrets, plus what changes from bench to bench.
var envOverrides = []envOverride{
	{"SITE_ID", setString(func(c *Config) *string { return &c.Site.ID })},
	{"DATABASE_PATH", setString(func(c *Config) *string { return &c.Database.Path })},
	{"MQTT_ENABLED", setBool(func(c *Config) *bool { return &c.MQTT.Enabled })},
	{"MQTT_HOST", setString(func(c *Config) *string { return &c.MQTT.Broker.Host })},
	{"MQTT_USERNAME", setString(func(c *Config) *string { return &c.MQTT.Auth.Username })},
	{"MQTT_PASSWORD", setString(func(c *Config) *string { return &c.MQTT.Auth.Password })},
	{"API_HOST", setString(func(c *Config) *string { return &c.API.Host })},
	{"API_PORT", setInt(func(c *Config) *int { return &c.API.Port })},
	{"INFLUXDB_ENABLED", setBool(func(c *Config) *bool { return &c.InfluxDB.Enabled })},
	{"INFLUXDB_URL", setString(func(c *Config) *string { return &c.InfluxDB.URL })},
	{"INFLUXDB_TOKEN", setString(func(c *Config) *string { return &c.InfluxDB.Token })},
	{"JWT_SECRET", setString(func(c *Config) *string { return &c.Security.JWT.Secret })},
	{"LOG_LEVEL", setString(func(c *Config) *string { return &c.Logging.Level })},
	{"WLED_ADDRESS", setString(func(c *Config) *string { return &c.WLED.Address })},
	{"WLED_MAX_LEDS", setInt(func(c *Config) *int { return &c.WLED.MaxLEDs })},
}

// applyEnvOverrides sets every non-empty LEDLOCATOR_* variable in
// envOverrides. All malformed values are reported together.
func applyEnvOverrides(cfg *Config) error {
	var errs []error
	for _, o := range envOverrides {
		v := os.Getenv(envPrefix + o.name)
		if v == "" {
			continue
		}
		if err := o.set(cfg, v); err != nil {
			errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, o.name, err))
		}
	}
	return errors.Join(errs...)
}

// Validate reports every problem in c at once. An empty wled.address is
// not one of them: the service starts and locate fails until it is set.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Site.ID != "", "site.id is required")
	check(c.Database.Path != "", "database.path is required")
	check(c.MQTT.QoS >= 0 && c.MQTT.QoS <= 2, "mqtt.qos must be 0, 1, or 2")
	check(c.API.Port >= 1 && c.API.Port <= 65535, "api.port must be between 1 and 65535")

	switch {
	case c.Security.JWT.Secret == "":
		check(false, "security.jwt.secret is required (set %sJWT_SECRET)", envPrefix)
	case len(c.Security.JWT.Secret) < minJWTSecretLength:
		check(false, "security.jwt.secret must be at least %d characters", minJWTSecretLength)
	}

	check(c.WebSocket.PingInterval > 0 && c.WebSocket.PongTimeout > 0,
		"websocket.ping_interval and websocket.pong_timeout must be positive")

	check(c.WLED.MaxLEDs >= 1, "wled.max_leds must be at least 1")
	check(c.WLED.Timeout > 0, "wled.timeout must be positive")
	check(hexColor.MatchString(c.WLED.OffColor), "wled.off_color must be 6 hex digits")
	check(hexColor.MatchString(c.WLED.MarkerColor), "wled.marker_color must be 6 hex digits")

	check(len(c.Notify.RecipientRoles) > 0, "notify.recipient_roles must name at least one role")
	for _, r := range c.Notify.RecipientRoles {
		check(slices.Contains(userRoles, r), "notify.recipient_roles: unknown role %q", r)
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("configuration errors: %w", errors.Join(errs...))
}

// Addr is the host:port the API listens on.
func (a APIConfig) Addr() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

// RedactedYAML renders c with secrets masked, for `config show`.
func (c *Config) RedactedYAML() ([]byte, error) {
	cp := *c
	mask := func(s *string) {
		if *s != "" {
			*s = "********"
		}
	}
	mask(&cp.Security.JWT.Secret)
	mask(&cp.MQTT.Auth.Password)
	mask(&cp.InfluxDB.Token)
	return yaml.Marshal(&cp)
}
