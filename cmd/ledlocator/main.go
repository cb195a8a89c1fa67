// Command ledlocator lights the LED under a stock location.
//
// With no subcommand, or with "serve", it runs the HTTP API, the WebSocket
// hub and the optional MQTT command listener until SIGINT or SIGTERM. The
// other subcommands work on the same database and strip and exit.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nerrad567/ledlocator/internal/api"
	"github.com/nerrad567/ledlocator/internal/infrastructure/config"
	"github.com/nerrad567/ledlocator/internal/infrastructure/influxdb"
	"github.com/nerrad567/ledlocator/internal/infrastructure/logging"
	"github.com/nerrad567/ledlocator/internal/infrastructure/mqtt"
	"github.com/nerrad567/ledlocator/internal/locator"
)

// Set with -ldflags "-X main.version=... -X main.commit=... -X main.date=...".
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// shutdown runs cleanups in reverse order of registration.
type shutdown struct {
	log   *logging.Logger
	steps []func()
}

func (s *shutdown) add(name string, closeFn func() error) {
	s.steps = append(s.steps, func() {
		if err := closeFn(); err != nil {
			s.log.Error("close failed", "component", name, "error", err)
		}
	})
}

func (s *shutdown) run() {
	for i := len(s.steps) - 1; i >= 0; i-- {
		s.steps[i]()
	}
}

// run serves until ctx is cancelled.
func run(ctx context.Context) error {
	path := getConfigPath()
	cfg, err := config.Load(path)
	if err != nil {
		logging.Default().Error("configuration rejected", "path", path, "error", err)
		return fmt.Errorf("loading config: %w", err)
	}

	log := logging.New(cfg.Logging, version)
	log.Info("starting", "commit", commit, "built", date, "config", path, "site", cfg.Site.ID)

	down := &shutdown{log: log}
	defer down.run()

	broker, err := startMQTT(cfg, log, down)
	if err != nil {
		return err
	}
	influx, err := startInflux(cfg, log, down)
	if err != nil {
		return err
	}

	var opts coreOptions
	if broker != nil {
		opts.Publisher = broker
	}
	if influx != nil {
		opts.Recorder = influx
	}
	c, err := openCore(ctx, cfg, log, opts)
	if err != nil {
		return err
	}
	down.add("database", c.db.Close)

	if influx != nil {
		c.locator.AddSink(&influxEventSink{writer: influx})
	}
	if broker != nil {
		c.locator.AddSink(&mqttEventSink{publisher: broker, log: log})
		if err := listenForCommands(ctx, broker, byte(cfg.MQTT.QoS), c.locator, log); err != nil {
			return err
		}
	}

	hub := api.NewHub(cfg.WebSocket, log)
	c.locator.AddSink(hub)
	server, err := api.New(api.Deps{
		Config:     cfg.API,
		WS:         cfg.WebSocket,
		Security:   cfg.Security,
		Logger:     log,
		Locator:    c.locator,
		Locations:  c.locations,
		Users:      c.users,
		Notify:     c.notifier,
		Audit:      c.audit,
		Controller: c.controller,
		MQTT:       broker,
		DB:         c.db.DB,
		Hub:        hub,
		Version:    version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	down.add("api", server.Close)

	if err := c.db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database health: %w", err)
	}
	if broker != nil {
		if err := broker.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt health: %w", err)
		}
	}
	if influx != nil {
		if err := influx.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb health: %w", err)
		}
	}

	log.Info("ready", "address", server.Addr().String())
	<-ctx.Done()
	log.Info("stopping")
	return nil
}

// startMQTT connects the broker link, or returns nil when mqtt.enabled is
// false.
func startMQTT(cfg *config.Config, log *logging.Logger, down *shutdown) (*mqtt.Client, error) {
	client, err := mqtt.Connect(cfg.MQTT)
	if errors.Is(err, mqtt.ErrDisabled) {
		log.Debug("MQTT disabled")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to MQTT: %w", err)
	}
	down.add("mqtt", client.Close)

	mlog := log.Component("mqtt")
	client.SetLogger(mlog)
	client.SetOnConnect(func() { mlog.Info("broker connection restored") })
	client.SetOnDisconnect(func(err error) { mlog.Warn("broker connection lost", "error", err) })
	mlog.Info("connected", "host", cfg.MQTT.Broker.Host, "port", cfg.MQTT.Broker.Port, "client_id", cfg.MQTT.Broker.ClientID)
	return client, nil
}

// startInflux opens the telemetry writer, or returns nil when
// influxdb.enabled is false.
func startInflux(cfg *config.Config, log *logging.Logger, down *shutdown) (*influxdb.Client, error) {
	client, err := influxdb.Connect(cfg.InfluxDB, cfg.Site.ID)
	if errors.Is(err, influxdb.ErrDisabled) {
		log.Debug("InfluxDB disabled")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to InfluxDB: %w", err)
	}
	down.add("influxdb", client.Close)

	ilog := log.Component("influxdb")
	client.SetOnError(func(err error) { ilog.Error("write failed", "error", err) })
	ilog.Info("connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	return client, nil
}

// listenForCommands subscribes the locator to the locate command topic.
func listenForCommands(ctx context.Context, client *mqtt.Client, qos byte, svc *locator.Service, log *logging.Logger) error {
	topic := mqtt.Topics{}.CommandLocate()
	if err := client.Subscribe(topic, qos, locateCommandHandler(ctx, svc, log)); err != nil {
		return fmt.Errorf("subscribing to %s: %w", topic, err)
	}
	log.Info("listening for locate commands", "topic", topic)
	return nil
}

// getConfigPath picks --config, then $LEDLOCATOR_CONFIG, then
// defaultConfigPath.
func getConfigPath() string {
	if configFlag != "" {
		return configFlag
	}
	if path := os.Getenv("LEDLOCATOR_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
