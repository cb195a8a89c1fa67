package influxdb

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/ledlocator/internal/infrastructure/config"
)

var (
	ErrDisabled         = errors.New("influxdb: disabled in configuration")
	ErrNotConnected     = errors.New("influxdb: not connected")
	ErrConnectionFailed = errors.New("influxdb: connection failed")
)

const (
	connectTimeout = 10 * time.Second
	pingTimeout    = 5 * time.Second

	defaultBatchSize     = 100
	defaultFlushInterval = 10 * time.Second
)

// Client batches telemetry points to one bucket. Writes never block the
// caller; failures surface through SetOnError.
//
// A nil or closed *Client drops every write, so callers can hold one
// whether or not InfluxDB is enabled.
type Client struct {
	cfg    config.InfluxDBConfig
	client influxdb2.Client
	writer api.WriteAPI

	mu     sync.RWMutex // writers hold it shared so Close cannot race them
	closed bool

	hookMu  sync.Mutex // separate from mu: Close flushes, which may report errors
	onError func(error)
}

// Connect pings the server and opens a batching writer. siteID, when set,
// is added as a site tag to every point. It returns ErrDisabled when
// cfg.Enabled is false.
func Connect(cfg config.InfluxDBConfig, siteID string) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	batch := uint(defaultBatchSize)
	if cfg.BatchSize > 0 {
		batch = uint(cfg.BatchSize) //nolint:gosec // positive
	}
	flush := defaultFlushInterval
	if cfg.FlushInterval > 0 {
		flush = cfg.FlushInterval.Duration()
	}

	opts := influxdb2.DefaultOptions().
		SetBatchSize(batch).
		SetFlushInterval(uint(flush.Milliseconds()))
	if siteID != "" {
		opts.AddDefaultTag("site", siteID)
	}
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if ok, err := client.Ping(ctx); err != nil || !ok {
		client.Close()
		if err == nil {
			err = errors.New("server reports unhealthy")
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrConnectionFailed, cfg.URL, err)
	}

	c := &Client{cfg: cfg, client: client, writer: client.WriteAPI(cfg.Org, cfg.Bucket)}
	go c.forwardErrors(c.writer.Errors())
	return c, nil
}

func (c *Client) forwardErrors(errs <-chan error) {
	for err := range errs {
		c.hookMu.Lock()
		fn := c.onError
		c.hookMu.Unlock()
		if fn != nil {
			fn(err)
		}
	}
}

// SetOnError sets the callback for asynchronous write failures.
func (c *Client) SetOnError(fn func(error)) {
	c.hookMu.Lock()
	c.onError = fn
	c.hookMu.Unlock()
}

// IsConnected reports whether the client is open.
func (c *Client) IsConnected() bool {
	if c == nil {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.closed
}

// HealthCheck pings the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	ok, err := c.client.Ping(ctx)
	switch {
	case err != nil:
		return fmt.Errorf("influxdb ping: %w", err)
	case !ok:
		return errors.New("influxdb ping: server reports unhealthy")
	}
	return nil
}

// Flush sends buffered points now. It is a no-op once closed.
func (c *Client) Flush() {
	c.withWriter(func(w api.WriteAPI) { w.Flush() })
}

// Close flushes pending points and releases the client. It is safe to
// call more than once.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.writer.Flush()
	c.client.Close()
	return nil
}

// WritePoint queues a point stamped now.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	c.withWriter(func(w api.WriteAPI) {
		w.WritePoint(write.NewPoint(measurement, tags, fields, time.Now()))
	})
}

func (c *Client) withWriter(fn func(api.WriteAPI)) {
	if c == nil || c.writer == nil {
		return
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.closed {
		fn(c.writer)
	}
}
