package wled

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// maxResponseBytes caps how much of a controller reply is read.
const maxResponseBytes = 64 * 1024

// Logger is the logging surface the client needs.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Recorder receives per-request timings (InfluxDB writer, Prometheus
// collectors).
type Recorder interface {
	WriteControllerRequest(step string, ok bool, elapsed time.Duration)
}

// Client drives a single WLED controller over its JSON HTTP API.
//
// Every Set is a clear command followed, when a target is given, by a mark
// command. The two requests are independent: nothing serialises concurrent
// Set calls, so the last command to arrive wins.
//
// Thread Safety: All methods are safe for concurrent use.
type Client struct {
	cfg        Config
	baseURL    string
	httpClient *http.Client

	logger   Logger
	recorder Recorder
	mu       sync.RWMutex
}

// NewClient creates a client for cfg. No request is made until Set or Info.
// A nil httpClient uses a fresh http.Client; per-request timeouts come from
// cfg either way.
func NewClient(cfg Config, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	cfg.Address = strings.TrimSpace(cfg.Address)
	return &Client{
		cfg:        cfg,
		baseURL:    baseURL(cfg.Address),
		httpClient: httpClient,
	}
}

// baseURL accepts a bare host[:port] or a full URL.
func baseURL(address string) string {
	address = strings.TrimRight(strings.TrimSpace(address), "/")
	if address == "" {
		return ""
	}
	if strings.HasPrefix(address, "http://") || strings.HasPrefix(address, "https://") {
		return address
	}
	return "http://" + address
}

// Config returns the configuration the client was built with.
func (c *Client) Config() Config {
	return c.cfg
}

// SetLogger sets a logger for request tracing. Nil disables logging.
func (c *Client) SetLogger(logger Logger) {
	c.mu.Lock()
	c.logger = logger
	c.mu.Unlock()
}

// SetRecorder sets where request timings are reported. Nil disables it.
func (c *Client) SetRecorder(recorder Recorder) {
	c.mu.Lock()
	c.recorder = recorder
	c.mu.Unlock()
}

func (c *Client) hooks() (Logger, Recorder) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.logger, c.recorder
}

// Set clears the strip and, if target is non-nil, lights that LED.
//
// Configuration errors (no address, MaxLEDs < 1, target outside
// [0, MaxLEDs)) are returned before any request is sent. A request failure
// is returned as a *StepError wrapping ErrNetwork; a failed clear stops
// before the mark. Nothing is retried.
func (c *Client) Set(ctx context.Context, target *int) error {
	if err := c.cfg.Validate(); err != nil {
		return err
	}
	if target != nil && (*target < 0 || *target >= c.cfg.MaxLEDs) {
		return fmt.Errorf("%w: led %d not in [0, %d)", ErrTargetOutOfRange, *target, c.cfg.MaxLEDs)
	}

	state := buildDesiredState(c.cfg.MaxLEDs, target, c.cfg.offColor(), c.cfg.markerColor())
	for _, cmd := range state {
		if err := c.send(ctx, cmd); err != nil {
			return &StepError{Step: cmd.Step, Err: err}
		}
	}
	return nil
}

// send POSTs one command to /json/state within the configured timeout.
func (c *Client) send(ctx context.Context, cmd StateCommand) error {
	logger, recorder := c.hooks()

	body, err := json.Marshal(cmd.Payload)
	if err != nil {
		return fmt.Errorf("encoding %s payload: %w", cmd.Step, err)
	}

	start := time.Now()
	err = c.post(ctx, body)
	elapsed := time.Since(start)

	if recorder != nil {
		recorder.WriteControllerRequest(string(cmd.Step), err == nil, elapsed)
	}
	if logger != nil {
		if err != nil {
			logger.Warn("wled request failed", "step", cmd.Step, "error", err, "duration", elapsed)
		} else {
			logger.Debug("wled request sent", "step", cmd.Step, "body", string(body), "duration", elapsed)
		}
	}
	return err
}

func (c *Client) post(ctx context.Context, body []byte) error {
	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.timeout())
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL+"/json/state", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: building request: %w", ErrNetwork, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNetwork, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%w: reading response: %w", ErrNetwork, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: status %d", ErrNetwork, resp.StatusCode)
	}

	// An empty body is fine; a non-JSON one means something else answered.
	if len(bytes.TrimSpace(data)) > 0 && !json.Valid(data) {
		return fmt.Errorf("%w: malformed response body", ErrNetwork)
	}
	return nil
}

// infoResponse mirrors the fields of /json/info that Info reads.
type infoResponse struct {
	Name string `json:"name"`
	Ver  string `json:"ver"`
	LEDs struct {
		Count int `json:"count"`
	} `json:"leds"`
}

// Info fetches the controller's name, firmware version and LED count.
// Used for health reporting; it never changes controller state.
func (c *Client) Info(ctx context.Context) (*Info, error) {
	if c.baseURL == "" {
		return nil, ErrNoAddress
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.timeout())
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.baseURL+"/json/info", nil)
	if err != nil {
		return nil, fmt.Errorf("%w: building request: %w", ErrNetwork, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body) //nolint:errcheck // drain for connection reuse
		return nil, fmt.Errorf("%w: status %d", ErrNetwork, resp.StatusCode)
	}

	var raw infoResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: decoding info: %w", ErrNetwork, err)
	}

	return &Info{Name: raw.Name, Version: raw.Ver, LEDCount: raw.LEDs.Count}, nil
}
