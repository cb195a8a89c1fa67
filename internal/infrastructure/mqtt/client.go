package mqtt

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/ledlocator/internal/infrastructure/config"
)

// Logger is the subset of *slog.Logger the client reports through.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// MessageHandler receives one inbound message. paho calls it on its own
// goroutine; a returned error is logged and the message is still acked.
type MessageHandler func(topic string, payload []byte) error

type subscription struct {
	qos     byte
	handler MessageHandler
}

// Client is a paho connection that tracks its subscriptions so they
// survive a reconnect. It is safe for concurrent use.
type Client struct {
	paho pahomqtt.Client
	cfg  config.MQTTConfig
	up   atomic.Bool

	mu     sync.RWMutex
	subs   map[string]subscription
	onUp   func()
	onDown func(error)
	logger Logger
}

// Connect dials the broker and waits for the first connection. It returns
// ErrDisabled when cfg.Enabled is false.
func Connect(cfg config.MQTTConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	c := &Client{cfg: cfg, subs: make(map[string]subscription)}

	opts := newOptions(cfg).
		SetOnConnectHandler(func(pahomqtt.Client) { c.connected() }).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.lost(err) }).
		SetReconnectingHandler(func(pahomqtt.Client, *pahomqtt.ClientOptions) {
			if l := c.log(); l != nil {
				l.Warn("MQTT reconnecting", "broker", brokerURL(cfg.Broker))
			}
		})

	c.paho = pahomqtt.NewClient(opts)
	if err := wait(c.paho.Connect(), connectTimeout, ErrConnectionFailed); err != nil {
		return nil, err
	}
	// The connect handler runs asynchronously; report connected from here on.
	c.up.Store(true)
	return c, nil
}

// connected runs on the first connect and every reconnect.
func (c *Client) connected() {
	c.up.Store(true)

	c.mu.RLock()
	for topic, s := range c.subs {
		c.paho.Subscribe(topic, s.qos, c.deliver(s.handler))
	}
	hook := c.onUp
	c.mu.RUnlock()

	c.paho.Publish(Topics{}.SystemStatus(), byte(c.cfg.QoS), true, statusPayload(c.cfg.Broker.ClientID, "online", ""))
	if hook != nil {
		hook()
	}
}

func (c *Client) lost(err error) {
	c.up.Store(false)
	c.mu.RLock()
	hook := c.onDown
	c.mu.RUnlock()
	if hook != nil {
		hook(err)
	}
}

// Close publishes a graceful offline status and disconnects.
func (c *Client) Close() error {
	if c.paho == nil {
		return nil
	}
	if c.IsConnected() {
		c.paho.Publish(Topics{}.SystemStatus(), byte(c.cfg.QoS), true,
			statusPayload(c.cfg.Broker.ClientID, "offline", "graceful_shutdown")).WaitTimeout(operationWait)
	}
	c.paho.Disconnect(quiesceMillis)
	c.up.Store(false)
	return nil
}

// HealthCheck reports ErrNotConnected while the broker is unreachable.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected reports the last known connection state.
func (c *Client) IsConnected() bool {
	return c.up.Load() && c.paho != nil && c.paho.IsConnected()
}

// SetOnConnect sets a hook run after every (re)connect.
func (c *Client) SetOnConnect(fn func()) {
	c.mu.Lock()
	c.onUp = fn
	c.mu.Unlock()
}

// SetOnDisconnect sets a hook run when the connection drops.
func (c *Client) SetOnDisconnect(fn func(err error)) {
	c.mu.Lock()
	c.onDown = fn
	c.mu.Unlock()
}

// SetLogger sets where handler errors and panics are reported. Without
// one they are discarded.
func (c *Client) SetLogger(l Logger) {
	c.mu.Lock()
	c.logger = l
	c.mu.Unlock()
}

func (c *Client) log() Logger {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.logger
}

// Publish sends payload to topic. Topics may not contain wildcards.
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if err := checkTopic(topic, false); err != nil {
		return err
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadBytes {
		return fmt.Errorf("%w: %d byte payload exceeds %d", ErrPublishFailed, len(payload), maxPayloadBytes)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return wait(c.paho.Publish(topic, qos, retained, payload), operationWait, ErrPublishFailed)
}

// Subscribe routes messages matching topic (wildcards allowed) to handler
// and remembers the subscription for reconnects.
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	if err := checkTopic(topic, true); err != nil {
		return err
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if handler == nil {
		return fmt.Errorf("%w: nil handler", ErrSubscribeFailed)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	if err := wait(c.paho.Subscribe(topic, qos, c.deliver(handler)), operationWait, ErrSubscribeFailed); err != nil {
		return err
	}
	c.mu.Lock()
	if c.subs == nil {
		c.subs = make(map[string]subscription)
	}
	c.subs[topic] = subscription{qos: qos, handler: handler}
	c.mu.Unlock()
	return nil
}

// Unsubscribe drops a subscription made with Subscribe.
func (c *Client) Unsubscribe(topic string) error {
	if err := checkTopic(topic, true); err != nil {
		return err
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	c.mu.Lock()
	delete(c.subs, topic)
	c.mu.Unlock()
	return wait(c.paho.Unsubscribe(topic), operationWait, ErrUnsubscribeFailed)
}

// HasSubscription reports whether topic, exactly as subscribed, is tracked.
func (c *Client) HasSubscription(topic string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.subs[topic]
	return ok
}

// deliver adapts handler to paho, containing panics and logging errors.
func (c *Client) deliver(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				if l := c.log(); l != nil {
					l.Error("MQTT handler panic", "topic", msg.Topic(), "panic", r)
				}
			}
		}()
		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			if l := c.log(); l != nil {
				l.Warn("MQTT handler failed", "topic", msg.Topic(), "error", err)
			}
		}
	}
}

// wait blocks on tok for up to d and wraps any failure in op.
func wait(tok pahomqtt.Token, d time.Duration, op error) error {
	if !tok.WaitTimeout(d) {
		return fmt.Errorf("%w: no response after %v", op, d)
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("%w: %w", op, err)
	}
	return nil
}

// checkTopic rejects empty topics, and wildcards outside filters.
func checkTopic(topic string, filter bool) error {
	if topic == "" {
		return fmt.Errorf("%w: empty", ErrInvalidTopic)
	}
	if !filter && strings.ContainsAny(topic, "+#") {
		return fmt.Errorf("%w: wildcard in publish topic %q", ErrInvalidTopic, topic)
	}
	return nil
}
