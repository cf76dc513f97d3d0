// Package client implements the Node Client: one MQTT session per fleet
// node with a per-client state machine, throttled status/fan-out
// emission, and a rate ring for messages/minute. Built on Paho's client
// option wiring (TLS/reconnect, default publish handler).
package client

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/wmo-raf/wis2watch/internal/catalogue"
	"github.com/wmo-raf/wis2watch/internal/metrics"
	"github.com/wmo-raf/wis2watch/internal/tracing"
)

// Record is one decoded message handed to the Batcher for later bulk
// resolution by the Message Processor.
type Record struct {
	NodeID     string
	Topic      string
	Payload    []byte
	ReceivedAt time.Time
}

// Batcher accepts records for later bulk processing. internal/batch.Buffer
// is the production implementation.
type Batcher interface {
	Add(rec Record)
}

// Snapshot is the throttled status payload emitted to the Status Bus.
type Snapshot struct {
	NodeID          string
	State           State
	PreviousState   State
	StateEnteredAt  time.Time
	ConnectAttempts int64
	ConnectSuccess  int64
	ConnectFail     int64
	MessagesTotal   int64
	Errors          int64
	MessagesPerMin  int
	LastMessageAt   time.Time
	LastError       string
}

// StatusBus is the narrow slice of internal/statusbus.Bus the client
// depends on.
type StatusBus interface {
	EmitSnapshot(snap Snapshot)
	EmitMessage(nodeID, topic string, payload []byte)
}

// Logger is the narrow slice of internal/logging.Logger the client
// depends on, kept here so this package never imports the logging
// package's concrete zerolog type.
type Logger interface {
	Debugw(msg string, kv ...any)
	Infow(msg string, kv ...any)
	Warnw(msg string, kv ...any)
	Errorw(msg string, kv ...any)
}

// Config tunes the throttling policy and connection parameters. Zero
// values are replaced by package defaults in New.
type Config struct {
	BatchSize        int
	BatchAge         time.Duration
	WSInterval       time.Duration
	StatusInterval   time.Duration
	HealthMaxSilence time.Duration
	HealthConnecting time.Duration
	KeepAlive        time.Duration
	MaxReconnect     time.Duration
	RateRingCap      int
}

func (c *Config) applyDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.BatchAge <= 0 {
		c.BatchAge = 5 * time.Second
	}
	if c.WSInterval <= 0 {
		c.WSInterval = 500 * time.Millisecond
	}
	if c.StatusInterval <= 0 {
		c.StatusInterval = 10 * time.Second
	}
	if c.HealthMaxSilence <= 0 {
		c.HealthMaxSilence = 10 * time.Minute
	}
	if c.HealthConnecting <= 0 {
		c.HealthConnecting = 2 * time.Minute
	}
	if c.KeepAlive <= 0 {
		c.KeepAlive = 60 * time.Second
	}
	if c.MaxReconnect <= 0 {
		c.MaxReconnect = 120 * time.Second
	}
	if c.RateRingCap <= 0 {
		c.RateRingCap = 1000
	}
}

// NodeClient is one fleet node's live MQTT session plus its bookkeeping.
type NodeClient struct {
	node    catalogue.Node
	cfg     Config
	batcher Batcher
	bus     StatusBus
	log     Logger

	mqtt paho.Client

	mu              sync.Mutex
	state           State
	previousState   State
	stateEnteredAt  time.Time
	connectAttempts int64
	connectSuccess  int64
	connectFail     int64
	messagesTotal   int64
	errorsCount     int64
	ring            *rateRing
	lastMessageAt   time.Time
	wsGate          rate.Sometimes
	statusGate      rate.Sometimes
	lastError       string
}

// New builds a NodeClient for node, not yet connected.
func New(node catalogue.Node, cfg Config, batcher Batcher, bus StatusBus, log Logger) *NodeClient {
	cfg.applyDefaults()
	now := time.Now()
	return &NodeClient{
		node:           node,
		cfg:            cfg,
		batcher:        batcher,
		bus:            bus,
		log:            log,
		state:          Disconnected,
		previousState:  Disconnected,
		stateEnteredAt: now,
		ring:           newRateRing(cfg.RateRingCap),
		wsGate:         rate.Sometimes{Interval: cfg.WSInterval},
		statusGate:     rate.Sometimes{Interval: cfg.StatusInterval},
	}
}

// Connect issues a non-blocking connect to the node's broker and wires
// topic subscription for when the session opens. Idempotent: calling
// Connect while already Connecting/Connected is a no-op.
func (c *NodeClient) Connect() error {
	c.mu.Lock()
	if c.state == Connecting || c.state == Connected {
		c.mu.Unlock()
		return nil
	}
	c.transition(Connecting)
	c.connectAttempts++
	c.mu.Unlock()

	opts := paho.NewClientOptions()
	scheme := "tcp"
	if c.node.TLS.Enabled {
		scheme = "ssl"
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, c.node.Host, c.node.Port))
	opts.SetClientID(fmt.Sprintf("wis2watch_%s_%d", c.node.ID, time.Now().UnixMilli()))
	if c.node.Username != "" {
		opts.SetUsername(c.node.Username)
		opts.SetPassword(c.node.Password)
	}
	opts.SetKeepAlive(c.cfg.KeepAlive)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(c.cfg.MaxReconnect)
	opts.SetCleanSession(true)
	opts.SetConnectTimeout(30 * time.Second)

	if c.node.TLS.Enabled {
		opts.SetTLSConfig(&tls.Config{
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: c.node.TLS.InsecureSkipVerify,
		})
	}

	opts.SetDefaultPublishHandler(c.onMessage)
	opts.OnConnect = c.onConnectSuccess
	opts.OnConnectionLost = c.onConnectionLost

	c.mqtt = paho.NewClient(opts)
	token := c.mqtt.Connect()
	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			c.mu.Lock()
			c.connectFail++
			c.lastError = describeConnectError(err)
			c.transition(Error)
			c.mu.Unlock()
			if c.log != nil {
				c.log.Warnw("mqtt connect failed", "node_id", c.node.ID, "error", err)
			}
			c.emitSnapshot(true)
		}
	}()
	return nil
}

func (c *NodeClient) onConnectSuccess(mq paho.Client) {
	c.mu.Lock()
	c.connectSuccess++
	c.transition(Connected)
	c.mu.Unlock()

	for _, topic := range c.node.Topics() {
		if token := mq.Subscribe(topic, 1, nil); token.Wait() && token.Error() != nil {
			if c.log != nil {
				c.log.Warnw("subscribe failed", "node_id", c.node.ID, "topic", topic, "error", token.Error())
			}
		}
	}
	c.emitSnapshot(true)
}

func (c *NodeClient) onConnectionLost(_ paho.Client, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Stopping {
		return
	}
	c.lastError = describeConnectError(err)
	c.transition(Error)
	c.emitSnapshotLocked()
}

func (c *NodeClient) onMessage(_ paho.Client, m paho.Message) {
	_, span := tracing.Tracer.Start(context.Background(), "NodeMessage", trace.WithAttributes(
		attribute.String("node_id", c.node.ID),
		attribute.String("topic", m.Topic()),
	))
	defer span.End()

	now := time.Now()
	payload := append([]byte(nil), m.Payload()...)

	if !json.Valid(payload) {
		c.mu.Lock()
		c.errorsCount++
		c.mu.Unlock()
		metrics.MessageErrors.WithLabelValues(c.node.ID, "invalid_json").Inc()
		span.SetStatus(codes.Error, "invalid json")
		if c.log != nil {
			c.log.Warnw("dropping undecodable message", "node_id", c.node.ID, "topic", m.Topic())
		}
		return
	}

	metrics.MessagesProcessed.WithLabelValues(c.node.ID).Inc()
	c.mu.Lock()
	c.messagesTotal++
	c.ring.record(now)
	c.lastMessageAt = now
	c.mu.Unlock()

	var emitWS, emitStatus bool
	c.wsGate.Do(func() { emitWS = true })
	c.statusGate.Do(func() { emitStatus = true })

	if c.batcher != nil {
		c.batcher.Add(Record{NodeID: c.node.ID, Topic: m.Topic(), Payload: payload, ReceivedAt: now})
	}
	if c.bus != nil && emitWS {
		c.bus.EmitMessage(c.node.ID, m.Topic(), payload)
	}
	if emitStatus {
		c.emitSnapshot(true)
	}
}

// Stop transitions the client to Stopping, disconnects, clears the rate
// ring and lands in Disconnected. It does not flush the batch buffer;
// the supervisor closes that after Stop returns. Idempotent.
func (c *NodeClient) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.state == Disconnected || c.state == Stopping {
		c.mu.Unlock()
		return nil
	}
	c.transition(Stopping)
	mq := c.mqtt
	c.mu.Unlock()

	if mq != nil && mq.IsConnected() {
		mq.Disconnect(250)
	}

	c.mu.Lock()
	c.ring.clear()
	c.transition(Disconnected)
	c.mu.Unlock()
	c.emitSnapshot(true)
	return nil
}

// transition must be called with c.mu held.
func (c *NodeClient) transition(s State) {
	c.previousState = c.state
	c.state = s
	c.stateEnteredAt = time.Now()
}

// IsHealthy reports whether the client's current state and recent
// activity pass the is_healthy() predicate.
func (c *NodeClient) IsHealthy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isHealthyLocked(time.Now())
}

func (c *NodeClient) isHealthyLocked(now time.Time) bool {
	if c.state != Connected {
		if c.state == Connecting && now.Sub(c.stateEnteredAt) > c.cfg.HealthConnecting {
			return false
		}
		return false
	}
	if c.messagesTotal > 0 && now.Sub(c.lastMessageAt) > c.cfg.HealthMaxSilence {
		return false
	}
	return true
}

// State reports the current lifecycle state.
func (c *NodeClient) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// NodeID returns the node this client serves.
func (c *NodeClient) NodeID() string { return c.node.ID }

func (c *NodeClient) emitSnapshot(lock bool) {
	if c.bus == nil {
		return
	}
	if lock {
		c.mu.Lock()
		defer c.mu.Unlock()
	}
	c.emitSnapshotLocked()
}

// emitSnapshotLocked must be called with c.mu held.
func (c *NodeClient) emitSnapshotLocked() {
	if c.bus == nil {
		return
	}
	now := time.Now()
	perMin := c.ring.countPerMinute(now)
	metrics.MessagesPerMinute.WithLabelValues(c.node.ID).Set(float64(perMin))
	for _, s := range []State{Disconnected, Connecting, Connected, Stopping, Error} {
		v := 0.0
		if s == c.state {
			v = 1.0
		}
		metrics.NodeState.WithLabelValues(c.node.ID, string(s)).Set(v)
	}
	healthy := 0.0
	if c.isHealthyLocked(now) {
		healthy = 1.0
	}
	metrics.NodeHealthy.WithLabelValues(c.node.ID).Set(healthy)

	c.bus.EmitSnapshot(Snapshot{
		NodeID:          c.node.ID,
		State:           c.state,
		PreviousState:   c.previousState,
		StateEnteredAt:  c.stateEnteredAt,
		ConnectAttempts: c.connectAttempts,
		ConnectSuccess:  c.connectSuccess,
		ConnectFail:     c.connectFail,
		MessagesTotal:   c.messagesTotal,
		Errors:          c.errorsCount,
		MessagesPerMin:  perMin,
		LastMessageAt:   c.lastMessageAt,
		LastError:       c.lastError,
	})
}
