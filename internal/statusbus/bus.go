// Package statusbus implements the Status Bus: a snapshot cache with no
// TTL keyed by node/{id}/status, plus pub/sub fan-out of status_update
// and message_received events to the "mqtt_status" group. Delivery is
// best-effort — fan-out failures are logged, never returned to the
// caller, so a dashboard outage never slows ingestion.
package statusbus

import (
	"context"
	"encoding/json"
	"time"

	"github.com/wmo-raf/wis2watch/internal/client"
	"github.com/wmo-raf/wis2watch/internal/state"
)

// Group is the single logical pub/sub channel all status events fan out
// on.
const Group = "mqtt_status"

// Kind distinguishes the two event shapes carried on Group.
type Kind string

const (
	KindStatusUpdate    Kind = "status_update"
	KindMessageReceived Kind = "message_received"
)

// Envelope is the wire shape published to Group.
type Envelope struct {
	Kind Kind            `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// MessageEvent is KindMessageReceived's payload.
type MessageEvent struct {
	NodeID    string    `json:"node_id"`
	Topic     string    `json:"topic"`
	Timestamp time.Time `json:"timestamp"`
	Geometry  *Geometry `json:"geometry,omitempty"`
}

// Geometry is the GeoJSON geometry a WIS2 notification's top-level
// "geometry" member carries, when the publishing node includes one.
type Geometry struct {
	Type        string    `json:"type"`
	Coordinates []float64 `json:"coordinates"`
}

// Publisher fans out an already-encoded envelope to Group. Both the
// redis and nats adapters, and any future transport, implement just this.
type Publisher interface {
	Publish(ctx context.Context, group string, payload []byte) error
}

// Logger is the narrow logging surface this package depends on.
type Logger interface {
	Warnw(msg string, kv ...any)
}

// Bus implements client.StatusBus: a no-TTL snapshot cache plus
// best-effort pub/sub fan-out.
type Bus struct {
	cache     state.Store
	publisher Publisher
	log       Logger
}

// New builds a Bus. publisher may be nil, in which case fan-out is
// skipped and only the snapshot cache is maintained.
func New(cache state.Store, publisher Publisher, log Logger) *Bus {
	return &Bus{cache: cache, publisher: publisher, log: log}
}

var _ client.StatusBus = (*Bus)(nil)

func snapshotKey(nodeID string) string { return "node/" + nodeID + "/status" }

// EmitSnapshot implements client.StatusBus. The cache write has no TTL so
// a late-joining dashboard always sees the last known state; the pub/sub
// publish is best-effort.
func (b *Bus) EmitSnapshot(snap client.Snapshot) {
	ctx := context.Background()
	data, err := json.Marshal(snap)
	if err != nil {
		if b.log != nil {
			b.log.Warnw("status snapshot encode failed", "node_id", snap.NodeID, "error", err)
		}
		return
	}
	if err := b.cache.Set(ctx, snapshotKey(snap.NodeID), data, 0); err != nil {
		if b.log != nil {
			b.log.Warnw("status snapshot cache write failed", "node_id", snap.NodeID, "error", err)
		}
	}
	b.publish(ctx, KindStatusUpdate, data, snap.NodeID)
}

// EmitMessage implements client.StatusBus: the sampled live fan-out
// event, subject to the client's own T_ws throttle before this is ever
// called. geometry is forwarded when the payload carries one; payloads
// without it, or that fail to parse, just omit the field.
func (b *Bus) EmitMessage(nodeID, topic string, payload []byte) {
	ctx := context.Background()
	evt := MessageEvent{NodeID: nodeID, Topic: topic, Timestamp: time.Now(), Geometry: parseGeometry(payload)}
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}
	b.publish(ctx, KindMessageReceived, data, nodeID)
}

// parseGeometry extracts the top-level "geometry" member of a WIS2
// notification payload, returning nil when absent or unparseable.
func parseGeometry(payload []byte) *Geometry {
	var wrapper struct {
		Geometry *Geometry `json:"geometry"`
	}
	if err := json.Unmarshal(payload, &wrapper); err != nil {
		return nil
	}
	return wrapper.Geometry
}

func (b *Bus) publish(ctx context.Context, kind Kind, data []byte, nodeID string) {
	if b.publisher == nil {
		return
	}
	env, err := json.Marshal(Envelope{Kind: kind, Data: data})
	if err != nil {
		return
	}
	if err := b.publisher.Publish(ctx, Group, env); err != nil && b.log != nil {
		b.log.Warnw("status bus publish failed", "node_id", nodeID, "kind", kind, "error", err)
	}
}

// Snapshot returns the cached snapshot for nodeID, used by the dashboard
// WebSocket layer's initial load and by internal/api's status endpoint.
func (b *Bus) Snapshot(ctx context.Context, nodeID string) (client.Snapshot, bool, error) {
	raw, err := b.cache.Get(ctx, snapshotKey(nodeID))
	if err != nil {
		return client.Snapshot{}, false, err
	}
	if raw == nil {
		return client.Snapshot{}, false, nil
	}
	var snap client.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return client.Snapshot{}, false, err
	}
	return snap, true, nil
}
