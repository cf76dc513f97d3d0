// Package observation holds the append-only observation log: the record
// of every notification message the fleet has ingested.
package observation

import (
	"context"
	"time"
)

// Observation is one persisted row representing a single notification
// message received from a node. (message_id, station) is the idempotency
// key: re-delivering the same message is a silent no-op.
type Observation struct {
	MessageID       string
	Station         string
	Dataset         string
	DataID          string
	ObservationTime time.Time
	PublishTime     time.Time
	CanonicalLink   string
	RawPayload      []byte
}

// Store is the time-indexed observation log's persistence boundary.
type Store interface {
	// InsertBatch inserts observations under a single transaction with
	// ignore-on-conflict semantics on (message_id, station). Returns the
	// number of rows actually inserted (duplicates do not count).
	InsertBatch(ctx context.Context, obs []Observation) (inserted int, err error)
}
