// Package processor implements the Message Processor: the per-record
// resolution algorithm that turns a raw MQTT payload into a persisted
// Observation, and the bulk-insert path the Batch Pipeline calls on
// flush.
package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wmo-raf/wis2watch/internal/catalogue"
	"github.com/wmo-raf/wis2watch/internal/client"
	"github.com/wmo-raf/wis2watch/internal/errors"
	"github.com/wmo-raf/wis2watch/internal/metrics"
	"github.com/wmo-raf/wis2watch/internal/observation"
	"github.com/wmo-raf/wis2watch/internal/tracing"
)

// wireMessage is the subset of a WIS2 notification payload this processor
// extracts fields from.
type wireMessage struct {
	ID         string `json:"id"`
	Properties struct {
		WIGOS      string `json:"wigos_station_identifier"`
		MetadataID string `json:"metadata_id"`
		DataID     string `json:"data_id"`
		Datetime   string `json:"datetime"`
		Pubtime    string `json:"pubtime"`
	} `json:"properties"`
	Links []struct {
		Rel  string `json:"rel"`
		Href string `json:"href"`
	} `json:"links"`
}

// Resyncer triggers a catalogue refresh for a node, used when an incoming
// message references a station this process has not yet seen.
// internal/sync.Synchroniser implements this.
type Resyncer interface {
	SyncNode(ctx context.Context, nodeID string) error
}

// Logger is the narrow logging surface this package depends on.
type Logger interface {
	Debugw(msg string, kv ...any)
	Warnw(msg string, kv ...any)
	Errorw(msg string, kv ...any)
}

// Processor resolves batches of client.Record into observation.Observation
// rows and persists them.
type Processor struct {
	catalogue catalogue.Store
	obs       observation.Store
	resync    Resyncer
	log       Logger

	retryAttempts int
	retryBase     time.Duration
}

// New builds a Processor that tries a failing insert up to 3 times,
// waiting 500ms after the first failure and doubling the wait after each.
func New(cat catalogue.Store, obs observation.Store, resync Resyncer, log Logger) *Processor {
	return &Processor{catalogue: cat, obs: obs, resync: resync, log: log, retryAttempts: 3, retryBase: 500 * time.Millisecond}
}

// ProcessBatch implements batch.Flusher: resolve every record, skipping
// and logging ones that fail resolution, then bulk-insert the resolved
// set under ignore-on-conflict semantics with retry. A resolution failure
// never fails the batch; only a persistently failing insert does.
func (p *Processor) ProcessBatch(ctx context.Context, records []client.Record) error {
	ctx, span := tracing.Tracer.Start(ctx, "ProcessBatch", trace.WithAttributes(
		attribute.Int("record_count", len(records)),
	))
	defer span.End()

	resolved := make([]observation.Observation, 0, len(records))
	nodeID := ""
	for _, rec := range records {
		nodeID = rec.NodeID
		obs, ok, err := p.resolve(ctx, rec)
		if err != nil {
			metrics.MessageErrors.WithLabelValues(rec.NodeID, "resolution_failed").Inc()
			if p.log != nil {
				p.log.Warnw("dropping message", "node_id", rec.NodeID, "topic", rec.Topic, "reason", err)
			}
			continue
		}
		if !ok {
			continue
		}
		resolved = append(resolved, obs)
	}
	if len(resolved) == 0 {
		return nil
	}
	inserted, err := p.insertWithRetry(ctx, resolved)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	metrics.ObservationsInserted.WithLabelValues(nodeID).Add(float64(inserted))
	return nil
}

func (p *Processor) insertWithRetry(ctx context.Context, obs []observation.Observation) (int, error) {
	var lastErr error
	delay := p.retryBase
	for attempt := 0; attempt < p.retryAttempts; attempt++ {
		inserted, err := p.obs.InsertBatch(ctx, obs)
		if err != nil {
			lastErr = err
			if p.log != nil {
				p.log.Warnw("insert batch failed, retrying", "attempt", attempt+1, "error", err)
			}
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return 0, ctx.Err()
			}
			delay *= 2
			continue
		}
		return inserted, nil
	}
	return 0, fmt.Errorf("processor: insert batch after %d attempts: %w", p.retryAttempts, lastErr)
}

// resolve runs the seven-step resolution algorithm for a single record.
// Every drop returns ok=false with a non-nil err saying why (invalid
// JSON, missing field, unknown station or dataset, bad datetime, or a
// catalogue failure); ProcessBatch logs and counts each one.
func (p *Processor) resolve(ctx context.Context, rec client.Record) (observation.Observation, bool, error) {
	var msg wireMessage
	if err := json.Unmarshal(rec.Payload, &msg); err != nil {
		return observation.Observation{}, false, fmt.Errorf("invalid json: %w", err)
	}

	// Step 1: required identifying fields.
	if msg.ID == "" || msg.Properties.WIGOS == "" || msg.Properties.MetadataID == "" {
		return observation.Observation{}, false, errors.New("missing id/wigos_station_identifier/metadata_id")
	}

	// Step 2: station lookup, one resync-and-retry on miss.
	station, err := p.catalogue.GetStationByWIGOS(ctx, msg.Properties.WIGOS)
	if errors.Is(err, catalogue.ErrNotFound) {
		if p.resync != nil {
			if rerr := p.resync.SyncNode(ctx, rec.NodeID); rerr != nil && p.log != nil {
				p.log.Warnw("catalogue resync failed", "node_id", rec.NodeID, "error", rerr)
			}
		}
		station, err = p.catalogue.GetStationByWIGOS(ctx, msg.Properties.WIGOS)
	}
	if err != nil {
		if errors.Is(err, catalogue.ErrNotFound) {
			return observation.Observation{}, false, fmt.Errorf("unknown station %s", msg.Properties.WIGOS)
		}
		return observation.Observation{}, false, err
	}

	// Step 3: dataset lookup, no retry.
	dataset, err := p.catalogue.GetDatasetByID(ctx, msg.Properties.MetadataID)
	if err != nil {
		if errors.Is(err, catalogue.ErrNotFound) {
			return observation.Observation{}, false, fmt.Errorf("unknown dataset %s", msg.Properties.MetadataID)
		}
		return observation.Observation{}, false, err
	}

	// Step 4: observation_time is required and must be RFC-3339.
	obsTime, err := time.Parse(time.RFC3339, msg.Properties.Datetime)
	if err != nil {
		return observation.Observation{}, false, fmt.Errorf("missing or unparseable datetime: %w", err)
	}

	// Step 5: publish_time falls back to received_at on parse failure.
	pubTime := rec.ReceivedAt
	if msg.Properties.Pubtime != "" {
		if t, err := time.Parse(time.RFC3339, msg.Properties.Pubtime); err == nil {
			pubTime = t
		}
	}

	// Step 6: canonical link scan.
	var canonical string
	for _, l := range msg.Links {
		if l.Rel == "canonical" {
			canonical = l.Href
			break
		}
	}

	return observation.Observation{
		MessageID:       msg.ID,
		Station:         station.WIGOS,
		Dataset:         dataset.ID,
		DataID:          msg.Properties.DataID,
		ObservationTime: obsTime,
		PublishTime:     pubTime,
		CanonicalLink:   canonical,
		RawPayload:      rec.Payload,
	}, true, nil
}
