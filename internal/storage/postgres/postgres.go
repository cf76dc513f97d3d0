// Package postgres is the pgx-backed catalogue and observation store, used
// in production deployments where the observation log is time-partitioned
// by observation_time. Inserts use ON CONFLICT DO NOTHING for idempotency.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wmo-raf/wis2watch/internal/catalogue"
	"github.com/wmo-raf/wis2watch/internal/observation"
)

// Store implements both catalogue.Store and observation.Store against a
// single PostgreSQL connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to PostgreSQL using connString and ensures the schema
// exists.
func New(ctx context.Context, connString string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	s := &Store{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS node (
	id TEXT PRIMARY KEY, name TEXT, host TEXT, port INTEGER,
	tls_enabled BOOLEAN DEFAULT false, tls_insecure_skip_verify BOOLEAN DEFAULT false,
	username TEXT, password TEXT, active BOOLEAN DEFAULT false,
	discovery_metadata_url TEXT, stations_url TEXT, verify_ssl BOOLEAN DEFAULT true
);
CREATE TABLE IF NOT EXISTS dataset (
	id TEXT PRIMARY KEY, node_id TEXT NOT NULL, topic TEXT, status TEXT NOT NULL DEFAULT 'active',
	title TEXT, data_policy TEXT, topic_hierarchy TEXT,
	self_link TEXT, canonical_link TEXT, collection_link TEXT,
	metadata_created TEXT, metadata_updated TEXT
);
CREATE UNIQUE INDEX IF NOT EXISTS dataset_topic_idx ON dataset (node_id, topic) WHERE status <> 'deleted';
CREATE TABLE IF NOT EXISTS station (
	wigos_id TEXT PRIMARY KEY, name TEXT, lon DOUBLE PRECISION, lat DOUBLE PRECISION, alt DOUBLE PRECISION,
	facility_type TEXT, dataset_ids TEXT[] NOT NULL DEFAULT '{}'
);
CREATE TABLE IF NOT EXISTS observation (
	message_id TEXT NOT NULL, station TEXT NOT NULL, dataset TEXT NOT NULL, data_id TEXT,
	observation_time TIMESTAMPTZ NOT NULL, publish_time TIMESTAMPTZ NOT NULL,
	canonical_link TEXT, raw_payload JSONB,
	PRIMARY KEY (message_id, station)
) PARTITION BY RANGE (observation_time);
CREATE TABLE IF NOT EXISTS observation_default PARTITION OF observation DEFAULT;
CREATE TABLE IF NOT EXISTS sync_log (
	id BIGSERIAL PRIMARY KEY, node_id TEXT, kind TEXT, started_at TIMESTAMPTZ, finished_at TIMESTAMPTZ,
	found INTEGER, created INTEGER, updated INTEGER, deleted INTEGER, error TEXT
);`
	_, err := s.pool.Exec(ctx, schema)
	if err != nil {
		return fmt.Errorf("postgres: ensure schema: %w", err)
	}
	return nil
}

// InsertBatch implements observation.Store.
func (s *Store) InsertBatch(ctx context.Context, obs []observation.Observation) (int, error) {
	if len(obs) == 0 {
		return 0, nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	inserted := 0
	batch := &pgx.Batch{}
	for _, o := range obs {
		batch.Queue(queryInsertObservation, o.MessageID, o.Station, o.Dataset, o.DataID,
			o.ObservationTime, o.PublishTime, o.CanonicalLink, o.RawPayload)
	}
	br := tx.SendBatch(ctx, batch)
	for range obs {
		tag, err := br.Exec()
		if err != nil {
			_ = br.Close()
			return inserted, fmt.Errorf("postgres: insert observation: %w", err)
		}
		inserted += int(tag.RowsAffected())
	}
	if err := br.Close(); err != nil {
		return inserted, fmt.Errorf("postgres: close batch: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return inserted, fmt.Errorf("postgres: commit: %w", err)
	}
	return inserted, nil
}

// ActiveNodes implements catalogue.Store.
func (s *Store) ActiveNodes(ctx context.Context) ([]catalogue.Node, error) {
	rows, err := s.pool.Query(ctx, queryActiveNodes)
	if err != nil {
		return nil, fmt.Errorf("postgres: active nodes: %w", err)
	}
	defer rows.Close()

	var nodes []catalogue.Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	for i := range nodes {
		ds, err := s.datasetsForNode(ctx, nodes[i].ID)
		if err != nil {
			return nil, err
		}
		nodes[i].Datasets = ds
	}
	return nodes, rows.Err()
}

// GetNode implements catalogue.Store.
func (s *Store) GetNode(ctx context.Context, nodeID string) (catalogue.Node, error) {
	row := s.pool.QueryRow(ctx, queryGetNode, nodeID)
	n, err := scanNode(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return catalogue.Node{}, catalogue.ErrNotFound
		}
		return catalogue.Node{}, fmt.Errorf("postgres: get node: %w", err)
	}
	ds, err := s.datasetsForNode(ctx, nodeID)
	if err != nil {
		return catalogue.Node{}, err
	}
	n.Datasets = ds
	return n, nil
}

func (s *Store) datasetsForNode(ctx context.Context, nodeID string) ([]catalogue.Dataset, error) {
	rows, err := s.pool.Query(ctx, queryDatasetsForNode, nodeID)
	if err != nil {
		return nil, fmt.Errorf("postgres: datasets for node: %w", err)
	}
	defer rows.Close()
	var out []catalogue.Dataset
	for rows.Next() {
		d, err := scanDataset(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanNode(r scanner) (catalogue.Node, error) {
	var n catalogue.Node
	err := r.Scan(&n.ID, &n.Name, &n.Host, &n.Port, &n.TLS.Enabled, &n.TLS.InsecureSkipVerify,
		&n.Username, &n.Password, &n.Active, &n.DiscoveryMetadataURL, &n.StationsURL, &n.VerifySSL)
	return n, err
}

func scanDataset(r scanner) (catalogue.Dataset, error) {
	var d catalogue.Dataset
	var status string
	err := r.Scan(&d.ID, &d.NodeID, &d.Topic, &status, &d.Title, &d.DataPolicy, &d.TopicHierarchy,
		&d.SelfLink, &d.CanonicalLink, &d.CollectionLink)
	d.Status = catalogue.DatasetStatus(status)
	return d, err
}

// GetStationByWIGOS implements catalogue.Store.
func (s *Store) GetStationByWIGOS(ctx context.Context, wigos string) (catalogue.Station, error) {
	row := s.pool.QueryRow(ctx, queryGetStationByWIGOS, wigos)
	var st catalogue.Station
	if err := row.Scan(&st.WIGOS, &st.Name, &st.Lon, &st.Lat, &st.Alt, &st.FacilityType, &st.DatasetIDs); err != nil {
		if err == pgx.ErrNoRows {
			return catalogue.Station{}, catalogue.ErrNotFound
		}
		return catalogue.Station{}, fmt.Errorf("postgres: get station: %w", err)
	}
	return st, nil
}

// GetDatasetByID implements catalogue.Store.
func (s *Store) GetDatasetByID(ctx context.Context, datasetID string) (catalogue.Dataset, error) {
	row := s.pool.QueryRow(ctx, queryGetDatasetByID, datasetID)
	d, err := scanDataset(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return catalogue.Dataset{}, catalogue.ErrNotFound
		}
		return catalogue.Dataset{}, fmt.Errorf("postgres: get dataset: %w", err)
	}
	return d, nil
}

// UpsertDatasets implements catalogue.Store: replace nodeID's datasets and
// tombstone any existing dataset absent from the new set.
func (s *Store) UpsertDatasets(ctx context.Context, nodeID string, datasets []catalogue.Dataset) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ids := make([]string, 0, len(datasets))
	for _, d := range datasets {
		ids = append(ids, d.ID)
		if _, err := tx.Exec(ctx, queryUpsertDataset, d.ID, nodeID, d.Topic, string(d.Status),
			d.Title, d.DataPolicy, d.TopicHierarchy, d.SelfLink, d.CanonicalLink, d.CollectionLink,
			d.MetadataCreated, d.MetadataUpdated); err != nil {
			return fmt.Errorf("postgres: upsert dataset %s: %w", d.ID, err)
		}
	}
	if _, err := tx.Exec(ctx, queryMarkDatasetsDeleted, nodeID, ids); err != nil {
		return fmt.Errorf("postgres: tombstone datasets: %w", err)
	}
	return tx.Commit(ctx)
}

// UpsertStations implements catalogue.Store. Stations are never deleted by
// a sync — only inserted or updated.
func (s *Store) UpsertStations(ctx context.Context, stations []catalogue.Station) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, st := range stations {
		if _, err := tx.Exec(ctx, queryUpsertStation, st.WIGOS, st.Name, st.Lon, st.Lat, st.Alt,
			st.FacilityType, st.DatasetIDs); err != nil {
			return fmt.Errorf("postgres: upsert station %s: %w", st.WIGOS, err)
		}
	}
	return tx.Commit(ctx)
}

// RecordSyncRun implements sync.AuditLog.
func (s *Store) RecordSyncRun(ctx context.Context, nodeID, kind string, startedAt, finishedAt time.Time, found, created, updated, deleted int, syncErr string) error {
	_, err := s.pool.Exec(ctx, querySyncLogInsert, nodeID, kind, startedAt, finishedAt, found, created, updated, deleted, syncErr)
	if err != nil {
		return fmt.Errorf("postgres: record sync run: %w", err)
	}
	return nil
}
