// Package sqlite is the embeddable catalogue and observation store used by
// wis2watchd's single-binary/dev-mode deployment, where running a separate
// PostgreSQL instance is unwarranted. Uses modernc.org/sqlite (pure Go, no
// cgo) with idempotent inserts via ON CONFLICT DO NOTHING.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/wmo-raf/wis2watch/internal/catalogue"
	"github.com/wmo-raf/wis2watch/internal/observation"
)

// Store implements catalogue.Store and observation.Store over a single
// SQLite file (or ":memory:" for tests).
type Store struct {
	db *sql.DB
}

// New opens path (creating it if absent) and ensures the schema exists.
func New(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// SQLite tolerates a single writer; serialize writers through one
	// connection.
	db.SetMaxOpenConns(1)
	s := &Store{db: db}
	if err := s.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) ensureSchema(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS node (
	id TEXT PRIMARY KEY, name TEXT, host TEXT, port INTEGER,
	tls_enabled INTEGER DEFAULT 0, tls_insecure_skip_verify INTEGER DEFAULT 0,
	username TEXT, password TEXT, active INTEGER DEFAULT 0,
	discovery_metadata_url TEXT, stations_url TEXT, verify_ssl INTEGER DEFAULT 1
);
CREATE TABLE IF NOT EXISTS dataset (
	id TEXT PRIMARY KEY, node_id TEXT NOT NULL, topic TEXT, status TEXT NOT NULL DEFAULT 'active',
	title TEXT, data_policy TEXT, topic_hierarchy TEXT,
	self_link TEXT, canonical_link TEXT, collection_link TEXT,
	metadata_created TEXT, metadata_updated TEXT
);
CREATE TABLE IF NOT EXISTS station (
	wigos_id TEXT PRIMARY KEY, name TEXT, lon REAL, lat REAL, alt REAL,
	facility_type TEXT, dataset_ids TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS observation (
	message_id TEXT NOT NULL, station TEXT NOT NULL, dataset TEXT NOT NULL, data_id TEXT,
	observation_time TEXT NOT NULL, publish_time TEXT NOT NULL,
	canonical_link TEXT, raw_payload BLOB,
	PRIMARY KEY (message_id, station)
);
CREATE TABLE IF NOT EXISTS sync_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT, node_id TEXT, kind TEXT, started_at TEXT, finished_at TEXT,
	found INTEGER, created INTEGER, updated INTEGER, deleted INTEGER, error TEXT
);`
	_, err := s.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("sqlite: ensure schema: %w", err)
	}
	return nil
}

// InsertBatch implements observation.Store. SQLite has no multi-statement
// batch protocol, so rows are inserted one at a time inside a transaction
// — acceptable at this backend's dev/single-node scale.
func (s *Store) InsertBatch(ctx context.Context, obs []observation.Observation) (int, error) {
	if len(obs) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("sqlite: begin: %w", err)
	}
	defer tx.Rollback()

	const q = `
INSERT INTO observation (message_id, station, dataset, data_id, observation_time, publish_time, canonical_link, raw_payload)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(message_id, station) DO NOTHING`

	inserted := 0
	for _, o := range obs {
		res, err := tx.ExecContext(ctx, q, o.MessageID, o.Station, o.Dataset, o.DataID,
			o.ObservationTime.UTC().Format(time.RFC3339Nano), o.PublishTime.UTC().Format(time.RFC3339Nano),
			o.CanonicalLink, o.RawPayload)
		if err != nil {
			return inserted, fmt.Errorf("sqlite: insert observation: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return inserted, fmt.Errorf("sqlite: rows affected: %w", err)
		}
		inserted += int(n)
	}
	if err := tx.Commit(); err != nil {
		return inserted, fmt.Errorf("sqlite: commit: %w", err)
	}
	return inserted, nil
}

// ActiveNodes implements catalogue.Store.
func (s *Store) ActiveNodes(ctx context.Context) ([]catalogue.Node, error) {
	const q = `
SELECT id, name, host, port, tls_enabled, tls_insecure_skip_verify, username, password,
       active, discovery_metadata_url, stations_url, verify_ssl
FROM node WHERE active = 1 AND host <> ''`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("sqlite: active nodes: %w", err)
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
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range nodes {
		ds, err := s.datasetsForNode(ctx, nodes[i].ID)
		if err != nil {
			return nil, err
		}
		nodes[i].Datasets = ds
	}
	return nodes, nil
}

// GetNode implements catalogue.Store.
func (s *Store) GetNode(ctx context.Context, nodeID string) (catalogue.Node, error) {
	const q = `
SELECT id, name, host, port, tls_enabled, tls_insecure_skip_verify, username, password,
       active, discovery_metadata_url, stations_url, verify_ssl
FROM node WHERE id = ?`
	row := s.db.QueryRowContext(ctx, q, nodeID)
	n, err := scanNode(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return catalogue.Node{}, catalogue.ErrNotFound
		}
		return catalogue.Node{}, fmt.Errorf("sqlite: get node: %w", err)
	}
	ds, err := s.datasetsForNode(ctx, nodeID)
	if err != nil {
		return catalogue.Node{}, err
	}
	n.Datasets = ds
	return n, nil
}

func (s *Store) datasetsForNode(ctx context.Context, nodeID string) ([]catalogue.Dataset, error) {
	const q = `
SELECT id, node_id, topic, status, title, data_policy, topic_hierarchy, self_link, canonical_link, collection_link
FROM dataset WHERE node_id = ?`
	rows, err := s.db.QueryContext(ctx, q, nodeID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: datasets for node: %w", err)
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
	var tlsEnabled, tlsSkip, active, verifySSL int
	err := r.Scan(&n.ID, &n.Name, &n.Host, &n.Port, &tlsEnabled, &tlsSkip, &n.Username, &n.Password,
		&active, &n.DiscoveryMetadataURL, &n.StationsURL, &verifySSL)
	n.TLS.Enabled = tlsEnabled != 0
	n.TLS.InsecureSkipVerify = tlsSkip != 0
	n.Active = active != 0
	n.VerifySSL = verifySSL != 0
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
	const q = `SELECT wigos_id, name, lon, lat, alt, facility_type, dataset_ids FROM station WHERE wigos_id = ?`
	var st catalogue.Station
	var ids string
	err := s.db.QueryRowContext(ctx, q, wigos).Scan(&st.WIGOS, &st.Name, &st.Lon, &st.Lat, &st.Alt, &st.FacilityType, &ids)
	if err != nil {
		if err == sql.ErrNoRows {
			return catalogue.Station{}, catalogue.ErrNotFound
		}
		return catalogue.Station{}, fmt.Errorf("sqlite: get station: %w", err)
	}
	st.DatasetIDs = splitIDs(ids)
	return st, nil
}

// GetDatasetByID implements catalogue.Store.
func (s *Store) GetDatasetByID(ctx context.Context, datasetID string) (catalogue.Dataset, error) {
	const q = `
SELECT id, node_id, topic, status, title, data_policy, topic_hierarchy, self_link, canonical_link, collection_link
FROM dataset WHERE id = ?`
	d, err := scanDataset(s.db.QueryRowContext(ctx, q, datasetID))
	if err != nil {
		if err == sql.ErrNoRows {
			return catalogue.Dataset{}, catalogue.ErrNotFound
		}
		return catalogue.Dataset{}, fmt.Errorf("sqlite: get dataset: %w", err)
	}
	return d, nil
}

// UpsertDatasets implements catalogue.Store, tombstoning any dataset owned
// by nodeID that is absent from the new set.
func (s *Store) UpsertDatasets(ctx context.Context, nodeID string, datasets []catalogue.Dataset) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	defer tx.Rollback()

	const upsert = `
INSERT INTO dataset (id, node_id, topic, status, title, data_policy, topic_hierarchy, self_link, canonical_link, collection_link, metadata_created, metadata_updated)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  node_id=excluded.node_id, topic=excluded.topic, status=excluded.status, title=excluded.title,
  data_policy=excluded.data_policy, topic_hierarchy=excluded.topic_hierarchy, self_link=excluded.self_link,
  canonical_link=excluded.canonical_link, collection_link=excluded.collection_link,
  metadata_updated=excluded.metadata_updated`

	ids := make([]string, 0, len(datasets))
	for _, d := range datasets {
		ids = append(ids, d.ID)
		if _, err := tx.ExecContext(ctx, upsert, d.ID, nodeID, d.Topic, string(d.Status), d.Title,
			d.DataPolicy, d.TopicHierarchy, d.SelfLink, d.CanonicalLink, d.CollectionLink,
			d.MetadataCreated, d.MetadataUpdated); err != nil {
			return fmt.Errorf("sqlite: upsert dataset %s: %w", d.ID, err)
		}
	}

	rows, err := tx.QueryContext(ctx, `SELECT id FROM dataset WHERE node_id = ? AND status <> 'deleted'`, nodeID)
	if err != nil {
		return fmt.Errorf("sqlite: list datasets: %w", err)
	}
	kept := make(map[string]bool, len(ids))
	for _, id := range ids {
		kept[id] = true
	}
	var stale []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		if !kept[id] {
			stale = append(stale, id)
		}
	}
	rows.Close()
	for _, id := range stale {
		if _, err := tx.ExecContext(ctx, `UPDATE dataset SET status = 'deleted' WHERE id = ?`, id); err != nil {
			return fmt.Errorf("sqlite: tombstone dataset %s: %w", id, err)
		}
	}
	return tx.Commit()
}

// UpsertStations implements catalogue.Store.
func (s *Store) UpsertStations(ctx context.Context, stations []catalogue.Station) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	defer tx.Rollback()

	const q = `
INSERT INTO station (wigos_id, name, lon, lat, alt, facility_type, dataset_ids)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(wigos_id) DO UPDATE SET
  name=excluded.name, lon=excluded.lon, lat=excluded.lat, alt=excluded.alt,
  facility_type=excluded.facility_type, dataset_ids=excluded.dataset_ids`
	for _, st := range stations {
		if _, err := tx.ExecContext(ctx, q, st.WIGOS, st.Name, st.Lon, st.Lat, st.Alt, st.FacilityType,
			joinIDs(st.DatasetIDs)); err != nil {
			return fmt.Errorf("sqlite: upsert station %s: %w", st.WIGOS, err)
		}
	}
	return tx.Commit()
}

// RecordSyncRun persists a sync audit row. Mirrors postgres.Store's method
// of the same name so internal/sync can depend on a narrow interface
// satisfied by either backend.
func (s *Store) RecordSyncRun(ctx context.Context, nodeID, kind string, startedAt, finishedAt time.Time, found, created, updated, deleted int, syncErr string) error {
	const q = `
INSERT INTO sync_log (node_id, kind, started_at, finished_at, found, created, updated, deleted, error)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, q, nodeID, kind, startedAt.UTC().Format(time.RFC3339Nano),
		finishedAt.UTC().Format(time.RFC3339Nano), found, created, updated, deleted, syncErr)
	if err != nil {
		return fmt.Errorf("sqlite: record sync run: %w", err)
	}
	return nil
}

const idSep = "\x1f"

func joinIDs(ids []string) string { return strings.Join(ids, idSep) }

func splitIDs(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, idSep)
}
