// Package sync implements the catalogue synchroniser: it fetches node
// discovery metadata and station GeoJSON over HTTP and reconciles them
// into internal/catalogue's Store. Invoked as a recovery step when the
// Message Processor sees an unknown station; the Control Loop schedules
// no periodic sync job. Tombstoning is asymmetric: absent datasets are deleted,
// absent stations are left untouched, since stations are shared across
// nodes.
package sync

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/wmo-raf/wis2watch/internal/catalogue"
	"github.com/wmo-raf/wis2watch/internal/metrics"
)

// Logger is the narrow logging surface this package depends on.
type Logger interface {
	Infow(msg string, kv ...any)
	Warnw(msg string, kv ...any)
	Errorw(msg string, kv ...any)
}

// AuditLog records a sync run for operational visibility.
type AuditLog interface {
	RecordSyncRun(ctx context.Context, nodeID, kind string, startedAt, finishedAt time.Time, found, created, updated, deleted int, syncErr string) error
}

// Synchroniser fetches and reconciles one node's catalogue entries.
type Synchroniser struct {
	store    catalogue.Store
	audit    AuditLog
	log      Logger
	client   *http.Client
	noVerify *http.Client
}

// New builds a Synchroniser. audit may be nil to skip sync-run
// bookkeeping.
func New(store catalogue.Store, audit AuditLog, log Logger) *Synchroniser {
	const timeout = 30 * time.Second
	return &Synchroniser{
		store:  store,
		audit:  audit,
		log:    log,
		client: &http.Client{Timeout: timeout},
		noVerify: &http.Client{
			Timeout:   timeout,
			Transport: &http.Transport{TLSClientConfig: &tls.Config{InsecureSkipVerify: true}},
		},
	}
}

// httpClientFor picks the sync client for node: the verifying client by
// default, or the non-verifying one when the node has opted out of
// certificate checks on its discovery/stations feeds via VerifySSL. This
// is independent of node.TLS.InsecureSkipVerify, which governs the MQTT
// broker connection, not the HTTP catalogue fetch.
func (s *Synchroniser) httpClientFor(node catalogue.Node) *http.Client {
	if node.VerifySSL {
		return s.client
	}
	return s.noVerify
}

// featureCollection is the minimal GeoJSON shape both endpoints share.
type featureCollection struct {
	Features []feature `json:"features"`
}

type feature struct {
	ID         string `json:"id"`
	Properties struct {
		Title          string `json:"title"`
		DataPolicy     string `json:"wmo:dataPolicy"`
		TopicHierarchy string `json:"wmo:topicHierarchy"`
		Created        string `json:"created"`
		Updated        string `json:"updated"`
		Name           string `json:"name"`
		FacilityType   string `json:"facility_type"`
		Topics         []string `json:"topics"`
	} `json:"properties"`
	Geometry struct {
		Coordinates []float64 `json:"coordinates"`
	} `json:"geometry"`
	Links []struct {
		Rel  string `json:"rel"`
		Href string `json:"href"`
	} `json:"links"`
}

func (f feature) link(rel string) string {
	for _, l := range f.Links {
		if l.Rel == rel {
			return l.Href
		}
	}
	return ""
}

// SyncNode implements processor.Resyncer: fetch and reconcile both the
// discovery metadata and stations feeds for nodeID.
func (s *Synchroniser) SyncNode(ctx context.Context, nodeID string) error {
	node, err := s.store.GetNode(ctx, nodeID)
	if err != nil {
		return fmt.Errorf("sync: get node %s: %w", nodeID, err)
	}
	if err := s.syncDatasets(ctx, node); err != nil {
		return err
	}
	return s.syncStations(ctx, node)
}

func (s *Synchroniser) syncDatasets(ctx context.Context, node catalogue.Node) error {
	started := time.Now()
	fc, err := s.fetch(ctx, s.httpClientFor(node), node.DiscoveryMetadataURL)
	found, created, updated := 0, 0, 0
	if err == nil {
		existing := make(map[string]catalogue.Dataset, len(node.Datasets))
		for _, d := range node.Datasets {
			existing[d.ID] = d
		}
		datasets := make([]catalogue.Dataset, 0, len(fc.Features))
		for _, f := range fc.Features {
			found++
			if _, ok := existing[f.ID]; ok {
				updated++
			} else {
				created++
			}
			datasets = append(datasets, catalogue.Dataset{
				ID:              f.ID,
				NodeID:          node.ID,
				Status:          catalogue.DatasetActive,
				Title:           f.Properties.Title,
				DataPolicy:      f.Properties.DataPolicy,
				TopicHierarchy:  f.Properties.TopicHierarchy,
				SelfLink:        f.link("self"),
				CanonicalLink:   f.link("canonical"),
				CollectionLink:  f.link("collection"),
				MetadataCreated: f.Properties.Created,
				MetadataUpdated: f.Properties.Updated,
			})
		}
		err = s.store.UpsertDatasets(ctx, node.ID, datasets)
	}
	deleted := len(node.Datasets) - updated
	if deleted < 0 {
		deleted = 0
	}
	s.record(ctx, node.ID, "datasets", started, found, created, updated, deleted, err)
	if err != nil {
		return fmt.Errorf("sync: datasets for node %s: %w", node.ID, err)
	}
	return nil
}

func (s *Synchroniser) syncStations(ctx context.Context, node catalogue.Node) error {
	started := time.Now()
	fc, err := s.fetch(ctx, s.httpClientFor(node), node.StationsURL)
	found, created := 0, 0
	if err == nil {
		stations := make([]catalogue.Station, 0, len(fc.Features))
		for _, f := range fc.Features {
			found++
			created++
			var lon, lat, alt float64
			if c := f.Geometry.Coordinates; len(c) >= 2 {
				lon, lat = c[0], c[1]
				if len(c) >= 3 {
					alt = c[2]
				}
			}
			stations = append(stations, catalogue.Station{
				WIGOS:        f.ID,
				Name:         f.Properties.Name,
				Lon:          lon,
				Lat:          lat,
				Alt:          alt,
				FacilityType: f.Properties.FacilityType,
				DatasetIDs:   f.Properties.Topics,
			})
		}
		err = s.store.UpsertStations(ctx, stations)
	}
	// Stations are never deleted by a sync: no tombstoning pass here,
	// unlike syncDatasets.
	s.record(ctx, node.ID, "stations", started, found, created, 0, 0, err)
	if err != nil {
		return fmt.Errorf("sync: stations for node %s: %w", node.ID, err)
	}
	return nil
}

func (s *Synchroniser) fetch(ctx context.Context, httpClient *http.Client, url string) (featureCollection, error) {
	if url == "" {
		return featureCollection{}, fmt.Errorf("sync: empty url")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return featureCollection{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return featureCollection{}, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return featureCollection{}, fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return featureCollection{}, fmt.Errorf("read %s: %w", url, err)
	}
	var fc featureCollection
	if err := json.Unmarshal(body, &fc); err != nil {
		return featureCollection{}, fmt.Errorf("decode %s: %w", url, err)
	}
	return fc, nil
}

func (s *Synchroniser) record(ctx context.Context, nodeID, kind string, started time.Time, found, created, updated, deleted int, err error) {
	metrics.SyncRunDuration.WithLabelValues(nodeID, kind).Observe(time.Since(started).Seconds())
	if err != nil {
		metrics.SyncRunErrors.WithLabelValues(nodeID, kind).Inc()
	}
	if s.audit == nil {
		return
	}
	errText := ""
	if err != nil {
		errText = err.Error()
	}
	if rerr := s.audit.RecordSyncRun(ctx, nodeID, kind, started, time.Now(), found, created, updated, deleted, errText); rerr != nil && s.log != nil {
		s.log.Warnw("failed to record sync run", "node_id", nodeID, "kind", kind, "error", rerr)
	}
}
