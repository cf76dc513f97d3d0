package sync

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/wmo-raf/wis2watch/internal/catalogue"
)

type fakeStore struct {
	node             catalogue.Node
	upsertedDatasets []catalogue.Dataset
	upsertedStations []catalogue.Station
}

func (f *fakeStore) ActiveNodes(context.Context) ([]catalogue.Node, error) { return nil, nil }
func (f *fakeStore) GetNode(context.Context, string) (catalogue.Node, error) {
	return f.node, nil
}
func (f *fakeStore) GetStationByWIGOS(context.Context, string) (catalogue.Station, error) {
	return catalogue.Station{}, catalogue.ErrNotFound
}
func (f *fakeStore) GetDatasetByID(context.Context, string) (catalogue.Dataset, error) {
	return catalogue.Dataset{}, catalogue.ErrNotFound
}
func (f *fakeStore) UpsertDatasets(_ context.Context, _ string, datasets []catalogue.Dataset) error {
	f.upsertedDatasets = datasets
	return nil
}
func (f *fakeStore) UpsertStations(_ context.Context, stations []catalogue.Station) error {
	f.upsertedStations = stations
	return nil
}

type fakeAudit struct{ runs int }

func (a *fakeAudit) RecordSyncRun(_ context.Context, _, _ string, _, _ time.Time, _, _, _, _ int, _ string) error {
	a.runs++
	return nil
}

func TestSynchroniser_SyncNodeUpsertsDatasetsAndStations(t *testing.T) {
	datasetsSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"features":[{"id":"urn:x-wmo:md:test::a","properties":{"title":"A","wmo:dataPolicy":"core","wmo:topicHierarchy":"origin.a"},"links":[{"rel":"canonical","href":"https://example.test/a"}]}]}`))
	}))
	defer datasetsSrv.Close()

	stationsSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"features":[{"id":"0-20000-0-12345","properties":{"name":"Test Station","facility_type":"land","topics":["urn:x-wmo:md:test::a"]},"geometry":{"coordinates":[10.5,45.2,120]}}]}`))
	}))
	defer stationsSrv.Close()

	store := &fakeStore{node: catalogue.Node{
		ID:                   "node-1",
		DiscoveryMetadataURL: datasetsSrv.URL,
		StationsURL:          stationsSrv.URL,
	}}
	audit := &fakeAudit{}
	s := New(store, audit, nil)

	if err := s.SyncNode(context.Background(), "node-1"); err != nil {
		t.Fatalf("sync node: %v", err)
	}
	if len(store.upsertedDatasets) != 1 || store.upsertedDatasets[0].ID != "urn:x-wmo:md:test::a" {
		t.Fatalf("upserted datasets = %+v", store.upsertedDatasets)
	}
	if len(store.upsertedStations) != 1 || store.upsertedStations[0].WIGOS != "0-20000-0-12345" {
		t.Fatalf("upserted stations = %+v", store.upsertedStations)
	}
	if store.upsertedStations[0].Lat != 45.2 {
		t.Fatalf("station lat = %v, want 45.2", store.upsertedStations[0].Lat)
	}
	if audit.runs != 2 {
		t.Fatalf("audit runs = %d, want 2 (datasets + stations)", audit.runs)
	}
}

func TestSynchroniser_HTTPClientForHonorsVerifySSL(t *testing.T) {
	store := &fakeStore{}
	s := New(store, nil, nil)

	if got := s.httpClientFor(catalogue.Node{VerifySSL: true}); got != s.client {
		t.Fatalf("VerifySSL=true should use the verifying client, got %p want %p", got, s.client)
	}
	if got := s.httpClientFor(catalogue.Node{VerifySSL: false}); got != s.noVerify {
		t.Fatalf("VerifySSL=false should use the non-verifying client, got %p want %p", got, s.noVerify)
	}
}
