package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wmo-raf/wis2watch/internal/catalogue"
	"github.com/wmo-raf/wis2watch/internal/client"
)

type fakeSupervisor struct {
	started  map[string]bool
	stopped  map[string]bool
	startErr error
	owned    bool
	reports  []HealthReport
	running  []string
}

func (f *fakeSupervisor) Start(_ context.Context, nodeID string) (bool, error) {
	if f.startErr != nil {
		return false, f.startErr
	}
	if f.started == nil {
		f.started = map[string]bool{}
	}
	f.started[nodeID] = true
	return f.owned, nil
}

func (f *fakeSupervisor) Stop(_ context.Context, nodeID string) error {
	if f.stopped == nil {
		f.stopped = map[string]bool{}
	}
	f.stopped[nodeID] = true
	return nil
}

func (f *fakeSupervisor) Restart(ctx context.Context, nodeID string) (bool, error) {
	return f.Start(ctx, nodeID)
}

func (f *fakeSupervisor) GetHealthReport() []HealthReport { return f.reports }
func (f *fakeSupervisor) Running() []string               { return f.running }

type fakeCatalogue struct {
	nodes []catalogue.Node
}

func (f *fakeCatalogue) ActiveNodes(context.Context) ([]catalogue.Node, error) { return f.nodes, nil }
func (f *fakeCatalogue) GetNode(context.Context, string) (catalogue.Node, error) {
	return catalogue.Node{}, catalogue.ErrNotFound
}
func (f *fakeCatalogue) GetStationByWIGOS(context.Context, string) (catalogue.Station, error) {
	return catalogue.Station{}, catalogue.ErrNotFound
}
func (f *fakeCatalogue) GetDatasetByID(context.Context, string) (catalogue.Dataset, error) {
	return catalogue.Dataset{}, catalogue.ErrNotFound
}
func (f *fakeCatalogue) UpsertDatasets(context.Context, string, []catalogue.Dataset) error {
	return nil
}
func (f *fakeCatalogue) UpsertStations(context.Context, []catalogue.Station) error { return nil }

func TestHandleStartSuccess(t *testing.T) {
	sup := &fakeSupervisor{owned: true}
	srv := New(sup, &fakeCatalogue{}, nil, nil, "")

	req := httptest.NewRequest(http.MethodPost, "/nodes/node-1/start", nil)
	w := httptest.NewRecorder()
	srv.Routes().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.True(t, sup.started["node-1"])
}

func TestHandleStartConflictWhenNotOwned(t *testing.T) {
	sup := &fakeSupervisor{owned: false}
	srv := New(sup, &fakeCatalogue{}, nil, nil, "")

	req := httptest.NewRequest(http.MethodPost, "/nodes/node-1/start", nil)
	w := httptest.NewRecorder()
	srv.Routes().ServeHTTP(w, req)

	require.Equal(t, http.StatusConflict, w.Code)
}

func TestAuthMiddlewareRejectsWithoutToken(t *testing.T) {
	sup := &fakeSupervisor{owned: true}
	srv := New(sup, &fakeCatalogue{}, nil, nil, "secret")

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	w := httptest.NewRecorder()
	srv.Routes().ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set("Authorization", "Bearer secret")
	w = httptest.NewRecorder()
	srv.Routes().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestHandleStartAllSkipsIneligibleNodes(t *testing.T) {
	sup := &fakeSupervisor{owned: true}
	cat := &fakeCatalogue{nodes: []catalogue.Node{
		{ID: "n1", Host: "broker1"},
		{ID: "n2", Host: ""}, // ineligible
	}}
	srv := New(sup, cat, nil, nil, "")

	req := httptest.NewRequest(http.MethodPost, "/nodes/start-all", nil)
	w := httptest.NewRecorder()
	srv.Routes().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.True(t, sup.started["n1"])
	require.False(t, sup.started["n2"])
}

func TestHandleStopAllStopsEveryRunningNode(t *testing.T) {
	sup := &fakeSupervisor{running: []string{"n1", "n2"}}
	srv := New(sup, &fakeCatalogue{}, nil, nil, "")

	req := httptest.NewRequest(http.MethodPost, "/nodes/stop-all", nil)
	w := httptest.NewRecorder()
	srv.Routes().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.True(t, sup.stopped["n1"])
	require.True(t, sup.stopped["n2"])
}

func TestHandleStatusReturnsHealthReports(t *testing.T) {
	sup := &fakeSupervisor{reports: []HealthReport{
		{NodeID: "n1", State: client.Connected, Healthy: true},
	}}
	srv := New(sup, &fakeCatalogue{}, nil, nil, "")

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	w := httptest.NewRecorder()
	srv.Routes().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var entries []statusEntry
	require.NoError(t, json.NewDecoder(w.Body).Decode(&entries))
	require.Len(t, entries, 1)
	require.Equal(t, "n1", entries[0].NodeID)
	require.True(t, entries[0].Healthy)
}

func TestHandleNodeStatusNotFound(t *testing.T) {
	sup := &fakeSupervisor{}
	srv := New(sup, &fakeCatalogue{}, nil, nil, "")

	req := httptest.NewRequest(http.MethodGet, "/nodes/missing/status", nil)
	w := httptest.NewRecorder()
	srv.Routes().ServeHTTP(w, req)
	require.Equal(t, http.StatusNotFound, w.Code)
}
