package control

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wmo-raf/wis2watch/internal/catalogue"
)

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

type fakeLocks struct {
	mu    sync.Mutex
	held  map[string]bool
}

func (f *fakeLocks) HasLock(_ context.Context, nodeID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.held[nodeID], nil
}

type fakeSupervisor struct {
	started       []string
	mu            sync.Mutex
	refreshCalls  int32
	cleanupCalls  int32
}

func (f *fakeSupervisor) Start(_ context.Context, nodeID string) (bool, error) {
	f.mu.Lock()
	f.started = append(f.started, nodeID)
	f.mu.Unlock()
	return true, nil
}
func (f *fakeSupervisor) RefreshAllLocks(context.Context) { atomic.AddInt32(&f.refreshCalls, 1) }
func (f *fakeSupervisor) CleanupStale(context.Context)    { atomic.AddInt32(&f.cleanupCalls, 1) }
func (f *fakeSupervisor) GetHealthReport() []HealthReport {
	return []HealthReport{{NodeID: "node-1", Healthy: true}}
}

func TestLoop_MonitorAllActiveStartsUnlockedEligibleNodes(t *testing.T) {
	cat := &fakeCatalogue{nodes: []catalogue.Node{
		{ID: "node-1", Host: "127.0.0.1", Active: true},
		{ID: "node-2", Host: "", Active: true},  // ineligible: no host
		{ID: "node-3", Host: "127.0.0.1", Active: true},
	}}
	locks := &fakeLocks{held: map[string]bool{"node-3": true}}
	sup := &fakeSupervisor{}

	l := New(cat, sup, locks, nil, Periods{})
	l.monitorAllActive(context.Background())

	if len(sup.started) != 1 || sup.started[0] != "node-1" {
		t.Fatalf("started = %v, want [node-1]", sup.started)
	}
}

func TestLoop_StartAndStopRunsJobsOnIndependentTickers(t *testing.T) {
	cat := &fakeCatalogue{}
	locks := &fakeLocks{held: map[string]bool{}}
	sup := &fakeSupervisor{}

	l := New(cat, sup, locks, nil, Periods{
		MonitorAllActive: 5 * time.Millisecond,
		RefreshLocks:     5 * time.Millisecond,
		CleanupStale:     5 * time.Millisecond,
		HealthCheck:      5 * time.Millisecond,
	})
	ctx, cancel := context.WithCancel(context.Background())
	l.Start(ctx)
	time.Sleep(30 * time.Millisecond)
	cancel()
	l.Stop()

	if atomic.LoadInt32(&sup.refreshCalls) == 0 {
		t.Fatal("expected refresh_locks to have fired at least once")
	}
	if atomic.LoadInt32(&sup.cleanupCalls) == 0 {
		t.Fatal("expected cleanup_stale to have fired at least once")
	}
}

func TestLoop_StartRunsAllJobsImmediatelyBeforeFirstTick(t *testing.T) {
	cat := &fakeCatalogue{nodes: []catalogue.Node{{ID: "node-1", Host: "127.0.0.1", Active: true}}}
	locks := &fakeLocks{held: map[string]bool{}}
	sup := &fakeSupervisor{}

	l := New(cat, sup, locks, nil, Periods{
		MonitorAllActive: time.Hour,
		RefreshLocks:     time.Hour,
		CleanupStale:     time.Hour,
		HealthCheck:      time.Hour,
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	l.Start(ctx)
	defer l.Stop()

	if len(sup.started) != 1 || sup.started[0] != "node-1" {
		t.Fatalf("started = %v, want [node-1] run synchronously before any ticker period elapses", sup.started)
	}
	if atomic.LoadInt32(&sup.refreshCalls) != 1 {
		t.Fatalf("refresh calls = %d, want 1 from the immediate run", sup.refreshCalls)
	}
	if atomic.LoadInt32(&sup.cleanupCalls) != 1 {
		t.Fatalf("cleanup calls = %d, want 1 from the immediate run", sup.cleanupCalls)
	}
}

func TestLoop_StopIsIdempotent(t *testing.T) {
	l := New(&fakeCatalogue{}, &fakeSupervisor{}, &fakeLocks{held: map[string]bool{}}, nil, Periods{})
	ctx, cancel := context.WithCancel(context.Background())
	l.Start(ctx)
	l.Stop()
	l.Stop()
	cancel()
}
