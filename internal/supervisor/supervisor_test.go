package supervisor

import (
	"context"
	"testing"
	"time"

	"github.com/wmo-raf/wis2watch/internal/batch"
	"github.com/wmo-raf/wis2watch/internal/catalogue"
	"github.com/wmo-raf/wis2watch/internal/client"
	"github.com/wmo-raf/wis2watch/internal/lock"
	"github.com/wmo-raf/wis2watch/internal/state"
)

type fakeCatalogue struct {
	nodes map[string]catalogue.Node
}

func (f *fakeCatalogue) ActiveNodes(context.Context) ([]catalogue.Node, error) { return nil, nil }
func (f *fakeCatalogue) GetNode(_ context.Context, id string) (catalogue.Node, error) {
	n, ok := f.nodes[id]
	if !ok {
		return catalogue.Node{}, catalogue.ErrNotFound
	}
	return n, nil
}
func (f *fakeCatalogue) GetStationByWIGOS(context.Context, string) (catalogue.Station, error) {
	return catalogue.Station{}, catalogue.ErrNotFound
}
func (f *fakeCatalogue) GetDatasetByID(context.Context, string) (catalogue.Dataset, error) {
	return catalogue.Dataset{}, catalogue.ErrNotFound
}
func (f *fakeCatalogue) UpsertDatasets(context.Context, string, []catalogue.Dataset) error { return nil }
func (f *fakeCatalogue) UpsertStations(context.Context, []catalogue.Station) error          { return nil }

type noopFlusher struct{}

func (noopFlusher) ProcessBatch(context.Context, []client.Record) error { return nil }

type noopBus struct{}

func (noopBus) EmitSnapshot(client.Snapshot)                       {}
func (noopBus) EmitMessage(nodeID, topic string, payload []byte)   {}

var _ batch.Flusher = noopFlusher{}
var _ client.StatusBus = noopBus{}

func newTestSupervisor(nodes map[string]catalogue.Node) *Supervisor {
	cat := &fakeCatalogue{nodes: nodes}
	locker := lock.New(state.NewMemoryStore(), "instance-a", time.Minute, lock.BreakOnTTLExpiredOnly)
	return New(cat, locker, noopBus{}, noopFlusher{}, nil, client.Config{})
}

func TestSupervisor_StartRejectsIneligibleNode(t *testing.T) {
	s := newTestSupervisor(map[string]catalogue.Node{
		"node-1": {ID: "node-1", Host: ""},
	})
	ok, err := s.Start(context.Background(), "node-1")
	if err == nil || ok {
		t.Fatalf("expected failure starting a hostless node: ok=%v err=%v", ok, err)
	}
}

func TestSupervisor_StartAndStopTracksRunningSet(t *testing.T) {
	s := newTestSupervisor(map[string]catalogue.Node{
		"node-1": {ID: "node-1", Host: "127.0.0.1", Port: 1},
	})
	ctx := context.Background()
	ok, err := s.Start(ctx, "node-1")
	if err != nil || !ok {
		t.Fatalf("start: ok=%v err=%v", ok, err)
	}
	if running := s.Running(); len(running) != 1 || running[0] != "node-1" {
		t.Fatalf("running = %v, want [node-1]", running)
	}
	if err := s.Stop(ctx, "node-1"); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if running := s.Running(); len(running) != 0 {
		t.Fatalf("running after stop = %v, want empty", running)
	}
}

func TestSupervisor_LockExclusion(t *testing.T) {
	cat := &fakeCatalogue{nodes: map[string]catalogue.Node{
		"node-1": {ID: "node-1", Host: "127.0.0.1", Port: 1},
	}}
	store := state.NewMemoryStore()
	lockerA := lock.New(store, "instance-a", time.Hour, lock.BreakOnTTLExpiredOnly)
	lockerB := lock.New(store, "instance-b", time.Hour, lock.BreakOnTTLExpiredOnly)

	supA := New(cat, lockerA, noopBus{}, noopFlusher{}, nil, client.Config{})
	supB := New(cat, lockerB, noopBus{}, noopFlusher{}, nil, client.Config{})

	ctx := context.Background()
	ok, err := supA.Start(ctx, "node-1")
	if err != nil || !ok {
		t.Fatalf("instance A start: ok=%v err=%v", ok, err)
	}
	ok, err = supB.Start(ctx, "node-1")
	if err != nil {
		t.Fatalf("instance B start: %v", err)
	}
	if ok {
		t.Fatal("instance B must not start a node already owned and refreshed by instance A")
	}
}

func TestSupervisor_HealthReportIsSortedByNodeID(t *testing.T) {
	s := newTestSupervisor(map[string]catalogue.Node{
		"node-b": {ID: "node-b", Host: "127.0.0.1", Port: 1},
		"node-a": {ID: "node-a", Host: "127.0.0.1", Port: 1},
	})
	ctx := context.Background()
	if _, err := s.Start(ctx, "node-b"); err != nil {
		t.Fatalf("start node-b: %v", err)
	}
	if _, err := s.Start(ctx, "node-a"); err != nil {
		t.Fatalf("start node-a: %v", err)
	}
	report := s.GetHealthReport()
	if len(report) != 2 || report[0].NodeID != "node-a" || report[1].NodeID != "node-b" {
		t.Fatalf("report = %+v, want sorted [node-a, node-b]", report)
	}
}
