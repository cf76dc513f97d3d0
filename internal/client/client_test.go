package client

import (
	"context"
	"testing"
	"time"

	"github.com/wmo-raf/wis2watch/internal/catalogue"
)

type fakeBatcher struct{ records []Record }

func (f *fakeBatcher) Add(rec Record) { f.records = append(f.records, rec) }

type fakeBus struct {
	snapshots []Snapshot
	messages  int
}

func (f *fakeBus) EmitSnapshot(snap Snapshot)                     { f.snapshots = append(f.snapshots, snap) }
func (f *fakeBus) EmitMessage(nodeID, topic string, payload []byte) { f.messages++ }

func testNode() catalogue.Node {
	return catalogue.Node{
		ID:   "node-1",
		Host: "broker.example.test",
		Port: 1883,
		Datasets: []catalogue.Dataset{
			{ID: "urn:x-wmo:md:test::one", NodeID: "node-1", Topic: "origin/a/#", Status: catalogue.DatasetActive},
		},
	}
}

func TestNodeClient_InitialState(t *testing.T) {
	c := New(testNode(), Config{}, &fakeBatcher{}, &fakeBus{}, nil)
	if c.State() != Disconnected {
		t.Fatalf("initial state = %s, want %s", c.State(), Disconnected)
	}
	if c.IsHealthy() {
		t.Fatal("a never-connected client must not be healthy")
	}
}

func TestNodeClient_StopIsIdempotent(t *testing.T) {
	c := New(testNode(), Config{}, &fakeBatcher{}, &fakeBus{}, nil)
	ctx := context.Background()
	if err := c.Stop(ctx); err != nil {
		t.Fatalf("stop on a never-connected client: %v", err)
	}
	if err := c.Stop(ctx); err != nil {
		t.Fatalf("second stop: %v", err)
	}
	if c.State() != Disconnected {
		t.Fatalf("state after stop = %s, want %s", c.State(), Disconnected)
	}
}

func TestNodeClient_HealthPredicate(t *testing.T) {
	c := New(testNode(), Config{HealthMaxSilence: 10 * time.Minute, HealthConnecting: 2 * time.Minute}, &fakeBatcher{}, &fakeBus{}, nil)

	c.mu.Lock()
	c.state = Connected
	c.mu.Unlock()
	if !c.IsHealthy() {
		t.Fatal("connected client with no messages yet must be healthy")
	}

	c.mu.Lock()
	c.messagesTotal = 5
	c.lastMessageAt = time.Now().Add(-20 * time.Minute)
	c.mu.Unlock()
	if c.IsHealthy() {
		t.Fatal("client silent for 20 minutes must be unhealthy")
	}

	c.mu.Lock()
	c.lastMessageAt = time.Now()
	c.state = Connecting
	c.stateEnteredAt = time.Now().Add(-5 * time.Minute)
	c.mu.Unlock()
	if c.IsHealthy() {
		t.Fatal("client stuck connecting for 5 minutes must be unhealthy")
	}
}
