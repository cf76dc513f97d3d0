// Package supervisor implements the Fleet Supervisor: a thread-safe
// map of node-id to running NodeClient, gated by per-node ownership
// locks, exposing start_node, stop_node, restart_node,
// refresh_all_locks, cleanup_stale_locks, and get_health_report as one
// run replacing at most one live resource under a lease.
package supervisor

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/wmo-raf/wis2watch/internal/batch"
	"github.com/wmo-raf/wis2watch/internal/catalogue"
	"github.com/wmo-raf/wis2watch/internal/client"
	"github.com/wmo-raf/wis2watch/internal/lock"
)

// Logger is the narrow logging surface this package depends on.
type Logger interface {
	Infow(msg string, kv ...any)
	Warnw(msg string, kv ...any)
	Errorw(msg string, kv ...any)
}

type entry struct {
	client *client.NodeClient
	buffer *batch.Buffer
}

// Supervisor owns every running NodeClient in this process.
type Supervisor struct {
	cat     catalogue.Store
	locker  *lock.Locker
	bus     client.StatusBus
	flusher batch.Flusher
	log     Logger
	cfg     client.Config

	mu      sync.Mutex
	clients map[string]*entry
}

// New builds a Supervisor. flusher is internal/processor.Processor,
// cfg supplies the client throttling/health parameters applied to every
// node it starts.
func New(cat catalogue.Store, locker *lock.Locker, bus client.StatusBus, flusher batch.Flusher, log Logger, cfg client.Config) *Supervisor {
	return &Supervisor{cat: cat, locker: locker, bus: bus, flusher: flusher, log: log, cfg: cfg, clients: make(map[string]*entry)}
}

// Start acquires the ownership lock, stops any existing client for the
// node, and instantiates and connects a fresh one. Returns false without
// error when ownership could not be obtained (another instance owns the
// node).
func (s *Supervisor) Start(ctx context.Context, nodeID string) (bool, error) {
	// Lock I/O happens outside the supervisor mutex.
	owned, err := s.locker.Acquire(ctx, nodeID)
	if err != nil {
		return false, fmt.Errorf("supervisor: acquire lock for %s: %w", nodeID, err)
	}
	if !owned {
		return false, nil
	}

	node, err := s.cat.GetNode(ctx, nodeID)
	if err != nil {
		_ = s.locker.Release(ctx, nodeID)
		return false, fmt.Errorf("supervisor: load node %s: %w", nodeID, err)
	}
	if !node.Eligible() {
		_ = s.locker.Release(ctx, nodeID)
		return false, fmt.Errorf("supervisor: node %s has no host configured", nodeID)
	}

	s.mu.Lock()
	existing := s.clients[nodeID]
	delete(s.clients, nodeID)
	s.mu.Unlock()
	if existing != nil {
		existing.buffer.Close(ctx)
		_ = existing.client.Stop(ctx)
	}

	buf := batch.New(nodeID, s.cfg.BatchSize, s.cfg.BatchAge, s.flusher, loggerAdapter{s.log})
	nc := client.New(node, s.cfg, buf, s.bus, loggerAdapter{s.log})
	if err := nc.Connect(); err != nil {
		buf.Close(ctx)
		_ = s.locker.Release(ctx, nodeID)
		return false, fmt.Errorf("supervisor: connect node %s: %w", nodeID, err)
	}

	s.mu.Lock()
	s.clients[nodeID] = &entry{client: nc, buffer: buf}
	s.mu.Unlock()
	return true, nil
}

// Stop tears down the node's client and releases its lock. Idempotent.
func (s *Supervisor) Stop(ctx context.Context, nodeID string) error {
	s.mu.Lock()
	e := s.clients[nodeID]
	delete(s.clients, nodeID)
	s.mu.Unlock()
	if e == nil {
		return nil
	}
	if err := e.client.Stop(ctx); err != nil {
		return fmt.Errorf("supervisor: stop node %s: %w", nodeID, err)
	}
	e.buffer.Close(ctx)
	return s.locker.Release(ctx, nodeID)
}

// Restart stops then starts the node.
func (s *Supervisor) Restart(ctx context.Context, nodeID string) (bool, error) {
	if err := s.Stop(ctx, nodeID); err != nil {
		return false, err
	}
	return s.Start(ctx, nodeID)
}

// HealthReport is one node's entry in GetHealthReport's snapshot.
type HealthReport struct {
	NodeID  string
	State   client.State
	Healthy bool
}

// GetHealthReport snapshots every owned client's state and is_healthy()
// verdict. The node-id set is copied out before the per-client state is
// read, so no client mutex is ever held while the supervisor mutex is
// held.
func (s *Supervisor) GetHealthReport() []HealthReport {
	clients := s.snapshotClients()
	report := make([]HealthReport, 0, len(clients))
	for nodeID, nc := range clients {
		report = append(report, HealthReport{NodeID: nodeID, State: nc.State(), Healthy: nc.IsHealthy()})
	}
	sort.Slice(report, func(i, j int) bool { return report[i].NodeID < report[j].NodeID })
	return report
}

// RefreshAllLocks touches the TTL of every owned node's lock. Lock I/O
// runs outside the supervisor mutex.
func (s *Supervisor) RefreshAllLocks(ctx context.Context) {
	for nodeID := range s.snapshotClients() {
		if err := s.locker.Refresh(ctx, nodeID); err != nil {
			if s.log != nil {
				s.log.Warnw("lock refresh failed, node will be stopped on next cleanup", "node_id", nodeID, "error", err)
			}
		}
	}
}

// CleanupStale stops every running client that fails is_healthy() or
// whose lock this instance no longer owns; locks it still owns are
// released so a subsequent reconciliation can re-acquire.
func (s *Supervisor) CleanupStale(ctx context.Context) {
	for nodeID, nc := range s.snapshotClients() {
		owns, err := s.locker.Owns(ctx, nodeID)
		lockLost := err == nil && !owns
		if nc.IsHealthy() && !lockLost {
			continue
		}
		if s.log != nil {
			s.log.Infow("evicting stale client", "node_id", nodeID, "state", nc.State(), "lock_lost", lockLost)
		}
		if err := s.Stop(ctx, nodeID); err != nil && s.log != nil {
			s.log.Warnw("cleanup stop failed", "node_id", nodeID, "error", err)
		}
	}
}

// snapshotClients copies out the current node-id -> NodeClient set under
// the supervisor mutex: read snapshots copy out the key set before
// releasing.
func (s *Supervisor) snapshotClients() map[string]*client.NodeClient {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]*client.NodeClient, len(s.clients))
	for id, e := range s.clients {
		out[id] = e.client
	}
	return out
}

// Running reports the node ids with a live client in this process.
func (s *Supervisor) Running() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.clients))
	for id := range s.clients {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// loggerAdapter narrows supervisor.Logger down to client.Logger /
// batch's logging needs, both of which only use the Warnw/Errorw subset
// plus Debugw/Infow — satisfied here with Infow standing in for Debugw
// since this Logger interface carries no Debugw.
type loggerAdapter struct{ l Logger }

func (a loggerAdapter) Debugw(msg string, kv ...any) {
	if a.l != nil {
		a.l.Infow(msg, kv...)
	}
}
func (a loggerAdapter) Infow(msg string, kv ...any) {
	if a.l != nil {
		a.l.Infow(msg, kv...)
	}
}
func (a loggerAdapter) Warnw(msg string, kv ...any) {
	if a.l != nil {
		a.l.Warnw(msg, kv...)
	}
}
func (a loggerAdapter) Errorw(msg string, kv ...any) {
	if a.l != nil {
		a.l.Errorw(msg, kv...)
	}
}
