// Package control implements the Control Loop: four independently
// scheduled reconciliation jobs, each on its own ticker with its own
// period.
package control

import (
	"context"
	"sync"
	"time"

	"github.com/wmo-raf/wis2watch/internal/catalogue"
)

// Logger is the narrow logging surface this package depends on.
type Logger interface {
	Infow(msg string, kv ...any)
	Warnw(msg string, kv ...any)
}

// Supervisor is the slice of internal/supervisor.Supervisor the control
// loop drives.
type Supervisor interface {
	Start(ctx context.Context, nodeID string) (bool, error)
	RefreshAllLocks(ctx context.Context)
	CleanupStale(ctx context.Context)
	GetHealthReport() []HealthReport
}

// HealthReport mirrors supervisor.HealthReport's shape without importing
// the package, avoiding an import cycle risk as the control package
// grows.
type HealthReport struct {
	NodeID  string
	Healthy bool
}

// Locks reports whether a node's ownership lock is currently held by
// anyone (used by monitor_all_active to decide whether start(node_id)
// is worth attempting).
type Locks interface {
	// HasLock reports whether nodeID's lock key is currently present.
	HasLock(ctx context.Context, nodeID string) (bool, error)
}

// Periods holds the four job intervals; zero fields fall back to
// package defaults.
type Periods struct {
	MonitorAllActive time.Duration
	RefreshLocks     time.Duration
	CleanupStale     time.Duration
	HealthCheck      time.Duration
}

func (p *Periods) applyDefaults() {
	if p.MonitorAllActive <= 0 {
		p.MonitorAllActive = 5 * time.Minute
	}
	if p.RefreshLocks <= 0 {
		p.RefreshLocks = 4 * time.Minute
	}
	if p.CleanupStale <= 0 {
		p.CleanupStale = 10 * time.Minute
	}
	if p.HealthCheck <= 0 {
		p.HealthCheck = 5 * time.Minute
	}
}

// Loop runs the four control jobs on independent tickers until stopped.
type Loop struct {
	cat   catalogue.Store
	sup   Supervisor
	locks Locks
	log   Logger
	p     Periods

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New builds a Loop. Jobs do not start until Start is called.
func New(cat catalogue.Store, sup Supervisor, locks Locks, log Logger, periods Periods) *Loop {
	periods.applyDefaults()
	return &Loop{cat: cat, sup: sup, locks: locks, log: log, p: periods, stopCh: make(chan struct{})}
}

// Start runs all four jobs once immediately — so a restart never leaves
// the fleet unmonitored for a full ticker period, in particular
// monitor_all_active starting every eligible node whose lock no instance
// holds before Start returns — then launches each on its own ticker as an independent
// goroutine. Jobs are idempotent and safe to overlap; none blocks broker
// I/O.
func (l *Loop) Start(ctx context.Context) {
	l.monitorAllActive(ctx)
	l.sup.RefreshAllLocks(ctx)
	l.sup.CleanupStale(ctx)
	l.healthCheck(ctx)

	l.runEvery(ctx, l.p.MonitorAllActive, l.monitorAllActive)
	l.runEvery(ctx, l.p.RefreshLocks, func(ctx context.Context) { l.sup.RefreshAllLocks(ctx) })
	l.runEvery(ctx, l.p.CleanupStale, func(ctx context.Context) { l.sup.CleanupStale(ctx) })
	l.runEvery(ctx, l.p.HealthCheck, l.healthCheck)
}

// Stop halts all four jobs. Safe to call more than once.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
	l.wg.Wait()
}

func (l *Loop) runEvery(ctx context.Context, period time.Duration, job func(context.Context)) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				job(ctx)
			case <-ctx.Done():
				return
			case <-l.stopCh:
				return
			}
		}
	}()
}

// monitorAllActive starts every active, eligible node whose lock is
// absent. Never
// starts a node this instance does not end up owning, preserving fleet
// partitioning across supervisor instances.
func (l *Loop) monitorAllActive(ctx context.Context) {
	nodes, err := l.cat.ActiveNodes(ctx)
	if err != nil {
		if l.log != nil {
			l.log.Warnw("monitor_all_active: list active nodes failed", "error", err)
		}
		return
	}
	for _, n := range nodes {
		if !n.Eligible() {
			continue
		}
		held, err := l.locks.HasLock(ctx, n.ID)
		if err != nil {
			if l.log != nil {
				l.log.Warnw("monitor_all_active: lock check failed", "node_id", n.ID, "error", err)
			}
			continue
		}
		if held {
			continue
		}
		if _, err := l.sup.Start(ctx, n.ID); err != nil && l.log != nil {
			l.log.Warnw("monitor_all_active: start failed", "node_id", n.ID, "error", err)
		}
	}
}

func (l *Loop) healthCheck(_ context.Context) {
	if l.log == nil {
		return
	}
	for _, r := range l.sup.GetHealthReport() {
		l.log.Infow("health report", "node_id", r.NodeID, "healthy", r.Healthy)
	}
}
