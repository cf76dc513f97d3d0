// Command wis2watchd is the MQTT fleet supervisor daemon: it wires
// config -> storage -> state store -> lock -> supervisor -> control loop
// -> control API and blocks on SIGINT/SIGTERM for graceful shutdown.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/wmo-raf/wis2watch/internal/api"
	"github.com/wmo-raf/wis2watch/internal/catalogue"
	"github.com/wmo-raf/wis2watch/internal/client"
	"github.com/wmo-raf/wis2watch/internal/config"
	"github.com/wmo-raf/wis2watch/internal/control"
	"github.com/wmo-raf/wis2watch/internal/lock"
	"github.com/wmo-raf/wis2watch/internal/logging"
	"github.com/wmo-raf/wis2watch/internal/observation"
	"github.com/wmo-raf/wis2watch/internal/processor"
	"github.com/wmo-raf/wis2watch/internal/state"
	"github.com/wmo-raf/wis2watch/internal/statusbus"
	"github.com/wmo-raf/wis2watch/internal/storage/postgres"
	"github.com/wmo-raf/wis2watch/internal/storage/sqlite"
	"github.com/wmo-raf/wis2watch/internal/supervisor"
	"github.com/wmo-raf/wis2watch/internal/sync"
	"github.com/wmo-raf/wis2watch/internal/tracing"
)

// storageAdapter bundles the catalogue.Store, observation.Store and
// sync.AuditLog methods the postgres and sqlite adapters both implement
// on a single concrete *Store, so the rest of main only juggles one
// value per backend.
type storageAdapter interface {
	catalogue.Store
	observation.Store
	sync.AuditLog
	Close() error
}

func main() {
	configPath := flag.String("config", "wis2watch.yaml", "path to the daemon configuration file")
	versionFlag := flag.Bool("version", false, "print the version and exit")
	flag.Parse()

	if *versionFlag {
		fmt.Println("wis2watchd (dev)")
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("wis2watchd: load config: %v", err)
	}

	logger := logging.New().WithLevel(cfg.Log.Level)
	logger.Infow("starting wis2watchd", "instance_id", cfg.InstanceID, "config", *configPath)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing)
	if err != nil {
		logger.Warnw("tracing init failed, continuing without spans", "error", err)
		shutdownTracing = func(context.Context) error { return nil }
	}

	store, err := openStorage(ctx, cfg.Storage)
	if err != nil {
		log.Fatalf("wis2watchd: open storage: %v", err)
	}
	defer store.Close()

	stateStore, err := state.New(state.Config{
		Type:     cfg.StateStore.Type,
		Address:  cfg.StateStore.Address,
		Password: cfg.StateStore.Password,
		DB:       cfg.StateStore.DB,
		Prefix:   cfg.StateStore.Prefix,
		Timeout:  cfg.StateStore.Timeout,
	})
	if err != nil {
		log.Fatalf("wis2watchd: open state store: %v", err)
	}
	defer stateStore.Close()

	publisher, err := openPublisher(cfg, stateStore)
	if err != nil {
		logger.Warnw("status bus fan-out transport unavailable, falling back to cache-only", "error", err)
	}

	bus := statusbus.New(stateStore, publisher, logger)

	ownerID := fmt.Sprintf("%s-%s", cfg.InstanceID, uuid.NewString()[:8])
	locker := lock.New(stateStore, ownerID, cfg.Lock.TTL, lock.BreakPolicy(cfg.Lock.Policy))

	syncer := sync.New(store, store, logger)
	proc := processor.New(store, store, syncer, logger)

	clientCfg := client.Config{
		BatchSize:        cfg.Client.BatchSize,
		BatchAge:         cfg.Client.BatchAge,
		WSInterval:       cfg.Client.WSInterval,
		StatusInterval:   cfg.Client.StatusInterval,
		HealthMaxSilence: cfg.Client.HealthMaxSilence,
		HealthConnecting: cfg.Client.HealthConnecting,
		KeepAlive:        cfg.Client.KeepAlive,
		MaxReconnect:     cfg.Client.MaxReconnect,
		RateRingCap:      cfg.Client.RateRingCap,
	}
	sup := supervisor.New(store, locker, bus, proc, logger, clientCfg)

	loop := control.New(store, controlSupervisor{sup}, locker, logger, control.Periods{
		MonitorAllActive: cfg.Control.MonitorAllActive,
		RefreshLocks:     cfg.Control.RefreshLocks,
		CleanupStale:     cfg.Control.CleanupStale,
		HealthCheck:      cfg.Control.HealthCheck,
	})
	loop.Start(ctx)
	defer loop.Stop()

	srv := api.New(apiSupervisor{sup}, store, bus, logger, cfg.API.APIKey)
	httpServer := &http.Server{Addr: cfg.API.Addr, Handler: srv.Routes()}
	go func() {
		logger.Infow("control API listening", "addr", cfg.API.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorw("control API failed", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Infow("shutting down", "reason", ctx.Err())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	_ = httpServer.Shutdown(shutdownCtx)
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warnw("tracing shutdown failed", "error", err)
	}

	for _, nodeID := range sup.Running() {
		if err := sup.Stop(shutdownCtx, nodeID); err != nil {
			logger.Warnw("shutdown: stop failed", "node_id", nodeID, "error", err)
		}
	}
	logger.Infow("wis2watchd stopped")
}

func openStorage(ctx context.Context, cfg config.StorageConfig) (storageAdapter, error) {
	switch cfg.Type {
	case "postgres":
		return postgres.New(ctx, cfg.DSN)
	case "sqlite", "":
		return sqlite.New(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported storage type %q", cfg.Type)
	}
}

func openPublisher(cfg *config.Config, st state.Store) (statusbus.Publisher, error) {
	switch cfg.StatusBus.Transport {
	case "redis":
		rs, ok := st.(*state.RedisStore)
		if !ok {
			return nil, fmt.Errorf("status_bus.transport=redis requires state_store.type=redis")
		}
		return statusbus.NewRedisPublisher(rs.Client()), nil
	case "nats":
		conn, err := nats.Connect(cfg.StatusBus.NatsURL)
		if err != nil {
			return nil, fmt.Errorf("connect nats: %w", err)
		}
		return statusbus.NewNatsPublisher(conn), nil
	case "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported status_bus.transport %q", cfg.StatusBus.Transport)
	}
}

// controlSupervisor narrows *supervisor.Supervisor to control.Supervisor:
// the two packages each declare their own HealthReport shape to avoid an
// import cycle, so GetHealthReport needs a converting wrapper even though
// Start/RefreshAllLocks/CleanupStale are identical and promoted untouched.
type controlSupervisor struct{ *supervisor.Supervisor }

func (c controlSupervisor) GetHealthReport() []control.HealthReport {
	reports := c.Supervisor.GetHealthReport()
	out := make([]control.HealthReport, len(reports))
	for i, r := range reports {
		out[i] = control.HealthReport{NodeID: r.NodeID, Healthy: r.Healthy}
	}
	return out
}

// apiSupervisor narrows *supervisor.Supervisor to api.Supervisor, the same
// HealthReport-shape adaptation as controlSupervisor but keeping State too
// since the status endpoint surfaces it.
type apiSupervisor struct{ *supervisor.Supervisor }

func (a apiSupervisor) GetHealthReport() []api.HealthReport {
	reports := a.Supervisor.GetHealthReport()
	out := make([]api.HealthReport, len(reports))
	for i, r := range reports {
		out[i] = api.HealthReport{NodeID: r.NodeID, State: r.State, Healthy: r.Healthy}
	}
	return out
}
