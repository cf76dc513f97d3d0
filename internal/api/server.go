// Package api implements the daemon's small operational control surface:
// start/stop/restart/status for a single node or the whole fleet, plus
// /metrics. Built on http.ServeMux with Go 1.22 method-pattern routing, a
// jsonError helper, and a bearer-token auth middleware wrapping the whole
// mux except /metrics.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wmo-raf/wis2watch/internal/catalogue"
	"github.com/wmo-raf/wis2watch/internal/client"
)

// Supervisor is the slice of internal/supervisor.Supervisor the control
// API drives.
type Supervisor interface {
	Start(ctx context.Context, nodeID string) (bool, error)
	Stop(ctx context.Context, nodeID string) error
	Restart(ctx context.Context, nodeID string) (bool, error)
	GetHealthReport() []HealthReport
	Running() []string
}

// HealthReport mirrors supervisor.HealthReport's shape without importing
// the package, the same narrowing pattern internal/control uses.
type HealthReport struct {
	NodeID  string
	State   client.State
	Healthy bool
}

// SnapshotReader looks up the cached status snapshot for a node, used to
// enrich the /status response beyond the coarse health verdict.
// internal/statusbus.Bus implements this.
type SnapshotReader interface {
	Snapshot(ctx context.Context, nodeID string) (client.Snapshot, bool, error)
}

// Logger is the narrow logging surface this package depends on.
type Logger interface {
	Infow(msg string, kv ...any)
	Warnw(msg string, kv ...any)
}

// Server is the daemon's control HTTP API.
type Server struct {
	sup    Supervisor
	cat    catalogue.Store
	bus    SnapshotReader
	log    Logger
	apiKey string
}

// New builds a Server. apiKey, when non-empty, is required as a bearer
// token on every request. bus may be nil, in which case /status reports
// only the coarse health verdict without the last cached snapshot.
func New(sup Supervisor, cat catalogue.Store, bus SnapshotReader, log Logger, apiKey string) *Server {
	return &Server{sup: sup, cat: cat, bus: bus, log: log, apiKey: apiKey}
}

// Routes builds the handler tree: the control routes wrapped in the
// bearer-auth middleware, plus an unauthenticated /metrics so scrapers
// don't need the operational API key.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /nodes/{id}/start", s.handleStart)
	mux.HandleFunc("POST /nodes/{id}/stop", s.handleStop)
	mux.HandleFunc("POST /nodes/{id}/restart", s.handleRestart)
	mux.HandleFunc("POST /nodes/start-all", s.handleStartAll)
	mux.HandleFunc("POST /nodes/stop-all", s.handleStopAll)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /nodes/{id}/status", s.handleNodeStatus)

	top := http.NewServeMux()
	top.Handle("/metrics", promhttp.Handler())
	top.Handle("/", s.authMiddleware(mux))
	return top
}

// authMiddleware requires "Authorization: Bearer <key>" when apiKey is
// configured; an empty apiKey disables auth entirely (local/dev mode).
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey == "" {
			next.ServeHTTP(w, r)
			return
		}
		got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if got == "" || got != s.apiKey {
			s.jsonError(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (s *Server) jsonOK(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	owned, err := s.sup.Start(r.Context(), id)
	if err != nil {
		s.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !owned {
		s.jsonError(w, "node is owned by another instance", http.StatusConflict)
		return
	}
	s.jsonOK(w, map[string]string{"node_id": id, "status": "started"})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.sup.Stop(r.Context(), id); err != nil {
		s.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.jsonOK(w, map[string]string{"node_id": id, "status": "stopped"})
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	owned, err := s.sup.Restart(r.Context(), id)
	if err != nil {
		s.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !owned {
		s.jsonError(w, "node is owned by another instance", http.StatusConflict)
		return
	}
	s.jsonOK(w, map[string]string{"node_id": id, "status": "restarted"})
}

func (s *Server) handleStartAll(w http.ResponseWriter, r *http.Request) {
	nodes, err := s.cat.ActiveNodes(r.Context())
	if err != nil {
		s.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	type result struct {
		NodeID string `json:"node_id"`
		Owned  bool   `json:"owned"`
		Error  string `json:"error,omitempty"`
	}
	results := make([]result, 0, len(nodes))
	for _, n := range nodes {
		if !n.Eligible() {
			continue
		}
		owned, err := s.sup.Start(r.Context(), n.ID)
		res := result{NodeID: n.ID, Owned: owned}
		if err != nil {
			res.Error = err.Error()
			if s.log != nil {
				s.log.Warnw("start-all: start failed", "node_id", n.ID, "error", err)
			}
		}
		results = append(results, res)
	}
	s.jsonOK(w, results)
}

func (s *Server) handleStopAll(w http.ResponseWriter, r *http.Request) {
	type result struct {
		NodeID string `json:"node_id"`
		Error  string `json:"error,omitempty"`
	}
	running := s.sup.Running()
	results := make([]result, 0, len(running))
	for _, id := range running {
		res := result{NodeID: id}
		if err := s.sup.Stop(r.Context(), id); err != nil {
			res.Error = err.Error()
			if s.log != nil {
				s.log.Warnw("stop-all: stop failed", "node_id", id, "error", err)
			}
		}
		results = append(results, res)
	}
	s.jsonOK(w, results)
}

// statusEntry is one node's entry in the /status and /nodes/{id}/status
// responses: the health verdict plus, when available, the last cached
// status snapshot from the status bus cache.
type statusEntry struct {
	NodeID          string    `json:"node_id"`
	State           string    `json:"state"`
	Healthy         bool      `json:"healthy"`
	MessagesTotal   int64     `json:"messages_total,omitempty"`
	MessagesPerMin  int       `json:"messages_per_min,omitempty"`
	LastMessageAt   time.Time `json:"last_message_at,omitempty"`
	LastError       string    `json:"last_error,omitempty"`
}

func (s *Server) entryFor(ctx context.Context, r HealthReport) statusEntry {
	entry := statusEntry{NodeID: r.NodeID, State: string(r.State), Healthy: r.Healthy}
	if s.bus == nil {
		return entry
	}
	snap, ok, err := s.bus.Snapshot(ctx, r.NodeID)
	if err != nil || !ok {
		return entry
	}
	entry.MessagesTotal = snap.MessagesTotal
	entry.MessagesPerMin = snap.MessagesPerMin
	entry.LastMessageAt = snap.LastMessageAt
	entry.LastError = snap.LastError
	return entry
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	reports := s.sup.GetHealthReport()
	entries := make([]statusEntry, 0, len(reports))
	for _, rep := range reports {
		entries = append(entries, s.entryFor(r.Context(), rep))
	}
	s.jsonOK(w, entries)
}

func (s *Server) handleNodeStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	for _, rep := range s.sup.GetHealthReport() {
		if rep.NodeID == id {
			s.jsonOK(w, s.entryFor(r.Context(), rep))
			return
		}
	}
	s.jsonError(w, "node not running in this process", http.StatusNotFound)
}
