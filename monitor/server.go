// Package monitor serves the read-only health surface over HTTP: a liveness
// endpoint deriving its status code from the scheduler health, and a status
// endpoint exposing the full snapshot plus host statistics.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/petabytecl/cronhost/logger"
	"github.com/petabytecl/cronhost/scheduler"
	"github.com/petabytecl/cronhost/worker"
)

// SnapshotFunc produces the current monitoring view. Wired to
// scheduler.Loop.Snapshot.
type SnapshotFunc func() scheduler.Snapshot

// Server is the HTTP worker carrying the monitoring endpoints.
//
//	GET /healthz     scheduler health, 200 when healthy, 503 otherwise
//	GET /api/status  full snapshot: schedule, recent events, counters, host
type Server struct {
	addr     string
	snapshot SnapshotFunc
	logger   *slog.Logger

	mu   sync.Mutex
	srv  *http.Server
	done chan struct{}
}

// NewServer returns a monitoring server bound to addr.
func NewServer(addr string, snapshot SnapshotFunc, log *slog.Logger) *Server {
	return &Server{
		addr:     addr,
		snapshot: snapshot,
		logger:   log.With(slog.String("component", "monitor.Server")),
	}
}

// Name implements the worker contract.
func (s *Server) Name() string {
	return "monitor-http"
}

// OnStart begins listening. The listen error (port in use, bad address) is
// logged, not fatal: a broken monitoring surface must not take the
// scheduler down with it.
func (s *Server) OnStart(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	srv := &http.Server{
		Addr:              s.addr,
		Handler:           logger.RequestIDMiddleware(s.routes()),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.srv = srv
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		s.logger.Info("monitoring surface listening", slog.String("addr", s.addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("monitoring surface failed", slog.String("error", err.Error()))
		}
	}()
	return nil
}

// OnStop drains the server.
func (s *Server) OnStop(ctx context.Context) error {
	s.mu.Lock()
	srv, done := s.srv, s.done
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	ctx, cancelWait := worker.StopContext(ctx, 10*time.Second)
	defer cancelWait()
	if err := srv.Shutdown(ctx); err != nil {
		return err
	}
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	return mux
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	snap := s.snapshot()
	status := http.StatusOK
	if !snap.Scheduler.Healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, snap.Scheduler)
}

// statusPayload is the full dashboard document: the scheduler snapshot plus
// host-level statistics.
type statusPayload struct {
	scheduler.Snapshot
	Host HostStats `json:"host"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	payload := statusPayload{
		Snapshot: s.snapshot(),
		Host:     CollectHostStats(r.Context()),
	}
	writeJSON(w, http.StatusOK, payload)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
