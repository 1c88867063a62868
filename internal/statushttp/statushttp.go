// Package statushttp exposes the control loop's observed State over a
// small read-only HTTP surface, adapted from the teacher's statusreporter
// (which synced pod status outward to BD Daemon). Here the direction
// inverts: this server answers introspection reads rather than pushing
// status to a collaborator, but the shape — a narrow interface in front of
// the loop's state, logged rather than RPC'd — carries over.
package statushttp

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/groblegark/noderecon/internal/state"
)

// StateSource supplies a read-only snapshot of the loop's current State.
// controlloop.Loop.Snapshot satisfies this.
type StateSource interface {
	Snapshot(ctx context.Context) (*state.State, error)
}

// Server is the /healthz and /state HTTP introspection endpoint (spec §9:
// single-writer/multi-reader — the control loop is the sole writer of
// State, this server only ever reads a clone of it).
type Server struct {
	source StateSource
	logger *slog.Logger
	mux    *http.ServeMux
}

// New constructs a Server. Call Handler to obtain the http.Handler to
// serve, or ListenAndServe to run it directly.
func New(source StateSource, logger *slog.Logger) *Server {
	s := &Server{source: source, logger: logger, mux: http.NewServeMux()}
	s.mux.HandleFunc("/healthz", s.handleHealthz)
	s.mux.HandleFunc("/state", s.handleState)
	return s
}

// Handler returns the server's http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// ListenAndServe serves the introspection endpoints on addr until ctx is
// canceled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.mux}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		return srv.Shutdown(context.Background())
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	st, err := s.source.Snapshot(r.Context())
	if err != nil {
		s.logger.Warn("state snapshot failed", "error", err)
		http.Error(w, "state unavailable", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(st); err != nil {
		s.logger.Warn("encoding state snapshot failed", "error", err)
	}
}
