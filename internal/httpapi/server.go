// Package httpapi implements the HTTP+SSE Frontend (C8) from spec.md §4.6:
// the single loopback endpoint for ingestion, query, settings, and
// diagnostics, grounded on the teacher's internal/httpapi server (a plain
// http.ServeMux with Go 1.22 method-pattern routes).
package httpapi

import (
	"context"
	"net/http"
	"time"

	"memoryd/internal/config"
	"memoryd/internal/ingestion"
	"memoryd/internal/persistence"
	"memoryd/internal/query"
)

// SchedulerLike is the subset of *scheduler.Scheduler the frontend needs,
// kept as an interface to avoid an import cycle with cmd/memoryd's wiring.
type SchedulerLike interface {
	Kick(ctx context.Context, sessionDBID int64)
	Abort(sessionDBID int64)
	ActiveCount() int
}

// Server wires Store, Scheduler, and QueryEngine behind the HTTP surface.
type Server struct {
	Store     persistence.Store
	Scheduler SchedulerLike
	Query     *query.Engine
	Config    config.Config
	SSE       *Broadcaster
	StartedAt time.Time

	mux *http.ServeMux
}

// NewServer builds the mux and registers every route from spec.md §4.6/§6.
func NewServer(store persistence.Store, sched SchedulerLike, q *query.Engine, cfg config.Config) *Server {
	s := &Server{
		Store:     store,
		Scheduler: sched,
		Query:     q,
		Config:    cfg,
		SSE:       NewBroadcaster(),
		StartedAt: time.Now(),
	}
	s.mux = http.NewServeMux()
	s.registerRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("POST /sessions/init", s.handleSessionsInit)
	s.mux.HandleFunc("POST /sessions/{id}/init", s.handleSessionsInit) // legacy dual-entry path, spec.md §6
	s.mux.HandleFunc("POST /sessions/observations", s.handleSessionsObservations)
	s.mux.HandleFunc("POST /sessions/summarize", s.handleSessionsSummarize)
	s.mux.HandleFunc("DELETE /sessions/{id}", s.handleSessionsDelete)

	s.mux.HandleFunc("GET /observations", s.handleGetObservations)
	s.mux.HandleFunc("GET /summaries", s.handleGetSummaries)
	s.mux.HandleFunc("GET /prompts", s.handleGetPrompts)
	s.mux.HandleFunc("POST /observations/batch", s.handleObservationsBatch)

	s.mux.HandleFunc("GET /search", s.handleSearch)
	s.mux.HandleFunc("GET /search/prompts", s.handleSearchPrompts)
	s.mux.HandleFunc("GET /timeline", s.handleTimeline)

	s.mux.HandleFunc("GET /projects", s.handleProjects)
	s.mux.HandleFunc("GET /projects/diagnostics", s.handleProjectsDiagnostics)

	s.mux.HandleFunc("GET /settings", s.handleGetSettings)
	s.mux.HandleFunc("PUT /settings", s.handlePutSettings)

	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /stats", s.handleStats)
	s.mux.HandleFunc("GET /ollama/models", s.handleOllamaModels)

	s.mux.HandleFunc("GET /events", s.SSE.ServeHTTP)
}

// discoverProjects is a package-level hook (overridable by tests) over
// ingestion.DiscoverCodexSessionProjects, used by /projects/diagnostics.
var discoverProjects = ingestion.DiscoverCodexSessionProjects
