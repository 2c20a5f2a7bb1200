package httpapi

import (
	"net/http"
	"os/exec"
	"time"

	"memoryd/internal/apierr"
	"memoryd/internal/config"
	"memoryd/internal/version"
)

// settingsView is the flattened, masked settings document returned by
// GET /settings, per spec.md §6.
func settingsView(cfg config.Config) map[string]string {
	raw := map[string]string{
		"MEMORYD_HOST":              cfg.Host,
		"MEMORYD_PROVIDER":          cfg.Provider,
		"MEMORYD_FALLBACK_POLICY":   cfg.FallbackPolicy,
		"MEMORYD_MODE":              cfg.ModeName,
		"MEMORYD_ANTHROPIC_MODEL":   cfg.Anthropic.Model,
		"ANTHROPIC_API_KEY":         cfg.Anthropic.APIKey,
		"MEMORYD_LOCAL_BASE_URL":    cfg.LocalHTTP.BaseURL,
		"MEMORYD_LOCAL_MODEL":       cfg.LocalHTTP.Model,
		"MEMORYD_CLI_BINARY":        cfg.CLI.Binary,
		"MEMORYD_EMBEDDING_API_KEY": cfg.Embedding.APIKey,
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if config.IsSensitiveKey(k) && v != "" {
			out[k] = config.MaskSecret(v)
			continue
		}
		out[k] = v
	}
	return out
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, settingsView(s.Config))
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var updates map[string]string
	if err := decodeJSON(r, &updates); err != nil {
		writeError(w, err)
		return
	}
	if err := config.SaveSettings(s.Config.DataDir, updates); err != nil {
		writeError(w, apierr.New(apierr.KindFatal, "could not persist settings", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"saved": true})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"version":   version.Version,
		"uptimeMs":  time.Since(s.StartedAt).Milliseconds(),
		"activeSessions": s.Scheduler.ActiveCount(),
	})
}

// handleStats implements GET /stats: queue depth, oldest pending age, and
// active provider count, per spec.md §6's diagnostics surface.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	total, err := s.Store.GetTotalActiveCount(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	oldestMs, err := s.Store.GetOldestActiveMessageAgeMs(r.Context(), time.Now())
	if err != nil {
		writeError(w, err)
		return
	}
	var oldest int64
	if oldestMs != nil {
		oldest = *oldestMs
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"pendingTotal":       total,
		"oldestPendingAgeMs": oldest,
		"activeProviders":    s.Scheduler.ActiveCount(),
	})
}

// handleOllamaModels implements GET /ollama/models: reports whether model
// discovery would come from the local-http API, the CLI binary, or neither.
func (s *Server) handleOllamaModels(w http.ResponseWriter, r *http.Request) {
	source := "none"
	switch {
	case s.Config.LocalHTTP.BaseURL != "":
		source = "api"
	default:
		if _, err := exec.LookPath(s.Config.CLI.Binary); err == nil {
			source = "cli"
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"source": source, "models": []string{}})
}

func (s *Server) handleProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.Store.ListProjects(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"projects": projects})
}

// handleProjectsDiagnostics implements GET /projects/diagnostics: surfaces
// which on-disk transcript projects the ingestion engine can see, separate
// from which projects already have memory recorded for them.
func (s *Server) handleProjectsDiagnostics(w http.ResponseWriter, r *http.Request) {
	known, err := s.Store.ListProjects(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	discovered, err := discoverProjects(s.Config.DataDir)
	if err != nil {
		writeError(w, apierr.New(apierr.KindUpstream, "could not discover transcript projects", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"knownProjects":      known,
		"discoveredProjects": discovered,
	})
}
