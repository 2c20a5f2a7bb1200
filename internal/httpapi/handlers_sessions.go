package httpapi

import (
	"encoding/json"
	"net/http"
	"path/filepath"
	"time"

	"memoryd/internal/agent"
	"memoryd/internal/apierr"
	"memoryd/internal/persistence"
)

type sessionsInitRequest struct {
	ContentSessionID string `json:"contentSessionId"`
	Project          string `json:"project"`
	Prompt           string `json:"prompt"`
	Platform         string `json:"platform"`
}

type skippedResponse struct {
	Skipped bool   `json:"skipped"`
	Reason  string `json:"reason,omitempty"`
}

// handleSessionsInit implements spec.md §6's POST /sessions/init (and its
// legacy dual-entry POST /sessions/:id/init alias): private-prompt
// filtering, session/prompt creation, and the new_prompt broadcast.
func (s *Server) handleSessionsInit(w http.ResponseWriter, r *http.Request) {
	var req sessionsInitRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.ContentSessionID == "" {
		writeError(w, apierr.New(apierr.KindValidation, "contentSessionId is required", nil))
		return
	}

	if isPrivateOnly(req.Prompt) {
		writeJSON(w, http.StatusOK, skippedResponse{Skipped: true, Reason: "private"})
		return
	}

	prompt := stripContextBlocks(stripPrivate(req.Prompt))
	project := req.Project
	if project == "" {
		project = filepath.Base(req.Project)
	}

	sess, err := s.Store.CreateOrGetSession(r.Context(), req.ContentSessionID, req.Platform, project, prompt)
	if err != nil {
		writeError(w, err)
		return
	}
	if _, err := s.Store.AppendUserPrompt(r.Context(), req.ContentSessionID, prompt, time.Now().UnixMilli()); err != nil {
		writeError(w, err)
		return
	}

	// Legacy dual-entry semantics (spec.md §6): the /sessions/:id/init path
	// broadcasts new_prompt itself; the plain /sessions/init path broadcasts
	// unless the platform is claude-code, which uses that other path.
	calledViaLegacyPath := r.PathValue("id") != ""
	if calledViaLegacyPath || req.Platform != "claude-code" {
		s.SSE.Publish(Event{Type: "new_prompt", Data: map[string]string{
			"contentSessionId": req.ContentSessionID, "project": project,
		}})
	}
	_ = sess
	writeJSON(w, http.StatusOK, skippedResponse{Skipped: false})
}

type sessionsObservationsRequest struct {
	ContentSessionID       string          `json:"contentSessionId"`
	ToolName               string          `json:"tool_name"`
	ToolInput              json.RawMessage `json:"tool_input"`
	ToolResponse           string          `json:"tool_response"`
	Cwd                    string          `json:"cwd"`
	OriginalTimestampEpoch int64           `json:"original_timestamp_epoch,omitempty"`
	SourcePath             string          `json:"source_path,omitempty"`
	SourceLine             int             `json:"source_line,omitempty"`
}

type queuedResponse struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// handleSessionsObservations implements spec.md §6's POST
// /sessions/observations: bootstrap filtering, enqueue, and the
// observation_queued broadcast.
func (s *Server) handleSessionsObservations(w http.ResponseWriter, r *http.Request) {
	var req sessionsObservationsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.ContentSessionID == "" {
		writeError(w, apierr.New(apierr.KindValidation, "contentSessionId is required", nil))
		return
	}
	if isObserverBootstrap(req.ToolResponse) {
		writeJSON(w, http.StatusOK, queuedResponse{Status: "skipped", Reason: "observer_bootstrap"})
		return
	}

	sess, err := s.Store.GetSession(r.Context(), req.ContentSessionID)
	if err != nil {
		writeError(w, apierr.New(apierr.KindNotFound, "unknown session; call /sessions/init first", err))
		return
	}

	now := time.Now().UnixMilli()
	ts := req.OriginalTimestampEpoch
	if ts == 0 {
		ts = now
	}
	payload := agent.ObservationPayload{
		ToolName:             req.ToolName,
		ToolInput:            req.ToolInput,
		ToolResponse:         req.ToolResponse,
		Cwd:                  req.Cwd,
		OriginalTimestampEpoch: ts,
		SourcePath:           req.SourcePath,
		SourceLine:           req.SourceLine,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		writeError(w, apierr.New(apierr.KindValidation, "could not encode observation payload", err))
		return
	}

	cap := s.Config.Scheduler.MaxPendingPerSession
	if _, err := s.Store.Enqueue(r.Context(), sess.SessionDBID, req.ContentSessionID, persistence.MessageObservation, body, ts, cap); err != nil {
		if err == persistence.ErrOverCap {
			writeError(w, apierr.New(apierr.KindRateLimited, "pending queue is full for this session", err))
			return
		}
		writeError(w, err)
		return
	}

	s.SSE.Publish(Event{Type: "observation_queued", Data: map[string]string{"contentSessionId": req.ContentSessionID}})
	s.Scheduler.Kick(r.Context(), sess.SessionDBID)
	writeJSON(w, http.StatusOK, queuedResponse{Status: "queued"})
}

type sessionsSummarizeRequest struct {
	ContentSessionID      string `json:"contentSessionId"`
	LastAssistantMessage  string `json:"last_assistant_message"`
}

// handleSessionsSummarize implements spec.md §6's POST /sessions/summarize.
func (s *Server) handleSessionsSummarize(w http.ResponseWriter, r *http.Request) {
	var req sessionsSummarizeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.ContentSessionID == "" {
		writeError(w, apierr.New(apierr.KindValidation, "contentSessionId is required", nil))
		return
	}
	sess, err := s.Store.GetSession(r.Context(), req.ContentSessionID)
	if err != nil {
		writeError(w, apierr.New(apierr.KindNotFound, "unknown session; call /sessions/init first", err))
		return
	}

	payload := agent.SummarizePayload{LastAssistantMessage: req.LastAssistantMessage}
	body, err := json.Marshal(payload)
	if err != nil {
		writeError(w, apierr.New(apierr.KindValidation, "could not encode summarize payload", err))
		return
	}

	now := time.Now().UnixMilli()
	cap := s.Config.Scheduler.MaxPendingPerSession
	if _, err := s.Store.Enqueue(r.Context(), sess.SessionDBID, req.ContentSessionID, persistence.MessageSummarize, body, now, cap); err != nil {
		if err == persistence.ErrOverCap {
			writeError(w, apierr.New(apierr.KindRateLimited, "pending queue is full for this session", err))
			return
		}
		writeError(w, err)
		return
	}

	s.SSE.Publish(Event{Type: "summarize_queued", Data: map[string]string{"contentSessionId": req.ContentSessionID}})
	s.Scheduler.Kick(r.Context(), sess.SessionDBID)
	writeJSON(w, http.StatusOK, queuedResponse{Status: "queued"})
}

// handleSessionsDelete implements spec.md §6's DELETE /sessions/:id: abort
// any active agent task, then delete the session.
func (s *Server) handleSessionsDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, apierr.New(apierr.KindValidation, "session id is required", nil))
		return
	}
	sess, err := s.Store.GetSession(r.Context(), id)
	if err != nil {
		writeError(w, apierr.New(apierr.KindNotFound, "unknown session", err))
		return
	}
	s.Scheduler.Abort(sess.SessionDBID)
	if err := s.Store.DeleteSession(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}
