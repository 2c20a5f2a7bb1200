package httpapi

import (
	"net/http"
	"strconv"

	"memoryd/internal/apierr"
	"memoryd/internal/persistence"
	"memoryd/internal/query"
)

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// handleGetObservations implements spec.md §6's GET /observations: a paged,
// filterable listing over the Store.
func (s *Server) handleGetObservations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := persistence.Filter{
		Project:   q.Get("project"),
		Type:      q.Get("type"),
		Concept:   q.Get("concept"),
		FilePath:  q.Get("filePath"),
		DateStart: int64(queryInt(r, "dateStart", 0)),
		DateEnd:   int64(queryInt(r, "dateEnd", 0)),
	}
	offset := queryInt(r, "offset", 0)
	limit := queryInt(r, "limit", 20)
	orderBy := q.Get("orderBy")

	obs, hasMore, err := s.Store.GetObservationsPage(r.Context(), filter, orderBy, offset, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"observations": obs, "hasMore": hasMore})
}

// handleGetSummaries implements GET /summaries.
func (s *Server) handleGetSummaries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := persistence.Filter{
		Project:   q.Get("project"),
		DateStart: int64(queryInt(r, "dateStart", 0)),
		DateEnd:   int64(queryInt(r, "dateEnd", 0)),
	}
	offset := queryInt(r, "offset", 0)
	limit := queryInt(r, "limit", 20)

	sums, hasMore, err := s.Store.GetSummariesPage(r.Context(), filter, offset, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"summaries": sums, "hasMore": hasMore})
}

// handleGetPrompts implements GET /prompts.
func (s *Server) handleGetPrompts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := persistence.Filter{Project: q.Get("project")}
	offset := queryInt(r, "offset", 0)
	limit := queryInt(r, "limit", 20)

	prompts, hasMore, err := s.Store.GetPromptsPage(r.Context(), filter, offset, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"prompts": prompts, "hasMore": hasMore})
}

type observationsBatchRequest struct {
	IDs     []int64 `json:"ids"`
	Project string  `json:"project"`
}

// handleObservationsBatch implements POST /observations/batch, the batched
// full-record fetch meant to follow a narrowing Search/Timeline call.
func (s *Server) handleObservationsBatch(w http.ResponseWriter, r *http.Request) {
	var req observationsBatchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if len(req.IDs) == 0 {
		writeError(w, apierr.New(apierr.KindValidation, "ids must be non-empty", nil))
		return
	}
	obs, err := s.Query.GetObservations(r.Context(), req.IDs, req.Project)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"observations": obs})
}

// handleSearch implements GET /search, the search-bridge-facing endpoint
// that renders a compact markdown index table instead of raw rows.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	params := query.SearchParams{
		Query:     q.Get("query"),
		Project:   q.Get("project"),
		Type:      q.Get("type"),
		ObsType:   q.Get("obsType"),
		OrderBy:   q.Get("orderBy"),
		DateStart: int64(queryInt(r, "dateStart", 0)),
		DateEnd:   int64(queryInt(r, "dateEnd", 0)),
		Limit:     queryInt(r, "limit", 20),
		Offset:    queryInt(r, "offset", 0),
	}
	text, err := s.Query.Search(r.Context(), params)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, contentTextResponse(text))
}

// handleSearchPrompts implements GET /search/prompts: vector-first,
// relational-fallback prompt search over the UserPrompt table.
func (s *Server) handleSearchPrompts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	result, err := s.Query.SearchPrompts(r.Context(), q.Get("query"), q.Get("project"), queryInt(r, "limit", 20))
	if err != nil {
		writeError(w, err)
		return
	}
	resp := contentTextResponse(result.Text)
	resp["source"] = result.Source
	writeJSON(w, http.StatusOK, resp)
}

// handleTimeline implements GET /timeline.
func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	params := query.TimelineParams{
		AnchorID:    int64(queryInt(r, "anchorId", 0)),
		Query:       q.Get("query"),
		DepthBefore: queryInt(r, "before", 5),
		DepthAfter:  queryInt(r, "after", 5),
		Project:     q.Get("project"),
	}
	text, err := s.Query.Timeline(r.Context(), params)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, contentTextResponse(text))
}
