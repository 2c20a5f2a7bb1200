// Package query implements the QueryEngine (C7) from spec.md §4.5: search,
// timeline, and context-assembly operations layered over Store (C1) and
// VectorIndex (C2), rendered as compact markdown "index tables" for the host
// tool and the viewer.
package query

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"memoryd/internal/persistence"
	"memoryd/internal/persistence/databases"
)

// Engine drives both the host tool's three search-bridge tools and the
// viewer's feed.
type Engine struct {
	Store  persistence.Store
	Vector databases.VectorStore
	Embed  func(ctx context.Context, text string) ([]float32, error)
}

// SearchParams mirrors the GET /search query parameters of spec.md §6.
type SearchParams struct {
	Query     string
	Project   string
	Type      string // "summaries" | "prompts"; any other value, including "", searches observations
	ObsType   string
	OrderBy   string
	DateStart int64
	DateEnd   int64
	Limit     int
	Offset    int
}

// Search implements spec.md §4.5: full-text over observations/summaries/
// prompts as requested, rendered as a compact index table.
func (e *Engine) Search(ctx context.Context, p SearchParams) (string, error) {
	if p.Limit <= 0 {
		p.Limit = 20
	}
	filter := persistence.Filter{Project: p.Project, Type: p.ObsType, DateStart: p.DateStart, DateEnd: p.DateEnd}

	var rows []persistence.ScoredRow
	var err error
	switch p.Type {
	case "summaries":
		rows, _, err = e.Store.SearchSummaries(ctx, p.Query, filter, p.Limit)
	case "prompts":
		rows, _, err = e.searchPromptsFallback(ctx, p.Query, filter, p.Limit)
	default:
		rows, _, err = e.Store.SearchObservations(ctx, p.Query, filter, p.Limit)
	}
	if err != nil {
		return "", fmt.Errorf("search: %w", err)
	}
	if p.OrderBy == "date" {
		sort.Slice(rows, func(i, j int) bool { return rows[i].CreatedAtEpoch > rows[j].CreatedAtEpoch })
	}
	return renderIndexTable(rows), nil
}

// TimelineParams mirrors GET /timeline.
type TimelineParams struct {
	AnchorID    int64
	Query       string
	DepthBefore int
	DepthAfter  int
	Project     string
}

// Timeline implements spec.md §4.5: if Query is given, find the best-match
// anchor via search first, then return the interleaved chronological window.
func (e *Engine) Timeline(ctx context.Context, p TimelineParams) (string, error) {
	anchor := p.AnchorID
	if anchor == 0 && p.Query != "" {
		rows, _, err := e.Store.SearchObservations(ctx, p.Query, persistence.Filter{Project: p.Project}, 1)
		if err != nil {
			return "", fmt.Errorf("timeline anchor search: %w", err)
		}
		if len(rows) > 0 {
			anchor = rows[0].ID
		}
	}
	entries, err := e.Store.GetTimeline(ctx, anchor, p.DepthBefore, p.DepthAfter, p.Project)
	if err != nil {
		return "", fmt.Errorf("timeline: %w", err)
	}
	return renderTimeline(entries), nil
}

// GetObservations implements spec.md §4.5's "never fetch full details
// without filtering first" contract: a batched full-record fetch, intended
// to follow a Search/Timeline call that already narrowed the id set.
func (e *Engine) GetObservations(ctx context.Context, ids []int64, project string) ([]persistence.Observation, error) {
	obs, err := e.Store.GetObservationsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	if project == "" {
		return obs, nil
	}
	out := obs[:0]
	for _, o := range obs {
		if o.Project == project {
			out = append(out, o)
		}
	}
	return out, nil
}

// SearchPromptResult tags whether a prompt-search hit came from the vector
// accelerator or the relational fallback, per spec.md §4.5/§8 scenario 5.
type SearchPromptResult struct {
	Rows   []persistence.ScoredRow
	Source string // "vector" | "sqlite"
	Text   string
}

// SearchPrompts queries the VectorIndex first when prompt vectors exist;
// on an empty result or a vector-backend error it transparently falls back
// to Store full-text, per spec.md §4.1/§4.5/§9 ("vector search is strictly
// best-effort").
func (e *Engine) SearchPrompts(ctx context.Context, query, project string, limit int) (SearchPromptResult, error) {
	if e.Vector != nil && e.Embed != nil {
		if vec, err := e.Embed(ctx, query); err == nil {
			filter := map[string]string{}
			if project != "" {
				filter["project"] = project
			}
			filter["kind"] = "prompt"
			hits, err := e.Vector.SimilaritySearch(ctx, vec, limit, filter)
			if err == nil && len(hits) > 0 {
				rows := make([]persistence.ScoredRow, 0, len(hits))
				for _, h := range hits {
					rows = append(rows, persistence.ScoredRow{Score: h.Score})
				}
				return SearchPromptResult{Rows: rows, Source: "vector", Text: renderPromptResults(query, rows)}, nil
			}
		}
	}
	rows, _, err := e.searchPromptsFallback(ctx, query, persistence.Filter{Project: project}, limit)
	if err != nil {
		return SearchPromptResult{}, err
	}
	return SearchPromptResult{Rows: rows, Source: "sqlite", Text: renderPromptResults(query, rows)}, nil
}

// renderPromptResults renders the "Found N user prompt(s) matching ..."
// header from spec.md §8 scenario 5, followed by a compact index table.
func renderPromptResults(query string, rows []persistence.ScoredRow) string {
	header := fmt.Sprintf("Found %d user prompt(s) matching %q", len(rows), query)
	if len(rows) == 0 {
		return header
	}
	return header + "\n\n" + renderIndexTable(rows)
}

func (e *Engine) searchPromptsFallback(ctx context.Context, query string, filter persistence.Filter, limit int) ([]persistence.ScoredRow, bool, error) {
	return e.Store.SearchUserPrompts(ctx, query, filter, limit)
}

func renderIndexTable(rows []persistence.ScoredRow) string {
	if len(rows) == 0 {
		return "No results found."
	}
	var b strings.Builder
	b.WriteString("| id | title | date |\n|---|---|---|\n")
	for _, r := range rows {
		date := time.UnixMilli(r.CreatedAtEpoch).UTC().Format("2006-01-02")
		b.WriteString(fmt.Sprintf("| %d | %s | %s |\n", r.ID, sanitizeCell(r.Title), date))
	}
	return b.String()
}

func renderTimeline(entries []persistence.TimelineEntry) string {
	if len(entries) == 0 {
		return "No timeline entries found."
	}
	var b strings.Builder
	b.WriteString("| kind | id | title | date |\n|---|---|---|---|\n")
	for _, e := range entries {
		date := time.UnixMilli(e.CreatedAtEpoch).UTC().Format("2006-01-02")
		switch e.Kind {
		case "observation":
			b.WriteString(fmt.Sprintf("| observation | %d | %s | %s |\n", e.Observation.ID, sanitizeCell(e.Observation.Title), date))
		case "summary":
			b.WriteString(fmt.Sprintf("| summary | %d | %s | %s |\n", e.Summary.ID, sanitizeCell(e.Summary.Request), date))
		}
	}
	return b.String()
}

func sanitizeCell(s string) string {
	s = strings.ReplaceAll(s, "|", "\\|")
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) > 80 {
		s = s[:80] + "..."
	}
	return s
}
