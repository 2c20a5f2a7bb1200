package ingestion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
)

// RetryPolicy configures the exponential-backoff retry spec.md §4.4
// requires around every POST: retry only on HTTP 408/425/429/5xx or
// network errors; anything else fails immediately.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultRetryPolicy matches a conservative, short-lived ingest run.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 4, BaseDelay: 500 * time.Millisecond}
}

func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout, http.StatusTooEarly, http.StatusTooManyRequests:
		return true
	}
	return code >= 500
}

// Engine reads transcript files and maps their records to HTTP calls
// against the worker's ingest endpoints, per spec.md §4.4.
type Engine struct {
	HTTPClient      *http.Client
	BaseURL         string
	Checkpoints     *CheckpointStore
	Retry           RetryPolicy
	SkipSummaries   bool
	IncludeSystem   bool
	SinceTs         int64
	Limit           int
	WorkspaceFallback string

	// Dedupe is an optional second idempotence guard (spec.md §9 open
	// question: Redis-backed when REDIS_URL is configured, nil otherwise).
	// Checkpointing alone remains authoritative; Dedupe only skips redundant
	// POSTs within a single checkpoint window (e.g. a re-run before the
	// checkpoint file was flushed).
	Dedupe LineDedupe
}

// NewEngine builds an Engine with the spec's default retry policy and a
// 10-second per-request HTTP timeout.
func NewEngine(baseURL string, checkpoints *CheckpointStore) *Engine {
	return &Engine{
		HTTPClient:  &http.Client{Timeout: 10 * time.Second},
		BaseURL:     baseURL,
		Checkpoints: checkpoints,
		Retry:       DefaultRetryPolicy(),
	}
}

// Run processes every ".jsonl" transcript file under root, in mtime-ascending
// order, per spec.md §4.4. It stops at the first hard failure within a file,
// leaving that file's checkpoint intact so the next run is idempotent.
func (e *Engine) Run(ctx context.Context, root string) error {
	files, err := e.discoverFiles(root)
	if err != nil {
		return fmt.Errorf("discover transcript files: %w", err)
	}
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.runFile(ctx, path); err != nil {
			log.Warn().Err(err).Str("file", path).Msg("ingestion stopped on file; checkpoint left intact")
			return err
		}
	}
	return nil
}

type fileInfo struct {
	path    string
	modTime time.Time
}

func (e *Engine) discoverFiles(root string) ([]string, error) {
	var infos []fileInfo
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if filepath.Ext(path) != ".jsonl" {
			return nil
		}
		fi, statErr := d.Info()
		if statErr != nil {
			return nil
		}
		infos = append(infos, fileInfo{path: path, modTime: fi.ModTime()})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].modTime.Before(infos[j].modTime) })
	out := make([]string, len(infos))
	for i, fi := range infos {
		out[i] = fi.path
	}
	return out, nil
}

func (e *Engine) runFile(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	all := ParseHistoryFileContents(f)
	checkpoint := e.Checkpoints.LastProcessedLine(path)
	selected := SelectRecordsForIngestion(all, SelectionParams{
		SinceTs: e.SinceTs, LastProcessedLine: checkpoint, IncludeSystem: e.IncludeSystem, Limit: e.Limit,
	})
	if len(selected) == 0 {
		return nil
	}

	bySession := map[string][]Record{}
	order := []string{}
	for _, rec := range selected {
		if _, ok := bySession[rec.SessionID]; !ok {
			order = append(order, rec.SessionID)
		}
		bySession[rec.SessionID] = append(bySession[rec.SessionID], rec)
	}

	maxLine := checkpoint
	for _, sessionID := range order {
		recs := bySession[sessionID]
		if err := e.ingestSession(ctx, path, sessionID, recs); err != nil {
			return err
		}
		for _, r := range recs {
			if r.LineNumber > maxLine {
				maxLine = r.LineNumber
			}
		}
	}
	return e.Checkpoints.Advance(path, maxLine)
}

func (e *Engine) ingestSession(ctx context.Context, sourcePath, sessionID string, recs []Record) error {
	if sessionID == "" || len(recs) == 0 {
		return nil
	}
	contentSessionID := "codex-" + sessionID
	workspace := e.WorkspaceFallback
	for _, r := range recs {
		if r.Cwd != "" {
			workspace = r.Cwd
			break
		}
	}
	project := filepath.Base(workspace)
	if project == "." || project == "" {
		project = "unknown"
	}

	first := recs[0]
	if err := e.post(ctx, "/sessions/init", map[string]any{
		"contentSessionId": contentSessionID,
		"project":          project,
		"prompt":           first.Text,
		"platform":         "transcript",
	}); err != nil {
		return err
	}

	for _, r := range recs {
		if e.Dedupe != nil {
			seen, err := e.Dedupe.Seen(ctx, sourcePath, r.LineNumber)
			if err != nil {
				log.Warn().Err(err).Str("file", sourcePath).Msg("dedupe lookup failed; posting anyway")
			} else if seen {
				continue
			}
		}
		if err := e.post(ctx, "/sessions/observations", map[string]any{
			"contentSessionId":          contentSessionID,
			"tool_name":                 "CodexHistoryEntry",
			"tool_response":             r.Text,
			"cwd":                       workspace,
			"original_timestamp_epoch":  r.TimestampEpoch,
			"source_path":               sourcePath,
			"source_line":               r.LineNumber,
		}); err != nil {
			return err
		}
		if e.Dedupe != nil {
			if err := e.Dedupe.Mark(ctx, sourcePath, r.LineNumber); err != nil {
				log.Warn().Err(err).Str("file", sourcePath).Msg("dedupe mark failed")
			}
		}
	}

	if e.SkipSummaries {
		return nil
	}
	lastMsg := buildSummaryRequest(recs)
	if lastMsg == "" {
		return nil
	}
	return e.post(ctx, "/sessions/summarize", map[string]any{
		"contentSessionId":     contentSessionID,
		"last_assistant_message": lastMsg,
	})
}

// buildSummaryRequest implements spec.md §4.4's preference order: a
// response_item with phase=final_answer beats commentary agent_message,
// which beats falling back to the last user text.
func buildSummaryRequest(recs []Record) string {
	var finalAnswer, commentary, lastUser string
	for _, r := range recs {
		switch {
		case r.Role == "assistant" && r.Phase == "final_answer":
			finalAnswer = r.Text
		case r.Role == "assistant":
			commentary = r.Text
		case r.Role == "user":
			lastUser = r.Text
		}
	}
	switch {
	case finalAnswer != "":
		return finalAnswer
	case commentary != "":
		return commentary
	default:
		return lastUser
	}
}

func (e *Engine) post(ctx context.Context, path string, body map[string]any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	var lastErr error
	attempts := e.Retry.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := time.Duration(math.Pow(2, float64(attempt-1))) * e.Retry.BaseDelay
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.BaseURL+path, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := e.HTTPClient.Do(req)
		if err != nil {
			lastErr = err
			continue // network error: retryable per spec.md §4.4
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		if resp.StatusCode < 300 {
			return nil
		}
		lastErr = fmt.Errorf("%s %s: status %d", http.MethodPost, path, resp.StatusCode)
		if !isRetryableStatus(resp.StatusCode) {
			return lastErr
		}
	}
	return lastErr
}
