// Package ingestion implements the IngestionEngine (C6) from spec.md §4.4:
// incremental, checkpointed reading of external transcript files, mapped to
// HTTP calls against the worker's ingest endpoints.
package ingestion

import (
	"bufio"
	"encoding/json"
	"io"
	"sort"
	"strings"
)

// Record is one ingestible line from a transcript file, normalised from
// either of the two on-disk formats spec.md §4.4 describes.
type Record struct {
	LineNumber int
	SessionID  string
	Cwd        string
	Text       string
	Role       string // "user" | "assistant"
	Phase      string // response_item phase, e.g. "final_answer" or "commentary"
	TimestampEpoch int64
}

// rawLine mirrors the union of both transcript formats enough to
// distinguish them before fully decoding.
type rawLine struct {
	// Legacy flat record.
	SessionIDLegacy string `json:"session_id"`
	Ts              int64  `json:"ts"`
	Text            string `json:"text"`

	// Structured transcript.
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type sessionMetaPayload struct {
	ID  string `json:"id"`
	Cwd string `json:"cwd"`
}

type eventMsgPayload struct {
	Type    string `json:"type"` // "user_message" | "agent_message"
	Message string `json:"message"`
}

type responseItemPayload struct {
	Role    string `json:"role"`
	Phase   string `json:"phase"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// ParseHistoryFileContents decodes every line of a transcript file into
// Records, skipping malformed lines. It tracks session metadata
// (session id, cwd) across lines for the structured format, per spec.md
// §4.4's "session_meta carries session id and working directory".
func ParseHistoryFileContents(r io.Reader) []Record {
	var records []Record
	var curSessionID, curCwd string

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var raw rawLine
		if err := json.Unmarshal([]byte(line), &raw); err != nil {
			continue // malformed line, skipped per spec.md §4.4
		}

		switch {
		case raw.Type == "session_meta":
			var meta sessionMetaPayload
			if json.Unmarshal(raw.Payload, &meta) == nil {
				if meta.ID != "" {
					curSessionID = meta.ID
				}
				if meta.Cwd != "" {
					curCwd = meta.Cwd
				}
			}
		case raw.Type == "event_msg":
			var ev eventMsgPayload
			if json.Unmarshal(raw.Payload, &ev) != nil {
				continue
			}
			role := ""
			switch ev.Type {
			case "user_message":
				role = "user"
			case "agent_message":
				role = "assistant"
			default:
				continue
			}
			records = append(records, Record{
				LineNumber: lineNo, SessionID: curSessionID, Cwd: curCwd,
				Text: ev.Message, Role: role, Phase: "commentary",
				TimestampEpoch: raw.Ts,
			})
		case raw.Type == "response_item":
			var item responseItemPayload
			if json.Unmarshal(raw.Payload, &item) != nil {
				continue
			}
			var parts []string
			for _, c := range item.Content {
				if c.Type == "output_text" && c.Text != "" {
					parts = append(parts, c.Text)
				}
			}
			if len(parts) == 0 {
				continue
			}
			records = append(records, Record{
				LineNumber: lineNo, SessionID: curSessionID, Cwd: curCwd,
				Text: strings.Join(parts, "\n"), Role: "assistant", Phase: item.Phase,
				TimestampEpoch: raw.Ts,
			})
		case raw.SessionIDLegacy != "" && raw.Text != "":
			// Legacy flat record: {session_id, ts, text}.
			records = append(records, Record{
				LineNumber: lineNo, SessionID: raw.SessionIDLegacy, Text: raw.Text,
				Role: "user", TimestampEpoch: raw.Ts,
			})
		}
	}
	return records
}

var systemLinePrefixes = []string{"⚠", "[experimental]"}

// isSystemLine matches the prefixes and MCP-timeout pattern spec.md §4.4
// calls out for record filtering.
func isSystemLine(text string) bool {
	trimmed := strings.TrimSpace(text)
	for _, p := range systemLinePrefixes {
		if strings.HasPrefix(trimmed, p) {
			return true
		}
	}
	return strings.Contains(trimmed, "MCP") && strings.Contains(trimmed, "timed out")
}

// SelectionParams narrows ParseHistoryFileContents' output to the records a
// single ingestion run should act on.
type SelectionParams struct {
	SinceTs           int64
	LastProcessedLine int // per-file checkpoint; records with LineNumber <= this are excluded
	IncludeSystem     bool
	Limit             int // 0 means unlimited
}

// SelectRecordsForIngestion implements spec.md §4.4's record-selection
// contract: non-empty, non-system text (unless includeSystem), filtered by
// since_ts and checkpoint, sorted by line number, then capped by limit. This
// is deterministic given its inputs: calling it with limit=N then limit=∞
// produces a prefix relationship, per spec.md §8.
func SelectRecordsForIngestion(records []Record, p SelectionParams) []Record {
	var out []Record
	for _, rec := range records {
		if strings.TrimSpace(rec.Text) == "" {
			continue
		}
		if !p.IncludeSystem && isSystemLine(rec.Text) {
			continue
		}
		if p.SinceTs > 0 && rec.TimestampEpoch < p.SinceTs {
			continue
		}
		if rec.LineNumber <= p.LastProcessedLine {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LineNumber < out[j].LineNumber })
	if p.Limit > 0 && len(out) > p.Limit {
		out = out[:p.Limit]
	}
	return out
}
