package agent

import "encoding/json"

// ObservationPayload is the JSON blob carried by a PendingMessage of type
// MessageObservation, built by the HTTP frontend (C8) from a
// POST /sessions/observations body, per spec.md §6.
type ObservationPayload struct {
	ToolName               string          `json:"tool_name"`
	ToolInput               json.RawMessage `json:"tool_input,omitempty"`
	ToolResponse             string          `json:"tool_response"`
	Cwd                      string          `json:"cwd"`
	OriginalTimestampEpoch   int64           `json:"original_timestamp_epoch,omitempty"`
	SourcePath               string          `json:"source_path,omitempty"`
	SourceLine               int             `json:"source_line,omitempty"`
}

// SummarizePayload is the JSON blob carried by a PendingMessage of type
// MessageSummarize, built from a POST /sessions/summarize body.
type SummarizePayload struct {
	LastAssistantMessage string `json:"last_assistant_message"`
}
