// Package searchbridge implements the SearchBridge (C9) from spec.md §4.7:
// a stdio JSON-RPC process exposing exactly three tools (search, timeline,
// get_observations) as thin wrappers over the worker's HTTP endpoints.
// Framing is grounded on the teacher's internal/a2a/rpc.Router (JSON-RPC 2.0
// request/response/error shapes), adapted from one-request-per-HTTP-POST to
// newline-delimited JSON-RPC over stdin/stdout.
package searchbridge

import (
	"encoding/json"
)

// JSONRPCRequest is one newline-delimited stdin line.
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	ID      any             `json:"id,omitempty"`
	Params  json.RawMessage `json:"params"`
}

// JSONRPCResponse is one newline-delimited stdout line.
type JSONRPCResponse struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      any           `json:"id,omitempty"`
	Result  any           `json:"result,omitempty"`
	Error   *JSONRPCError `json:"error,omitempty"`
}

// JSONRPCError mirrors the standard JSON-RPC 2.0 error object.
type JSONRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

const (
	ParseErrorCode     = -32700
	InvalidRequestCode = -32600
	MethodNotFoundCode = -32601
	InvalidParamsCode  = -32602
	InternalErrorCode  = -32603
)

// toolDef describes one of the three exposed tools for the "tools/list"
// method, per spec.md §6's "input schemas: free-form for the first two;
// get_observations requires ids:number[]".
type toolDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

var toolDefs = []toolDef{
	{
		Name:        "search",
		Description: "Full-text search over observations, summaries, and prompts.",
		InputSchema: map[string]any{"type": "object"},
	},
	{
		Name:        "timeline",
		Description: "Interleaved chronological window of observations and summaries around an anchor or best-match query.",
		InputSchema: map[string]any{"type": "object"},
	},
	{
		Name:        "get_observations",
		Description: "Batched full-record fetch for observation ids already narrowed by search or timeline.",
		InputSchema: map[string]any{
			"type":       "object",
			"required":   []string{"ids"},
			"properties": map[string]any{"ids": map[string]any{"type": "array", "items": map[string]any{"type": "number"}}},
		},
	},
}
