package searchbridge

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"
)

// getObservationsParams gives get_observations its required-field
// validation; search and timeline stay free-form per
// spec.md §6.
type getObservationsParams struct {
	IDs     []int64 `json:"ids"`
	Project string  `json:"project,omitempty"`
}

// Bridge runs the stdio JSON-RPC loop described by spec.md §4.7: it reads
// newline-delimited JSON-RPC requests from in, dispatches to the worker
// client, and writes newline-delimited responses to out. All logging must
// go to stderr, since stdout is reserved for the JSON-RPC framing — callers
// must install that redirection before constructing a Bridge.
type Bridge struct {
	Worker *WorkerClient
}

// Run blocks until in is exhausted or ctx is cancelled.
func (b *Bridge) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	enc := json.NewEncoder(out)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req JSONRPCRequest
		if err := json.Unmarshal(line, &req); err != nil {
			_ = enc.Encode(JSONRPCResponse{JSONRPC: "2.0", Error: &JSONRPCError{Code: ParseErrorCode, Message: "invalid JSON-RPC request"}})
			continue
		}
		resp := b.dispatch(ctx, req)
		if err := enc.Encode(resp); err != nil {
			log.Error().Err(err).Msg("failed to write JSON-RPC response")
		}
	}
	return scanner.Err()
}

func (b *Bridge) dispatch(ctx context.Context, req JSONRPCRequest) JSONRPCResponse {
	base := JSONRPCResponse{JSONRPC: "2.0", ID: req.ID}

	switch req.Method {
	case "tools/list":
		base.Result = map[string]any{"tools": toolDefs}
		return base

	case "tools/call":
		var call struct {
			Name      string          `json:"name"`
			Arguments json.RawMessage `json:"arguments"`
		}
		if err := json.Unmarshal(req.Params, &call); err != nil {
			base.Error = &JSONRPCError{Code: InvalidParamsCode, Message: "malformed tool call"}
			return base
		}
		result, err := b.callTool(ctx, call.Name, call.Arguments)
		if err != nil {
			base.Error = &JSONRPCError{Code: InternalErrorCode, Message: err.Error()}
			return base
		}
		base.Result = result
		return base

	default:
		base.Error = &JSONRPCError{Code: MethodNotFoundCode, Message: fmt.Sprintf("method not found: %s", req.Method)}
		return base
	}
}

func (b *Bridge) callTool(ctx context.Context, name string, args json.RawMessage) (any, error) {
	switch name {
	case "search":
		params := map[string]string{}
		if err := decodeFreeForm(args, &params); err != nil {
			return nil, err
		}
		return b.Worker.Search(ctx, params)

	case "timeline":
		params := map[string]string{}
		if err := decodeFreeForm(args, &params); err != nil {
			return nil, err
		}
		return b.Worker.Timeline(ctx, params)

	case "get_observations":
		var p getObservationsParams
		if err := json.Unmarshal(args, &p); err != nil {
			return nil, fmt.Errorf("malformed get_observations arguments: %w", err)
		}
		if len(p.IDs) == 0 {
			return nil, fmt.Errorf("get_observations requires a non-empty ids array")
		}
		return b.Worker.GetObservations(ctx, p.IDs, p.Project)

	default:
		return nil, fmt.Errorf("unknown tool: %s", name)
	}
}

// decodeFreeForm accepts any flat JSON object of string/number/bool values
// and flattens it to map[string]string for passthrough as query params.
func decodeFreeForm(raw json.RawMessage, out *map[string]string) error {
	if len(raw) == 0 {
		return nil
	}
	var generic map[string]any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return fmt.Errorf("malformed arguments: %w", err)
	}
	m := *out
	for k, v := range generic {
		switch t := v.(type) {
		case string:
			m[k] = t
		default:
			b, _ := json.Marshal(t)
			m[k] = string(b)
		}
	}
	return nil
}
