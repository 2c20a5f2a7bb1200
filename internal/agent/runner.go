package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"memoryd/internal/apierr"
	"memoryd/internal/llm"
	"memoryd/internal/persistence"
)

// Embedder populates the VectorIndex (C2) accelerator; nil disables it, per
// spec.md's "VectorIndex is an optional accelerator."
type Embedder interface {
	Embed(ctx context.Context, kind string, id int64, text string) error
}

// Broadcaster notifies the HTTP+SSE Frontend (C8) of agent-loop milestones.
type Broadcaster interface {
	BroadcastSessionCompleted(contentSessionID string)
}

// Runner is the Agent (C5) loop body: drains one session's queue, growing
// its shared Conversation, through a (possibly fallback-chained) llm.Provider.
type Runner struct {
	Store       persistence.Store
	Provider    llm.Provider
	Model       string
	Embedder    Embedder
	Broadcaster Broadcaster
}

// Drain claims and processes messages for sess until the queue is empty,
// per spec.md §4.2: "terminates when the queue for its session is drained
// *and* no summarize is pending; before exiting it re-checks the queue
// atomically" — ClaimAndDelete already does exactly that, atomically.
func (r *Runner) Drain(ctx context.Context, sess *Session) error {
	for {
		if err := ctx.Err(); err != nil {
			return apierr.New(apierr.KindCancelled, "agent loop cancelled", err)
		}
		msg, err := r.Store.ClaimAndDelete(ctx, sess.SessionDBID)
		if err != nil {
			return fmt.Errorf("claim pending message: %w", err)
		}
		if msg == nil {
			if r.Broadcaster != nil {
				r.Broadcaster.BroadcastSessionCompleted(sess.ContentSessionID)
			}
			return nil
		}
		if err := r.processMessage(ctx, sess, msg); err != nil {
			// A single bad message never kills a session (spec.md §7): log,
			// count, and keep draining.
			log.Error().Err(err).Str("content_session_id", sess.ContentSessionID).
				Int64("message_id", msg.ID).Str("message_type", string(msg.MessageType)).
				Msg("agent message processing failed")
		}
	}
}

func (r *Runner) processMessage(ctx context.Context, sess *Session, msg *persistence.PendingMessage) error {
	if err := r.ensureMemorySessionID(ctx, sess); err != nil {
		return err
	}
	if !sess.Initialized() {
		r.appendInitPrompt(sess)
		sess.MarkInitialized()
	}
	switch msg.MessageType {
	case persistence.MessageObservation:
		return r.processObservation(ctx, sess, msg)
	case persistence.MessageSummarize:
		return r.processSummarize(ctx, sess, msg)
	default:
		return fmt.Errorf("unknown pending message type %q", msg.MessageType)
	}
}

// ensureMemorySessionID implements spec.md §4.3 step 1: mint a deterministic
// id on first use and persist it; MemorySessionID is assigned once and never
// overwritten (Store.SetMemorySessionID already enforces that).
func (r *Runner) ensureMemorySessionID(ctx context.Context, sess *Session) error {
	if sess.MemorySessionID != "" {
		return nil
	}
	id := uuid.NewSHA1(uuid.NameSpaceOID, []byte(sess.ContentSessionID)).String()
	if err := r.Store.SetMemorySessionID(ctx, sess.SessionDBID, id); err != nil {
		return fmt.Errorf("set memory_session_id: %w", err)
	}
	sess.MemorySessionID = id
	return nil
}

func (r *Runner) appendInitPrompt(sess *Session) {
	text := renderTemplate("init", sess.Mode.InitPromptTemplate, map[string]any{
		"Project":           sess.Project,
		"ContentSessionID":  sess.ContentSessionID,
		"InitialPrompt":     sess.InitialPrompt,
	})
	sess.History.Append("user", text)
}

func (r *Runner) processObservation(ctx context.Context, sess *Session, msg *persistence.PendingMessage) error {
	var payload ObservationPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return apierr.New(apierr.KindParse, "malformed observation payload", err)
	}

	ts := payload.OriginalTimestampEpoch
	if ts == 0 {
		ts = msg.CreatedAtEpoch
	}
	prompt := renderTemplate("observation", sess.Mode.ObservationPromptTmpl, map[string]any{
		"Timestamp":    time.UnixMilli(ts).UTC().Format(time.RFC3339),
		"Cwd":          payload.Cwd,
		"ToolName":     payload.ToolName,
		"ToolInput":    string(payload.ToolInput),
		"ToolResponse": payload.ToolResponse,
	})
	sess.History.Append("user", prompt)

	reply, err := r.call(ctx, sess)
	if err != nil {
		return err
	}
	sess.History.Append("assistant", reply.Content)
	sess.SetLastAssistantMessage(reply.Content)

	// createdAtEpoch equals the enqueue time of the message that contributed
	// to it, not agent-completion time (spec.md §3/§8 backlog preservation).
	parsed := ParseObservations(reply.Content, msg.CreatedAtEpoch, payload.Cwd)
	observations := parsed.Observations
	for _, w := range parsed.Warnings {
		log.Warn().Str("content_session_id", sess.ContentSessionID).Msg("parse warning: " + w)
	}
	if !parsed.Productive {
		// ProviderEmpty/parse-empty: synthesise a fallback observation so
		// memory is never lost (spec.md §4.3 failure taxonomy).
		observations = []persistence.Observation{fallbackObservation(payload, msg.CreatedAtEpoch)}
	}

	total := llm.EstimateTokens(prompt) + llm.EstimateTokens(reply.Content)
	_, output := SplitTokenUsage(total)
	for i := range observations {
		observations[i].TokensUsed = output
	}

	res, err := r.Store.StoreObservations(ctx, sess.MemorySessionID, sess.Project, observations, nil, msg.CreatedAtEpoch)
	if err != nil {
		return fmt.Errorf("store observations: %w", err)
	}
	r.embedObservations(ctx, res.ObservationIDs, observations)
	return nil
}

func fallbackObservation(payload ObservationPayload, createdAtEpoch int64) persistence.Observation {
	return persistence.Observation{
		Type:           "change",
		Title:          "Unparsed tool event: " + payload.ToolName,
		Narrative:      truncateForNarrative(payload.ToolResponse),
		Cwd:            payload.Cwd,
		CreatedAtEpoch: createdAtEpoch,
	}
}

func truncateForNarrative(s string) string {
	const max = 4000
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}

func (r *Runner) processSummarize(ctx context.Context, sess *Session, msg *persistence.PendingMessage) error {
	var payload SummarizePayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return apierr.New(apierr.KindParse, "malformed summarize payload", err)
	}
	lastAssistant := payload.LastAssistantMessage
	if lastAssistant == "" {
		lastAssistant = sess.LastAssistantMessage()
	}
	prompt := renderTemplate("summarize", sess.Mode.SummarizePromptTmpl, map[string]any{
		"LastAssistantMessage": lastAssistant,
	})
	sess.History.Append("user", prompt)

	reply, err := r.call(ctx, sess)
	if err != nil {
		return err
	}
	sess.History.Append("assistant", reply.Content)

	summary := ParseSummary(reply.Content, sess.InitialPrompt, msg.CreatedAtEpoch)
	if summary == nil {
		return nil
	}

	res, err := r.Store.StoreObservations(ctx, sess.MemorySessionID, sess.Project, nil, summary, msg.CreatedAtEpoch)
	if err != nil {
		return fmt.Errorf("store summary: %w", err)
	}
	if res.SummaryID != nil && r.Embedder != nil {
		text := strings.Join([]string{summary.Request, summary.Investigated, summary.Learned, summary.Completed, summary.NextSteps, summary.Notes}, "\n")
		if err := r.Embedder.Embed(ctx, "summary", *res.SummaryID, text); err != nil {
			log.Warn().Err(err).Msg("summary embed failed; relational store remains authoritative")
		}
	}
	return nil
}

func (r *Runner) call(ctx context.Context, sess *Session) (llm.Message, error) {
	msgs := make([]llm.Message, 0, sess.History.Len())
	for _, t := range sess.History.Snapshot() {
		msgs = append(msgs, llm.Message{Role: t.Role, Content: t.Text})
	}
	return r.Provider.Chat(ctx, msgs, r.Model)
}

func (r *Runner) embedObservations(ctx context.Context, ids []int64, obs []persistence.Observation) {
	if r.Embedder == nil {
		return
	}
	for i, id := range ids {
		text := strings.Join([]string{obs[i].Title, obs[i].Subtitle, obs[i].Narrative}, "\n")
		if err := r.Embedder.Embed(ctx, "observation", id, text); err != nil {
			log.Warn().Err(err).Int64("observation_id", id).Msg("observation embed failed; relational store remains authoritative")
		}
	}
}

func renderTemplate(name, tmpl string, data map[string]any) string {
	t, err := template.New(name).Parse(tmpl)
	if err != nil {
		log.Warn().Err(err).Str("template", name).Msg("mode prompt template failed to parse; using raw template text")
		return tmpl
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		log.Warn().Err(err).Str("template", name).Msg("mode prompt template failed to render")
		return tmpl
	}
	return buf.String()
}
