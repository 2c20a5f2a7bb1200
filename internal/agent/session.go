// Package agent implements the Agent (C5) from spec.md §4.3: a
// provider-polymorphic loop that drains one session's PendingQueue, grows a
// shared conversation history, calls an LLM, parses XML-tagged responses
// into observations/summaries, and persists them.
package agent

import (
	"sync"

	"memoryd/internal/mode"
)

// Turn is one entry in a session's conversation history, per spec.md §9:
// "the history is a per-session ordered list of (role, text)".
type Turn struct {
	Role string // "system" | "user" | "assistant"
	Text string
}

// Conversation is the shared, append-only history for one session. Ownership
// belongs to the Session; a fallback provider taking over mid-session is a
// consumer of this history, never a mutator of prior turns (spec.md §9).
type Conversation struct {
	mu    sync.Mutex
	turns []Turn
}

func (c *Conversation) Append(role, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.turns = append(c.turns, Turn{Role: role, Text: text})
}

// Snapshot returns a copy of the turns seen so far, safe to hand to a
// provider without risk of a concurrent append racing the read.
func (c *Conversation) Snapshot() []Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Turn, len(c.turns))
	copy(out, c.turns)
	return out
}

func (c *Conversation) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.turns)
}

// Session is the in-memory state an Agent loop threads through a chain of
// providers: identity, the active Mode, and the growing Conversation.
type Session struct {
	SessionDBID      int64
	ContentSessionID string
	MemorySessionID  string
	Project          string
	InitialPrompt    string
	Mode             mode.Mode
	History          *Conversation

	mu           sync.Mutex
	initDone     bool
	lastAssistant string
}

// NewSession starts a fresh conversation for a session that has not yet had
// an agent turn.
func NewSession(sessionDBID int64, contentSessionID, memorySessionID, project, initialPrompt string, m mode.Mode) *Session {
	return &Session{
		SessionDBID:      sessionDBID,
		ContentSessionID: contentSessionID,
		MemorySessionID:  memorySessionID,
		Project:          project,
		InitialPrompt:    initialPrompt,
		Mode:             m,
		History:          &Conversation{},
	}
}

// MarkInitialized records that the init prompt has been appended, so later
// claims in the same loop don't repeat it.
func (s *Session) MarkInitialized() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initDone = true
}

func (s *Session) Initialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initDone
}

// SetLastAssistantMessage records the most recent assistant reply, used to
// build a summarize prompt per spec.md §4.3 step 4.
func (s *Session) SetLastAssistantMessage(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastAssistant = text
}

func (s *Session) LastAssistantMessage() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAssistant
}
