// Package persistence implements Store (C1) and PendingQueue (C3) from
// spec.md §4.1/§4.2: typed operations over sessions, prompts, observations,
// summaries, and the pending-message queue. The queue table lives in the
// same Store so crash recovery resumes in-flight work from one place.
package persistence

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrOverCap   = errors.New("pending queue cap exceeded for session")
	ErrForbidden = errors.New("forbidden")
)

// MessageType is the PendingMessage discriminator from spec.md §3.
type MessageType string

const (
	MessageObservation MessageType = "observation"
	MessageSummarize   MessageType = "summarize"
)

// priority implements the claim order from spec.md §4.2: summarize (0)
// always precedes observation (1).
func (t MessageType) priority() int {
	if t == MessageSummarize {
		return 0
	}
	return 1
}

// Session is the Session entity from spec.md §3.
type Session struct {
	SessionDBID     int64
	ContentSessionID string
	Platform        string // hosted-agent | transcript | cursor
	Project         string
	InitialPrompt   string
	MemorySessionID string // empty until first agent turn
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// UserPrompt is the UserPrompt entity from spec.md §3.
type UserPrompt struct {
	ID               int64
	ContentSessionID string
	PromptNumber     int
	PromptText       string
	CreatedAtEpoch   int64
}

// PendingMessage is the PendingMessage entity from spec.md §3.
type PendingMessage struct {
	ID               int64
	SessionDBID      int64
	ContentSessionID string
	MessageType      MessageType
	Payload          []byte // JSON blob; see agent.ObservationPayload / SummarizePayload
	CreatedAtEpoch   int64
}

// Observation is the Observation entity from spec.md §3.
type Observation struct {
	ID              int64
	SessionDBID     int64
	MemorySessionID string
	Project         string
	Type            string // discovery|bugfix|feature|refactor|decision|change
	Title           string
	Subtitle        string
	Narrative       string
	Facts           []string
	Concepts        []string
	FilesRead       []string
	FilesModified   []string
	TokensUsed      int
	CreatedAtEpoch  int64
	Cwd             string
}

// Summary is the Summary entity from spec.md §3.
type Summary struct {
	ID              int64
	SessionDBID     int64
	MemorySessionID string
	Project         string
	Request         string
	Investigated    string
	Learned         string
	Completed       string
	NextSteps       string
	Notes           string
	CreatedAtEpoch  int64
}

// Filter narrows full-text and page queries, per spec.md §4.1's filter list.
type Filter struct {
	Project    string
	Type       string
	Concept    string
	FilePath   string
	DateStart  int64
	DateEnd    int64
}

// ScoredRow is a full-text search hit over observations/summaries/prompts.
type ScoredRow struct {
	ID       int64
	Score    float64
	Title    string
	Snippet  string
	CreatedAtEpoch int64
}

// StoreResult is the atomic outcome of StoreObservations.
type StoreResult struct {
	ObservationIDs []int64
	SummaryID      *int64
	CreatedAtEpoch int64
}

// TimelineEntry interleaves observations and summaries chronologically, per
// spec.md §4.5's getTimeline/timeline contract.
type TimelineEntry struct {
	Kind           string // "observation" | "summary"
	Observation    *Observation
	Summary        *Summary
	CreatedAtEpoch int64
}

// Store is the typed persistence contract from spec.md §4.1/§4.2. Every
// write is atomic at the record-set granularity; full-text indices are
// updated in the same call as the base rows, and an index error does not
// fail the write.
type Store interface {
	// Sessions and prompts.
	CreateOrGetSession(ctx context.Context, contentSessionID, platform, project, initialPrompt string) (Session, error)
	GetSession(ctx context.Context, contentSessionID string) (Session, error)
	GetSessionByID(ctx context.Context, sessionDBID int64) (Session, error)
	SetMemorySessionID(ctx context.Context, sessionDBID int64, memorySessionID string) error
	DeleteSession(ctx context.Context, contentSessionID string) error
	AppendUserPrompt(ctx context.Context, contentSessionID, promptText string, createdAtEpoch int64) (promptNumber int, err error)
	GetPromptsPage(ctx context.Context, filter Filter, offset, limit int) ([]UserPrompt, bool, error)
	SearchUserPrompts(ctx context.Context, query string, filter Filter, limit int) ([]ScoredRow, bool, error)

	// Observations and summaries.
	StoreObservations(ctx context.Context, memorySessionID, project string, observations []Observation, summary *Summary, createdAtEpoch int64) (StoreResult, error)
	GetObservationsByIDs(ctx context.Context, ids []int64) ([]Observation, error)
	GetObservationsPage(ctx context.Context, filter Filter, orderBy string, offset, limit int) ([]Observation, bool, error)
	GetSummariesPage(ctx context.Context, filter Filter, offset, limit int) ([]Summary, bool, error)
	SearchObservations(ctx context.Context, query string, filter Filter, limit int) ([]ScoredRow, bool, error)
	SearchSummaries(ctx context.Context, query string, filter Filter, limit int) ([]ScoredRow, bool, error)
	GetTimeline(ctx context.Context, anchorID int64, depthBefore, depthAfter int, project string) ([]TimelineEntry, error)
	ListProjects(ctx context.Context) ([]string, error)

	// PendingQueue (C3).
	Enqueue(ctx context.Context, sessionDBID int64, contentSessionID string, msgType MessageType, payload []byte, createdAtEpoch int64, cap int) (PendingMessage, error)
	ClaimAndDelete(ctx context.Context, sessionDBID int64) (*PendingMessage, error)
	GetOldestActiveMessageAgeMs(ctx context.Context, now time.Time) (*int64, error)
	GetTotalActiveCount(ctx context.Context) (int, error)
	GetQueueMessages(ctx context.Context) ([]PendingMessage, error)

	Close()
}
