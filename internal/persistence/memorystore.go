package persistence

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"memoryd/internal/persistence/databases"
)

// memoryStore is the zero-dependency Store (C1/C3) backend, grounded on the
// same in-memory pattern as databases.memorySearch/memoryVector: a mutex
// guarding plain maps. It is the only Store implementation, whatever DSN is
// configured; its records live in process memory and are not kept across a
// restart.
type memoryStore struct {
	mu sync.Mutex

	nextSessionID int64
	nextPromptID  int64
	nextObsID     int64
	nextSummaryID int64
	nextMsgID     int64

	sessionsByContentID map[string]*Session
	sessionsByDBID      map[int64]*Session

	prompts      []*UserPrompt
	observations []*Observation
	summaries    map[int64]*Summary // latest summary per sessionDBID

	queue map[int64][]*PendingMessage // sessionDBID -> pending

	obsSearch    databases.FullTextSearch
	summarySearch databases.FullTextSearch
	promptSearch databases.FullTextSearch
}

// NewMemoryStore returns an in-memory Store backed by in-memory full-text
// indices for observations, summaries and prompts.
func NewMemoryStore() Store {
	return NewMemoryStoreWithSearch(databases.NewMemorySearch(), databases.NewMemorySearch(), databases.NewMemorySearch())
}

// NewMemoryStoreWithSearch returns an in-memory Store whose relational
// records (sessions, prompts, observations, summaries, queue) live in
// process memory but whose full-text indices are whatever FullTextSearch
// backends the caller supplies — e.g. three databases.NewKindScoped views
// over a single Postgres-backed documents table, per spec.md §4.1's "full-
// text indices kept consistent with base rows" requirement.
func NewMemoryStoreWithSearch(obsSearch, summarySearch, promptSearch databases.FullTextSearch) Store {
	return &memoryStore{
		sessionsByContentID: make(map[string]*Session),
		sessionsByDBID:      make(map[int64]*Session),
		summaries:           make(map[int64]*Summary),
		queue:               make(map[int64][]*PendingMessage),
		obsSearch:           obsSearch,
		summarySearch:       summarySearch,
		promptSearch:        promptSearch,
	}
}

func (m *memoryStore) Close() {}

func (m *memoryStore) CreateOrGetSession(ctx context.Context, contentSessionID, platform, project, initialPrompt string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessionsByContentID[contentSessionID]; ok {
		return *s, nil
	}
	m.nextSessionID++
	now := time.Now().UTC()
	s := &Session{
		SessionDBID:      m.nextSessionID,
		ContentSessionID: contentSessionID,
		Platform:         platform,
		Project:          project,
		InitialPrompt:    initialPrompt,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	m.sessionsByContentID[contentSessionID] = s
	m.sessionsByDBID[s.SessionDBID] = s
	return *s, nil
}

func (m *memoryStore) GetSession(ctx context.Context, contentSessionID string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessionsByContentID[contentSessionID]
	if !ok {
		return Session{}, ErrNotFound
	}
	return *s, nil
}

func (m *memoryStore) GetSessionByID(ctx context.Context, sessionDBID int64) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessionsByDBID[sessionDBID]
	if !ok {
		return Session{}, ErrNotFound
	}
	return *s, nil
}

func (m *memoryStore) SetMemorySessionID(ctx context.Context, sessionDBID int64, memorySessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessionsByDBID[sessionDBID]
	if !ok {
		return ErrNotFound
	}
	if s.MemorySessionID == "" { // assigned once, never overwritten
		s.MemorySessionID = memorySessionID
		s.UpdatedAt = time.Now().UTC()
	}
	return nil
}

func (m *memoryStore) DeleteSession(ctx context.Context, contentSessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessionsByContentID[contentSessionID]
	if !ok {
		return ErrNotFound
	}
	delete(m.sessionsByContentID, contentSessionID)
	delete(m.sessionsByDBID, s.SessionDBID)
	delete(m.queue, s.SessionDBID)
	return nil
}

func (m *memoryStore) AppendUserPrompt(ctx context.Context, contentSessionID, promptText string, createdAtEpoch int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, p := range m.prompts {
		if p.ContentSessionID == contentSessionID {
			n++
		}
	}
	m.nextPromptID++
	promptNumber := n + 1
	p := &UserPrompt{ID: m.nextPromptID, ContentSessionID: contentSessionID, PromptNumber: promptNumber, PromptText: promptText, CreatedAtEpoch: createdAtEpoch}
	m.prompts = append(m.prompts, p)
	_ = m.promptSearch.Index(ctx, fmt.Sprintf("%d", p.ID), promptText, map[string]string{"content_session_id": contentSessionID})
	return promptNumber, nil
}

func (m *memoryStore) GetPromptsPage(ctx context.Context, filter Filter, offset, limit int) ([]UserPrompt, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []UserPrompt
	for _, p := range m.prompts {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAtEpoch > out[j].CreatedAtEpoch })
	return paginate(out, offset, limit)
}

func (m *memoryStore) SearchUserPrompts(ctx context.Context, query string, filter Filter, limit int) ([]ScoredRow, bool, error) {
	hits, err := m.promptSearch.Search(ctx, query, limit)
	if err != nil {
		return nil, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	byID := map[string]*UserPrompt{}
	for _, p := range m.prompts {
		byID[fmt.Sprintf("%d", p.ID)] = p
	}
	var out []ScoredRow
	for _, h := range hits {
		p, ok := byID[h.ID]
		if !ok {
			continue
		}
		out = append(out, ScoredRow{ID: p.ID, Score: h.Score, Title: p.PromptText, CreatedAtEpoch: p.CreatedAtEpoch})
	}
	return out, false, nil
}

func (m *memoryStore) StoreObservations(ctx context.Context, memorySessionID, project string, observations []Observation, summary *Summary, createdAtEpoch int64) (StoreResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res StoreResult
	res.CreatedAtEpoch = createdAtEpoch
	for i := range observations {
		m.nextObsID++
		o := observations[i]
		o.ID = m.nextObsID
		o.MemorySessionID = memorySessionID
		o.Project = project
		if o.CreatedAtEpoch == 0 {
			o.CreatedAtEpoch = createdAtEpoch
		}
		m.observations = append(m.observations, &o)
		res.ObservationIDs = append(res.ObservationIDs, o.ID)
		_ = m.obsSearch.Index(ctx, fmt.Sprintf("%d", o.ID), observationText(&o), map[string]string{"project": project, "type": o.Type})
	}
	if summary != nil {
		m.nextSummaryID++
		s := *summary
		s.ID = m.nextSummaryID
		s.MemorySessionID = memorySessionID
		s.Project = project
		if s.CreatedAtEpoch == 0 {
			s.CreatedAtEpoch = createdAtEpoch
		}
		// replaced on each summarize, keyed by session
		for _, sess := range m.sessionsByDBID {
			if sess.MemorySessionID == memorySessionID {
				m.summaries[sess.SessionDBID] = &s
				break
			}
		}
		res.SummaryID = &s.ID
		_ = m.summarySearch.Index(ctx, fmt.Sprintf("%d", s.ID), summaryText(&s), map[string]string{"project": project})
	}
	return res, nil
}

func observationText(o *Observation) string {
	return strings.Join([]string{o.Title, o.Subtitle, o.Narrative, strings.Join(o.Facts, " ")}, "\n")
}

func summaryText(s *Summary) string {
	return strings.Join([]string{s.Request, s.Investigated, s.Learned, s.Completed, s.NextSteps, s.Notes}, "\n")
}

func (m *memoryStore) GetObservationsByIDs(ctx context.Context, ids []int64) ([]Observation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := map[int64]bool{}
	for _, id := range ids {
		want[id] = true
	}
	var out []Observation
	for _, o := range m.observations {
		if want[o.ID] {
			out = append(out, *o)
		}
	}
	return out, nil
}

func matchesFilter(project, typ string, f Filter) bool {
	if f.Project != "" && f.Project != project {
		return false
	}
	if f.Type != "" && f.Type != typ {
		return false
	}
	return true
}

func (m *memoryStore) GetObservationsPage(ctx context.Context, filter Filter, orderBy string, offset, limit int) ([]Observation, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Observation
	for _, o := range m.observations {
		if matchesFilter(o.Project, o.Type, filter) {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAtEpoch > out[j].CreatedAtEpoch })
	return paginate(out, offset, limit)
}

func (m *memoryStore) GetSummariesPage(ctx context.Context, filter Filter, offset, limit int) ([]Summary, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Summary
	for _, s := range m.summaries {
		if filter.Project == "" || filter.Project == s.Project {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAtEpoch > out[j].CreatedAtEpoch })
	return paginate(out, offset, limit)
}

func (m *memoryStore) SearchObservations(ctx context.Context, query string, filter Filter, limit int) ([]ScoredRow, bool, error) {
	hits, err := m.obsSearch.Search(ctx, query, limit)
	if err != nil {
		return nil, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	byID := map[string]*Observation{}
	for _, o := range m.observations {
		byID[fmt.Sprintf("%d", o.ID)] = o
	}
	var out []ScoredRow
	for _, h := range hits {
		o, ok := byID[h.ID]
		if !ok || !matchesFilter(o.Project, o.Type, filter) {
			continue
		}
		out = append(out, ScoredRow{ID: o.ID, Score: h.Score, Title: o.Title, Snippet: h.Snippet, CreatedAtEpoch: o.CreatedAtEpoch})
	}
	return out, false, nil
}

func (m *memoryStore) SearchSummaries(ctx context.Context, query string, filter Filter, limit int) ([]ScoredRow, bool, error) {
	hits, err := m.summarySearch.Search(ctx, query, limit)
	if err != nil {
		return nil, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	byID := map[string]*Summary{}
	for _, s := range m.summaries {
		byID[fmt.Sprintf("%d", s.ID)] = s
	}
	var out []ScoredRow
	for _, h := range hits {
		s, ok := byID[h.ID]
		if !ok || (filter.Project != "" && filter.Project != s.Project) {
			continue
		}
		out = append(out, ScoredRow{ID: s.ID, Score: h.Score, Title: s.Request, Snippet: h.Snippet, CreatedAtEpoch: s.CreatedAtEpoch})
	}
	return out, false, nil
}

func (m *memoryStore) GetTimeline(ctx context.Context, anchorID int64, depthBefore, depthAfter int, project string) ([]TimelineEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []TimelineEntry
	for _, o := range m.observations {
		if project != "" && o.Project != project {
			continue
		}
		oc := *o
		all = append(all, TimelineEntry{Kind: "observation", Observation: &oc, CreatedAtEpoch: o.CreatedAtEpoch})
	}
	for _, s := range m.summaries {
		if project != "" && s.Project != project {
			continue
		}
		sc := *s
		all = append(all, TimelineEntry{Kind: "summary", Summary: &sc, CreatedAtEpoch: s.CreatedAtEpoch})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAtEpoch < all[j].CreatedAtEpoch })

	anchorIdx := -1
	for i, e := range all {
		if e.Kind == "observation" && e.Observation.ID == anchorID {
			anchorIdx = i
			break
		}
	}
	if anchorIdx == -1 {
		if len(all) == 0 {
			return nil, nil
		}
		anchorIdx = len(all) - 1
	}
	start := anchorIdx - depthBefore
	if start < 0 {
		start = 0
	}
	end := anchorIdx + depthAfter + 1
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], nil
}

func (m *memoryStore) ListProjects(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := map[string]bool{}
	var out []string
	for _, s := range m.sessionsByDBID {
		if !seen[s.Project] {
			seen[s.Project] = true
			out = append(out, s.Project)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *memoryStore) Enqueue(ctx context.Context, sessionDBID int64, contentSessionID string, msgType MessageType, payload []byte, createdAtEpoch int64, cap int) (PendingMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cap > 0 && len(m.queue[sessionDBID]) >= cap {
		return PendingMessage{}, ErrOverCap
	}
	m.nextMsgID++
	msg := &PendingMessage{ID: m.nextMsgID, SessionDBID: sessionDBID, ContentSessionID: contentSessionID, MessageType: msgType, Payload: payload, CreatedAtEpoch: createdAtEpoch}
	m.queue[sessionDBID] = append(m.queue[sessionDBID], msg)
	return *msg, nil
}

// ClaimAndDelete implements spec.md §4.2's strict order: priority ascending
// (summarize before observation), then id ascending, as one atomic step.
func (m *memoryStore) ClaimAndDelete(ctx context.Context, sessionDBID int64) (*PendingMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.queue[sessionDBID]
	if len(q) == 0 {
		return nil, nil
	}
	bestIdx := 0
	for i := 1; i < len(q); i++ {
		if q[i].MessageType.priority() < q[bestIdx].MessageType.priority() ||
			(q[i].MessageType.priority() == q[bestIdx].MessageType.priority() && q[i].ID < q[bestIdx].ID) {
			bestIdx = i
		}
	}
	msg := q[bestIdx]
	m.queue[sessionDBID] = append(q[:bestIdx], q[bestIdx+1:]...)
	return msg, nil
}

func (m *memoryStore) GetOldestActiveMessageAgeMs(ctx context.Context, now time.Time) (*int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var oldest int64 = -1
	nowMs := now.UnixMilli()
	for _, q := range m.queue {
		for _, msg := range q {
			age := nowMs - msg.CreatedAtEpoch
			if oldest == -1 || age > oldest {
				oldest = age
			}
		}
	}
	if oldest == -1 {
		return nil, nil
	}
	return &oldest, nil
}

func (m *memoryStore) GetTotalActiveCount(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, q := range m.queue {
		total += len(q)
	}
	return total, nil
}

func (m *memoryStore) GetQueueMessages(ctx context.Context) ([]PendingMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []PendingMessage
	for _, q := range m.queue {
		for _, msg := range q {
			out = append(out, *msg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func paginate[T any](items []T, offset, limit int) ([]T, bool, error) {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return nil, false, nil
	}
	end := len(items)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	hasMore := end < len(items)
	return items[offset:end], hasMore, nil
}
