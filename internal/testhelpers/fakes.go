package testhelpers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"memoryd/internal/llm"
	"memoryd/internal/persistence"
)

// FakeProvider is a fixed-response llm.Provider stand-in for agent/scheduler
// tests that don't want to exercise a real hosted/local-http/CLI client.
type FakeProvider struct {
	Resp llm.Message
	Err  error
}

func (f *FakeProvider) Chat(ctx context.Context, msgs []llm.Message, model string) (llm.Message, error) {
	if f.Err != nil {
		return llm.Message{}, f.Err
	}
	return f.Resp, nil
}

// NewTestServer returns an httptest.Server for the given handler func.
func NewTestServer(handler func(w http.ResponseWriter, r *http.Request)) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(handler))
}

// WaitGroupDoneOnce returns a function that will call wg.Done() only once; useful for
// tests that need to ensure a WaitGroup is decremented a single time from multiple places.
func WaitGroupDoneOnce(wg *sync.WaitGroup) func() {
	once := sync.Once{}
	return func() { once.Do(wg.Done) }
}

// FakeStore is a minimal in-memory persistence.Store for package tests that
// only exercise a handful of methods (the scheduler, the session loader).
// Unimplemented methods panic so a test that starts relying on them fails
// loudly instead of silently reading zero values.
type FakeStore struct {
	mu       sync.Mutex
	sessions map[int64]persistence.Session
	queue    map[int64][]persistence.PendingMessage

	// ClaimAndDeleteFunc, if set, overrides the default queue-draining
	// behaviour (e.g. to simulate an error on claim).
	ClaimAndDeleteFunc func(ctx context.Context, sessionDBID int64) (*persistence.PendingMessage, error)

	nextID       int64
	Observations []persistence.Observation
	Summaries    []persistence.Summary
}

// NewFakeStore returns a FakeStore with sessionsByDBID seeded from sessions.
func NewFakeStore(sessions ...persistence.Session) *FakeStore {
	s := &FakeStore{
		sessions: make(map[int64]persistence.Session),
		queue:    make(map[int64][]persistence.PendingMessage),
	}
	for _, sess := range sessions {
		s.sessions[sess.SessionDBID] = sess
	}
	return s
}

// Enqueue appends a pending message for sessionDBID, used to seed queue
// state for a scheduler/runner test ahead of a Kick.
func (s *FakeStore) Enqueue(ctx context.Context, sessionDBID int64, contentSessionID string, msgType persistence.MessageType, payload []byte, createdAtEpoch int64, cap int) (persistence.PendingMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg := persistence.PendingMessage{
		ID:               int64(len(s.queue[sessionDBID]) + 1),
		SessionDBID:      sessionDBID,
		ContentSessionID: contentSessionID,
		MessageType:      msgType,
		Payload:          payload,
		CreatedAtEpoch:   createdAtEpoch,
	}
	s.queue[sessionDBID] = append(s.queue[sessionDBID], msg)
	return msg, nil
}

func (s *FakeStore) ClaimAndDelete(ctx context.Context, sessionDBID int64) (*persistence.PendingMessage, error) {
	if s.ClaimAndDeleteFunc != nil {
		return s.ClaimAndDeleteFunc(ctx, sessionDBID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.queue[sessionDBID]
	if len(q) == 0 {
		return nil, nil
	}
	msg := q[0]
	s.queue[sessionDBID] = q[1:]
	return &msg, nil
}

func (s *FakeStore) GetSessionByID(ctx context.Context, sessionDBID int64) (persistence.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionDBID]
	if !ok {
		return persistence.Session{}, persistence.ErrNotFound
	}
	return sess, nil
}

func (s *FakeStore) CreateOrGetSession(ctx context.Context, contentSessionID, platform, project, initialPrompt string) (persistence.Session, error) {
	panic("FakeStore.CreateOrGetSession not implemented")
}
func (s *FakeStore) GetSession(ctx context.Context, contentSessionID string) (persistence.Session, error) {
	panic("FakeStore.GetSession not implemented")
}
func (s *FakeStore) SetMemorySessionID(ctx context.Context, sessionDBID int64, memorySessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.sessions[sessionDBID]
	sess.MemorySessionID = memorySessionID
	s.sessions[sessionDBID] = sess
	return nil
}
func (s *FakeStore) DeleteSession(ctx context.Context, contentSessionID string) error {
	panic("FakeStore.DeleteSession not implemented")
}
func (s *FakeStore) AppendUserPrompt(ctx context.Context, contentSessionID, promptText string, createdAtEpoch int64) (int, error) {
	panic("FakeStore.AppendUserPrompt not implemented")
}
func (s *FakeStore) GetPromptsPage(ctx context.Context, filter persistence.Filter, offset, limit int) ([]persistence.UserPrompt, bool, error) {
	panic("FakeStore.GetPromptsPage not implemented")
}
func (s *FakeStore) SearchUserPrompts(ctx context.Context, query string, filter persistence.Filter, limit int) ([]persistence.ScoredRow, bool, error) {
	panic("FakeStore.SearchUserPrompts not implemented")
}
// StoreObservations is a minimal in-memory stand-in for the real Store's
// atomic write, used by runner_test.go to exercise the full agent loop
// without a database.
func (s *FakeStore) StoreObservations(ctx context.Context, memorySessionID, project string, observations []persistence.Observation, summary *persistence.Summary, createdAtEpoch int64) (persistence.StoreResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res := persistence.StoreResult{CreatedAtEpoch: createdAtEpoch}
	for _, o := range observations {
		s.nextID++
		o.ID = s.nextID
		s.Observations = append(s.Observations, o)
		res.ObservationIDs = append(res.ObservationIDs, o.ID)
	}
	if summary != nil {
		s.nextID++
		summary.ID = s.nextID
		s.Summaries = append(s.Summaries, *summary)
		id := summary.ID
		res.SummaryID = &id
	}
	return res, nil
}
func (s *FakeStore) GetObservationsByIDs(ctx context.Context, ids []int64) ([]persistence.Observation, error) {
	panic("FakeStore.GetObservationsByIDs not implemented")
}
func (s *FakeStore) GetObservationsPage(ctx context.Context, filter persistence.Filter, orderBy string, offset, limit int) ([]persistence.Observation, bool, error) {
	panic("FakeStore.GetObservationsPage not implemented")
}
func (s *FakeStore) GetSummariesPage(ctx context.Context, filter persistence.Filter, offset, limit int) ([]persistence.Summary, bool, error) {
	panic("FakeStore.GetSummariesPage not implemented")
}
func (s *FakeStore) SearchObservations(ctx context.Context, query string, filter persistence.Filter, limit int) ([]persistence.ScoredRow, bool, error) {
	panic("FakeStore.SearchObservations not implemented")
}
func (s *FakeStore) SearchSummaries(ctx context.Context, query string, filter persistence.Filter, limit int) ([]persistence.ScoredRow, bool, error) {
	panic("FakeStore.SearchSummaries not implemented")
}
func (s *FakeStore) GetTimeline(ctx context.Context, anchorID int64, depthBefore, depthAfter int, project string) ([]persistence.TimelineEntry, error) {
	panic("FakeStore.GetTimeline not implemented")
}
func (s *FakeStore) ListProjects(ctx context.Context) ([]string, error) {
	panic("FakeStore.ListProjects not implemented")
}
func (s *FakeStore) GetOldestActiveMessageAgeMs(ctx context.Context, now time.Time) (*int64, error) {
	panic("FakeStore.GetOldestActiveMessageAgeMs not implemented")
}
func (s *FakeStore) GetTotalActiveCount(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, q := range s.queue {
		total += len(q)
	}
	return total, nil
}
func (s *FakeStore) GetQueueMessages(ctx context.Context) ([]persistence.PendingMessage, error) {
	panic("FakeStore.GetQueueMessages not implemented")
}
func (s *FakeStore) Close() {}
