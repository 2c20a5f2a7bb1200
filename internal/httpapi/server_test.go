package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memoryd/internal/config"
	"memoryd/internal/persistence"
	"memoryd/internal/query"
)

// fakeScheduler satisfies SchedulerLike without starting any real agent
// loop; it just records which sessions were kicked or aborted.
type fakeScheduler struct {
	mu      sync.Mutex
	kicked  []int64
	aborted []int64
}

func (f *fakeScheduler) Kick(ctx context.Context, sessionDBID int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kicked = append(f.kicked, sessionDBID)
}
func (f *fakeScheduler) Abort(sessionDBID int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aborted = append(f.aborted, sessionDBID)
}
func (f *fakeScheduler) ActiveCount() int { return 0 }

func newTestServer() (*Server, *fakeScheduler) {
	store := persistence.NewMemoryStore()
	sched := &fakeScheduler{}
	q := &query.Engine{Store: store}
	cfg := config.Default()
	srv := NewServer(store, sched, q, cfg)
	return srv, sched
}

func doJSON(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

// scenario 6 from spec.md §8: a prompt fully enclosed in <private>...</private>
// is accepted but not stored, and does not broadcast new_prompt.
func TestSessionsInit_PrivatePromptSkipped(t *testing.T) {
	srv, _ := newTestServer()
	rec := doJSON(t, srv, "POST", "/sessions/init", sessionsInitRequest{
		ContentSessionID: "s1",
		Project:          "proj",
		Prompt:           "<private>secret</private>",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp skippedResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Skipped)
	assert.Equal(t, "private", resp.Reason)

	_, err := srv.Store.GetSession(context.Background(), "s1")
	assert.ErrorIs(t, err, persistence.ErrNotFound, "a private-only prompt must not create a session or a stored prompt")
}

func TestSessionsInit_NormalPromptStoredAndBroadcast(t *testing.T) {
	srv, _ := newTestServer()

	rec := doJSON(t, srv, "POST", "/sessions/init", sessionsInitRequest{
		ContentSessionID: "s2",
		Project:          "proj",
		Prompt:           "please fix the bug",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp skippedResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Skipped)

	sess, err := srv.Store.GetSession(context.Background(), "s2")
	require.NoError(t, err)
	assert.Equal(t, "proj", sess.Project)
}

// scenario 7 from spec.md §8: an observer-bootstrap payload is skipped; a
// normal payload is queued and kicks the scheduler exactly once.
func TestSessionsObservations_BootstrapSkippedNormalQueued(t *testing.T) {
	srv, sched := newTestServer()
	doJSON(t, srv, "POST", "/sessions/init", sessionsInitRequest{ContentSessionID: "s3", Project: "p", Prompt: "hi"})

	rec := doJSON(t, srv, "POST", "/sessions/observations", sessionsObservationsRequest{
		ContentSessionID: "s3",
		ToolName:         "Read",
		ToolResponse:     "You are the memory observer, bootstrapping.",
	})
	var resp queuedResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "skipped", resp.Status)
	assert.Equal(t, "observer_bootstrap", resp.Reason)

	rec2 := doJSON(t, srv, "POST", "/sessions/observations", sessionsObservationsRequest{
		ContentSessionID: "s3",
		ToolName:         "Read",
		ToolResponse:     "read some file contents",
	})
	var resp2 queuedResponse
	require.NoError(t, json.Unmarshal(rec2.Body.Bytes(), &resp2))
	assert.Equal(t, "queued", resp2.Status)

	sched.mu.Lock()
	defer sched.mu.Unlock()
	assert.Len(t, sched.kicked, 1, "only the non-bootstrap observation should kick the scheduler")
}

// Over-cap enqueue is rejected, not silently dropped (spec.md §8 Boundaries).
func TestSessionsObservations_OverCapRejectedAs429(t *testing.T) {
	srv, _ := newTestServer()
	srv.Config.Scheduler.MaxPendingPerSession = 1
	doJSON(t, srv, "POST", "/sessions/init", sessionsInitRequest{ContentSessionID: "s4", Project: "p", Prompt: "hi"})

	rec1 := doJSON(t, srv, "POST", "/sessions/observations", sessionsObservationsRequest{ContentSessionID: "s4", ToolResponse: "first"})
	require.Equal(t, http.StatusOK, rec1.Code)

	rec2 := doJSON(t, srv, "POST", "/sessions/observations", sessionsObservationsRequest{ContentSessionID: "s4", ToolResponse: "second"})
	assert.Equal(t, http.StatusTooManyRequests, rec2.Code)
}

func TestSettings_MasksAPIKeyLikeValues(t *testing.T) {
	srv, _ := newTestServer()
	srv.Config.Anthropic.APIKey = "sk-ant-abcdefgh1234"

	rec := doJSON(t, srv, "GET", "/settings", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "***masked***")
	assert.Contains(t, rec.Body.String(), "1234", "the last four characters must survive masking")
	assert.NotContains(t, rec.Body.String(), "sk-ant-abcdefgh1234")
}
