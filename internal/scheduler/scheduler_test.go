package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memoryd/internal/agent"
	"memoryd/internal/mode"
	"memoryd/internal/persistence"
	"memoryd/internal/testhelpers"
)

// recordingLoader counts Load calls per sessionDBID and hands back a Runner
// whose Store drains from a shared FakeStore, so a test can seed pending
// messages before calling Kick.
type recordingLoader struct {
	store *testhelpers.FakeStore

	mu    sync.Mutex
	calls map[int64]int
}

func newRecordingLoader(store *testhelpers.FakeStore) *recordingLoader {
	return &recordingLoader{store: store, calls: make(map[int64]int)}
}

func (l *recordingLoader) Load(ctx context.Context, sessionDBID int64) (*agent.Session, *agent.Runner, error) {
	l.mu.Lock()
	l.calls[sessionDBID]++
	l.mu.Unlock()

	sess := agent.NewSession(sessionDBID, "content", "", "proj", "hello", mode.Default())
	runner := &agent.Runner{Store: l.store}
	return sess, runner, nil
}

func (l *recordingLoader) callCount(sessionDBID int64) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls[sessionDBID]
}

func TestKick_EmptyQueueDrainsImmediately(t *testing.T) {
	store := testhelpers.NewFakeStore(persistence.Session{SessionDBID: 1})
	loader := newRecordingLoader(store)
	s := New(store, loader, 4)

	s.Kick(context.Background(), 1)

	require.Eventually(t, func() bool { return !s.Active(1) }, time.Second, time.Millisecond)
	assert.Equal(t, 1, loader.callCount(1))
}

func TestKick_SecondCallWhileActiveIsNoop(t *testing.T) {
	store := testhelpers.NewFakeStore(persistence.Session{SessionDBID: 1})
	blocked := make(chan struct{})
	store.ClaimAndDeleteFunc = func(ctx context.Context, sessionDBID int64) (*persistence.PendingMessage, error) {
		<-blocked
		return nil, nil
	}
	loader := newRecordingLoader(store)
	s := New(store, loader, 4)

	s.Kick(context.Background(), 1)
	require.Eventually(t, func() bool { return s.Active(1) }, time.Second, time.Millisecond)

	// A second Kick while the first task is still in flight must not start
	// a second Load/Runner for the same session.
	s.Kick(context.Background(), 1)
	close(blocked)

	require.Eventually(t, func() bool { return !s.Active(1) }, time.Second, time.Millisecond)
	assert.Equal(t, 1, loader.callCount(1))
}

func TestKick_RespectsGlobalConcurrencyCap(t *testing.T) {
	store := testhelpers.NewFakeStore(
		persistence.Session{SessionDBID: 1},
		persistence.Session{SessionDBID: 2},
		persistence.Session{SessionDBID: 3},
	)
	release := make(chan struct{})
	var inFlight int32
	var maxInFlight int32
	store.ClaimAndDeleteFunc = func(ctx context.Context, sessionDBID int64) (*persistence.PendingMessage, error) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			cur := atomic.LoadInt32(&maxInFlight)
			if n <= cur || atomic.CompareAndSwapInt32(&maxInFlight, cur, n) {
				break
			}
		}
		<-release
		atomic.AddInt32(&inFlight, -1)
		return nil, nil
	}
	loader := newRecordingLoader(store)
	s := New(store, loader, 2)

	s.Kick(context.Background(), 1)
	s.Kick(context.Background(), 2)
	s.Kick(context.Background(), 3)

	require.Eventually(t, func() bool { return atomic.LoadInt32(&inFlight) == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, int32(2), atomic.LoadInt32(&maxInFlight), "at most maxConcurrent tasks should run simultaneously")

	close(release)
	for _, id := range []int64{1, 2, 3} {
		require.Eventually(t, func() bool { return !s.Active(id) }, time.Second, time.Millisecond)
	}
}

func TestAbort_CancelsActiveTaskAndReleasesSlot(t *testing.T) {
	store := testhelpers.NewFakeStore(persistence.Session{SessionDBID: 1})
	store.ClaimAndDeleteFunc = func(ctx context.Context, sessionDBID int64) (*persistence.PendingMessage, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	loader := newRecordingLoader(store)
	s := New(store, loader, 1)

	s.Kick(context.Background(), 1)
	require.Eventually(t, func() bool { return s.Active(1) }, time.Second, time.Millisecond)

	s.Abort(1)
	assert.False(t, s.Active(1), "Abort blocks until the task has actually stopped")
}

func TestAbort_NoActiveTaskIsNoop(t *testing.T) {
	store := testhelpers.NewFakeStore()
	loader := newRecordingLoader(store)
	s := New(store, loader, 1)

	s.Abort(99) // must not block or panic
}

func TestAbortAll_CancelsEveryActiveTask(t *testing.T) {
	store := testhelpers.NewFakeStore(
		persistence.Session{SessionDBID: 1},
		persistence.Session{SessionDBID: 2},
	)
	store.ClaimAndDeleteFunc = func(ctx context.Context, sessionDBID int64) (*persistence.PendingMessage, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	loader := newRecordingLoader(store)
	s := New(store, loader, 4)

	s.Kick(context.Background(), 1)
	s.Kick(context.Background(), 2)
	require.Eventually(t, func() bool { return s.Active(1) && s.Active(2) }, time.Second, time.Millisecond)

	s.AbortAll()

	assert.False(t, s.Active(1))
	assert.False(t, s.Active(2))
	assert.Equal(t, 0, s.ActiveCount())
}
