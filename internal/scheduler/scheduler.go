// Package scheduler implements the Scheduler (C4) from spec.md §4.2: at most
// one active agent task per session, a global concurrency cap with FIFO
// waiters, and cooperative cancellation.
package scheduler

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"memoryd/internal/agent"
	"memoryd/internal/persistence"
)

// SessionLoader builds the in-memory agent.Session and Runner for a
// sessionDBID the first time the scheduler starts a task for it. Returning
// the same *agent.Session across calls for one sessionDBID is the caller's
// responsibility if conversation history must survive multiple drains; the
// default wiring in cmd/memoryd caches sessions for this reason.
type SessionLoader interface {
	Load(ctx context.Context, sessionDBID int64) (*agent.Session, *agent.Runner, error)
}

// task tracks one session's active agent loop.
type task struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Scheduler implements the per-session serialisation and global cap from
// spec.md §4.2/§5.
type Scheduler struct {
	loader SessionLoader
	sem    *semaphore.Weighted

	mu     sync.Mutex
	active map[int64]*task
}

// New builds a Scheduler bounded by maxConcurrent simultaneous agent tasks.
// store is accepted for API symmetry with the rest of the wiring even
// though the scheduler itself only drives the loader and the semaphore; the
// Runner each loader call returns is what actually touches Store.
func New(store persistence.Store, loader SessionLoader, maxConcurrent int) *Scheduler {
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	return &Scheduler{
		loader: loader,
		sem:    semaphore.NewWeighted(int64(maxConcurrent)),
		active: make(map[int64]*task),
	}
}

// Kick starts an agent task for sessionDBID if none is active, per spec.md
// §4.2: "On ingest, if no active task exists and the session has queued
// work, the scheduler starts one." A task whose queue turns out to be empty
// drains zero messages and exits immediately, so it is safe to call Kick
// unconditionally on every ingest. It returns immediately; the task itself
// runs in a background goroutine and waits for a global concurrency slot
// FIFO if the cap is currently met.
func (s *Scheduler) Kick(ctx context.Context, sessionDBID int64) {
	s.mu.Lock()
	if _, ok := s.active[sessionDBID]; ok {
		s.mu.Unlock()
		return
	}
	taskCtx, cancel := context.WithCancel(context.Background())
	t := &task{cancel: cancel, done: make(chan struct{})}
	s.active[sessionDBID] = t
	s.mu.Unlock()

	go s.run(taskCtx, sessionDBID, t)
}

func (s *Scheduler) run(ctx context.Context, sessionDBID int64, t *task) {
	defer close(t.done)
	defer func() {
		s.mu.Lock()
		delete(s.active, sessionDBID)
		s.mu.Unlock()
	}()

	if err := s.sem.Acquire(ctx, 1); err != nil {
		return // context cancelled (abort) while waiting for a global slot
	}
	defer s.sem.Release(1)

	sess, runner, err := s.loader.Load(ctx, sessionDBID)
	if err != nil {
		log.Error().Err(err).Int64("session_db_id", sessionDBID).Msg("scheduler: failed to load session for agent task")
		return
	}
	if err := runner.Drain(ctx, sess); err != nil {
		log.Warn().Err(err).Int64("session_db_id", sessionDBID).Msg("scheduler: agent task ended with error")
	}
}

// Abort cancels the active task for sessionDBID, if any, per spec.md §5: the
// agent stops at its next suspension point, does not commit the current
// turn, and releases its session slot. It blocks until the task has
// actually stopped.
func (s *Scheduler) Abort(sessionDBID int64) {
	s.mu.Lock()
	t, ok := s.active[sessionDBID]
	s.mu.Unlock()
	if !ok {
		return
	}
	t.cancel()
	<-t.done
}

// AbortAll cancels every active task, used on worker shutdown (spec.md §5).
func (s *Scheduler) AbortAll() {
	s.mu.Lock()
	tasks := make([]*task, 0, len(s.active))
	for _, t := range s.active {
		tasks = append(tasks, t)
	}
	s.mu.Unlock()
	for _, t := range tasks {
		t.cancel()
	}
	for _, t := range tasks {
		<-t.done
	}
}

// Active reports whether sessionDBID currently has a running task.
func (s *Scheduler) Active(sessionDBID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.active[sessionDBID]
	return ok
}

// ActiveCount reports the number of currently-active agent tasks, exposed
// for diagnostics (GET /stats).
func (s *Scheduler) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}
