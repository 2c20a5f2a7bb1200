package main

import (
	"context"
	"fmt"
	"sync"

	"memoryd/internal/agent"
	"memoryd/internal/mode"
	"memoryd/internal/persistence"
)

// cachedSessionLoader builds one *agent.Session (and its shared Conversation)
// per sessionDBID the first time the scheduler starts a task for it, and
// reuses it across subsequent drains so conversation history survives
// between queue-drain cycles, per scheduler.SessionLoader's documented
// caching responsibility.
type cachedSessionLoader struct {
	store  persistence.Store
	runner func(sess *agent.Session) *agent.Runner
	mode   mode.Mode

	mu       sync.Mutex
	sessions map[int64]*agent.Session
}

func newCachedSessionLoader(store persistence.Store, m mode.Mode, runner func(sess *agent.Session) *agent.Runner) *cachedSessionLoader {
	return &cachedSessionLoader{store: store, runner: runner, mode: m, sessions: make(map[int64]*agent.Session)}
}

func (l *cachedSessionLoader) Load(ctx context.Context, sessionDBID int64) (*agent.Session, *agent.Runner, error) {
	l.mu.Lock()
	sess, ok := l.sessions[sessionDBID]
	l.mu.Unlock()
	if ok {
		return sess, l.runner(sess), nil
	}

	rec, err := l.store.GetSessionByID(ctx, sessionDBID)
	if err != nil {
		return nil, nil, fmt.Errorf("load session %d: %w", sessionDBID, err)
	}
	sess = agent.NewSession(rec.SessionDBID, rec.ContentSessionID, rec.MemorySessionID, rec.Project, rec.InitialPrompt, l.mode)

	l.mu.Lock()
	l.sessions[sessionDBID] = sess
	l.mu.Unlock()
	return sess, l.runner(sess), nil
}
