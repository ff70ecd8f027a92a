package orchestrator

import (
	"sync"

	"github.com/torqconsole/agentcore/pkg/orcerr"
	"github.com/torqconsole/agentcore/pkg/session"
)

// sessionTable is the Orchestrator's exclusive session store (spec §3
// "Ownership: sessions are exclusively owned by the Orchestrator's
// session table"). Per-session locks serialize concurrent `process` calls
// for the same session_id into arrival order (spec §5 "Ordering
// guarantees").
type sessionTable struct {
	mu       sync.RWMutex
	sessions map[string]*session.Session
	locks    map[string]*sync.Mutex
}

func newSessionTable() *sessionTable {
	return &sessionTable{
		sessions: make(map[string]*session.Session),
		locks:    make(map[string]*sync.Mutex),
	}
}

func (t *sessionTable) create(owner string, nowMillis int64) *session.Session {
	s := session.New(owner, nowMillis)
	t.mu.Lock()
	t.sessions[s.ID()] = s
	t.locks[s.ID()] = &sync.Mutex{}
	t.mu.Unlock()
	return s
}

func (t *sessionTable) get(sessionID string) (*session.Session, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.sessions[sessionID]
	if !ok {
		return nil, orcerr.Validation("Orchestrator", "session %q does not exist", sessionID)
	}
	return s, nil
}

func (t *sessionTable) lockFor(sessionID string) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.locks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		t.locks[sessionID] = l
	}
	return l
}

func (t *sessionTable) close(sessionID string, strategy session.WorkingMemoryStrategy) error {
	s, err := t.get(sessionID)
	if err != nil {
		return err
	}
	if strategy != nil {
		strategy.Apply(s)
	}

	t.mu.Lock()
	delete(t.sessions, sessionID)
	delete(t.locks, sessionID)
	t.mu.Unlock()
	return nil
}
