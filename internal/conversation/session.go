package conversation

import (
	"context"
	"sync"
	"time"
)

// Step is where a session sits in the intake flow.
type Step string

const (
	StepIdle                      Step = "idle"
	StepAwaitingAI                Step = "awaiting_ai"
	StepAwaitingFinalConfirmation Step = "awaiting_final_confirmation"
	StepMenuFallback              Step = "menu_fallback"
)

// Session is the per-user conversation state.
type Session struct {
	ID          string
	History     []ChatMessage
	Step        Step
	PendingData map[string]string
	UpdatedAt   time.Time
}

func newSession(id string) *Session {
	return &Session{ID: id, Step: StepIdle, PendingData: map[string]string{}}
}

func (s *Session) appendTurn(role, content string) {
	s.History = append(s.History, ChatMessage{Role: role, Content: content})
}

// popLastUserTurn removes the most recent user message so the user can
// retry cleanly after a failure.
func (s *Session) popLastUserTurn() {
	for i := len(s.History) - 1; i >= 0; i-- {
		if s.History[i].Role == ChatRoleUser {
			s.History = append(s.History[:i], s.History[i+1:]...)
			return
		}
	}
}

// SessionStore holds sessions keyed by conversation id. Callers serialize
// access per key with a KeyedMutex.
type SessionStore interface {
	Get(ctx context.Context, id string) (*Session, bool, error)
	Put(ctx context.Context, session *Session) error
	Delete(ctx context.Context, id string) error
}

// MemorySessionStore keeps sessions in process. Sessions do not survive a
// restart.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]*Session)}
}

func (s *MemorySessionStore) Get(_ context.Context, id string) (*Session, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, false, nil
	}
	return cloneSession(session), true, nil
}

func (s *MemorySessionStore) Put(_ context.Context, session *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = cloneSession(session)
	return nil
}

func (s *MemorySessionStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

// Len reports the number of live sessions.
func (s *MemorySessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func cloneSession(in *Session) *Session {
	out := *in
	out.History = append([]ChatMessage(nil), in.History...)
	out.PendingData = make(map[string]string, len(in.PendingData))
	for k, v := range in.PendingData {
		out.PendingData[k] = v
	}
	return &out
}

// KeyedMutex hands out one lock per key. Entries are dropped once no
// goroutine holds or waits on them.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyedLock)}
}

// Lock blocks until key is free and returns the matching unlock func.
func (k *KeyedMutex) Lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

func (k *KeyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
