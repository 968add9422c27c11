package progress

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps sessions in a mutex-guarded map with a janitor
// goroutine evicting entries past the TTL.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]State
	ttl      time.Duration

	stop chan struct{}
	once sync.Once
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s := &MemoryStore{
		sessions: make(map[string]State),
		ttl:      ttl,
		stop:     make(chan struct{}),
	}
	go s.janitor()
	return s
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) Update(_ context.Context, state State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	state.LastUpdated = time.Now()
	s.sessions[state.SessionID] = state
	return nil
}

func (s *MemoryStore) Get(_ context.Context, sessionID string) (*State, error) {
	s.mu.RLock()
	state, ok := s.sessions[sessionID]
	s.mu.RUnlock()

	if !ok {
		return nil, ErrSessionNotFound
	}
	if time.Since(state.LastUpdated) > s.ttl {
		return nil, ErrSessionExpired
	}
	return &state, nil
}

func (s *MemoryStore) MarkComplete(ctx context.Context, sessionID string) error {
	return s.mutate(sessionID, func(st *State) {
		st.Status = StatusCompleted
		st.Progress = 100
	})
}

func (s *MemoryStore) MarkError(ctx context.Context, sessionID, message string) error {
	return s.mutate(sessionID, func(st *State) {
		st.Status = StatusError
		st.Error = message
	})
}

func (s *MemoryStore) mutate(sessionID string, fn func(*State)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	fn(&state)
	state.LastUpdated = time.Now()
	s.sessions[sessionID] = state
	return nil
}

func (s *MemoryStore) Close() error {
	s.once.Do(func() { close(s.stop) })
	return nil
}

func (s *MemoryStore) janitor() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			for id, st := range s.sessions {
				if time.Since(st.LastUpdated) > s.ttl {
					delete(s.sessions, id)
				}
			}
			s.mu.Unlock()
		}
	}
}
