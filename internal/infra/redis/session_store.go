package redis

import (
	"context"
	"sync"
	"time"

	"exam-attempt-service/internal/app"
	"github.com/redis/go-redis/v9"
)

// SessionStore is a Redis-aware implementation of app.SessionRepository.
// Notes:
//   - Sessions (answers, countdown) live in a local map; the attempt store is
//     the source of truth and Resume rebuilds a session on any instance.
//   - Redis marks which attempts have a live session and on which instance,
//     expiring with the attempt deadline (or ttl for untimed attempts).
type SessionStore struct {
	client   *redis.Client
	ttl      time.Duration
	instance string
	mu       sync.RWMutex
	sessions map[string]*app.Session
}

func NewSessionStore(client *redis.Client, ttl time.Duration, instance string) *SessionStore {
	return &SessionStore{
		client:   client,
		ttl:      ttl,
		instance: instance,
		sessions: make(map[string]*app.Session),
	}
}

func (s *SessionStore) Put(session *app.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID()] = session

	ttl := s.ttl
	if remaining, timed := session.Remaining(); timed {
		ttl = remaining + time.Minute
	}
	// best-effort liveness marker
	_ = s.client.Set(context.Background(), s.key(session.ID()), s.instance, ttl).Err()
}

func (s *SessionStore) Get(attemptID string) (*app.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[attemptID]
	return session, ok
}

func (s *SessionStore) Delete(attemptID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[attemptID]; !ok {
		return
	}
	delete(s.sessions, attemptID)
	_ = s.client.Del(context.Background(), s.key(attemptID)).Err()
}

func (s *SessionStore) key(attemptID string) string {
	return "exam:session:" + attemptID
}
