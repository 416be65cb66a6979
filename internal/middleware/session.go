package middleware

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SessionCookie is the name of the cookie carrying the session token.
const SessionCookie = "session"

type contextKey string

const userKey contextKey = "user"

type session struct {
	email   string
	expires time.Time
}

// SessionStore keeps logged in users in memory, keyed by a random token.
type SessionStore struct {
	sessions map[string]session
	ttl      time.Duration
	now      func() time.Time
	mu       sync.RWMutex
}

func NewSessionStore(ttl time.Duration) *SessionStore {
	return &SessionStore{
		sessions: make(map[string]session),
		ttl:      ttl,
		now:      time.Now,
	}
}

// Create starts a session for email and returns its token.
func (s *SessionStore) Create(email string) string {
	token := uuid.NewString()
	s.mu.Lock()
	s.sessions[token] = session{email: email, expires: s.now().Add(s.ttl)}
	s.mu.Unlock()
	return token
}

// Get returns the user of a live session.
func (s *SessionStore) Get(token string) (string, bool) {
	s.mu.RLock()
	sess, ok := s.sessions[token]
	s.mu.RUnlock()
	if !ok {
		return "", false
	}
	if s.now().After(sess.expires) {
		s.Delete(token)
		return "", false
	}
	return sess.email, true
}

func (s *SessionStore) Delete(token string) {
	s.mu.Lock()
	delete(s.sessions, token)
	s.mu.Unlock()
}

// Sweep drops expired sessions and returns how many were removed.
func (s *SessionStore) Sweep() int {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for token, sess := range s.sessions {
		if now.After(sess.expires) {
			delete(s.sessions, token)
			removed++
		}
	}
	return removed
}

// TTL returns the session lifetime.
func (s *SessionStore) TTL() time.Duration {
	return s.ttl
}

// WithUser stores the authenticated user in ctx.
func WithUser(ctx context.Context, email string) context.Context {
	return context.WithValue(ctx, userKey, email)
}

// UserFromContext returns the authenticated user set by AuthMiddleware.
func UserFromContext(ctx context.Context) (string, bool) {
	email, ok := ctx.Value(userKey).(string)
	return email, ok && email != ""
}
