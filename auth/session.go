package auth

import (
	"sync"
	"time"

	"github.com/cryptex-im/cryptex/internal"
)

// Session is the single cached authenticated-identity record held by the
// running process. Tokens never leave the backend; the frontend only ever
// sees SessionInfo.
type Session struct {
	AccessToken  string
	RefreshToken string
	IDToken      string
	UserID       string
	Email        string
	ExpiresAt    int64 // unix seconds
}

// SessionInfo is the token-free view of the current session returned to the
// frontend.
type SessionInfo struct {
	UserID          string `json:"user_id"`
	Email           string `json:"email"`
	IsAuthenticated bool   `json:"is_authenticated"`
}

// SessionStore holds at most one authenticated session for the process.
// All mutation goes through one mutex so readers never observe a
// half-written session. Expiry is evaluated by comparison at read time:
// an expired session is reported as absent by every reader even though the
// slot keeps the stale value until the next Install/UpdateTokens/Clear.
type SessionStore struct {
	mu      sync.Mutex
	session *Session
	now     func() time.Time
}

func NewSessionStore() *SessionStore {
	return &SessionStore{now: time.Now}
}

// NewSessionStoreWithClock lets tests control the expiry comparison.
func NewSessionStoreWithClock(now func() time.Time) *SessionStore {
	return &SessionStore{now: now}
}

// Install atomically replaces the held session.
func (s *SessionStore) Install(sess Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = &sess
}

// Clear unconditionally empties the slot. Idempotent.
func (s *SessionStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = nil
}

// UpdateTokens overwrites the credential fields of the held session in
// place, leaving the refresh token untouched. Reports false when no session
// is held.
func (s *SessionStore) UpdateTokens(accessToken, idToken, userID, email string, expiresAt int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return false
	}
	s.session.AccessToken = accessToken
	s.session.IDToken = idToken
	s.session.UserID = userID
	s.session.Email = email
	s.session.ExpiresAt = expiresAt
	return true
}

func (s *SessionStore) valid(sess *Session) bool {
	return sess != nil && s.now().Unix() < sess.ExpiresAt
}

// UserID returns the subject id of the held session, or an error when the
// slot is empty (internal.ErrNotAuthenticated) or the session has passed its
// expiry instant (internal.ErrSessionExpired). The check is performed fresh
// on every call.
func (s *SessionStore) UserID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return "", internal.ErrNotAuthenticated
	}
	if !s.valid(s.session) {
		return "", internal.ErrSessionExpired
	}
	return s.session.UserID, nil
}

// AccessToken returns the bearer token for API calls, with the same validity
// rules as UserID.
func (s *SessionStore) AccessToken() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.valid(s.session) {
		return "", false
	}
	return s.session.AccessToken, true
}

// RefreshToken returns the held refresh credential. Unlike the other
// readers it ignores expiry: refreshing an expired session is the whole
// point of the refresh flow.
func (s *SessionStore) RefreshToken() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return "", false
	}
	return s.session.RefreshToken, true
}

// Info returns the token-free session view, reporting ok=false when no
// valid session is held.
func (s *SessionStore) Info() (SessionInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.valid(s.session) {
		return SessionInfo{}, false
	}
	return SessionInfo{
		UserID:          s.session.UserID,
		Email:           s.session.Email,
		IsAuthenticated: true,
	}, true
}
