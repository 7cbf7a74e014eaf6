package oauth

import (
	"sync"
	"time"
)

// ClientStore holds registered OAuth clients.
type ClientStore struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

// NewClientStore constructs an empty client store.
func NewClientStore() *ClientStore {
	return &ClientStore{clients: make(map[string]*Client)}
}

// Register adds or replaces a client.
func (s *ClientStore) Register(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[c.ClientID] = c
}

// Get returns a client by id.
func (s *ClientStore) Get(clientID string) (*Client, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.clients[clientID]
	return c, ok
}

// List returns every registered client.
func (s *ClientStore) List() []*Client {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Client, 0, len(s.clients))
	for _, c := range s.clients {
		out = append(out, c)
	}
	return out
}

// SessionStore holds pending/consumed authorization sessions with
// background TTL cleanup. Grounded on the teacher's
// internal/platform/auth/revocation.go TokenRevocationStore shape: a
// mutex-guarded map, a 5-minute ticker, and an idempotent Close via
// select-default-close.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]*AuthorizationSession
	done     chan struct{}
}

// NewSessionStore constructs a session store and starts its background
// cleanup loop.
func NewSessionStore() *SessionStore {
	s := &SessionStore{
		sessions: make(map[string]*AuthorizationSession),
		done:     make(chan struct{}),
	}
	go s.cleanupLoop()
	return s
}

// Put persists a new session keyed by its code.
func (s *SessionStore) Put(session *AuthorizationSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.Code] = session
}

// Get returns the session for a code without consuming it.
func (s *SessionStore) Get(code string) (*AuthorizationSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[code]
	return sess, ok
}

// Consume atomically marks a session consumed and returns it. The only
// permissible success path: read, observe not consumed, mark consumed,
// return the prior state. A second caller racing on the same code observes
// ok=false, so an authorization code can never be exchanged twice.
func (s *SessionStore) Consume(code string, now time.Time) (*AuthorizationSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[code]
	if !ok {
		return nil, false
	}
	if sess.ConsumedAt != nil {
		return nil, false
	}
	t := now
	sess.ConsumedAt = &t
	return sess, true
}

// UpdateLaunchContext sets the launch context on a not-yet-consumed session,
// used by standalone-launch flows after user interaction.
func (s *SessionStore) UpdateLaunchContext(code string, lc *LaunchContext) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[code]
	if !ok || sess.ConsumedAt != nil {
		return false
	}
	sess.LaunchContext = lc
	return true
}

func (s *SessionStore) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.done:
			return
		}
	}
}

func (s *SessionStore) cleanup() {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for code, sess := range s.sessions {
		if now.After(sess.ExpiresAt.Add(time.Hour)) {
			delete(s.sessions, code)
		}
	}
}

// Close stops the cleanup loop. Idempotent.
func (s *SessionStore) Close() {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
}

// RefreshTokenStore holds refresh tokens keyed by their hash.
type RefreshTokenStore struct {
	mu     sync.Mutex
	tokens map[string]*RefreshToken
	done   chan struct{}
}

// NewRefreshTokenStore constructs a refresh-token store and starts its
// background cleanup loop.
func NewRefreshTokenStore() *RefreshTokenStore {
	s := &RefreshTokenStore{
		tokens: make(map[string]*RefreshToken),
		done:   make(chan struct{}),
	}
	go s.cleanupLoop()
	return s
}

// Put persists a refresh token keyed by its hash.
func (s *RefreshTokenStore) Put(t *RefreshToken) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[t.TokenHash] = t
}

// Get looks up a refresh token by its hash.
func (s *RefreshTokenStore) Get(tokenHash string) (*RefreshToken, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[tokenHash]
	return t, ok
}

// Revoke marks a refresh token revoked. Revocation is monotone: once set,
// RevokedAt never changes, so the fail-closed rotation sequence in
// token.go (revoke predecessor, then persist successor) cannot be undone by
// a second call.
func (s *RefreshTokenStore) Revoke(tokenHash string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[tokenHash]
	if !ok || t.RevokedAt != nil {
		return
	}
	tt := now
	t.RevokedAt = &tt
}

func (s *RefreshTokenStore) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.done:
			return
		}
	}
}

func (s *RefreshTokenStore) cleanup() {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for hash, t := range s.tokens {
		if now.After(t.ExpiresAt.Add(30 * 24 * time.Hour)) {
			delete(s.tokens, hash)
		}
	}
}

// Close stops the cleanup loop. Idempotent.
func (s *RefreshTokenStore) Close() {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
}

// LaunchContextStore is a TTL map binding an opaque launch
// token to a LaunchContext, grounded on the teacher's
// internal/platform/auth/smart.go LaunchContextStore.
type LaunchContextStore struct {
	mu    sync.RWMutex
	items map[string]launchEntry
	ttl   time.Duration
}

type launchEntry struct {
	context   *LaunchContext
	expiresAt time.Time
}

// NewLaunchContextStore constructs a store with the given entry TTL.
func NewLaunchContextStore(ttl time.Duration) *LaunchContextStore {
	return &LaunchContextStore{items: make(map[string]launchEntry), ttl: ttl}
}

// Create stores a context under the caller-supplied launch token.
func (s *LaunchContextStore) Create(token string, lc *LaunchContext) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[token] = launchEntry{context: lc, expiresAt: time.Now().Add(s.ttl)}
}

// Get resolves a launch token without consuming it.
func (s *LaunchContextStore) Get(token string) (*LaunchContext, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.items[token]
	if !ok || time.Now().After(e.expiresAt) {
		return nil, false
	}
	return e.context, true
}
