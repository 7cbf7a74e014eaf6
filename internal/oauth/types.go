// Package oauth implements the OAuth 2.0 / SMART-on-FHIR Authorize Service
// and Token Service: PKCE-enforced authorization codes, refresh-token
// rotation, scope narrowing, and launch-context propagation.
//
// Grounded on the teacher's internal/platform/auth/backend_services.go
// (JWT minting, in-memory store shape, JTI replay protection, scope-subset
// checks) and internal/platform/auth/revocation.go (mutex-guarded map with
// TTL + background cleanup), generalized from an external-IdP-assuming
// design into a self-contained authorization-code + PKCE + token exchange
// server.
package oauth

import "time"

// Client is a registered OAuth client, identity client_id.
type Client struct {
	ClientID          string
	Name              string
	SecretHash        string // empty for public clients
	Confidential      bool
	Active            bool
	GrantTypes        []string // "authorization_code", "refresh_token", "client_credentials"
	RedirectURIs      []string
	Scopes            []string // allowed scopes; empty means "permit all"
	DefaultAccessTTL  time.Duration
	DefaultRefreshTTL time.Duration
}

func (c *Client) allowsGrant(grant string) bool {
	for _, g := range c.GrantTypes {
		if g == grant {
			return true
		}
	}
	return false
}

func (c *Client) allowsRedirect(uri string) bool {
	for _, u := range c.RedirectURIs {
		if u == uri {
			return true
		}
	}
	return false
}

// allowsScopes reports whether every scope token in requested is permitted.
// An empty allow-list on the client means "permit all".
func (c *Client) allowsScopes(requested []string) bool {
	if len(c.Scopes) == 0 {
		return true
	}
	allowed := make(map[string]bool, len(c.Scopes))
	for _, s := range c.Scopes {
		allowed[s] = true
	}
	for _, s := range requested {
		if !allowed[s] {
			return false
		}
	}
	return true
}

// LaunchContext is a SMART-on-FHIR launch binding: pins a token to a patient
// and/or encounter plus UI hints. Immutable once stored on a session.
type LaunchContext struct {
	Patient           string
	Encounter         string
	Items             []LaunchContextItem
	NeedPatientBanner bool
	SMARTStyleURL     string
	Intent            string
}

// LaunchContextItem is one {reference, role} pair in a launch context.
type LaunchContextItem struct {
	Reference string
	Role      string
}

// HasType reports whether the context has a binding for a launch/{type}
// scope, e.g. "patient" or "encounter".
func (lc *LaunchContext) HasType(t string) bool {
	if lc == nil {
		return false
	}
	switch t {
	case "patient":
		return lc.Patient != ""
	case "encounter":
		return lc.Encounter != ""
	}
	for _, item := range lc.Items {
		if item.Role == t {
			return true
		}
	}
	return false
}

// AuthorizationSession is a pending or consumed authorization-code grant.
type AuthorizationSession struct {
	ID                  string
	Code                string // base64url, >=256 bits of entropy
	ClientID            string
	RedirectURI         string
	Scope               string // space-separated
	State               string
	CodeChallenge       string
	CodeChallengeMethod string // fixed "S256"
	UserID              string
	LaunchContext       *LaunchContext
	Nonce               string
	Aud                 string
	CreatedAt           time.Time
	ExpiresAt           time.Time
	ConsumedAt          *time.Time // monotone: once set, stays
}

// Scopes splits the space-separated scope string into tokens.
func (s *AuthorizationSession) Scopes() []string {
	return splitScope(s.Scope)
}

// Usable reports whether a session may still be exchanged for tokens: not
// expired and not consumed.
func (s *AuthorizationSession) Usable(now time.Time) bool {
	return s.ConsumedAt == nil && now.Before(s.ExpiresAt)
}

// RefreshToken is an opaque, rotatable grant. Only its hash is stored; the
// plaintext is returned to the client exactly once.
type RefreshToken struct {
	ID            string
	TokenHash     string
	ClientID      string
	UserID        string
	Scope         string
	Aud           string
	LaunchContext *LaunchContext
	CreatedAt     time.Time
	ExpiresAt     time.Time
	RevokedAt     *time.Time // monotone
}

func (t *RefreshToken) Scopes() []string { return splitScope(t.Scope) }

func (t *RefreshToken) usable(now time.Time) bool {
	return t.RevokedAt == nil && now.Before(t.ExpiresAt)
}

func splitScope(s string) []string {
	var out []string
	start := -1
	for i, r := range s {
		if r == ' ' || r == '\t' {
			if start >= 0 {
				out = append(out, s[start:i])
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		out = append(out, s[start:])
	}
	return out
}

// scopeSubset reports whether every token in requested also appears in granted.
func scopeSubset(requested, granted []string) bool {
	set := make(map[string]bool, len(granted))
	for _, g := range granted {
		set[g] = true
	}
	for _, r := range requested {
		if !set[r] {
			return false
		}
	}
	return true
}
