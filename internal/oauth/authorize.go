package oauth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"time"

	"github.com/google/uuid"
)

// DefaultCodeLifetime is the authorization code's default validity window.
const DefaultCodeLifetime = 10 * time.Minute

// AuthorizeRequest is the parsed `/authorize` request.
type AuthorizeRequest struct {
	ResponseType        string
	ClientID            string
	RedirectURI         string
	Scope               string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
	Aud                 string
	Launch              string // launch token from an EHR-initiated launch
	Nonce               string
	RequireAud          bool
}

// AuthorizeService validates authorization requests and mints one-time
// authorization codes.
type AuthorizeService struct {
	Clients  *ClientStore
	Sessions *SessionStore
	Launches *LaunchContextStore

	CodeLifetime time.Duration
}

// NewAuthorizeService constructs an AuthorizeService with the given stores.
func NewAuthorizeService(clients *ClientStore, sessions *SessionStore, launches *LaunchContextStore) *AuthorizeService {
	return &AuthorizeService{Clients: clients, Sessions: sessions, Launches: launches, CodeLifetime: DefaultCodeLifetime}
}

// Authorize runs the full authorization-request validation sequence and, on
// success, mints and persists a session, returning it so the caller can
// redirect with code+state.
func (s *AuthorizeService) Authorize(req AuthorizeRequest) (*AuthorizationSession, *OAuthError) {
	if req.ResponseType != "code" {
		return nil, newOAuthError("unsupported_response_type", "response_type must be \"code\"")
	}

	client, ok := s.Clients.Get(req.ClientID)
	if !ok || !client.Active {
		return nil, newOAuthError("invalid_client", "unknown or inactive client")
	}

	if !client.allowsRedirect(req.RedirectURI) {
		return nil, newOAuthError("invalid_grant", "redirect_uri does not match a registered URI")
	}

	if !client.allowsGrant("authorization_code") {
		return nil, newOAuthError("invalid_grant", "client is not permitted the authorization_code grant")
	}

	// PKCE enforcement: public clients MUST supply a challenge; both fields
	// must be present together; method must be S256 when present.
	hasChallenge := req.CodeChallenge != ""
	hasMethod := req.CodeChallengeMethod != ""
	if hasChallenge != hasMethod {
		return nil, newOAuthError("invalid_request", "code_challenge and code_challenge_method must be supplied together")
	}
	if !client.Confidential && !hasChallenge {
		return nil, newOAuthError("invalid_request", "PKCE is required for public clients")
	}
	if hasChallenge {
		if req.CodeChallengeMethod != "S256" {
			return nil, newOAuthError("invalid_request", "code_challenge_method must be S256")
		}
		if _, err := base64.RawURLEncoding.DecodeString(req.CodeChallenge); err != nil {
			return nil, newOAuthError("invalid_request", "code_challenge must be valid base64url")
		}
	}

	// state entropy >= 122 bits, estimated at 6 bits/char => length >= 21.
	if len(req.State) < 21 {
		return nil, newOAuthError("invalid_request", "state does not carry sufficient entropy")
	}

	if req.RequireAud && req.Aud == "" {
		return nil, newOAuthError("invalid_request", "aud is required")
	}

	requestedScopes := splitScope(req.Scope)
	if !client.allowsScopes(requestedScopes) {
		return nil, newOAuthError("invalid_scope", "one or more requested scopes are not allowed for this client")
	}

	hasLaunchScope := containsScope(requestedScopes, "launch")
	var launchCtx *LaunchContext
	if hasLaunchScope && req.Launch == "" {
		return nil, newOAuthError("invalid_request", "scope includes launch but no launch parameter was supplied")
	}
	if req.Launch != "" && !hasLaunchScope {
		return nil, newOAuthError("invalid_request", "launch parameter supplied but scope does not include launch")
	}
	if req.Launch != "" {
		lc, ok := s.Launches.Get(req.Launch)
		if !ok {
			return nil, newOAuthError("invalid_grant", "launch context not found or expired")
		}
		launchCtx = lc
	}
	for _, scope := range requestedScopes {
		if t, ok := launchScopeType(scope); ok {
			if !launchCtx.HasType(t) {
				return nil, newOAuthError("invalid_grant", "launch context does not include a required "+t)
			}
		}
	}

	code, err := generateCode()
	if err != nil {
		return nil, newOAuthError("server_error", "failed to generate authorization code")
	}

	now := time.Now()
	session := &AuthorizationSession{
		ID:                  uuid.NewString(),
		Code:                code,
		ClientID:            client.ClientID,
		RedirectURI:         req.RedirectURI,
		Scope:               req.Scope,
		State:               req.State,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
		LaunchContext:       launchCtx,
		Nonce:               req.Nonce,
		Aud:                 req.Aud,
		CreatedAt:           now,
		ExpiresAt:           now.Add(s.lifetime()),
	}
	s.Sessions.Put(session)
	return session, nil
}

// ValidateStandaloneContext verifies that every scope of the form
// launch/{type} has a matching field in the session's launch context,
// called after a UI layer sets the context post-login but before code
// exchange.
func (s *AuthorizeService) ValidateStandaloneContext(session *AuthorizationSession) *OAuthError {
	for _, scope := range session.Scopes() {
		if t, ok := launchScopeType(scope); ok {
			if !session.LaunchContext.HasType(t) {
				return newOAuthError("invalid_grant", "session launch context does not satisfy scope "+scope)
			}
		}
	}
	return nil
}

func (s *AuthorizeService) lifetime() time.Duration {
	if s.CodeLifetime > 0 {
		return s.CodeLifetime
	}
	return DefaultCodeLifetime
}

func containsScope(scopes []string, target string) bool {
	for _, s := range scopes {
		if s == target {
			return true
		}
	}
	return false
}

// launchScopeType extracts "patient" from "launch/patient", "encounter" from
// "launch/encounter", etc. ok is false for scopes that are not of this form.
func launchScopeType(scope string) (string, bool) {
	const prefix = "launch/"
	if len(scope) > len(prefix) && scope[:len(prefix)] == prefix {
		return scope[len(prefix):], true
	}
	return "", false
}

func generateCode() (string, error) {
	buf := make([]byte, 32) // 256 bits
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// VerifyPKCE computes base64url(SHA-256(verifier)) and compares it to the
// stored challenge in constant time.
func VerifyPKCE(challenge, verifier string) bool {
	sum := sha256.Sum256([]byte(verifier))
	computed := base64.RawURLEncoding.EncodeToString(sum[:])
	return constantTimeEqual(computed, challenge)
}

func constantTimeEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	var diff byte
	for i := 0; i < len(a); i++ {
		diff |= a[i] ^ b[i]
	}
	return diff == 0
}

// OAuthError is an OAuth 2.0 error-code-conventions error; the HTTP
// transport maps it to an OperationOutcome body.
type OAuthError struct {
	Code        string // e.g. "invalid_grant"
	Description string
}

func (e *OAuthError) Error() string { return e.Code + ": " + e.Description }

func newOAuthError(code, description string) *OAuthError {
	return &OAuthError{Code: code, Description: description}
}
