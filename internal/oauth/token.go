package oauth

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DefaultAccessTTL and DefaultRefreshTTL back-fill a client's TTLs when it
// does not specify its own.
const (
	DefaultAccessTTL  = 1 * time.Hour
	DefaultRefreshTTL = 90 * 24 * time.Hour
)

// TokenResponse is the JSON body returned from a successful grant, per
// RFC 6749 §5.1 plus the SMART id_token/patient/encounter extensions.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	Scope        string `json:"scope"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	Patient      string `json:"patient,omitempty"`
	Encounter    string `json:"encounter,omitempty"`
}

// TokenService exchanges authorization codes, client credentials, and
// refresh tokens for access tokens, grounded on the teacher's
// internal/platform/auth/backend_services.go JWT-minting idiom.
type TokenService struct {
	Clients  *ClientStore
	Sessions *SessionStore
	Refresh  *RefreshTokenStore

	Issuer     string
	SigningKey []byte

	// Audience is the access token's default "aud": the FHIR server's own
	// resource identifier, as opposed to the calling client's id. Falls
	// back to Issuer when unset. A request naming its own audience at
	// authorize time (session.Aud) takes precedence over this default.
	Audience string
}

// NewTokenService constructs a TokenService.
func NewTokenService(clients *ClientStore, sessions *SessionStore, refresh *RefreshTokenStore, issuer string, signingKey []byte) *TokenService {
	return &TokenService{Clients: clients, Sessions: sessions, Refresh: refresh, Issuer: issuer, SigningKey: signingKey}
}

func (s *TokenService) resolveAudience(requested string) string {
	if requested != "" {
		return requested
	}
	if s.Audience != "" {
		return s.Audience
	}
	return s.Issuer
}

// mintOptions controls what mintTokens issues beyond the access token
// itself. The three grants that call it — code exchange, refresh, client
// credentials — each need a different mix of id_token, refresh_token, and
// audience, so these vary independently rather than folding into one flag.
type mintOptions struct {
	Audience         string
	IssueIDToken     bool
	IssueRefresh     bool
	RefreshExpiresAt time.Time // zero: compute a fresh window from the client's TTL
}

// CodeExchangeRequest is a grant_type=authorization_code request.
type CodeExchangeRequest struct {
	Code         string
	RedirectURI  string
	ClientID     string
	CodeVerifier string
}

// Exchange redeems an authorization code for tokens: validate grant fields
// present, atomically consume the session, verify client/redirect/expiry,
// verify PKCE, mint tokens.
func (s *TokenService) Exchange(req CodeExchangeRequest) (*TokenResponse, *OAuthError) {
	if req.Code == "" || req.RedirectURI == "" {
		return nil, newOAuthError("invalid_request", "code and redirect_uri are required")
	}

	client, ok := s.Clients.Get(req.ClientID)
	if !ok || !client.Active {
		return nil, newOAuthError("invalid_client", "unknown or inactive client")
	}
	if !client.allowsGrant("authorization_code") {
		return nil, newOAuthError("unauthorized_client", "client is not permitted the authorization_code grant")
	}

	now := time.Now()
	session, ok := s.Sessions.Consume(req.Code, now)
	if !ok {
		return nil, newOAuthError("invalid_grant", "authorization code is unknown, expired, or already used")
	}
	if !now.Before(session.ExpiresAt) {
		return nil, newOAuthError("invalid_grant", "authorization code has expired")
	}
	if session.ClientID != client.ClientID {
		return nil, newOAuthError("invalid_grant", "authorization code was not issued to this client")
	}
	if session.RedirectURI != req.RedirectURI {
		return nil, newOAuthError("invalid_grant", "redirect_uri does not match the authorization request")
	}

	if session.CodeChallenge != "" {
		if req.CodeVerifier == "" {
			return nil, newOAuthError("invalid_grant", "code_verifier is required")
		}
		if !VerifyPKCE(session.CodeChallenge, req.CodeVerifier) {
			return nil, newOAuthError("invalid_grant", "PKCE verification failed")
		}
	}

	return s.mintTokens(client, session.Scope, session.UserID, session.LaunchContext, session.Nonce, mintOptions{
		Audience:     s.resolveAudience(session.Aud),
		IssueIDToken: true,
		IssueRefresh: true,
	})
}

// ClientCredentialsRequest is a grant_type=client_credentials request.
type ClientCredentialsRequest struct {
	ClientID     string
	ClientSecret string
	Scope        string
}

// ClientCredentials mints a system-level access token. Requested scopes
// must carry the "system/" prefix.
func (s *TokenService) ClientCredentials(req ClientCredentialsRequest) (*TokenResponse, *OAuthError) {
	client, ok := s.Clients.Get(req.ClientID)
	if !ok || !client.Active {
		return nil, newOAuthError("invalid_client", "unknown or inactive client")
	}
	if !client.Confidential {
		return nil, newOAuthError("unauthorized_client", "client_credentials requires a confidential client")
	}
	if !client.allowsGrant("client_credentials") {
		return nil, newOAuthError("unauthorized_client", "client is not permitted the client_credentials grant")
	}
	if !verifySecret(client, req.ClientSecret) {
		return nil, newOAuthError("invalid_client", "client authentication failed")
	}

	for _, scope := range splitScope(req.Scope) {
		if len(scope) < 7 || scope[:7] != "system/" {
			return nil, newOAuthError("invalid_scope", "client_credentials requires system/ scoped scopes")
		}
	}
	if !client.allowsScopes(splitScope(req.Scope)) {
		return nil, newOAuthError("invalid_scope", "one or more requested scopes are not allowed for this client")
	}

	return s.mintTokens(client, req.Scope, "", nil, "", mintOptions{
		Audience: s.resolveAudience(""),
	})
}

// RefreshRequest is a grant_type=refresh_token request.
type RefreshRequest struct {
	RefreshToken string
	ClientID     string
	Scope        string // optional narrowing
}

// Refresh rotates a refresh token: the predecessor is revoked before the
// successor is persisted so a crash mid-rotation fails closed (the old
// token stays usable only if revocation itself failed, never leaving two
// live tokens). The rotated token inherits the predecessor's expires_at
// rather than a fresh window, so rotation narrows toward expiry instead of
// extending it indefinitely, and no id_token is re-issued on refresh since
// no end-user re-authentication happens here.
func (s *TokenService) Refresh(req RefreshRequest) (*TokenResponse, *OAuthError) {
	if req.RefreshToken == "" {
		return nil, newOAuthError("invalid_request", "refresh_token is required")
	}

	client, ok := s.Clients.Get(req.ClientID)
	if !ok || !client.Active {
		return nil, newOAuthError("invalid_client", "unknown or inactive client")
	}
	if !client.allowsGrant("refresh_token") {
		return nil, newOAuthError("unauthorized_client", "client is not permitted the refresh_token grant")
	}

	hash := hashToken(req.RefreshToken)
	stored, ok := s.Refresh.Get(hash)
	if !ok {
		return nil, newOAuthError("invalid_grant", "refresh token is unknown")
	}
	now := time.Now()
	if !stored.usable(now) {
		return nil, newOAuthError("invalid_grant", "refresh token is revoked or expired")
	}
	if stored.ClientID != client.ClientID {
		return nil, newOAuthError("invalid_grant", "refresh token was not issued to this client")
	}

	grantedScope := stored.Scope
	if req.Scope != "" {
		requested := splitScope(req.Scope)
		if !scopeSubset(requested, stored.Scopes()) {
			return nil, newOAuthError("invalid_scope", "requested scope exceeds the scope originally granted")
		}
		grantedScope = req.Scope
	}

	s.Refresh.Revoke(hash, now)
	resp, oerr := s.mintTokens(client, grantedScope, stored.UserID, stored.LaunchContext, "", mintOptions{
		Audience:         s.resolveAudience(stored.Aud),
		IssueIDToken:     false,
		IssueRefresh:     true,
		RefreshExpiresAt: stored.ExpiresAt,
	})
	if oerr != nil {
		return nil, oerr
	}
	return resp, nil
}

func (s *TokenService) mintTokens(client *Client, scope, userID string, lc *LaunchContext, nonce string, opts mintOptions) (*TokenResponse, *OAuthError) {
	now := time.Now()
	accessTTL := client.DefaultAccessTTL
	if accessTTL <= 0 {
		accessTTL = DefaultAccessTTL
	}

	jti := uuid.NewString()
	claims := jwt.MapClaims{
		"iss":       s.Issuer,
		"sub":       subjectFor(client, userID),
		"aud":       opts.Audience,
		"client_id": client.ClientID,
		"exp":       now.Add(accessTTL).Unix(),
		"iat":       now.Unix(),
		"jti":       jti,
		"scope":     scope,
	}
	if lc != nil {
		if lc.Patient != "" {
			claims["patient"] = lc.Patient
		}
		if lc.Encounter != "" {
			claims["encounter"] = lc.Encounter
		}
	}

	access := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	accessSigned, err := access.SignedString(s.SigningKey)
	if err != nil {
		return nil, newOAuthError("server_error", "failed to sign access token")
	}

	resp := &TokenResponse{
		AccessToken: accessSigned,
		TokenType:   "Bearer",
		ExpiresIn:   int64(accessTTL.Seconds()),
		Scope:       scope,
	}
	if lc != nil {
		resp.Patient = lc.Patient
		resp.Encounter = lc.Encounter
	}

	if opts.IssueIDToken && containsScope(splitScope(scope), "openid") {
		idClaims := jwt.MapClaims{
			"iss": s.Issuer,
			"sub": subjectFor(client, userID),
			"aud": client.ClientID,
			"exp": now.Add(accessTTL).Unix(),
			"iat": now.Unix(),
		}
		if nonce != "" {
			idClaims["nonce"] = nonce
		}
		idToken := jwt.NewWithClaims(jwt.SigningMethodHS256, idClaims)
		idSigned, err := idToken.SignedString(s.SigningKey)
		if err != nil {
			return nil, newOAuthError("server_error", "failed to sign id_token")
		}
		resp.IDToken = idSigned
	}

	if opts.IssueRefresh {
		expiresAt := opts.RefreshExpiresAt
		if expiresAt.IsZero() {
			refreshTTL := client.DefaultRefreshTTL
			if refreshTTL <= 0 {
				refreshTTL = DefaultRefreshTTL
			}
			expiresAt = now.Add(refreshTTL)
		}
		plaintext := uuid.NewString() + "." + uuid.NewString()
		hash := hashToken(plaintext)
		s.Refresh.Put(&RefreshToken{
			ID:            uuid.NewString(),
			TokenHash:     hash,
			ClientID:      client.ClientID,
			UserID:        userID,
			Scope:         scope,
			Aud:           opts.Audience,
			LaunchContext: lc,
			CreatedAt:     now,
			ExpiresAt:     expiresAt,
		})
		resp.RefreshToken = plaintext
	}

	return resp, nil
}

func subjectFor(client *Client, userID string) string {
	if userID != "" {
		return userID
	}
	return "client:" + client.ClientID
}

func hashToken(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// verifySecret is a constant-time comparison against the client's stored
// secret hash. The registration path produces that hash with the same
// SHA-256 plus unpadded base64url encoding that hashToken applies to
// refresh tokens, mirroring the teacher's single-hash-primitive convention.
func verifySecret(client *Client, secret string) bool {
	if client.SecretHash == "" {
		return false
	}
	return constantTimeEqual(hashToken(secret), client.SecretHash)
}

// ErrUnsupportedGrant is returned by transport-layer dispatch code for an
// unrecognized grant_type value.
var ErrUnsupportedGrant = errors.New("unsupported_grant_type")
