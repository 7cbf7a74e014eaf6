package oauth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func newTestTokenFixture() (*AuthorizeService, *TokenService, *Client) {
	clients := NewClientStore()
	sessions := NewSessionStore()
	launches := NewLaunchContextStore(DefaultCodeLifetime)
	refresh := NewRefreshTokenStore()

	client := &Client{
		ClientID:     "app1",
		Confidential: false,
		Active:       true,
		GrantTypes:   []string{"authorization_code", "refresh_token"},
		RedirectURIs: []string{"https://app.example.org/callback"},
	}
	clients.Register(client)

	authSvc := NewAuthorizeService(clients, sessions, launches)
	tokenSvc := NewTokenService(clients, sessions, refresh, "https://issuer.example.org", []byte("test-signing-key"))
	return authSvc, tokenSvc, client
}

const (
	testVerifier  = "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	testChallenge = "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM"
)

func mintSession(t *testing.T, authSvc *AuthorizeService) *AuthorizationSession {
	t.Helper()
	session, oerr := authSvc.Authorize(AuthorizeRequest{
		ResponseType:        "code",
		ClientID:            "app1",
		RedirectURI:         "https://app.example.org/callback",
		Scope:               "patient/*.read openid",
		State:               "abcdefghijklmnopqrstuvwxyz",
		CodeChallenge:       testChallenge,
		CodeChallengeMethod: "S256",
	})
	if oerr != nil {
		t.Fatalf("Authorize: %v", oerr)
	}
	return session
}

func TestExchangeHappyPath(t *testing.T) {
	authSvc, tokenSvc, _ := newTestTokenFixture()
	session := mintSession(t, authSvc)

	resp, oerr := tokenSvc.Exchange(CodeExchangeRequest{
		Code:         session.Code,
		RedirectURI:  "https://app.example.org/callback",
		ClientID:     "app1",
		CodeVerifier: testVerifier,
	})
	if oerr != nil {
		t.Fatalf("Exchange: %v", oerr)
	}
	if resp.AccessToken == "" {
		t.Error("expected a non-empty access token")
	}
	if resp.IDToken == "" {
		t.Error("expected an id_token since scope included openid")
	}
	if resp.RefreshToken == "" {
		t.Error("expected a refresh token since the client allows refresh_token")
	}
}

func TestExchangeAccessTokenAudienceIsServerNotClient(t *testing.T) {
	authSvc, tokenSvc, _ := newTestTokenFixture()
	tokenSvc.Audience = "https://fhir.example.org/fhir"
	session := mintSession(t, authSvc)

	resp, oerr := tokenSvc.Exchange(CodeExchangeRequest{
		Code:         session.Code,
		RedirectURI:  "https://app.example.org/callback",
		ClientID:     "app1",
		CodeVerifier: testVerifier,
	})
	if oerr != nil {
		t.Fatalf("Exchange: %v", oerr)
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(resp.AccessToken, claims); err != nil {
		t.Fatalf("parse access token: %v", err)
	}
	if aud, _ := claims["aud"].(string); aud != "https://fhir.example.org/fhir" {
		t.Errorf("expected aud to be the server audience, got %q", aud)
	}
	if clientID, _ := claims["client_id"].(string); clientID != "app1" {
		t.Errorf("expected client_id claim app1, got %q", clientID)
	}

	idClaims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(resp.IDToken, idClaims); err != nil {
		t.Fatalf("parse id_token: %v", err)
	}
	if aud, _ := idClaims["aud"].(string); aud != "app1" {
		t.Errorf("expected id_token aud to remain the client id, got %q", aud)
	}
}

func TestExchangeRejectsAlreadyConsumedCode(t *testing.T) {
	authSvc, tokenSvc, _ := newTestTokenFixture()
	session := mintSession(t, authSvc)

	req := CodeExchangeRequest{
		Code:         session.Code,
		RedirectURI:  "https://app.example.org/callback",
		ClientID:     "app1",
		CodeVerifier: testVerifier,
	}
	if _, oerr := tokenSvc.Exchange(req); oerr != nil {
		t.Fatalf("first Exchange: %v", oerr)
	}
	_, oerr := tokenSvc.Exchange(req)
	if oerr == nil || oerr.Code != "invalid_grant" {
		t.Fatalf("expected invalid_grant on reuse, got %+v", oerr)
	}
}

func TestExchangeRejectsExpiredCode(t *testing.T) {
	authSvc, tokenSvc, _ := newTestTokenFixture()
	session := mintSession(t, authSvc)
	session.ExpiresAt = time.Now().Add(-time.Minute)

	_, oerr := tokenSvc.Exchange(CodeExchangeRequest{
		Code:         session.Code,
		RedirectURI:  "https://app.example.org/callback",
		ClientID:     "app1",
		CodeVerifier: testVerifier,
	})
	if oerr == nil || oerr.Code != "invalid_grant" {
		t.Fatalf("expected invalid_grant for an expired code, got %+v", oerr)
	}
}

func TestExchangeRejectsRedirectMismatch(t *testing.T) {
	authSvc, tokenSvc, _ := newTestTokenFixture()
	session := mintSession(t, authSvc)

	_, oerr := tokenSvc.Exchange(CodeExchangeRequest{
		Code:         session.Code,
		RedirectURI:  "https://other.example.org/callback",
		ClientID:     "app1",
		CodeVerifier: testVerifier,
	})
	if oerr == nil || oerr.Code != "invalid_grant" {
		t.Fatalf("expected invalid_grant for redirect mismatch, got %+v", oerr)
	}
}

func TestExchangeRejectsPKCEFailure(t *testing.T) {
	authSvc, tokenSvc, _ := newTestTokenFixture()
	session := mintSession(t, authSvc)

	_, oerr := tokenSvc.Exchange(CodeExchangeRequest{
		Code:         session.Code,
		RedirectURI:  "https://app.example.org/callback",
		ClientID:     "app1",
		CodeVerifier: "wrong-verifier",
	})
	if oerr == nil || oerr.Code != "invalid_grant" {
		t.Fatalf("expected invalid_grant for a bad code_verifier, got %+v", oerr)
	}
}

func TestClientCredentialsRejectsPublicClient(t *testing.T) {
	_, tokenSvc, client := newTestTokenFixture()
	client.GrantTypes = append(client.GrantTypes, "client_credentials")

	_, oerr := tokenSvc.ClientCredentials(ClientCredentialsRequest{
		ClientID:     "app1",
		ClientSecret: "whatever",
		Scope:        "system/*.read",
	})
	if oerr == nil || oerr.Code != "unauthorized_client" {
		t.Fatalf("expected unauthorized_client for a non-confidential client, got %+v", oerr)
	}
}

func TestClientCredentialsRejectsNonSystemScope(t *testing.T) {
	clients := NewClientStore()
	sessions := NewSessionStore()
	refresh := NewRefreshTokenStore()
	client := &Client{
		ClientID:     "svc1",
		Confidential: true,
		Active:       true,
		GrantTypes:   []string{"client_credentials"},
		SecretHash:   hashToken("s3cret"),
	}
	clients.Register(client)
	tokenSvc := NewTokenService(clients, sessions, refresh, "https://issuer.example.org", []byte("key"))

	_, oerr := tokenSvc.ClientCredentials(ClientCredentialsRequest{
		ClientID:     "svc1",
		ClientSecret: "s3cret",
		Scope:        "patient/*.read",
	})
	if oerr == nil || oerr.Code != "invalid_scope" {
		t.Fatalf("expected invalid_scope for a non-system/ scope, got %+v", oerr)
	}
}

func TestClientCredentialsHappyPath(t *testing.T) {
	clients := NewClientStore()
	sessions := NewSessionStore()
	refresh := NewRefreshTokenStore()
	client := &Client{
		ClientID:     "svc1",
		Confidential: true,
		Active:       true,
		GrantTypes:   []string{"client_credentials"},
		SecretHash:   hashToken("s3cret"),
	}
	clients.Register(client)
	tokenSvc := NewTokenService(clients, sessions, refresh, "https://issuer.example.org", []byte("key"))

	resp, oerr := tokenSvc.ClientCredentials(ClientCredentialsRequest{
		ClientID:     "svc1",
		ClientSecret: "s3cret",
		Scope:        "system/*.read",
	})
	if oerr != nil {
		t.Fatalf("ClientCredentials: %v", oerr)
	}
	if resp.RefreshToken != "" {
		t.Error("client_credentials must never issue a refresh token")
	}
}

func TestRefreshRotationHappyPathRevokesPredecessor(t *testing.T) {
	authSvc, tokenSvc, _ := newTestTokenFixture()
	session := mintSession(t, authSvc)

	first, oerr := tokenSvc.Exchange(CodeExchangeRequest{
		Code:         session.Code,
		RedirectURI:  "https://app.example.org/callback",
		ClientID:     "app1",
		CodeVerifier: testVerifier,
	})
	if oerr != nil {
		t.Fatalf("Exchange: %v", oerr)
	}

	second, oerr := tokenSvc.Refresh(RefreshRequest{RefreshToken: first.RefreshToken, ClientID: "app1"})
	if oerr != nil {
		t.Fatalf("Refresh: %v", oerr)
	}
	if second.AccessToken == "" {
		t.Error("expected a new access token")
	}
	if second.IDToken != "" {
		t.Error("expected no id_token to be re-issued on refresh")
	}

	_, oerr = tokenSvc.Refresh(RefreshRequest{RefreshToken: first.RefreshToken, ClientID: "app1"})
	if oerr == nil || oerr.Code != "invalid_grant" {
		t.Fatalf("expected the predecessor refresh token to be revoked, got %+v", oerr)
	}
}

func TestRefreshRotationPreservesOriginalExpiry(t *testing.T) {
	authSvc, tokenSvc, _ := newTestTokenFixture()
	session := mintSession(t, authSvc)

	first, oerr := tokenSvc.Exchange(CodeExchangeRequest{
		Code:         session.Code,
		RedirectURI:  "https://app.example.org/callback",
		ClientID:     "app1",
		CodeVerifier: testVerifier,
	})
	if oerr != nil {
		t.Fatalf("Exchange: %v", oerr)
	}
	original, ok := tokenSvc.Refresh.Get(hashToken(first.RefreshToken))
	if !ok {
		t.Fatal("expected to find the freshly minted refresh token")
	}
	originalExpiry := original.ExpiresAt

	second, oerr := tokenSvc.Refresh(RefreshRequest{RefreshToken: first.RefreshToken, ClientID: "app1"})
	if oerr != nil {
		t.Fatalf("Refresh: %v", oerr)
	}
	rotated, ok := tokenSvc.Refresh.Get(hashToken(second.RefreshToken))
	if !ok {
		t.Fatal("expected to find the rotated refresh token")
	}
	if !rotated.ExpiresAt.Equal(originalExpiry) {
		t.Errorf("expected the rotated token to share expires_at %v, got %v", originalExpiry, rotated.ExpiresAt)
	}
}

func TestRefreshRejectsScopeEscalation(t *testing.T) {
	authSvc, tokenSvc, _ := newTestTokenFixture()
	session := mintSession(t, authSvc)

	first, oerr := tokenSvc.Exchange(CodeExchangeRequest{
		Code:         session.Code,
		RedirectURI:  "https://app.example.org/callback",
		ClientID:     "app1",
		CodeVerifier: testVerifier,
	})
	if oerr != nil {
		t.Fatalf("Exchange: %v", oerr)
	}

	_, oerr = tokenSvc.Refresh(RefreshRequest{
		RefreshToken: first.RefreshToken,
		ClientID:     "app1",
		Scope:        "system/*.write",
	})
	if oerr == nil || oerr.Code != "invalid_scope" {
		t.Fatalf("expected invalid_scope for an escalated scope request, got %+v", oerr)
	}
}

func TestRefreshAllowsScopeNarrowing(t *testing.T) {
	authSvc, tokenSvc, _ := newTestTokenFixture()
	session := mintSession(t, authSvc)

	first, oerr := tokenSvc.Exchange(CodeExchangeRequest{
		Code:         session.Code,
		RedirectURI:  "https://app.example.org/callback",
		ClientID:     "app1",
		CodeVerifier: testVerifier,
	})
	if oerr != nil {
		t.Fatalf("Exchange: %v", oerr)
	}

	resp, oerr := tokenSvc.Refresh(RefreshRequest{
		RefreshToken: first.RefreshToken,
		ClientID:     "app1",
		Scope:        "patient/*.read",
	})
	if oerr != nil {
		t.Fatalf("Refresh: %v", oerr)
	}
	if resp.Scope != "patient/*.read" {
		t.Errorf("expected narrowed scope patient/*.read, got %s", resp.Scope)
	}
}

func TestRefreshRejectsRevokedToken(t *testing.T) {
	authSvc, tokenSvc, _ := newTestTokenFixture()
	session := mintSession(t, authSvc)

	first, oerr := tokenSvc.Exchange(CodeExchangeRequest{
		Code:         session.Code,
		RedirectURI:  "https://app.example.org/callback",
		ClientID:     "app1",
		CodeVerifier: testVerifier,
	})
	if oerr != nil {
		t.Fatalf("Exchange: %v", oerr)
	}
	tokenSvc.Refresh.Revoke(hashToken(first.RefreshToken), time.Now())

	_, oerr = tokenSvc.Refresh(RefreshRequest{RefreshToken: first.RefreshToken, ClientID: "app1"})
	if oerr == nil || oerr.Code != "invalid_grant" {
		t.Fatalf("expected invalid_grant for a revoked token, got %+v", oerr)
	}
}
