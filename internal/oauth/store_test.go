package oauth

import (
	"testing"
	"time"
)

func TestClientStoreRegisterGetList(t *testing.T) {
	s := NewClientStore()
	s.Register(&Client{ClientID: "a"})
	s.Register(&Client{ClientID: "b"})

	if _, ok := s.Get("a"); !ok {
		t.Fatal("expected client a to be registered")
	}
	if _, ok := s.Get("ghost"); ok {
		t.Error("expected no client for an unregistered id")
	}
	if len(s.List()) != 2 {
		t.Errorf("expected 2 registered clients, got %d", len(s.List()))
	}
}

func TestSessionStoreConsumeIsAtomicAgainstDoubleConsume(t *testing.T) {
	s := NewSessionStore()
	defer s.Close()
	now := time.Now()
	s.Put(&AuthorizationSession{Code: "code1", ExpiresAt: now.Add(time.Hour)})

	first, ok := s.Consume("code1", now)
	if !ok || first.Code != "code1" {
		t.Fatalf("expected the first consume to succeed, got %+v ok=%v", first, ok)
	}

	_, ok = s.Consume("code1", now)
	if ok {
		t.Error("expected the second consume of the same code to fail")
	}
}

func TestSessionStoreConsumeUnknownCodeFails(t *testing.T) {
	s := NewSessionStore()
	defer s.Close()
	if _, ok := s.Consume("ghost", time.Now()); ok {
		t.Error("expected consuming an unknown code to fail")
	}
}

func TestSessionStoreUpdateLaunchContextFailsAfterConsume(t *testing.T) {
	s := NewSessionStore()
	defer s.Close()
	now := time.Now()
	s.Put(&AuthorizationSession{Code: "code1", ExpiresAt: now.Add(time.Hour)})
	if _, ok := s.Consume("code1", now); !ok {
		t.Fatal("expected consume to succeed")
	}

	if s.UpdateLaunchContext("code1", &LaunchContext{Patient: "p1"}) {
		t.Error("expected UpdateLaunchContext to fail on a consumed session")
	}
}

func TestSessionStoreCloseIsIdempotent(t *testing.T) {
	s := NewSessionStore()
	s.Close()
	s.Close()
}

func TestRefreshTokenStoreRevokeIsMonotone(t *testing.T) {
	s := NewRefreshTokenStore()
	defer s.Close()
	now := time.Now()
	s.Put(&RefreshToken{TokenHash: "hash1", ExpiresAt: now.Add(time.Hour)})

	s.Revoke("hash1", now)
	tok, _ := s.Get("hash1")
	firstRevokedAt := tok.RevokedAt
	if firstRevokedAt == nil {
		t.Fatal("expected RevokedAt to be set")
	}

	later := now.Add(time.Minute)
	s.Revoke("hash1", later)
	tok, _ = s.Get("hash1")
	if !tok.RevokedAt.Equal(*firstRevokedAt) {
		t.Error("expected a second Revoke call not to change RevokedAt")
	}
}

func TestRefreshTokenStoreUsableReflectsRevocationAndExpiry(t *testing.T) {
	s := NewRefreshTokenStore()
	defer s.Close()
	now := time.Now()
	s.Put(&RefreshToken{TokenHash: "hash1", ExpiresAt: now.Add(time.Hour)})

	tok, _ := s.Get("hash1")
	if !tok.usable(now) {
		t.Fatal("expected a fresh token to be usable")
	}

	expired := &RefreshToken{TokenHash: "hash2", ExpiresAt: now.Add(-time.Minute)}
	s.Put(expired)
	tok2, _ := s.Get("hash2")
	if tok2.usable(now) {
		t.Error("expected an expired token to be unusable")
	}
}

func TestLaunchContextStoreGetRespectsTTL(t *testing.T) {
	s := NewLaunchContextStore(-time.Second)
	s.Create("token1", &LaunchContext{Patient: "p1"})

	if _, ok := s.Get("token1"); ok {
		t.Error("expected a context with a negative TTL to already be expired")
	}
}

func TestLaunchContextStoreGetReturnsStoredContext(t *testing.T) {
	s := NewLaunchContextStore(time.Hour)
	s.Create("token1", &LaunchContext{Patient: "p1"})

	lc, ok := s.Get("token1")
	if !ok || lc.Patient != "p1" {
		t.Fatalf("expected to retrieve the stored launch context, got %+v ok=%v", lc, ok)
	}
}

func TestLaunchContextHasType(t *testing.T) {
	lc := &LaunchContext{Patient: "p1", Items: []LaunchContextItem{{Reference: "Location/1", Role: "location"}}}
	if !lc.HasType("patient") {
		t.Error("expected HasType(patient) to be true")
	}
	if lc.HasType("encounter") {
		t.Error("expected HasType(encounter) to be false")
	}
	if !lc.HasType("location") {
		t.Error("expected HasType(location) to be true via Items")
	}
}

func TestNilLaunchContextHasTypeIsFalse(t *testing.T) {
	var lc *LaunchContext
	if lc.HasType("patient") {
		t.Error("expected a nil launch context to never satisfy HasType")
	}
}
