package jwt

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"testing"
	"time"

	gjwt "github.com/golang-jwt/jwt/v5"
)

const testSecret = "k3Jq9vX2mN8pL4tR7wY1zB6cF0hD5gS2"

type testClock struct{ now time.Time }

func (c *testClock) Now() time.Time { return c.now }

func newHSManager(t *testing.T, clock *testClock) *Manager {
	t.Helper()
	m, err := NewManager(Config{
		SigningMethod:       MethodHS256,
		PrivateKey:          []byte(testSecret),
		Issuer:              "fingate",
		Audience:            "fingate-api",
		AccessTTL:           15 * time.Minute,
		RefreshTTL:          24 * time.Hour,
		ResetSessionTTL:     10 * time.Minute,
		RequireStrongSecret: true,
		Now:                 clock.Now,
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return m
}

func newEdKeys(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate ed25519 key: %v", err)
	}
	return pub, priv
}

func TestNewManagerRejectsWeakSecrets(t *testing.T) {
	base := Config{
		SigningMethod:   MethodHS256,
		Issuer:          "fingate",
		Audience:        "fingate-api",
		AccessTTL:       time.Minute,
		RefreshTTL:      time.Hour,
		ResetSessionTTL: time.Minute,
	}

	short := base
	short.PrivateKey = []byte("too-short")
	if _, err := NewManager(short); !errors.Is(err, ErrWeakSecret) {
		t.Fatalf("expected ErrWeakSecret, got %v", err)
	}

	placeholder := base
	placeholder.PrivateKey = []byte("dev-secret-key-change-me-in-production")
	if _, err := NewManager(placeholder); err != nil {
		t.Fatalf("expected placeholder to be tolerated without strict mode, got %v", err)
	}
	placeholder.RequireStrongSecret = true
	if _, err := NewManager(placeholder); !errors.Is(err, ErrPlaceholderSecret) {
		t.Fatalf("expected ErrPlaceholderSecret, got %v", err)
	}

	repeated := base
	repeated.RequireStrongSecret = true
	repeated.PrivateKey = []byte("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	if _, err := NewManager(repeated); !errors.Is(err, ErrPlaceholderSecret) {
		t.Fatalf("expected repeated secret to be rejected, got %v", err)
	}
}

func TestNewManagerRejectsInvalidConfig(t *testing.T) {
	cfg := Config{
		SigningMethod:   MethodHS256,
		PrivateKey:      []byte(testSecret),
		Issuer:          "fingate",
		Audience:        "fingate-api",
		AccessTTL:       time.Minute,
		RefreshTTL:      0,
		ResetSessionTTL: time.Minute,
	}
	if _, err := NewManager(cfg); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig for zero refresh TTL, got %v", err)
	}

	cfg.RefreshTTL = time.Hour
	cfg.Audience = ""
	if _, err := NewManager(cfg); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig for missing audience, got %v", err)
	}

	cfg.Audience = "fingate-api"
	cfg.SigningMethod = "rs256"
	if _, err := NewManager(cfg); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig for unsupported method, got %v", err)
	}
}

func TestIssueAndParseKinds(t *testing.T) {
	clock := &testClock{now: time.Unix(1_700_000_000, 0)}
	m := newHSManager(t, clock)

	access, err := m.IssueAccess("alice@example.com", 42, 3)
	if err != nil {
		t.Fatalf("issue access: %v", err)
	}
	if access.ID == "" {
		t.Fatal("expected jti")
	}
	if !access.ExpiresAt.Equal(clock.now.Add(15 * time.Minute)) {
		t.Fatalf("unexpected access expiry %v", access.ExpiresAt)
	}

	claims, err := m.Parse(access.Token, TypeAccess)
	if err != nil {
		t.Fatalf("parse access: %v", err)
	}
	if claims.UID != 42 || claims.TokenVersion != 3 || claims.Subject != "alice@example.com" || claims.ID != access.ID {
		t.Fatalf("unexpected claims %+v", claims)
	}

	if _, err := m.Parse(access.Token, TypeRefresh); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected access token to be refused as refresh, got %v", err)
	}

	refresh, err := m.IssueRefresh("alice@example.com", 42, 3)
	if err != nil {
		t.Fatalf("issue refresh: %v", err)
	}
	if !refresh.ExpiresAt.Equal(clock.now.Add(24 * time.Hour)) {
		t.Fatalf("expected independent refresh TTL, got %v", refresh.ExpiresAt)
	}
	if _, err := m.Parse(refresh.Token, TypeRefresh); err != nil {
		t.Fatalf("parse refresh: %v", err)
	}
	if _, err := m.Parse(refresh.Token, TypeAccess); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected refresh token to be refused as access, got %v", err)
	}
}

func TestResetSessionToken(t *testing.T) {
	clock := &testClock{now: time.Unix(1_700_000_000, 0)}
	m := newHSManager(t, clock)

	var ipHash, uaHash [32]byte
	ipHash[0], uaHash[0] = 1, 2
	limit := clock.now.Add(5 * time.Minute)

	tok, err := m.IssueResetSession("alice@example.com", 42, 3, ResetBinding{
		SessionToken: "raw-session",
		IPHash:       ipHash,
		UAHash:       uaHash,
		ExpiresAt:    limit,
	})
	if err != nil {
		t.Fatalf("issue reset: %v", err)
	}
	if !tok.ExpiresAt.Equal(limit) {
		t.Fatalf("expected token expiry capped at %v, got %v", limit, tok.ExpiresAt)
	}

	claims, err := m.Parse(tok.Token, TypeResetSession)
	if err != nil {
		t.Fatalf("parse reset: %v", err)
	}
	if claims.ResetSessionID != "raw-session" {
		t.Fatalf("unexpected rsid %q", claims.ResetSessionID)
	}
	gotIP, gotUA, err := claims.ContextHashes()
	if err != nil {
		t.Fatalf("context hashes: %v", err)
	}
	if gotIP != ipHash || gotUA != uaHash {
		t.Fatal("expected context hashes to round trip")
	}

	if _, err := m.IssueResetSession("alice@example.com", 42, 3, ResetBinding{}); err == nil {
		t.Fatal("expected empty session token to be refused")
	}
}

func TestParseRejectsExpiredAndForeignTokens(t *testing.T) {
	clock := &testClock{now: time.Unix(1_700_000_000, 0)}
	m := newHSManager(t, clock)

	access, _ := m.IssueAccess("alice@example.com", 42, 1)
	clock.now = clock.now.Add(16 * time.Minute)
	if _, err := m.Parse(access.Token, TypeAccess); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected expired token to fail, got %v", err)
	}

	sign := func(claims Claims, key []byte) string {
		t.Helper()
		s, err := gjwt.NewWithClaims(gjwt.SigningMethodHS256, claims).SignedString(key)
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		return s
	}
	valid := Claims{Type: TypeAccess, UID: 1, RegisteredClaims: gjwt.RegisteredClaims{
		ID:        "jti-1",
		Issuer:    "fingate",
		Audience:  gjwt.ClaimStrings{"fingate-api"},
		IssuedAt:  gjwt.NewNumericDate(clock.now),
		ExpiresAt: gjwt.NewNumericDate(clock.now.Add(time.Minute)),
	}}
	if _, err := m.Parse(sign(valid, []byte(testSecret)), TypeAccess); err != nil {
		t.Fatalf("expected hand-built token to parse: %v", err)
	}

	wrongIssuer := valid
	wrongIssuer.Issuer = "other"
	wrongAudience := valid
	wrongAudience.Audience = gjwt.ClaimStrings{"other-api"}
	noExpiry := valid
	noExpiry.ExpiresAt = nil
	noID := valid
	noID.ID = ""

	cases := map[string]string{
		"wrong issuer":   sign(wrongIssuer, []byte(testSecret)),
		"wrong audience": sign(wrongAudience, []byte(testSecret)),
		"no expiry":      sign(noExpiry, []byte(testSecret)),
		"no jti":         sign(noID, []byte(testSecret)),
		"wrong key":      sign(valid, []byte("another-secret-with-enough-bytes!!")),
		"garbage":        "not.a.jwt",
	}
	for name, tok := range cases {
		if _, err := m.Parse(tok, TypeAccess); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("%s: expected ErrInvalidToken, got %v", name, err)
		}
	}
}

func TestEd25519RoundTripAndAlgorithmPinning(t *testing.T) {
	pub, priv := newEdKeys(t)
	clock := &testClock{now: time.Unix(1_700_000_000, 0)}
	m, err := NewManager(Config{
		SigningMethod:   MethodEd25519,
		PrivateKey:      priv,
		PublicKey:       pub,
		Issuer:          "fingate",
		Audience:        "fingate-api",
		AccessTTL:       time.Minute,
		RefreshTTL:      time.Hour,
		ResetSessionTTL: time.Minute,
		Leeway:          30 * time.Second,
		Now:             clock.Now,
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	access, err := m.IssueAccess("bob", 7, 1)
	if err != nil {
		t.Fatalf("issue access: %v", err)
	}
	if _, err := m.Parse(access.Token, TypeAccess); err != nil {
		t.Fatalf("parse: %v", err)
	}

	clock.now = clock.now.Add(time.Minute + 15*time.Second)
	if _, err := m.Parse(access.Token, TypeAccess); err != nil {
		t.Fatalf("expected token within leeway to pass: %v", err)
	}

	hs := Claims{Type: TypeAccess, UID: 7, RegisteredClaims: gjwt.RegisteredClaims{
		ID:        "jti",
		Issuer:    "fingate",
		Audience:  gjwt.ClaimStrings{"fingate-api"},
		ExpiresAt: gjwt.NewNumericDate(clock.now.Add(time.Minute)),
	}}
	forged, _ := gjwt.NewWithClaims(gjwt.SigningMethodHS256, hs).SignedString([]byte(pub))
	if _, err := m.Parse(forged, TypeAccess); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected algorithm confusion to fail, got %v", err)
	}
}

func TestKeyRotationByKid(t *testing.T) {
	pub1, priv1 := newEdKeys(t)
	pub2, priv2 := newEdKeys(t)
	base := Config{
		SigningMethod:   MethodEd25519,
		Issuer:          "fingate",
		Audience:        "fingate-api",
		AccessTTL:       time.Minute,
		RefreshTTL:      time.Hour,
		ResetSessionTTL: time.Minute,
		VerifyKeys:      map[string][]byte{"k1": pub1, "k2": pub2},
	}

	old := base
	old.PrivateKey, old.KeyID = priv1, "k1"
	next := base
	next.PrivateKey, next.KeyID = priv2, "k2"

	m1, err := NewManager(old)
	if err != nil {
		t.Fatalf("new manager k1: %v", err)
	}
	m2, err := NewManager(next)
	if err != nil {
		t.Fatalf("new manager k2: %v", err)
	}

	tok, _ := m1.IssueAccess("bob", 7, 1)
	if _, err := m2.Parse(tok.Token, TypeAccess); err != nil {
		t.Fatalf("expected rotated manager to accept k1 token: %v", err)
	}

	onlyNew := base
	onlyNew.VerifyKeys = map[string][]byte{"k2": pub2}
	onlyNew.PrivateKey, onlyNew.KeyID = priv2, "k2"
	m3, _ := NewManager(onlyNew)
	if _, err := m3.Parse(tok.Token, TypeAccess); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected retired kid to fail, got %v", err)
	}
}

func TestIsPlaceholderSecret(t *testing.T) {
	for _, s := range []string{"secret", "ChangeMe", "my-jwt-secret-changeme-later-please-ok", "zzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzz"} {
		if !IsPlaceholderSecret(s) {
			t.Fatalf("expected %q to be a placeholder", s)
		}
	}
	if IsPlaceholderSecret(testSecret) {
		t.Fatal("expected random secret not to be a placeholder")
	}
}
