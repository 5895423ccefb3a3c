package usertoken

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

func TestNewVerifierRequiresJWKSURL(t *testing.T) {
	if _, err := NewVerifier(Config{}); err == nil {
		t.Fatalf("expected missing jwks url to fail")
	}
}

func TestVerifyReturnsIdentityAndRefreshesOnUnknownKid(t *testing.T) {
	key1 := mustKey(t)
	key2 := mustKey(t)

	var active atomic.Value
	active.Store("kid-1")
	jwksServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Cache-Control", "public, max-age=60")
		kid := active.Load().(string)
		pub := key1.PublicKey
		if kid == "kid-2" {
			pub = key2.PublicKey
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"keys": []map[string]string{toJWK(kid, pub)}})
	}))
	defer jwksServer.Close()

	v, err := NewVerifier(Config{JWKSURL: jwksServer.URL, Issuer: "https://clerk.example"})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}

	signed1 := sign(t, key1, "kid-1", sessionClaims{
		RegisteredClaims: registered("user_a", "https://clerk.example", time.Now()),
		Name:             "Ada",
		ImageURL:         "https://img.example/ada.png",
	})
	id, err := v.Verify(context.Background(), signed1)
	if err != nil {
		t.Fatalf("verify token1: %v", err)
	}
	if id.UserID != "user_a" || id.Name != "Ada" || id.ImageURL == "" {
		t.Fatalf("unexpected identity: %+v", id)
	}

	active.Store("kid-2")
	signed2 := sign(t, key2, "kid-2", sessionClaims{
		RegisteredClaims: registered("user_b", "https://clerk.example", time.Now()),
	})
	if id, err := v.Verify(context.Background(), signed2); err != nil || id.UserID != "user_b" {
		t.Fatalf("verify token2 failed: id=%+v err=%v", id, err)
	}
}

func TestVerifyRejectsWrongIssuerAndFutureIssuedAt(t *testing.T) {
	key := mustKey(t)
	jwksServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"keys": []map[string]string{toJWK("kid-1", key.PublicKey)}})
	}))
	defer jwksServer.Close()

	v, err := NewVerifier(Config{JWKSURL: jwksServer.URL, Issuer: "issuer-a", Leeway: 5 * time.Second})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}

	wrongIssuer := sign(t, key, "kid-1", sessionClaims{RegisteredClaims: registered("user-1", "issuer-b", time.Now())})
	if _, err := v.Verify(context.Background(), wrongIssuer); err == nil {
		t.Fatalf("expected wrong issuer to fail")
	}
	future := sign(t, key, "kid-1", sessionClaims{RegisteredClaims: registered("user-1", "issuer-a", time.Now().Add(2*time.Minute))})
	if _, err := v.Verify(context.Background(), future); err == nil {
		t.Fatalf("expected future iat token to fail")
	}
}

func TestMaxAge(t *testing.T) {
	tests := map[string]time.Duration{
		"":                   0,
		"public, max-age=30": 30 * time.Second,
		"no-cache":           0,
		"max-age=abc":        0,
		"MAX-AGE=5, private": 5 * time.Second,
	}
	for in, want := range tests {
		if got := maxAge(in); got != want {
			t.Fatalf("maxAge(%q) = %v, want %v", in, got, want)
		}
	}
}

func mustKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}

func registered(sub, issuer string, issuedAt time.Time) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		Subject:   sub,
		Issuer:    issuer,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		IssuedAt:  jwt.NewNumericDate(issuedAt),
		NotBefore: jwt.NewNumericDate(time.Now().Add(-time.Second)),
	}
}

func sign(t *testing.T, key *rsa.PrivateKey, kid string, claims sessionClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func toJWK(kid string, key rsa.PublicKey) map[string]string {
	return map[string]string{
		"kty": "RSA",
		"kid": kid,
		"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
		"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
	}
}
