package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestIssueAndParseToken(t *testing.T) {
	secret := []byte("secret")
	issued, err := IssueToken(secret, Claims{
		Sub:    "did:plc:alice",
		Handle: "alice.bsky.social",
		JTI:    "jti-1",
		Exp:    time.Now().Add(time.Hour).Unix(),
	})
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	claims, err := ParseToken(secret, issued)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.Sub != "did:plc:alice" || claims.Handle != "alice.bsky.social" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestParseTokenRejectsExpired(t *testing.T) {
	secret := []byte("secret")
	issued, err := IssueToken(secret, Claims{
		Sub: "did:plc:alice",
		JTI: "jti-1",
		Exp: time.Now().Add(-time.Minute).Unix(),
	})
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	_, err = ParseToken(secret, issued)
	if !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("ParseToken() error = %v, want ErrExpiredToken", err)
	}
}

func TestParseTokenRejectsTampering(t *testing.T) {
	issued, err := IssueToken([]byte("secret"), Claims{
		Sub: "did:plc:alice",
		JTI: "jti-1",
		Exp: time.Now().Add(time.Hour).Unix(),
	})
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	if _, err := ParseToken([]byte("other"), issued); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("ParseToken() with wrong secret error = %v", err)
	}
	if _, err := ParseToken([]byte("secret"), "no-dot"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("ParseToken() malformed error = %v", err)
	}
}

func TestAccessExpiry(t *testing.T) {
	exp := time.Now().Add(90 * time.Second).Truncate(time.Second)
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   "did:plc:alice",
		"scope": "com.atproto.appPass",
		"exp":   exp.Unix(),
	}).SignedString([]byte("pds-secret"))
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}

	got, err := AccessExpiry(token)
	if err != nil {
		t.Fatalf("AccessExpiry() error = %v", err)
	}
	if !got.Equal(exp) {
		t.Fatalf("AccessExpiry() = %v, want %v", got, exp)
	}
	if !ExpiresWithin(token, 2*time.Minute, time.Now()) {
		t.Fatal("expected token to expire within two minutes")
	}
	if ExpiresWithin(token, 10*time.Second, time.Now()) {
		t.Fatal("token should not expire within ten seconds")
	}
	if !ExpiresWithin("garbage", time.Second, time.Now()) {
		t.Fatal("unreadable tokens count as expiring")
	}
}
