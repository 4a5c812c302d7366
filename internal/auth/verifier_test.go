package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestJWTVerifier(t *testing.T) {
	v, err := NewJWTVerifier("super-secret-jwt-signing-key", "authenticated")
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	v.now = func() time.Time { return now }

	token, err := v.Issue(Identity{UserID: "u1", Email: "ann@example.com"}, time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	id, err := v.Verify(context.Background(), token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if id.UserID != "u1" || id.Email != "ann@example.com" {
		t.Fatalf("identity = %+v", id)
	}

	other, _ := NewJWTVerifier("super-secret-jwt-signing-key", "other-audience")
	other.now = v.now
	if _, err := other.Verify(context.Background(), token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("audience mismatch: expected ErrInvalidToken, got %v", err)
	}

	now = now.Add(2 * time.Hour)
	if _, err := v.Verify(context.Background(), token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expired: expected ErrInvalidToken, got %v", err)
	}
	if _, err := v.Verify(context.Background(), "not-a-token"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("garbage: expected ErrInvalidToken, got %v", err)
	}
}

func TestSupabaseVerify(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("apikey") != "anon" {
			t.Errorf("missing apikey header")
		}
		if r.Header.Get("Authorization") != "Bearer good" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(SupabaseUser{ID: "u9", Email: "z@example.com"})
	}))
	defer srv.Close()

	c := NewSupabaseClient(srv.URL+"/", "anon")
	id, err := c.Verify(context.Background(), "good")
	if err != nil || id.UserID != "u9" {
		t.Fatalf("verify good = %+v, %v", id, err)
	}
	if _, err := c.Verify(context.Background(), "bad"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}
