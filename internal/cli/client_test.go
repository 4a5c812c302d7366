package cli

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"rippletrade/internal/game"

	"github.com/shopspring/decimal"
)

func TestClientSendsAuthAndDecodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{"error": "missing bearer token"})
			return
		}
		switch r.URL.Path {
		case "/v1/runs/r1/orders":
			if r.Header.Get("Idempotency-Key") != "k1" {
				t.Errorf("idempotency key not sent")
			}
			var in map[string]string
			json.NewDecoder(r.Body).Decode(&in)
			json.NewEncoder(w).Encode(game.Fill{
				Order: game.Order{Symbol: in["symbol"], Side: game.Side(in["side"]), Quantity: decimal.RequireFromString(in["quantity"])},
				Price: decimal.NewFromInt(100),
			})
		case "/v1/submissions":
			w.WriteHeader(http.StatusConflict)
			json.NewEncoder(w).Encode(map[string]string{"error": "duplicate idempotency key"})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL + "/")
	ctx := context.Background()
	fill, err := c.PlaceOrder(ctx, "tok", "r1", "ORE", "buy", decimal.RequireFromString("1.5"), "k1")
	if err != nil {
		t.Fatalf("order: %v", err)
	}
	if fill.Symbol != "ORE" || fill.Quantity.String() != "1.5" {
		t.Fatalf("fill = %+v", fill)
	}

	_, err = c.Submit(ctx, "tok", game.Submission{ClientRunID: "x"})
	if !IsStatus(err, http.StatusConflict) {
		t.Fatalf("expected 409, got %v", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Message != "duplicate idempotency key" {
		t.Fatalf("api error = %v", err)
	}

	if _, err := c.Run(ctx, "", "r1"); !IsStatus(err, http.StatusUnauthorized) {
		t.Fatalf("expected 401, got %v", err)
	}
}

func TestSessionRoundTrip(t *testing.T) {
	home := t.TempDir()
	if _, err := LoadSession(home); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}
	if err := SaveSession(home, Session{AccessToken: "a", Email: "ann@example.com", UserID: "u1"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	s, err := LoadSession(home)
	if err != nil || s.UserID != "u1" {
		t.Fatalf("load = %+v, %v", s, err)
	}
	if err := ClearSession(home); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, err := LoadSession(home); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession after clear, got %v", err)
	}
}
