package gocardless

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
)

func TestTokenSource_ObtainsAndCaches(t *testing.T) {
	var newCalls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v2/token/new/" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var payload map[string]string
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decoding payload: %v", err)
		}
		if payload["secret_id"] != "id" || payload["secret_key"] != "key" {
			t.Errorf("credentials = %v", payload)
		}
		newCalls++
		json.NewEncoder(w).Encode(tokenResponse{Access: "access-1", AccessExpires: 86400, Refresh: "refresh-1"})
	}))
	defer srv.Close()

	ts := NewTokenSource(srv.URL, "id", "key", zerolog.Nop())
	defer ts.Close()

	for i := 0; i < 2; i++ {
		tok, err := ts.Token(context.Background())
		if err != nil {
			t.Fatalf("Token failed: %v", err)
		}
		if tok != "access-1" {
			t.Errorf("token = %q, want access-1", tok)
		}
	}
	if newCalls != 1 {
		t.Errorf("token endpoint called %d times, want 1 (cached)", newCalls)
	}
}

func TestTokenSource_ObtainError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	ts := NewTokenSource(srv.URL, "id", "bad-key", zerolog.Nop())
	defer ts.Close()

	if _, err := ts.Token(context.Background()); err == nil {
		t.Fatal("expected error for rejected credentials")
	}
}

func TestTokenSource_CloseStopsLoop(t *testing.T) {
	ts := NewTokenSource("http://127.0.0.1:0", "id", "key", zerolog.Nop())
	if err := ts.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	// Close waits for the loop to exit, so a second Token call still works
	// against the cached state machinery without racing the loop.
}
