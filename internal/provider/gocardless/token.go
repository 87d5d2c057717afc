package gocardless

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// refreshInterval is how often the background loop renews the access
// token. Access tokens live 24 hours; renewing at 18 keeps a margin.
const refreshInterval = 18 * time.Hour

const tokenRequestTimeout = 15 * time.Second

// TokenSource obtains and caches access tokens for the bank account data
// API. A background loop renews the token every refreshInterval so
// long-running syncs never hit an expired one. Close stops the loop.
type TokenSource struct {
	baseURL   string
	secretID  string
	secretKey string
	http      *http.Client
	log       zerolog.Logger

	mu      sync.Mutex
	access  string
	refresh string
	expires time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// NewTokenSource creates a token source and starts its refresh loop.
func NewTokenSource(baseURL, secretID, secretKey string, log zerolog.Logger) *TokenSource {
	ctx, cancel := context.WithCancel(context.Background())
	ts := &TokenSource{
		baseURL:   baseURL,
		secretID:  secretID,
		secretKey: secretKey,
		http:      &http.Client{Timeout: tokenRequestTimeout},
		log:       log,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	go ts.refreshLoop(ctx)
	return ts
}

// Token returns a valid access token, obtaining one on first use or after
// expiry.
func (ts *TokenSource) Token(ctx context.Context) (string, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.access != "" && time.Now().Before(ts.expires) {
		return ts.access, nil
	}
	if err := ts.obtainLocked(ctx); err != nil {
		return "", err
	}
	return ts.access, nil
}

// Close stops the background refresh loop. In-flight Token calls are not
// affected.
func (ts *TokenSource) Close() error {
	ts.cancel()
	<-ts.done
	return nil
}

func (ts *TokenSource) refreshLoop(ctx context.Context) {
	defer close(ts.done)
	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reqCtx, cancel := context.WithTimeout(ctx, tokenRequestTimeout)
			if err := ts.renew(reqCtx); err != nil {
				ts.log.Warn().Err(err).Msg("Access token refresh failed")
			}
			cancel()
		}
	}
}

// renew refreshes the access token using the refresh token, falling back
// to a full credential exchange when no refresh token is held or the
// refresh is rejected.
func (ts *TokenSource) renew(ctx context.Context) error {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.refresh != "" {
		err := ts.refreshLocked(ctx)
		if err == nil {
			return nil
		}
		ts.log.Warn().Err(err).Msg("Token refresh rejected, re-authenticating")
	}
	return ts.obtainLocked(ctx)
}

type tokenResponse struct {
	Access        string `json:"access"`
	AccessExpires int64  `json:"access_expires"`
	Refresh       string `json:"refresh"`
}

func (ts *TokenSource) obtainLocked(ctx context.Context) error {
	payload := map[string]string{
		"secret_id":  ts.secretID,
		"secret_key": ts.secretKey,
	}
	tok, err := ts.post(ctx, "/api/v2/token/new/", payload)
	if err != nil {
		return fmt.Errorf("gocardless: obtaining token: %w", err)
	}
	ts.store(tok)
	return nil
}

func (ts *TokenSource) refreshLocked(ctx context.Context) error {
	tok, err := ts.post(ctx, "/api/v2/token/refresh/", map[string]string{"refresh": ts.refresh})
	if err != nil {
		return fmt.Errorf("gocardless: refreshing token: %w", err)
	}
	ts.store(tok)
	return nil
}

func (ts *TokenSource) store(tok tokenResponse) {
	ts.access = tok.Access
	if tok.Refresh != "" {
		ts.refresh = tok.Refresh
	}
	// Expire a minute early so a token is never presented right at the
	// boundary.
	ts.expires = time.Now().Add(time.Duration(tok.AccessExpires)*time.Second - time.Minute)
}

func (ts *TokenSource) post(ctx context.Context, path string, payload map[string]string) (tokenResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return tokenResponse{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ts.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return tokenResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := ts.http.Do(req)
	if err != nil {
		return tokenResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return tokenResponse{}, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	var tok tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return tokenResponse{}, err
	}
	return tok, nil
}
