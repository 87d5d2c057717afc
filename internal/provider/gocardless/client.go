package gocardless

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

const requestTimeout = 30 * time.Second

// Client is the concrete API implementation against the bank account data
// REST endpoint. It draws bearer tokens from a TokenSource.
type Client struct {
	baseURL string
	tokens  *TokenSource
	http    *http.Client
}

// NewClient creates a client for the given API base URL.
func NewClient(baseURL string, tokens *TokenSource) *Client {
	return &Client{
		baseURL: baseURL,
		tokens:  tokens,
		http:    &http.Client{Timeout: requestTimeout},
	}
}

type transactionsResponse struct {
	Transactions struct {
		Booked []BookedTransaction `json:"booked"`
	} `json:"transactions"`
}

// Transactions implements API.
func (c *Client) Transactions(ctx context.Context, accountID string, dateFrom time.Time) ([]BookedTransaction, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/api/v2/accounts/%s/transactions/", c.baseURL, url.PathEscape(accountID))
	if !dateFrom.IsZero() {
		endpoint += "?date_from=" + dateFrom.UTC().Format("2006-01-02")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("gocardless: building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gocardless: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gocardless: unexpected status %d", resp.StatusCode)
	}

	var payload transactionsResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("gocardless: decoding response: %w", err)
	}
	return payload.Transactions.Booked, nil
}

var _ API = (*Client)(nil)
