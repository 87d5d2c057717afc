package opencollective

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/dvloznov/ledger-indexer/internal/ledger"
)

// requestTimeout bounds every GraphQL call. Correlation lookups ride on the
// same client, so this also caps the enrichment latency a Stripe sync pays.
const requestTimeout = 3 * time.Second

const transactionsQuery = `
  query getTransactions(
    $collectiveSlug: String!
    $dateFrom: String
    $dateTo: String
    $type: String
    $limit: Int
  ) {
    allTransactions(
      collectiveSlug: $collectiveSlug
      dateFrom: $dateFrom
      dateTo: $dateTo
      type: $type
      limit: $limit
    ) {
      id
      uuid
      createdAt
      hostCurrency
      amount
      description
      fromCollective {
        slug
        name
        imageUrl
      }
      ... on Order {
        order {
          createdAt
          totalAmount
        }
      }
    }
  }
`

// Client is the concrete API implementation against the Open Collective
// GraphQL endpoint.
type Client struct {
	endpoint string
	http     *http.Client
}

// NewClient creates a client for the given GraphQL endpoint URL.
func NewClient(endpoint string) *Client {
	return &Client{
		endpoint: endpoint,
		http:     &http.Client{Timeout: requestTimeout},
	}
}

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type rawTransaction struct {
	UUID           string     `json:"uuid"`
	CreatedAt      string     `json:"createdAt"`
	HostCurrency   string     `json:"hostCurrency"`
	Amount         int64      `json:"amount"`
	Description    string     `json:"description"`
	FromCollective Collective `json:"fromCollective"`
	Order          *struct {
		TotalAmount int64 `json:"totalAmount"`
	} `json:"order"`
}

type graphqlResponse struct {
	Data struct {
		AllTransactions []rawTransaction `json:"allTransactions"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// Transactions implements API.
func (c *Client) Transactions(ctx context.Context, collectiveSlug string, dateFrom, dateTo time.Time, txType string, limit int) ([]Contribution, error) {
	variables := map[string]any{
		"collectiveSlug": collectiveSlug,
	}
	if !dateFrom.IsZero() {
		variables["dateFrom"] = ledger.FormatCursor(dateFrom)
	}
	if !dateTo.IsZero() {
		variables["dateTo"] = ledger.FormatCursor(dateTo)
	}
	if txType != "" {
		variables["type"] = txType
	}
	if limit > 0 {
		variables["limit"] = limit
	}

	body, err := json.Marshal(graphqlRequest{Query: transactionsQuery, Variables: variables})
	if err != nil {
		return nil, fmt.Errorf("opencollective: encoding query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("opencollective: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("opencollective: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("opencollective: unexpected status %d", resp.StatusCode)
	}

	var gqlResp graphqlResponse
	if err := json.NewDecoder(resp.Body).Decode(&gqlResp); err != nil {
		return nil, fmt.Errorf("opencollective: decoding response: %w", err)
	}
	if len(gqlResp.Errors) > 0 {
		return nil, fmt.Errorf("opencollective: graphql error: %s", gqlResp.Errors[0].Message)
	}

	contributions := make([]Contribution, 0, len(gqlResp.Data.AllTransactions))
	for _, raw := range gqlResp.Data.AllTransactions {
		createdAt, err := ledger.ParseTimestamp(raw.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("opencollective: transaction %s: %w", raw.UUID, err)
		}
		contribution := Contribution{
			UUID:           raw.UUID,
			CreatedAt:      createdAt,
			Amount:         raw.Amount,
			HostCurrency:   raw.HostCurrency,
			Description:    raw.Description,
			FromCollective: raw.FromCollective,
		}
		if raw.Order != nil {
			contribution.OrderTotalAmount = raw.Order.TotalAmount
		}
		contributions = append(contributions, contribution)
	}
	return contributions, nil
}

var _ API = (*Client)(nil)
