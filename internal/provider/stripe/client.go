package stripe

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const requestTimeout = 30 * time.Second

// defaultPageLimit is the page size used when the caller passes none.
const defaultPageLimit = 100

// Client is the concrete API implementation against the Stripe REST
// endpoint.
type Client struct {
	baseURL string
	secret  string
	http    *http.Client
}

// NewClient creates a client for the given API base URL, authenticating
// with the account's secret key.
func NewClient(baseURL, secret string) *Client {
	return &Client{
		baseURL: baseURL,
		secret:  secret,
		http:    &http.Client{Timeout: requestTimeout},
	}
}

type rawCharge struct {
	ID             string `json:"id"`
	Created        int64  `json:"created"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
	Description    string `json:"description"`
	BillingDetails struct {
		Name string `json:"name"`
	} `json:"billing_details"`
	Metadata           map[string]string `json:"metadata"`
	BalanceTransaction string            `json:"balance_transaction"`
	PaymentIntent      string            `json:"payment_intent"`
}

type chargeList struct {
	Data    []json.RawMessage `json:"data"`
	HasMore bool              `json:"has_more"`
}

// Charges implements API.
func (c *Client) Charges(ctx context.Context, createdAfter time.Time, startingAfter string, limit int) ([]Charge, bool, error) {
	if limit <= 0 {
		limit = defaultPageLimit
	}
	params := url.Values{}
	params.Set("limit", strconv.Itoa(limit))
	if !createdAfter.IsZero() {
		params.Set("created[gte]", strconv.FormatInt(createdAfter.Unix(), 10))
	}
	if startingAfter != "" {
		params.Set("starting_after", startingAfter)
	}

	var list chargeList
	if err := c.get(ctx, "/v1/charges?"+params.Encode(), &list); err != nil {
		return nil, false, err
	}

	charges := make([]Charge, 0, len(list.Data))
	for _, blob := range list.Data {
		var raw rawCharge
		if err := json.Unmarshal(blob, &raw); err != nil {
			return nil, false, fmt.Errorf("stripe: decoding charge: %w", err)
		}
		// The billing details blob rides along unparsed for the record's
		// data side channel.
		var envelope struct {
			BillingDetails json.RawMessage `json:"billing_details"`
		}
		_ = json.Unmarshal(blob, &envelope)

		charges = append(charges, Charge{
			ID:                   raw.ID,
			Created:              time.Unix(raw.Created, 0).UTC(),
			Amount:               raw.Amount,
			Currency:             raw.Currency,
			Description:          raw.Description,
			BillingName:          raw.BillingDetails.Name,
			BillingDetails:       envelope.BillingDetails,
			MetadataTo:           raw.Metadata["to"],
			BalanceTransactionID: raw.BalanceTransaction,
			PaymentIntentID:      raw.PaymentIntent,
		})
	}
	return charges, list.HasMore, nil
}

type rawBalanceTransaction struct {
	ID         string `json:"id"`
	FeeDetails []struct {
		Amount      int64  `json:"amount"`
		Currency    string `json:"currency"`
		Type        string `json:"type"`
		Description string `json:"description"`
		Application string `json:"application"`
	} `json:"fee_details"`
}

// BalanceTransaction implements API.
func (c *Client) BalanceTransaction(ctx context.Context, id string) (BalanceTransaction, error) {
	var raw rawBalanceTransaction
	if err := c.get(ctx, "/v1/balance_transactions/"+url.PathEscape(id), &raw); err != nil {
		return BalanceTransaction{}, err
	}
	bt := BalanceTransaction{ID: raw.ID}
	for _, fee := range raw.FeeDetails {
		bt.Fees = append(bt.Fees, FeeDetail{
			Amount:      fee.Amount,
			Currency:    fee.Currency,
			Type:        fee.Type,
			Description: fee.Description,
			Application: fee.Application,
		})
	}
	return bt, nil
}

type sessionList struct {
	Data []struct {
		ID       string            `json:"id"`
		Metadata map[string]string `json:"metadata"`
	} `json:"data"`
}

type lineItemList struct {
	Data []struct {
		Description string `json:"description"`
		Quantity    int64  `json:"quantity"`
		AmountTotal int64  `json:"amount_total"`
		Price       struct {
			ID      string `json:"id"`
			Product string `json:"product"`
		} `json:"price"`
	} `json:"data"`
}

// SessionDetails implements API.
func (c *Client) SessionDetails(ctx context.Context, paymentIntentID string) (*SessionDetails, error) {
	var sessions sessionList
	if err := c.get(ctx, "/v1/checkout/sessions?payment_intent="+url.QueryEscape(paymentIntentID), &sessions); err != nil {
		return nil, err
	}
	if len(sessions.Data) == 0 {
		return nil, nil
	}
	session := sessions.Data[0]

	details := &SessionDetails{
		Description:    session.Metadata["description"],
		AccountAddress: session.Metadata["accountAddress"],
	}

	var items lineItemList
	if err := c.get(ctx, "/v1/checkout/sessions/"+url.PathEscape(session.ID)+"/line_items", &items); err != nil {
		return nil, err
	}
	if len(items.Data) > 0 {
		first := items.Data[0]
		details.LineItem = &LineItem{
			Description: first.Description,
			ProductID:   first.Price.Product,
			PriceID:     first.Price.ID,
			Quantity:    first.Quantity,
			AmountTotal: first.AmountTotal,
		}
	}
	return details, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("stripe: building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secret)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("stripe: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("stripe: unexpected status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("stripe: decoding response: %w", err)
	}
	return nil
}

var _ API = (*Client)(nil)
