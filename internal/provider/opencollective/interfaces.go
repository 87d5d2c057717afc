package opencollective

import (
	"context"
	"time"
)

// Collective identifies the counterparty collective of a contribution.
type Collective struct {
	Slug     string `json:"slug"`
	Name     string `json:"name"`
	ImageURL string `json:"imageUrl"`
}

// Contribution is one transaction as returned by the Open Collective
// GraphQL API. Amount is already in minor units of HostCurrency.
type Contribution struct {
	UUID           string
	CreatedAt      time.Time
	Amount         int64
	HostCurrency   string
	Description    string
	FromCollective Collective
	// OrderTotalAmount is the total of the originating order, set only on
	// CREDIT lookups that resolve an order. Used for correlation.
	OrderTotalAmount int64
}

// API is the Open Collective query surface the plugin consumes.
// This interface enables mocking and testing of GraphQL operations.
type API interface {
	// Transactions lists a collective's transactions. Zero times and
	// empty txType/limit leave the corresponding filter unset.
	Transactions(ctx context.Context, collectiveSlug string, dateFrom, dateTo time.Time, txType string, limit int) ([]Contribution, error)
}
