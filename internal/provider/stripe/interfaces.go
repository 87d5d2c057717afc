package stripe

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dvloznov/ledger-indexer/internal/provider/opencollective"
)

// Charge is one card charge with the fields the indexer consumes. Amount
// is in minor units of Currency.
type Charge struct {
	ID                   string
	Created              time.Time
	Amount               int64
	Currency             string
	Description          string
	BillingName          string
	BillingDetails       json.RawMessage
	MetadataTo           string
	BalanceTransactionID string
	PaymentIntentID      string
}

// FeeDetail is one fee line of a balance transaction.
type FeeDetail struct {
	Amount      int64
	Currency    string
	Type        string
	Description string
	Application string
}

// BalanceTransaction carries the fee breakdown of a charge.
type BalanceTransaction struct {
	ID   string
	Fees []FeeDetail
}

// LineItem is the first line item of the checkout session behind a charge.
type LineItem struct {
	Description string
	ProductID   string
	PriceID     string
	Quantity    int64
	AmountTotal int64
}

// SessionDetails is what a payment intent's checkout session contributes
// to a record: either explicit metadata or the first line item.
type SessionDetails struct {
	Description    string
	AccountAddress string
	LineItem       *LineItem
}

// API is the charge surface the plugin consumes.
// This interface enables mocking and testing of REST operations.
type API interface {
	// Charges lists charges created at or after createdAfter, oldest page
	// reached via startingAfter. hasMore signals another page.
	Charges(ctx context.Context, createdAfter time.Time, startingAfter string, limit int) (charges []Charge, hasMore bool, err error)
	// BalanceTransaction resolves the fee breakdown of a charge.
	BalanceTransaction(ctx context.Context, id string) (BalanceTransaction, error)
	// SessionDetails resolves the checkout session of a payment intent,
	// nil when the intent has no session.
	SessionDetails(ctx context.Context, paymentIntentID string) (*SessionDetails, error)
}

// CreditLookup finds the contribution credited for a charge routed
// through Open Collective. Satisfied by *opencollective.Plugin.
type CreditLookup interface {
	FindCredit(ctx context.Context, collectiveSlug string, createdAt time.Time, amount int64) (*opencollective.Contribution, error)
}
