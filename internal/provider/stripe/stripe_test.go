package stripe

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/dvloznov/ledger-indexer/internal/ledger"
	"github.com/dvloznov/ledger-indexer/internal/provider"
	"github.com/dvloznov/ledger-indexer/internal/provider/opencollective"
)

type fakeAPI struct {
	pages     [][]Charge
	pageErrs  []error
	balances  map[string]BalanceTransaction
	balErrs   map[string]error
	sessions  map[string]*SessionDetails
	pageCalls []string
}

func (f *fakeAPI) Charges(ctx context.Context, createdAfter time.Time, startingAfter string, limit int) ([]Charge, bool, error) {
	call := len(f.pageCalls)
	f.pageCalls = append(f.pageCalls, startingAfter)
	if call < len(f.pageErrs) && f.pageErrs[call] != nil {
		return nil, false, f.pageErrs[call]
	}
	if call >= len(f.pages) {
		return nil, false, nil
	}
	return f.pages[call], call < len(f.pages)-1, nil
}

func (f *fakeAPI) BalanceTransaction(ctx context.Context, id string) (BalanceTransaction, error) {
	if err := f.balErrs[id]; err != nil {
		return BalanceTransaction{}, err
	}
	return f.balances[id], nil
}

func (f *fakeAPI) SessionDetails(ctx context.Context, paymentIntentID string) (*SessionDetails, error) {
	return f.sessions[paymentIntentID], nil
}

type fakeCredits struct {
	credit *opencollective.Contribution
	err    error

	gotSlug      string
	gotCreatedAt time.Time
	gotAmount    int64
}

func (f *fakeCredits) FindCredit(ctx context.Context, collectiveSlug string, createdAt time.Time, amount int64) (*opencollective.Contribution, error) {
	f.gotSlug = collectiveSlug
	f.gotCreatedAt = createdAt
	f.gotAmount = amount
	return f.credit, f.err
}

func testCharge() Charge {
	return Charge{
		ID:                   "ch_1",
		Created:              time.Date(2024, 9, 1, 10, 0, 0, 0, time.UTC),
		Amount:               5000,
		Currency:             "usd",
		Description:          "Pro plan",
		BillingName:          "Ada Lovelace",
		BalanceTransactionID: "txn_1",
	}
}

func TestPlugin_Index_FeeExpansion(t *testing.T) {
	api := &fakeAPI{
		pages: [][]Charge{{testCharge()}},
		balances: map[string]BalanceTransaction{
			"txn_1": {ID: "txn_1", Fees: []FeeDetail{
				{Amount: 175, Currency: "usd", Type: "stripe_fee", Description: "Stripe processing fees"},
				{Amount: 250, Currency: "usd", Type: "application_fee", Application: openCollectiveApplicationID},
			}},
		},
	}
	p := NewPlugin(api, nil, "Acme")

	txs, err := p.Index(context.Background(), "acme-main", ledger.Defaults{Tags: "revenue"}, "")
	if err != nil {
		t.Fatalf("Index failed: %v", err)
	}
	if len(txs) != 3 {
		t.Fatalf("got %d records, want 3 (charge + 2 fees)", len(txs))
	}

	charge := txs[0]
	if charge.Type != ledger.TypeTransfer || charge.Value != 5000 {
		t.Errorf("charge record = %s %d, want TRANSFER 5000", charge.Type, charge.Value)
	}
	if charge.TokenSymbol != "USD" || charge.TokenDecimals != 2 {
		t.Errorf("currency = %s/%d, want USD/2", charge.TokenSymbol, charge.TokenDecimals)
	}
	if charge.AccountAddress != "Acme" {
		t.Errorf("AccountAddress = %q, want configured account name", charge.AccountAddress)
	}
	if charge.InvoiceUUID == "" {
		t.Fatal("charge record has no invoice UUID")
	}

	stripeFee, appFee := txs[1], txs[2]
	if stripeFee.ProviderTxID != "ch_1-stripe_fee" || appFee.ProviderTxID != "ch_1-application_fee" {
		t.Errorf("fee ids = %q, %q", stripeFee.ProviderTxID, appFee.ProviderTxID)
	}
	if stripeFee.Value != -175 || appFee.Value != -250 {
		t.Errorf("fee values = %d, %d, want negated", stripeFee.Value, appFee.Value)
	}
	if stripeFee.Type != ledger.TypeFee || appFee.Type != ledger.TypeFee {
		t.Errorf("fee types = %s, %s", stripeFee.Type, appFee.Type)
	}
	if stripeFee.CounterpartyName != "Stripe" || appFee.CounterpartyName != "opencollective" {
		t.Errorf("fee counterparties = %q, %q", stripeFee.CounterpartyName, appFee.CounterpartyName)
	}
	for _, tx := range txs {
		if tx.InvoiceUUID != charge.InvoiceUUID {
			t.Errorf("record %s has invoice UUID %q, want shared %q", tx.ProviderTxID, tx.InvoiceUUID, charge.InvoiceUUID)
		}
		if tx.Tags != "revenue" {
			t.Errorf("record %s Tags = %q, want default applied", tx.ProviderTxID, tx.Tags)
		}
	}
}

func TestPlugin_Index_BalanceFetchFailureKeepsCharge(t *testing.T) {
	api := &fakeAPI{
		pages:   [][]Charge{{testCharge()}},
		balErrs: map[string]error{"txn_1": errors.New("rate limited")},
	}
	p := NewPlugin(api, nil, "")

	txs, err := p.Index(context.Background(), "acme-main", ledger.Defaults{}, "")
	if err != nil {
		t.Fatalf("Index failed: %v", err)
	}
	if len(txs) != 1 || txs[0].ProviderTxID != "ch_1" {
		t.Fatalf("got %d records, want the charge alone", len(txs))
	}
}

func TestPlugin_Index_CollectiveEnrichment(t *testing.T) {
	charge := testCharge()
	charge.MetadataTo = "https://opencollective.com/webpack"
	charge.BalanceTransactionID = ""

	credits := &fakeCredits{
		credit: &opencollective.Contribution{
			UUID: "credit-1",
			FromCollective: opencollective.Collective{
				Slug:     "donor",
				Name:     "Donor Org",
				ImageURL: "https://images.example/donor.png",
			},
		},
	}
	api := &fakeAPI{pages: [][]Charge{{charge}}}
	p := NewPlugin(api, credits, "")

	txs, err := p.Index(context.Background(), "acme-main", ledger.Defaults{}, "")
	if err != nil {
		t.Fatalf("Index failed: %v", err)
	}
	if len(txs) != 1 {
		t.Fatalf("got %d records, want 1", len(txs))
	}

	if credits.gotSlug != "webpack" {
		t.Errorf("lookup slug = %q, want webpack", credits.gotSlug)
	}
	if !credits.gotCreatedAt.Equal(charge.Created) || credits.gotAmount != charge.Amount {
		t.Errorf("lookup key = (%v, %d), want charge created/amount", credits.gotCreatedAt, credits.gotAmount)
	}

	tx := txs[0]
	if tx.CounterpartyAddress != "https://opencollective.com/donor" {
		t.Errorf("CounterpartyAddress = %q", tx.CounterpartyAddress)
	}
	if !strings.Contains(tx.CounterpartyProfile, "Donor Org") {
		t.Errorf("CounterpartyProfile = %q, want profile blob", tx.CounterpartyProfile)
	}
	if !strings.Contains(tx.Data, `"via":"opencollective"`) {
		t.Errorf("Data = %q, want via marker", tx.Data)
	}
}

func TestPlugin_Index_NoCreditMatchLeavesRecordUnenriched(t *testing.T) {
	charge := testCharge()
	charge.MetadataTo = "https://opencollective.com/webpack"
	charge.BalanceTransactionID = ""

	api := &fakeAPI{pages: [][]Charge{{charge}}}
	p := NewPlugin(api, &fakeCredits{}, "")

	txs, err := p.Index(context.Background(), "acme-main", ledger.Defaults{}, "")
	if err != nil {
		t.Fatalf("Index failed: %v", err)
	}
	if txs[0].CounterpartyProfile != "" || txs[0].CounterpartyAddress != "" {
		t.Errorf("record enriched without a credit match: %+v", txs[0])
	}
}

func TestPlugin_Index_SessionEnrichment(t *testing.T) {
	charge := testCharge()
	charge.BalanceTransactionID = ""
	charge.PaymentIntentID = "pi_1"

	api := &fakeAPI{
		pages: [][]Charge{{charge}},
		sessions: map[string]*SessionDetails{
			"pi_1": {LineItem: &LineItem{
				Description: "Pro plan x12",
				ProductID:   "prod_1",
				PriceID:     "price_1",
				Quantity:    12,
				AmountTotal: 5000,
			}},
		},
	}
	p := NewPlugin(api, nil, "")

	txs, err := p.Index(context.Background(), "acme-main", ledger.Defaults{}, "")
	if err != nil {
		t.Fatalf("Index failed: %v", err)
	}
	tx := txs[0]
	if tx.Description != "Pro plan x12" {
		t.Errorf("Description = %q, want line item description", tx.Description)
	}
	if !strings.Contains(tx.Data, `"product_id":"prod_1"`) || !strings.Contains(tx.Data, `"quantity":12`) {
		t.Errorf("Data = %q, want line item details", tx.Data)
	}
}

func TestPlugin_Index_Pagination(t *testing.T) {
	first, second := testCharge(), testCharge()
	first.BalanceTransactionID = ""
	second.BalanceTransactionID = ""
	second.ID = "ch_2"

	api := &fakeAPI{pages: [][]Charge{{first}, {second}}}
	p := NewPlugin(api, nil, "")

	txs, err := p.Index(context.Background(), "acme-main", ledger.Defaults{}, "")
	if err != nil {
		t.Fatalf("Index failed: %v", err)
	}
	if len(txs) != 2 {
		t.Fatalf("got %d records, want 2", len(txs))
	}
	if len(api.pageCalls) != 2 || api.pageCalls[1] != "ch_1" {
		t.Errorf("page calls = %v, want second page after ch_1", api.pageCalls)
	}
}

func TestPlugin_Index_FirstPageFailure(t *testing.T) {
	api := &fakeAPI{pageErrs: []error{errors.New("401 unauthorized")}}
	p := NewPlugin(api, nil, "")

	txs, err := p.Index(context.Background(), "acme-main", ledger.Defaults{}, "")
	if !errors.Is(err, provider.ErrUpstreamUnavailable) {
		t.Errorf("error = %v, want ErrUpstreamUnavailable", err)
	}
	if len(txs) != 0 {
		t.Errorf("got %d records, want none", len(txs))
	}
}

func TestPlugin_Index_LaterPageFailureReturnsPartial(t *testing.T) {
	first := testCharge()
	first.BalanceTransactionID = ""

	api := &fakeAPI{
		pages:    [][]Charge{{first}, nil},
		pageErrs: []error{nil, errors.New("503 service unavailable")},
	}
	p := NewPlugin(api, nil, "")

	txs, err := p.Index(context.Background(), "acme-main", ledger.Defaults{}, "")
	if !errors.Is(err, provider.ErrUpstreamUnavailable) {
		t.Errorf("error = %v, want ErrUpstreamUnavailable", err)
	}
	if len(txs) != 1 || txs[0].ProviderTxID != "ch_1" {
		t.Errorf("got %v, want the first page's record", txs)
	}
}

func TestPlugin_Index_BadCursor(t *testing.T) {
	p := NewPlugin(&fakeAPI{}, nil, "")
	if _, err := p.Index(context.Background(), "acme-main", ledger.Defaults{}, "not-a-time"); err == nil {
		t.Fatal("expected error for malformed cursor")
	}
}
