// Package stripe indexes card charges from the Stripe API. Each charge
// becomes one TRANSFER record plus one FEE record per fee line of its
// balance transaction, all sharing an invoice_uuid. Charges routed through
// Open Collective are enriched with the matching contribution's
// counterparty profile.
package stripe

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dvloznov/ledger-indexer/internal/ledger"
	"github.com/dvloznov/ledger-indexer/internal/logger"
	"github.com/dvloznov/ledger-indexer/internal/provider"
	"github.com/dvloznov/ledger-indexer/internal/provider/opencollective"
)

const collectivePrefix = "https://opencollective.com/"

// openCollectiveApplicationID is the platform application Open Collective
// charges through; fees carrying it are labeled accordingly.
const openCollectiveApplicationID = "ca_68FQ4jN0XMVhxpnk6gAptwvx90S9VYXF"

func applicationName(application string) string {
	if application == openCollectiveApplicationID {
		return "opencollective"
	}
	return "Stripe"
}

// Plugin indexes Stripe charges. The provider_account is the Stripe
// account label; the account_address of a record is the charge's
// metadata "to" when present, the configured account name otherwise.
type Plugin struct {
	api         API
	credits     CreditLookup
	accountName string
}

// NewPlugin creates the Stripe plugin. credits may be nil to disable
// Open Collective enrichment.
func NewPlugin(api API, credits CreditLookup, accountName string) *Plugin {
	if accountName == "" {
		accountName = "Stripe"
	}
	return &Plugin{api: api, credits: credits, accountName: accountName}
}

// Index implements provider.Indexer. A page fetch failure returns the
// records gathered so far alongside an ErrUpstreamUnavailable-wrapped
// error: the caller may persist them (inserts are idempotent) but must
// not advance the cursor.
func (p *Plugin) Index(ctx context.Context, account string, defaults ledger.Defaults, cursor string) ([]ledger.Transaction, error) {
	log := logger.FromContext(ctx)

	var createdAfter time.Time
	if cursor != "" {
		var err error
		createdAfter, err = ledger.ParseTimestamp(cursor)
		if err != nil {
			return nil, fmt.Errorf("stripe: invalid cursor %q: %w", cursor, err)
		}
	}

	log.Info().Str("cursor", cursor).Msg("Indexing charges")

	var txs []ledger.Transaction
	startingAfter := ""
	for {
		charges, hasMore, err := p.api.Charges(ctx, createdAfter, startingAfter, 0)
		if err != nil {
			return txs, fmt.Errorf("stripe: listing charges: %w: %w", provider.ErrUpstreamUnavailable, err)
		}
		for _, charge := range charges {
			records := p.expand(ctx, account, charge)
			for i := range records {
				ledger.ApplyDefaults(&records[i], defaults)
			}
			txs = append(txs, records...)
		}
		if !hasMore || len(charges) == 0 {
			break
		}
		startingAfter = charges[len(charges)-1].ID
	}

	log.Info().Int("count", len(txs)).Msg("Indexed charges")
	return txs, nil
}

// expand turns one charge into its TRANSFER record plus FEE records.
// Sub-fetch failures degrade the record, never the batch.
func (p *Plugin) expand(ctx context.Context, account string, charge Charge) []ledger.Transaction {
	log := logger.FromContext(ctx)

	invoiceUUID := uuid.NewString()
	accountAddress := charge.MetadataTo
	if accountAddress == "" {
		accountAddress = p.accountName
	}

	tx := ledger.Transaction{
		Timestamp:        charge.Created,
		Provider:         ledger.ProviderStripe,
		ProviderAccount:  account,
		ProviderTxID:     charge.ID,
		AccountAddress:   accountAddress,
		CounterpartyName: charge.BillingName,
		Value:            charge.Amount,
		TokenSymbol:      strings.ToUpper(charge.Currency),
		TokenDecimals:    2,
		Type:             ledger.TypeTransfer,
		Description:      charge.Description,
		InvoiceUUID:      invoiceUUID,
	}

	data := map[string]any{}
	if len(charge.BillingDetails) > 0 {
		data["billing_details"] = json.RawMessage(charge.BillingDetails)
	}

	if strings.HasPrefix(accountAddress, collectivePrefix) {
		data["via"] = "opencollective"
		p.enrichFromCollective(ctx, &tx, accountAddress, charge)
	}

	if charge.PaymentIntentID != "" {
		p.enrichFromSession(ctx, &tx, data, charge.PaymentIntentID)
	}

	if blob, err := json.Marshal(data); err == nil {
		tx.Data = string(blob)
	}

	records := []ledger.Transaction{tx}

	if charge.BalanceTransactionID == "" {
		return records
	}
	balance, err := p.api.BalanceTransaction(ctx, charge.BalanceTransactionID)
	if err != nil {
		log.Warn().Err(err).Str("charge", charge.ID).Msg("Skipping fee breakdown")
		return records
	}
	for _, fee := range balance.Fees {
		records = append(records, ledger.Transaction{
			Timestamp:           charge.Created,
			Provider:            ledger.ProviderStripe,
			ProviderAccount:     account,
			ProviderTxID:        ledger.FeeTxID(charge.ID, fee.Type),
			AccountAddress:      accountAddress,
			CounterpartyName:    applicationName(fee.Application),
			CounterpartyAddress: fee.Application,
			Value:               -fee.Amount,
			TokenSymbol:         strings.ToUpper(fee.Currency),
			TokenDecimals:       2,
			Type:                ledger.TypeFee,
			Description:         fee.Description,
			InvoiceUUID:         invoiceUUID,
		})
	}
	return records
}

// enrichFromCollective resolves the contribution credited for a charge
// that was routed through Open Collective. Best effort: on no match or
// lookup failure the record stays unenriched.
func (p *Plugin) enrichFromCollective(ctx context.Context, tx *ledger.Transaction, accountAddress string, charge Charge) {
	if p.credits == nil {
		return
	}
	log := logger.FromContext(ctx)

	slug := opencollective.SlugFromAccount(accountAddress)
	credit, err := p.credits.FindCredit(ctx, slug, charge.Created, charge.Amount)
	if err != nil {
		log.Warn().Err(err).Str("charge", charge.ID).Str("collective", slug).Msg("Credit lookup failed")
		return
	}
	if credit == nil {
		return
	}
	tx.CounterpartyAddress = opencollective.CollectiveURL(credit.FromCollective.Slug)
	tx.CounterpartyProfile = opencollective.ProfileJSON(credit.FromCollective)
}

func (p *Plugin) enrichFromSession(ctx context.Context, tx *ledger.Transaction, data map[string]any, paymentIntentID string) {
	log := logger.FromContext(ctx)

	details, err := p.api.SessionDetails(ctx, paymentIntentID)
	if err != nil {
		log.Warn().Err(err).Str("payment_intent", paymentIntentID).Msg("Skipping session enrichment")
		return
	}
	if details == nil {
		return
	}
	switch {
	case details.Description != "":
		tx.Description = details.Description
		if details.AccountAddress != "" {
			tx.CounterpartyAddress = details.AccountAddress
		}
	case details.LineItem != nil:
		item := details.LineItem
		tx.Description = item.Description
		data["product_id"] = item.ProductID
		data["price_id"] = item.PriceID
		if item.Quantity > 0 {
			data["quantity"] = item.Quantity
		}
		if item.AmountTotal > 0 {
			data["unit_price"] = item.AmountTotal
		}
	}
}

var _ provider.Indexer = (*Plugin)(nil)
