// Package gocardless indexes booked bank account transactions from the
// GoCardless bank account data API.
package gocardless

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dvloznov/ledger-indexer/internal/ledger"
	"github.com/dvloznov/ledger-indexer/internal/logger"
	"github.com/dvloznov/ledger-indexer/internal/provider"
)

// internalBankCode marks transfers between the holder's own accounts.
const internalBankCode = "TRANSFER"

// Plugin indexes bank account transactions. The provider_account is the
// GoCardless account id.
type Plugin struct {
	api    API
	tokens *TokenSource
}

// NewPlugin creates the GoCardless plugin on top of an API client. A nil
// tokens is allowed for clients that manage their own authentication.
func NewPlugin(api API, tokens *TokenSource) *Plugin {
	return &Plugin{api: api, tokens: tokens}
}

// Index implements provider.Indexer.
func (p *Plugin) Index(ctx context.Context, account string, defaults ledger.Defaults, cursor string) ([]ledger.Transaction, error) {
	log := logger.FromContext(ctx)

	var dateFrom time.Time
	if cursor != "" {
		var err error
		dateFrom, err = ledger.ParseTimestamp(cursor)
		if err != nil {
			return nil, fmt.Errorf("gocardless: invalid cursor %q: %w", cursor, err)
		}
	}

	log.Info().Str("cursor", cursor).Msg("Indexing booked transactions")

	booked, err := p.api.Transactions(ctx, account, dateFrom)
	if err != nil {
		return nil, fmt.Errorf("gocardless: listing transactions: %w: %w", provider.ErrUpstreamUnavailable, err)
	}

	txs := make([]ledger.Transaction, 0, len(booked))
	for _, b := range booked {
		tx, err := p.normalize(account, b)
		if err != nil {
			log.Warn().Err(err).Str("transaction_id", b.TransactionID).Msg("Dropping undecodable transaction")
			continue
		}
		ledger.ApplyDefaults(&tx, defaults)
		txs = append(txs, tx)
	}

	log.Info().Int("count", len(txs)).Msg("Indexed booked transactions")
	return txs, nil
}

func (p *Plugin) normalize(account string, b BookedTransaction) (ledger.Transaction, error) {
	raw := b.BookingDateTime
	if raw == "" {
		raw = b.BookingDate
	}
	ts, err := ledger.ParseTimestamp(raw)
	if err != nil {
		return ledger.Transaction{}, fmt.Errorf("booking date: %w", err)
	}

	value, err := ledger.MinorUnits(b.Amount.Value, 2)
	if err != nil {
		return ledger.Transaction{}, fmt.Errorf("amount %q: %w", b.Amount.Value, err)
	}

	txType := ledger.TypeTransfer
	if strings.EqualFold(b.BankCode, internalBankCode) {
		txType = ledger.TypeInternal
	}

	// The counterparty is the debtor on money coming in and the creditor
	// on money going out.
	counterpartyName, counterpartyAddress := b.DebtorName, b.DebtorAccount.IBAN
	if value < 0 {
		counterpartyName, counterpartyAddress = b.CreditorName, b.CreditorAccount.IBAN
	}

	return ledger.Transaction{
		Timestamp:           ts,
		Provider:            ledger.ProviderGoCardless,
		ProviderAccount:     account,
		ProviderTxID:        b.TransactionID,
		CounterpartyName:    counterpartyName,
		CounterpartyAddress: counterpartyAddress,
		Value:               value,
		TokenSymbol:         b.Amount.Currency,
		TokenDecimals:       2,
		Type:                txType,
		Description:         strings.TrimSpace(b.Remittance),
	}, nil
}

// Close implements provider.Closer, stopping the token refresh loop.
func (p *Plugin) Close() error {
	if p.tokens == nil {
		return nil
	}
	return p.tokens.Close()
}

var (
	_ provider.Indexer = (*Plugin)(nil)
	_ provider.Closer  = (*Plugin)(nil)
)
