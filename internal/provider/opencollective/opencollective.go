// Package opencollective indexes a collective's contributions from the
// Open Collective GraphQL API and serves the CREDIT lookups other plugins
// use for cross-provider correlation.
package opencollective

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dvloznov/ledger-indexer/internal/ledger"
	"github.com/dvloznov/ledger-indexer/internal/logger"
	"github.com/dvloznov/ledger-indexer/internal/provider"
)

const baseURL = "https://opencollective.com/"

// CorrelationWindow bounds how far after a foreign transaction a matching
// CREDIT may be dated and still be considered its counterpart.
const CorrelationWindow = 30 * time.Second

// Plugin indexes Open Collective contributions. The provider_account is the
// collective slug (a full collective URL is accepted and reduced to its
// slug).
type Plugin struct {
	api API
}

// NewPlugin creates the Open Collective plugin on top of an API client.
func NewPlugin(api API) *Plugin {
	return &Plugin{api: api}
}

// SlugFromAccount reduces a provider_account to a bare collective slug.
func SlugFromAccount(account string) string {
	trimmed := strings.TrimSuffix(account, "/")
	parts := strings.Split(trimmed, "/")
	return parts[len(parts)-1]
}

// CollectiveURL renders the public URL of a collective slug.
func CollectiveURL(slug string) string {
	return baseURL + slug
}

// ProfileJSON renders the counterparty_profile blob for a collective.
func ProfileJSON(c Collective) string {
	blob, err := json.Marshal(map[string]string{
		"name":     c.Name,
		"url":      CollectiveURL(c.Slug),
		"imageUrl": c.ImageURL,
	})
	if err != nil {
		return ""
	}
	return string(blob)
}

// Index implements provider.Indexer.
func (p *Plugin) Index(ctx context.Context, account string, defaults ledger.Defaults, cursor string) ([]ledger.Transaction, error) {
	log := logger.FromContext(ctx)
	slug := SlugFromAccount(account)

	var dateFrom time.Time
	if cursor != "" {
		var err error
		dateFrom, err = ledger.ParseTimestamp(cursor)
		if err != nil {
			return nil, fmt.Errorf("opencollective: invalid cursor %q: %w", cursor, err)
		}
	}

	log.Info().Str("cursor", cursor).Msg("Indexing contributions")

	contributions, err := p.api.Transactions(ctx, slug, dateFrom, time.Time{}, "", 0)
	if err != nil {
		// One call is the whole response; there is no partial batch to
		// salvage.
		return nil, fmt.Errorf("opencollective: listing transactions: %w: %w", provider.ErrUpstreamUnavailable, err)
	}

	txs := make([]ledger.Transaction, 0, len(contributions))
	for _, c := range contributions {
		tx := ledger.Transaction{
			Timestamp:           c.CreatedAt,
			Provider:            ledger.ProviderOpenCollective,
			ProviderAccount:     account,
			ProviderTxID:        c.UUID,
			AccountAddress:      CollectiveURL(slug),
			CounterpartyName:    c.FromCollective.Name,
			CounterpartyAddress: CollectiveURL(c.FromCollective.Slug),
			CounterpartyProfile: ProfileJSON(c.FromCollective),
			Value:               c.Amount,
			TokenSymbol:         c.HostCurrency,
			TokenDecimals:       2,
			Type:                ledger.TypeTransfer,
			Description:         strings.TrimSpace(c.Description),
		}
		ledger.ApplyDefaults(&tx, defaults)
		txs = append(txs, tx)
	}

	log.Info().Int("count", len(txs)).Msg("Indexed contributions")
	return txs, nil
}

// FindCredit looks up the CREDIT contribution matching a foreign
// transaction: dated within [createdAt, createdAt+CorrelationWindow] and
// whose originating order totals exactly amount. Returns nil when nothing
// matches; correlation is best effort and the caller keeps its record
// unenriched.
func (p *Plugin) FindCredit(ctx context.Context, collectiveSlug string, createdAt time.Time, amount int64) (*Contribution, error) {
	dateTo := createdAt.Add(CorrelationWindow)
	credits, err := p.api.Transactions(ctx, collectiveSlug, createdAt, dateTo, "CREDIT", 0)
	if err != nil {
		return nil, fmt.Errorf("opencollective: credit lookup for %s: %w", collectiveSlug, err)
	}
	if len(credits) == 0 {
		return nil, nil
	}
	last := credits[len(credits)-1]
	if last.OrderTotalAmount != amount {
		return nil, nil
	}
	return &last, nil
}

var _ provider.Indexer = (*Plugin)(nil)
