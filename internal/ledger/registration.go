package ledger

import "time"

// Registration is one row of the indexer table: a declarative record of
// which provider + account (+ optional filter) to sync. The orchestrator
// reads these to know what to sync; the cursor tracks its progress.
type Registration struct {
	Label           string
	Provider        string
	ProviderAccount string
	// Filter is provider-specific (e.g. a product id list for Stripe).
	Filter string
	// Cursor is the last durably recorded position: a block number for
	// chains, an RFC 3339 timestamp for API providers. Empty until the
	// first successful sync.
	Cursor    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Gap records a scanner block range that failed to fetch and was skipped.
// The cursor may advance past it; the marker keeps the hole auditable so an
// operator can re-run with an earlier --since.
type Gap struct {
	Provider        string
	ProviderAccount string
	FromPos         string
	ToPos           string
	Cause           string
	CreatedAt       time.Time
}
