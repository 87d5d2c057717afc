package indexer

import (
	"context"

	"github.com/dvloznov/ledger-indexer/internal/ledger"
)

// Store is the persistence surface the orchestrator drives.
// This interface enables mocking and testing of database operations.
type Store interface {
	// GetCursor loads a pair's cursor; found is false when the pair has
	// never been synced.
	GetCursor(ctx context.Context, provider, account string) (cursor string, found bool, err error)
	// SetCursor stores a pair's cursor. Callers only invoke it after the
	// records covered by the cursor are durable.
	SetCursor(ctx context.Context, provider, account, cursor string) error
	// InsertTransaction writes one transaction, returning false when a
	// record with the same (provider, provider_tx_id) already exists.
	InsertTransaction(ctx context.Context, tx ledger.Transaction) (inserted bool, err error)
	// MarkGap records a position range that was skipped during a sync.
	MarkGap(ctx context.Context, gap ledger.Gap) error
	// ListRegistrations loads every registered pair.
	ListRegistrations(ctx context.Context) ([]ledger.Registration, error)
	// ResetPair deletes a pair's transactions, gaps and cursor.
	ResetPair(ctx context.Context, provider, account string) error
}
