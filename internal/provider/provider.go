package provider

import (
	"context"
	"errors"

	"github.com/dvloznov/ledger-indexer/internal/ledger"
)

// ErrUpstreamUnavailable marks a provider response that is unusable as a
// whole (auth failure, total outage). The caller must not advance the
// cursor for that pair; other pairs are unaffected.
var ErrUpstreamUnavailable = errors.New("upstream unavailable")

// Indexer is the capability every API-backed provider plugin implements.
type Indexer interface {
	// Index fetches all transactions for account at or after cursor and
	// maps them onto the normalized schema, merging defaults into every
	// record (plugin-produced fields win on conflict).
	//
	// Individual sub-fetch or decode failures yield a partial batch, not
	// an error. A whole-response failure returns an error wrapping
	// ErrUpstreamUnavailable and no records.
	Index(ctx context.Context, account string, defaults ledger.Defaults, cursor string) ([]ledger.Transaction, error)
}

// Scanner is the capability chain providers implement instead of Indexer.
// A scan persists as it goes: records and cursor positions are pushed to
// the sink chunk by chunk, so a crashed run resumes from the last durable
// chunk boundary rather than refetching the whole window.
type Scanner interface {
	Scan(ctx context.Context, account string, defaults ledger.Defaults, cursor string, sink Sink) (ScanStats, error)
}

// Closer is implemented by plugins owning background resources
// (token-refresh loops). Close releases them; it is safe to call once.
type Closer interface {
	Close() error
}

// Sink receives a scanner's output. Persist must complete durably before
// the matching Advance call; Advance records the position reached so the
// next run resumes after it.
type Sink interface {
	Persist(ctx context.Context, txs []ledger.Transaction) (inserted int, err error)
	Advance(ctx context.Context, cursor string) error
	// MarkGap records a sub-range that could not be fetched and was
	// skipped, so operators can reconcile it later.
	MarkGap(ctx context.Context, fromPos, toPos string, cause error) error
}

// ScanStats summarizes one scanner run.
type ScanStats struct {
	// Cursor is the last durably advanced position, or the input cursor
	// when no chunk completed.
	Cursor   string
	Fetched  int
	Inserted int
	// Gaps counts chunks that failed and were skipped.
	Gaps int
}
