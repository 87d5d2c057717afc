// Package indexer orchestrates sync runs: it loads each registered
// provider/account pair's cursor, dispatches to the registered plugin,
// persists the normalized records and advances the cursor. Pairs are
// isolated; a failing pair never blocks or corrupts another.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/ledger-indexer/internal/ledger"
	"github.com/dvloznov/ledger-indexer/internal/logger"
	"github.com/dvloznov/ledger-indexer/internal/provider"
)

// Service runs syncs against a plugin registry and a store.
type Service struct {
	registry *provider.Registry
	store    Store
	log      zerolog.Logger
}

// New creates the orchestrator.
func New(registry *provider.Registry, store Store, log zerolog.Logger) *Service {
	return &Service{registry: registry, store: store, log: log}
}

// Result is the outcome of syncing one pair.
type Result struct {
	Provider string
	Account  string
	// Cursor is the pair's cursor after the run.
	Cursor   string
	Fetched  int
	Inserted int
	// Gaps counts scanner chunks that failed and were recorded as gaps.
	Gaps int
	Err  error
}

// Summary aggregates the results of a multi-pair run.
type Summary struct {
	Results []Result
}

// Failed returns the results of pairs whose sync errored.
func (s Summary) Failed() []Result {
	var failed []Result
	for _, res := range s.Results {
		if res.Err != nil {
			failed = append(failed, res)
		}
	}
	return failed
}

// Inserted totals the newly persisted records across all pairs.
func (s Summary) Inserted() int {
	total := 0
	for _, res := range s.Results {
		total += res.Inserted
	}
	return total
}

// Run syncs one pair: load cursor, dispatch to the plugin, persist,
// advance. On an error wrapping provider.ErrUpstreamUnavailable the
// cursor is left untouched and the pair retries from the same position
// next run.
func (s *Service) Run(ctx context.Context, reg ledger.Registration) Result {
	res := Result{Provider: reg.Provider, Account: reg.ProviderAccount}

	log := logger.WithPair(s.log, reg.Provider, reg.ProviderAccount)
	ctx = logger.WithContext(ctx, log)

	plugin, ok := s.registry.Lookup(reg.Provider)
	if !ok {
		res.Err = fmt.Errorf("no plugin registered for provider %q", reg.Provider)
		return res
	}

	cursor, _, err := s.store.GetCursor(ctx, reg.Provider, reg.ProviderAccount)
	if err != nil {
		res.Err = err
		return res
	}
	res.Cursor = cursor
	defaults := ledger.Defaults{Tags: reg.Label}

	start := time.Now()
	switch p := plugin.(type) {
	case provider.Scanner:
		s.runScanner(ctx, p, reg, defaults, cursor, &res)
	case provider.Indexer:
		s.runIndexer(ctx, p, reg, defaults, cursor, &res)
	default:
		res.Err = fmt.Errorf("provider %q implements no sync capability", reg.Provider)
		return res
	}

	event := log.Info()
	if res.Err != nil {
		event = log.Warn().Err(res.Err)
	}
	event.
		Int("fetched", res.Fetched).
		Int("inserted", res.Inserted).
		Str("cursor", res.Cursor).
		Dur("elapsed", time.Since(start)).
		Msg("Sync finished")
	return res
}

// runScanner lets the scanner persist chunk by chunk through the store.
func (s *Service) runScanner(ctx context.Context, p provider.Scanner, reg ledger.Registration, defaults ledger.Defaults, cursor string, res *Result) {
	sink := &pairSink{store: s.store, provider: reg.Provider, account: reg.ProviderAccount}
	stats, err := p.Scan(ctx, reg.ProviderAccount, defaults, cursor, sink)
	res.Fetched = stats.Fetched
	res.Inserted = stats.Inserted
	res.Gaps = stats.Gaps
	if stats.Cursor != "" {
		res.Cursor = stats.Cursor
	}
	res.Err = err
}

// runIndexer persists a plugin's whole batch, then advances the cursor to
// the latest record timestamp. Records returned alongside an error are
// still persisted (inserts are idempotent) but the cursor stays put.
func (s *Service) runIndexer(ctx context.Context, p provider.Indexer, reg ledger.Registration, defaults ledger.Defaults, cursor string, res *Result) {
	txs, indexErr := p.Index(ctx, reg.ProviderAccount, defaults, cursor)
	res.Fetched = len(txs)

	for _, tx := range txs {
		if err := tx.Validate(); err != nil {
			res.Err = err
			return
		}
		inserted, err := s.store.InsertTransaction(ctx, tx)
		if err != nil {
			res.Err = err
			return
		}
		if inserted {
			res.Inserted++
		}
	}

	if indexErr != nil {
		res.Err = indexErr
		return
	}

	latest := latestTimestamp(txs)
	if latest.IsZero() {
		return
	}
	next := ledger.FormatCursor(latest)
	if err := s.store.SetCursor(ctx, reg.Provider, reg.ProviderAccount, next); err != nil {
		res.Err = err
		return
	}
	res.Cursor = next
}

func latestTimestamp(txs []ledger.Transaction) time.Time {
	var latest time.Time
	for _, tx := range txs {
		if tx.Timestamp.After(latest) {
			latest = tx.Timestamp
		}
	}
	return latest
}

// RunAll syncs every registration through a bounded worker pool. Each pair
// runs on exactly one worker; results keep the input order. Pairs not
// started before ctx is cancelled report the cancellation error.
func (s *Service) RunAll(ctx context.Context, regs []ledger.Registration, workers int) Summary {
	if workers <= 0 {
		workers = 1
	}
	if workers > len(regs) {
		workers = len(regs)
	}

	results := make([]Result, len(regs))
	jobs := make(chan int)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				results[idx] = s.Run(ctx, regs[idx])
			}
		}()
	}

feed:
	for idx := range regs {
		select {
		case jobs <- idx:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	for idx := range results {
		if results[idx].Provider == "" {
			results[idx] = Result{
				Provider: regs[idx].Provider,
				Account:  regs[idx].ProviderAccount,
				Err:      ctx.Err(),
			}
		}
	}
	return Summary{Results: results}
}

// IsUpstreamFailure reports whether a pair's error was an upstream outage,
// i.e. retryable from the same cursor.
func IsUpstreamFailure(err error) bool {
	return errors.Is(err, provider.ErrUpstreamUnavailable)
}
