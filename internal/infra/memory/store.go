// Package memory is an in-memory store for tests and local runs. It
// mirrors the PostgreSQL store's semantics, including duplicate inserts
// as no-ops.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/dvloznov/ledger-indexer/internal/ledger"
)

type pairKey struct {
	provider string
	account  string
}

type txKey struct {
	provider string
	txID     string
}

// Store keeps everything in maps behind one mutex.
type Store struct {
	mu           sync.Mutex
	transactions map[txKey]ledger.Transaction
	order        []txKey
	registered   map[pairKey]*ledger.Registration
	regOrder     []pairKey
	gaps         []ledger.Gap
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		transactions: make(map[txKey]ledger.Transaction),
		registered:   make(map[pairKey]*ledger.Registration),
	}
}

// InsertTransaction writes one transaction, returning false when a record
// with the same (provider, provider_tx_id) already exists.
func (s *Store) InsertTransaction(ctx context.Context, tx ledger.Transaction) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := txKey{provider: tx.Provider, txID: tx.ProviderTxID}
	if _, exists := s.transactions[key]; exists {
		return false, nil
	}
	s.transactions[key] = tx
	s.order = append(s.order, key)
	return true, nil
}

// Transactions returns every stored transaction in insertion order.
func (s *Store) Transactions() []ledger.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ledger.Transaction, 0, len(s.order))
	for _, key := range s.order {
		out = append(out, s.transactions[key])
	}
	return out
}

// GetCursor loads a pair's cursor.
func (s *Store) GetCursor(ctx context.Context, provider, account string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reg, ok := s.registered[pairKey{provider: provider, account: account}]
	if !ok || reg.Cursor == "" {
		return "", false, nil
	}
	return reg.Cursor, true, nil
}

// SetCursor stores a pair's cursor, registering the pair when it is new.
func (s *Store) SetCursor(ctx context.Context, provider, account, cursor string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	reg := s.ensureLocked(provider, account)
	reg.Cursor = cursor
	reg.UpdatedAt = time.Now().UTC()
	return nil
}

// MarkGap records a position range that was skipped during a sync.
func (s *Store) MarkGap(ctx context.Context, gap ledger.Gap) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gap.CreatedAt.IsZero() {
		gap.CreatedAt = time.Now().UTC()
	}
	s.gaps = append(s.gaps, gap)
	return nil
}

// Gaps returns every recorded gap in insertion order.
func (s *Store) Gaps() []ledger.Gap {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]ledger.Gap(nil), s.gaps...)
}

// ListRegistrations loads every registered pair in registration order.
func (s *Store) ListRegistrations(ctx context.Context) ([]ledger.Registration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	regs := make([]ledger.Registration, 0, len(s.regOrder))
	for _, key := range s.regOrder {
		regs = append(regs, *s.registered[key])
	}
	return regs, nil
}

// UpsertRegistration registers a pair or updates its label and filter.
func (s *Store) UpsertRegistration(ctx context.Context, reg ledger.Registration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.ensureLocked(reg.Provider, reg.ProviderAccount)
	existing.Label = reg.Label
	existing.Filter = reg.Filter
	if existing.Cursor == "" {
		existing.Cursor = reg.Cursor
	}
	existing.UpdatedAt = time.Now().UTC()
	return nil
}

// ResetPair deletes a pair's transactions, gaps and cursor.
func (s *Store) ResetPair(ctx context.Context, provider, account string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.order[:0]
	for _, key := range s.order {
		tx := s.transactions[key]
		if tx.Provider == provider && tx.ProviderAccount == account {
			delete(s.transactions, key)
			continue
		}
		kept = append(kept, key)
	}
	s.order = kept

	keptGaps := s.gaps[:0]
	for _, gap := range s.gaps {
		if gap.Provider == provider && gap.ProviderAccount == account {
			continue
		}
		keptGaps = append(keptGaps, gap)
	}
	s.gaps = keptGaps

	if reg, ok := s.registered[pairKey{provider: provider, account: account}]; ok {
		reg.Cursor = ""
		reg.UpdatedAt = time.Now().UTC()
	}
	return nil
}

func (s *Store) ensureLocked(provider, account string) *ledger.Registration {
	key := pairKey{provider: provider, account: account}
	reg, ok := s.registered[key]
	if !ok {
		now := time.Now().UTC()
		reg = &ledger.Registration{
			Provider:        provider,
			ProviderAccount: account,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		s.registered[key] = reg
		s.regOrder = append(s.regOrder, key)
	}
	return reg
}
