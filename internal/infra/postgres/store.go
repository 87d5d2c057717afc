// Package postgres persists ledger transactions, sync cursors and gap
// markers in PostgreSQL. Deduplication rides on the
// UNIQUE(provider, provider_tx_id) constraint of the transactions table.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/dvloznov/ledger-indexer/internal/indexer"
	"github.com/dvloznov/ledger-indexer/internal/ledger"
)

var _ indexer.Store = (*Store)(nil)

const pingTimeout = 5 * time.Second

// Store is the PostgreSQL-backed store.
type Store struct {
	db *sql.DB
}

// Open connects to the database at dsn and verifies the connection.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: opening database: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: pinging database: %w", err)
	}
	return &Store{db: db}, nil
}

// NewStore wraps an existing connection pool.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// InsertTransaction writes one transaction, returning false when a record
// with the same (provider, provider_tx_id) already exists.
func (s *Store) InsertTransaction(ctx context.Context, tx ledger.Transaction) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO transactions (
			timestamp, provider, provider_account, provider_tx_id,
			account_address, counterparty_address, counterparty_name,
			counterparty_profile, value, token_symbol, token_decimals,
			type, tags, description, invoice_uuid, data
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (provider, provider_tx_id) DO NOTHING`,
		tx.Timestamp, tx.Provider, tx.ProviderAccount, tx.ProviderTxID,
		tx.AccountAddress, tx.CounterpartyAddress, tx.CounterpartyName,
		tx.CounterpartyProfile, tx.Value, tx.TokenSymbol, tx.TokenDecimals,
		string(tx.Type), tx.Tags, tx.Description, tx.InvoiceUUID, tx.Data,
	)
	if err != nil {
		return false, fmt.Errorf("postgres: inserting transaction %s/%s: %w", tx.Provider, tx.ProviderTxID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("postgres: inserting transaction %s/%s: %w", tx.Provider, tx.ProviderTxID, err)
	}
	return affected > 0, nil
}

// GetCursor loads a pair's cursor. found is false when the pair has never
// been synced.
func (s *Store) GetCursor(ctx context.Context, provider, account string) (string, bool, error) {
	var cursor string
	err := s.db.QueryRowContext(ctx,
		`SELECT cursor FROM indexer WHERE provider = $1 AND provider_account = $2`,
		provider, account,
	).Scan(&cursor)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("postgres: loading cursor for %s/%s: %w", provider, account, err)
	}
	return cursor, cursor != "", nil
}

// SetCursor stores a pair's cursor, registering the pair when it is new.
func (s *Store) SetCursor(ctx context.Context, provider, account, cursor string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO indexer (provider, provider_account, cursor)
		VALUES ($1, $2, $3)
		ON CONFLICT (provider, provider_account)
		DO UPDATE SET cursor = EXCLUDED.cursor, updated_at = now()`,
		provider, account, cursor,
	)
	if err != nil {
		return fmt.Errorf("postgres: storing cursor for %s/%s: %w", provider, account, err)
	}
	return nil
}

// MarkGap records a position range that was skipped during a sync.
func (s *Store) MarkGap(ctx context.Context, gap ledger.Gap) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_gaps (provider, provider_account, from_pos, to_pos, cause)
		VALUES ($1, $2, $3, $4, $5)`,
		gap.Provider, gap.ProviderAccount, gap.FromPos, gap.ToPos, gap.Cause,
	)
	if err != nil {
		return fmt.Errorf("postgres: marking gap for %s/%s: %w", gap.Provider, gap.ProviderAccount, err)
	}
	return nil
}

// ListRegistrations loads every registered pair in registration order.
func (s *Store) ListRegistrations(ctx context.Context) ([]ledger.Registration, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT label, provider, provider_account, filter, cursor, created_at, updated_at
		FROM indexer ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: listing registrations: %w", err)
	}
	defer rows.Close()

	var regs []ledger.Registration
	for rows.Next() {
		var reg ledger.Registration
		if err := rows.Scan(&reg.Label, &reg.Provider, &reg.ProviderAccount, &reg.Filter, &reg.Cursor, &reg.CreatedAt, &reg.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scanning registration: %w", err)
		}
		regs = append(regs, reg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: listing registrations: %w", err)
	}
	return regs, nil
}

// UpsertRegistration registers a pair or updates its label and filter.
// The cursor is left alone for existing pairs.
func (s *Store) UpsertRegistration(ctx context.Context, reg ledger.Registration) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO indexer (label, provider, provider_account, filter, cursor)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (provider, provider_account)
		DO UPDATE SET label = EXCLUDED.label, filter = EXCLUDED.filter, updated_at = now()`,
		reg.Label, reg.Provider, reg.ProviderAccount, reg.Filter, reg.Cursor,
	)
	if err != nil {
		return fmt.Errorf("postgres: registering %s/%s: %w", reg.Provider, reg.ProviderAccount, err)
	}
	return nil
}

// ResetPair deletes a pair's transactions, gaps and cursor so the next
// sync starts from scratch.
func (s *Store) ResetPair(ctx context.Context, provider, account string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: resetting %s/%s: %w", provider, account, err)
	}
	defer tx.Rollback()

	statements := []string{
		`DELETE FROM transactions WHERE provider = $1 AND provider_account = $2`,
		`DELETE FROM sync_gaps WHERE provider = $1 AND provider_account = $2`,
		`UPDATE indexer SET cursor = '', updated_at = now() WHERE provider = $1 AND provider_account = $2`,
	}
	for _, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt, provider, account); err != nil {
			return fmt.Errorf("postgres: resetting %s/%s: %w", provider, account, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("postgres: resetting %s/%s: %w", provider, account, err)
	}
	return nil
}

// ResetAll wipes transactions and gaps and clears every cursor. Explicit
// and destructive; only the migrate CLI exposes it.
func (s *Store) ResetAll(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: resetting store: %w", err)
	}
	defer tx.Rollback()

	statements := []string{
		`TRUNCATE transactions`,
		`TRUNCATE sync_gaps`,
		`UPDATE indexer SET cursor = '', updated_at = now()`,
	}
	for _, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: resetting store: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("postgres: resetting store: %w", err)
	}
	return nil
}
