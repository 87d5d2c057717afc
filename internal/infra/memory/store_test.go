package memory

import (
	"context"
	"testing"
	"time"

	"github.com/dvloznov/ledger-indexer/internal/ledger"
)

func sampleTx(provider, txID, account string) ledger.Transaction {
	return ledger.Transaction{
		Timestamp:       time.Date(2024, 9, 1, 10, 0, 0, 0, time.UTC),
		Provider:        provider,
		ProviderAccount: account,
		ProviderTxID:    txID,
		Value:           100,
		TokenDecimals:   2,
		Type:            ledger.TypeTransfer,
	}
}

func TestStore_DuplicateInsertIsNoOp(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	inserted, err := s.InsertTransaction(ctx, sampleTx("stripe", "ch_1", "acct"))
	if err != nil || !inserted {
		t.Fatalf("first insert = (%v, %v), want (true, nil)", inserted, err)
	}
	inserted, err = s.InsertTransaction(ctx, sampleTx("stripe", "ch_1", "acct"))
	if err != nil || inserted {
		t.Fatalf("duplicate insert = (%v, %v), want (false, nil)", inserted, err)
	}
	if got := len(s.Transactions()); got != 1 {
		t.Errorf("stored %d transactions, want 1", got)
	}

	// Same id under another provider is a distinct record.
	inserted, err = s.InsertTransaction(ctx, sampleTx("gocardless", "ch_1", "acct"))
	if err != nil || !inserted {
		t.Fatalf("cross-provider insert = (%v, %v), want (true, nil)", inserted, err)
	}
}

func TestStore_Cursor(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	if _, found, _ := s.GetCursor(ctx, "stripe", "acct"); found {
		t.Fatal("cursor found before any sync")
	}
	if err := s.SetCursor(ctx, "stripe", "acct", "2024-09-01T10:00:00Z"); err != nil {
		t.Fatalf("SetCursor failed: %v", err)
	}
	cursor, found, err := s.GetCursor(ctx, "stripe", "acct")
	if err != nil || !found || cursor != "2024-09-01T10:00:00Z" {
		t.Errorf("GetCursor = (%q, %v, %v)", cursor, found, err)
	}

	regs, err := s.ListRegistrations(ctx)
	if err != nil || len(regs) != 1 {
		t.Fatalf("ListRegistrations = (%v, %v), want one pair", regs, err)
	}
}

func TestStore_ResetPair(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	s.InsertTransaction(ctx, sampleTx("stripe", "ch_1", "acct-a"))
	s.InsertTransaction(ctx, sampleTx("stripe", "ch_2", "acct-b"))
	s.SetCursor(ctx, "stripe", "acct-a", "2024-09-01T10:00:00Z")
	s.MarkGap(ctx, ledger.Gap{Provider: "stripe", ProviderAccount: "acct-a", FromPos: "1", ToPos: "2"})

	if err := s.ResetPair(ctx, "stripe", "acct-a"); err != nil {
		t.Fatalf("ResetPair failed: %v", err)
	}

	txs := s.Transactions()
	if len(txs) != 1 || txs[0].ProviderAccount != "acct-b" {
		t.Errorf("transactions after reset = %v, want only acct-b", txs)
	}
	if len(s.Gaps()) != 0 {
		t.Errorf("gaps survived reset")
	}
	if _, found, _ := s.GetCursor(ctx, "stripe", "acct-a"); found {
		t.Errorf("cursor survived reset")
	}
}
