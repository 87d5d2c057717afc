package indexer

import (
	"context"

	"github.com/dvloznov/ledger-indexer/internal/ledger"
)

// pairSink adapts the store to the sink a scanner persists through,
// scoped to one provider/account pair.
type pairSink struct {
	store    Store
	provider string
	account  string
}

func (s *pairSink) Persist(ctx context.Context, txs []ledger.Transaction) (int, error) {
	inserted := 0
	for _, tx := range txs {
		if err := tx.Validate(); err != nil {
			return inserted, err
		}
		ok, err := s.store.InsertTransaction(ctx, tx)
		if err != nil {
			return inserted, err
		}
		if ok {
			inserted++
		}
	}
	return inserted, nil
}

func (s *pairSink) Advance(ctx context.Context, cursor string) error {
	return s.store.SetCursor(ctx, s.provider, s.account, cursor)
}

func (s *pairSink) MarkGap(ctx context.Context, fromPos, toPos string, cause error) error {
	gap := ledger.Gap{
		Provider:        s.provider,
		ProviderAccount: s.account,
		FromPos:         fromPos,
		ToPos:           toPos,
	}
	if cause != nil {
		gap.Cause = cause.Error()
	}
	return s.store.MarkGap(ctx, gap)
}
