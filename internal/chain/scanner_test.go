package chain

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/dvloznov/ledger-indexer/internal/ledger"
)

const (
	testToken  = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	testWallet = "0x1111111111111111111111111111111111111111"
	testOther  = "0x2222222222222222222222222222222222222222"
)

type fakeClient struct {
	head    uint64
	logsFn  func(filter LogFilter) ([]Log, error)
	filters []LogFilter
}

func (c *fakeClient) BlockNumber(ctx context.Context) (uint64, error) {
	return c.head, nil
}

func (c *fakeClient) Logs(ctx context.Context, filter LogFilter) ([]Log, error) {
	c.filters = append(c.filters, filter)
	if c.logsFn == nil {
		return nil, nil
	}
	return c.logsFn(filter)
}

func (c *fakeClient) BlockTimestamp(ctx context.Context, blockNumber uint64) (time.Time, error) {
	// Deterministic clock: one minute per block.
	return time.Unix(1700000000+int64(blockNumber)*60, 0).UTC(), nil
}

func (c *fakeClient) Call(ctx context.Context, to string, data string) (string, error) {
	switch data {
	case selectorSymbol:
		return "0x" +
			"0000000000000000000000000000000000000000000000000000000000000020" +
			"0000000000000000000000000000000000000000000000000000000000000004" +
			"4555526200000000000000000000000000000000000000000000000000000000", nil
	case selectorDecimals:
		return "0x0000000000000000000000000000000000000000000000000000000000000002", nil
	}
	return "", errors.New("unexpected call")
}

type sinkOp struct {
	kind   string // "persist", "advance", "gap"
	cursor string
	count  int
}

type fakeSink struct {
	ops  []sinkOp
	txs  []ledger.Transaction
	gaps [][2]string

	persistErr error
}

func (s *fakeSink) Persist(ctx context.Context, txs []ledger.Transaction) (int, error) {
	if s.persistErr != nil {
		return 0, s.persistErr
	}
	s.txs = append(s.txs, txs...)
	s.ops = append(s.ops, sinkOp{kind: "persist", count: len(txs)})
	return len(txs), nil
}

func (s *fakeSink) Advance(ctx context.Context, cursor string) error {
	s.ops = append(s.ops, sinkOp{kind: "advance", cursor: cursor})
	return nil
}

func (s *fakeSink) MarkGap(ctx context.Context, fromPos, toPos string, cause error) error {
	s.gaps = append(s.gaps, [2]string{fromPos, toPos})
	s.ops = append(s.ops, sinkOp{kind: "gap"})
	return nil
}

func TestScanner_ChunkCoverage(t *testing.T) {
	client := &fakeClient{head: 25000}
	sink := &fakeSink{}
	s := New("gnosis", client, Options{ChunkSize: 10000, StartBlock: "0"})

	_, err := s.Scan(context.Background(), testToken+"/"+testWallet, ledger.Defaults{}, "", sink)
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}

	want := [][2]uint64{{0, 9999}, {10000, 19999}, {20000, 25000}}
	if len(client.filters) != len(want) {
		t.Fatalf("got %d chunks, want %d", len(client.filters), len(want))
	}
	for i, f := range client.filters {
		if f.FromBlock != want[i][0] || f.ToBlock != want[i][1] {
			t.Errorf("chunk %d = [%d,%d], want [%d,%d]", i, f.FromBlock, f.ToBlock, want[i][0], want[i][1])
		}
	}
}

func TestScanner_ResumesAfterCursor(t *testing.T) {
	client := &fakeClient{head: 25000}
	sink := &fakeSink{}
	s := New("gnosis", client, Options{ChunkSize: 10000, StartBlock: "0"})

	stats, err := s.Scan(context.Background(), testToken+"/"+testWallet, ledger.Defaults{}, "9999", sink)
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}

	if client.filters[0].FromBlock != 10000 {
		t.Errorf("first chunk starts at %d, want 10000 (cursor+1)", client.filters[0].FromBlock)
	}
	if stats.Cursor != "25000" {
		t.Errorf("final cursor = %q, want %q", stats.Cursor, "25000")
	}
}

func TestScanner_CursorAtHead(t *testing.T) {
	client := &fakeClient{head: 100}
	sink := &fakeSink{}
	s := New("gnosis", client, Options{ChunkSize: 10000})

	stats, err := s.Scan(context.Background(), testToken, ledger.Defaults{}, "100", sink)
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if stats.Cursor != "100" {
		t.Errorf("cursor = %q, want unchanged %q", stats.Cursor, "100")
	}
	if len(client.filters) != 0 {
		t.Errorf("expected no chunk fetches, got %d", len(client.filters))
	}
}

func TestScanner_SkipsFailedChunkAndMarksGap(t *testing.T) {
	client := &fakeClient{head: 25000}
	client.logsFn = func(filter LogFilter) ([]Log, error) {
		if filter.FromBlock == 10000 {
			return nil, errors.New("rate limited")
		}
		return []Log{transferLog(testOther, testWallet, 500, filter.FromBlock, fmt.Sprintf("0xtx%d", filter.FromBlock), 0)}, nil
	}
	sink := &fakeSink{}
	s := New("gnosis", client, Options{ChunkSize: 10000, StartBlock: "0"})

	stats, err := s.Scan(context.Background(), testToken+"/"+testWallet, ledger.Defaults{}, "", sink)
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}

	if stats.Gaps != 1 {
		t.Errorf("Gaps = %d, want 1", stats.Gaps)
	}
	if len(sink.gaps) != 1 || sink.gaps[0] != [2]string{"10000", "19999"} {
		t.Errorf("gap markers = %v, want [[10000 19999]]", sink.gaps)
	}
	// Both surviving chunks persisted; the run was not aborted.
	if len(sink.txs) != 2 {
		t.Errorf("persisted %d records, want 2", len(sink.txs))
	}
	if stats.Cursor != "25000" {
		t.Errorf("cursor = %q, want %q", stats.Cursor, "25000")
	}
}

func TestScanner_DropsUndecodableEntry(t *testing.T) {
	client := &fakeClient{head: 50}
	client.logsFn = func(filter LogFilter) ([]Log, error) {
		bad := transferLog(testOther, testWallet, 1, 10, "0xbad", 0)
		bad.Data = "0xzz"
		good := transferLog(testOther, testWallet, 1200, 11, "0xgood", 1)
		return []Log{bad, good}, nil
	}
	sink := &fakeSink{}
	s := New("gnosis", client, Options{ChunkSize: 10000, StartBlock: "0"})

	_, err := s.Scan(context.Background(), testToken+"/"+testWallet, ledger.Defaults{}, "", sink)
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}

	if len(sink.txs) != 1 {
		t.Fatalf("persisted %d records, want 1 (bad entry dropped)", len(sink.txs))
	}
	if sink.txs[0].ProviderTxID != "0xgood-1" {
		t.Errorf("ProviderTxID = %q, want %q", sink.txs[0].ProviderTxID, "0xgood-1")
	}
}

func TestScanner_WalletDirection(t *testing.T) {
	third := "0x3333333333333333333333333333333333333333"
	client := &fakeClient{head: 10}
	client.logsFn = func(filter LogFilter) ([]Log, error) {
		return []Log{
			transferLog(testOther, testWallet, 700, 5, "0xin", 0),
			transferLog(testWallet, testOther, 300, 6, "0xout", 1),
			transferLog(testOther, third, 999, 7, "0xunrelated", 2),
		}, nil
	}
	sink := &fakeSink{}
	s := New("gnosis", client, Options{ChunkSize: 10000, StartBlock: "0"})

	_, err := s.Scan(context.Background(), testToken+"/"+testWallet, ledger.Defaults{}, "", sink)
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}

	if len(sink.txs) != 2 {
		t.Fatalf("persisted %d records, want 2 (third-party transfer skipped)", len(sink.txs))
	}

	in := sink.txs[0]
	if in.Value != 700 || in.CounterpartyAddress != testOther {
		t.Errorf("inbound = value %d counterparty %s, want 700 / %s", in.Value, in.CounterpartyAddress, testOther)
	}
	out := sink.txs[1]
	if out.Value != -300 {
		t.Errorf("outbound value = %d, want -300", out.Value)
	}
	if out.CounterpartyAddress != testOther {
		t.Errorf("outbound counterparty = %s, want %s", out.CounterpartyAddress, testOther)
	}
	if in.TokenSymbol != "EURb" || in.TokenDecimals != 2 {
		t.Errorf("token metadata = %s/%d, want EURb/2", in.TokenSymbol, in.TokenDecimals)
	}
	if in.Timestamp.IsZero() {
		t.Error("expected block timestamp to be resolved")
	}
}

func TestScanner_AdvanceFollowsPersist(t *testing.T) {
	client := &fakeClient{head: 25000}
	sink := &fakeSink{}
	s := New("gnosis", client, Options{ChunkSize: 10000, StartBlock: "0"})

	_, err := s.Scan(context.Background(), testToken+"/"+testWallet, ledger.Defaults{}, "", sink)
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}

	// Strict alternation: each chunk's records are durable before its
	// cursor position is.
	wantCursors := []string{"9999", "19999", "25000"}
	var cursors []string
	for i := 0; i < len(sink.ops); i += 2 {
		if sink.ops[i].kind != "persist" || sink.ops[i+1].kind != "advance" {
			t.Fatalf("op sequence %v, want persist/advance pairs", sink.ops)
		}
		cursors = append(cursors, sink.ops[i+1].cursor)
	}
	if len(cursors) != len(wantCursors) {
		t.Fatalf("advanced %d times, want %d", len(cursors), len(wantCursors))
	}
	for i := range cursors {
		if cursors[i] != wantCursors[i] {
			t.Errorf("advance %d = %q, want %q", i, cursors[i], wantCursors[i])
		}
	}
}

func TestScanner_PersistFailureStopsRun(t *testing.T) {
	client := &fakeClient{head: 25000}
	client.logsFn = func(filter LogFilter) ([]Log, error) {
		return []Log{transferLog(testOther, testWallet, 1, filter.FromBlock, fmt.Sprintf("0xtx%d", filter.FromBlock), 0)}, nil
	}
	sink := &fakeSink{persistErr: errors.New("db down")}
	s := New("gnosis", client, Options{ChunkSize: 10000, StartBlock: "0"})

	stats, err := s.Scan(context.Background(), testToken+"/"+testWallet, ledger.Defaults{}, "", sink)
	if err == nil {
		t.Fatal("expected error when persistence fails")
	}
	if stats.Cursor != "" {
		t.Errorf("cursor = %q, want unchanged empty cursor", stats.Cursor)
	}
}

func TestParseAccount(t *testing.T) {
	tests := []struct {
		name       string
		account    string
		wantToken  string
		wantWallet string
		wantErr    bool
	}{
		{
			name:       "token and wallet",
			account:    testToken + "/" + testWallet,
			wantToken:  testToken,
			wantWallet: testWallet,
		},
		{
			name:      "token only",
			account:   testToken,
			wantToken: testToken,
		},
		{
			name:       "mixed case normalized",
			account:    "0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA/" + testWallet,
			wantToken:  testToken,
			wantWallet: testWallet,
		},
		{
			name:    "bad token",
			account: "0x123/" + testWallet,
			wantErr: true,
		},
		{
			name:    "bad wallet",
			account: testToken + "/nope",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, wallet, err := ParseAccount(tt.account)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseAccount(%q) error = %v, wantErr %v", tt.account, err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if token != tt.wantToken || wallet != tt.wantWallet {
				t.Errorf("ParseAccount(%q) = (%q, %q), want (%q, %q)", tt.account, token, wallet, tt.wantToken, tt.wantWallet)
			}
		})
	}
}
