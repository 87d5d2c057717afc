package chain

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/dvloznov/ledger-indexer/internal/ledger"
	"github.com/dvloznov/ledger-indexer/internal/logger"
	"github.com/dvloznov/ledger-indexer/internal/provider"
	"github.com/rs/zerolog"
)

// DefaultChunkSize is the block-range width of one log fetch.
const DefaultChunkSize = 10000

// StartLatest makes a first sync begin at the chain head instead of a
// historical block.
const StartLatest = "latest"

// Options configures a Scanner.
type Options struct {
	// ChunkSize is the block-range width per getLogs call.
	// Zero means DefaultChunkSize.
	ChunkSize uint64
	// StartBlock is where a pair with no cursor begins: a decimal block
	// number or StartLatest. Ignored once a cursor exists.
	StartBlock string
	// EndBlock caps the run; zero means the chain head at invocation time.
	// Blocks mined during the run are picked up by the next run.
	EndBlock uint64
}

// Scanner reads ERC-20 Transfer events for one chain and normalizes them
// into ledger transactions. It implements provider.Scanner: records and
// cursor positions go to the sink chunk by chunk, so an interrupted run
// resumes from the last completed chunk.
type Scanner struct {
	chain  string
	client Client
	opts   Options
	meta   map[string]TokenMetadata
}

// New creates a scanner for the named chain.
func New(chainName string, client Client, opts Options) *Scanner {
	if opts.ChunkSize == 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.StartBlock == "" {
		opts.StartBlock = StartLatest
	}
	return &Scanner{
		chain:  chainName,
		client: client,
		opts:   opts,
		meta:   make(map[string]TokenMetadata),
	}
}

// ParseAccount splits a chain provider_account of the form
// "<token_address>[/<wallet_address>]" and validates both addresses.
func ParseAccount(account string) (token, wallet string, err error) {
	parts := strings.SplitN(account, "/", 2)
	token = strings.ToLower(parts[0])
	if !IsHexAddress(token) {
		return "", "", fmt.Errorf("invalid token contract address %q", parts[0])
	}
	if len(parts) == 2 {
		wallet = strings.ToLower(parts[1])
		if !IsHexAddress(wallet) {
			return "", "", fmt.Errorf("invalid wallet address %q", parts[1])
		}
	}
	return token, wallet, nil
}

// Scan implements provider.Scanner.
func (s *Scanner) Scan(ctx context.Context, account string, defaults ledger.Defaults, cursor string, sink provider.Sink) (provider.ScanStats, error) {
	log := logger.FromContext(ctx)
	stats := provider.ScanStats{Cursor: cursor}

	token, wallet, err := ParseAccount(account)
	if err != nil {
		return stats, fmt.Errorf("chain %s: %w", s.chain, err)
	}

	end := s.opts.EndBlock
	if end == 0 {
		head, err := s.client.BlockNumber(ctx)
		if err != nil {
			return stats, fmt.Errorf("chain %s: resolving head: %w: %w", s.chain, provider.ErrUpstreamUnavailable, err)
		}
		end = head
	}

	start, err := s.resolveStart(cursor, end)
	if err != nil {
		return stats, fmt.Errorf("chain %s: %w", s.chain, err)
	}
	if start > end {
		log.Info().
			Uint64("start_block", start).
			Uint64("end_block", end).
			Msg("Nothing to scan, cursor already at head")
		return stats, nil
	}

	meta := s.tokenMetadata(ctx, token)

	log.Info().
		Str("token", token).
		Str("wallet", wallet).
		Uint64("start_block", start).
		Uint64("end_block", end).
		Uint64("chunk_size", s.opts.ChunkSize).
		Msg("Scanning token transfers")

	timestamps := make(map[uint64]time.Time)

	for from := start; from <= end; {
		to := chunkEnd(from, s.opts.ChunkSize, end)

		logs, err := s.client.Logs(ctx, LogFilter{
			FromBlock: from,
			ToBlock:   to,
			Address:   token,
			Topic0:    TransferTopic,
		})
		if err != nil {
			if ctx.Err() != nil {
				return stats, ctx.Err()
			}
			// The failed range is skipped, not retried; the gap marker
			// keeps it auditable for a manual re-run.
			log.Warn().
				Err(err).
				Uint64("from_block", from).
				Uint64("to_block", to).
				Msg("Chunk fetch failed, skipping range")
			if gapErr := sink.MarkGap(ctx, strconv.FormatUint(from, 10), strconv.FormatUint(to, 10), err); gapErr != nil {
				return stats, fmt.Errorf("chain %s: recording gap: %w", s.chain, gapErr)
			}
			stats.Gaps++
			from = to + 1
			continue
		}

		txs := make([]ledger.Transaction, 0, len(logs))
		for _, raw := range logs {
			tx, ok := s.normalize(ctx, log, raw, account, wallet, meta, timestamps)
			if !ok {
				continue
			}
			ledger.ApplyDefaults(&tx, defaults)
			txs = append(txs, tx)
		}

		inserted, err := sink.Persist(ctx, txs)
		if err != nil {
			return stats, fmt.Errorf("chain %s: persisting blocks %d-%d: %w", s.chain, from, to, err)
		}
		// Cursor advance happens-after the chunk's records are durable.
		newCursor := strconv.FormatUint(to, 10)
		if err := sink.Advance(ctx, newCursor); err != nil {
			return stats, fmt.Errorf("chain %s: advancing cursor to %s: %w", s.chain, newCursor, err)
		}

		stats.Cursor = newCursor
		stats.Fetched += len(txs)
		stats.Inserted += inserted

		from = to + 1
	}

	return stats, nil
}

// resolveStart picks the first block of the run: one past the cursor when
// present, otherwise the configured start block.
func (s *Scanner) resolveStart(cursor string, head uint64) (uint64, error) {
	if cursor != "" {
		last, err := strconv.ParseUint(cursor, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid block cursor %q: %w", cursor, err)
		}
		return last + 1, nil
	}
	if s.opts.StartBlock == StartLatest {
		return head, nil
	}
	start, err := strconv.ParseUint(s.opts.StartBlock, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid start block %q: %w", s.opts.StartBlock, err)
	}
	return start, nil
}

// chunkEnd returns the inclusive end of the chunk beginning at from.
func chunkEnd(from, size, end uint64) uint64 {
	to := from + size - 1
	if to > end {
		return end
	}
	return to
}

// tokenMetadata resolves and caches symbol/decimals for a token contract.
// Metadata is display information; a lookup failure degrades to the ERC-20
// default rather than failing the run.
func (s *Scanner) tokenMetadata(ctx context.Context, token string) TokenMetadata {
	if meta, ok := s.meta[token]; ok {
		return meta
	}
	meta, err := FetchTokenMetadata(ctx, s.client, token)
	if err != nil {
		log := logger.FromContext(ctx)
		log.Warn().
			Err(err).
			Str("token", token).
			Msg("Token metadata lookup failed, assuming 18 decimals")
		meta = TokenMetadata{Decimals: 18}
	}
	s.meta[token] = meta
	return meta
}

// normalize decodes one raw log into a ledger transaction. Returns false
// when the entry is dropped; a bad entry never affects the rest of its
// chunk.
func (s *Scanner) normalize(ctx context.Context, log zerolog.Logger, raw Log, account, wallet string, meta TokenMetadata, timestamps map[uint64]time.Time) (ledger.Transaction, bool) {
	transfer, err := DecodeTransfer(raw)
	if err != nil {
		log.Warn().Err(err).Msg("Dropping undecodable log entry")
		return ledger.Transaction{}, false
	}

	value := transfer.Value
	txType := ledger.TypeTransfer
	counterparty := transfer.From
	accountAddress := transfer.To

	if wallet != "" {
		switch {
		case transfer.From == wallet && transfer.To == wallet:
			txType = ledger.TypeInternal
			counterparty = wallet
			accountAddress = wallet
		case transfer.To == wallet:
			counterparty = transfer.From
			accountAddress = wallet
		case transfer.From == wallet:
			value = new(big.Int).Neg(transfer.Value)
			counterparty = transfer.To
			accountAddress = wallet
		default:
			// Transfer between third parties; not this wallet's activity.
			return ledger.Transaction{}, false
		}
	}

	if !value.IsInt64() {
		log.Warn().
			Str("tx_hash", transfer.TxHash).
			Uint64("log_index", transfer.LogIndex).
			Str("value", transfer.Value.String()).
			Msg("Dropping transfer with value outside int64 range")
		return ledger.Transaction{}, false
	}

	ts, ok := timestamps[transfer.BlockNumber]
	if !ok {
		ts, err = s.client.BlockTimestamp(ctx, transfer.BlockNumber)
		if err != nil {
			log.Warn().
				Err(err).
				Uint64("block_number", transfer.BlockNumber).
				Msg("Dropping transfer, block timestamp lookup failed")
			return ledger.Transaction{}, false
		}
		timestamps[transfer.BlockNumber] = ts
	}

	return ledger.Transaction{
		Timestamp:           ts,
		Provider:            s.chain,
		ProviderAccount:     account,
		ProviderTxID:        fmt.Sprintf("%s-%d", transfer.TxHash, transfer.LogIndex),
		AccountAddress:      accountAddress,
		CounterpartyAddress: counterparty,
		Value:               value.Int64(),
		TokenSymbol:         meta.Symbol,
		TokenDecimals:       meta.Decimals,
		Type:                txType,
	}, true
}

var _ provider.Scanner = (*Scanner)(nil)
