package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/dvloznov/ledger-indexer/internal/chain"
	"github.com/dvloznov/ledger-indexer/internal/config"
	"github.com/dvloznov/ledger-indexer/internal/indexer"
	"github.com/dvloznov/ledger-indexer/internal/infra/postgres"
	"github.com/dvloznov/ledger-indexer/internal/ledger"
	"github.com/dvloznov/ledger-indexer/internal/logger"
	"github.com/dvloznov/ledger-indexer/internal/provider"
)

const usage = `Usage: indexer [flags] <chain> <tokenAddress> [walletAddress]

Scans ERC-20 Transfer events of the token contract on the given chain and
records them as ledger transactions. With a wallet address, only transfers
touching the wallet are recorded, signed by direction.

Flags:
  --since N|latest   first block for a pair with no cursor (default latest)
  --until N          last block to scan (default chain head)
  --reset            wipe the pair's records and cursor first
`

func main() {
	// Initialize structured logger
	log := logger.New()

	since := flag.String("since", chain.StartLatest, "First block for a pair with no cursor: a block number or 'latest'")
	until := flag.Uint64("until", 0, "Last block to scan (0 = chain head)")
	reset := flag.Bool("reset", false, "Wipe the pair's records and cursor first")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() < 2 || flag.NArg() > 3 {
		flag.Usage()
		os.Exit(2)
	}
	chainName := flag.Arg(0)
	account := flag.Arg(1)
	if flag.NArg() == 3 {
		account = flag.Arg(1) + "/" + flag.Arg(2)
	}

	// All misconfiguration aborts before any I/O.
	if _, _, err := chain.ParseAccount(account); err != nil {
		log.Fatal().Err(err).Msg("Error: invalid address")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	chainCfg, ok := cfg.Chain(chainName)
	if !ok {
		log.Fatal().Str("chain", chainName).Strs("known", chainNames(cfg)).Msg("Error: unsupported chain")
	}
	if cfg.Database.URL == "" {
		log.Fatal().Msg("Error: DATABASE_URL is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 6*time.Hour)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	store, err := postgres.Open(ctx, cfg.Database.URL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer store.Close()

	if *reset {
		if err := store.ResetPair(ctx, chainName, account); err != nil {
			log.Fatal().Err(err).Msg("Failed to reset pair")
		}
		log.Info().Str("provider", chainName).Str("provider_account", account).Msg("Pair reset")
	}

	reg := ledger.Registration{Provider: chainName, ProviderAccount: account}
	if err := store.UpsertRegistration(ctx, reg); err != nil {
		log.Fatal().Err(err).Msg("Failed to register pair")
	}

	client := chain.NewJSONRPCClient(chainCfg.RPCURL)
	scanner := chain.New(chainName, client, chain.Options{
		ChunkSize:  cfg.Sync.ChunkSize,
		StartBlock: *since,
		EndBlock:   *until,
	})
	registry := provider.NewRegistry()
	registry.Register(chainName, scanner)

	log.Info().
		Str("chain", chainName).
		Str("provider_account", account).
		Str("since", *since).
		Uint64("until", *until).
		Msg("Starting scan")

	res := indexer.New(registry, store, log).Run(ctx, reg)
	if res.Err != nil {
		log.Fatal().Err(res.Err).Msg("Scan failed")
	}

	fmt.Printf("Scanned %d transfers (%d new, %d gap ranges), cursor at block %s.\n",
		res.Fetched, res.Inserted, res.Gaps, res.Cursor)
}

func chainNames(cfg *config.Config) []string {
	names := make([]string, 0, len(cfg.Chains))
	for name := range cfg.Chains {
		names = append(names, name)
	}
	return names
}
