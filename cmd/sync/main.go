package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/ledger-indexer/internal/chain"
	"github.com/dvloznov/ledger-indexer/internal/config"
	"github.com/dvloznov/ledger-indexer/internal/indexer"
	"github.com/dvloznov/ledger-indexer/internal/infra/postgres"
	"github.com/dvloznov/ledger-indexer/internal/ledger"
	"github.com/dvloznov/ledger-indexer/internal/logger"
	"github.com/dvloznov/ledger-indexer/internal/provider"
	"github.com/dvloznov/ledger-indexer/internal/provider/gocardless"
	"github.com/dvloznov/ledger-indexer/internal/provider/opencollective"
	"github.com/dvloznov/ledger-indexer/internal/provider/stripe"
)

func main() {
	// Initialize structured logger
	log := logger.New()

	// Parse CLI flags
	providerName := flag.String("provider", "", "Sync only registrations of this provider")
	account := flag.String("account", "", "Sync only this provider account (requires --provider)")
	workers := flag.Int("workers", 0, "Number of pairs synced concurrently (defaults to config)")
	reset := flag.Bool("reset", false, "Wipe the selected pair's records and cursor first (requires --provider and --account)")
	dryRun := flag.Bool("dry-run", false, "List the registrations that would sync, without fetching")
	flag.Parse()

	if *account != "" && *providerName == "" {
		log.Fatal().Msg("Error: --account requires --provider")
	}
	if *reset && (*providerName == "" || *account == "") {
		log.Fatal().Msg("Error: --reset requires --provider and --account")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if cfg.Database.URL == "" {
		log.Fatal().Msg("Error: DATABASE_URL is required")
	}

	// Create context with timeout so CLI doesn't hang
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	store, err := postgres.Open(ctx, cfg.Database.URL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer store.Close()

	registry := buildRegistry(cfg, log)
	defer registry.Close()

	regs, err := store.ListRegistrations(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to list registrations")
	}
	regs = filterRegistrations(regs, *providerName, *account)
	if len(regs) == 0 {
		log.Fatal().Msg("No matching registrations; register pairs in the indexer table first")
	}

	if *dryRun {
		for _, reg := range regs {
			fmt.Printf("%s\t%s\tcursor=%q\t%s\n", reg.Provider, reg.ProviderAccount, reg.Cursor, reg.Label)
		}
		return
	}

	if *reset {
		if err := store.ResetPair(ctx, *providerName, *account); err != nil {
			log.Fatal().Err(err).Msg("Failed to reset pair")
		}
		log.Info().Str("provider", *providerName).Str("provider_account", *account).Msg("Pair reset")
		// ListRegistrations ran before the reset; reload the cleared cursor
		for i := range regs {
			regs[i].Cursor = ""
		}
	}

	workerCount := *workers
	if workerCount == 0 {
		workerCount = cfg.Sync.Workers
	}

	log.Info().Int("pairs", len(regs)).Int("workers", workerCount).Msg("Starting sync")

	svc := indexer.New(registry, store, log)
	summary := svc.RunAll(ctx, regs, workerCount)

	failed := summary.Failed()
	log.Info().
		Int("pairs", len(summary.Results)).
		Int("inserted", summary.Inserted()).
		Int("failed", len(failed)).
		Msg("Sync finished")

	if len(failed) > 0 {
		for _, res := range failed {
			log.Error().
				Str("provider", res.Provider).
				Str("provider_account", res.Account).
				Err(res.Err).
				Msg("Pair failed")
		}
		os.Exit(1)
	}
	fmt.Println("Sync completed successfully.")
}

// buildRegistry wires every configured provider. Chain scanners register
// under their chain names; payment providers only when credentials are
// configured.
func buildRegistry(cfg *config.Config, log zerolog.Logger) *provider.Registry {
	registry := provider.NewRegistry()

	for name, chainCfg := range cfg.Chains {
		client := chain.NewJSONRPCClient(chainCfg.RPCURL)
		registry.Register(name, chain.New(name, client, chain.Options{ChunkSize: cfg.Sync.ChunkSize}))
	}

	oc := opencollective.NewPlugin(opencollective.NewClient(cfg.OpenCollective.GraphQLURL))
	registry.Register("opencollective", oc)

	if cfg.Stripe.Secret != "" {
		client := stripe.NewClient(cfg.Stripe.BaseURL, cfg.Stripe.Secret)
		registry.Register("stripe", stripe.NewPlugin(client, oc, cfg.Stripe.AccountName))
	}

	if cfg.GoCardless.SecretID != "" {
		tokens := gocardless.NewTokenSource(cfg.GoCardless.BaseURL, cfg.GoCardless.SecretID, cfg.GoCardless.SecretKey, log)
		registry.Register("gocardless", gocardless.NewPlugin(gocardless.NewClient(cfg.GoCardless.BaseURL, tokens), tokens))
	}

	return registry
}

func filterRegistrations(regs []ledger.Registration, provider, account string) []ledger.Registration {
	if provider == "" {
		return regs
	}
	var filtered []ledger.Registration
	for _, reg := range regs {
		if reg.Provider != provider {
			continue
		}
		if account != "" && reg.ProviderAccount != account {
			continue
		}
		filtered = append(filtered, reg)
	}
	return filtered
}
