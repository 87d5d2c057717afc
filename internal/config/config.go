// Package config loads the indexer configuration from layered sources:
// built-in defaults, an optional YAML file, then environment variables.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// ErrInvalid marks a configuration that cannot drive a sync run.
var ErrInvalid = errors.New("invalid configuration")

// ConfigPathEnvVar overrides the config file search path.
const ConfigPathEnvVar = "CONFIG_PATH"

// DefaultConfigPaths lists where a config file is searched, first hit wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/ledger-indexer/config.yaml",
}

// ChainConfig points a chain name at its JSON-RPC endpoint.
type ChainConfig struct {
	ChainID int64  `koanf:"chain_id"`
	RPCURL  string `koanf:"rpc_url"`
}

// StripeConfig holds the Stripe API credentials.
type StripeConfig struct {
	BaseURL     string `koanf:"base_url"`
	Secret      string `koanf:"secret"`
	AccountName string `koanf:"account_name"`
}

// OpenCollectiveConfig points at the Open Collective GraphQL endpoint.
type OpenCollectiveConfig struct {
	GraphQLURL string `koanf:"graphql_url"`
}

// GoCardlessConfig holds the bank account data API credentials.
type GoCardlessConfig struct {
	BaseURL   string `koanf:"base_url"`
	SecretID  string `koanf:"secret_id"`
	SecretKey string `koanf:"secret_key"`
}

// DatabaseConfig holds the Postgres connection string.
type DatabaseConfig struct {
	URL string `koanf:"url"`
}

// SyncConfig tunes sync runs.
type SyncConfig struct {
	Workers   int    `koanf:"workers"`
	ChunkSize uint64 `koanf:"chunk_size"`
}

// Config is the full indexer configuration.
type Config struct {
	Database       DatabaseConfig         `koanf:"database"`
	Sync           SyncConfig             `koanf:"sync"`
	Chains         map[string]ChainConfig `koanf:"chains"`
	Stripe         StripeConfig           `koanf:"stripe"`
	OpenCollective OpenCollectiveConfig   `koanf:"opencollective"`
	GoCardless     GoCardlessConfig       `koanf:"gocardless"`
}

// defaultConfig returns the built-in defaults, overridden by config file
// and environment variables.
func defaultConfig() *Config {
	return &Config{
		Sync: SyncConfig{
			Workers:   4,
			ChunkSize: 10_000,
		},
		Chains: map[string]ChainConfig{
			"gnosis":  {ChainID: 100, RPCURL: "https://rpc.gnosischain.com"},
			"polygon": {ChainID: 137, RPCURL: "https://rpc-mainnet.maticvigil.com/"},
			"bsc":     {ChainID: 56, RPCURL: "https://bsc-dataseed.binance.org/"},
		},
		Stripe: StripeConfig{
			BaseURL: "https://api.stripe.com",
		},
		OpenCollective: OpenCollectiveConfig{
			GraphQLURL: "https://api.opencollective.com/graphql/v1",
		},
		GoCardless: GoCardlessConfig{
			BaseURL: "https://bankaccountdata.gocardless.com",
		},
	}
}

// envVars maps the environment variables the indexer honors onto config
// paths. Variables outside this table are ignored.
var envVars = map[string]string{
	"DATABASE_URL":               "database.url",
	"SYNC_WORKERS":               "sync.workers",
	"SYNC_CHUNK_SIZE":            "sync.chunk_size",
	"STRIPE_SECRET":              "stripe.secret",
	"STRIPE_ACCOUNT_NAME":        "stripe.account_name",
	"OPENCOLLECTIVE_GRAPHQL_API": "opencollective.graphql_url",
	"GOCARDLESS_SECRET_ID":       "gocardless.secret_id",
	"GOCARDLESS_SECRET_KEY":      "gocardless.secret_key",
}

// Load builds the configuration: defaults, then the config file when one
// exists, then environment variables. The result is validated.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	envProvider := env.Provider("", ".", func(name string) string {
		return envVars[name]
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the invariants a sync run relies on.
func (c *Config) Validate() error {
	if c.Sync.Workers < 1 {
		return fmt.Errorf("%w: sync.workers must be at least 1, got %d", ErrInvalid, c.Sync.Workers)
	}
	if c.Sync.ChunkSize < 1 {
		return fmt.Errorf("%w: sync.chunk_size must be at least 1", ErrInvalid)
	}
	for name, chain := range c.Chains {
		if chain.ChainID <= 0 {
			return fmt.Errorf("%w: chain %q has no chain_id", ErrInvalid, name)
		}
		if chain.RPCURL == "" {
			return fmt.Errorf("%w: chain %q has no rpc_url", ErrInvalid, name)
		}
	}
	return nil
}

// Chain resolves a chain name to its configuration.
func (c *Config) Chain(name string) (ChainConfig, bool) {
	chain, ok := c.Chains[name]
	return chain, ok
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}
