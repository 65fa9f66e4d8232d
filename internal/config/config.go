// Package config defines the agent configuration and its validation.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Run modes.
const (
	ModeLive = "live"
	ModeDry  = "dry"
	ModeSync = "sync"
)

// Config is the root configuration. Fields are populated from a TOML file and
// then overridden by NFTARB_* environment variables.
type Config struct {
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
	Chain    ChainConfig    `toml:"chain"`
	Wallet   WalletConfig   `toml:"wallet"`
	OpenSea  OpenSeaConfig  `toml:"opensea"`
	Arb      ArbConfig      `toml:"arb"`
	Engine   EngineConfig   `toml:"engine"`
	Executor ExecutorConfig `toml:"executor"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
}

// ChainConfig holds the node connection.
type ChainConfig struct {
	// RPCURL is the node endpoint. A ws:// or ipc URL enables head
	// subscriptions; plain http falls back to polling every PollInterval.
	RPCURL string `toml:"rpc_url"`

	// ChainID must match what the node reports; Wire refuses to start
	// otherwise. It is also the EIP-155 signing chain.
	ChainID int64 `toml:"chain_id"`

	// Name is the marketplace chain slug orders are filtered on.
	Name string `toml:"name"`

	PollInterval duration `toml:"poll_interval"`
}

// WalletConfig holds the signing key source. Only live mode loads a key.
// Exactly one of PrivateKey or EncryptedKeyPath should be set; the raw key
// takes precedence when both are.
type WalletConfig struct {
	// PrivateKey is a hex secp256k1 key, with or without 0x. Prefer
	// NFTARB_WALLET_PRIVATE_KEY over writing it into the TOML file.
	PrivateKey string `toml:"private_key"`

	// EncryptedKeyPath points at a key file written by crypto.EncryptKey.
	EncryptedKeyPath string `toml:"encrypted_key_path"`

	// KeyPassword decrypts EncryptedKeyPath.
	KeyPassword string `toml:"key_password"`
}

// OpenSeaConfig holds the marketplace API and stream endpoints.
type OpenSeaConfig struct {
	APIURL    string `toml:"api_url"`
	StreamURL string `toml:"stream_url"`
	APIKey    string `toml:"api_key"`

	// Collection is the stream topic slug. "*" subscribes to every
	// collection.
	Collection string `toml:"collection"`

	// Timeout bounds each REST call.
	Timeout duration `toml:"timeout"`

	// RateLimit caps fulfillment requests per second across every instance
	// sharing the Redis server. 0 disables; needs redis.enabled.
	RateLimit int `toml:"rate_limit"`
}

// ArbConfig holds the strategy parameters.
type ArbConfig struct {
	// Contract is the deployed arbitrage contract. It is both the OpenSea
	// fulfiller and the destination of every submitted transaction.
	Contract string `toml:"contract"`

	// BidPercentage is the share of expected profit paid as priority fee.
	BidPercentage uint64 `toml:"bid_percentage"`

	// Factory is the sudoswap pair factory. Empty uses the mainnet address.
	Factory string `toml:"factory"`

	// FactoryDeploymentBlock is where the initial pool scan starts.
	FactoryDeploymentBlock uint64 `toml:"factory_deployment_block"`

	// LogWindow is the block span of each eth_getLogs request during sync.
	// Lower it for providers that cap response sizes.
	LogWindow uint64 `toml:"log_window"`

	// QuoteChunk is how many pools one quoter call prices.
	QuoteChunk int `toml:"quote_chunk"`

	// QuoterBytecodePath is a hex file with the quoter's runtime bytecode.
	// The code is never deployed; it is injected through a state override.
	QuoterBytecodePath string `toml:"quoter_bytecode_path"`

	// RestartOnDesync resyncs and restarts the strategy after it loses
	// track of the chain, at most MaxRestarts times. When false the process
	// exits instead.
	RestartOnDesync bool `toml:"restart_on_desync"`
	MaxRestarts     int  `toml:"max_restarts"`
}

// EngineConfig sizes the broadcast buses. A subscriber that falls more than
// the capacity behind loses the oldest items and is told how many.
type EngineConfig struct {
	EventCapacity  int `toml:"event_capacity"`
	ActionCapacity int `toml:"action_capacity"`
}

// ExecutorConfig tunes transaction submission.
type ExecutorConfig struct {
	// GasLimitBufferPct is added on top of the node's gas estimate.
	GasLimitBufferPct uint64 `toml:"gas_limit_buffer_pct"`

	// DedupTTL is how long a submitted order hash is not resubmitted.
	DedupTTL duration `toml:"dedup_ttl"`

	// LeaseTTL is the lifetime of the Redis lease that keeps a second live
	// instance off the same account. The lease is renewed at a third of it.
	LeaseTTL duration `toml:"lease_ttl"`
}

// PostgresConfig holds the opportunity store connection. DSN, when set,
// wins over the individual fields.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds the connection shared by the journal, the live lease
// and the OpenSea rate limiter.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds the archive bucket.
type S3Config struct {
	Enabled  bool   `toml:"enabled"`
	Endpoint string `toml:"endpoint"`
	Region   string `toml:"region"`
	Bucket   string `toml:"bucket"`

	// Prefix is prepended to every object key, e.g. "nftarb/".
	Prefix string `toml:"prefix"`

	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ServerConfig holds the status server.
type ServerConfig struct {
	Enabled bool `toml:"enabled"`
	Port    int  `toml:"port"`

	// APIKey protects everything except /api/health and /metrics. Empty
	// leaves the API open.
	APIKey string `toml:"api_key"`

	// CORSOrigins lists the browser origins allowed to call the API. An
	// empty list or "*" allows any origin.
	CORSOrigins []string `toml:"cors_origins"`
}

// NotifyConfig holds notification channel credentials. A channel is used
// only when all of its fields are set.
type NotifyConfig struct {
	TelegramToken     string `toml:"telegram_token"`
	TelegramChatID    string `toml:"telegram_chat_id"`
	DiscordWebhookURL string `toml:"discord_webhook_url"`

	// Events restricts which event kinds are sent. Empty sends all of them.
	Events []string `toml:"events"`
}

// duration decodes TOML strings such as "5m" or "30s".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config with mainnet defaults.
func Defaults() Config {
	return Config{
		Mode:     ModeDry,
		LogLevel: "info",
		Chain: ChainConfig{
			RPCURL:       "ws://localhost:8546",
			ChainID:      1,
			Name:         "ethereum",
			PollInterval: duration{4 * time.Second},
		},
		OpenSea: OpenSeaConfig{
			APIURL:     "https://api.opensea.io",
			StreamURL:  "wss://stream.openseabeta.com/socket/websocket",
			Collection: "*",
			Timeout:    duration{10 * time.Second},
			RateLimit:  4,
		},
		Arb: ArbConfig{
			BidPercentage:          50,
			FactoryDeploymentBlock: 14650730,
			LogWindow:              2000,
			QuoteChunk:             200,
			MaxRestarts:            3,
		},
		Engine: EngineConfig{
			EventCapacity:  512,
			ActionCapacity: 512,
		},
		Executor: ExecutorConfig{
			GasLimitBufferPct: 20,
			DedupTTL:          duration{2 * time.Minute},
			LeaseTTL:          duration{30 * time.Second},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "nftarb",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   10,
			MaxRetries: 3,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "nftarb",
			Prefix:         "opportunities",
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Enabled: true,
			Port:    8080,
		},
		Notify: NotifyConfig{
			Events: []string{"opportunity", "desync", "restart", "lifecycle"},
		},
	}
}

var validModes = map[string]bool{
	ModeLive: true,
	ModeDry:  true,
	ModeSync: true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks for invalid or missing values and returns one error listing
// every problem found.
func (c *Config) Validate() error {
	var errs []string
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	mode := strings.ToLower(c.Mode)
	if !validModes[mode] {
		add("unknown mode %q (valid: live, dry, sync)", c.Mode)
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		add("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel)
	}

	if c.Chain.RPCURL == "" {
		add("chain: rpc_url must not be empty")
	}
	if c.Chain.ChainID <= 0 {
		add("chain: chain_id must be positive")
	}
	if c.Chain.Name == "" {
		add("chain: name must not be empty")
	}

	if mode == ModeLive {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			add("wallet: either private_key or encrypted_key_path must be set for mode live")
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			add("wallet: key_password is required when encrypted_key_path is set")
		}
	}

	if mode != ModeSync {
		if c.OpenSea.APIURL == "" || c.OpenSea.StreamURL == "" {
			add("opensea: api_url and stream_url must not be empty")
		}
		if c.OpenSea.APIKey == "" {
			add("opensea: api_key is required for mode %s", c.Mode)
		}
		if c.OpenSea.RateLimit < 0 {
			add("opensea: rate_limit must be >= 0, got %d", c.OpenSea.RateLimit)
		}
		if !common.IsHexAddress(c.Arb.Contract) {
			add("arb: contract must be a hex address, got %q", c.Arb.Contract)
		}
	}

	if c.Arb.Factory != "" && !common.IsHexAddress(c.Arb.Factory) {
		add("arb: factory must be a hex address, got %q", c.Arb.Factory)
	}
	if c.Arb.BidPercentage > 100 {
		add("arb: bid_percentage must be 0-100, got %d", c.Arb.BidPercentage)
	}
	if c.Arb.LogWindow == 0 {
		add("arb: log_window must be > 0")
	}
	if c.Arb.QuoteChunk < 1 {
		add("arb: quote_chunk must be >= 1")
	}
	if c.Arb.QuoterBytecodePath == "" {
		add("arb: quoter_bytecode_path must not be empty")
	}
	if c.Arb.MaxRestarts < 0 {
		add("arb: max_restarts must be >= 0")
	}

	if c.Engine.EventCapacity < 1 || c.Engine.ActionCapacity < 1 {
		add("engine: event_capacity and action_capacity must be >= 1")
	}

	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				add("postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				add("postgres: port must be 1-65535, got %d", c.Postgres.Port)
			}
			if c.Postgres.Database == "" {
				add("postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			add("postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			add("postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		add("redis: addr must not be empty")
	}
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			add("s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			add("s3: region must not be empty")
		}
	}

	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		add("server: port must be 1-65535, got %d", c.Server.Port)
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
