package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads the TOML file at path over Defaults, loads .env when present and
// applies NFTARB_* overrides. A missing file is not an error, so a deployment
// can be configured from the environment alone. The result is not validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// .env is optional; variables already in the environment win over it.
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

// applyEnvOverrides overwrites fields from NFTARB_<SECTION>_<KEY> variables.
// Secrets such as the private key and API keys are normally injected this
// way so that the TOML file can be committed. Variables that are empty or
// fail to parse leave the field untouched.
func applyEnvOverrides(cfg *Config) {
	// ── Top-level ──
	setStr(&cfg.Mode, "NFTARB_MODE")
	setStr(&cfg.LogLevel, "NFTARB_LOG_LEVEL")

	// ── Chain ──
	setStr(&cfg.Chain.RPCURL, "NFTARB_CHAIN_RPC_URL")
	setInt64(&cfg.Chain.ChainID, "NFTARB_CHAIN_CHAIN_ID")
	setStr(&cfg.Chain.Name, "NFTARB_CHAIN_NAME")
	setDuration(&cfg.Chain.PollInterval, "NFTARB_CHAIN_POLL_INTERVAL")

	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "NFTARB_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "NFTARB_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "NFTARB_WALLET_KEY_PASSWORD")

	// ── OpenSea ──
	setStr(&cfg.OpenSea.APIURL, "NFTARB_OPENSEA_API_URL")
	setStr(&cfg.OpenSea.StreamURL, "NFTARB_OPENSEA_STREAM_URL")
	setStr(&cfg.OpenSea.APIKey, "NFTARB_OPENSEA_API_KEY")
	setStr(&cfg.OpenSea.Collection, "NFTARB_OPENSEA_COLLECTION")
	setDuration(&cfg.OpenSea.Timeout, "NFTARB_OPENSEA_TIMEOUT")
	setInt(&cfg.OpenSea.RateLimit, "NFTARB_OPENSEA_RATE_LIMIT")

	// ── Arbitrage ──
	setStr(&cfg.Arb.Contract, "NFTARB_ARB_CONTRACT")
	setUint64(&cfg.Arb.BidPercentage, "NFTARB_ARB_BID_PERCENTAGE")
	setStr(&cfg.Arb.Factory, "NFTARB_ARB_FACTORY")
	setUint64(&cfg.Arb.FactoryDeploymentBlock, "NFTARB_ARB_FACTORY_DEPLOYMENT_BLOCK")
	setUint64(&cfg.Arb.LogWindow, "NFTARB_ARB_LOG_WINDOW")
	setInt(&cfg.Arb.QuoteChunk, "NFTARB_ARB_QUOTE_CHUNK")
	setStr(&cfg.Arb.QuoterBytecodePath, "NFTARB_ARB_QUOTER_BYTECODE_PATH")
	setBool(&cfg.Arb.RestartOnDesync, "NFTARB_ARB_RESTART_ON_DESYNC")
	setInt(&cfg.Arb.MaxRestarts, "NFTARB_ARB_MAX_RESTARTS")

	// ── Engine ──
	setInt(&cfg.Engine.EventCapacity, "NFTARB_ENGINE_EVENT_CAPACITY")
	setInt(&cfg.Engine.ActionCapacity, "NFTARB_ENGINE_ACTION_CAPACITY")

	// ── Executor ──
	setUint64(&cfg.Executor.GasLimitBufferPct, "NFTARB_EXECUTOR_GAS_LIMIT_BUFFER_PCT")
	setDuration(&cfg.Executor.DedupTTL, "NFTARB_EXECUTOR_DEDUP_TTL")
	setDuration(&cfg.Executor.LeaseTTL, "NFTARB_EXECUTOR_LEASE_TTL")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "NFTARB_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "NFTARB_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "NFTARB_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "NFTARB_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "NFTARB_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "NFTARB_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "NFTARB_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "NFTARB_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "NFTARB_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "NFTARB_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "NFTARB_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "NFTARB_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "NFTARB_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "NFTARB_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "NFTARB_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "NFTARB_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "NFTARB_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "NFTARB_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "NFTARB_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "NFTARB_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "NFTARB_S3_REGION")
	setStr(&cfg.S3.Bucket, "NFTARB_S3_BUCKET")
	setStr(&cfg.S3.Prefix, "NFTARB_S3_PREFIX")
	setStr(&cfg.S3.AccessKey, "NFTARB_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "NFTARB_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "NFTARB_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "NFTARB_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "NFTARB_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "NFTARB_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "NFTARB_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "NFTARB_SERVER_CORS_ORIGINS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "NFTARB_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "NFTARB_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "NFTARB_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "NFTARB_NOTIFY_EVENTS")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each one only writes dst when the variable is set
// and parses as the target type.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

// setStringSlice splits a comma-separated value and drops empty entries.
// A value with no entries leaves dst unchanged.
func setStringSlice(dst *[]string, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var cleaned []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			cleaned = append(cleaned, p)
		}
	}
	if len(cleaned) > 0 {
		*dst = cleaned
	}
}
