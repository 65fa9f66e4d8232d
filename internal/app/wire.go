package app

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	s3blob "github.com/alanyoungcy/nftarb/internal/blob/s3"
	"github.com/alanyoungcy/nftarb/internal/cache/redis"
	"github.com/alanyoungcy/nftarb/internal/chain"
	"github.com/alanyoungcy/nftarb/internal/config"
	"github.com/alanyoungcy/nftarb/internal/contracts"
	"github.com/alanyoungcy/nftarb/internal/crypto"
	"github.com/alanyoungcy/nftarb/internal/domain"
	"github.com/alanyoungcy/nftarb/internal/notify"
	"github.com/alanyoungcy/nftarb/internal/platform/opensea"
	"github.com/alanyoungcy/nftarb/internal/server/handler"
	"github.com/alanyoungcy/nftarb/internal/store/postgres"
	"github.com/alanyoungcy/nftarb/internal/strategy"
)

// Dependencies bundles every client, sink and registry the modes run on.
// Optional backends are nil when disabled in config or not needed by the
// mode. It is constructed by Wire and torn down by the returned cleanup
// function.
type Dependencies struct {
	Chain  *chain.Client
	Codec  *contracts.Codec
	Quoter *strategy.Quoter

	// Marketplace, nil in sync mode.
	OpenSea *opensea.Client
	Stream  *opensea.StreamClient

	// Live mode only.
	Signer *crypto.TxSigner
	Lease  *redis.Lease

	// Sinks
	Store    *postgres.OpportunityStore
	Journal  *redis.Journal
	Archive  *s3blob.Archive
	Notifier *notify.Notifier

	Registry *prometheus.Registry
	Checks   map[string]handler.Check
}

// Sinks returns the enabled opportunity sinks.
func (d *Dependencies) Sinks() []domain.OpportunitySink {
	var sinks []domain.OpportunitySink
	if d.Store != nil {
		sinks = append(sinks, d.Store)
	}
	if d.Journal != nil {
		sinks = append(sinks, d.Journal)
	}
	if d.Archive != nil {
		sinks = append(sinks, d.Archive)
	}
	if d.Notifier.Enabled() {
		sinks = append(sinks, d.Notifier)
	}
	return sinks
}

// History returns the source for the opportunities endpoint: postgres when
// enabled, the redis journal otherwise, or nil.
func (d *Dependencies) History() handler.OpportunityLister {
	switch {
	case d.Store != nil:
		return d.Store
	case d.Journal != nil:
		return d.Journal
	default:
		return nil
	}
}

// needsMarket returns true for modes that consume marketplace listings.
func needsMarket(mode string) bool {
	return mode != config.ModeSync
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(format string, err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, fmt.Errorf(format, err)
	}

	deps := &Dependencies{
		Registry: prometheus.NewRegistry(),
		Checks:   make(map[string]handler.Check),
	}
	deps.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// --- Chain ---
	client, err := chain.Dial(ctx, cfg.Chain.RPCURL)
	if err != nil {
		return fail("wire: %w", err)
	}
	closers = append(closers, client.Close)
	chainID, err := client.ChainID(ctx)
	if err != nil {
		return fail("wire: chain id: %w", err)
	}
	if chainID.Int64() != cfg.Chain.ChainID {
		return fail("wire: %w", fmt.Errorf("node reports chain id %s, config expects %d", chainID, cfg.Chain.ChainID))
	}
	deps.Chain = client
	deps.Checks["chain"] = func(ctx context.Context) error {
		_, err := client.BlockNumber(ctx)
		return err
	}

	deps.Codec, err = contracts.NewCodec()
	if err != nil {
		return fail("wire: %w", err)
	}
	code, err := loadBytecode(cfg.Arb.QuoterBytecodePath)
	if err != nil {
		return fail("wire: %w", err)
	}
	deps.Quoter = strategy.NewQuoter(chain.NewOverrideCaller(client), deps.Codec, code, cfg.Arb.QuoteChunk)

	// --- OpenSea ---
	if needsMarket(cfg.Mode) {
		deps.OpenSea = opensea.NewClient(cfg.OpenSea.APIURL, cfg.OpenSea.APIKey,
			common.HexToAddress(cfg.Arb.Contract), cfg.OpenSea.Timeout.Duration)
		deps.Stream = opensea.NewStreamClient(cfg.OpenSea.StreamURL, cfg.OpenSea.APIKey,
			cfg.OpenSea.Collection, logger)
	}

	// --- Wallet ---
	if cfg.Mode == config.ModeLive {
		key, err := crypto.LoadKey(crypto.KeyConfig{
			RawPrivateKey:    cfg.Wallet.PrivateKey,
			EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
			KeyPassword:      cfg.Wallet.KeyPassword,
		})
		if err != nil {
			return fail("wire: wallet: %w", err)
		}
		deps.Signer = crypto.NewTxSigner(key, big.NewInt(cfg.Chain.ChainID))
		logger.Info("wallet loaded", slog.String("address", deps.Signer.Address().Hex()))
	}

	// --- PostgreSQL ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return fail("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail("wire: postgres migrations: %w", err)
			}
		}
		deps.Store = postgres.NewOpportunityStore(pgClient.Pool())
		deps.Checks["postgres"] = pgClient.Ping
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			return fail("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })
		deps.Journal = redis.NewJournal(redisClient)
		deps.Checks["redis"] = redisClient.Ping

		if deps.OpenSea != nil && cfg.OpenSea.RateLimit > 0 {
			deps.OpenSea.SetLimiter(redis.NewRateLimiter(redisClient, "opensea", cfg.OpenSea.RateLimit, time.Second))
		}

		// One submitting instance per account, or nonces collide.
		if deps.Signer != nil {
			name := "live:" + strings.ToLower(deps.Signer.Address().Hex())
			lease, err := redis.AcquireLease(ctx, redisClient, name, cfg.Executor.LeaseTTL.Duration, logger)
			if err != nil {
				return fail("wire: %w", err)
			}
			closers = append(closers, lease.Release)
			deps.Lease = lease
		}
	}

	// --- S3 ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail("wire: s3: %w", err)
		}
		deps.Archive = s3blob.NewArchive(s3Client, cfg.S3.Prefix)
		deps.Checks["s3"] = s3Client.Health
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}

// loadBytecode reads hex-encoded runtime bytecode, with or without 0x.
func loadBytecode(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("quoter bytecode: %w", err)
	}
	s := strings.TrimSpace(string(raw))
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		s = "0x" + s
	}
	code, err := hexutil.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("quoter bytecode %s: %w", path, err)
	}
	if len(code) == 0 {
		return nil, fmt.Errorf("quoter bytecode %s: empty", path)
	}
	return code, nil
}
