package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/shopspring/decimal"

	s3blob "github.com/alanyoungcy/sniperbot/internal/blob/s3"
	"github.com/alanyoungcy/sniperbot/internal/cache/redis"
	"github.com/alanyoungcy/sniperbot/internal/client"
	"github.com/alanyoungcy/sniperbot/internal/config"
	"github.com/alanyoungcy/sniperbot/internal/domain"
	"github.com/alanyoungcy/sniperbot/internal/executor"
	"github.com/alanyoungcy/sniperbot/internal/metrics"
	"github.com/alanyoungcy/sniperbot/internal/notify"
	"github.com/alanyoungcy/sniperbot/internal/platform/jupiter"
	"github.com/alanyoungcy/sniperbot/internal/server/handler"
	"github.com/alanyoungcy/sniperbot/internal/service"
	"github.com/alanyoungcy/sniperbot/internal/store/memory"
	"github.com/alanyoungcy/sniperbot/internal/store/postgres"
)

// Dependencies bundles everything the application modes need. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Storage is nil for a remote worker.
	Storage domain.Storage
	Workers domain.WorkerStore
	Core    *service.Core

	// Protocol is the Core itself, or an HTTP client for a remote worker.
	Protocol domain.Protocol

	// Redis-backed collaborators; nil when redis is disabled.
	Bus        domain.SignalBus
	Locks      domain.LockManager
	PriceCache domain.PriceCache
	Limiter    domain.RateLimiter

	Prices   domain.PriceSource
	Executor *executor.Journaled
	Archiver domain.Archiver
	Notifier *notify.Notifier

	Registry *prometheus.Registry
	Metrics  *metrics.Metrics

	// Health checks reported by /api/health.
	Checks map[string]handler.Check
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
	fail := func(what string, err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, fmt.Errorf("wire: %s: %w", what, err)
	}

	deps := &Dependencies{Checks: make(map[string]handler.Check)}

	// --- Metrics ---
	deps.Registry = prometheus.NewRegistry()
	deps.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	deps.Metrics = metrics.New(deps.Registry)

	// --- Redis (optional) ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return fail("redis", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.Bus = redis.NewSignalBus(redisClient)
		deps.Locks = redis.NewLockManager(redisClient, cfg.Redis.LockWait.Duration)
		deps.PriceCache = redis.NewPriceCache(redisClient, cfg.Prices.CacheTTL.Duration)
		deps.Limiter = redis.NewRateLimiter(redisClient, cfg.Prices.RateLimit, time.Second)
		deps.Checks["redis"] = redisClient.Ping
	}

	// --- Storage ---
	if cfg.RemoteWorker() {
		deps.Protocol = client.New(cfg.Worker.CoreURL, client.WithAPIKey(cfg.Server.APIKey))
		logger.InfoContext(ctx, "wire: worker uses remote core", slog.String("core_url", cfg.Worker.CoreURL))
	} else {
		switch cfg.Storage.Driver {
		case "memory":
			deps.Storage = memory.New()
			deps.Workers = memory.NewWorkerStore()
			logger.WarnContext(ctx, "wire: memory storage, state is lost on restart")
		default:
			pgClient, err := postgres.New(ctx, postgres.ClientConfig{
				DSN:      cfg.Supabase.DSN,
				Host:     cfg.Supabase.Host,
				Port:     cfg.Supabase.Port,
				Database: cfg.Supabase.Database,
				User:     cfg.Supabase.User,
				Password: cfg.Supabase.Password,
				SSLMode:  cfg.Supabase.SSLMode,
				MaxConns: cfg.Supabase.PoolMaxConns,
				MinConns: cfg.Supabase.PoolMinConns,
			})
			if err != nil {
				return fail("postgres", err)
			}
			closers = append(closers, pgClient.Close)

			if cfg.Supabase.RunMigrations {
				applied, err := pgClient.RunMigrations(ctx)
				if err != nil {
					return fail("postgres migrations", err)
				}
				if len(applied) > 0 {
					logger.InfoContext(ctx, "wire: migrations applied", slog.Any("files", applied))
				}
			}
			deps.Storage = pgClient
			deps.Workers = pgClient.Workers()
			deps.Checks["postgres"] = pgClient.Ping
		}

		presets, fallback := cfg.Channels.Domain()
		hooks := service.Hooks{
			Bus:     deps.Bus,
			Metrics: deps.Metrics,
			Locks:   deps.Locks,
			LockTTL: cfg.Redis.LockTTL.Duration,
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
		if len(senders) > 0 {
			deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, cfg.Notify.QueueSize, logger)
			hooks.Notifier = deps.Notifier
		}

		deps.Core = service.NewCore(
			deps.Storage,
			deps.Workers,
			service.NewChannelDirectory(presets, fallback),
			hooks,
			cfg.Server.OnlineTimeout.Duration,
			logger,
		)
		deps.Protocol = deps.Core
	}

	// --- S3 archive (only with postgres) ---
	if cfg.Archive.Enabled && deps.Storage != nil {
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
			return fail("s3", err)
		}
		stores := deps.Storage.Stores()
		deps.Archiver = s3blob.NewArchiver(
			s3blob.NewBucket(s3Client),
			stores.Trades,
			stores.Events,
			s3blob.ArchiverConfig{
				LookbackMonths: cfg.Archive.LookbackMonths,
				BatchSize:      cfg.Archive.BatchSize,
			},
			logger,
		)
		deps.Checks["s3"] = s3Client.Health
	}

	// --- Worker collaborators ---
	if cfg.Mode != "server" {
		var jupOpts []jupiter.Option
		if deps.Limiter != nil {
			jupOpts = append(jupOpts, jupiter.WithRateLimiter(deps.Limiter))
		}
		var prices domain.PriceSource = jupiter.NewClient(cfg.Prices.JupiterURL, jupOpts...)
		if deps.PriceCache != nil {
			prices = jupiter.NewCachedSource(prices, deps.PriceCache, cfg.Prices.CacheMaxAge.Duration, logger)
		}
		deps.Prices = prices

		paper := executor.NewPaper(prices, executor.PaperConfig{
			StartingBalanceSOL: decimal.NewFromFloat(cfg.Execution.StartingBalanceSOL),
			SlippageBps:        cfg.Execution.SlippageBps,
		}, logger)
		deps.Executor = executor.NewJournaled(paper, cfg.Execution.JournalTTL.Duration, logger)
	}

	return deps, cleanup, nil
}
