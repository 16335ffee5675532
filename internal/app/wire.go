package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	s3blob "github.com/alanyoungcy/exitbot/internal/blob/s3"
	"github.com/alanyoungcy/exitbot/internal/cache/redis"
	"github.com/alanyoungcy/exitbot/internal/config"
	"github.com/alanyoungcy/exitbot/internal/domain"
	"github.com/alanyoungcy/exitbot/internal/executor"
	"github.com/alanyoungcy/exitbot/internal/monitor"
	"github.com/alanyoungcy/exitbot/internal/notify"
	"github.com/alanyoungcy/exitbot/internal/platform/clob"
	"github.com/alanyoungcy/exitbot/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application
// modes need to operate. It is constructed by Wire and torn down by the
// returned cleanup function.
type Dependencies struct {
	// Stores
	PositionStore domain.PositionStore
	AttemptStore  domain.ExitAttemptStore
	ExitStore     domain.PositionExitStore
	ExitLedger    domain.ExitLedger
	AuditStore    domain.AuditStore

	// Caches and coordination
	QuoteCache  domain.QuoteCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus
	EdgeSource  domain.EdgeSource

	// Exchange
	QuoteSource   domain.QuoteSource
	OrderExecutor domain.OrderExecutor
	QuoteFeed     *clob.QuoteFeed // nil when the websocket feed is disabled

	// Blob storage
	BlobWriter domain.BlobWriter
	Archiver   *s3blob.Archiver // nil when archival is disabled

	// Notifications
	Notifier *notify.Notifier
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
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
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.PositionStore = postgres.NewPositionStore(pool)
	deps.AttemptStore = postgres.NewExitAttemptStore(pool)
	deps.ExitStore = postgres.NewPositionExitStore(pool)
	deps.ExitLedger = postgres.NewExitLedger(pool)
	deps.AuditStore = postgres.NewAuditStore(pool)

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	sc := cfg.Engine.Scheduler
	deps.QuoteCache = redis.NewQuoteCache(redisClient, sc.QuoteTTL.Duration)
	deps.RateLimiter = redis.NewRateLimiter(redisClient, sc.CallBudget, sc.BudgetWindow.Duration)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)
	deps.EdgeSource = redis.NewEdgeReader(redisClient)

	// --- Exchange ---
	clobClient := clob.NewClient(clob.Config{
		BaseURL:           cfg.Exchange.BaseURL,
		WSBaseURL:         cfg.Exchange.WSBaseURL,
		APIKey:            cfg.Exchange.APIKey,
		APISecret:         cfg.Exchange.APISecret,
		Timeout:           cfg.Exchange.Timeout.Duration,
		RequestsPerSecond: cfg.Exchange.RequestsPerSecond,
	})
	deps.QuoteSource = clobClient
	deps.OrderExecutor = clobClient

	if cfg.Exchange.QuoteFeedEnabled && cfg.Exchange.WSBaseURL != "" {
		deps.QuoteFeed = clob.NewQuoteFeed(cfg.Exchange.WSBaseURL, deps.QuoteCache, logger)
	}

	// --- S3 blob storage (only when archival is enabled) ---
	if cfg.Archive.Enabled {
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
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.Archiver = s3blob.NewArchiver(
			deps.BlobWriter,
			deps.AttemptStore,
			deps.ExitStore,
			deps.AuditStore,
		)
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

// thresholds converts the TOML threshold block into the engine's fixed-point
// representation.
func thresholds(tc config.ThresholdsConfig) monitor.Thresholds {
	return monitor.Thresholds{
		StopLossPct:           decimal.NewFromFloat(tc.StopLossPct),
		ProfitTargetPct:       decimal.NewFromFloat(tc.ProfitTargetPct),
		TrailingActivationPct: decimal.NewFromFloat(tc.TrailingActivationPct),
		TrailDistancePct:      decimal.NewFromFloat(tc.TrailDistancePct),
		StageOnePct:           decimal.NewFromFloat(tc.StageOnePct),
		StageTwoPct:           decimal.NewFromFloat(tc.StageTwoPct),
		StageOneFraction:      decimal.NewFromFloat(tc.StageOneFraction),
		StageTwoFraction:      decimal.NewFromFloat(tc.StageTwoFraction),
		TimeUrgentWindow:      tc.TimeUrgentWindow.Duration,
		MaxSpread:             decimal.NewFromFloat(tc.MaxSpread),
		MinVolume:             decimal.NewFromFloat(tc.MinVolume),
		EdgeFloor:             decimal.NewFromFloat(tc.EdgeFloor),
		OrderIncrement:        decimal.NewFromFloat(tc.OrderIncrement),
	}
}

// schedulerConfig converts the TOML scheduler block.
func schedulerConfig(sc config.SchedulerConfig) monitor.SchedulerConfig {
	return monitor.SchedulerConfig{
		NormalInterval:     sc.NormalInterval.Duration,
		UrgentInterval:     sc.UrgentInterval.Duration,
		UrgentProximityPct: decimal.NewFromFloat(sc.UrgentProximityPct),
		QuoteTTL:           sc.QuoteTTL.Duration,
		CallBudget:         sc.CallBudget,
		BudgetWindow:       sc.BudgetWindow.Duration,
		DeferInterval:      sc.DeferInterval.Duration,
		Workers:            sc.Workers,
		QuoteRetries:       sc.QuoteRetries,
		QuoteRetryBase:     sc.QuoteRetryBase.Duration,
	}
}

// executorConfig converts the TOML executor block.
func executorConfig(ec config.ExecutorConfig) executor.Config {
	return executor.Config{
		PollInterval:      ec.PollInterval.Duration,
		Increment:         domain.PriceIncrement,
		CancelRetries:     ec.CancelRetries,
		NotifyOnExhausted: ec.NotifyOnExhausted,
	}
}

// retentionCutoff returns the archival cutoff for the configured retention.
func retentionCutoff(retentionDays int, now time.Time) time.Time {
	return now.AddDate(0, 0, -retentionDays)
}
