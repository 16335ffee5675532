package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies EXITBOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known EXITBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Engine thresholds ──
	setFloat64(&cfg.Engine.Thresholds.StopLossPct, "EXITBOT_ENGINE_STOP_LOSS_PCT")
	setFloat64(&cfg.Engine.Thresholds.ProfitTargetPct, "EXITBOT_ENGINE_PROFIT_TARGET_PCT")
	setFloat64(&cfg.Engine.Thresholds.TrailingActivationPct, "EXITBOT_ENGINE_TRAILING_ACTIVATION_PCT")
	setFloat64(&cfg.Engine.Thresholds.TrailDistancePct, "EXITBOT_ENGINE_TRAIL_DISTANCE_PCT")
	setFloat64(&cfg.Engine.Thresholds.StageOnePct, "EXITBOT_ENGINE_STAGE_ONE_PCT")
	setFloat64(&cfg.Engine.Thresholds.StageTwoPct, "EXITBOT_ENGINE_STAGE_TWO_PCT")
	setFloat64(&cfg.Engine.Thresholds.StageOneFraction, "EXITBOT_ENGINE_STAGE_ONE_FRACTION")
	setFloat64(&cfg.Engine.Thresholds.StageTwoFraction, "EXITBOT_ENGINE_STAGE_TWO_FRACTION")
	setDuration(&cfg.Engine.Thresholds.TimeUrgentWindow, "EXITBOT_ENGINE_TIME_URGENT_WINDOW")
	setFloat64(&cfg.Engine.Thresholds.MaxSpread, "EXITBOT_ENGINE_MAX_SPREAD")
	setFloat64(&cfg.Engine.Thresholds.MinVolume, "EXITBOT_ENGINE_MIN_VOLUME")
	setFloat64(&cfg.Engine.Thresholds.EdgeFloor, "EXITBOT_ENGINE_EDGE_FLOOR")
	setFloat64(&cfg.Engine.Thresholds.OrderIncrement, "EXITBOT_ENGINE_ORDER_INCREMENT")

	// ── Engine scheduler ──
	setDuration(&cfg.Engine.Scheduler.NormalInterval, "EXITBOT_SCHEDULER_NORMAL_INTERVAL")
	setDuration(&cfg.Engine.Scheduler.UrgentInterval, "EXITBOT_SCHEDULER_URGENT_INTERVAL")
	setFloat64(&cfg.Engine.Scheduler.UrgentProximityPct, "EXITBOT_SCHEDULER_URGENT_PROXIMITY_PCT")
	setDuration(&cfg.Engine.Scheduler.QuoteTTL, "EXITBOT_SCHEDULER_QUOTE_TTL")
	setInt(&cfg.Engine.Scheduler.CallBudget, "EXITBOT_SCHEDULER_CALL_BUDGET")
	setDuration(&cfg.Engine.Scheduler.BudgetWindow, "EXITBOT_SCHEDULER_BUDGET_WINDOW")
	setDuration(&cfg.Engine.Scheduler.DeferInterval, "EXITBOT_SCHEDULER_DEFER_INTERVAL")
	setInt(&cfg.Engine.Scheduler.Workers, "EXITBOT_SCHEDULER_WORKERS")
	setInt(&cfg.Engine.Scheduler.QuoteRetries, "EXITBOT_SCHEDULER_QUOTE_RETRIES")
	setDuration(&cfg.Engine.Scheduler.QuoteRetryBase, "EXITBOT_SCHEDULER_QUOTE_RETRY_BASE")

	// ── Engine executor ──
	setDuration(&cfg.Engine.Executor.PollInterval, "EXITBOT_EXECUTOR_POLL_INTERVAL")
	setInt(&cfg.Engine.Executor.CancelRetries, "EXITBOT_EXECUTOR_CANCEL_RETRIES")
	setBool(&cfg.Engine.Executor.NotifyOnExhausted, "EXITBOT_EXECUTOR_NOTIFY_ON_EXHAUSTED")

	// ── Exchange ──
	setStr(&cfg.Exchange.BaseURL, "EXITBOT_EXCHANGE_BASE_URL")
	setStr(&cfg.Exchange.WSBaseURL, "EXITBOT_EXCHANGE_WS_BASE_URL")
	setStr(&cfg.Exchange.APIKey, "EXITBOT_EXCHANGE_API_KEY")
	setStr(&cfg.Exchange.APISecret, "EXITBOT_EXCHANGE_API_SECRET")
	setDuration(&cfg.Exchange.Timeout, "EXITBOT_EXCHANGE_TIMEOUT")
	setFloat64(&cfg.Exchange.RequestsPerSecond, "EXITBOT_EXCHANGE_REQUESTS_PER_SECOND")
	setBool(&cfg.Exchange.QuoteFeedEnabled, "EXITBOT_EXCHANGE_QUOTE_FEED_ENABLED")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "EXITBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "EXITBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "EXITBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "EXITBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "EXITBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "EXITBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "EXITBOT_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "EXITBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "EXITBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "EXITBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "EXITBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "EXITBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "EXITBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "EXITBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "EXITBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "EXITBOT_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "EXITBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "EXITBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "EXITBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "EXITBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "EXITBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "EXITBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "EXITBOT_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "EXITBOT_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "EXITBOT_ARCHIVE_RETENTION_DAYS")
	setStr(&cfg.Archive.Cron, "EXITBOT_ARCHIVE_CRON")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "EXITBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "EXITBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "EXITBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "EXITBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "EXITBOT_MODE")
	setStr(&cfg.LogLevel, "EXITBOT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
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

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
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

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
