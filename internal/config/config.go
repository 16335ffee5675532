// Package config defines the top-level configuration for the exit engine
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/alanyoungcy/exitbot/internal/notify"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by EXITBOT_* environment variables.
type Config struct {
	Engine   EngineConfig   `toml:"engine"`
	Exchange ExchangeConfig `toml:"exchange"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Archive  ArchiveConfig  `toml:"archive"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// EngineConfig holds the monitoring and execution parameters.
type EngineConfig struct {
	Thresholds ThresholdsConfig `toml:"thresholds"`
	Scheduler  SchedulerConfig  `toml:"scheduler"`
	Executor   ExecutorConfig   `toml:"executor"`
}

// ThresholdsConfig holds the exit trigger levels. Percentages are in percent
// units (stop_loss_pct = -10 means -10%).
type ThresholdsConfig struct {
	StopLossPct           float64  `toml:"stop_loss_pct"`
	ProfitTargetPct       float64  `toml:"profit_target_pct"`
	TrailingActivationPct float64  `toml:"trailing_activation_pct"`
	TrailDistancePct      float64  `toml:"trail_distance_pct"`
	StageOnePct           float64  `toml:"stage_one_pct"`
	StageTwoPct           float64  `toml:"stage_two_pct"`
	StageOneFraction      float64  `toml:"stage_one_fraction"`
	StageTwoFraction      float64  `toml:"stage_two_fraction"`
	TimeUrgentWindow      duration `toml:"time_urgent_window"`
	MaxSpread             float64  `toml:"max_spread"`
	MinVolume             float64  `toml:"min_volume"`
	EdgeFloor             float64  `toml:"edge_floor"`
	OrderIncrement        float64  `toml:"order_increment"`
}

// SchedulerConfig holds the adaptive monitoring loop parameters.
type SchedulerConfig struct {
	NormalInterval     duration `toml:"normal_interval"`
	UrgentInterval     duration `toml:"urgent_interval"`
	UrgentProximityPct float64  `toml:"urgent_proximity_pct"`
	QuoteTTL           duration `toml:"quote_ttl"`
	CallBudget         int      `toml:"call_budget"`
	BudgetWindow       duration `toml:"budget_window"`
	DeferInterval      duration `toml:"defer_interval"`
	Workers            int      `toml:"workers"`
	QuoteRetries       int      `toml:"quote_retries"`
	QuoteRetryBase     duration `toml:"quote_retry_base"`
}

// ExecutorConfig holds exit execution parameters.
type ExecutorConfig struct {
	PollInterval      duration `toml:"poll_interval"`
	CancelRetries     int      `toml:"cancel_retries"`
	NotifyOnExhausted bool     `toml:"notify_on_exhausted"`
}

// ExchangeConfig holds the CLOB API endpoints and credentials.
type ExchangeConfig struct {
	BaseURL           string   `toml:"base_url"`
	WSBaseURL         string   `toml:"ws_base_url"`
	APIKey            string   `toml:"api_key"`
	APISecret         string   `toml:"api_secret"`
	Timeout           duration `toml:"timeout"`
	RequestsPerSecond float64  `toml:"requests_per_second"`
	// QuoteFeedEnabled streams quotes over the websocket into the cache,
	// sparing REST budget.
	QuoteFeedEnabled bool `toml:"quote_feed_enabled"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
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

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig holds cold-storage archival parameters.
type ArchiveConfig struct {
	Enabled       bool   `toml:"enabled"`
	RetentionDays int    `toml:"retention_days"`
	Cron          string `toml:"cron"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Engine: EngineConfig{
			Thresholds: ThresholdsConfig{
				StopLossPct:           -10,
				ProfitTargetPct:       30,
				TrailingActivationPct: 15,
				TrailDistancePct:      5,
				StageOnePct:           15,
				StageTwoPct:           25,
				StageOneFraction:      0.50,
				StageTwoFraction:      0.25,
				TimeUrgentWindow:      duration{10 * time.Minute},
				MaxSpread:             0.03,
				MinVolume:             50,
				EdgeFloor:             0.02,
				OrderIncrement:        1,
			},
			Scheduler: SchedulerConfig{
				NormalInterval:     duration{30 * time.Second},
				UrgentInterval:     duration{5 * time.Second},
				UrgentProximityPct: 2,
				QuoteTTL:           duration{10 * time.Second},
				CallBudget:         60,
				BudgetWindow:       duration{time.Minute},
				DeferInterval:      duration{2 * time.Second},
				Workers:            8,
				QuoteRetries:       3,
				QuoteRetryBase:     duration{250 * time.Millisecond},
			},
			Executor: ExecutorConfig{
				PollInterval:  duration{500 * time.Millisecond},
				CancelRetries: 3,
			},
		},
		Exchange: ExchangeConfig{
			Timeout:           duration{30 * time.Second},
			RequestsPerSecond: 10,
			QuoteFeedEnabled:  true,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "exitbot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "exitbot-data",
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			RetentionDays: 90,
			Cron:          "0 3 1 * *",
		},
		Notify: NotifyConfig{
			Events: []string{
				notify.EventOrderRejected,
				notify.EventWalkExhausted,
				notify.EventPositionClosed,
				notify.EventCircuitBreaker,
			},
		},
		Mode:     "run",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"run":     true,
	"monitor": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: run, monitor)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Thresholds
	th := c.Engine.Thresholds
	if th.StopLossPct >= 0 {
		errs = append(errs, "engine.thresholds: stop_loss_pct must be negative")
	}
	if th.ProfitTargetPct <= 0 {
		errs = append(errs, "engine.thresholds: profit_target_pct must be > 0")
	}
	if th.TrailDistancePct <= 0 {
		errs = append(errs, "engine.thresholds: trail_distance_pct must be > 0")
	}
	if th.StageOnePct >= th.StageTwoPct {
		errs = append(errs, "engine.thresholds: stage_one_pct must be below stage_two_pct")
	}
	if th.StageOneFraction <= 0 || th.StageOneFraction >= 1 {
		errs = append(errs, "engine.thresholds: stage_one_fraction must be in (0, 1)")
	}
	if th.StageTwoFraction <= 0 || th.StageTwoFraction >= 1 {
		errs = append(errs, "engine.thresholds: stage_two_fraction must be in (0, 1)")
	}
	if th.OrderIncrement <= 0 {
		errs = append(errs, "engine.thresholds: order_increment must be > 0")
	}

	// Scheduler
	sc := c.Engine.Scheduler
	if sc.NormalInterval.Duration <= 0 {
		errs = append(errs, "engine.scheduler: normal_interval must be > 0")
	}
	if sc.UrgentInterval.Duration <= 0 || sc.UrgentInterval.Duration > sc.NormalInterval.Duration {
		errs = append(errs, "engine.scheduler: urgent_interval must be > 0 and at most normal_interval")
	}
	if sc.CallBudget < 1 {
		errs = append(errs, "engine.scheduler: call_budget must be >= 1")
	}
	if sc.Workers < 1 {
		errs = append(errs, "engine.scheduler: workers must be >= 1")
	}

	// Exchange — credentials are required only in run mode, which places
	// orders; monitor mode only reads quotes.
	if c.Exchange.BaseURL == "" {
		errs = append(errs, "exchange: base_url must not be empty")
	}
	if strings.ToLower(c.Mode) == "run" {
		if c.Exchange.APIKey == "" || c.Exchange.APISecret == "" {
			errs = append(errs, "exchange: api_key and api_secret are required for run mode")
		}
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// Archive
	if c.Archive.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when archive is enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archive is enabled")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
		if _, err := cron.ParseStandard(c.Archive.Cron); err != nil {
			errs = append(errs, fmt.Sprintf("archive: invalid cron expression %q: %v", c.Archive.Cron, err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}
