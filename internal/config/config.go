package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"market-signal-core/internal/utils"
)

// Config is the single structured configuration for the core, covering
// every recognised option named in the specification's External
// Interfaces section.
type Config struct {
	Database        DatabaseConfig        `yaml:"database"`
	PriceProvider   PriceProviderConfig   `yaml:"price_provider"`
	Logging         LoggingConfig         `yaml:"logging"`
	Cache           CacheConfig           `yaml:"cache"`
	Dedup           DedupConfig           `yaml:"dedup_window_minutes"`
	OutcomeTracker  OutcomeTrackerConfig  `yaml:"outcome_tracker"`
	PatternAnalyser PatternAnalyserConfig `yaml:"pattern_analyser"`
	Alert           AlertConfig           `yaml:"alert"`
	Pool            PoolConfig            `yaml:"pool"`
	SlowQuery       SlowQueryConfig       `yaml:"slow_query"`
	Scheduler       SchedulerConfig       `yaml:"scheduler"`
	Watchlist       WatchlistConfig       `yaml:"watchlist"`
}

// WatchlistConfig names the (symbol, timeframe) pairs the Scheduler
// keeps refreshed, replacing the teacher's single collection.symbols
// list (which had no notion of timeframe) with one list per cadence.
type WatchlistConfig struct {
	Symbols    []string `yaml:"symbols"`
	Timeframes []string `yaml:"timeframes"`
}

type DatabaseConfig struct {
	Path            string        `yaml:"path"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// PriceProviderConfig configures the external collaborator consumed by
// the Outcome Tracker and Price-Series Cache (spec §6).
type PriceProviderConfig struct {
	BaseURL       string        `yaml:"base_url"`
	APIKey        string        `yaml:"api_key"`
	Timeout       time.Duration `yaml:"timeout"`
	RetryCount    int           `yaml:"retry_count"`
	RetryWaitBase time.Duration `yaml:"retry_wait_base"`
	RetryWaitCap  time.Duration `yaml:"retry_wait_cap"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// CacheConfig configures the Price-Series Cache (component A).
type CacheConfig struct {
	MaxBarsPerSeries int           `yaml:"max_bars_per_series"`
	TTLSeconds       time.Duration `yaml:"ttl_seconds"`
}

// DedupConfig configures the Signal Store's deduplication windows
// (component D). Default applies unless a per-signal-type override
// exists.
type DedupConfig struct {
	DefaultMinutes    int            `yaml:"default"`
	PerSignalTypeMins map[string]int `yaml:"per_signal_type"`
}

// Window returns the dedup window for signalType, falling back to the
// configured default.
func (d DedupConfig) Window(signalType string) time.Duration {
	if m, ok := d.PerSignalTypeMins[signalType]; ok {
		return time.Duration(m) * time.Minute
	}
	return time.Duration(d.DefaultMinutes) * time.Minute
}

// OutcomeTrackerConfig configures component E.
type OutcomeTrackerConfig struct {
	TickSeconds int `yaml:"tick_seconds"`
}

func (o OutcomeTrackerConfig) Tick() time.Duration {
	return time.Duration(o.TickSeconds) * time.Second
}

// PatternAnalyserConfig configures component F.
type PatternAnalyserConfig struct {
	WindowDays          int `yaml:"window_days"`
	SequentialGapDays   int `yaml:"sequential_gap_days"`
	ConcurrentGapMinute int `yaml:"concurrent_gap_minutes"`
}

// AlertConfig configures component G.
type AlertConfig struct {
	RateLimitPerHour int              `yaml:"rate_limit_per_hour"`
	Channels         AlertChannelsCfg `yaml:"channels"`
	Telegram         TelegramConfig   `yaml:"telegram"`
	Slack            SlackConfig      `yaml:"slack"`
	Email            EmailConfig      `yaml:"email"`
	Webhook          WebhookConfig    `yaml:"webhook"`
}

// AlertChannelsCfg is the per-severity channel routing table. The spec's
// default routing ({info,warning,error}->telegram; critical->telegram+
// slack) is applied in Load before override, so operators only need to
// set this when they want non-default routing or to opt email/webhook
// into a severity.
type AlertChannelsCfg struct {
	Info     []string `yaml:"info"`
	Warning  []string `yaml:"warning"`
	Error    []string `yaml:"error"`
	Critical []string `yaml:"critical"`
}

type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
}

type SlackConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
}

type EmailConfig struct {
	Enabled     bool   `yaml:"enabled"`
	SMTPHost    string `yaml:"smtp_host"`
	SMTPPort    int    `yaml:"smtp_port"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	FromName    string `yaml:"from_name"`
	FromAddress string `yaml:"from_address"`
	Recipients  []string `yaml:"recipients"`
}

type WebhookConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
}

// PoolConfig configures component I.
type PoolConfig struct {
	Min                int           `yaml:"min"`
	Max                int           `yaml:"max"`
	MaxOverflow        int           `yaml:"max_overflow"`
	Timeout            time.Duration `yaml:"timeout"`
	Recycle            time.Duration `yaml:"recycle"`
	AdjustmentInterval time.Duration `yaml:"adjustment_interval"`
	UtilHigh           float64       `yaml:"util_high"`
	UtilLow            float64       `yaml:"util_low"`
	Step               int           `yaml:"step"`
}

// SlowQueryConfig configures component H.
type SlowQueryConfig struct {
	ThresholdSeconds  float64       `yaml:"threshold_seconds"`
	CriticalSeconds   float64       `yaml:"critical_seconds"`
	WarningSeconds    float64       `yaml:"warning_seconds"`
	BatchSize         int           `yaml:"batch_size"`
	FlushInterval     time.Duration `yaml:"flush_interval"`
}

func (s SlowQueryConfig) Threshold() time.Duration {
	return time.Duration(s.ThresholdSeconds * float64(time.Second))
}

// SchedulerConfig configures component J.
type SchedulerConfig struct {
	MaxWorkers         int           `yaml:"max_workers"`
	ShutdownGracePeriod time.Duration `yaml:"shutdown_grace_period"`
	PatternAnalyserCron string        `yaml:"pattern_analyser_cron"`
}

// Load reads configuration from a YAML file, applies defaults, then
// overrides from environment variables, then validates.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		return nil, fmt.Errorf("config file path is required")
	}

	cfg := defaults()

	if err := loadFromYAML(cfg, configPath); err != nil {
		return nil, fmt.Errorf("failed to load config from YAML: %w", err)
	}

	loadFromEnv(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:            "./data/market_signal_core.db",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: time.Hour,
		},
		PriceProvider: PriceProviderConfig{
			Timeout:       10 * time.Second,
			RetryCount:    3,
			RetryWaitBase: 2 * time.Second,
			RetryWaitCap:  30 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
		Cache: CacheConfig{
			MaxBarsPerSeries: 400,
			TTLSeconds:       60 * time.Second,
		},
		Dedup: DedupConfig{
			DefaultMinutes: 60,
			PerSignalTypeMins: map[string]int{
				"golden_cross":      120,
				"dead_cross":        120,
				"breakout_up":       90,
				"breakout_down":     90,
			},
		},
		OutcomeTracker: OutcomeTrackerConfig{TickSeconds: 300},
		PatternAnalyser: PatternAnalyserConfig{
			WindowDays:          90,
			SequentialGapDays:   7,
			ConcurrentGapMinute: 30,
		},
		Alert: AlertConfig{
			RateLimitPerHour: 5,
			Channels: AlertChannelsCfg{
				Info:     []string{"telegram"},
				Warning:  []string{"telegram"},
				Error:    []string{"telegram"},
				Critical: []string{"telegram", "slack"},
			},
		},
		Pool: PoolConfig{
			Min:                5,
			Max:                30,
			MaxOverflow:        10,
			Timeout:            30 * time.Second,
			Recycle:            10 * time.Minute,
			AdjustmentInterval: 5 * time.Minute,
			UtilHigh:           0.8,
			UtilLow:            0.3,
			Step:               5,
		},
		SlowQuery: SlowQueryConfig{
			ThresholdSeconds: 1.0,
			CriticalSeconds:  5.0,
			WarningSeconds:   2.0,
			BatchSize:        100,
			FlushInterval:    30 * time.Second,
		},
		Scheduler: SchedulerConfig{
			MaxWorkers:          5,
			ShutdownGracePeriod: 30 * time.Second,
			PatternAnalyserCron: "30 2 * * *",
		},
		Watchlist: WatchlistConfig{
			Symbols:    []string{"AAPL", "MSFT", "GOOGL", "AMZN", "NVDA"},
			Timeframes: []string{"1m", "15m", "1d"},
		},
	}
}

func loadFromYAML(cfg *Config, configPath string) error {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return err
	}

	expanded := os.ExpandEnv(string(data))

	return yaml.Unmarshal([]byte(expanded), cfg)
}

func loadFromEnv(cfg *Config) {
	if dbPath := os.Getenv("DATABASE_PATH"); dbPath != "" {
		cfg.Database.Path = dbPath
	}

	if apiKey := os.Getenv("PRICE_PROVIDER_API_KEY"); apiKey != "" {
		cfg.PriceProvider.APIKey = apiKey
	}
	if baseURL := os.Getenv("PRICE_PROVIDER_BASE_URL"); baseURL != "" {
		cfg.PriceProvider.BaseURL = baseURL
	}

	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	if token := os.Getenv("TELEGRAM_BOT_TOKEN"); token != "" {
		cfg.Alert.Telegram.BotToken = token
		cfg.Alert.Telegram.Enabled = true
	}
	if chatID := os.Getenv("TELEGRAM_CHAT_ID"); chatID != "" {
		cfg.Alert.Telegram.ChatID = chatID
	}
	if webhook := os.Getenv("SLACK_WEBHOOK_URL"); webhook != "" {
		cfg.Alert.Slack.WebhookURL = webhook
		cfg.Alert.Slack.Enabled = true
	}

	if threshold := os.Getenv("SLOW_QUERY_THRESHOLD_SECONDS"); threshold != "" {
		if v, err := strconv.ParseFloat(threshold, 64); err == nil {
			cfg.SlowQuery.ThresholdSeconds = v
		}
	}

	if symbols := os.Getenv("DEFAULT_WATCHED_SYMBOLS"); symbols != "" {
		cfg.Watchlist.Symbols = utils.ParseSymbols(symbols)
	}
}

func validate(cfg *Config) error {
	if cfg.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}

	if cfg.Alert.Telegram.Enabled && cfg.Alert.Telegram.BotToken == "" {
		return fmt.Errorf("telegram alert channel enabled but bot_token is empty")
	}

	if cfg.Pool.Min <= 0 || cfg.Pool.Max < cfg.Pool.Min {
		return fmt.Errorf("invalid pool bounds: min=%d max=%d", cfg.Pool.Min, cfg.Pool.Max)
	}

	if cfg.SlowQuery.BatchSize <= 0 {
		return fmt.Errorf("slow_query.batch_size must be positive")
	}

	if cfg.Scheduler.MaxWorkers <= 0 {
		return fmt.Errorf("scheduler.max_workers must be positive")
	}

	return nil
}
