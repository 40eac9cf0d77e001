package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"xalpha/internal/logging"
	"xalpha/internal/model"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Sources   SourcesConfig   `mapstructure:"sources"`
	Collector CollectorConfig `mapstructure:"collector"`
	Analyzer  AnalyzerConfig  `mapstructure:"analyzer"`
	Dedup     DedupConfig     `mapstructure:"dedup"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	API       APIConfig       `mapstructure:"api"`
	Export    ExportConfig    `mapstructure:"export"`

	// Roster is resolved from Sources after loading.
	Roster []model.Source `mapstructure:"-"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig selects and tunes the signal store.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// SchedulerConfig governs polling cadence.
type SchedulerConfig struct {
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
}

// SourcesConfig locates the monitored roster.
type SourcesConfig struct {
	File  string   `mapstructure:"file"`
	Extra []string `mapstructure:"extra"`
}

// CollectorConfig covers timeline retrieval.
type CollectorConfig struct {
	PrimaryBaseURL  string        `mapstructure:"primary_base_url"`
	MirrorInstances []string      `mapstructure:"mirror_instances"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	MaxRetries      int           `mapstructure:"max_retries"`
	RetryDelay      time.Duration `mapstructure:"retry_delay"`
	MinDelay        time.Duration `mapstructure:"min_delay"`
	MaxDelay        time.Duration `mapstructure:"max_delay"`
	BackoffBase     time.Duration `mapstructure:"backoff_base"`
	BackoffMax      time.Duration `mapstructure:"backoff_max"`
	BackoffJitter   time.Duration `mapstructure:"backoff_jitter"`
	Cookies         string        `mapstructure:"cookies"`
	UserAgents      []string      `mapstructure:"user_agents"`
}

// AnalyzerConfig captures the chat completion endpoint.
type AnalyzerConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	APIKey            string        `mapstructure:"api_key"`
	Model             string        `mapstructure:"model"`
	Timeout           time.Duration `mapstructure:"timeout"`
	MaxRetries        int           `mapstructure:"max_retries"`
	RetryDelay        time.Duration `mapstructure:"retry_delay"`
	Concurrency       int           `mapstructure:"concurrency"`
	MinContentLength  int           `mapstructure:"min_content_length"`
	Temperature       float64       `mapstructure:"temperature"`
	MaxTokens         int           `mapstructure:"max_tokens"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
}

// DedupConfig controls the seen ledger.
type DedupConfig struct {
	RememberIrrelevant bool `mapstructure:"remember_irrelevant"`
}

// AlertingConfig defines which new signals are pushed and where.
type AlertingConfig struct {
	Enabled      bool           `mapstructure:"enabled"`
	SignalTypes  []string       `mapstructure:"signal_types"`
	MinSentiment int            `mapstructure:"min_sentiment"`
	Telegram     TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// APIConfig configures the read-only query server.
type APIConfig struct {
	Addr      string `mapstructure:"addr"`
	SecretKey string `mapstructure:"secret_key"`
	Metrics   bool   `mapstructure:"metrics"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxRows int `mapstructure:"max_rows"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("XALPHA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	roster, err := LoadRoster(cfg.Sources)
	if err != nil {
		return nil, err
	}
	cfg.Roster = roster

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "xalpha")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "data/x_alpha.db")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("scheduler.poll_interval", "15m")
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.advisory_lock_key", int64(0x78616c70))

	v.SetDefault("sources.file", "")
	v.SetDefault("sources.extra", []string{})

	v.SetDefault("collector.primary_base_url", "https://syndication.twitter.com")
	v.SetDefault("collector.mirror_instances", []string{
		"https://nitter.net",
		"https://nitter.cz",
		"https://nitter.privacydev.net",
		"https://nitter.poast.org",
		"https://nitter.x86-64-unknown-linux-gnu.zip",
	})
	v.SetDefault("collector.request_timeout", "60s")
	v.SetDefault("collector.max_retries", 3)
	v.SetDefault("collector.retry_delay", "10s")
	v.SetDefault("collector.min_delay", "8s")
	v.SetDefault("collector.max_delay", "15s")
	v.SetDefault("collector.backoff_base", "60s")
	v.SetDefault("collector.backoff_max", "180s")
	v.SetDefault("collector.backoff_jitter", "10s")
	v.SetDefault("collector.cookies", "")

	v.SetDefault("analyzer.base_url", "https://api.deepseek.com")
	v.SetDefault("analyzer.model", "deepseek-chat")
	v.SetDefault("analyzer.timeout", "60s")
	v.SetDefault("analyzer.max_retries", 3)
	v.SetDefault("analyzer.retry_delay", "2s")
	v.SetDefault("analyzer.concurrency", 3)
	v.SetDefault("analyzer.min_content_length", 5)
	v.SetDefault("analyzer.temperature", 0.3)
	v.SetDefault("analyzer.max_tokens", 500)
	v.SetDefault("analyzer.requests_per_second", 0.0)

	v.SetDefault("dedup.remember_irrelevant", true)

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.signal_types", []string{"BUY", "SELL"})
	v.SetDefault("alerting.min_sentiment", 0)
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("api.addr", ":8002")
	v.SetDefault("api.secret_key", "")
	v.SetDefault("api.metrics", true)

	v.SetDefault("export.max_rows", 10000)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Database.Driver) {
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("database.driver must be postgres or sqlite, got %q", c.Database.Driver)
	}
	if c.Scheduler.PollInterval <= 0 {
		return fmt.Errorf("scheduler.poll_interval must be greater than zero")
	}
	if c.Collector.MaxRetries <= 0 {
		return fmt.Errorf("collector.max_retries must be greater than zero")
	}
	if c.Collector.MinDelay < 0 || c.Collector.MaxDelay < c.Collector.MinDelay {
		return fmt.Errorf("collector.min_delay/max_delay must satisfy 0 <= min <= max")
	}
	if c.Collector.BackoffBase <= 0 || c.Collector.BackoffMax < c.Collector.BackoffBase {
		return fmt.Errorf("collector.backoff_base must be positive and not exceed collector.backoff_max")
	}
	if c.Analyzer.MaxRetries <= 0 {
		return fmt.Errorf("analyzer.max_retries must be greater than zero")
	}
	if c.Analyzer.Concurrency <= 0 {
		return fmt.Errorf("analyzer.concurrency must be greater than zero")
	}
	if c.Analyzer.RequestsPerSecond < 0 {
		return fmt.Errorf("analyzer.requests_per_second cannot be negative")
	}
	if c.Export.MaxRows <= 0 {
		return fmt.Errorf("export.max_rows must be greater than zero")
	}
	for _, st := range c.Alerting.SignalTypes {
		if _, ok := model.ParseSignalType(st); !ok {
			return fmt.Errorf("alerting.signal_types contains unknown type %q", st)
		}
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token 必须配置")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id 必须配置")
		}
	}
	return nil
}

// ResolveMaxRows returns either the CLI override or config default.
func (c *Config) ResolveMaxRows(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxRows
}
