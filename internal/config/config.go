package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"

	"tap-reputation-poller/internal/logging"
)

// Watermark backends.
const (
	BackendFile     = "file"
	BackendBolt     = "bolt"
	BackendPostgres = "postgres"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Feed      FeedConfig      `mapstructure:"feed"`
	Watermark WatermarkConfig `mapstructure:"watermark"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Output    OutputConfig    `mapstructure:"output"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// FeedConfig covers SIEM API access.
type FeedConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	Path           string        `mapstructure:"path"`
	Principal      string        `mapstructure:"principal"`
	Secret         string        `mapstructure:"secret"`
	ThreatType     string        `mapstructure:"threat_type"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// WatermarkConfig selects where the resume timestamp lives.
type WatermarkConfig struct {
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`
	Key     string `mapstructure:"key"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// SchedulerConfig governs polling cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	Cron            string        `mapstructure:"cron"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// OutputConfig lists where records go.
type OutputConfig struct {
	Stdout  bool       `mapstructure:"stdout"`
	File    string     `mapstructure:"file"`
	Archive bool       `mapstructure:"archive"`
	NATS    NATSConfig `mapstructure:"nats"`
}

// NATSConfig publishes records to a subject when URL is set.
type NATSConfig struct {
	URL     string `mapstructure:"url"`
	Subject string `mapstructure:"subject"`
}

// AlertingConfig defines which records raise notifications.
type AlertingConfig struct {
	Enabled       bool           `mapstructure:"enabled"`
	MaxTrustLevel int            `mapstructure:"max_trust_level"`
	Cooldown      time.Duration  `mapstructure:"cooldown"`
	Channels      []string       `mapstructure:"channels"`
	Telegram      TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes the Telegram channel.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// MetricsConfig exposes Prometheus metrics when ListenAddress is set.
type MetricsConfig struct {
	ListenAddress string `mapstructure:"listen_address"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TAPPOLLER")
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
	v.SetDefault("app.name", "tap-poller")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stderr")

	v.SetDefault("feed.base_url", "https://tap-api-v2.proofpoint.com")
	v.SetDefault("feed.path", "/v2/siem/all")
	v.SetDefault("feed.principal", "")
	v.SetDefault("feed.secret", "")
	v.SetDefault("feed.threat_type", "")
	v.SetDefault("feed.request_timeout", "30s")
	v.SetDefault("feed.user_agent", "tap-poller/1.0")

	v.SetDefault("watermark.backend", BackendFile)
	v.SetDefault("watermark.path", "tap-poller.json")
	v.SetDefault("watermark.key", "siem-all")

	v.SetDefault("scheduler.interval", "5m")
	v.SetDefault("scheduler.cron", "")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x74617070))
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")

	v.SetDefault("output.stdout", true)
	v.SetDefault("output.file", "")
	v.SetDefault("output.archive", false)
	v.SetDefault("output.nats.url", "")
	v.SetDefault("output.nats.subject", "tap.reputations")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.max_trust_level", 1)
	v.SetDefault("alerting.cooldown", "24h")
	v.SetDefault("alerting.channels", []string{"telegram"})
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("metrics.listen_address", "")

	v.SetDefault("export.max_data_points", 100000)
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
	switch c.Watermark.Backend {
	case BackendFile, BackendBolt:
		if c.Watermark.Path == "" {
			return fmt.Errorf("watermark.path is required for the %s backend", c.Watermark.Backend)
		}
	case BackendPostgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for the postgres watermark backend")
		}
	default:
		return fmt.Errorf("watermark.backend %q is not one of file, bolt, postgres", c.Watermark.Backend)
	}
	if c.Watermark.Backend != BackendFile && c.Watermark.Key == "" {
		return fmt.Errorf("watermark.key must not be empty")
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Scheduler.Cron != "" {
		if _, err := cron.ParseStandard(c.Scheduler.Cron); err != nil {
			return fmt.Errorf("scheduler.cron: %w", err)
		}
	}
	if c.Output.Archive && c.Database.DSN == "" {
		return fmt.Errorf("output.archive requires database.dsn")
	}
	if c.Output.NATS.URL != "" && c.Output.NATS.Subject == "" {
		return fmt.Errorf("output.nats.subject must be set when output.nats.url is")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Alerting.MaxTrustLevel < 0 || c.Alerting.MaxTrustLevel > 100 {
		return fmt.Errorf("alerting.max_trust_level must be within 0-100")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token is required")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id is required")
		}
	}
	return nil
}

// RequireFeed checks the settings needed by commands that call the SIEM API.
func (c *Config) RequireFeed() error {
	if c.Feed.Principal == "" || c.Feed.Secret == "" {
		return fmt.Errorf("feed.principal and feed.secret must be configured")
	}
	return nil
}

// WatermarkKey returns the persistence key for the configured backend: the
// document path for the file backend, the logical key otherwise.
func (c *Config) WatermarkKey() string {
	if c.Watermark.Backend == BackendFile {
		return c.Watermark.Path
	}
	return c.Watermark.Key
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
