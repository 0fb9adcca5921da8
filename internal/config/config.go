package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"deal-reminders/internal/logging"
	"deal-reminders/internal/version"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Reminders RemindersConfig `mapstructure:"reminders"`
	Messaging MessagingConfig `mapstructure:"messaging"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// SchedulerConfig governs tick cadence and parallelism.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	Workers         int           `mapstructure:"workers"`
	TickTimeout     time.Duration `mapstructure:"tick_timeout"`
}

// RemindersConfig tunes the threshold table and deal enumeration.
type RemindersConfig struct {
	// RetentionWindow bounds candidate-deal enumeration: deals whose
	// deal_ends_at is older than now-retention are never scanned.
	RetentionWindow time.Duration `mapstructure:"retention_window"`
	// CatchupCutoff suppresses thresholds whose fire time is older than
	// the cutoff. Zero means unbounded catch-up after downtime.
	CatchupCutoff time.Duration `mapstructure:"catchup_cutoff"`
	// Offsets override the built-in threshold offsets per reminder type,
	// e.g. offsets.window_closing_1h: "2h".
	Offsets map[string]time.Duration `mapstructure:"offsets"`
}

// MessagingConfig selects and tunes the outbound sender.
type MessagingConfig struct {
	Provider  string         `mapstructure:"provider"`
	Timeout   time.Duration  `mapstructure:"timeout"`
	FromEmail string         `mapstructure:"from_email"`
	FromName  string         `mapstructure:"from_name"`
	SendGrid  SendGridConfig `mapstructure:"sendgrid"`
}

// SendGridConfig carries SendGrid API credentials.
type SendGridConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("DEALWATCHER")
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
	v.SetDefault("app.name", version.Name)
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("scheduler.interval", "10m")
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.advisory_lock_key", int64(0x6465616c))
	v.SetDefault("scheduler.workers", 4)
	v.SetDefault("scheduler.tick_timeout", "5m")

	v.SetDefault("reminders.retention_window", "720h")
	v.SetDefault("reminders.catchup_cutoff", "0s")

	v.SetDefault("messaging.provider", "log")
	v.SetDefault("messaging.timeout", "10s")
	v.SetDefault("messaging.from_email", "deals@example.com")
	v.SetDefault("messaging.from_name", "Deal Reminders")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "migrations")
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
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Scheduler.Workers <= 0 {
		return fmt.Errorf("scheduler.workers must be greater than zero")
	}
	if c.Reminders.RetentionWindow <= 0 {
		return fmt.Errorf("reminders.retention_window must be greater than zero")
	}
	if c.Reminders.CatchupCutoff < 0 {
		return fmt.Errorf("reminders.catchup_cutoff cannot be negative")
	}
	for name, offset := range c.Reminders.Offsets {
		if offset <= 0 {
			return fmt.Errorf("reminders.offsets.%s must be greater than zero", name)
		}
	}
	if c.Messaging.Timeout <= 0 {
		return fmt.Errorf("messaging.timeout must be greater than zero")
	}
	if c.Messaging.Provider == "sendgrid" {
		if c.Messaging.SendGrid.APIKey == "" {
			return fmt.Errorf("messaging.sendgrid.api_key is required for the sendgrid provider")
		}
		if c.Messaging.FromEmail == "" {
			return fmt.Errorf("messaging.from_email is required for the sendgrid provider")
		}
	}
	return nil
}
