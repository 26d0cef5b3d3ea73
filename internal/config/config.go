package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Delivery DeliveryConfig `mapstructure:"delivery"`
	SSRF     SSRFConfig     `mapstructure:"ssrf"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type StorageConfig struct {
	Driver   string         `mapstructure:"driver"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

type PostgresConfig struct {
	DSN string `mapstructure:"dsn"`
}

type DeliveryConfig struct {
	Workers          int             `mapstructure:"workers"`
	Timeout          time.Duration   `mapstructure:"timeout"`
	MaxRetries       int             `mapstructure:"max_retries"`
	RetrySchedule    []time.Duration `mapstructure:"retry_schedule"`
	PollInterval     time.Duration   `mapstructure:"poll_interval"`
	StaleAfter       time.Duration   `mapstructure:"stale_after"`
	MaxResponseBytes int64           `mapstructure:"max_response_bytes"`
	UserAgent        string          `mapstructure:"user_agent"`
}

type SSRFConfig struct {
	AllowedIPs   []string `mapstructure:"allowed_ips"`
	AllowedHosts []string `mapstructure:"allowed_hosts"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads the config file at path, or formhook.yaml from the working
// directory and /etc/formhook, with FORMHOOK_* environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("formhook")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/formhook")
	}

	setDefaults(v)

	v.SetEnvPrefix("FORMHOOK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	cfg.Delivery.RetrySchedule = NormalizeSchedule(cfg.Delivery.RetrySchedule)
	if cfg.Delivery.MaxRetries < 0 {
		cfg.Delivery.MaxRetries = 0
	}
	if cfg.Delivery.Workers < 1 {
		cfg.Delivery.Workers = 1
	}
	return &cfg, nil
}

// NormalizeSchedule makes the retry delays monotonically non-decreasing by
// raising any delay shorter than the one before it.
func NormalizeSchedule(schedule []time.Duration) []time.Duration {
	out := make([]time.Duration, 0, len(schedule))
	var prev time.Duration
	for _, d := range schedule {
		if d < prev {
			d = prev
		}
		out = append(out, d)
		prev = d
	}
	return out
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)

	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.sqlite.path", "./data/formhook.db")
	v.SetDefault("storage.postgres.dsn", "")

	v.SetDefault("delivery.workers", 20)
	v.SetDefault("delivery.timeout", 30*time.Second)
	v.SetDefault("delivery.max_retries", 3)
	v.SetDefault("delivery.retry_schedule", []time.Duration{
		1 * time.Minute,
		10 * time.Minute,
		100 * time.Minute,
	})
	v.SetDefault("delivery.poll_interval", 5*time.Second)
	v.SetDefault("delivery.stale_after", 10*time.Minute)
	v.SetDefault("delivery.max_response_bytes", 64*1024)
	v.SetDefault("delivery.user_agent", "Formhook/1.0")

	v.SetDefault("ssrf.allowed_ips", []string{})
	v.SetDefault("ssrf.allowed_hosts", []string{})

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}
