package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Database  DatabaseConfig  `yaml:"database"`
	LogStore  LogStoreConfig  `yaml:"log_store"`
	Redis     RedisConfig     `yaml:"redis"`
	Push      PushConfig      `yaml:"push"`
	Email     EmailConfig     `yaml:"email"`
	AMQP      AMQPConfig      `yaml:"amqp"`
	Segments  SegmentsConfig  `yaml:"segments"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Worker    WorkerConfig    `yaml:"worker"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
	Path       string `yaml:"path"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type LogStoreConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Enabled bool          `yaml:"enabled"`
	URL     string        `yaml:"url"`
	TTL     time.Duration `yaml:"ttl"`
}

// PushConfig points at the mobile push gateway consumed by the push channel.
type PushConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
}

type EmailConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"` // host:port of the submission server
	From     string `yaml:"from"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type AMQPConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Queue   string `yaml:"queue"`
}

// SegmentsConfig holds the recency windows and the streak cutoff used by the
// fixed segment predicates.
type SegmentsConfig struct {
	ActiveWindowDays   int `yaml:"active_window_days"`
	InactiveWindowDays int `yaml:"inactive_window_days"`
	RelapseWindowDays  int `yaml:"relapse_window_days"`
	StreakCutoffDays   int `yaml:"streak_cutoff_days"`
}

type SchedulerConfig struct {
	OverdueGrace time.Duration `yaml:"overdue_grace"`
	StaleClaim   time.Duration `yaml:"stale_claim"`
}

type DispatchConfig struct {
	Concurrency    int           `yaml:"concurrency"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`
}

type WorkerConfig struct {
	Enabled      bool          `yaml:"enabled"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	setDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Default returns a configuration with all defaults applied, used by tests
// and by commands that can run without a config file.
func Default() *Config {
	cfg := &Config{}
	setDefaults(cfg)
	return cfg
}

func setDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Metrics.ListenAddr == "" {
		cfg.Metrics.ListenAddr = ":9090"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "/var/lib/notifier/notifier.db"
	}
	if cfg.LogStore.Path == "" {
		cfg.LogStore.Path = "/var/lib/notifier/delivery.db"
	}
	if cfg.Redis.TTL <= 0 {
		cfg.Redis.TTL = 5 * time.Minute
	}
	if cfg.AMQP.Queue == "" {
		cfg.AMQP.Queue = "notifications"
	}
	if cfg.Segments.ActiveWindowDays <= 0 {
		cfg.Segments.ActiveWindowDays = 7
	}
	if cfg.Segments.InactiveWindowDays <= 0 {
		cfg.Segments.InactiveWindowDays = 30
	}
	if cfg.Segments.RelapseWindowDays <= 0 {
		cfg.Segments.RelapseWindowDays = 3
	}
	if cfg.Segments.StreakCutoffDays <= 0 {
		cfg.Segments.StreakCutoffDays = 30
	}
	if cfg.Scheduler.OverdueGrace <= 0 {
		cfg.Scheduler.OverdueGrace = time.Hour
	}
	if cfg.Scheduler.StaleClaim <= 0 {
		cfg.Scheduler.StaleClaim = 10 * time.Minute
	}
	if cfg.Dispatch.Concurrency <= 0 {
		cfg.Dispatch.Concurrency = 5
	}
	if cfg.Dispatch.AttemptTimeout <= 0 {
		cfg.Dispatch.AttemptTimeout = 30 * time.Second
	}
	if cfg.Worker.PollInterval <= 0 {
		cfg.Worker.PollInterval = time.Minute
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}

func validate(cfg *Config) error {
	if cfg.Redis.Enabled && cfg.Redis.URL == "" {
		return fmt.Errorf("redis.url is required when redis is enabled")
	}
	if cfg.Email.Enabled {
		if cfg.Email.Addr == "" {
			return fmt.Errorf("email.addr is required when email is enabled")
		}
		if cfg.Email.From == "" {
			return fmt.Errorf("email.from is required when email is enabled")
		}
	}
	if cfg.AMQP.Enabled && cfg.AMQP.URL == "" {
		return fmt.Errorf("amqp.url is required when amqp is enabled")
	}
	if cfg.Scheduler.StaleClaim < time.Minute {
		return fmt.Errorf("scheduler.stale_claim must be at least 1m")
	}
	switch cfg.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json")
	}
	return nil
}
