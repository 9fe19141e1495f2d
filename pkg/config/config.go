package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for planwatch-engine.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords, tokens) must only come from environment variables.
type Config struct {
	// Server configuration (health and ping endpoints only)
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"3443"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// MigrationsPath is the directory holding the SQL migrations.
	MigrationsPath string `yaml:"migrations_path" env:"MIGRATIONS_PATH" env-default:"migrations"`

	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Lexicon   LexiconConfig   `yaml:"lexicon"`
	Registry  RegistryConfig  `yaml:"registry"`
	Mail      MailConfig      `yaml:"mail"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	WorkQueue WorkQueueConfig `yaml:"work_queue"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"planwatch"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"planwatch"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// RedisConfig holds the optional Redis cache configuration.
// An empty host disables caching of registry lookups.
type RedisConfig struct {
	Host     string `yaml:"host" env:"REDIS_HOST" env-default:""`
	Port     int    `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password string `yaml:"-" env:"REDIS_PASSWORD"` // Secret - not in YAML
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

// LexiconConfig points at the Icelandic lexical analysis service
// (tokenizer, lemmatizer, parser and inflection database).
type LexiconConfig struct {
	BaseURL        string `yaml:"base_url" env:"LEXICON_BASE_URL" env-default:""`
	TimeoutSeconds int    `yaml:"timeout_seconds" env:"LEXICON_TIMEOUT_SECONDS" env-default:"20"`
}

// RegistryConfig configures lookups against the public company registry.
type RegistryConfig struct {
	BaseURL        string `yaml:"base_url" env:"REGISTRY_BASE_URL" env-default:"https://www.skatturinn.is"`
	Attempts       int    `yaml:"attempts" env:"REGISTRY_ATTEMPTS" env-default:"3"`
	BackoffSeconds int    `yaml:"backoff_seconds" env:"REGISTRY_BACKOFF_SECONDS" env-default:"2"`
	TimeoutSeconds int    `yaml:"timeout_seconds" env:"REGISTRY_TIMEOUT_SECONDS" env-default:"15"`
	CacheTTLHours  int    `yaml:"cache_ttl_hours" env:"REGISTRY_CACHE_TTL_HOURS" env-default:"168"`
}

// MailConfig configures the notification transport.
type MailConfig struct {
	// Provider is "log" (write messages to the log) or "postmark".
	Provider    string `yaml:"provider" env:"MAIL_PROVIDER" env-default:"log"`
	APIURL      string `yaml:"api_url" env:"MAIL_API_URL" env-default:"https://api.postmarkapp.com"`
	From        string `yaml:"from" env:"MAIL_FROM" env-default:"planwatch@localhost"`
	ServerToken string `yaml:"-" env:"MAIL_SERVER_TOKEN"` // Secret - not in YAML
	SiteURL     string `yaml:"site_url" env:"SITE_URL" env-default:"http://localhost:3443"`
}

// SchedulerConfig holds cron specifications for the delivery batches and
// the pipeline sweep.
type SchedulerConfig struct {
	Timezone      string `yaml:"timezone" env:"SCHEDULER_TIMEZONE" env-default:"Atlantic/Reykjavik"`
	ImmediateSpec string `yaml:"immediate_spec" env:"SCHEDULER_IMMEDIATE_SPEC" env-default:"*/10 * * * *"`
	WeeklySpec    string `yaml:"weekly_spec" env:"SCHEDULER_WEEKLY_SPEC" env-default:"0 8 * * 1"`
	// SweepSpec re-queues indexing and delivery creation that was lost
	// when the process stopped with tasks still queued.
	SweepSpec        string `yaml:"sweep_spec" env:"SCHEDULER_SWEEP_SPEC" env-default:"*/30 * * * *"`
	SweepWindowHours int    `yaml:"sweep_window_hours" env:"SCHEDULER_SWEEP_WINDOW_HOURS" env-default:"24"`
}

// WorkQueueConfig controls the background task queue.
type WorkQueueConfig struct {
	Concurrency           int `yaml:"concurrency" env:"WORKQUEUE_CONCURRENCY" env-default:"4"`
	MaxRetries            int `yaml:"max_retries" env:"WORKQUEUE_MAX_RETRIES" env-default:"5"`
	InitialBackoffSeconds int `yaml:"initial_backoff_seconds" env:"WORKQUEUE_INITIAL_BACKOFF_SECONDS" env-default:"2"`
	MaxBackoffSeconds     int `yaml:"max_backoff_seconds" env:"WORKQUEUE_MAX_BACKOFF_SECONDS" env-default:"30"`
}

// Load reads configuration from config.yaml with environment variable overrides.
// The version parameter is injected at build time and set on the returned Config.
func Load(version string) (*Config, error) {
	return LoadFile("config.yaml", version)
}

// LoadFile is Load with an explicit path.
func LoadFile(path, version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if err := cleanenv.ReadConfig(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	cfg.Database.Host = ResolveHostForDocker(cfg.Database.Host)
	cfg.Redis.Host = ResolveHostForDocker(cfg.Redis.Host)
	cfg.Lexicon.BaseURL = ResolveURLForDocker(cfg.Lexicon.BaseURL)

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Registry.Attempts < 1 {
		return fmt.Errorf("registry.attempts must be at least 1")
	}
	switch c.Mail.Provider {
	case "log":
	case "postmark":
		if c.Mail.ServerToken == "" {
			return fmt.Errorf("MAIL_SERVER_TOKEN is required for the postmark provider")
		}
	default:
		return fmt.Errorf("unknown mail provider %q", c.Mail.Provider)
	}
	if c.Lexicon.BaseURL != "" {
		if _, err := url.Parse(c.Lexicon.BaseURL); err != nil {
			return fmt.Errorf("lexicon.base_url: %w", err)
		}
	}
	if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
		return fmt.Errorf("scheduler.timezone: %w", err)
	}
	return nil
}

// ConnectionString returns a PostgreSQL connection URL.
func (c *DatabaseConfig) ConnectionString() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     c.Database,
		RawQuery: "sslmode=" + c.SSLMode,
	}
	return u.String()
}

// RegistryBackoff returns the initial linear backoff for registry retries.
func (c *RegistryConfig) RegistryBackoff() time.Duration {
	return time.Duration(c.BackoffSeconds) * time.Second
}

// CacheTTL returns how long registry lookups are cached.
func (c *RegistryConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLHours) * time.Hour
}
