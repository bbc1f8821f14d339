// Package config loads the YAML configuration shared by both services.
// Values from the file are overridden by EW_-prefixed environment
// variables, e.g. EW_DATABASE_PASSWORD or EW_PROVIDERS_LLM_APIKEY.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535

	// EnvPrefix prefixes every environment override
	EnvPrefix = "EW"
)

// Queue backends
const (
	QueueBackendPostgres = "postgres"
	QueueBackendBadger   = "badger"
)

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Queue     QueueConfig     `yaml:"queue"`
	RabbitMQ  RabbitMQConfig  `yaml:"rabbitmq"`
	Logging   LoggingConfig   `yaml:"logging"`
	App       AppConfig       `yaml:"app"`
	Worker    WorkerConfig    `yaml:"worker"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Retry     RetryConfig     `yaml:"retry"`
	Recovery  RecoveryConfig  `yaml:"recovery"`
	Providers ProvidersConfig `yaml:"providers"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	URL             string        `yaml:"url"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode" validate:"omitempty,oneof=disable require verify-ca verify-full"`
	MaxOpenConns    int           `yaml:"max_open_conns" validate:"gte=0"`
	MaxIdleConns    int           `yaml:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	// EnsureSchema applies the embedded DDL on startup
	EnsureSchema bool `yaml:"ensure_schema"`
}

// QueueConfig selects and tunes the work queue
type QueueConfig struct {
	Backend      string        `yaml:"backend" validate:"omitempty,oneof=postgres badger"`
	BadgerPath   string        `yaml:"badger_path"`
	PollInterval time.Duration `yaml:"poll_interval"`
	BusyRetries  int           `yaml:"busy_retries" validate:"gte=0"`
	BusyDelay    time.Duration `yaml:"busy_delay"`
}

// RabbitMQConfig holds the event exchange settings. Events are logged
// instead of published when Enabled is false.
type RabbitMQConfig struct {
	Enabled           bool          `yaml:"enabled"`
	URL               string        `yaml:"url"`
	Host              string        `yaml:"host"`
	Port              int           `yaml:"port"`
	User              string        `yaml:"user"`
	Password          string        `yaml:"password"`
	VHost             string        `yaml:"vhost"`
	Exchange          string        `yaml:"exchange"`
	ExchangeType      string        `yaml:"exchange_type" validate:"omitempty,oneof=topic direct fanout"`
	RoutingKeyPrefix  string        `yaml:"routing_key_prefix"`
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	PublishRetries    int           `yaml:"publish_retries"`
	PublishRetryDelay time.Duration `yaml:"publish_retry_delay"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Format       string `yaml:"format" validate:"omitempty,oneof=json console"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
	TimeFormat   string `yaml:"time_format"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment" validate:"omitempty,oneof=development staging production test"`
}

// WorkerConfig holds worker service configuration
type WorkerConfig struct {
	Concurrency     ConcurrencyConfig `yaml:"concurrency"`
	PollTimeout     time.Duration     `yaml:"poll_timeout"`
	JobTimeout      time.Duration     `yaml:"job_timeout"`
	ShutdownTimeout time.Duration     `yaml:"shutdown_timeout"`
	// MaxTokens caps generated analysis length; 0 uses the provider default
	MaxTokens int `yaml:"max_tokens" validate:"gte=0"`
}

// ConcurrencyConfig is the goroutine count per queue topic. Zero falls back
// to the default.
type ConcurrencyConfig struct {
	TranscriptCheck int `yaml:"transcript_check" validate:"gte=0"`
	Analysis        int `yaml:"analysis" validate:"gte=0"`
	Email           int `yaml:"email" validate:"gte=0"`
	GroupResearch   int `yaml:"group_research" validate:"gte=0"`
}

// SchedulerConfig holds the scheduler loop cadence
type SchedulerConfig struct {
	Enabled            bool          `yaml:"enabled"`
	Tick               time.Duration `yaml:"tick"`
	SyncInterval       time.Duration `yaml:"sync_interval"`
	EnqueueInterval    time.Duration `yaml:"enqueue_interval"`
	GroupCheckInterval time.Duration `yaml:"group_check_interval"`
	EnqueueBatch       int           `yaml:"enqueue_batch" validate:"gte=0"`
	AnalysisSweep      int           `yaml:"analysis_sweep" validate:"gte=0"`
	EmailSweep         int           `yaml:"email_sweep" validate:"gte=0"`
	GroupSweep         int           `yaml:"group_sweep" validate:"gte=0"`
	ScheduleLease      time.Duration `yaml:"schedule_lease"`
	SweepLease         time.Duration `yaml:"sweep_lease"`
}

// RetryConfig holds the job backoff bounds
type RetryConfig struct {
	Base time.Duration `yaml:"base"`
	Cap  time.Duration `yaml:"cap"`
}

// RecoveryConfig holds startup recovery and lease reaper settings
type RecoveryConfig struct {
	StaleAfter    time.Duration `yaml:"stale_after"`
	ReapSchedule  string        `yaml:"reap_schedule"`
	LegacyPhrases []string      `yaml:"legacy_phrases"`
}

// ProvidersConfig holds the external collaborators
type ProvidersConfig struct {
	Transcripts TranscriptsConfig `yaml:"transcripts"`
	LLM         LLMConfig         `yaml:"llm"`
	SMTP        SMTPConfig        `yaml:"smtp"`
}

// TranscriptsConfig holds the transcript provider client settings
type TranscriptsConfig struct {
	BaseURL   string        `yaml:"base_url" validate:"omitempty,url"`
	APIKey    string        `yaml:"api_key"`
	RateLimit float64       `yaml:"rate_limit" validate:"gte=0"`
	Timeout   time.Duration `yaml:"timeout"`
}

// LLMConfig holds the text generation provider settings
type LLMConfig struct {
	Provider           string  `yaml:"provider" validate:"omitempty,oneof=anthropic gemini"`
	Model              string  `yaml:"model"`
	APIKey             string  `yaml:"api_key"`
	MaxTokens          int     `yaml:"max_tokens" validate:"gte=0"`
	ThinkingBudget     int     `yaml:"thinking_budget" validate:"gte=0"`
	InputPricePerMTok  float64 `yaml:"input_price_per_mtok" validate:"gte=0"`
	OutputPricePerMTok float64 `yaml:"output_price_per_mtok" validate:"gte=0"`
}

// SMTPConfig holds the mail transport settings
type SMTPConfig struct {
	Host     string        `yaml:"host"`
	Port     int           `yaml:"port"`
	Username string        `yaml:"username"`
	Password string        `yaml:"password"`
	From     string        `yaml:"from" validate:"omitempty,email"`
	FromName string        `yaml:"from_name"`
	Timeout  time.Duration `yaml:"timeout"`
}

// Load reads the configuration file, applies environment overrides, fills
// defaults and validates field formats
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := envconfig.Process(EnvPrefix, &config); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	config.applyDefaults()

	if err := validator.New().Struct(&config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

func (c *Config) applyDefaults() {
	setDuration(&c.Server.ShutdownTimeout, 30*time.Second)
	setString(&c.Database.SSLMode, "disable")
	setString(&c.Queue.Backend, QueueBackendPostgres)
	setString(&c.Queue.BadgerPath, "data/queue")
	setString(&c.RabbitMQ.Exchange, "earnings_watch.events")
	setString(&c.RabbitMQ.ExchangeType, "topic")
	setString(&c.Logging.Level, "info")
	setString(&c.Logging.Format, "json")
	setString(&c.App.Name, "earnings-watch")

	setInt(&c.Worker.Concurrency.TranscriptCheck, 2)
	setInt(&c.Worker.Concurrency.Analysis, 1)
	setInt(&c.Worker.Concurrency.Email, 2)
	setInt(&c.Worker.Concurrency.GroupResearch, 1)
	setDuration(&c.Worker.PollTimeout, 5*time.Second)
	setDuration(&c.Worker.JobTimeout, 10*time.Minute)
	setDuration(&c.Worker.ShutdownTimeout, 30*time.Second)

	setInt(&c.Scheduler.AnalysisSweep, 100)
	setInt(&c.Scheduler.EmailSweep, 200)
	setInt(&c.Scheduler.GroupSweep, 100)

	setDuration(&c.Retry.Base, 60*time.Second)
	setDuration(&c.Retry.Cap, time.Hour)

	setDuration(&c.Recovery.StaleAfter, 5*time.Minute)
	setString(&c.Recovery.ReapSchedule, "@every 5m")

	setString(&c.Providers.LLM.Provider, "gemini")
	setDuration(&c.Providers.Transcripts.Timeout, 30*time.Second)
	setInt(&c.Providers.SMTP.Port, 587)
}

// ValidateAPIConfig checks the settings the API service depends on
func (c *Config) ValidateAPIConfig() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if err := c.validateDatabase(); err != nil {
		return err
	}

	return c.validateQueue()
}

// ValidateWorkerConfig checks the settings the worker service depends on
func (c *Config) ValidateWorkerConfig() error {
	if err := c.validateDatabase(); err != nil {
		return err
	}

	if err := c.validateQueue(); err != nil {
		return err
	}

	concurrency := c.Worker.Concurrency
	if concurrency.TranscriptCheck+concurrency.Analysis+concurrency.Email+concurrency.GroupResearch == 0 {
		return errors.New("at least one worker topic must have concurrency greater than 0")
	}

	if c.Worker.JobTimeout <= 0 {
		return fmt.Errorf("worker job_timeout must be greater than 0")
	}

	if c.Retry.Base <= 0 || c.Retry.Cap < c.Retry.Base {
		return fmt.Errorf("retry cap (%s) must be at least retry base (%s)", c.Retry.Cap, c.Retry.Base)
	}

	if c.RabbitMQ.Enabled && c.RabbitMQ.URL == "" && c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host or url is required when events are enabled")
	}

	if concurrency.TranscriptCheck > 0 && c.Providers.Transcripts.BaseURL == "" {
		return fmt.Errorf("transcript provider base_url is required")
	}

	if concurrency.Analysis+concurrency.GroupResearch > 0 && c.Providers.LLM.APIKey == "" {
		return fmt.Errorf("llm api_key is required")
	}

	if concurrency.Email > 0 {
		if c.Providers.SMTP.Host == "" {
			return fmt.Errorf("smtp host is required")
		}
		if c.Providers.SMTP.From == "" {
			return fmt.Errorf("smtp from address is required")
		}
	}

	return nil
}

func (c *Config) validateDatabase() error {
	if c.Database.URL != "" {
		return nil
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
	}

	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	return nil
}

func (c *Config) validateQueue() error {
	if c.Queue.Backend == QueueBackendBadger && c.Queue.BadgerPath == "" {
		return fmt.Errorf("queue badger_path is required for the badger backend")
	}
	return nil
}

func setString(v *string, def string) {
	if *v == "" {
		*v = def
	}
}

func setInt(v *int, def int) {
	if *v == 0 {
		*v = def
	}
}

func setDuration(v *time.Duration, def time.Duration) {
	if *v == 0 {
		*v = def
	}
}
