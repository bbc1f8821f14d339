package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name      string
		filePath  string
		wantErr   bool
		errString string
	}{
		{
			name:     "valid config file",
			filePath: "testdata/valid_config.yaml",
			wantErr:  false,
		},
		{
			name:      "non-existent file",
			filePath:  "testdata/nonexistent.yaml",
			wantErr:   true,
			errString: "failed to read config file",
		},
		{
			name:      "malformed yaml",
			filePath:  "testdata/malformed.yaml",
			wantErr:   true,
			errString: "failed to parse config file",
		},
		{
			name:      "unknown queue backend",
			filePath:  "testdata/invalid_values.yaml",
			wantErr:   true,
			errString: "invalid config",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(tt.filePath)

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
				assert.Nil(t, cfg)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, cfg)

			assert.Equal(t, 8080, cfg.Server.Port)
			assert.Equal(t, 20*time.Second, cfg.Server.ShutdownTimeout)
			assert.Equal(t, "earnings_watch", cfg.Database.Database)
			assert.True(t, cfg.Database.EnsureSchema)
			assert.Equal(t, QueueBackendPostgres, cfg.Queue.Backend)
			assert.Equal(t, 250*time.Millisecond, cfg.Queue.PollInterval)
			assert.Equal(t, "earnings.", cfg.RabbitMQ.RoutingKeyPrefix)
			assert.Equal(t, 4, cfg.Worker.Concurrency.TranscriptCheck)
			assert.Equal(t, 5*time.Second, cfg.Scheduler.EnqueueInterval)
			assert.Equal(t, time.Hour, cfg.Retry.Cap)
			assert.Equal(t, []string{"legacy", "blocked by migration"}, cfg.Recovery.LegacyPhrases)
			assert.Equal(t, "anthropic", cfg.Providers.LLM.Provider)
			assert.Equal(t, "reports@example.com", cfg.Providers.SMTP.From)
			assert.NoError(t, cfg.ValidateWorkerConfig())
			assert.NoError(t, cfg.ValidateAPIConfig())
		})
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("testdata/minimal_config.yaml")
	require.NoError(t, err)

	assert.Equal(t, QueueBackendPostgres, cfg.Queue.Backend)
	assert.Equal(t, "disable", cfg.Database.SSLMode)
	assert.Equal(t, 2, cfg.Worker.Concurrency.TranscriptCheck)
	assert.Equal(t, 5*time.Second, cfg.Worker.PollTimeout)
	assert.Equal(t, 60*time.Second, cfg.Retry.Base)
	assert.Equal(t, 5*time.Minute, cfg.Recovery.StaleAfter)
	assert.Equal(t, "@every 5m", cfg.Recovery.ReapSchedule)
	assert.Equal(t, "gemini", cfg.Providers.LLM.Provider)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.NoError(t, cfg.ValidateAPIConfig())
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("EW_DATABASE_PASSWORD", "from-env")
	t.Setenv("EW_PROVIDERS_LLM_APIKEY", "env-llm-key")
	t.Setenv("EW_WORKER_CONCURRENCY_ANALYSIS", "7")
	t.Setenv("EW_RECOVERY_LEGACYPHRASES", "parked,old pipeline")

	cfg, err := Load("testdata/valid_config.yaml")
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Database.Password)
	assert.Equal(t, "env-llm-key", cfg.Providers.LLM.APIKey)
	assert.Equal(t, 7, cfg.Worker.Concurrency.Analysis)
	assert.Equal(t, []string{"parked", "old pipeline"}, cfg.Recovery.LegacyPhrases)
	// untouched values keep the file's setting
	assert.Equal(t, "localhost", cfg.Database.Host)
}

func validWorkerConfig() *Config {
	cfg := &Config{
		Server: ServerConfig{Port: 8080},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			Database: "earnings_watch",
		},
		Worker: WorkerConfig{
			Concurrency: ConcurrencyConfig{TranscriptCheck: 1, Analysis: 1, Email: 1, GroupResearch: 1},
			JobTimeout:  time.Minute,
		},
		Retry: RetryConfig{Base: time.Minute, Cap: time.Hour},
		Providers: ProvidersConfig{
			Transcripts: TranscriptsConfig{BaseURL: "https://transcripts.example.com"},
			LLM:         LLMConfig{APIKey: "key"},
			SMTP:        SMTPConfig{Host: "smtp.example.com", From: "reports@example.com"},
		},
	}
	cfg.applyDefaults()
	return cfg
}

func TestConfig_ValidateAPIConfig(t *testing.T) {
	tests := []struct {
		name      string
		modify    func(*Config)
		wantErr   bool
		errString string
	}{
		{
			name:    "valid config",
			modify:  func(*Config) {},
			wantErr: false,
		},
		{
			name:      "invalid server port",
			modify:    func(c *Config) { c.Server.Port = 70000 },
			wantErr:   true,
			errString: "invalid server port",
		},
		{
			name:      "missing database host",
			modify:    func(c *Config) { c.Database.Host = "" },
			wantErr:   true,
			errString: "database host is required",
		},
		{
			name: "url replaces discrete database fields",
			modify: func(c *Config) {
				c.Database = DatabaseConfig{URL: "postgres://localhost/earnings_watch"}
			},
			wantErr: false,
		},
		{
			name:      "missing database name",
			modify:    func(c *Config) { c.Database.Database = "" },
			wantErr:   true,
			errString: "database name is required",
		},
		{
			name: "badger without path",
			modify: func(c *Config) {
				c.Queue.Backend = QueueBackendBadger
				c.Queue.BadgerPath = ""
			},
			wantErr:   true,
			errString: "badger_path is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validWorkerConfig()
			tt.modify(cfg)

			err := cfg.ValidateAPIConfig()
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfig_ValidateWorkerConfig(t *testing.T) {
	tests := []struct {
		name      string
		modify    func(*Config)
		wantErr   bool
		errString string
	}{
		{
			name:    "valid config",
			modify:  func(*Config) {},
			wantErr: false,
		},
		{
			name:      "no topic enabled",
			modify:    func(c *Config) { c.Worker.Concurrency = ConcurrencyConfig{} },
			wantErr:   true,
			errString: "at least one worker topic",
		},
		{
			name:      "non-positive job timeout",
			modify:    func(c *Config) { c.Worker.JobTimeout = 0 },
			wantErr:   true,
			errString: "job_timeout must be greater than 0",
		},
		{
			name:      "retry cap below base",
			modify:    func(c *Config) { c.Retry.Cap = time.Second },
			wantErr:   true,
			errString: "retry cap",
		},
		{
			name:      "rabbitmq enabled without host",
			modify:    func(c *Config) { c.RabbitMQ.Enabled = true },
			wantErr:   true,
			errString: "rabbitmq host or url is required",
		},
		{
			name:      "missing transcript provider",
			modify:    func(c *Config) { c.Providers.Transcripts.BaseURL = "" },
			wantErr:   true,
			errString: "transcript provider base_url is required",
		},
		{
			name: "llm key not needed without generation workers",
			modify: func(c *Config) {
				c.Worker.Concurrency.Analysis = 0
				c.Worker.Concurrency.GroupResearch = 0
				c.Providers.LLM.APIKey = ""
			},
			wantErr: false,
		},
		{
			name:      "missing llm key",
			modify:    func(c *Config) { c.Providers.LLM.APIKey = "" },
			wantErr:   true,
			errString: "llm api_key is required",
		},
		{
			name:      "missing smtp from",
			modify:    func(c *Config) { c.Providers.SMTP.From = "" },
			wantErr:   true,
			errString: "smtp from address is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validWorkerConfig()
			tt.modify(cfg)

			err := cfg.ValidateWorkerConfig()
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
