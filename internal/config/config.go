// Package config provides configuration management for the interaction discovery service.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// SSL mode constants for database connections.
const (
	// SSLModeDisable disables SSL (use only for local development).
	SSLModeDisable = "disable"
	// SSLModeRequire requires SSL but does not verify certificates.
	SSLModeRequire = "require"
	// SSLModeVerifyCA verifies the server certificate against a CA.
	SSLModeVerifyCA = "verify-ca"
	// SSLModeVerifyFull verifies the server certificate and hostname.
	SSLModeVerifyFull = "verify-full"
)

// Config holds all configuration for the interaction discovery service.
type Config struct {
	// Server contains HTTP server settings.
	Server ServerConfig `mapstructure:"server"`
	// Database contains PostgreSQL connection settings.
	Database DatabaseConfig `mapstructure:"database"`
	// Logging contains structured logging settings.
	Logging LoggingConfig `mapstructure:"logging"`
	// Metrics contains Prometheus metrics exposure settings.
	Metrics MetricsConfig `mapstructure:"metrics"`
	// LLM contains LLM client settings for query composition, relevance
	// classification and interaction extraction.
	LLM LLMConfig `mapstructure:"llm"`
	// Kafka contains Kafka publisher settings for the outbox pattern.
	Kafka KafkaConfig `mapstructure:"kafka"`
	// Outbox contains outbox dispatcher settings.
	Outbox OutboxConfig `mapstructure:"outbox"`
	// PubMed contains PubMed E-utilities API settings.
	PubMed PubMedConfig `mapstructure:"pubmed"`
	// FullText contains full-text acquisition settings (Unpaywall, unlocker
	// proxy, direct download, PDF-to-text conversion).
	FullText FullTextConfig `mapstructure:"fulltext"`
	// Discovery contains discovery run settings (budgets, limits, polling).
	Discovery DiscoveryConfig `mapstructure:"discovery"`
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	// Host is the address to bind the server to (default: 0.0.0.0).
	Host string `mapstructure:"host"`
	// HTTPPort is the HTTP server port (default: 8080).
	HTTPPort int `mapstructure:"http_port"`
	// MetricsPort is the metrics server port (default: 9091).
	MetricsPort int `mapstructure:"metrics_port"`
	// ReadTimeout is the maximum duration for reading request body.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout is the maximum duration for writing response.
	// Streaming endpoints override this with per-connection deadlines.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	// Host is the PostgreSQL server hostname.
	Host string `mapstructure:"host"`
	// Port is the PostgreSQL server port (default: 5432).
	Port int `mapstructure:"port"`
	// User is the database username.
	User string `mapstructure:"user"`
	// Password is the database password (use environment variable in production).
	Password string `mapstructure:"password"`
	// Name is the database name.
	Name string `mapstructure:"name"`
	// SSLMode controls SSL connection security (require, verify-ca, verify-full, disable).
	// Default is "require" for production security. Use "disable" only for local development.
	SSLMode string `mapstructure:"ssl_mode"`
	// MaxConns is the maximum number of connections in the pool (default: 25).
	MaxConns int32 `mapstructure:"max_conns"`
	// MinConns is the minimum number of connections to keep open (default: 5).
	MinConns int32 `mapstructure:"min_conns"`
	// MaxConnLifetime is the maximum lifetime of a connection before it's closed.
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	// MaxConnIdleTime is the maximum time a connection can be idle before it's closed.
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	// HealthCheckPeriod is the interval between health checks of idle connections.
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
	// ConnectTimeout is the maximum time to wait for a connection.
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	// MigrationPath is the path to migration files (relative or absolute).
	MigrationPath string `mapstructure:"migration_path"`
	// MigrationAutoRun enables automatic migration on startup (default: false).
	MigrationAutoRun bool `mapstructure:"migration_auto_run"`
	// StatementCacheCapacity is the size of the prepared statement cache.
	StatementCacheCapacity int `mapstructure:"statement_cache_capacity"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the log level (trace, debug, info, warn, error, fatal, panic).
	Level string `mapstructure:"level"`
	// Format is the log format (json, console).
	Format string `mapstructure:"format"`
	// Output is the log output destination (stdout, stderr, file path).
	Output string `mapstructure:"output"`
	// AddSource adds source file and line to log output.
	AddSource bool `mapstructure:"add_source"`
	// TimeFormat is the timestamp format.
	TimeFormat string `mapstructure:"time_format"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	// Enabled enables metrics collection and exposure.
	Enabled bool `mapstructure:"enabled"`
	// Path is the HTTP path for metrics endpoint.
	Path string `mapstructure:"path"`
}

// LLMConfig holds LLM client configuration.
type LLMConfig struct {
	// Provider is the LLM provider (openai, anthropic).
	Provider string `mapstructure:"provider"`
	// Timeout is the timeout for LLM API calls. Extraction calls carry full
	// paper text, so this is generous by default.
	Timeout time.Duration `mapstructure:"timeout"`
	// MaxRetries is the maximum number of retries for failed calls.
	MaxRetries int `mapstructure:"max_retries"`
	// RetryDelay is the base delay between retries.
	RetryDelay time.Duration `mapstructure:"retry_delay"`
	// Temperature is the LLM temperature setting.
	Temperature float64 `mapstructure:"temperature"`
	// MaxTokens is the maximum number of tokens the model may generate per call.
	MaxTokens int `mapstructure:"max_tokens"`
	// OpenAI contains OpenAI-specific settings.
	OpenAI OpenAIConfig `mapstructure:"openai"`
	// Anthropic contains Anthropic-specific settings.
	Anthropic AnthropicConfig `mapstructure:"anthropic"`
}

// OpenAIConfig holds OpenAI-specific settings.
type OpenAIConfig struct {
	// APIKey is the OpenAI API key (loaded from DISCOVERY_LLM_OPENAI_API_KEY env var).
	APIKey string `mapstructure:"-"`
	// Model is the OpenAI model to use.
	Model string `mapstructure:"model"`
	// BaseURL is the OpenAI API base URL (for custom endpoints).
	BaseURL string `mapstructure:"base_url"`
}

// AnthropicConfig holds Anthropic-specific settings.
type AnthropicConfig struct {
	// APIKey is the Anthropic API key (loaded from DISCOVERY_LLM_ANTHROPIC_API_KEY env var).
	APIKey string `mapstructure:"-"`
	// Model is the Anthropic model to use.
	Model string `mapstructure:"model"`
	// BaseURL is the Anthropic API base URL (for custom endpoints).
	BaseURL string `mapstructure:"base_url"`
}

// KafkaConfig holds Kafka publisher settings for the outbox pattern.
type KafkaConfig struct {
	// Enabled controls whether Kafka publishing is active.
	Enabled bool `mapstructure:"enabled"`
	// Brokers is the list of Kafka broker addresses.
	Brokers []string `mapstructure:"brokers"`
	// Topic is the Kafka topic to publish outbox events to.
	Topic string `mapstructure:"topic"`
	// BatchSize is the maximum number of messages to batch before sending.
	BatchSize int `mapstructure:"batch_size"`
	// BatchTimeout is the maximum time to wait for a batch to fill before sending.
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
}

// OutboxConfig holds outbox dispatcher settings.
type OutboxConfig struct {
	// PollInterval is how often the dispatcher polls for unpublished events.
	PollInterval time.Duration `mapstructure:"poll_interval"`
	// BatchSize is the number of events to publish per batch.
	BatchSize int `mapstructure:"batch_size"`
}

// PubMedConfig holds PubMed E-utilities API settings.
type PubMedConfig struct {
	// BaseURL is the E-utilities base URL.
	BaseURL string `mapstructure:"base_url"`
	// APIKey is the NCBI API key (loaded from DISCOVERY_PUBMED_API_KEY env var).
	// Optional; raises the allowed request rate from 3 to 10 req/sec.
	APIKey string `mapstructure:"-"`
	// Email identifies the caller to NCBI as required by their usage policy.
	Email string `mapstructure:"email"`
	// Tool identifies the calling application to NCBI.
	Tool string `mapstructure:"tool"`
	// SearchTimeout is the timeout for esearch calls.
	SearchTimeout time.Duration `mapstructure:"search_timeout"`
	// FetchTimeout is the timeout for efetch calls (larger payloads).
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"`
	// RateLimit is the maximum requests per second.
	RateLimit float64 `mapstructure:"rate_limit"`
	// MaxResults is the maximum results per query.
	MaxResults int `mapstructure:"max_results"`
}

// FullTextConfig holds full-text acquisition settings.
type FullTextConfig struct {
	// UnpaywallBaseURL is the Unpaywall API base URL.
	UnpaywallBaseURL string `mapstructure:"unpaywall_base_url"`
	// UnpaywallEmail identifies the caller to Unpaywall as required by their usage policy.
	UnpaywallEmail string `mapstructure:"unpaywall_email"`
	// UnpaywallTimeout is the timeout for Unpaywall lookups.
	UnpaywallTimeout time.Duration `mapstructure:"unpaywall_timeout"`
	// ProxyBaseURL is the web unlocker proxy request endpoint.
	ProxyBaseURL string `mapstructure:"proxy_base_url"`
	// ProxyZone is the unlocker zone name sent with proxy requests.
	ProxyZone string `mapstructure:"proxy_zone"`
	// ProxyAPIKey is the unlocker API key (loaded from DISCOVERY_FULLTEXT_PROXY_API_KEY env var).
	// When empty the proxy stage is skipped entirely.
	ProxyAPIKey string `mapstructure:"-"`
	// ProxyTimeout is the timeout for proxied downloads.
	ProxyTimeout time.Duration `mapstructure:"proxy_timeout"`
	// DirectTimeout is the timeout for direct downloads.
	DirectTimeout time.Duration `mapstructure:"direct_timeout"`
	// MaxDownloadSize is the maximum PDF size in bytes.
	MaxDownloadSize int64 `mapstructure:"max_download_size"`
	// ArtifactDir is the directory where downloaded PDFs are written.
	ArtifactDir string `mapstructure:"artifact_dir"`
	// KeepArtifacts retains downloaded PDFs after conversion (default: false).
	KeepArtifacts bool `mapstructure:"keep_artifacts"`
	// ConverterCommand is the external PDF-to-text converter binary.
	ConverterCommand string `mapstructure:"converter_command"`
	// ConverterTimeout is the maximum duration for a single conversion.
	ConverterTimeout time.Duration `mapstructure:"converter_timeout"`
	// AllowPrivateNetworks disables the downloader's SSRF private-IP checks so
	// mock backends on localhost can serve PDFs. Test environments only; must
	// stay false in production.
	AllowPrivateNetworks bool `mapstructure:"allow_private_networks"`
}

// DiscoveryConfig holds discovery run settings.
type DiscoveryConfig struct {
	// DefaultTargetCount is the accepted-interaction target used when a job
	// request omits one.
	DefaultTargetCount int `mapstructure:"default_target_count"`
	// MaxTargetCount is the upper bound on the per-job target.
	MaxTargetCount int `mapstructure:"max_target_count"`
	// StepBudget is the maximum number of state transitions per run.
	StepBudget int `mapstructure:"step_budget"`
	// MaxQueries is the maximum number of distinct search queries per run.
	MaxQueries int `mapstructure:"max_queries"`
	// MaxExtractionIterations is the per-paper cap on extraction loop turns.
	MaxExtractionIterations int `mapstructure:"max_extraction_iterations"`
	// TextBudget is the maximum number of full-text characters sent to the
	// extraction model per paper.
	TextBudget int `mapstructure:"text_budget"`
	// CancelPollInterval is how often a running job re-reads its cancel flag.
	CancelPollInterval time.Duration `mapstructure:"cancel_poll_interval"`
	// MaxConcurrentJobs is the maximum number of jobs running at once.
	MaxConcurrentJobs int `mapstructure:"max_concurrent_jobs"`
	// StuckJobTimeout is how long a running job may go without progress
	// before the admin fix-stuck-jobs command considers it dead.
	StuckJobTimeout time.Duration `mapstructure:"stuck_job_timeout"`
}

// DSN returns the PostgreSQL connection string.
func (c *DatabaseConfig) DSN() string {
	params := url.Values{}
	params.Set("sslmode", c.SSLMode)
	if c.ConnectTimeout > 0 {
		params.Set("connect_timeout", fmt.Sprintf("%d", int(c.ConnectTimeout.Seconds())))
	}
	if c.StatementCacheCapacity > 0 {
		params.Set("statement_cache_capacity", fmt.Sprintf("%d", c.StatementCacheCapacity))
	}

	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?%s",
		url.QueryEscape(c.User),
		url.QueryEscape(c.Password),
		c.Host,
		c.Port,
		c.Name,
		params.Encode(),
	)
}

// HTTPAddress returns the HTTP server address.
func (c *ServerConfig) HTTPAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.HTTPPort)
}

// MetricsAddress returns the metrics server address.
func (c *ServerConfig) MetricsAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.MetricsPort)
}

// Load loads configuration from environment variables and config files.
func Load() (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Read from environment variables
	v.SetEnvPrefix("DISCOVERY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file if present
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/interaction-discovery-service")

	if err := v.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK, we'll use env vars and defaults
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Load secrets exclusively from environment variables.
	// These fields use mapstructure:"-" to prevent loading from config files.
	loadSecrets(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// loadSecrets populates secret fields exclusively from environment variables.
// These fields are tagged with mapstructure:"-" to prevent loading from config files.
func loadSecrets(cfg *Config) {
	// LLM provider API keys.
	cfg.LLM.OpenAI.APIKey = os.Getenv("DISCOVERY_LLM_OPENAI_API_KEY")
	cfg.LLM.Anthropic.APIKey = os.Getenv("DISCOVERY_LLM_ANTHROPIC_API_KEY")

	// External service API keys.
	cfg.PubMed.APIKey = os.Getenv("DISCOVERY_PUBMED_API_KEY")
	cfg.FullText.ProxyAPIKey = os.Getenv("DISCOVERY_FULLTEXT_PROXY_API_KEY")
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.metrics_port", 9091)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "discovery")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "interaction_discovery_service")
	// Default to "require" for production security. Use DISCOVERY_DATABASE_SSL_MODE=disable for local development.
	v.SetDefault("database.ssl_mode", SSLModeRequire)
	v.SetDefault("database.max_conns", 25)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")
	v.SetDefault("database.health_check_period", "30s")
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.migration_path", "migrations")
	v.SetDefault("database.migration_auto_run", false)
	v.SetDefault("database.statement_cache_capacity", 512)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	// LLM defaults
	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.timeout", "120s")
	v.SetDefault("llm.max_retries", 3)
	v.SetDefault("llm.retry_delay", "2s")
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.max_tokens", 4096)
	// API keys are loaded exclusively from environment variables (see loadSecrets).
	v.SetDefault("llm.openai.model", "gpt-4-turbo")
	v.SetDefault("llm.openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.anthropic.model", "claude-3-sonnet-20240229")
	v.SetDefault("llm.anthropic.base_url", "https://api.anthropic.com")

	// Kafka defaults
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "events.outbox.interaction_discovery_service")
	v.SetDefault("kafka.batch_size", 100)
	v.SetDefault("kafka.batch_timeout", "10ms")

	// Outbox dispatcher defaults
	v.SetDefault("outbox.poll_interval", "1s")
	v.SetDefault("outbox.batch_size", 100)

	// PubMed defaults
	v.SetDefault("pubmed.base_url", "https://eutils.ncbi.nlm.nih.gov/entrez/eutils")
	v.SetDefault("pubmed.email", "dev@helixir.io")
	v.SetDefault("pubmed.tool", "interaction-discovery-service")
	v.SetDefault("pubmed.search_timeout", "30s")
	v.SetDefault("pubmed.fetch_timeout", "60s")
	v.SetDefault("pubmed.rate_limit", 3.0) // NCBI recommends max 3 req/sec without API key
	v.SetDefault("pubmed.max_results", 100)

	// Full-text acquisition defaults
	v.SetDefault("fulltext.unpaywall_base_url", "https://api.unpaywall.org/v2")
	v.SetDefault("fulltext.unpaywall_email", "dev@helixir.io")
	v.SetDefault("fulltext.unpaywall_timeout", "15s")
	v.SetDefault("fulltext.proxy_base_url", "https://api.brightdata.com/request")
	v.SetDefault("fulltext.proxy_zone", "web_unlocker1")
	v.SetDefault("fulltext.proxy_timeout", "60s")
	v.SetDefault("fulltext.direct_timeout", "30s")
	v.SetDefault("fulltext.max_download_size", 52428800) // 50 MB
	v.SetDefault("fulltext.artifact_dir", "/tmp/discovery-pdfs")
	v.SetDefault("fulltext.keep_artifacts", false)
	v.SetDefault("fulltext.converter_command", "pdftotext")
	v.SetDefault("fulltext.converter_timeout", "60s")
	v.SetDefault("fulltext.allow_private_networks", false)

	// Discovery run defaults
	v.SetDefault("discovery.default_target_count", 5)
	v.SetDefault("discovery.max_target_count", 100)
	v.SetDefault("discovery.step_budget", 400)
	v.SetDefault("discovery.max_queries", 25)
	v.SetDefault("discovery.max_extraction_iterations", 20)
	v.SetDefault("discovery.text_budget", 400000)
	v.SetDefault("discovery.cancel_poll_interval", "2s")
	v.SetDefault("discovery.max_concurrent_jobs", 4)
	v.SetDefault("discovery.stuck_job_timeout", "2h")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	// Validate server ports
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.Server.HTTPPort)
	}
	if c.Server.MetricsPort <= 0 || c.Server.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", c.Server.MetricsPort)
	}

	// Validate database config
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		return fmt.Errorf("invalid database port: %d", c.Database.Port)
	}
	if c.Database.Name == "" {
		return fmt.Errorf("database name is required")
	}
	if c.Database.MaxConns < c.Database.MinConns {
		return fmt.Errorf("max_conns (%d) must be >= min_conns (%d)", c.Database.MaxConns, c.Database.MinConns)
	}

	// Validate log level
	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	// Validate that the configured LLM provider has its required API key set.
	switch strings.ToLower(c.LLM.Provider) {
	case "openai":
		if c.LLM.OpenAI.APIKey == "" {
			return fmt.Errorf("LLM provider %q requires DISCOVERY_LLM_OPENAI_API_KEY to be set", c.LLM.Provider)
		}
	case "anthropic":
		if c.LLM.Anthropic.APIKey == "" {
			return fmt.Errorf("LLM provider %q requires DISCOVERY_LLM_ANTHROPIC_API_KEY to be set", c.LLM.Provider)
		}
	default:
		return fmt.Errorf("unsupported LLM provider: %s", c.LLM.Provider)
	}

	// Validate PubMed config
	if c.PubMed.Email == "" {
		return fmt.Errorf("pubmed email is required by NCBI usage policy")
	}
	if c.PubMed.RateLimit <= 0 {
		return fmt.Errorf("pubmed rate_limit must be positive")
	}
	if c.PubMed.MaxResults <= 0 {
		return fmt.Errorf("pubmed max_results must be positive")
	}

	// Validate full-text config
	if c.FullText.UnpaywallEmail == "" {
		return fmt.Errorf("fulltext unpaywall_email is required by Unpaywall usage policy")
	}
	if c.FullText.MaxDownloadSize <= 0 {
		return fmt.Errorf("fulltext max_download_size must be positive")
	}
	if c.FullText.ConverterCommand == "" {
		return fmt.Errorf("fulltext converter_command is required")
	}

	// Validate discovery run config
	if c.Discovery.DefaultTargetCount <= 0 {
		return fmt.Errorf("discovery default_target_count must be positive")
	}
	if c.Discovery.MaxTargetCount < c.Discovery.DefaultTargetCount {
		return fmt.Errorf("discovery max_target_count (%d) must be >= default_target_count (%d)",
			c.Discovery.MaxTargetCount, c.Discovery.DefaultTargetCount)
	}
	if c.Discovery.StepBudget <= 0 {
		return fmt.Errorf("discovery step_budget must be positive")
	}
	if c.Discovery.MaxQueries <= 0 {
		return fmt.Errorf("discovery max_queries must be positive")
	}
	if c.Discovery.MaxExtractionIterations <= 0 {
		return fmt.Errorf("discovery max_extraction_iterations must be positive")
	}
	if c.Discovery.TextBudget <= 0 {
		return fmt.Errorf("discovery text_budget must be positive")
	}
	if c.Discovery.MaxConcurrentJobs <= 0 {
		return fmt.Errorf("discovery max_concurrent_jobs must be positive")
	}

	return nil
}
