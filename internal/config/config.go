package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for groundchat
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Admin     AdminConfig     `mapstructure:"admin"`
	Database  DatabaseConfig  `mapstructure:"database"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Vector    VectorConfig    `mapstructure:"vector"`
	Retrieval RetrievalConfig `mapstructure:"retrieval"`
	Session   SessionConfig   `mapstructure:"session"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
	Log       LogConfig       `mapstructure:"log"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	BaseURL      string        `mapstructure:"base_url"`
	Version      string        `mapstructure:"version"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	CORSOrigins  []string      `mapstructure:"cors_origins"`
}

// AdminConfig holds admin authentication configuration
type AdminConfig struct {
	APIKey string `mapstructure:"api_key"`
}

// DatabaseConfig holds the transcript archive location. An empty path
// disables archiving.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// LLMConfig holds the OpenAI-compatible model endpoint configuration
type LLMConfig struct {
	BaseURL             string        `mapstructure:"base_url"`
	APIKey              string        `mapstructure:"api_key"`
	ChatModel           string        `mapstructure:"chat_model"`
	GuardrailModel      string        `mapstructure:"guardrail_model"`
	EmbeddingModel      string        `mapstructure:"embedding_model"`
	EmbeddingDimensions int           `mapstructure:"embedding_dimensions"`
	QueryPrefix         string        `mapstructure:"query_prefix"`
	DocumentPrefix      string        `mapstructure:"document_prefix"`
	Timeout             time.Duration `mapstructure:"timeout"`
	MaxToolRounds       int           `mapstructure:"max_tool_rounds"`
	Temperature         float32       `mapstructure:"temperature"`
}

// VectorConfig holds Qdrant configuration
type VectorConfig struct {
	Host       string        `mapstructure:"host"`
	Port       int           `mapstructure:"port"`
	APIKey     string        `mapstructure:"api_key"`
	UseTLS     bool          `mapstructure:"use_tls"`
	Collection string        `mapstructure:"collection"`
	Timeout    time.Duration `mapstructure:"timeout"`
	TopK       int           `mapstructure:"top_k"`
	MinScore   float64       `mapstructure:"min_score"`
}

// RetrievalConfig controls how search results are rendered for the model
type RetrievalConfig struct {
	SnippetChars int           `mapstructure:"snippet_chars"`
	EmbedTimeout time.Duration `mapstructure:"embed_timeout"`
}

// SessionConfig holds conversation session configuration
type SessionConfig struct {
	Timeout       time.Duration `mapstructure:"timeout"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	MaxTokens     int           `mapstructure:"max_tokens"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute"`
	Burst             int  `mapstructure:"burst"`
}

// IngestConfig holds markdown ingestion configuration
type IngestConfig struct {
	DocsRoot     string `mapstructure:"docs_root"`
	ChunkSize    int    `mapstructure:"chunk_size"`
	ChunkOverlap int    `mapstructure:"chunk_overlap"`
	BatchSize    int    `mapstructure:"batch_size"`
}

// LogConfig holds logger configuration. When File is set, logs are also
// written there with size-based rotation.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// TelemetryConfig holds tracing configuration. An empty trace file keeps
// the no-op tracer.
type TelemetryConfig struct {
	TraceFile string `mapstructure:"trace_file"`
}

// Load loads configuration from file and environment
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix("GROUNDCHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Default returns the configuration with every default applied and no file
// or environment overrides.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("config defaults do not decode: %v", err))
	}
	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.base_url", "http://localhost:8000")
	v.SetDefault("server.version", "1.0.0")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 90*time.Second)
	v.SetDefault("server.cors_origins", []string{"http://localhost:3000", "http://localhost:5173"})

	v.SetDefault("admin.api_key", "")

	v.SetDefault("database.path", "")

	v.SetDefault("llm.base_url", "https://generativelanguage.googleapis.com/v1beta/openai/")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.chat_model", "gemini-2.5-flash")
	v.SetDefault("llm.guardrail_model", "")
	v.SetDefault("llm.embedding_model", "text-embedding-004")
	v.SetDefault("llm.embedding_dimensions", 0)
	v.SetDefault("llm.query_prefix", "")
	v.SetDefault("llm.document_prefix", "")
	v.SetDefault("llm.timeout", 60*time.Second)
	v.SetDefault("llm.max_tool_rounds", 5)
	v.SetDefault("llm.temperature", 0.2)

	v.SetDefault("vector.host", "localhost")
	v.SetDefault("vector.port", 6334)
	v.SetDefault("vector.api_key", "")
	v.SetDefault("vector.use_tls", false)
	v.SetDefault("vector.collection", "robotics_textbook_v1")
	v.SetDefault("vector.timeout", 10*time.Second)
	v.SetDefault("vector.top_k", 5)
	v.SetDefault("vector.min_score", 0.4)

	v.SetDefault("retrieval.snippet_chars", 300)
	v.SetDefault("retrieval.embed_timeout", 15*time.Second)

	v.SetDefault("session.timeout", time.Hour)
	v.SetDefault("session.sweep_interval", 10*time.Minute)
	v.SetDefault("session.max_tokens", 8000)

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.requests_per_minute", 20)
	v.SetDefault("rate_limit.burst", 20)

	v.SetDefault("ingest.docs_root", "content/docs")
	v.SetDefault("ingest.chunk_size", 1000)
	v.SetDefault("ingest.chunk_overlap", 200)
	v.SetDefault("ingest.batch_size", 64)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
	v.SetDefault("log.compress", true)

	v.SetDefault("telemetry.trace_file", "")
}

// Validate rejects settings the services cannot run with
func (c *Config) Validate() error {
	var errs []error
	if c.Vector.TopK <= 0 {
		errs = append(errs, fmt.Errorf("vector.top_k must be positive, got %d", c.Vector.TopK))
	}
	if c.Vector.MinScore < 0 || c.Vector.MinScore > 1 {
		errs = append(errs, fmt.Errorf("vector.min_score must be within [0,1], got %v", c.Vector.MinScore))
	}
	if c.Retrieval.SnippetChars <= 0 {
		errs = append(errs, fmt.Errorf("retrieval.snippet_chars must be positive, got %d", c.Retrieval.SnippetChars))
	}
	if c.Session.Timeout < 0 {
		errs = append(errs, fmt.Errorf("session.timeout must not be negative, got %s", c.Session.Timeout))
	}
	if c.Session.SweepInterval <= 0 {
		errs = append(errs, fmt.Errorf("session.sweep_interval must be positive, got %s", c.Session.SweepInterval))
	}
	for name, d := range map[string]time.Duration{
		"llm.timeout":             c.LLM.Timeout,
		"vector.timeout":          c.Vector.Timeout,
		"retrieval.embed_timeout": c.Retrieval.EmbedTimeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}
	if c.Ingest.ChunkOverlap >= c.Ingest.ChunkSize {
		errs = append(errs, fmt.Errorf("ingest.chunk_overlap (%d) must be smaller than ingest.chunk_size (%d)",
			c.Ingest.ChunkOverlap, c.Ingest.ChunkSize))
	}
	return errors.Join(errs...)
}

// Address returns the server address
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// GuardrailModelName returns the model used for safety checks, falling back to
// the chat model.
func (c *LLMConfig) GuardrailModelName() string {
	if c.GuardrailModel != "" {
		return c.GuardrailModel
	}
	return c.ChatModel
}
