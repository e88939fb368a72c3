// Package config loads and normalizes oracle configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Defaults applied when the config file omits a value.
const (
	DefaultTokenBudget        = 16000
	DefaultKeepLastExchanges  = 5
	DefaultCompressionTrigger = 0.8
	DefaultRetrieverTimeout   = 30 // seconds
	DefaultTopK               = 8
	DefaultCandidateCapFactor = 5
	DefaultTurnCeiling        = 15
	DefaultSubagentCeiling    = 8
	DefaultMaxContextTokens   = 8000
)

// ProviderConfig configures the model completion backend.
type ProviderConfig struct {
	APIKey          string `yaml:"api_key"`
	APIBase         string `yaml:"api_base"`
	Model           string `yaml:"model"`
	SummarizerModel string `yaml:"summarizer_model"` // cheaper model for compression, empty = Model
	RerankerModel   string `yaml:"reranker_model"`   // empty = Model
	SubagentModel   string `yaml:"subagent_model"`   // empty = Model
	EmbeddingModel  string `yaml:"embedding_model"`
	RequestsPerMin  int    `yaml:"requests_per_min"` // 0 = unlimited
}

// RetrievalConfig configures the retrieval orchestrator.
type RetrievalConfig struct {
	TimeoutSeconds     int `yaml:"timeout_seconds"`
	TopK               int `yaml:"top_k"`
	CandidateCapFactor int `yaml:"candidate_cap_factor"`
}

// ContextConfig configures conversation context and compression.
type ContextConfig struct {
	TokenBudget        int     `yaml:"token_budget"`
	KeepLastExchanges  int     `yaml:"keep_last_exchanges"`
	CompressionTrigger float64 `yaml:"compression_trigger"`
	MaxContextTokens   int     `yaml:"max_context_tokens"` // assembled evidence budget
}

// AgentConfig configures the tool-calling loop.
type AgentConfig struct {
	TurnCeiling     int `yaml:"turn_ceiling"`
	SubagentCeiling int `yaml:"subagent_ceiling"`
	ToolRatePerHour int `yaml:"tool_rate_per_hour"` // 0 = unlimited
}

// StoreConfig selects the context persistence backend.
type StoreConfig struct {
	// Mode: "file" (default), "postgres", or "redis".
	Mode string `yaml:"mode"`

	// PostgresDSN is required when Mode == "postgres".
	PostgresDSN string `yaml:"postgres_dsn"`

	// RedisAddr is required when Mode == "redis".
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`

	// SessionsDir holds JSON session files in file mode.
	SessionsDir string `yaml:"sessions_dir"`

	// IndexPath is the SQLite evidence database produced by the indexing
	// pipeline (chunks, symbols, edges, notes).
	IndexPath string `yaml:"index_path"`
}

// TracingConfig configures span collection and OTLP export.
type TracingConfig struct {
	Enabled      bool   `yaml:"enabled"`
	OTLPEndpoint string `yaml:"otlp_endpoint"` // empty = log-only collector
}

// Config is the root configuration.
type Config struct {
	Provider  ProviderConfig  `yaml:"provider"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Context   ContextConfig   `yaml:"context"`
	Agent     AgentConfig     `yaml:"agent"`
	Store     StoreConfig     `yaml:"store"`
	Tracing   TracingConfig   `yaml:"tracing"`
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "oracle.yaml"
	}
	return filepath.Join(home, ".oracle", "oracle.yaml")
}

// Load reads the YAML config at path, applies env overrides and defaults.
// A missing file is not an error: defaults plus env are returned.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	applyEnv(cfg)
	applyDefaults(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("ORACLE_API_KEY"); v != "" {
		cfg.Provider.APIKey = v
	}
	if v := os.Getenv("ORACLE_API_BASE"); v != "" {
		cfg.Provider.APIBase = v
	}
	if v := os.Getenv("ORACLE_MODEL"); v != "" {
		cfg.Provider.Model = v
	}
	if v := os.Getenv("ORACLE_POSTGRES_DSN"); v != "" {
		cfg.Store.PostgresDSN = v
		if cfg.Store.Mode == "" {
			cfg.Store.Mode = "postgres"
		}
	}
	if v := os.Getenv("ORACLE_REDIS_ADDR"); v != "" {
		cfg.Store.RedisAddr = v
		if cfg.Store.Mode == "" {
			cfg.Store.Mode = "redis"
		}
	}
	if v := os.Getenv("ORACLE_INDEX_PATH"); v != "" {
		cfg.Store.IndexPath = v
	}
	if v := os.Getenv("ORACLE_OTLP_ENDPOINT"); v != "" {
		cfg.Tracing.Enabled = true
		cfg.Tracing.OTLPEndpoint = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Provider.Model == "" {
		cfg.Provider.Model = "gpt-4o"
	}
	if cfg.Retrieval.TimeoutSeconds <= 0 {
		cfg.Retrieval.TimeoutSeconds = DefaultRetrieverTimeout
	}
	if cfg.Retrieval.TopK <= 0 {
		cfg.Retrieval.TopK = DefaultTopK
	}
	if cfg.Retrieval.CandidateCapFactor <= 0 {
		cfg.Retrieval.CandidateCapFactor = DefaultCandidateCapFactor
	}
	if cfg.Context.TokenBudget <= 0 {
		cfg.Context.TokenBudget = DefaultTokenBudget
	}
	if cfg.Context.KeepLastExchanges <= 0 {
		cfg.Context.KeepLastExchanges = DefaultKeepLastExchanges
	}
	if cfg.Context.CompressionTrigger <= 0 || cfg.Context.CompressionTrigger >= 1 {
		cfg.Context.CompressionTrigger = DefaultCompressionTrigger
	}
	if cfg.Context.MaxContextTokens <= 0 {
		cfg.Context.MaxContextTokens = DefaultMaxContextTokens
	}
	if cfg.Agent.TurnCeiling <= 0 {
		cfg.Agent.TurnCeiling = DefaultTurnCeiling
	}
	if cfg.Agent.SubagentCeiling <= 0 {
		cfg.Agent.SubagentCeiling = DefaultSubagentCeiling
	}
	if cfg.Store.Mode == "" {
		cfg.Store.Mode = "file"
	}
	if cfg.Store.SessionsDir == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			cfg.Store.SessionsDir = filepath.Join(home, ".oracle", "sessions")
		} else {
			cfg.Store.SessionsDir = "sessions"
		}
	}
	if cfg.Store.IndexPath == "" {
		cfg.Store.IndexPath = filepath.Join(filepath.Dir(cfg.Store.SessionsDir), "index.db")
	}
}

// Save writes the config back to path as YAML.
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}
