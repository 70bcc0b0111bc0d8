package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the coverquery service configuration.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Database  DatabaseConfig  `yaml:"database"`
	Corpus    CorpusConfig    `yaml:"corpus"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	LLM       LLMConfig       `yaml:"llm"`
	Rerank    RerankConfig    `yaml:"rerank"`
	RAG       RAGConfig       `yaml:"rag"`
	Session   SessionConfig   `yaml:"session"`
	Auth      AuthConfig      `yaml:"auth"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// AuthConfig holds API authentication settings. An empty key list disables
// authentication.
type AuthConfig struct {
	APIKeys []string `yaml:"api_keys"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// DatabaseConfig holds Redis connection settings.
type DatabaseConfig struct {
	Addrs            []string `yaml:"addrs"`
	Password         string   `yaml:"password"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
}

// CorpusConfig holds document directory and synchronization settings.
type CorpusConfig struct {
	Dir          string `yaml:"dir"`
	SyncSchedule string `yaml:"sync_schedule"` // cron spec; empty disables scheduled resync
	BatchSize    int    `yaml:"embed_batch_size"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	APIKey          string `yaml:"api_key"`
	BaseURL         string `yaml:"base_url"`
	Model           string `yaml:"model"`
	Dimensions      int    `yaml:"dimensions"`
	HNSWM           int    `yaml:"hnsw_m"`
	HNSWEFConstruct int    `yaml:"hnsw_ef_construction"`
}

// LLMConfig holds generation provider settings. Provider selection is a
// static per-deployment choice with no cross-provider fallback.
type LLMConfig struct {
	Provider         string    `yaml:"provider"` // local, gemini
	TimeoutSec       int       `yaml:"timeout_sec"`
	Local            LocalLLM  `yaml:"local"`
	Gemini           GeminiLLM `yaml:"gemini"`
	SystemPromptPath string    `yaml:"system_prompt_path"`
}

// LocalLLM holds settings for an OpenAI-compatible endpoint.
type LocalLLM struct {
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
	Token   string `yaml:"token"`
}

// GeminiLLM holds settings for the Gemini API.
type GeminiLLM struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// RerankConfig holds rerank service settings.
type RerankConfig struct {
	URL          string  `yaml:"url"`
	TimeoutSec   int     `yaml:"timeout_sec"`
	ScoreFloor   float64 `yaml:"score_floor"`
	MaxPerSource int     `yaml:"max_chunks_per_doc"`
}

// RAGConfig holds pipeline tuning knobs.
type RAGConfig struct {
	RecallLimit      int `yaml:"recall_limit"`
	RerankLimit      int `yaml:"rerank_limit"`
	ForcedFetchLimit int `yaml:"forced_fetch_limit"`
	RewriteMaxRunes  int `yaml:"rewrite_max_runes"`
	HistoryTurns     int `yaml:"history_turns"`
}

// SessionConfig holds session history store settings.
type SessionConfig struct {
	MaxTurns int `yaml:"max_turns"`
	TTLHours int `yaml:"ttl_hours"`
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	// Substitute env variables of the form ${VAR}
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 15
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		// Generation calls are slow; the write timeout covers the whole pipeline.
		c.HTTP.WriteTimeoutSec = 120
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.Database.ReadinessTimeout <= 0 {
		c.Database.ReadinessTimeout = 10
	}
	if c.Corpus.Dir == "" {
		c.Corpus.Dir = "./data/processed_json"
	}
	if c.Corpus.BatchSize <= 0 {
		c.Corpus.BatchSize = 30
	}
	if c.Embedding.Dimensions <= 0 {
		c.Embedding.Dimensions = 768
	}
	if c.Embedding.HNSWM <= 0 {
		c.Embedding.HNSWM = 16
	}
	if c.Embedding.HNSWEFConstruct <= 0 {
		c.Embedding.HNSWEFConstruct = 200
	}
	if c.LLM.Provider == "" {
		c.LLM.Provider = "local"
	}
	if c.LLM.TimeoutSec <= 0 {
		c.LLM.TimeoutSec = 60
	}
	if c.LLM.Gemini.Model == "" {
		c.LLM.Gemini.Model = "gemini-2.5-flash"
	}
	if c.Rerank.URL == "" {
		c.Rerank.URL = "http://localhost:8000/rerank"
	}
	if c.Rerank.TimeoutSec <= 0 {
		c.Rerank.TimeoutSec = 15
	}
	if c.Rerank.ScoreFloor == 0 {
		c.Rerank.ScoreFloor = -5.0
	}
	if c.Rerank.MaxPerSource <= 0 {
		c.Rerank.MaxPerSource = 3
	}
	if c.RAG.RecallLimit <= 0 {
		c.RAG.RecallLimit = 20
	}
	if c.RAG.RerankLimit <= 0 {
		c.RAG.RerankLimit = 3
	}
	if c.RAG.ForcedFetchLimit <= 0 {
		c.RAG.ForcedFetchLimit = 10
	}
	if c.RAG.RewriteMaxRunes <= 0 {
		c.RAG.RewriteMaxRunes = 20
	}
	if c.RAG.HistoryTurns <= 0 {
		c.RAG.HistoryTurns = 4
	}
	if c.Session.MaxTurns <= 0 {
		c.Session.MaxTurns = 50
	}
	if c.Session.TTLHours <= 0 {
		c.Session.TTLHours = 24
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	if len(c.Database.Addrs) == 0 {
		return fmt.Errorf("database.addrs is required")
	}
	switch c.LLM.Provider {
	case "local", "gemini":
	default:
		return fmt.Errorf("llm.provider must be \"local\" or \"gemini\", got %q", c.LLM.Provider)
	}
	return nil
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
