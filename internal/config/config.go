package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"localrag/internal/chunker"
	"localrag/internal/embedding/hashing"
	pkgretry "localrag/internal/pkg/retry"
	"localrag/internal/ranking"
	"localrag/internal/snapshot"
)

// EnvPrefix is prepended to every environment override, e.g. RAG_KNOWLEDGE_DIR.
const EnvPrefix = "RAG_"

// KnowledgeConfig points at the document corpus.
type KnowledgeConfig struct {
	Dir        string   `yaml:"dir" env:"DIR"`
	Extensions []string `yaml:"extensions" env:"EXTENSIONS" envSeparator:","`
}

// ChunkerConfig configures how documents are split into chunks.
type ChunkerConfig struct {
	WindowSize int `yaml:"window_size" env:"WINDOW_SIZE"`
	Overlap    int `yaml:"overlap" env:"OVERLAP"`
	MinLength  int `yaml:"min_length" env:"MIN_LENGTH"`
}

// HashingEmbedderConfig configures the offline hashing embedder.
type HashingEmbedderConfig struct {
	Dimension int `yaml:"dimension" env:"DIMENSION"`
}

// OpenAIEmbedderConfig holds configuration for the OpenAI-compatible embedder.
type OpenAIEmbedderConfig struct {
	BaseURL           string               `yaml:"base_url" env:"BASE_URL"`
	APIKeyEnv         string               `yaml:"api_key_env" env:"API_KEY_ENV"`
	Model             string               `yaml:"model" env:"MODEL"`
	TimeoutSecs       int                  `yaml:"timeout_secs" env:"TIMEOUT_SECS"`
	RequestsPerSecond float64              `yaml:"requests_per_second" env:"REQUESTS_PER_SECOND"`
	Retry             pkgretry.RetryConfig `yaml:"retry" envPrefix:"RETRY_"`
}

// CacheConfig configures the query embedding cache. A zero TTL disables it.
type CacheConfig struct {
	TTL             time.Duration `yaml:"ttl" env:"TTL"`
	CleanupInterval time.Duration `yaml:"cleanup_interval" env:"CLEANUP_INTERVAL"`
}

// EmbedderConfig selects and configures the text embedder implementation.
type EmbedderConfig struct {
	Type        string                `yaml:"type" env:"TYPE"`
	Concurrency int                   `yaml:"concurrency" env:"CONCURRENCY"`
	Hashing     HashingEmbedderConfig `yaml:"hashing" envPrefix:"HASHING_"`
	OpenAI      OpenAIEmbedderConfig  `yaml:"openai" envPrefix:"OPENAI_"`
	Cache       CacheConfig           `yaml:"cache" envPrefix:"CACHE_"`
}

// IndexConfig controls the vector index and where snapshots live.
type IndexConfig struct {
	Dir         string `yaml:"dir" env:"DIR"`
	Normalize   bool   `yaml:"normalize" env:"NORMALIZE"`
	Compression string `yaml:"compression" env:"COMPRESSION"`
}

// RankingConfig tunes candidate retrieval and selection.
type RankingConfig struct {
	Candidates int `yaml:"candidates" env:"CANDIDATES"`
	// BonusWeight defaults to the weight matching index.normalize when unset.
	BonusWeight  *float64 `yaml:"bonus_weight,omitempty" env:"BONUS_WEIGHT"`
	MaxPerSource int      `yaml:"max_per_source" env:"MAX_PER_SOURCE"`
	TotalResults int      `yaml:"total_results" env:"TOTAL_RESULTS"`
}

// ServerConfig configures the HTTP boundary.
type ServerConfig struct {
	Addr            string        `yaml:"addr" env:"ADDR"`
	RequestTimeout  time.Duration `yaml:"request_timeout" env:"REQUEST_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

type LogConfig struct {
	Level       string `yaml:"level" env:"LEVEL"`
	Development bool   `yaml:"development" env:"DEVELOPMENT"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Knowledge KnowledgeConfig `yaml:"knowledge" envPrefix:"KNOWLEDGE_"`
	Chunker   ChunkerConfig   `yaml:"chunker" envPrefix:"CHUNKER_"`
	Embedder  EmbedderConfig  `yaml:"embedder" envPrefix:"EMBEDDER_"`
	Index     IndexConfig     `yaml:"index" envPrefix:"INDEX_"`
	Ranking   RankingConfig   `yaml:"ranking" envPrefix:"RANKING_"`
	Server    ServerConfig    `yaml:"server" envPrefix:"SERVER_"`
	Log       LogConfig       `yaml:"log" envPrefix:"LOG_"`
}

// EffectiveBonusWeight returns the configured lexical bonus weight, or the
// default paired with the index normalization policy.
func (c *AppConfig) EffectiveBonusWeight() float64 {
	if c.Ranking.BonusWeight != nil {
		return *c.Ranking.BonusWeight
	}
	return ranking.DefaultBonusWeight(c.Index.Normalize)
}

// Load reads a config from a specified path, then applies RAG_* environment
// overrides. A missing file yields the defaults.
func Load(path string) (*AppConfig, error) {
	cfg := defaultConfig()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	applyConfigDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDefault tries ./config.yaml first, then ~/.config/rag/config.yaml.
// If neither exists, it writes defaults to ~/.config/rag/config.yaml and returns them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "config.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	if err := Save(userPath, defaultConfig()); err != nil {
		return nil, "", err
	}
	cfg, err := Load(userPath)
	return cfg, userPath, err
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "rag", "config.yaml"), nil
}

func defaultConfig() *AppConfig {
	return &AppConfig{
		Knowledge: KnowledgeConfig{Dir: "knowledge", Extensions: []string{".txt"}},
		Chunker: ChunkerConfig{
			WindowSize: chunker.DefaultWindowSize,
			Overlap:    chunker.DefaultOverlap,
			MinLength:  chunker.DefaultMinLength,
		},
		Embedder: EmbedderConfig{
			Type:        "hashing",
			Concurrency: 4,
			Hashing:     HashingEmbedderConfig{Dimension: hashing.DefaultDimension},
			OpenAI: OpenAIEmbedderConfig{
				BaseURL:     "https://api.openai.com/v1",
				APIKeyEnv:   "OPENAI_API_KEY",
				Model:       "text-embedding-3-small",
				TimeoutSecs: 30,
				Retry:       *pkgretry.DefaultRetryConfig(),
			},
			Cache: CacheConfig{TTL: 10 * time.Minute, CleanupInterval: 20 * time.Minute},
		},
		Index: IndexConfig{Dir: "index", Normalize: true, Compression: "zstd"},
		Ranking: RankingConfig{
			Candidates:   10,
			MaxPerSource: ranking.DefaultMaxPerSource,
			TotalResults: ranking.DefaultTotalResults,
		},
		Server: ServerConfig{Addr: ":8080", RequestTimeout: 2 * time.Minute, ShutdownTimeout: 10 * time.Second},
		Log:    LogConfig{Level: "info"},
	}
}

// applyConfigDefaults fills values left empty by the file and normalizes
// extension spelling.
func applyConfigDefaults(cfg *AppConfig) {
	d := defaultConfig()
	if cfg.Embedder.Type == "" {
		cfg.Embedder.Type = d.Embedder.Type
	}
	if cfg.Embedder.OpenAI.BaseURL == "" {
		cfg.Embedder.OpenAI.BaseURL = d.Embedder.OpenAI.BaseURL
	}
	if cfg.Embedder.OpenAI.APIKeyEnv == "" {
		cfg.Embedder.OpenAI.APIKeyEnv = d.Embedder.OpenAI.APIKeyEnv
	}
	if cfg.Embedder.OpenAI.Model == "" {
		cfg.Embedder.OpenAI.Model = d.Embedder.OpenAI.Model
	}
	if cfg.Embedder.OpenAI.TimeoutSecs == 0 {
		cfg.Embedder.OpenAI.TimeoutSecs = d.Embedder.OpenAI.TimeoutSecs
	}
	cfg.Embedder.OpenAI.Retry = cfg.Embedder.OpenAI.Retry.WithDefaults()
	if cfg.Index.Compression == "" {
		cfg.Index.Compression = d.Index.Compression
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = d.Log.Level
	}
	if len(cfg.Knowledge.Extensions) == 0 {
		cfg.Knowledge.Extensions = d.Knowledge.Extensions
	}
	for i, ext := range cfg.Knowledge.Extensions {
		ext = strings.TrimSpace(ext)
		if ext != "" && !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		cfg.Knowledge.Extensions[i] = ext
	}
}

// Validate reports every invalid setting at once.
func (c *AppConfig) Validate() error {
	var errs []string
	add := func(format string, args ...any) { errs = append(errs, fmt.Sprintf(format, args...)) }

	if c.Knowledge.Dir == "" {
		add("knowledge.dir must be set")
	}
	for _, ext := range c.Knowledge.Extensions {
		if ext == "" || ext == "." {
			add("knowledge.extensions contains an empty entry")
		}
	}

	if c.Chunker.WindowSize < 1 {
		add("chunker.window_size must be positive, got %d", c.Chunker.WindowSize)
	}
	if c.Chunker.Overlap < 0 || c.Chunker.Overlap >= c.Chunker.WindowSize {
		add("chunker.overlap must be in [0, window_size), got %d", c.Chunker.Overlap)
	}
	if c.Chunker.MinLength < 0 || c.Chunker.MinLength >= c.Chunker.WindowSize {
		add("chunker.min_length must be in [0, window_size), got %d", c.Chunker.MinLength)
	}

	switch c.Embedder.Type {
	case "hashing":
		if c.Embedder.Hashing.Dimension < 1 {
			add("embedder.hashing.dimension must be positive, got %d", c.Embedder.Hashing.Dimension)
		}
	case "openai":
		if c.Embedder.OpenAI.RequestsPerSecond < 0 {
			add("embedder.openai.requests_per_second must not be negative")
		}
		if c.Embedder.OpenAI.TimeoutSecs < 0 {
			add("embedder.openai.timeout_secs must not be negative")
		}
	default:
		add("embedder.type must be hashing or openai, got %q", c.Embedder.Type)
	}
	if c.Embedder.Concurrency < 1 || c.Embedder.Concurrency > 64 {
		add("embedder.concurrency must be between 1 and 64, got %d", c.Embedder.Concurrency)
	}
	if c.Embedder.Cache.TTL < 0 {
		add("embedder.cache.ttl must not be negative")
	}

	if c.Index.Dir == "" {
		add("index.dir must be set")
	}
	if _, err := snapshot.ParseCompression(c.Index.Compression); err != nil {
		add("index.compression: %v", err)
	}

	if c.Ranking.Candidates < 1 {
		add("ranking.candidates must be positive, got %d", c.Ranking.Candidates)
	}
	if c.Ranking.MaxPerSource < 1 {
		add("ranking.max_per_source must be positive, got %d", c.Ranking.MaxPerSource)
	}
	if c.Ranking.TotalResults < 1 {
		add("ranking.total_results must be positive, got %d", c.Ranking.TotalResults)
	}
	if c.Ranking.BonusWeight != nil && *c.Ranking.BonusWeight < 0 {
		add("ranking.bonus_weight must not be negative")
	}

	if c.Server.Addr == "" {
		add("server.addr must be set")
	}
	if c.Server.RequestTimeout <= 0 || c.Server.ShutdownTimeout <= 0 {
		add("server timeouts must be positive")
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		add("log.level: %v", err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
