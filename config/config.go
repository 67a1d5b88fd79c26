package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the context orchestration engine.
// Values are loaded from an optional YAML file and then overlaid with
// MEDCORTEX_* environment variables for secrets and deploy-time overrides.
type Config struct {
	Engine     EngineConfig     `json:"engine" yaml:"engine"`
	Memory     MemoryConfig     `json:"memory" yaml:"memory"`
	Knowledge  KnowledgeConfig  `json:"knowledge" yaml:"knowledge"`
	Embedding  EmbeddingConfig  `json:"embedding" yaml:"embedding"`
	Generation GenerationConfig `json:"generation" yaml:"generation"`
	// Redis is required when memory.store is "redis"; ignored otherwise.
	Redis    *RedisConfig   `json:"redis,omitempty" yaml:"redis,omitempty"`
	Database DatabaseConfig `json:"database" yaml:"database"`
	Cache    CacheConfig    `json:"cache" yaml:"cache"`
	Log      LogConfig      `json:"log" yaml:"log"`
	Server   ServerConfig   `json:"server" yaml:"server"`
}

// EngineConfig controls run scheduling and context sizing.
type EngineConfig struct {
	// MaxContextLength caps the assembled context in characters.
	MaxContextLength int `json:"max_context_length" yaml:"max_context_length"`
	// Workers bounds the shared goroutine pool across all concurrent runs.
	Workers          int `json:"workers" yaml:"workers"`
	BranchTimeoutMs  int `json:"branch_timeout_ms" yaml:"branch_timeout_ms"`
	PersistTimeoutMs int `json:"persist_timeout_ms" yaml:"persist_timeout_ms"`
}

// BranchTimeout returns the join deadline for the parallel gather branches.
func (c EngineConfig) BranchTimeout() time.Duration {
	return time.Duration(c.BranchTimeoutMs) * time.Millisecond
}

// PersistTimeout returns the deadline for post-answer memory writes.
func (c EngineConfig) PersistTimeout() time.Duration {
	return time.Duration(c.PersistTimeoutMs) * time.Millisecond
}

// MemoryConfig controls working memory retention and archive recall.
type MemoryConfig struct {
	// MaxTurns is the user-turn count kept verbatim before eviction.
	MaxTurns int `json:"max_turns" yaml:"max_turns"`
	// RecallBudget caps the recalled memory text in characters.
	RecallBudget int `json:"recall_budget" yaml:"recall_budget"`
	// ArchiveTopK bounds semantic recall from archived summaries.
	ArchiveTopK int `json:"archive_top_k" yaml:"archive_top_k"`
	// Store selects the working memory backend.
	// Available options: inmemory, redis
	Store      string `json:"store,omitempty" yaml:"store,omitempty"`
	TTLSeconds int    `json:"ttl_seconds,omitempty" yaml:"ttl_seconds,omitempty"`
}

// TTL returns the working memory expiry for backends that support it.
func (c MemoryConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// KnowledgeConfig controls the knowledge search branches.
type KnowledgeConfig struct {
	// Provider selects the search backend.
	// Available options: milvus, static
	Provider string `json:"provider" yaml:"provider"`
	TopK     int    `json:"top_k" yaml:"top_k"`
	// PriorityWeight scales the authority boost applied during reweighting.
	PriorityWeight float64 `json:"priority_weight" yaml:"priority_weight"`
	// Threshold drops results scoring below it; 0 disables the filter.
	Threshold float64      `json:"threshold,omitempty" yaml:"threshold,omitempty"`
	Milvus    MilvusConfig `json:"milvus" yaml:"milvus"`
}

// MilvusConfig carries the vector store connection and collection layout.
type MilvusConfig struct {
	Host     string `json:"host" yaml:"host" env:"MEDCORTEX_MILVUS_HOST"`
	Port     int    `json:"port" yaml:"port" env:"MEDCORTEX_MILVUS_PORT"`
	Database string `json:"database,omitempty" yaml:"database,omitempty"`
	Username string `json:"username,omitempty" yaml:"username,omitempty"`
	Password string `json:"password,omitempty" yaml:"password,omitempty" env:"MEDCORTEX_MILVUS_PASSWORD"`
	// ExpertCollection holds curated clinical knowledge.
	ExpertCollection string `json:"expert_collection" yaml:"expert_collection"`
	// PersonalCollection holds per-subject records, partitioned by subject id.
	PersonalCollection string `json:"personal_collection" yaml:"personal_collection"`
	// MemoryCollection holds embedded conversation summaries for recall.
	MemoryCollection string `json:"memory_collection" yaml:"memory_collection"`
}

// Address returns the host:port pair expected by the Milvus client.
func (c MilvusConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// EmbeddingConfig controls query and summary embedding.
type EmbeddingConfig struct {
	// Provider selects the embedding backend.
	// Available options: openai, static
	Provider string `json:"provider" yaml:"provider"`
	APIKey   string `json:"api_key,omitempty" yaml:"api_key,omitempty" env:"MEDCORTEX_EMBEDDING_API_KEY"`
	BaseURL  string `json:"base_url,omitempty" yaml:"base_url,omitempty" env:"MEDCORTEX_EMBEDDING_BASE_URL"`
	Model    string `json:"model" yaml:"model"`
	// Dimensions must match the vector store collection schema.
	Dimensions int `json:"dimensions" yaml:"dimensions"`
}

// GenerationConfig controls the answering model.
type GenerationConfig struct {
	// Provider selects the chat backend.
	// Available options: openai
	Provider    string  `json:"provider" yaml:"provider"`
	APIKey      string  `json:"api_key,omitempty" yaml:"api_key,omitempty" env:"MEDCORTEX_GENERATION_API_KEY"`
	BaseURL     string  `json:"base_url,omitempty" yaml:"base_url,omitempty" env:"MEDCORTEX_GENERATION_BASE_URL"`
	Model       string  `json:"model" yaml:"model"`
	Temperature float64 `json:"temperature" yaml:"temperature"`
	MaxTokens   int     `json:"max_tokens" yaml:"max_tokens"`
}

// RedisConfig carries the connection for the Redis working memory store.
type RedisConfig struct {
	Address  string `json:"address" yaml:"address"`
	Username string `json:"username,omitempty" yaml:"username,omitempty"`
	Password string `json:"password,omitempty" yaml:"password,omitempty"`
	DB       int    `json:"db,omitempty" yaml:"db,omitempty"`
}

// DatabaseConfig carries the SQLite archive location.
type DatabaseConfig struct {
	Path string `json:"path" yaml:"path" env:"MEDCORTEX_DATABASE_PATH"`
}

// CacheConfig controls the retrieval result cache.
type CacheConfig struct {
	Enable     bool `json:"enable" yaml:"enable"`
	MaxEntries int  `json:"max_entries,omitempty" yaml:"max_entries,omitempty"`
	TTLSeconds int  `json:"ttl_seconds,omitempty" yaml:"ttl_seconds,omitempty"`
}

// TTL returns the cache entry lifetime.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// LogConfig controls structured logging output.
type LogConfig struct {
	// Available options: debug, info, warn, error
	Level string `json:"level" yaml:"level" env:"MEDCORTEX_LOG_LEVEL"`
	// Available options: json, console
	Encoding string `json:"encoding" yaml:"encoding"`
}

// ServerConfig controls how the MCP surface is exposed.
type ServerConfig struct {
	Name string `json:"name" yaml:"name"`
	// Transport selects the MCP transport.
	// Available options: stdio, sse
	Transport string `json:"transport" yaml:"transport"`
	// Address is the listen address for the sse transport.
	Address string `json:"address,omitempty" yaml:"address,omitempty" env:"MEDCORTEX_SERVER_ADDRESS"`
}

// Default returns a configuration with conservative built-in defaults.
// Backends that need credentials stay unconfigured until loaded.
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			MaxContextLength: 8000,
			Workers:          20,
			BranchTimeoutMs:  10000,
			PersistTimeoutMs: 15000,
		},
		Memory: MemoryConfig{
			MaxTurns:     10,
			RecallBudget: 1500,
			ArchiveTopK:  3,
			Store:        "inmemory",
			TTLSeconds:   86400,
		},
		Knowledge: KnowledgeConfig{
			Provider:       "milvus",
			TopK:           5,
			PriorityWeight: 0.2,
			Milvus: MilvusConfig{
				Host:               "localhost",
				Port:               19530,
				ExpertCollection:   "expert_knowledge",
				PersonalCollection: "personal_records",
				MemoryCollection:   "memory_summaries",
			},
		},
		Embedding: EmbeddingConfig{
			Provider:   "openai",
			Model:      "text-embedding-3-small",
			Dimensions: 1536,
		},
		Generation: GenerationConfig{
			Provider:    "openai",
			Model:       "gpt-4o-mini",
			Temperature: 0.3,
			MaxTokens:   1024,
		},
		Database: DatabaseConfig{Path: "medcortex.db"},
		Cache: CacheConfig{
			Enable:     true,
			MaxEntries: 256,
			TTLSeconds: 300,
		},
		Log:    LogConfig{Level: "info", Encoding: "json"},
		Server: ServerConfig{Name: "medcortex", Transport: "stdio", Address: ":8080"},
	}
}

// Load reads the YAML file at path when non-empty, applies environment
// overrides, and validates the result. Missing file is an error; an empty
// path yields defaults plus environment.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("apply environment overrides: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
