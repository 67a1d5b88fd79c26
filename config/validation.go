package config

import (
	"fmt"

	"github.com/medcortex/medcortex/schema"
)

// Validate checks the full configuration and aggregates every problem
// found so operators can fix a broken file in one pass.
func (c *Config) Validate() error {
	var errs schema.ValidationErrors
	errs = append(errs, c.validateEngine()...)
	errs = append(errs, c.validateMemory()...)
	errs = append(errs, c.validateKnowledge()...)
	errs = append(errs, c.validateEmbedding()...)
	errs = append(errs, c.validateGeneration()...)
	errs = append(errs, c.validateStores()...)
	errs = append(errs, c.validateServer()...)
	if len(errs) > 0 {
		return errs
	}
	return nil
}

func (c *Config) validateEngine() schema.ValidationErrors {
	var errs schema.ValidationErrors
	if c.Engine.MaxContextLength < 200 {
		errs = append(errs, schema.ValidationError{
			Field:   "engine.max_context_length",
			Message: fmt.Sprintf("must be at least 200, got %d", c.Engine.MaxContextLength),
		})
	}
	if c.Engine.Workers < 1 {
		errs = append(errs, schema.ValidationError{
			Field:   "engine.workers",
			Message: "must be at least 1",
		})
	}
	if c.Engine.Workers > 256 {
		errs = append(errs, schema.ValidationError{
			Field:   "engine.workers",
			Message: fmt.Sprintf("too large (max recommended: 256), got %d", c.Engine.Workers),
		})
	}
	if c.Engine.BranchTimeoutMs <= 0 {
		errs = append(errs, schema.ValidationError{
			Field:   "engine.branch_timeout_ms",
			Message: "must be positive",
		})
	}
	if c.Engine.PersistTimeoutMs <= 0 {
		errs = append(errs, schema.ValidationError{
			Field:   "engine.persist_timeout_ms",
			Message: "must be positive",
		})
	}
	return errs
}

func (c *Config) validateMemory() schema.ValidationErrors {
	var errs schema.ValidationErrors
	if c.Memory.MaxTurns < 1 {
		errs = append(errs, schema.ValidationError{
			Field:   "memory.max_turns",
			Message: "must be at least 1",
		})
	}
	if c.Memory.RecallBudget < 100 {
		errs = append(errs, schema.ValidationError{
			Field:   "memory.recall_budget",
			Message: fmt.Sprintf("must be at least 100, got %d", c.Memory.RecallBudget),
		})
	}
	if c.Memory.ArchiveTopK < 1 {
		errs = append(errs, schema.ValidationError{
			Field:   "memory.archive_top_k",
			Message: "must be at least 1",
		})
	}
	switch c.Memory.Store {
	case "", "inmemory":
	case "redis":
		if c.Redis == nil || c.Redis.Address == "" {
			errs = append(errs, schema.ValidationError{
				Field:   "redis.address",
				Message: "required when memory.store is redis",
			})
		}
	default:
		errs = append(errs, schema.ValidationError{
			Field:   "memory.store",
			Message: fmt.Sprintf("unsupported store: %s (available: inmemory, redis)", c.Memory.Store),
		})
	}
	if c.Memory.TTLSeconds < 0 {
		errs = append(errs, schema.ValidationError{
			Field:   "memory.ttl_seconds",
			Message: "must not be negative",
		})
	}
	return errs
}

func (c *Config) validateKnowledge() schema.ValidationErrors {
	var errs schema.ValidationErrors
	if c.Knowledge.TopK < 1 {
		errs = append(errs, schema.ValidationError{
			Field:   "knowledge.top_k",
			Message: "must be at least 1",
		})
	}
	if c.Knowledge.TopK > 100 {
		errs = append(errs, schema.ValidationError{
			Field:   "knowledge.top_k",
			Message: fmt.Sprintf("too large (max recommended: 100), got %d", c.Knowledge.TopK),
		})
	}
	if c.Knowledge.PriorityWeight < 0 || c.Knowledge.PriorityWeight > 1 {
		errs = append(errs, schema.ValidationError{
			Field:   "knowledge.priority_weight",
			Message: fmt.Sprintf("must be between 0 and 1, got %f", c.Knowledge.PriorityWeight),
		})
	}
	if c.Knowledge.Threshold < 0 || c.Knowledge.Threshold > 1 {
		errs = append(errs, schema.ValidationError{
			Field:   "knowledge.threshold",
			Message: fmt.Sprintf("must be between 0 and 1, got %f", c.Knowledge.Threshold),
		})
	}
	switch c.Knowledge.Provider {
	case "milvus":
		m := c.Knowledge.Milvus
		if m.Host == "" {
			errs = append(errs, schema.ValidationError{
				Field:   "knowledge.milvus.host",
				Message: "host is required",
			})
		}
		if m.Port <= 0 || m.Port > 65535 {
			errs = append(errs, schema.ValidationError{
				Field:   "knowledge.milvus.port",
				Message: fmt.Sprintf("must be between 1 and 65535, got %d", m.Port),
			})
		}
		if m.ExpertCollection == "" {
			errs = append(errs, schema.ValidationError{
				Field:   "knowledge.milvus.expert_collection",
				Message: "collection name is required",
			})
		}
		if m.PersonalCollection == "" {
			errs = append(errs, schema.ValidationError{
				Field:   "knowledge.milvus.personal_collection",
				Message: "collection name is required",
			})
		}
		if m.MemoryCollection == "" {
			errs = append(errs, schema.ValidationError{
				Field:   "knowledge.milvus.memory_collection",
				Message: "collection name is required",
			})
		}
	case "static":
	default:
		errs = append(errs, schema.ValidationError{
			Field:   "knowledge.provider",
			Message: fmt.Sprintf("unsupported provider: %s (available: milvus, static)", c.Knowledge.Provider),
		})
	}
	return errs
}

func (c *Config) validateEmbedding() schema.ValidationErrors {
	var errs schema.ValidationErrors
	switch c.Embedding.Provider {
	case "openai":
		if c.Embedding.APIKey == "" {
			errs = append(errs, schema.ValidationError{
				Field:   "embedding.api_key",
				Message: "api_key is required for provider openai",
			})
		}
		if c.Embedding.Model == "" {
			errs = append(errs, schema.ValidationError{
				Field:   "embedding.model",
				Message: "model is required",
			})
		}
	case "static":
	default:
		errs = append(errs, schema.ValidationError{
			Field:   "embedding.provider",
			Message: fmt.Sprintf("unsupported provider: %s (available: openai, static)", c.Embedding.Provider),
		})
	}
	if c.Embedding.Dimensions != 0 && (c.Embedding.Dimensions < 128 || c.Embedding.Dimensions > 4096) {
		errs = append(errs, schema.ValidationError{
			Field:   "embedding.dimensions",
			Message: fmt.Sprintf("dimensions outside typical range [128, 4096], got %d", c.Embedding.Dimensions),
		})
	}
	return errs
}

func (c *Config) validateGeneration() schema.ValidationErrors {
	var errs schema.ValidationErrors
	switch c.Generation.Provider {
	case "openai":
		if c.Generation.APIKey == "" {
			errs = append(errs, schema.ValidationError{
				Field:   "generation.api_key",
				Message: "api_key is required for provider openai",
			})
		}
		if c.Generation.Model == "" {
			errs = append(errs, schema.ValidationError{
				Field:   "generation.model",
				Message: "model is required",
			})
		}
	default:
		errs = append(errs, schema.ValidationError{
			Field:   "generation.provider",
			Message: fmt.Sprintf("unsupported provider: %s (available: openai)", c.Generation.Provider),
		})
	}
	if c.Generation.Temperature < 0 || c.Generation.Temperature > 2 {
		errs = append(errs, schema.ValidationError{
			Field:   "generation.temperature",
			Message: fmt.Sprintf("must be between 0 and 2, got %f", c.Generation.Temperature),
		})
	}
	if c.Generation.MaxTokens < 1 {
		errs = append(errs, schema.ValidationError{
			Field:   "generation.max_tokens",
			Message: "must be at least 1",
		})
	}
	return errs
}

func (c *Config) validateStores() schema.ValidationErrors {
	var errs schema.ValidationErrors
	if c.Database.Path == "" {
		errs = append(errs, schema.ValidationError{
			Field:   "database.path",
			Message: "path is required",
		})
	}
	if c.Cache.Enable {
		if c.Cache.MaxEntries < 1 {
			errs = append(errs, schema.ValidationError{
				Field:   "cache.max_entries",
				Message: "must be at least 1 when cache is enabled",
			})
		}
		if c.Cache.TTLSeconds < 0 {
			errs = append(errs, schema.ValidationError{
				Field:   "cache.ttl_seconds",
				Message: "must not be negative",
			})
		}
	}
	return errs
}

func (c *Config) validateServer() schema.ValidationErrors {
	var errs schema.ValidationErrors
	switch c.Server.Transport {
	case "", "stdio":
	case "sse":
		if c.Server.Address == "" {
			errs = append(errs, schema.ValidationError{
				Field:   "server.address",
				Message: "address is required for the sse transport",
			})
		}
	default:
		errs = append(errs, schema.ValidationError{
			Field:   "server.transport",
			Message: fmt.Sprintf("unsupported transport: %s (available: stdio, sse)", c.Server.Transport),
		})
	}
	return errs
}
