package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medcortex/medcortex/schema"
)

func validConfig() *Config {
	cfg := Default()
	cfg.Embedding.APIKey = "sk-embed"
	cfg.Generation.APIKey = "sk-gen"
	return cfg
}

func TestValidate_Defaults(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestValidate_MissingAPIKeys(t *testing.T) {
	err := Default().Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "embedding.api_key")
	assert.Contains(t, err.Error(), "generation.api_key")
}

func TestValidate_AggregatesErrors(t *testing.T) {
	cfg := validConfig()
	cfg.Engine.Workers = 0
	cfg.Knowledge.TopK = 0
	cfg.Knowledge.PriorityWeight = 2.0

	err := cfg.Validate()
	require.Error(t, err)

	var errs schema.ValidationErrors
	require.ErrorAs(t, err, &errs)
	assert.Len(t, errs, 3)
	assert.Contains(t, err.Error(), "engine.workers")
	assert.Contains(t, err.Error(), "knowledge.top_k")
	assert.Contains(t, err.Error(), "knowledge.priority_weight")
}

func TestValidate_RedisRequiredForRedisStore(t *testing.T) {
	cfg := validConfig()
	cfg.Memory.Store = "redis"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis.address")

	cfg.Redis = &RedisConfig{Address: "localhost:6379"}
	assert.NoError(t, cfg.Validate())
}

func TestValidate_UnknownProviders(t *testing.T) {
	cfg := validConfig()
	cfg.Knowledge.Provider = "pinecone"
	cfg.Embedding.Provider = "cohere"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported provider: pinecone")
	assert.Contains(t, err.Error(), "unsupported provider: cohere")
}

func TestLoad_FileThenEnvOverride(t *testing.T) {
	raw := strings.Join([]string{
		"engine:",
		"  max_context_length: 4000",
		"memory:",
		"  max_turns: 3",
		"embedding:",
		"  provider: static",
		"generation:",
		"  api_key: sk-from-file",
	}, "\n")
	path := filepath.Join(t.TempDir(), "medcortex.yaml")
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o644))

	t.Setenv("MEDCORTEX_LOG_LEVEL", "debug")
	t.Setenv("MEDCORTEX_GENERATION_API_KEY", "sk-from-env")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 4000, cfg.Engine.MaxContextLength)
	assert.Equal(t, 3, cfg.Memory.MaxTurns)
	assert.Equal(t, "debug", cfg.Log.Level)
	// Environment wins over the file for secrets.
	assert.Equal(t, "sk-from-env", cfg.Generation.APIKey)
	// Untouched sections keep their defaults.
	assert.Equal(t, 20, cfg.Engine.Workers)
	assert.Equal(t, 0.2, cfg.Knowledge.PriorityWeight)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config file")
}

func TestLoad_MalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("engine: [unclosed"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config file")
}
