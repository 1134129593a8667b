package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 5, cfg.Vector.TopK)
	assert.InDelta(t, 0.4, cfg.Vector.MinScore, 1e-9)
	assert.Equal(t, 300, cfg.Retrieval.SnippetChars)
	assert.Equal(t, time.Hour, cfg.Session.Timeout)
	assert.Equal(t, 8000, cfg.Session.MaxTokens)
	assert.Equal(t, 20, cfg.RateLimit.RequestsPerMinute)
	assert.Equal(t, 10*time.Second, cfg.Vector.Timeout)
	assert.Equal(t, "robotics_textbook_v1", cfg.Vector.Collection)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "groundchat.yaml")
	body := `
server:
  port: 9090
vector:
  min_score: 0.55
  top_k: 3
session:
  timeout: 30m
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.InDelta(t, 0.55, cfg.Vector.MinScore, 1e-9)
	assert.Equal(t, 3, cfg.Vector.TopK)
	assert.Equal(t, 30*time.Minute, cfg.Session.Timeout)
	// untouched keys keep their defaults
	assert.Equal(t, 300, cfg.Retrieval.SnippetChars)
	assert.Equal(t, "0.0.0.0:9090", cfg.Address())
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("GROUNDCHAT_VECTOR_TOP_K", "7")
	t.Setenv("GROUNDCHAT_LLM_CHAT_MODEL", "gpt-4o-mini")

	// no config.yaml in the package directory, so only defaults and env apply
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Vector.TopK)
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.ChatModel)
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.GuardrailModelName())
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Vector.MinScore = 1.5
	cfg.Vector.TopK = 0
	cfg.Ingest.ChunkOverlap = cfg.Ingest.ChunkSize

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vector.min_score")
	assert.Contains(t, err.Error(), "vector.top_k")
	assert.Contains(t, err.Error(), "ingest.chunk_overlap")
}

func TestGuardrailModelName(t *testing.T) {
	cfg := Default()
	cfg.LLM.GuardrailModel = "gemini-2.0-flash-lite"
	assert.Equal(t, "gemini-2.0-flash-lite", cfg.LLM.GuardrailModelName())
}
