package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoad_MissingFileGivesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "knowledge", cfg.Knowledge.Dir)
	assert.Equal(t, []string{".txt"}, cfg.Knowledge.Extensions)
	assert.Equal(t, 600, cfg.Chunker.WindowSize)
	assert.Equal(t, 100, cfg.Chunker.Overlap)
	assert.Equal(t, 20, cfg.Chunker.MinLength)
	assert.Equal(t, "hashing", cfg.Embedder.Type)
	assert.True(t, cfg.Index.Normalize)
	assert.Equal(t, "zstd", cfg.Index.Compression)
	assert.Equal(t, 10, cfg.Ranking.Candidates)
	assert.Equal(t, 3, cfg.Ranking.MaxPerSource)
	assert.Equal(t, 6, cfg.Ranking.TotalResults)
	assert.Nil(t, cfg.Ranking.BonusWeight)
	assert.Equal(t, 0.5, cfg.EffectiveBonusWeight())
	assert.Equal(t, uint(3), cfg.Embedder.OpenAI.Retry.Attempts)
}

func TestLoad_YAMLOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, `
knowledge:
  dir: /srv/docs
  extensions: [txt, .md]
chunker:
  window_size: 300
  overlap: 50
index:
  normalize: false
  compression: lz4
embedder:
  type: openai
  openai:
    base_url: http://localhost:8081/v1
    model: nomic-embed-text
    retry:
      attempts: 5
      delay: 1s
server:
  request_timeout: 45s
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/srv/docs", cfg.Knowledge.Dir)
	assert.Equal(t, []string{".txt", ".md"}, cfg.Knowledge.Extensions)
	assert.Equal(t, 300, cfg.Chunker.WindowSize)
	assert.Equal(t, 50, cfg.Chunker.Overlap)
	assert.Equal(t, 20, cfg.Chunker.MinLength, "keys absent from the file keep defaults")
	assert.False(t, cfg.Index.Normalize)
	assert.Equal(t, "lz4", cfg.Index.Compression)
	assert.Equal(t, "openai", cfg.Embedder.Type)
	assert.Equal(t, "nomic-embed-text", cfg.Embedder.OpenAI.Model)
	assert.Equal(t, "OPENAI_API_KEY", cfg.Embedder.OpenAI.APIKeyEnv)
	assert.Equal(t, uint(5), cfg.Embedder.OpenAI.Retry.Attempts)
	assert.Equal(t, time.Second, cfg.Embedder.OpenAI.Retry.Delay)
	assert.Equal(t, 45*time.Second, cfg.Server.RequestTimeout)
	assert.Equal(t, 500.0, cfg.EffectiveBonusWeight(), "raw inner product pairs with the large weight")
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, "knowledge:\n  dir: from-file\n")

	t.Setenv("RAG_KNOWLEDGE_DIR", "from-env")
	t.Setenv("RAG_KNOWLEDGE_EXTENSIONS", ".txt,.text")
	t.Setenv("RAG_INDEX_NORMALIZE", "false")
	t.Setenv("RAG_RANKING_BONUS_WEIGHT", "2.5")
	t.Setenv("RAG_LOG_LEVEL", "debug")
	t.Setenv("RAG_EMBEDDER_OPENAI_RETRY_ATTEMPTS", "7")
	t.Setenv("RAG_SERVER_SHUTDOWN_TIMEOUT", "3s")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Knowledge.Dir)
	assert.Equal(t, []string{".txt", ".text"}, cfg.Knowledge.Extensions)
	assert.False(t, cfg.Index.Normalize)
	require.NotNil(t, cfg.Ranking.BonusWeight)
	assert.Equal(t, 2.5, cfg.EffectiveBonusWeight())
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, uint(7), cfg.Embedder.OpenAI.Retry.Attempts)
	assert.Equal(t, 3*time.Second, cfg.Server.ShutdownTimeout)
}

func TestLoad_ValidationReportsEveryProblem(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, `
chunker:
  window_size: 100
  overlap: 100
embedder:
  type: word2vec
index:
  compression: gzip
ranking:
  candidates: 0
  bonus_weight: -1
log:
  level: loud
`)
	_, err := Load(path)
	require.Error(t, err)
	for _, want := range []string{
		"chunker.overlap",
		"embedder.type",
		"index.compression",
		"ranking.candidates",
		"ranking.bonus_weight",
		"log.level",
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestLoad_MalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, "knowledge: [unclosed\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := defaultConfig()
	w := 1.25
	cfg.Ranking.BonusWeight = &w
	cfg.Server.Addr = "127.0.0.1:9000"
	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestLoadDefault_WritesUserConfig(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Chdir(t.TempDir())

	cfg, path, err := LoadDefault()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".config", "rag", "config.yaml"), path)
	assert.FileExists(t, path)
	assert.Equal(t, defaultConfig(), cfg)

	writeFile(t, "config.yaml", "knowledge:\n  dir: local\n")
	cfg, path, err = LoadDefault()
	require.NoError(t, err)
	assert.Equal(t, "config.yaml", path)
	assert.Equal(t, "local", cfg.Knowledge.Dir)
}
