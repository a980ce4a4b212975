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
	assert.Equal(t, "127.0.0.1:37778", cfg.ListenAddr())
	assert.Equal(t, 60, cfg.Retrieval.RRFK)
	assert.Equal(t, 14, cfg.Lifecycle.ConsolidateAfterDays)
	assert.Equal(t, 3*time.Second, cfg.ClassifierTimeout())
	assert.Equal(t, 24*time.Hour, cfg.MaintenanceInterval())
}

func TestLoadMissingFileKeepsDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	for _, k := range []string{"MNEMOS_DB", "DATABASE_URL", "ANTHROPIC_API_KEY", "OPENAI_API_KEY", "OPENAI_BASE_URL", "MNEMOS_FLOW", "MNEMOS_FLOW_SKIP_TOOLS"} {
		t.Setenv(k, "")
	}

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadYAMLAndEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9000
llm:
  provider: ollama
  ollama_model: qwen2.5
retrieval:
  rrf_k: 30
`), 0o644))

	t.Setenv("MNEMOS_DB", "/tmp/mnemos-test.db")
	t.Setenv("DATABASE_URL", "postgres://localhost/mnemos")
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-test")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Bind, "unset keys keep defaults")
	assert.Equal(t, "ollama", cfg.LLM.Provider)
	assert.Equal(t, "qwen2.5", cfg.LLM.OllamaModel)
	assert.Equal(t, 30, cfg.Retrieval.RRFK)
	assert.Equal(t, 0.1, cfg.Retrieval.MinScore)
	assert.Equal(t, "/tmp/mnemos-test.db", cfg.Database.Path)
	assert.Equal(t, "postgres://localhost/mnemos", cfg.Directory.DSN)
	assert.Equal(t, "sk-ant-test", cfg.LLM.AnthropicKey)
}

func TestLoadFlow(t *testing.T) {
	t.Chdir(t.TempDir())
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("flow:\n  char_threshold: 500\n  skip_tools: [Read]\n"), 0o644))
	t.Setenv("MNEMOS_FLOW", "")
	t.Setenv("MNEMOS_FLOW_SKIP_TOOLS", "")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.False(t, cfg.Flow.Enabled)
	assert.Equal(t, 500, cfg.Flow.CharThreshold)

	t.Setenv("MNEMOS_FLOW", "Yes")
	t.Setenv("MNEMOS_FLOW_SKIP_TOOLS", " Grep, ,Glob")
	cfg, err = Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.Flow.Enabled)
	assert.True(t, FlowEnabled())
	assert.Equal(t, []string{"Read", "Grep", "Glob"}, cfg.Flow.SkipTools)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("MNEMOS_DB=/tmp/from-dotenv.db\n"), 0o644))
	// godotenv never overrides variables already set, so start unset.
	os.Unsetenv("MNEMOS_DB")
	t.Cleanup(func() { os.Unsetenv("MNEMOS_DB") })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/from-dotenv.db", cfg.Database.Path)
}

func TestLoadInvalidYAML(t *testing.T) {
	t.Chdir(t.TempDir())
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [unclosed"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestOwner(t *testing.T) {
	t.Setenv("MNEMOS_OWNER", "ana")
	assert.Equal(t, "ana", Owner())

	t.Setenv("MNEMOS_OWNER", " ")
	assert.Equal(t, LocalOwner, Owner())
}
