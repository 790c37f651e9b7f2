package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, "memory", cfg.Storage.TaskStore.Driver)
	assert.Equal(t, 5, cfg.Pipeline.TopK)
	assert.Equal(t, "reject", cfg.Pipeline.AllowancePolicy)
	assert.Equal(t, 30*time.Second, cfg.Pipeline.QuoteTTL())

	settings := cfg.Settings()
	assert.Equal(t, 3, settings.Quoting.Retries)
	assert.Equal(t, 5*time.Second, settings.Quoting.Timeout)
	assert.Equal(t, 200*time.Millisecond, settings.Backoff.Base)
	assert.Equal(t, "1", settings.DefaultChain)
}

func TestLoadYAMLResolvesRelativePaths(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
server:
  address: ":9090"
knowledge:
  provider: static
  static_path: knowledge.json
tokens:
  registry_path: tokens.yaml
web3:
  chain_config: chains.yaml
pipeline:
  stages:
    quoting:
      timeout_ms: 1500
      retries: 1
  allowance_policy: FLAG
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	dir := filepath.Dir(path)
	assert.Equal(t, ":9090", cfg.Server.Address)
	assert.Equal(t, filepath.Join(dir, "knowledge.json"), cfg.Knowledge.StaticPath)
	assert.Equal(t, filepath.Join(dir, "tokens.yaml"), cfg.Tokens.RegistryPath)
	assert.Equal(t, filepath.Join(dir, "chains.yaml"), cfg.Web3.ChainConfig)
	assert.Equal(t, "flag", cfg.Pipeline.AllowancePolicy)

	settings := cfg.Settings()
	assert.Equal(t, 1500*time.Millisecond, settings.Quoting.Timeout)
	assert.Equal(t, 1, settings.Quoting.Retries)
	// 未填写的阶段保留默认值。
	assert.Equal(t, 2, settings.Parsing.Retries)
}

func TestLoadJSONConfig(t *testing.T) {
	path := writeConfig(t, "config.json", `{"llm": {"provider": "OpenAI", "openai": {"model": "gpt-4o-mini"}}}`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.OpenAI.Model)
	assert.Equal(t, 30*time.Second, cfg.LLM.OpenAI.Timeout())
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("SWAPPILOT_PIPELINE_STAGES_QUOTING_RETRIES", "5")
	t.Setenv("SWAPPILOT_SERVER_ADDRESS", ":7070")
	t.Setenv("GROQ_API_KEY", "gsk-test")
	t.Setenv("ONE_INCH_API_KEY", "inch-test")
	t.Setenv("PINECONE_INDEX_HOST", "https://crypto-swaps.svc.pinecone.io")
	t.Setenv("ALCHEMY_API_KEY", "alchemy-key")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":7070", cfg.Server.Address)
	assert.Equal(t, 5, cfg.Settings().Quoting.Retries)
	assert.Equal(t, "gsk-test", cfg.LLM.OpenAI.APIKey)
	assert.Equal(t, "inch-test", cfg.Quotes.OneInch.APIKey)
	assert.Equal(t, "https://crypto-swaps.svc.pinecone.io", cfg.Knowledge.Pinecone.Host)
	assert.Equal(t, "https://eth-mainnet.g.alchemy.com/v2/alchemy-key", cfg.Web3.RPCURL)
}

func TestLoadDotEnvDoesNotOverrideEnvironment(t *testing.T) {
	path := writeConfig(t, "config.yaml", "server:\n  address: \":8081\"\n")
	dotenv := filepath.Join(filepath.Dir(path), ".env")
	require.NoError(t, os.WriteFile(dotenv, []byte("ONE_INCH_API_KEY=from-dotenv\nPINECONE_API_KEY=pc-dotenv\n"), 0o600))
	t.Setenv("ONE_INCH_API_KEY", "from-env")
	t.Cleanup(func() { _ = os.Unsetenv("PINECONE_API_KEY") })

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Quotes.OneInch.APIKey)
	assert.Equal(t, "pc-dotenv", cfg.Knowledge.Pinecone.APIKey)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"negative retries":  "pipeline:\n  stages:\n    parsing:\n      retries: -1\n",
		"slippage over max": "pipeline:\n  default_slippage: \"6\"\n  max_slippage: \"5\"\n",
		"unknown policy":    "pipeline:\n  allowance_policy: maybe\n",
		"mysql without dsn": "storage:\n  task_store:\n    driver: mysql\n",
		"bad multiplier":    "pipeline:\n  backoff:\n    multiplier: 0.5\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, "config.yaml", content))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadSampleConfig(t *testing.T) {
	path := filepath.Join("..", "..", "configs", "config.yaml")
	cfg, err := Load(path)
	require.NoError(t, err)

	dir := filepath.Dir(path)
	assert.Equal(t, filepath.Join(dir, "tokens.yaml"), cfg.Tokens.RegistryPath)
	assert.Equal(t, filepath.Join(dir, "chains.yaml"), cfg.Web3.ChainConfig)
	assert.Equal(t, 2, cfg.Pipeline.Stages.Quoting.Retries)
	assert.Equal(t, 1.0, cfg.RateLimit.Stages["quoting"].RPS)
}
