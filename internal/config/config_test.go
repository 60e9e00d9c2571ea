package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
logging:
  level: warn
database:
  driver: postgres
  dsn: postgres://aiflash@localhost/aiflash?sslmode=disable
scheduler:
  tick: 30s
  timezone: Europe/Berlin
  jobs:
    ingest: "0 5 * * *"
    reindex: "@weekly"
pipeline:
  relevanceThreshold: 0.8
  quarantineLimit: 5
  clearBeforeIngest: true
retrieval:
  excludedSources: []
index:
  backend: qdrant
  searchTimeout: 1500ms
sites:
  - name: arXiv cs.AI
    scanner: arxiv
    categories:
      - name: cs.AI
        url: https://arxiv.org/list/cs.AI/recent
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "aiflash.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 0.7, cfg.Pipeline.RelevanceThreshold)
	assert.Equal(t, 3, cfg.Pipeline.QuarantineLimit)
	assert.Equal(t, 10, cfg.Pipeline.BatchSize)
	assert.Equal(t, 90, cfg.Pipeline.RetentionDays)
	assert.Equal(t, 2500*time.Millisecond, cfg.Index.SearchTimeout)
	assert.Equal(t, time.Minute, cfg.Scheduler.Tick)
	assert.NotContains(t, cfg.Scheduler.Jobs, JobReindex)
	assert.NotEmpty(t, cfg.Feeds)
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	if _, err := time.LoadLocation("Europe/Berlin"); err != nil {
		t.Skip("tzdata not available")
	}
	t.Setenv(configPathEnv, writeConfig(t, sampleYAML))

	cfg := Load()

	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 30*time.Second, cfg.Scheduler.Tick)
	assert.Equal(t, "0 5 * * *", cfg.Scheduler.Jobs[JobIngest])
	assert.Equal(t, "@weekly", cfg.Scheduler.Jobs[JobReindex])
	assert.Equal(t, "@every 30m", cfg.Scheduler.Jobs[JobRelevance], "unlisted jobs keep defaults")
	assert.Equal(t, "Europe/Berlin", cfg.Scheduler.Location().String())

	assert.Equal(t, 0.8, cfg.Pipeline.RelevanceThreshold)
	assert.Equal(t, 5, cfg.Pipeline.QuarantineLimit)
	assert.Equal(t, 10, cfg.Pipeline.BatchSize)
	assert.True(t, cfg.Pipeline.ClearBeforeIngest)
	assert.Empty(t, cfg.Retrieval.ExcludedSources)

	assert.Equal(t, "qdrant", cfg.Index.Backend)
	assert.Equal(t, 1500*time.Millisecond, cfg.Index.SearchTimeout)
	assert.Equal(t, 6334, cfg.Index.QdrantPort)

	require.Len(t, cfg.Sites, 1)
	assert.Equal(t, "arxiv", cfg.Sites[0].Scanner)
	assert.NotEmpty(t, cfg.Feeds, "default feeds stay when the file lists none")
}

func TestLoadFallsBackOnBrokenFile(t *testing.T) {
	t.Setenv(configPathEnv, writeConfig(t, "logging: [unterminated"))

	cfg := Load()
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.NotEmpty(t, cfg.Feeds)

	t.Setenv(configPathEnv, filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Equal(t, Default().Database, Load().Database)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv(configPathEnv, "")
	t.Setenv(databaseDSNEnv, "file:aiflash-test.db")
	t.Setenv(chatGPTAPIKeyEnv, "sk-reasoning")
	t.Setenv(chatGPTModelEnv, "gpt-4.1-mini")
	t.Setenv(qdrantHostEnv, "qdrant.internal")
	t.Setenv(telegramTokenEnv, "123:abc")
	t.Setenv(telegramChatIDEnv, "-100")
	t.Setenv(logLevelEnv, "error")

	cfg := Load()

	assert.Equal(t, "file:aiflash-test.db", cfg.Database.DSN)
	assert.Equal(t, "sk-reasoning", cfg.ChatGPT.APIKey)
	assert.Equal(t, "sk-reasoning", cfg.ML.APIKey, "embedding key defaults to the reasoning key")
	assert.Equal(t, "gpt-4.1-mini", cfg.ChatGPT.Model)
	assert.Equal(t, "qdrant", cfg.Index.Backend)
	assert.Equal(t, "qdrant.internal", cfg.Index.QdrantHost)
	assert.Equal(t, "123:abc", cfg.Notifications.Telegram.BotToken)
	assert.Equal(t, "-100", cfg.Notifications.Telegram.ChatID)
	assert.Equal(t, "error", cfg.Logging.Level)

	t.Setenv(embeddingKeyEnv, "sk-embed")
	assert.Equal(t, "sk-embed", Load().ML.APIKey)
}

func TestUnknownTimezoneFallsBackToUTC(t *testing.T) {
	t.Setenv(configPathEnv, writeConfig(t, "scheduler:\n  timezone: Mars/Olympus\n"))
	assert.Equal(t, "UTC", Load().Scheduler.Location().String())
}

func TestEnvInt(t *testing.T) {
	t.Setenv("AIFLASH_TEST_INT", "42")
	assert.Equal(t, 42, EnvInt("AIFLASH_TEST_INT", 7))

	t.Setenv("AIFLASH_TEST_INT", "forty-two")
	assert.Equal(t, 7, EnvInt("AIFLASH_TEST_INT", 7))
	assert.Equal(t, 7, EnvInt("AIFLASH_TEST_UNSET", 7))
}
