package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "log: {}\n"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "data/codesentry.db", cfg.Database.Path)
	assert.Equal(t, "semgrep", cfg.Analyzer.Binary)
	assert.Equal(t, 120, cfg.Analyzer.TimeoutSeconds)
	assert.Equal(t, 4000, cfg.Model.TokenBudget)
	assert.InDelta(t, 0.0008, cfg.Model.CostPer1KIn, 1e-9)
	assert.InDelta(t, 0.004, cfg.Model.CostPer1KOut, 1e-9)
}

func TestLoadReadsYAML(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
server:
  port: 9090
  webhook:
    ratePerSecond: 2
    burst: 4
database:
  driver: postgres
  host: db.internal
  port: 5432
  user: sentry
  password: secret
  name: codesentry
model:
  name: gpt-4o
`))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 2.0, cfg.Server.Webhook.RatePerSecond)
	assert.Equal(t, "gpt-4o", cfg.Model.Name)
	assert.Equal(t,
		"host=db.internal port=5432 user=sentry password=secret dbname=codesentry sslmode=disable",
		cfg.PostgresDSN())
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("GITHUB_WEBHOOK_SECRET", "env-secret")
	t.Setenv("CODESENTRY_MODEL_API_KEY", "env-model-key")

	cfg, err := Load(writeConfig(t, "github:\n  webhookSecret: file-secret\n"))
	require.NoError(t, err)

	assert.Equal(t, "env-secret", cfg.GitHub.WebhookSecret)
	assert.Equal(t, "env-model-key", cfg.Model.APIKey)
}

func TestMySQLDSN(t *testing.T) {
	var cfg Config
	cfg.Database.User = "sentry"
	cfg.Database.Password = "pw"
	cfg.Database.Host = "db"
	cfg.Database.Port = 3306
	cfg.Database.Name = "codesentry"

	assert.Equal(t, "sentry:pw@tcp(db:3306)/codesentry?parseTime=true&charset=utf8mb4", cfg.MySQLDSN())
}

func TestValidate(t *testing.T) {
	var cfg Config
	cfg.Database.Driver = "sqlite"
	assert.NoError(t, cfg.Validate())

	cfg.Database.Driver = "oracle"
	assert.Error(t, cfg.Validate())

	cfg.Database.Driver = "mysql"
	assert.Error(t, cfg.Validate(), "networked drivers need a host")
	cfg.Database.Host = "db"
	assert.NoError(t, cfg.Validate())
}
