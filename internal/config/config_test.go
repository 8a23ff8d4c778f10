package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 15*time.Minute, cfg.Auth.AccessTTL)
	assert.Equal(t, "10/min", cfg.RateLimit.Auth)
	assert.NotEmpty(t, cfg.Auth.JWTSecret, "debug mode falls back to a dev secret")
	assert.False(t, cfg.Kafka.Enabled())
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := filepath.Join(dir, "crm.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9000\ndatabase:\n  name: fromfile\n"), 0o600))

	t.Setenv("CRM_DATABASE_NAME", "fromenv")
	t.Setenv("CRM_KAFKA_BROKERS", "k1:9092, k2:9092")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "fromenv", cfg.Database.Name)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
}

func TestLoadRejectsBadRate(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CRM_RATELIMIT_USER", "lots/min")

	_, err := Load()
	assert.ErrorContains(t, err, "ratelimit.user")
}

func TestReleaseRequiresSecret(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CRM_SERVER_MODE", "release")

	_, err := Load()
	assert.ErrorContains(t, err, "jwt_secret")
}

func TestDSN(t *testing.T) {
	d := DatabaseConfig{User: "u", Password: "p", Host: "db", Port: 4000, Name: "crm"}
	assert.Equal(t, "u:p@tcp(db:4000)/crm?charset=utf8mb4&parseTime=true&loc=UTC&multiStatements=true", d.DSN(""))
	assert.Contains(t, d.DSN("tidb"), "&tls=tidb")
}
