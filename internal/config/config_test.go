package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
database:
  driver: sqlite
  path: ":memory:"
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Server.Mode)
	assert.Equal(t, ":memory:", cfg.Database.DSN())
	assert.Equal(t, 30*time.Second, cfg.Health.Interval())
	assert.Equal(t, 24, cfg.Health.WindowHours)
	assert.Equal(t, 30, cfg.GDPR.GraceDays)
	assert.Len(t, cfg.Vault.MasterKey, 64)
	assert.GreaterOrEqual(t, len(cfg.JWT.Secret), 32)
	assert.Same(t, cfg, Get())
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
health:
  poll_interval: 45s
`)
	t.Setenv("ICONSOLE_SERVER_PORT", "7070")
	t.Setenv("ICONSOLE_HEALTH_POLL_INTERVAL", "1m")
	t.Setenv("ICONSOLE_SECURITY_ALLOWED_ORIGINS", "https://a.example.com,https://b.example.com")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, time.Minute, cfg.Health.Interval())
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.Security.AllowedOrigins)
}

func TestLoadMissingFileUsesEnv(t *testing.T) {
	t.Setenv("ICONSOLE_DATABASE_DRIVER", "sqlite")
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
}

func TestReleaseModeRequiresSecrets(t *testing.T) {
	path := writeConfig(t, `
server:
  mode: release
`)
	_, err := Load(path)
	assert.Error(t, err)

	path = writeConfig(t, `
server:
  mode: release
jwt:
  secret: 0123456789abcdef0123456789abcdef
`)
	_, err = Load(path)
	assert.Error(t, err, "缺少 vault 主密钥时应拒绝启动")
}

func TestInvalidVaultKey(t *testing.T) {
	path := writeConfig(t, `
vault:
  master_key: not-hex
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestHealthIntervalFallback(t *testing.T) {
	assert.Equal(t, 30*time.Second, HealthConfig{PollInterval: "bogus"}.Interval())
	assert.Equal(t, 5*time.Second, HealthConfig{PollInterval: "5s"}.Interval())
}
