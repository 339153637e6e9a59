package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "collabConfig.yaml"), []byte(body), 0o600))
	return dir
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	dir := writeConfig(t, `
running:
  port: 4000
kafka:
  brokers: ["k1:9092", "k2:9092"]
auth:
  secret: s3cret
session:
  idleTTL: 90s
`)
	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, 4000, cfg.Running.Port)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 90*time.Second, cfg.Session.IdleTTL)
	assert.Equal(t, "document-operations", cfg.Kafka.OperationsTopic)
	assert.Equal(t, "document-events", cfg.Kafka.EventsTopic)
	assert.Equal(t, "document-processor", cfg.Kafka.GroupID)
	assert.Equal(t, "neodocs-app", cfg.Kafka.ClientID)
	assert.Equal(t, 1024, cfg.Session.PendingOpsCap)
	assert.Equal(t, AuthModeLocal, cfg.Auth.Mode)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("NEODOCS_AUTH_SECRET", "from-env")
	t.Setenv("NEODOCS_RUNNING_PORT", "5005")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Auth.Secret)
	assert.Equal(t, 5005, cfg.Running.Port)
	assert.Equal(t, 5*time.Minute, cfg.Session.IdleTTL)
}

func TestLoad_Invalid(t *testing.T) {
	_, err := Load(t.TempDir())
	require.Error(t, err, "local auth without a secret")

	dir := writeConfig(t, "auth:\n  secret: x\nsession:\n  idleTTL: 0s\n")
	_, err = Load(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "idleTTL")

	dir = writeConfig(t, "running: [")
	_, err = Load(dir)
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	var cfg Config
	cfg.Session.IdleTTL = time.Minute
	cfg.Auth.Mode = AuthModeRemote
	cfg.Auth.Path = "http://auth"
	assert.Error(t, cfg.Validate(), "empty brokers")

	cfg.Kafka.Brokers = []string{"k:9092"}
	assert.NoError(t, cfg.Validate())

	cfg.Auth.Mode = "ldap"
	assert.Error(t, cfg.Validate())
}
