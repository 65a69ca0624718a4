package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ziteh/zfs-remote-backup/internal/config"
)

func TestLoadFromEnv_OverridesSecretBearingFields(t *testing.T) {
	t.Setenv("OFFSITE_BACKUP_BUCKET", "env-bucket")
	t.Setenv("OFFSITE_BACKUP_ACCESS_KEY", "env-access-key")
	t.Setenv("OFFSITE_BACKUP_SECRET_KEY", "env-secret-key")
	t.Setenv("OFFSITE_BACKUP_ENCRYPTION_KEY", "deadbeef")
	t.Setenv("OFFSITE_BACKUP_LOG_LEVEL", "debug")

	cfg := config.Default()
	config.LoadFromEnv(&cfg)

	assert.Equal(t, "env-bucket", cfg.Remote.Bucket)
	assert.Equal(t, "env-access-key", cfg.Remote.AccessKey)
	assert.Equal(t, "env-secret-key", cfg.Remote.SecretKey)
	assert.Equal(t, "deadbeef", cfg.Pipeline.EncryptionKey)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadFromEnv_LeavesFieldsUnsetWhenEnvAbsent(t *testing.T) {
	cfg := config.Default()
	cfg.Remote.Bucket = "file-bucket"
	config.LoadFromEnv(&cfg)
	assert.Equal(t, "file-bucket", cfg.Remote.Bucket)
}

func TestGetEnvOrDefault_FallsBackWhenUnset(t *testing.T) {
	assert.Equal(t, "fallback", config.GetEnvOrDefault("OFFSITE_BACKUP_DOES_NOT_EXIST", "fallback"))
}

func TestGetEnvOrDefault_ReturnsEnvValueWhenSet(t *testing.T) {
	t.Setenv("OFFSITE_BACKUP_TEST_VALUE", "set")
	assert.Equal(t, "set", config.GetEnvOrDefault("OFFSITE_BACKUP_TEST_VALUE", "fallback"))
}
