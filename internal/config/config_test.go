package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ziteh/zfs-remote-backup/internal/config"
)

func TestDefault_IsValidOnceDatasetAndBucketAreSet(t *testing.T) {
	cfg := config.Default()
	cfg.Producer.Dataset = "tank/data"
	cfg.Remote.Bucket = "offsite-backups"
	assert.NoError(t, cfg.Validate())
}

func TestLoad_OverridesDefaultsFieldByField(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	contents := `
state_dir: /var/lib/offsitebackup
producer:
  dataset: tank/data
pipeline:
  chunk_size: 67108864
  compression: zstd
  encryption: aesgcm
  encryption_key: "00112233445566778899aabbccddeeff00112233445566778899aabbccddee"
remote:
  bucket: offsite-backups
  endpoint: https://s3.example.com
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/offsitebackup", cfg.StateDir)
	assert.Equal(t, "./tmp", cfg.TempDir, "unset fields keep Default()'s value")
	assert.EqualValues(t, 64<<20, cfg.Pipeline.ChunkSize)
	assert.Equal(t, "offsite-backups", cfg.Remote.Bucket)
	assert.Equal(t, "us-east-1", cfg.Remote.Region, "unset fields keep Default()'s value")
}

func TestLoad_MissingFileErrors(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	assert.Error(t, err)
}

func TestValidate_RejectsNonPowerOfTwoChunkSize(t *testing.T) {
	cfg := config.Default()
	cfg.Producer.Dataset = "tank/data"
	cfg.Remote.Bucket = "b"
	cfg.Pipeline.ChunkSize = 100
	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsMissingDataset(t *testing.T) {
	cfg := config.Default()
	cfg.Remote.Bucket = "b"
	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsMissingBucket(t *testing.T) {
	cfg := config.Default()
	cfg.Producer.Dataset = "tank/data"
	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsUnknownCompression(t *testing.T) {
	cfg := config.Default()
	cfg.Producer.Dataset = "tank/data"
	cfg.Remote.Bucket = "b"
	cfg.Pipeline.Compression = "gzip"
	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsUnknownEncryption(t *testing.T) {
	cfg := config.Default()
	cfg.Producer.Dataset = "tank/data"
	cfg.Remote.Bucket = "b"
	cfg.Pipeline.Encryption = "chacha20"
	assert.Error(t, cfg.Validate())
}
