package codec_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ziteh/zfs-remote-backup/internal/codec"
	"github.com/ziteh/zfs-remote-backup/internal/hashing"
)

func TestNoopCompressionAdapter_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "chunk.p000000")
	content := []byte("uncompressed chunk bytes")
	require.NoError(t, os.WriteFile(in, content, 0o600))

	var a codec.NoopCompressionAdapter
	out, err := a.Compress(in)
	require.NoError(t, err)
	assert.Equal(t, in+".raw", out)

	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, content, got)

	h := hashing.New()
	expected, err := h.HashFile(in)
	require.NoError(t, err)
	assert.NoError(t, a.Verify(out, expected, h))
}

func TestNoopEncryptionAdapter_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "chunk.p000000.zst")
	content := []byte("compressed chunk bytes")
	require.NoError(t, os.WriteFile(in, content, 0o600))

	var a codec.NoopEncryptionAdapter
	out, err := a.Encrypt(in)
	require.NoError(t, err)
	assert.Equal(t, in+".plain", out)

	assert.NoError(t, a.Verify(out, nil, hashing.New()))
}

func TestDeriveAESKey_IsDeterministicAndCorrectLength(t *testing.T) {
	key1, err := codec.DeriveAESKey([]byte("shared-secret"), "dataset/pool1")
	require.NoError(t, err)
	assert.Len(t, key1, 32)

	key2, err := codec.DeriveAESKey([]byte("shared-secret"), "dataset/pool1")
	require.NoError(t, err)
	assert.Equal(t, key1, key2)

	key3, err := codec.DeriveAESKey([]byte("shared-secret"), "dataset/pool2")
	require.NoError(t, err)
	assert.NotEqual(t, key1, key3, "different info strings must derive different keys")
}

func TestDeriveAESKey_RejectsEmptySecret(t *testing.T) {
	_, err := codec.DeriveAESKey(nil, "info")
	assert.Error(t, err)
}
