package codec_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ziteh/zfs-remote-backup/internal/codec"
	"github.com/ziteh/zfs-remote-backup/internal/hashing"
)

func TestMLKEMAdapter_EncryptVerifyRoundTrip(t *testing.T) {
	pub, priv, err := codec.GenerateMLKEMKeyPair()
	require.NoError(t, err)

	dir := t.TempDir()
	in := filepath.Join(dir, "chunk.zst")
	content := []byte("compressed chunk bytes, pretend")
	require.NoError(t, os.WriteFile(in, content, 0o600))

	a, err := codec.NewMLKEMAdapter(pub, priv)
	require.NoError(t, err)

	out, err := a.Encrypt(in)
	require.NoError(t, err)
	assert.Equal(t, in+".mlkem768", out)

	ciphertext, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.False(t, bytes.Contains(ciphertext, content), "ciphertext must not contain the plaintext verbatim")

	h := hashing.New()
	expected, err := h.HashFile(in)
	require.NoError(t, err)
	assert.NoError(t, a.Verify(out, expected, h))
}

func TestMLKEMAdapter_VerifyWithoutExpectedHashTrustsGCMTag(t *testing.T) {
	pub, priv, err := codec.GenerateMLKEMKeyPair()
	require.NoError(t, err)

	dir := t.TempDir()
	in := filepath.Join(dir, "chunk.zst")
	require.NoError(t, os.WriteFile(in, []byte("data"), 0o600))

	a, err := codec.NewMLKEMAdapter(pub, priv)
	require.NoError(t, err)
	out, err := a.Encrypt(in)
	require.NoError(t, err)

	assert.NoError(t, a.Verify(out, nil, hashing.New()))
}

func TestMLKEMAdapter_VerifyDetectsTamperedCiphertext(t *testing.T) {
	pub, priv, err := codec.GenerateMLKEMKeyPair()
	require.NoError(t, err)

	dir := t.TempDir()
	in := filepath.Join(dir, "chunk.zst")
	require.NoError(t, os.WriteFile(in, []byte("data"), 0o600))

	a, err := codec.NewMLKEMAdapter(pub, priv)
	require.NoError(t, err)
	out, err := a.Encrypt(in)
	require.NoError(t, err)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	data[len(data)-1] ^= 0xFF
	require.NoError(t, os.WriteFile(out, data, 0o600))

	assert.Error(t, a.Verify(out, nil, hashing.New()))
}

func TestMLKEMAdapter_VerifyWithoutPrivateKeyErrors(t *testing.T) {
	pub, _, err := codec.GenerateMLKEMKeyPair()
	require.NoError(t, err)

	dir := t.TempDir()
	in := filepath.Join(dir, "chunk.zst")
	require.NoError(t, os.WriteFile(in, []byte("data"), 0o600))

	encryptOnly, err := codec.NewMLKEMAdapter(pub, nil)
	require.NoError(t, err)
	out, err := encryptOnly.Encrypt(in)
	require.NoError(t, err)

	assert.Error(t, encryptOnly.Verify(out, nil, hashing.New()))
}

func TestNewMLKEMAdapter_RejectsWrongKeySizes(t *testing.T) {
	_, err := codec.NewMLKEMAdapter([]byte("too short"), nil)
	assert.Error(t, err)

	pub, _, err := codec.GenerateMLKEMKeyPair()
	require.NoError(t, err)
	_, err = codec.NewMLKEMAdapter(pub, []byte("too short"))
	assert.Error(t, err)
}
