package codec

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"
	"os"

	"github.com/ziteh/zfs-remote-backup/internal/hashing"
)

// EncryptionAdapter encrypts a file to a new file with its own extension
// appended, and verifies an encrypted file by decrypting it. If
// expectedHash is non-empty, the plaintext is hashed with h and compared
// against it; if it is empty, successful decryption (e.g. a valid GCM
// authentication tag) is the whole check.
type EncryptionAdapter interface {
	Extension() string
	Encrypt(inPath string) (outPath string, err error)
	Verify(path string, expectedHash []byte, h *hashing.Hasher) error
}

// AESGCMAdapter encrypts with AES-256-GCM, grounded on the teacher's
// AESGCMEncryptor (internal/crypto/encryption.go): a random 12-byte nonce
// is prepended to the ciphertext, and GCM's authentication tag is what the
// original Age-based CLI (app/encrypt_handler.go) got from Age's own
// envelope format.
//
// Unlike the teacher's in-memory Seal/Open over whole buffers, a backup
// chunk can be as large as the configured chunk_size, so AESGCMAdapter
// reads the whole chunk into memory only once per chunk rather than
// streaming -- GCM has no standard streaming construction, and chunk_size
// is bounded by configuration.
type AESGCMAdapter struct {
	key []byte // 32 bytes, AES-256
}

// NewAESGCMAdapter returns an AESGCMAdapter for the given 32-byte key.
func NewAESGCMAdapter(key []byte) (*AESGCMAdapter, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("codec: aesgcm: key must be 32 bytes, got %d", len(key))
	}
	return &AESGCMAdapter{key: key}, nil
}

func (a *AESGCMAdapter) Extension() string { return ".aesgcm" }

func (a *AESGCMAdapter) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(a.key)
	if err != nil {
		return nil, fmt.Errorf("codec: aesgcm: new cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

func (a *AESGCMAdapter) Encrypt(inPath string) (string, error) {
	plaintext, err := os.ReadFile(inPath)
	if err != nil {
		return "", fmt.Errorf("codec: aesgcm: read %s: %w", inPath, err)
	}

	gcm, err := a.gcm()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("codec: aesgcm: generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, plaintext, nil)

	outPath := inPath + a.Extension()
	if err := os.WriteFile(outPath, ciphertext, 0o600); err != nil {
		return "", fmt.Errorf("codec: aesgcm: write %s: %w", outPath, err)
	}
	f, err := os.OpenFile(outPath, os.O_RDWR, 0o600)
	if err != nil {
		return "", fmt.Errorf("codec: aesgcm: reopen %s: %w", outPath, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("codec: aesgcm: sync %s: %w", outPath, err)
	}
	_ = f.Close()

	return outPath, nil
}

func (a *AESGCMAdapter) Verify(path string, expectedHash []byte, h *hashing.Hasher) error {
	ciphertext, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("codec: aesgcm: read %s: %w", path, err)
	}

	gcm, err := a.gcm()
	if err != nil {
		return err
	}
	ns := gcm.NonceSize()
	if len(ciphertext) < ns {
		return fmt.Errorf("codec: aesgcm: %s too short to contain a nonce", path)
	}
	nonce, ct := ciphertext[:ns], ciphertext[ns:]

	plaintext, err := gcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return fmt.Errorf("codec: aesgcm: decrypt %s: %w", path, err)
	}

	if len(expectedHash) == 0 {
		return nil // GCM's tag already authenticated the plaintext
	}

	h.Reset()
	h.Update(plaintext)
	if got := h.Finalize(); !hashesEqual(got, expectedHash) {
		return fmt.Errorf("codec: aesgcm: hash mismatch for %s", path)
	}
	return nil
}
