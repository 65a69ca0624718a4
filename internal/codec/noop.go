package codec

import (
	"fmt"
	"io"
	"os"

	"github.com/ziteh/zfs-remote-backup/internal/hashing"
)

// NoopCompressionAdapter passes chunks through unchanged. It exists for
// pipeline.compression: none, so the stage ladder's shape stays identical
// whether or not compression is enabled -- compress/compress_test still
// run, just over an identity transform.
type NoopCompressionAdapter struct{}

func (NoopCompressionAdapter) Extension() string { return ".raw" }

func (NoopCompressionAdapter) Compress(inPath string) (string, error) {
	return copyFile(inPath, inPath+".raw")
}

func (NoopCompressionAdapter) Verify(path string, expectedHash []byte, h *hashing.Hasher) error {
	return verifyCopy(path, expectedHash, h)
}

// NoopEncryptionAdapter passes chunks through unchanged, for
// pipeline.encryption: none.
type NoopEncryptionAdapter struct{}

func (NoopEncryptionAdapter) Extension() string { return ".plain" }

func (NoopEncryptionAdapter) Encrypt(inPath string) (string, error) {
	return copyFile(inPath, inPath+".plain")
}

func (NoopEncryptionAdapter) Verify(path string, expectedHash []byte, h *hashing.Hasher) error {
	return verifyCopy(path, expectedHash, h)
}

func copyFile(inPath, outPath string) (string, error) {
	in, err := os.Open(inPath)
	if err != nil {
		return "", fmt.Errorf("codec: noop: open %s: %w", inPath, err)
	}
	defer func() { _ = in.Close() }()

	out, err := os.Create(outPath)
	if err != nil {
		return "", fmt.Errorf("codec: noop: create %s: %w", outPath, err)
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return "", fmt.Errorf("codec: noop: copy %s: %w", inPath, err)
	}
	if err := out.Sync(); err != nil {
		return "", fmt.Errorf("codec: noop: sync %s: %w", outPath, err)
	}
	return outPath, nil
}

func verifyCopy(path string, expectedHash []byte, h *hashing.Hasher) error {
	if len(expectedHash) == 0 {
		_, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("codec: noop: verify %s: %w", path, err)
		}
		return nil
	}
	sum, err := h.HashFile(path)
	if err != nil {
		return fmt.Errorf("codec: noop: verify %s: %w", path, err)
	}
	if !hashesEqual(sum, expectedHash) {
		return fmt.Errorf("codec: noop: hash mismatch for %s", path)
	}
	return nil
}
