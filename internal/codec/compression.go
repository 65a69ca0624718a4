// Package codec implements the compress and encrypt adapters applied to
// each chunk on disk, one file in, one file out, following the shape of
// the original compression/encryption CLIs (app/compress_handler.py,
// app/encrypt_handler.py) and of the teacher's in-process equivalents
// (internal/crypto/compression.go, internal/crypto/encryption.go) -- but
// operating file-to-file rather than buffer-to-buffer, since the pipeline
// always has a chunk already materialized on disk before a codec runs.
package codec

import (
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"

	"github.com/ziteh/zfs-remote-backup/internal/hashing"
)

// CompressionAdapter compresses a file to a new file with its own
// extension appended, and verifies a compressed file either against an
// expected plaintext hash (full round-trip decode + hash) or, where the
// underlying format carries its own integrity check, by decoding alone.
type CompressionAdapter interface {
	// Extension is the suffix this adapter appends, e.g. ".zst".
	Extension() string

	// Compress reads inPath and writes inPath+Extension(), leaving inPath
	// untouched. It returns the output path.
	Compress(inPath string) (outPath string, err error)

	// Verify decodes path and confirms its integrity. If expectedHash is
	// non-empty, the decoded plaintext is hashed with h and compared
	// against expectedHash; a mismatch is a verification failure.
	Verify(path string, expectedHash []byte, h *hashing.Hasher) error
}

// ZstdAdapter compresses with zstd, grounded on the teacher's
// ZstdCompressor (internal/crypto/compression.go), which also builds its
// encoder/decoder with a checksum enabled so single-bit corruption is
// caught at decode time without needing a side-channel hash.
type ZstdAdapter struct {
	level zstd.EncoderLevel
}

// NewZstdAdapter returns a ZstdAdapter at the given compression level. A
// zero value for level selects zstd's default.
func NewZstdAdapter(level zstd.EncoderLevel) *ZstdAdapter {
	if level == 0 {
		level = zstd.SpeedDefault
	}
	return &ZstdAdapter{level: level}
}

func (a *ZstdAdapter) Extension() string { return ".zst" }

func (a *ZstdAdapter) Compress(inPath string) (string, error) {
	in, err := os.Open(inPath)
	if err != nil {
		return "", fmt.Errorf("codec: zstd: open %s: %w", inPath, err)
	}
	defer func() { _ = in.Close() }()

	outPath := inPath + a.Extension()
	out, err := os.Create(outPath)
	if err != nil {
		return "", fmt.Errorf("codec: zstd: create %s: %w", outPath, err)
	}
	defer func() { _ = out.Close() }()

	enc, err := zstd.NewWriter(out,
		zstd.WithEncoderLevel(a.level),
		zstd.WithEncoderCRC(true),
	)
	if err != nil {
		return "", fmt.Errorf("codec: zstd: new encoder: %w", err)
	}

	if _, err := io.Copy(enc, in); err != nil {
		_ = enc.Close()
		return "", fmt.Errorf("codec: zstd: compress %s: %w", inPath, err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("codec: zstd: finalize %s: %w", outPath, err)
	}
	if err := out.Sync(); err != nil {
		return "", fmt.Errorf("codec: zstd: sync %s: %w", outPath, err)
	}
	return outPath, nil
}

func (a *ZstdAdapter) Verify(path string, expectedHash []byte, h *hashing.Hasher) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("codec: zstd: open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return fmt.Errorf("codec: zstd: new decoder: %w", err)
	}
	defer dec.Close()

	if len(expectedHash) == 0 {
		// No reference hash available: decoding to completion is itself
		// the check, since WithEncoderCRC(true) makes the decoder reject
		// a corrupted frame.
		if _, err := io.Copy(io.Discard, dec); err != nil {
			return fmt.Errorf("codec: zstd: verify %s: %w", path, err)
		}
		return nil
	}

	h.Reset()
	if _, err := io.Copy(writerFunc(h.Update), dec); err != nil {
		return fmt.Errorf("codec: zstd: verify %s: %w", path, err)
	}
	got := h.Finalize()
	if !hashesEqual(got, expectedHash) {
		return fmt.Errorf("codec: zstd: hash mismatch for %s", path)
	}
	return nil
}

// writerFunc adapts a func([]byte) into an io.Writer.
type writerFunc func([]byte)

func (f writerFunc) Write(p []byte) (int, error) {
	f(p)
	return len(p), nil
}

func hashesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
