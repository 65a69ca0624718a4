// Package chunking splits a produced snapshot stream file into fixed-size
// pieces and chains their hashes together, the way the original Python
// implementation piped `zfs send` through `split --bytes=4G
// --numeric-suffixes=0 --suffix-length=6` (app/zfs_export.go,
// app/snapshot_handler.py) -- except the chaining and the chunk boundaries
// are owned here rather than delegated to a subprocess, so integrity can be
// verified as each chunk is produced.
package chunking

import (
	"fmt"
	"io"
	"os"

	"github.com/ziteh/zfs-remote-backup/internal/hashing"
)

// Chunker splits a stream file into fixed-size chunks named by a stable,
// zero-padded suffix, and returns the hash-chain value after each chunk.
type Chunker struct {
	chunkSize int64
	hasher    *hashing.Hasher
}

// New creates a Chunker for the given fixed chunk size in bytes. chunkSize
// must be a positive power of two per the spec, though this type does not
// itself enforce the power-of-two constraint -- callers validate
// configuration once at startup.
func New(chunkSize int64, hasher *hashing.Hasher) (*Chunker, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunking: chunk size must be positive, got %d", chunkSize)
	}
	return &Chunker{chunkSize: chunkSize, hasher: hasher}, nil
}

// ChunkSize returns the configured fixed chunk size in bytes.
func (c *Chunker) ChunkSize() int64 {
	return c.chunkSize
}

// Extension returns the deterministic filename suffix for chunk i: a
// stable ".p" prefix and a zero-padded six-digit index, matching the
// on-disk grammar in spec §6 (F.p000000, F.p000001, ...).
func (c *Chunker) Extension(i int) string {
	return fmt.Sprintf(".p%06d", i)
}

// SplitQuantity returns the number of chunks a stream of the given size
// will be split into: ceil(size / chunkSize). Boundary behavior B1: an
// evenly dividing size yields exactly size/chunkSize chunks; otherwise the
// last chunk is strictly smaller.
func (c *Chunker) SplitQuantity(streamSize int64) int {
	if streamSize <= 0 {
		return 0
	}
	n := streamSize / c.chunkSize
	if streamSize%c.chunkSize != 0 {
		n++
	}
	return int(n)
}

// Split reads bytes [i*chunkSize, (i+1)*chunkSize) of streamPath, writes
// them to streamPath+Extension(i), and returns the hash-chain value
// chain = H(prevChain || chunk_i). prevChain must be empty for i == 0.
//
// Split is idempotent: re-running it for the same i after a crash
// overwrites the same deterministic output path with the same bytes and
// returns the same chain value, because the output path and the byte range
// read are both pure functions of (streamPath, i).
func (c *Chunker) Split(streamPath string, i int, prevChain []byte) ([]byte, error) {
	in, err := os.Open(streamPath)
	if err != nil {
		return nil, fmt.Errorf("chunking: open stream %s: %w", streamPath, err)
	}
	defer func() { _ = in.Close() }()

	offset := int64(i) * c.chunkSize
	if _, err := in.Seek(offset, io.SeekStart); err != nil {
		return nil, fmt.Errorf("chunking: seek to offset %d: %w", offset, err)
	}

	outPath := streamPath + c.Extension(i)
	out, err := os.Create(outPath)
	if err != nil {
		return nil, fmt.Errorf("chunking: create chunk file %s: %w", outPath, err)
	}
	defer func() { _ = out.Close() }()

	c.hasher.Reset()
	c.hasher.Update(prevChain)

	limited := io.LimitReader(in, c.chunkSize)
	mw := io.MultiWriter(out, chainWriter{c.hasher})
	if _, err := io.Copy(mw, limited); err != nil {
		return nil, fmt.Errorf("chunking: split chunk %d of %s: %w", i, streamPath, err)
	}

	if err := out.Sync(); err != nil {
		return nil, fmt.Errorf("chunking: sync chunk file %s: %w", outPath, err)
	}

	return c.hasher.Finalize(), nil
}

// chainWriter feeds bytes written to it into the chunker's running hasher,
// letting io.Copy update the chain hash and write the chunk file in one
// pass instead of reading the chunk twice.
type chainWriter struct {
	h *hashing.Hasher
}

func (w chainWriter) Write(p []byte) (int, error) {
	w.h.Update(p)
	return len(p), nil
}
