// Package snapshotproducer exports ZFS (or other copy-on-write filesystem)
// snapshots into a single stream file on disk, grounded on
// app/snapshot_handler.py and app/zfs_export.py. Splitting that stream
// into fixed-size chunks is internal/chunking's job, not the producer's --
// the original Python piped `zfs send` straight through `split`, but the
// spec separates production from chunking so the chunk boundaries are a
// pure function of chunk_size rather than of whatever the producer
// happened to emit. Resolving and recording "latest" pointers is
// delegated to whatever LatestIndex the caller supplies -- per spec §4.I,
// the State Store is the single owner of persisted metadata, so Producer
// implementations never read or write their own pointer files in
// production use.
package snapshotproducer

import "context"

// LatestIndex is the narrow persistence surface a Producer needs to
// resolve base/ref snapshots for diff and incremental backups. It is
// satisfied by internal/statestore.Store.
type LatestIndex interface {
	GetLatest(dataset string, t BackupType) (name string, ok bool, err error)
	SetLatest(dataset string, t BackupType, name string) error
}

// BackupType mirrors backupmodel.BackupType without importing it, keeping
// this package's public surface independent of the persistence model.
type BackupType string

const (
	Full BackupType = "full"
	Diff BackupType = "diff"
	Incr BackupType = "incr"
)

// Producer exports a snapshot stream and lists/resolves snapshots for a
// dataset. Implementations must be safe to call again after a crash with
// the same arguments (Export is expected to overwrite its deterministic
// output path).
type Producer interface {
	// Filename returns the stable local filename Export writes, relative
	// to the output directory passed to it.
	Filename() string

	// Export streams base_snapshot (or the incremental/diff range from
	// ref_snapshot to base_snapshot, when ref_snapshot is non-empty) of
	// dataset into outputDir/Filename(), and returns that path. Blocks
	// until the stream is fully written.
	Export(ctx context.Context, dataset, baseSnapshot, refSnapshot, outputDir string) (producedPath string, err error)

	// Verify performs a producer-native consistency check over the
	// produced stream file (e.g. a dry-run `zfs receive -n`), independent
	// of the pipeline's own hash-based verification.
	Verify(ctx context.Context, dataset, path string) (bool, error)

	// List returns all snapshot names for dataset, newest first.
	List(ctx context.Context, dataset string) ([]string, error)

	// GetLatest returns the latest known snapshot of type t for dataset.
	GetLatest(ctx context.Context, dataset string, t BackupType) (name string, ok bool, err error)

	// SetLatest records snapshot as the latest of type t for dataset.
	SetLatest(ctx context.Context, dataset string, t BackupType, snapshot string) error
}
