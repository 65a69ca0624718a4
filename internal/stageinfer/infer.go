// Package stageinfer implements the pure stage-inference function the
// pipeline driver uses to decide what to do next purely from persisted
// state, with no in-memory progress tracking of its own. It is the Go
// rendering of app/status_manager.py's restore_status() ladder, corrected
// per the spec's design note: the original returns "done" prematurely
// once len(split) reaches split_quantity, skipping compress/encrypt/upload
// entirely; this implementation instead keeps walking the per-chunk
// counters until every one of them, and both combined-hash fields, has
// caught up.
package stageinfer

import "github.com/ziteh/zfs-remote-backup/internal/backupmodel"

// Stage names the next unit of work the driver should perform.
type Stage string

const (
	SnapshotExport Stage = "snapshot_export"
	SnapshotTest   Stage = "snapshot_test"
	SnapshotHash   Stage = "snapshot_hash"
	Split          Stage = "split"
	Compress       Stage = "compress"
	CompressTest   Stage = "compress_test"
	CompressHash   Stage = "compress_hash"
	Encrypt        Stage = "encrypt"
	EncryptTest    Stage = "encrypt_test"
	EncryptHash    Stage = "encrypt_hash"
	Upload         Stage = "upload"
	Clear          Stage = "clear"
	Done           Stage = "done"
)

// Result is the outcome of Infer: the next stage, and a progress/target
// pair describing how far along that stage is. Negative progress or
// target (invariant I5) marks a hard error state the driver must refuse
// to advance past.
type Result struct {
	Stage    Stage
	Progress int
	Target   int
}

// IsError reports whether r represents an error state.
func (r Result) IsError() bool {
	return r.Progress < 0 || r.Target < 0
}

// Infer inspects t's Stage counters in the spec's strict order and
// returns the next step. queueEmpty short-circuits to (done, 0, 0)
// regardless of t, matching step 1 of the algorithm.
func Infer(queueEmpty bool, t *backupmodel.CurrentTask) Result {
	if queueEmpty {
		return Result{Done, 0, 0}
	}

	s := &t.Stage

	if s.SnapshotExported == "" {
		return Result{SnapshotExport, 0, 0}
	}
	if !s.SnapshotTested {
		return Result{SnapshotTest, 0, 0}
	}
	if len(s.SnapshotHash) == 0 {
		return Result{SnapshotHash, 0, 0}
	}
	if t.SplitQuantity <= 0 {
		return Result{SnapshotExport, -1, t.SplitQuantity}
	}

	n := len(s.Split)
	if n == 0 {
		return Result{Split, 0, 0}
	}
	if n > t.SplitQuantity {
		return Result{Split, -t.SplitQuantity, -n}
	}
	if n < t.SplitQuantity {
		return Result{Split, n, t.SplitQuantity}
	}

	// n == t.SplitQuantity: walk the per-chunk counters in order.
	type counterStage struct {
		stage Stage
		c     int
	}
	counters := []counterStage{
		{Compress, s.Compressed},
		{CompressTest, s.CompressedTest},
	}
	for _, cs := range counters {
		if cs.c < n {
			return Result{cs.stage, n, cs.c}
		}
		if cs.c > n {
			return Result{cs.stage, -n, -cs.c}
		}
	}
	if len(s.CompressedHash) == 0 {
		return Result{CompressHash, n, n}
	}

	counters = []counterStage{
		{Encrypt, s.Encrypted},
		{EncryptTest, s.EncryptedTest},
	}
	for _, cs := range counters {
		if cs.c < n {
			return Result{cs.stage, n, cs.c}
		}
		if cs.c > n {
			return Result{cs.stage, -n, -cs.c}
		}
	}
	if len(s.EncryptedHash) == 0 {
		return Result{EncryptHash, n, n}
	}

	counters = []counterStage{
		{Upload, s.Uploaded},
		{Clear, s.Cleared},
	}
	for _, cs := range counters {
		if cs.c < n {
			return Result{cs.stage, n, cs.c}
		}
		if cs.c > n {
			return Result{cs.stage, -n, -cs.c}
		}
	}

	return Result{Done, 0, t.SplitQuantity}
}
