// Package backupmodel defines the persisted entities of the backup pipeline:
// the target queue, the in-progress task and its stage counters, and the
// per-dataset latest-snapshot index. Nothing in this package touches disk;
// persistence belongs to internal/statestore.
package backupmodel

import (
	"time"

	"github.com/google/uuid"
)

// BackupType is the flavor of a backup target.
type BackupType string

const (
	Full BackupType = "full"
	Diff BackupType = "diff"
	Incr BackupType = "incr"
)

// ErrorNoneRef is the sentinel written to CurrentTask.Ref when a diff/incr
// target has no resolvable reference snapshot. It makes snapshot_export
// fail deterministically instead of silently falling back to a full backup.
const ErrorNoneRef = "ERROR_NONE"

// BackupTarget is an enqueued job. Immutable once enqueued.
type BackupTarget struct {
	Dataset    string     `cbor:"dataset"`
	Type       BackupType `cbor:"type"`
	TargetDate time.Time  `cbor:"target_date"`
}

// TaskQueue is the FIFO of pending BackupTargets.
type TaskQueue struct {
	Tasks []BackupTarget `cbor:"tasks"`
}

// Stage holds the progress counters for the current task. All counters
// start at their zero value; hash fields start empty (nil/len 0).
type Stage struct {
	SnapshotExported string   `cbor:"snapshot_exported"`
	SnapshotTested   bool     `cbor:"snapshot_tested"`
	SnapshotHash     []byte   `cbor:"snapshot_hash"`
	Split            [][]byte `cbor:"split"`
	Compressed       int      `cbor:"compressed"`
	CompressedTest   int      `cbor:"compressed_test"`
	CompressedHash   []byte   `cbor:"compressed_hash"`
	Encrypted        int      `cbor:"encrypted"`
	EncryptedTest    int      `cbor:"encrypted_test"`
	EncryptedHash    []byte   `cbor:"encrypted_hash"`
	Uploaded         int      `cbor:"uploaded"`
	Cleared          int      `cbor:"cleared"`
}

// CurrentTask is the expansion of the head-of-queue target with resolved
// snapshots and in-progress stage counters.
type CurrentTask struct {
	RunID         string     `cbor:"run_id"`
	Dataset       string     `cbor:"dataset"`
	Type          BackupType `cbor:"type"`
	Base          string     `cbor:"base"`
	Ref           string     `cbor:"ref"`
	SplitQuantity int        `cbor:"split_quantity"`
	StreamHash    []byte     `cbor:"stream_hash"`
	Stage         Stage      `cbor:"stage"`
}

// NewCurrentTask returns a CurrentTask with all Stage fields reset to their
// initial zero/empty values, as required when a fresh head-of-queue target
// is initialized. RunID is generated once here and persisted with the rest
// of the task so every log line for a run can be correlated, the way the
// teacher's request-scoped IDs thread through its handlers.
func NewCurrentTask(dataset string, t BackupType, base, ref string) *CurrentTask {
	return &CurrentTask{
		RunID:   uuid.NewString(),
		Dataset: dataset,
		Type:    t,
		Base:    base,
		Ref:     ref,
		Stage:   Stage{},
	}
}

// SnapshotPointer names the most recent snapshot of a given type for a
// dataset, and when it was recorded.
type SnapshotPointer struct {
	Name       string    `cbor:"name"`
	UpdateTime time.Time `cbor:"update_time"`
}

// LatestSnapshotIndex maps dataset -> type -> the latest completed snapshot.
// Updated only when a task reaches the done stage.
type LatestSnapshotIndex struct {
	Latest map[string]map[BackupType]SnapshotPointer `cbor:"latest"`
}

// NewLatestSnapshotIndex returns an empty index.
func NewLatestSnapshotIndex() *LatestSnapshotIndex {
	return &LatestSnapshotIndex{Latest: make(map[string]map[BackupType]SnapshotPointer)}
}

// Get returns the recorded pointer for dataset/type, if any.
func (idx *LatestSnapshotIndex) Get(dataset string, t BackupType) (SnapshotPointer, bool) {
	byType, ok := idx.Latest[dataset]
	if !ok {
		return SnapshotPointer{}, false
	}
	p, ok := byType[t]
	return p, ok
}

// Set records the latest snapshot for dataset/type at the given time.
func (idx *LatestSnapshotIndex) Set(dataset string, t BackupType, name string, when time.Time) {
	if idx.Latest == nil {
		idx.Latest = make(map[string]map[BackupType]SnapshotPointer)
	}
	byType, ok := idx.Latest[dataset]
	if !ok {
		byType = make(map[BackupType]SnapshotPointer)
		idx.Latest[dataset] = byType
	}
	byType[t] = SnapshotPointer{Name: name, UpdateTime: when}
}
