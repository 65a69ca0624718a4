// Package statestore is the single owner of the pipeline's persisted
// metadata: the task queue, the current task, and the latest-snapshot
// index, one CBOR document each. Every save follows the teacher's
// AtomicWrite pattern (internal/drivers/local.go): write to a temp file
// in the same directory, fsync the temp file, close, rename over the
// final path, then fsync the directory so the rename itself survives a
// crash. CBOR (github.com/fxamacker/cbor/v2) is used in place of the
// teacher's JSON because the stream and chunk hashes in Stage are
// arbitrary binary, which JSON cannot carry without an escaping layer.
package statestore

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/ziteh/zfs-remote-backup/internal/backupmodel"
	"github.com/ziteh/zfs-remote-backup/internal/snapshotproducer"
)

const (
	queueFile  = "task_queue.cbor"
	taskFile   = "current_task.cbor"
	latestFile = "latest_snapshot.cbor"
)

// Store persists the three documents of the pipeline's state under a
// single directory. It is the only component in the repo that reads or
// writes these files (spec §4.A).
type Store struct {
	dir string
	mu  sync.Mutex
}

// Open returns a Store rooted at dir, creating dir and any missing
// documents (as empty queue/current-task/latest-index values) if they do
// not already exist. A missing document is not an error; a document that
// exists but fails to deserialize is fatal, since it means the on-disk
// state may be inconsistent.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("statestore: create dir %s: %w", dir, err)
	}
	s := &Store{dir: dir}

	if _, err := os.Stat(filepath.Join(dir, queueFile)); os.IsNotExist(err) {
		if err := s.SaveQueue(&backupmodel.TaskQueue{}); err != nil {
			return nil, err
		}
	}
	if _, err := os.Stat(filepath.Join(dir, latestFile)); os.IsNotExist(err) {
		if err := s.SaveLatestIndex(backupmodel.NewLatestSnapshotIndex()); err != nil {
			return nil, err
		}
	}
	// current_task.cbor is intentionally NOT created here: its absence
	// means "no current task initialized yet", distinct from an empty
	// CurrentTask, and ensureCurrentTask (internal/pipeline) is what
	// creates it.
	return s, nil
}

func (s *Store) path(name string) string { return filepath.Join(s.dir, name) }

// atomicSave writes v, CBOR-encoded, to name under s.dir using
// write-temp + fsync + rename + fsync-dir, matching the teacher's
// AtomicWrite.
func (s *Store) atomicSave(name string, v any) error {
	data, err := cbor.Marshal(v)
	if err != nil {
		return fmt.Errorf("statestore: encode %s: %w", name, err)
	}

	finalPath := s.path(name)
	tmp, err := os.CreateTemp(s.dir, ".tmp-"+name+"-*")
	if err != nil {
		return fmt.Errorf("statestore: create temp file for %s: %w", name, err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if tmpPath != "" {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("statestore: write temp file for %s: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("statestore: sync temp file for %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("statestore: close temp file for %s: %w", name, err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return fmt.Errorf("statestore: rename into place for %s: %w", name, err)
	}
	tmpPath = ""

	dir, err := os.Open(s.dir)
	if err != nil {
		return fmt.Errorf("statestore: open dir for fsync: %w", err)
	}
	defer func() { _ = dir.Close() }()
	if err := dir.Sync(); err != nil {
		return fmt.Errorf("statestore: fsync dir: %w", err)
	}

	return nil
}

func (s *Store) load(name string, v any) (bool, error) {
	data, err := os.ReadFile(s.path(name))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("statestore: read %s: %w", name, err)
	}
	if err := cbor.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("statestore: decode %s: %w", name, err)
	}
	return true, nil
}

// LoadQueue returns the persisted task queue.
func (s *Store) LoadQueue() (*backupmodel.TaskQueue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := &backupmodel.TaskQueue{}
	if _, err := s.load(queueFile, q); err != nil {
		return nil, err
	}
	return q, nil
}

// SaveQueue atomically persists the task queue.
func (s *Store) SaveQueue(q *backupmodel.TaskQueue) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.atomicSave(queueFile, q)
}

// LoadCurrentTask returns the persisted current task, or ok=false if none
// has been initialized yet.
func (s *Store) LoadCurrentTask() (t *backupmodel.CurrentTask, ok bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t = &backupmodel.CurrentTask{}
	found, err := s.load(taskFile, t)
	if err != nil || !found {
		return nil, found, err
	}
	return t, true, nil
}

// SaveCurrentTask atomically persists the current task. This is the only
// mutation path for Stage counters; every stage handler in
// internal/pipeline except done calls this exactly once per invocation
// (done removes the document through DeleteCurrentTask instead).
func (s *Store) SaveCurrentTask(t *backupmodel.CurrentTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := backupmodel.CheckInvariants(t); err != nil {
		return fmt.Errorf("statestore: refusing to persist inconsistent task: %w", err)
	}
	return s.atomicSave(taskFile, t)
}

// DeleteCurrentTask removes the current-task document, used when a task
// completes and the next target (or none) becomes current.
func (s *Store) DeleteCurrentTask() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path(taskFile)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("statestore: delete current task: %w", err)
	}
	return nil
}

// LoadLatestIndex returns the persisted latest-snapshot index.
func (s *Store) LoadLatestIndex() (*backupmodel.LatestSnapshotIndex, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := backupmodel.NewLatestSnapshotIndex()
	if _, err := s.load(latestFile, idx); err != nil {
		return nil, err
	}
	return idx, nil
}

// SaveLatestIndex atomically persists the latest-snapshot index.
func (s *Store) SaveLatestIndex(idx *backupmodel.LatestSnapshotIndex) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.atomicSave(latestFile, idx)
}

// GetLatest implements snapshotproducer.LatestIndex. t is a
// snapshotproducer.BackupType (identical string values to
// backupmodel.BackupType) so this package stays decoupled from the
// producer's public surface while still satisfying its interface.
func (s *Store) GetLatest(dataset string, t snapshotproducer.BackupType) (string, bool, error) {
	idx, err := s.LoadLatestIndex()
	if err != nil {
		return "", false, err
	}
	p, ok := idx.Get(dataset, backupmodel.BackupType(t))
	return p.Name, ok, nil
}

// SetLatest implements snapshotproducer.LatestIndex.
func (s *Store) SetLatest(dataset string, t snapshotproducer.BackupType, name string) error {
	idx, err := s.LoadLatestIndex()
	if err != nil {
		return err
	}
	idx.Set(dataset, backupmodel.BackupType(t), name, time.Now())
	return s.SaveLatestIndex(idx)
}
