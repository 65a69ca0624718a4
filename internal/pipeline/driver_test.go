package pipeline_test

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ziteh/zfs-remote-backup/internal/backupmodel"
	"github.com/ziteh/zfs-remote-backup/internal/chunking"
	"github.com/ziteh/zfs-remote-backup/internal/codec"
	"github.com/ziteh/zfs-remote-backup/internal/hashing"
	"github.com/ziteh/zfs-remote-backup/internal/pipeline"
	"github.com/ziteh/zfs-remote-backup/internal/remotestore"
	"github.com/ziteh/zfs-remote-backup/internal/snapshotproducer"
	"github.com/ziteh/zfs-remote-backup/internal/statestore"
)

const testChunkSize = 64

type harness struct {
	driver   *pipeline.Driver
	store    *statestore.Store
	producer *snapshotproducer.MockProducer
	remote   *remotestore.MockStore
	tempDir  string
}

func newHarness(t *testing.T, streamSize int64) *harness {
	t.Helper()
	store, err := statestore.Open(t.TempDir())
	require.NoError(t, err)

	producer := snapshotproducer.NewMockProducer(store, streamSize)

	key := make([]byte, 32)
	enc, err := codec.NewAESGCMAdapter(key)
	require.NoError(t, err)
	comp := codec.NewZstdAdapter(zstd.SpeedDefault)

	chunker, err := chunking.New(testChunkSize, hashing.New())
	require.NoError(t, err)

	remote := remotestore.NewMockStore()
	tempDir := t.TempDir()

	logger := zap.NewNop()
	d := pipeline.New(store, producer, chunker, comp, enc, remote, hashing.New(), logger, tempDir, "test-bucket")

	return &harness{driver: d, store: store, producer: producer, remote: remote, tempDir: tempDir}
}

func TestRun_FullBackupHappyPath(t *testing.T) {
	h := newHarness(t, 5*testChunkSize)
	h.producer.Snapshots = []string{"s3", "s2", "s1"}

	require.NoError(t, h.driver.Enqueue(backupmodel.BackupTarget{Dataset: "pool1", Type: backupmodel.Full}))

	err := h.driver.Run(context.Background(), true)
	require.NoError(t, err)

	assert.Len(t, h.remote.Objects, 5)
	for i := 0; i < 5; i++ {
		found := false
		suffix := fmt.Sprintf(".p%06d.zst.aesgcm", i)
		for key, obj := range h.remote.Objects {
			if strings.HasSuffix(key, suffix) && obj.Tags["backup-type"] == "full" && obj.Metadata["base-snapshot"] == "s3" && obj.Metadata["ref-snapshot"] == "" {
				found = true
			}
		}
		assert.True(t, found, "expected an uploaded object tagged full for chunk %d", i)
	}

	name, ok, err := h.store.GetLatest("pool1", snapshotproducer.Full)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "s3", name)

	q, err := h.store.LoadQueue()
	require.NoError(t, err)
	assert.Empty(t, q.Tasks)

	datasetDir := h.tempDir + "/pool1"
	entries, err := os.ReadDir(datasetDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "task directory must be fully cleared on done")
}

func TestRun_IncrementalResolvesRef(t *testing.T) {
	h := newHarness(t, 2*testChunkSize)
	h.producer.Snapshots = []string{"s_incr_base"}
	require.NoError(t, h.store.SetLatest("pool1", snapshotproducer.Diff, "s_d"))

	require.NoError(t, h.driver.Enqueue(backupmodel.BackupTarget{Dataset: "pool1", Type: backupmodel.Incr}))
	require.NoError(t, h.driver.Run(context.Background(), true))

	found := false
	for _, obj := range h.remote.Objects {
		if obj.Metadata["ref-snapshot"] == "s_d" {
			found = true
		}
	}
	assert.True(t, found, "expected uploaded object metadata to carry ref-snapshot=s_d")
}

func TestRun_MissingReferenceFailsExportDeterministically(t *testing.T) {
	h := newHarness(t, 2*testChunkSize)
	h.producer.Snapshots = []string{"s1"}
	// No latest.full recorded: diff has no resolvable ref.

	require.NoError(t, h.driver.Enqueue(backupmodel.BackupTarget{Dataset: "pool1", Type: backupmodel.Diff}))
	err := h.driver.Run(context.Background(), true)
	require.Error(t, err)

	var pe *pipeline.Error
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, pipeline.MissingReference, pe.Kind)

	q, err := h.store.LoadQueue()
	require.NoError(t, err)
	assert.Len(t, q.Tasks, 1, "queue head must remain for operator inspection")
}

func TestRun_ShutdownDuringTaskInitStopsCleanly(t *testing.T) {
	h := newHarness(t, 2*testChunkSize)
	h.producer.Snapshots = []string{"s1"}
	h.producer.Shutdown = true

	require.NoError(t, h.driver.Enqueue(backupmodel.BackupTarget{Dataset: "pool1", Type: backupmodel.Full}))
	err := h.driver.Run(context.Background(), true)
	require.NoError(t, err, "Run must recover a shutdown-kind error cleanly, not propagate it")

	q, err := h.store.LoadQueue()
	require.NoError(t, err)
	assert.Len(t, q.Tasks, 1, "queue head must remain so the run can be resumed later")
}

func TestRun_CrashBetweenCompressAndCompressTestResumes(t *testing.T) {
	h := newHarness(t, 2*testChunkSize)
	h.producer.Snapshots = []string{"s1"}
	require.NoError(t, h.driver.Enqueue(backupmodel.BackupTarget{Dataset: "pool1", Type: backupmodel.Full}))

	// Drive one step at a time up through compress(1) (both chunks
	// compressed) and stop before compress_test runs.
	for i := 0; i < 7; i++ { // init+export, test, hash, split0, split1, compress0, compress1
		require.NoError(t, h.driver.Run(context.Background(), false))
	}

	task, ok, err := h.store.LoadCurrentTask()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, task.Stage.Compressed)
	assert.Equal(t, 0, task.Stage.CompressedTest)

	// The remaining state lives entirely in the store, so re-entering Run
	// (as a restarted process would, loading only from disk) resumes
	// exactly at compress_test(0) without redoing compress.
	require.NoError(t, h.driver.Run(context.Background(), true))

	task, ok, err = h.store.LoadCurrentTask()
	require.NoError(t, err)
	assert.False(t, ok, "task should have completed and been dequeued")
}

func TestRun_CorruptedCompressedChunkStopsAdvance(t *testing.T) {
	h := newHarness(t, 2*testChunkSize)
	h.producer.Snapshots = []string{"s1"}
	require.NoError(t, h.driver.Enqueue(backupmodel.BackupTarget{Dataset: "pool1", Type: backupmodel.Full}))

	for i := 0; i < 7; i++ {
		require.NoError(t, h.driver.Run(context.Background(), false))
	}

	task, ok, err := h.store.LoadCurrentTask()
	require.NoError(t, err)
	require.True(t, ok)

	// Corrupt chunk 0's compressed file before compress_test(0) runs.
	dir := h.tempDir + "/pool1/full_s1"
	corruptPath := dir + "/mock_snapshot_stream.p000000.zst"
	data, err := os.ReadFile(corruptPath)
	require.NoError(t, err)
	data[len(data)-1] ^= 0xFF
	require.NoError(t, os.WriteFile(corruptPath, data, 0o644))

	err = h.driver.Run(context.Background(), false)
	require.Error(t, err)
	var pe *pipeline.Error
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, pipeline.VerificationFailure, pe.Kind)

	task, ok, err = h.store.LoadCurrentTask()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 0, task.Stage.CompressedTest, "no advance past the failed verification")

	q, err := h.store.LoadQueue()
	require.NoError(t, err)
	assert.Len(t, q.Tasks, 1)
}

func TestRun_CounterExceedsBoundIsRefusedByStore(t *testing.T) {
	h := newHarness(t, 2*testChunkSize)
	h.producer.Snapshots = []string{"s1"}
	require.NoError(t, h.driver.Enqueue(backupmodel.BackupTarget{Dataset: "pool1", Type: backupmodel.Full}))

	for i := 0; i < 4; i++ { // export, snapshot_test, snapshot_hash, split0
		require.NoError(t, h.driver.Run(context.Background(), false))
	}
	require.NoError(t, h.driver.Run(context.Background(), false)) // split1

	task, ok, err := h.store.LoadCurrentTask()
	require.NoError(t, err)
	require.True(t, ok)

	// State surgery: force compressed beyond len(split). The store's own
	// invariant guard (I1) must refuse to persist this, which is what
	// keeps such corruption from ever reaching stageinfer.Infer in the
	// first place.
	task.Stage.Compressed = len(task.Stage.Split) + 1
	require.Error(t, h.store.SaveCurrentTask(task), "the store itself refuses an invariant-violating save")
}

func TestRun_EmptyQueueIsNoOp(t *testing.T) {
	h := newHarness(t, testChunkSize)
	err := h.driver.Run(context.Background(), true)
	assert.NoError(t, err)
}
