package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/ziteh/zfs-remote-backup/internal/backupmodel"
	"github.com/ziteh/zfs-remote-backup/internal/chunking"
	"github.com/ziteh/zfs-remote-backup/internal/codec"
	"github.com/ziteh/zfs-remote-backup/internal/hashing"
	"github.com/ziteh/zfs-remote-backup/internal/remotestore"
	"github.com/ziteh/zfs-remote-backup/internal/snapshotproducer"
	"github.com/ziteh/zfs-remote-backup/internal/stageinfer"
	"github.com/ziteh/zfs-remote-backup/internal/statestore"
)

// Driver executes one stage step per call, orchestrating the producer,
// chunker, codec adapters, and remote store against persisted state,
// grounded on app/backup_manager.py's BackupTaskManager.run().
type Driver struct {
	store      *statestore.Store
	producer   snapshotproducer.Producer
	chunker    *chunking.Chunker
	compressor codec.CompressionAdapter
	encryptor  codec.EncryptionAdapter
	remote     remotestore.Store
	hasher     *hashing.Hasher
	log        *zap.Logger

	tempDir string
	bucket  string
}

// New returns a Driver wired to its collaborators.
func New(
	store *statestore.Store,
	producer snapshotproducer.Producer,
	chunker *chunking.Chunker,
	compressor codec.CompressionAdapter,
	encryptor codec.EncryptionAdapter,
	remote remotestore.Store,
	hasher *hashing.Hasher,
	log *zap.Logger,
	tempDir, bucket string,
) *Driver {
	return &Driver{
		store: store, producer: producer, chunker: chunker,
		compressor: compressor, encryptor: encryptor, remote: remote,
		hasher: hasher, log: log, tempDir: tempDir, bucket: bucket,
	}
}

// taskDir is the per-task temp directory, deterministic from
// (dataset, type, base) so every stage handler can locate its files
// without carrying extra state.
func (d *Driver) taskDir(t *backupmodel.CurrentTask) string {
	return filepath.Join(d.tempDir, t.Dataset, string(t.Type)+"_"+t.Base)
}

func (d *Driver) streamPath(t *backupmodel.CurrentTask) string {
	return filepath.Join(d.taskDir(t), d.producer.Filename())
}

func (d *Driver) chunkPath(t *backupmodel.CurrentTask, i int) string {
	return d.streamPath(t) + d.chunker.Extension(i)
}

// Run executes stage steps until the queue is empty or an error/shutdown
// occurs (auto == true), or exactly one step (auto == false), per spec
// §4.H. It returns nil on a clean stop (queue empty, a shutdown request,
// or, for auto==false, after one step), and a *Error for any other outcome.
func (d *Driver) Run(ctx context.Context, auto bool) error {
	for {
		q, err := d.store.LoadQueue()
		if err != nil {
			return &Error{Kind: CollaboratorIO, Stage: "load_queue", Cause: err}
		}
		queueEmpty := len(q.Tasks) == 0
		if queueEmpty {
			return nil
		}

		t, err := d.ensureCurrentTask(ctx)
		if err != nil {
			if IsShutdown(err) {
				d.log.Info("shutdown requested, stopping cleanly")
				return nil
			}
			return err
		}
		if t == nil {
			return nil
		}

		result := stageinfer.Infer(false, t)
		if result.IsError() {
			err := &Error{Kind: StateInconsistency, Stage: string(result.Stage), Progress: result.Progress, Target: result.Target}
			d.log.Error("state inconsistency", zap.String("run_id", t.RunID), zap.String("stage", string(result.Stage)),
				zap.Int("progress", result.Progress), zap.Int("target", result.Target), zap.String("kind", string(StateInconsistency)))
			return err
		}

		if err := d.dispatch(ctx, t, result); err != nil {
			if IsShutdown(err) {
				d.log.Info("shutdown requested, stopping cleanly", zap.String("run_id", t.RunID))
				return nil
			}
			kind := ""
			if pe, ok := err.(*Error); ok {
				kind = string(pe.Kind)
			}
			d.log.Error("stage handler failed", zap.String("run_id", t.RunID), zap.String("stage", string(result.Stage)),
				zap.Int("progress", result.Progress), zap.Int("target", result.Target), zap.String("kind", kind), zap.NamedError("cause", err))
			return err
		}

		if !auto {
			return nil
		}
	}
}

// dispatch runs the single handler named by result.Stage against t.
func (d *Driver) dispatch(ctx context.Context, t *backupmodel.CurrentTask, r stageinfer.Result) error {
	switch r.Stage {
	case stageinfer.SnapshotExport:
		return d.handleSnapshotExport(ctx, t)
	case stageinfer.SnapshotTest:
		return d.handleSnapshotTest(ctx, t)
	case stageinfer.SnapshotHash:
		return d.handleSnapshotHash(t)
	case stageinfer.Split:
		return d.handleSplit(t)
	case stageinfer.Compress:
		// r.Target is the counter's current value, i.e. the index of the
		// next chunk to process; r.Progress is len(split), the total.
		return d.handleCompress(t, r.Target)
	case stageinfer.CompressTest:
		return d.handleCompressTest(t, r.Target)
	case stageinfer.CompressHash:
		return d.handleCompressHash(t)
	case stageinfer.Encrypt:
		return d.handleEncrypt(t, r.Target)
	case stageinfer.EncryptTest:
		return d.handleEncryptTest(t, r.Target)
	case stageinfer.EncryptHash:
		return d.handleEncryptHash(t)
	case stageinfer.Upload:
		return d.handleUpload(ctx, t, r.Target)
	case stageinfer.Clear:
		return d.handleClear(t, r.Target)
	case stageinfer.Done:
		return d.handleDone(ctx, t)
	default:
		return &Error{Kind: ProgrammerError, Stage: string(r.Stage), Cause: fmt.Errorf("unknown stage %q", r.Stage)}
	}
}

func (d *Driver) handleSnapshotExport(ctx context.Context, t *backupmodel.CurrentTask) error {
	if t.Ref == backupmodel.ErrorNoneRef {
		return &Error{Kind: MissingReference, Stage: string(stageinfer.SnapshotExport),
			Cause: fmt.Errorf("no resolvable reference snapshot for %s backup of %s", t.Type, t.Dataset)}
	}

	dir := d.taskDir(t)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return &Error{Kind: CollaboratorIO, Stage: string(stageinfer.SnapshotExport), Cause: err}
	}

	path, err := d.producer.Export(ctx, t.Dataset, t.Base, t.Ref, dir)
	if err != nil {
		return classifyCollaboratorErr(ctx, string(stageinfer.SnapshotExport), err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return &Error{Kind: CollaboratorIO, Stage: string(stageinfer.SnapshotExport), Cause: err}
	}
	t.SplitQuantity = d.chunker.SplitQuantity(info.Size())
	t.Stage.SnapshotExported = d.producer.Filename()

	if err := d.store.SaveCurrentTask(t); err != nil {
		return &Error{Kind: CollaboratorIO, Stage: string(stageinfer.SnapshotExport), Cause: err}
	}
	return nil
}

func (d *Driver) handleSnapshotTest(ctx context.Context, t *backupmodel.CurrentTask) error {
	ok, err := d.producer.Verify(ctx, t.Dataset, d.streamPath(t))
	if err != nil {
		return classifyCollaboratorErr(ctx, string(stageinfer.SnapshotTest), err)
	}
	t.Stage.SnapshotTested = ok
	if err := d.store.SaveCurrentTask(t); err != nil {
		return &Error{Kind: CollaboratorIO, Stage: string(stageinfer.SnapshotTest), Cause: err}
	}
	if !ok {
		return &Error{Kind: VerificationFailure, Stage: string(stageinfer.SnapshotTest),
			Cause: fmt.Errorf("producer verification failed for %s", d.streamPath(t))}
	}
	return nil
}

func (d *Driver) handleSnapshotHash(t *backupmodel.CurrentTask) error {
	sum, err := d.hasher.HashFile(d.streamPath(t))
	if err != nil {
		return &Error{Kind: CollaboratorIO, Stage: string(stageinfer.SnapshotHash), Cause: err}
	}
	t.Stage.SnapshotHash = sum
	t.StreamHash = sum
	if err := d.store.SaveCurrentTask(t); err != nil {
		return &Error{Kind: CollaboratorIO, Stage: string(stageinfer.SnapshotHash), Cause: err}
	}
	return nil
}

// handleSplit processes exactly the next chunk, len(split), matching the
// driver's one-counter-tick-per-call contract.
func (d *Driver) handleSplit(t *backupmodel.CurrentTask) error {
	i := len(t.Stage.Split)
	var prev []byte
	if i > 0 {
		prev = t.Stage.Split[i-1]
	}
	chain, err := d.chunker.Split(d.streamPath(t), i, prev)
	if err != nil {
		return &Error{Kind: CollaboratorIO, Stage: string(stageinfer.Split), Cause: err}
	}
	t.Stage.Split = append(t.Stage.Split, chain)
	if err := d.store.SaveCurrentTask(t); err != nil {
		return &Error{Kind: CollaboratorIO, Stage: string(stageinfer.Split), Cause: err}
	}
	return nil
}

func (d *Driver) handleCompress(t *backupmodel.CurrentTask, i int) error {
	path := d.chunkPath(t, i)
	if _, err := d.compressor.Compress(path); err != nil {
		return &Error{Kind: CollaboratorIO, Stage: string(stageinfer.Compress), Cause: err}
	}
	t.Stage.Compressed++
	if err := d.store.SaveCurrentTask(t); err != nil {
		return &Error{Kind: CollaboratorIO, Stage: string(stageinfer.Compress), Cause: err}
	}
	return nil
}

// handleCompressTest verifies chunk i's compressed form and, on success,
// deletes the unencrypted plaintext chunk -- it is no longer needed once
// its compressed form is known-good, and keeping it would double local
// disk usage for no benefit.
func (d *Driver) handleCompressTest(t *backupmodel.CurrentTask, i int) error {
	path := d.chunkPath(t, i) + d.compressor.Extension()
	if err := d.compressor.Verify(path, nil, d.hasher); err != nil {
		return &Error{Kind: VerificationFailure, Stage: string(stageinfer.CompressTest), Cause: err}
	}
	if err := os.Remove(d.chunkPath(t, i)); err != nil && !os.IsNotExist(err) {
		return &Error{Kind: CollaboratorIO, Stage: string(stageinfer.CompressTest), Cause: err}
	}
	t.Stage.CompressedTest++
	if err := d.store.SaveCurrentTask(t); err != nil {
		return &Error{Kind: CollaboratorIO, Stage: string(stageinfer.CompressTest), Cause: err}
	}
	return nil
}

// handleCompressHash computes the hash chain over all compressed chunks
// in order, reusing the same chain construction the splitter uses so
// that a single digest fingerprints the whole compressed sequence.
func (d *Driver) handleCompressHash(t *backupmodel.CurrentTask) error {
	var chain []byte
	for i := 0; i < t.SplitQuantity; i++ {
		path := d.chunkPath(t, i) + d.compressor.Extension()
		data, err := os.ReadFile(path)
		if err != nil {
			return &Error{Kind: CollaboratorIO, Stage: string(stageinfer.CompressHash), Cause: err}
		}
		chain = hashing.Chain(d.hasher, chain, data)
	}
	t.Stage.CompressedHash = chain
	if err := d.store.SaveCurrentTask(t); err != nil {
		return &Error{Kind: CollaboratorIO, Stage: string(stageinfer.CompressHash), Cause: err}
	}
	return nil
}

func (d *Driver) handleEncrypt(t *backupmodel.CurrentTask, i int) error {
	path := d.chunkPath(t, i) + d.compressor.Extension()
	if _, err := d.encryptor.Encrypt(path); err != nil {
		return &Error{Kind: CollaboratorIO, Stage: string(stageinfer.Encrypt), Cause: err}
	}
	t.Stage.Encrypted++
	if err := d.store.SaveCurrentTask(t); err != nil {
		return &Error{Kind: CollaboratorIO, Stage: string(stageinfer.Encrypt), Cause: err}
	}
	return nil
}

// handleEncryptTest verifies chunk i's encrypted form without an expected
// plaintext hash, since no per-chunk hash is stored (only the combined
// compressed_hash is); it relies on the encryption adapter's own
// authentication (GCM tag) to establish integrity, then deletes the
// compressed plaintext.
func (d *Driver) handleEncryptTest(t *backupmodel.CurrentTask, i int) error {
	path := d.chunkPath(t, i) + d.compressor.Extension() + d.encryptor.Extension()
	if err := d.encryptor.Verify(path, nil, d.hasher); err != nil {
		return &Error{Kind: VerificationFailure, Stage: string(stageinfer.EncryptTest), Cause: err}
	}
	if err := os.Remove(d.chunkPath(t, i) + d.compressor.Extension()); err != nil && !os.IsNotExist(err) {
		return &Error{Kind: CollaboratorIO, Stage: string(stageinfer.EncryptTest), Cause: err}
	}
	t.Stage.EncryptedTest++
	if err := d.store.SaveCurrentTask(t); err != nil {
		return &Error{Kind: CollaboratorIO, Stage: string(stageinfer.EncryptTest), Cause: err}
	}
	return nil
}

// handleEncryptHash computes the remote-content hash chain over all
// encrypted chunks, the digest the driver hands to the remote store as
// the object-level checksum basis.
func (d *Driver) handleEncryptHash(t *backupmodel.CurrentTask) error {
	var chain []byte
	for i := 0; i < t.SplitQuantity; i++ {
		path := d.chunkPath(t, i) + d.compressor.Extension() + d.encryptor.Extension()
		data, err := os.ReadFile(path)
		if err != nil {
			return &Error{Kind: CollaboratorIO, Stage: string(stageinfer.EncryptHash), Cause: err}
		}
		chain = hashing.Chain(d.hasher, chain, data)
	}
	t.Stage.EncryptedHash = chain
	if err := d.store.SaveCurrentTask(t); err != nil {
		return &Error{Kind: CollaboratorIO, Stage: string(stageinfer.EncryptHash), Cause: err}
	}
	return nil
}

func (d *Driver) handleUpload(ctx context.Context, t *backupmodel.CurrentTask, i int) error {
	path := d.chunkPath(t, i) + d.compressor.Extension() + d.encryptor.Extension()
	key := fmt.Sprintf("%s/%s_%s/%s", t.Dataset, t.Type, t.Base, filepath.Base(path))

	tags := map[string]string{"backup-type": string(t.Type)}
	metadata := map[string]string{
		"dataset":      t.Dataset,
		"base-snapshot": t.Base,
		"ref-snapshot":  t.Ref,
	}

	// The object-level checksum is computed by the driver from the
	// remote hasher over the exact bytes being uploaded, per spec §4.F --
	// never left to the store to compute on its own.
	checksum, err := d.hasher.HashFile(path)
	if err != nil {
		return &Error{Kind: CollaboratorIO, Stage: string(stageinfer.Upload), Cause: err}
	}

	if err := d.remote.Upload(ctx, path, d.bucket, key, tags, metadata, checksum); err != nil {
		return classifyCollaboratorErr(ctx, string(stageinfer.Upload), err)
	}
	t.Stage.Uploaded++
	if err := d.store.SaveCurrentTask(t); err != nil {
		return &Error{Kind: CollaboratorIO, Stage: string(stageinfer.Upload), Cause: err}
	}
	return nil
}

func (d *Driver) handleClear(t *backupmodel.CurrentTask, i int) error {
	path := d.chunkPath(t, i) + d.compressor.Extension() + d.encryptor.Extension()
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return &Error{Kind: CollaboratorIO, Stage: string(stageinfer.Clear), Cause: err}
	}
	t.Stage.Cleared++
	if err := d.store.SaveCurrentTask(t); err != nil {
		return &Error{Kind: CollaboratorIO, Stage: string(stageinfer.Clear), Cause: err}
	}
	return nil
}

func (d *Driver) handleDone(ctx context.Context, t *backupmodel.CurrentTask) error {
	if err := d.producer.SetLatest(ctx, t.Dataset, snapshotproducer.BackupType(t.Type), t.Base); err != nil {
		return classifyCollaboratorErr(ctx, string(stageinfer.Done), err)
	}
	if err := os.RemoveAll(d.taskDir(t)); err != nil && !os.IsNotExist(err) {
		return &Error{Kind: CollaboratorIO, Stage: string(stageinfer.Done), Cause: err}
	}
	if err := d.dequeue(); err != nil {
		return &Error{Kind: CollaboratorIO, Stage: string(stageinfer.Done), Cause: err}
	}
	return nil
}
