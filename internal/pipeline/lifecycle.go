package pipeline

import (
	"context"
	"fmt"

	"github.com/ziteh/zfs-remote-backup/internal/backupmodel"
	"github.com/ziteh/zfs-remote-backup/internal/snapshotproducer"
)

// Enqueue appends target to the persisted queue. Grounded on
// app/status_manager.py's enqueue_task.
func (d *Driver) Enqueue(target backupmodel.BackupTarget) error {
	q, err := d.store.LoadQueue()
	if err != nil {
		return fmt.Errorf("pipeline: enqueue: %w", err)
	}
	q.Tasks = append(q.Tasks, target)
	if err := d.store.SaveQueue(q); err != nil {
		return fmt.Errorf("pipeline: enqueue: %w", err)
	}
	return nil
}

// ensureCurrentTask initializes a fresh CurrentTask from the queue head
// if one is not already persisted, per spec §4.I. It resolves base/ref by
// querying the producer, and is idempotent: if a current task already
// exists it is returned unchanged.
func (d *Driver) ensureCurrentTask(ctx context.Context) (*backupmodel.CurrentTask, error) {
	existing, ok, err := d.store.LoadCurrentTask()
	if err != nil {
		return nil, &Error{Kind: CollaboratorIO, Stage: "init", Cause: err}
	}
	if ok {
		return existing, nil
	}

	q, err := d.store.LoadQueue()
	if err != nil {
		return nil, &Error{Kind: CollaboratorIO, Stage: "init", Cause: err}
	}
	if len(q.Tasks) == 0 {
		return nil, nil
	}
	head := q.Tasks[0]

	snapshots, err := d.producer.List(ctx, head.Dataset)
	if err != nil {
		return nil, classifyCollaboratorErr(ctx, "init", err)
	}
	if len(snapshots) == 0 {
		return nil, &Error{Kind: CollaboratorIO, Stage: "init", Cause: fmt.Errorf("list snapshots for %s: no snapshots found", head.Dataset)}
	}
	base := snapshots[0]

	ref := ""
	switch head.Type {
	case backupmodel.Full:
		ref = ""
	case backupmodel.Diff:
		ref, err = d.resolveRef(ctx, head.Dataset, snapshotproducer.Full)
	case backupmodel.Incr:
		ref, err = d.resolveRef(ctx, head.Dataset, snapshotproducer.Diff)
	}
	if err != nil {
		return nil, classifyCollaboratorErr(ctx, "init", err)
	}

	t := backupmodel.NewCurrentTask(head.Dataset, head.Type, base, ref)
	if err := d.store.SaveCurrentTask(t); err != nil {
		return nil, &Error{Kind: CollaboratorIO, Stage: "init", Cause: err}
	}
	return t, nil
}

// resolveRef looks up the latest snapshot of prerequisite type t for
// dataset. A missing pointer resolves to the ErrorNoneRef sentinel rather
// than an error, so the backup is never silently downgraded to full --
// it instead fails loudly and deterministically at snapshot_export.
func (d *Driver) resolveRef(ctx context.Context, dataset string, t snapshotproducer.BackupType) (string, error) {
	name, ok, err := d.producer.GetLatest(ctx, dataset, t)
	if err != nil {
		return "", err
	}
	if !ok || name == "" {
		return backupmodel.ErrorNoneRef, nil
	}
	return name, nil
}

// dequeue pops the head of the queue and clears the current task so the
// next call to ensureCurrentTask initializes the new head, if any.
func (d *Driver) dequeue() error {
	q, err := d.store.LoadQueue()
	if err != nil {
		return err
	}
	if len(q.Tasks) == 0 {
		return nil
	}
	q.Tasks = q.Tasks[1:]
	if err := d.store.SaveQueue(q); err != nil {
		return err
	}
	return d.store.DeleteCurrentTask()
}
