package snapshotproducer_test

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ziteh/zfs-remote-backup/internal/snapshotproducer"
	"github.com/ziteh/zfs-remote-backup/internal/statestore"
)

func TestMockProducer_ExportWritesExactStreamSize(t *testing.T) {
	store, err := statestore.Open(t.TempDir())
	require.NoError(t, err)
	p := snapshotproducer.NewMockProducer(store, 1024)

	outDir := t.TempDir()
	path, err := p.Export(context.Background(), "pool1", "s3", "", outDir)
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.EqualValues(t, 1024, info.Size())
	assert.Len(t, p.ExportCalls, 1)
	assert.Equal(t, "pool1", p.ExportCalls[0].Dataset)
}

func TestMockProducer_ExportFailsWhenShuttingDown(t *testing.T) {
	store, err := statestore.Open(t.TempDir())
	require.NoError(t, err)
	p := snapshotproducer.NewMockProducer(store, 128)
	p.Shutdown = true

	_, err = p.Export(context.Background(), "pool1", "s3", "", t.TempDir())
	assert.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled), "shutdown error must be detectable as cancellation")
}

func TestMockProducer_ListReturnsBareNamesNewestFirst(t *testing.T) {
	store, err := statestore.Open(t.TempDir())
	require.NoError(t, err)
	p := snapshotproducer.NewMockProducer(store, 128)
	p.Snapshots = []string{"s3", "s2", "s1"}

	names, err := p.List(context.Background(), "pool1")
	require.NoError(t, err)
	assert.Equal(t, []string{"s3", "s2", "s1"}, names)
}

func TestMockProducer_GetSetLatestDelegatesToIndex(t *testing.T) {
	store, err := statestore.Open(t.TempDir())
	require.NoError(t, err)
	p := snapshotproducer.NewMockProducer(store, 128)

	_, ok, err := p.GetLatest(context.Background(), "pool1", snapshotproducer.Full)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, p.SetLatest(context.Background(), "pool1", snapshotproducer.Full, "s3"))
	name, ok, err := p.GetLatest(context.Background(), "pool1", snapshotproducer.Full)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "s3", name)
}
