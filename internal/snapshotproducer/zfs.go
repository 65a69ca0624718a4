package snapshotproducer

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// ZFSProducer shells out to the zfs(8) binary, the way app/zfs_export.py
// did, but writes the whole `zfs send` stream to a single file rather
// than piping it through `split` -- internal/chunking owns splitting in
// this design. It is the production Producer; tests use MockProducer
// instead of requiring a real ZFS pool.
type ZFSProducer struct {
	latest LatestIndex
	log    *zap.Logger
}

// NewZFSProducer returns a ZFSProducer backed by latest for pointer
// resolution.
func NewZFSProducer(latest LatestIndex, log *zap.Logger) *ZFSProducer {
	return &ZFSProducer{latest: latest, log: log}
}

func (p *ZFSProducer) Filename() string { return "snapshot_stream" }

// Export runs `zfs send [-i ref] dataset@base > outputDir/Filename()`.
// It is idempotent: re-running it after a crash before
// snapshot_exported was committed simply overwrites the same
// deterministic output path with the same bytes.
func (p *ZFSProducer) Export(ctx context.Context, dataset, baseSnapshot, refSnapshot, outputDir string) (string, error) {
	baseArg := fmt.Sprintf("%s@%s", dataset, baseSnapshot)

	sendArgs := []string{"send", baseArg}
	if refSnapshot != "" {
		sendArgs = []string{"send", "-i", fmt.Sprintf("%s@%s", dataset, refSnapshot), baseArg}
	}

	outPath := filepath.Join(outputDir, p.Filename())
	out, err := os.Create(outPath)
	if err != nil {
		return "", fmt.Errorf("snapshotproducer: create %s: %w", outPath, err)
	}
	defer func() { _ = out.Close() }()

	cmd := exec.CommandContext(ctx, "zfs", sendArgs...)
	cmd.Stdout = out
	var stderr strings.Builder
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("snapshotproducer: zfs send %s: %w: %s", baseArg, err, stderr.String())
	}
	if err := out.Sync(); err != nil {
		return "", fmt.Errorf("snapshotproducer: sync %s: %w", outPath, err)
	}

	p.log.Info("exported snapshot stream",
		zap.String("dataset", dataset),
		zap.String("base", baseSnapshot),
		zap.String("ref", refSnapshot),
		zap.String("path", outPath),
	)
	return outPath, nil
}

// Verify runs a dry-run `zfs receive -n` against the produced stream,
// catching a truncated or structurally invalid send stream before the
// pipeline commits to chunking it.
func (p *ZFSProducer) Verify(ctx context.Context, dataset, path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, fmt.Errorf("snapshotproducer: open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	cmd := exec.CommandContext(ctx, "zfs", "receive", "-n", "-v", dataset+"/__verify_dry_run")
	cmd.Stdin = f
	var stderr strings.Builder
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		p.log.Warn("snapshot stream verification failed",
			zap.String("path", path), zap.String("stderr", stderr.String()))
		return false, nil
	}
	return true, nil
}

// List returns bare snapshot names (the part after '@'), newest first, so
// that callers can feed list(dataset)[0] straight into Export as
// baseSnapshot without it being double-qualified with the dataset name.
func (p *ZFSProducer) List(ctx context.Context, dataset string) ([]string, error) {
	cmd := exec.CommandContext(ctx, "zfs", "list", "-H", "-o", "name", "-t", "snapshot", dataset)
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("snapshotproducer: zfs list %s: %w", dataset, err)
	}
	lines := strings.Split(strings.TrimRight(string(out), "\n"), "\n")
	sort.Sort(sort.Reverse(sort.StringSlice(lines)))
	names := make([]string, 0, len(lines))
	for _, l := range lines {
		if l == "" {
			continue
		}
		if i := strings.IndexByte(l, '@'); i >= 0 {
			l = l[i+1:]
		}
		names = append(names, l)
	}
	return names, nil
}

func (p *ZFSProducer) GetLatest(ctx context.Context, dataset string, t BackupType) (string, bool, error) {
	name, ok, err := p.latest.GetLatest(dataset, t)
	if err != nil {
		return "", false, fmt.Errorf("snapshotproducer: get latest %s/%s: %w", dataset, t, err)
	}
	return name, ok, nil
}

func (p *ZFSProducer) SetLatest(ctx context.Context, dataset string, t BackupType, snapshot string) error {
	if err := p.latest.SetLatest(dataset, t, snapshot); err != nil {
		return fmt.Errorf("snapshotproducer: set latest %s/%s: %w", dataset, t, err)
	}
	return nil
}
