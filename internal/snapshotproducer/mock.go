package snapshotproducer

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// errMockShutdown wraps context.Canceled so a simulated shutdown is
// indistinguishable, from the caller's errors.Is-based classification, from
// a real collaborator observing ctx cancellation mid-call.
var errMockShutdown = fmt.Errorf("snapshotproducer: mock: shutting down: %w", context.Canceled)

// MockProducer is a deterministic, no-ZFS-required Producer for tests,
// grounded on app/snapshot_handler.py's MockSnapshotHandler: it writes a
// fixed-size repeating-byte stream instead of shelling out, and records
// every Export call for assertions. StreamSize lets tests exercise exact
// chunk-boundary behavior (B1).
type MockProducer struct {
	latest      LatestIndex
	Snapshots   []string
	StreamSize  int64
	Shutdown    bool
	VerifyFails bool
	ExportCalls []MockExportCall
}

// MockExportCall records one Export invocation for test assertions.
type MockExportCall struct {
	Dataset, Base, Ref, OutputDir string
}

// NewMockProducer returns a MockProducer that writes a streamSize-byte
// stream per Export call.
func NewMockProducer(latest LatestIndex, streamSize int64) *MockProducer {
	return &MockProducer{latest: latest, StreamSize: streamSize}
}

func (m *MockProducer) Filename() string { return "mock_snapshot_stream" }

func (m *MockProducer) Export(ctx context.Context, dataset, baseSnapshot, refSnapshot, outputDir string) (string, error) {
	if m.Shutdown {
		return "", errMockShutdown
	}
	m.ExportCalls = append(m.ExportCalls, MockExportCall{dataset, baseSnapshot, refSnapshot, outputDir})

	outPath := filepath.Join(outputDir, m.Filename())
	f, err := os.Create(outPath)
	if err != nil {
		return "", fmt.Errorf("snapshotproducer: mock: create %s: %w", outPath, err)
	}
	defer func() { _ = f.Close() }()

	// Deterministic, non-constant content so chunk hashes differ across
	// chunks -- each byte encodes its own offset mod 251.
	buf := bytes.Repeat([]byte{0}, 64*1024)
	var written int64
	for written < m.StreamSize {
		n := int64(len(buf))
		if remaining := m.StreamSize - written; remaining < n {
			n = remaining
		}
		for i := int64(0); i < n; i++ {
			buf[i] = byte((written + i) % 251)
		}
		if _, err := f.Write(buf[:n]); err != nil {
			return "", fmt.Errorf("snapshotproducer: mock: write %s: %w", outPath, err)
		}
		written += n
	}
	return outPath, nil
}

func (m *MockProducer) Verify(ctx context.Context, dataset, path string) (bool, error) {
	if m.Shutdown {
		return false, errMockShutdown
	}
	return !m.VerifyFails, nil
}

// List returns the bare snapshot names configured on m.Snapshots, newest
// first, matching the order tests seed them in -- no dataset-prefixing,
// so list(dataset)[0] can be fed straight into Export as baseSnapshot.
func (m *MockProducer) List(ctx context.Context, dataset string) ([]string, error) {
	if m.Shutdown {
		return nil, errMockShutdown
	}
	out := make([]string, len(m.Snapshots))
	copy(out, m.Snapshots)
	return out, nil
}

func (m *MockProducer) GetLatest(ctx context.Context, dataset string, t BackupType) (string, bool, error) {
	if m.Shutdown {
		return "", false, errMockShutdown
	}
	return m.latest.GetLatest(dataset, t)
}

func (m *MockProducer) SetLatest(ctx context.Context, dataset string, t BackupType, snapshot string) error {
	if m.Shutdown {
		return errMockShutdown
	}
	return m.latest.SetLatest(dataset, t, snapshot)
}
