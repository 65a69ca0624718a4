package remotestore

import (
	"context"
	"fmt"
	"os"
)

// MockObject records one uploaded object for test assertions, grounded on
// app/remote_handler.py's MockRemoteStorageHandler.
type MockObject struct {
	Content  []byte
	Tags     map[string]string
	Metadata map[string]string
	Checksum []byte
}

// MockStore is an in-memory Store for tests.
type MockStore struct {
	Objects map[string]MockObject
}

// NewMockStore returns an empty MockStore.
func NewMockStore() *MockStore {
	return &MockStore{Objects: make(map[string]MockObject)}
}

func (m *MockStore) Upload(ctx context.Context, path, bucket, key string, tags, metadata map[string]string, checksum []byte) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("remotestore: mock: read %s: %w", path, err)
	}
	m.Objects[bucket+"/"+key] = MockObject{Content: data, Tags: tags, Metadata: metadata, Checksum: checksum}
	return nil
}

func (m *MockStore) Delete(ctx context.Context, bucket, key string) error {
	delete(m.Objects, bucket+"/"+key)
	return nil
}
