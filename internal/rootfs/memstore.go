package rootfs

import (
	"context"
	"sync"

	"github.com/tinyrange/msandbox/internal/metastore"
)

// InMemorySandboxStore is a non-persistent metastore.SandboxStore
// suitable for a single CLI invocation. Real deployments back this
// interface with a durable store; since persistent metadata storage is
// out of scope here, cmd/msandboxd uses this stand-in so the composer
// still has somewhere to read and write sandbox records.
type InMemorySandboxStore struct {
	mu      sync.Mutex
	records map[string]*metastore.SandboxRecord
}

// NewInMemorySandboxStore returns an empty store.
func NewInMemorySandboxStore() *InMemorySandboxStore {
	return &InMemorySandboxStore{records: make(map[string]*metastore.SandboxRecord)}
}

func (s *InMemorySandboxStore) GetSandbox(_ context.Context, name string) (*metastore.SandboxRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[name], nil
}

func (s *InMemorySandboxStore) SaveSandbox(_ context.Context, rec *metastore.SandboxRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.Name] = rec
	return nil
}
