package credentials

import (
	"context"
	"sync"

	"github.com/xalo2100/alfatechflow-sub001/internal/ports"
)

// MemoryStore is an in-process CredentialStore for tests and embedding.
type MemoryStore struct {
	mu   sync.Mutex
	rows map[string]string

	// Err, when set, makes every Lookup fail as if the store were
	// unreachable.
	Err error
	// Lookups counts Lookup calls.
	Lookups int
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[string]string)}
}

// Put stores an already encrypted blob under key.
func (m *MemoryStore) Put(_ context.Context, key, blob string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[key] = blob
	return nil
}

// Lookup implements ports.CredentialStore.
func (m *MemoryStore) Lookup(ctx context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	m.Lookups++
	fail := m.Err
	blob, ok := m.rows[key]
	m.mu.Unlock()

	if fail != nil {
		return "", false, ports.NewStoreError(m.Name(), key, "Lookup", fail)
	}
	if err := ctx.Err(); err != nil {
		return "", false, ports.NewStoreError(m.Name(), key, "Lookup", err)
	}
	return blob, ok, nil
}

// Name implements ports.CredentialStore.
func (m *MemoryStore) Name() string { return "memory" }

var _ ports.CredentialStore = (*MemoryStore)(nil)
