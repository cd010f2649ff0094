package credentials

import (
	"context"
	"errors"

	"github.com/zalando/go-keyring"

	"github.com/xalo2100/alfatechflow-sub001/internal/ports"
)

// DefaultKeyringService is the OS keychain service name used for blobs.
const DefaultKeyringService = "alfatechflow-gateway"

// KeyringStore keeps encrypted blobs in the OS keychain (macOS Keychain,
// Secret Service, Windows Credential Manager). Blobs use the same format
// as the SQL store, so the resolver treats both alike.
type KeyringStore struct {
	service string
}

// NewKeyringStore returns a store bound to service. An empty service
// selects DefaultKeyringService.
func NewKeyringStore(service string) *KeyringStore {
	if service == "" {
		service = DefaultKeyringService
	}
	return &KeyringStore{service: service}
}

// Lookup implements ports.CredentialStore.
func (k *KeyringStore) Lookup(ctx context.Context, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, ports.NewStoreError(k.Name(), key, "Lookup", err)
	}
	blob, err := keyring.Get(k.service, key)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, ports.NewStoreError(k.Name(), key, "Lookup", err)
	}
	return blob, true, nil
}

// Put stores an already encrypted blob.
func (k *KeyringStore) Put(_ context.Context, key, blob string) error {
	if err := keyring.Set(k.service, key, blob); err != nil {
		return ports.NewStoreError(k.Name(), key, "Put", err)
	}
	return nil
}

// Delete removes key. A missing key is not an error.
func (k *KeyringStore) Delete(_ context.Context, key string) error {
	err := keyring.Delete(k.service, key)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return ports.NewStoreError(k.Name(), key, "Delete", err)
	}
	return nil
}

// Name implements ports.CredentialStore.
func (k *KeyringStore) Name() string { return "keyring:" + k.service }

var _ ports.CredentialStore = (*KeyringStore)(nil)
