package ports

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestStoreError tests message formatting and unwrapping of StoreError.
func TestStoreError(t *testing.T) {
	err := NewStoreError("sql", "gemini_api_key", "Lookup", ErrStoreUnavailable)

	assert.Equal(t,
		"store error: store=sql, operation=Lookup, key=gemini_api_key, err=credential store unavailable",
		err.Error())
	assert.True(t, errors.Is(err, ErrStoreUnavailable), "should unwrap to the sentinel")
}

// TestCacheError tests the functionality of the CacheError error type.
func TestCacheError(t *testing.T) {
	err := NewCacheError("cloud|https://host|anon", "Get", ErrCacheCorrupted)

	assert.Equal(t, "cache error: operation=Get, key=cloud|https://host|anon, err=cache corrupted", err.Error())
	assert.Equal(t, "Get", err.Operation)
	assert.True(t, errors.Is(err, ErrCacheCorrupted))
}

// TestConfigError tests the functionality of the ConfigError error type.
func TestConfigError(t *testing.T) {
	err := NewConfigError("providers.cloud.host", ErrConfigNotFound)

	assert.Equal(t, "config error: key=providers.cloud.host, err=configuration not found", err.Error())
	assert.Equal(t, "providers.cloud.host", err.ConfigKey)
	assert.True(t, errors.Is(err, ErrConfigNotFound))
}
