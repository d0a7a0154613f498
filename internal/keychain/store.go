package keychain

import (
	"errors"
	"fmt"
)

// Store is the interface for secret storage operations.
type Store interface {
	Set(key, value string) error
	Get(key string) (string, error)
	SetData(key string, data []byte) error
	Data(key string) ([]byte, error)
	List() ([]string, error)
	Delete(key string) error
	Exists(key string) (bool, error)
	GetMultiple(keys []string) (map[string]string, error)
	Clear() error
}

var _ Store = (*Keychain)(nil)

// Set stores a secret. Overwrites if it already exists.
func (k *Keychain) Set(key, value string) error {
	if err := k.SetString(key, value); err != nil {
		return fmt.Errorf("keychain set %q: %w", key, err)
	}
	return nil
}

// Get retrieves a secret. A missing key yields an error matching
// ErrItemNotFound.
func (k *Keychain) Get(key string) (string, error) {
	val, err := k.String(key)
	if err != nil {
		return "", fmt.Errorf("keychain get %q: %w", key, err)
	}
	return val, nil
}

// List returns all secret keys in the service.
func (k *Keychain) List() ([]string, error) {
	keys, err := k.Keys()
	if err != nil {
		return nil, fmt.Errorf("keychain list: %w", err)
	}
	return keys, nil
}

// Delete removes a secret. Deleting a missing key is not an error.
func (k *Keychain) Delete(key string) error {
	err := k.DeleteItem(key)
	if err != nil && !errors.Is(err, ErrItemNotFound) {
		return fmt.Errorf("keychain delete %q: %w", key, err)
	}
	return nil
}

// Exists reports whether a secret is stored under key.
func (k *Keychain) Exists(key string) (bool, error) {
	ok, err := k.HasItem(key)
	if err != nil {
		return false, fmt.Errorf("keychain exists %q: %w", key, err)
	}
	return ok, nil
}

// GetMultiple returns the values of the given keys. Missing keys are
// absent from the result; other failures abort.
func (k *Keychain) GetMultiple(keys []string) (map[string]string, error) {
	result := make(map[string]string, len(keys))
	for _, key := range keys {
		val, err := k.String(key)
		if errors.Is(err, ErrItemNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("keychain get %q: %w", key, err)
		}
		result[key] = val
	}
	return result, nil
}

// Clear removes all secrets in the service.
func (k *Keychain) Clear() error {
	if err := k.DeleteAll(); err != nil {
		return fmt.Errorf("keychain clear: %w", err)
	}
	return nil
}
