package storage

import (
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"

	"github.com/d-kuro/sessionclient/pkg/constants"
)

// KeyringBackend stores values in the operating system keychain
// (macOS Keychain, Windows Credential Manager, Secret Service on Linux).
type KeyringBackend struct {
	service string
}

// NewKeyringBackend creates a backend under the given service name.
// An empty service uses "sessionclient".
func NewKeyringBackend(service string) *KeyringBackend {
	if service == "" {
		service = constants.DefaultKeyringName
	}
	return &KeyringBackend{service: service}
}

// Get implements Backend.Get.
func (k *KeyringBackend) Get(key string) (string, error) {
	v, err := keyring.Get(k.service, key)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", ErrStorageNotFound
		}
		return "", fmt.Errorf("keyring get %s: %w: %v", key, ErrStorageUnavailable, err)
	}
	return v, nil
}

// Set implements Backend.Set.
func (k *KeyringBackend) Set(key, value string) error {
	if err := keyring.Set(k.service, key, value); err != nil {
		return fmt.Errorf("keyring set %s: %w: %v", key, ErrStorageUnavailable, err)
	}
	return nil
}

// Delete implements Backend.Delete.
func (k *KeyringBackend) Delete(key string) error {
	if err := keyring.Delete(k.service, key); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("keyring delete %s: %w: %v", key, ErrStorageUnavailable, err)
	}
	return nil
}

// Name implements Backend.Name.
func (k *KeyringBackend) Name() string {
	return "keyring"
}
