package secrets

import (
	"errors"
	"fmt"
	"strings"

	"github.com/zalando/go-keyring"
)

const (
	keyringService = "igautomate"
	keyringIndex   = "__index"
)

// KeyringStore keeps secrets in the system keychain. The keychain cannot
// enumerate entries, so the store maintains its own index entry.
type KeyringStore struct{}

// NewKeyringStore returns a keyring store if the keychain is usable
func NewKeyringStore() (*KeyringStore, error) {
	testKey := "test_availability"
	if err := keyring.Set(keyringService, testKey, "test"); err != nil {
		return nil, fmt.Errorf("keyring not available: %w", err)
	}
	_ = keyring.Delete(keyringService, testKey)

	return &KeyringStore{}, nil
}

func (k *KeyringStore) Name() string { return "keyring" }

func (k *KeyringStore) Set(name, value string) error {
	if err := validateName(name); err != nil {
		return err
	}
	if err := keyring.Set(keyringService, name, value); err != nil {
		return fmt.Errorf("failed to store in keyring: %w", err)
	}
	return k.updateIndex(name, true)
}

func (k *KeyringStore) Get(name string) (string, error) {
	v, err := keyring.Get(keyringService, name)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to retrieve from keyring: %w", err)
	}
	return v, nil
}

func (k *KeyringStore) Delete(name string) error {
	if err := keyring.Delete(keyringService, name); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to delete from keyring: %w", err)
	}
	return k.updateIndex(name, false)
}

func (k *KeyringStore) List() ([]string, error) {
	raw, err := keyring.Get(keyringService, keyringIndex)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if raw == "" {
		return nil, nil
	}
	return strings.Split(raw, ","), nil
}

func (k *KeyringStore) updateIndex(name string, present bool) error {
	names, err := k.List()
	if err != nil {
		return err
	}

	kept := names[:0]
	for _, n := range names {
		if n != name {
			kept = append(kept, n)
		}
	}
	if present {
		kept = append(kept, name)
	}
	return keyring.Set(keyringService, keyringIndex, strings.Join(kept, ","))
}
