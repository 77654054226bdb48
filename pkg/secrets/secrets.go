// Package secrets resolves named secrets, such as the store connection
// string, from the system keychain, an encrypted file or the environment.
package secrets

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
)

var (
	ErrNotFound    = errors.New("secret not found")
	ErrInvalidName = errors.New("invalid secret name")
	ErrReadOnly    = errors.New("secret store is read-only")
)

// Store is one backend holding secrets by name
type Store interface {
	Name() string
	Set(name, value string) error
	Get(name string) (string, error)
	Delete(name string) error
	List() ([]string, error)
}

// Manager consults its stores in order. Writes go to the first store
// that accepts them; reads return the first hit.
type Manager struct {
	stores []Store
}

// NewManager builds the default chain: keychain when available, then an
// encrypted file under dir, then environment variables
func NewManager(dir string) (*Manager, error) {
	var stores []Store

	if ks, err := NewKeyringStore(); err == nil {
		stores = append(stores, ks)
	}

	if dir == "" {
		var err error
		dir, err = ConfigDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get config directory: %w", err)
		}
	}
	fs, err := NewEncryptedFileStore(filepath.Join(dir, "secrets.enc"), "")
	if err != nil {
		return nil, fmt.Errorf("failed to create encrypted store: %w", err)
	}
	stores = append(stores, fs, NewEnvironmentStore())

	return &Manager{stores: stores}, nil
}

// NewManagerWithStores builds a manager over explicit stores
func NewManagerWithStores(stores ...Store) *Manager {
	return &Manager{stores: stores}
}

// Stores returns the backend names in lookup order
func (m *Manager) Stores() []string {
	names := make([]string, 0, len(m.stores))
	for _, s := range m.stores {
		names = append(names, s.Name())
	}
	return names
}

// Set stores value under name in the first writable store and reports
// which store took it
func (m *Manager) Set(name, value string) (string, error) {
	if err := validateName(name); err != nil {
		return "", err
	}
	if value == "" {
		return "", errors.New("secret value is required")
	}

	var lastErr error
	for _, s := range m.stores {
		if err := s.Set(name, value); err != nil {
			lastErr = err
			continue
		}
		return s.Name(), nil
	}
	if lastErr != nil {
		return "", fmt.Errorf("failed to store secret: %w", lastErr)
	}
	return "", errors.New("no available secret stores")
}

// Get returns the first value found for name
func (m *Manager) Get(name string) (string, error) {
	if err := validateName(name); err != nil {
		return "", err
	}
	for _, s := range m.stores {
		if v, err := s.Get(name); err == nil && v != "" {
			return v, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrNotFound, name)
}

// Delete removes name from every store that has it
func (m *Manager) Delete(name string) error {
	if err := validateName(name); err != nil {
		return err
	}

	deleted := false
	var lastErr error
	for _, s := range m.stores {
		err := s.Delete(name)
		switch {
		case err == nil:
			deleted = true
		case errors.Is(err, ErrNotFound), errors.Is(err, ErrReadOnly):
		default:
			lastErr = err
		}
	}

	if !deleted && lastErr != nil {
		return fmt.Errorf("failed to delete secret: %w", lastErr)
	}
	if !deleted {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return nil
}

// List returns the distinct secret names known to any store
func (m *Manager) List() ([]string, error) {
	seen := make(map[string]struct{})
	for _, s := range m.stores {
		names, err := s.List()
		if err != nil {
			continue
		}
		for _, n := range names {
			seen[n] = struct{}{}
		}
	}

	out := make([]string, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Strings(out)
	return out, nil
}

// Mask hides all but the first and last four characters of s
func Mask(s string) string {
	if len(s) <= 8 {
		return "********"
	}
	return s[:4] + "..." + s[len(s)-4:]
}

func validateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty", ErrInvalidName)
	}
	for _, r := range name {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '_' || r == '-' || r == '.') {
			return fmt.Errorf("%w: %q", ErrInvalidName, name)
		}
	}
	return nil
}

// ConfigDir returns the per-user configuration directory, creating it
func ConfigDir() (string, error) {
	var configDir string

	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		configDir = filepath.Join(home, "Library", "Application Support", "igautomate")
	case "windows":
		configDir = filepath.Join(os.Getenv("APPDATA"), "igautomate")
	default:
		if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
			configDir = filepath.Join(xdgConfig, "igautomate")
		} else {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			configDir = filepath.Join(home, ".config", "igautomate")
		}
	}

	if err := os.MkdirAll(configDir, 0700); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}
	return configDir, nil
}

// envName maps a secret name to its environment variable
func envName(name string) string {
	r := strings.NewReplacer("-", "_", ".", "_")
	return envPrefix + strings.ToUpper(r.Replace(name))
}
