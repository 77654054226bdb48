package secrets

import (
	"os"
	"strings"
)

const envPrefix = "IGAUTOMATE_SECRET_"

// EnvironmentStore reads secrets from IGAUTOMATE_SECRET_<NAME> variables.
// Dashes and dots in the name become underscores. It is read-only.
type EnvironmentStore struct{}

func NewEnvironmentStore() *EnvironmentStore {
	return &EnvironmentStore{}
}

func (e *EnvironmentStore) Name() string { return "environment" }

func (e *EnvironmentStore) Set(name, value string) error {
	return ErrReadOnly
}

func (e *EnvironmentStore) Get(name string) (string, error) {
	if v := os.Getenv(envName(name)); v != "" {
		return v, nil
	}
	return "", ErrNotFound
}

func (e *EnvironmentStore) Delete(name string) error {
	return ErrReadOnly
}

// List returns lower-cased names of the secrets found in the environment
func (e *EnvironmentStore) List() ([]string, error) {
	var names []string
	for _, kv := range os.Environ() {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || value == "" || !strings.HasPrefix(key, envPrefix) {
			continue
		}
		names = append(names, strings.ToLower(strings.TrimPrefix(key, envPrefix)))
	}
	return names, nil
}
