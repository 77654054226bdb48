package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"igautomate/pkg/engagement"
	"igautomate/pkg/logger"
)

const version = 1

// Snapshot is the on-disk copy of the engagement index
type Snapshot struct {
	Version int                 `json:"version"`
	SavedAt time.Time           `json:"saved_at"`
	Records []engagement.Record `json:"records"`
}

// Manager reads and writes one snapshot file
type Manager struct {
	path   string
	logger logger.Logger
}

// NewManager creates a manager for the snapshot at path
func NewManager(path string, log logger.Logger) *Manager {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Manager{path: path, logger: log}
}

// Path returns the snapshot file location
func (m *Manager) Path() string {
	return m.path
}

// Load reads the snapshot. A missing file yields nil records and no error.
func (m *Manager) Load() ([]engagement.Record, error) {
	file, err := os.Open(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open snapshot file: %w", err)
	}
	defer file.Close()

	var snap Snapshot
	if err := json.NewDecoder(file).Decode(&snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	if snap.Version != version {
		return nil, fmt.Errorf("unsupported snapshot version %d", snap.Version)
	}

	m.logger.InfoWithFields("Snapshot loaded", map[string]interface{}{
		"path":     m.path,
		"records":  len(snap.Records),
		"saved_at": snap.SavedAt,
	})

	return snap.Records, nil
}

// Save writes records to disk atomically
func (m *Manager) Save(records []engagement.Record, savedAt time.Time) error {
	if err := os.MkdirAll(filepath.Dir(m.path), 0755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	tempPath := m.path + ".tmp"
	file, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("failed to create temporary snapshot file: %w", err)
	}

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(Snapshot{Version: version, SavedAt: savedAt, Records: records}); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to sync snapshot file: %w", err)
	}

	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to close snapshot file: %w", err)
	}

	if err := os.Rename(tempPath, m.path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to replace snapshot file: %w", err)
	}

	m.logger.InfoWithFields("Snapshot saved", map[string]interface{}{
		"path":    m.path,
		"records": len(records),
	})

	return nil
}

// Delete removes the snapshot file
func (m *Manager) Delete() error {
	if err := os.Remove(m.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	return nil
}

// DefaultPath returns the per-user location suggested by `config init`
func DefaultPath() (string, error) {
	var dataDir string

	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dataDir = filepath.Join(home, "Library", "Application Support", "igautomate")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			return "", fmt.Errorf("APPDATA environment variable not set")
		}
		dataDir = filepath.Join(appData, "igautomate")
	default:
		if xdgDataHome := os.Getenv("XDG_DATA_HOME"); xdgDataHome != "" {
			dataDir = filepath.Join(xdgDataHome, "igautomate")
		} else {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			dataDir = filepath.Join(home, ".local", "share", "igautomate")
		}
	}

	return filepath.Join(dataDir, "engagement.snapshot.json"), nil
}
