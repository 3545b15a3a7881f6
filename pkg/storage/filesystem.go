package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/d-kuro/sessionclient/pkg/constants"
)

// FileSystemBackend implements Backend with a single JSON object file.
// It is the default durable backend.
type FileSystemBackend struct {
	baseDir string
	mu      sync.Mutex
}

// NewFileSystemBackend creates a new filesystem-based backend.
// If baseDir is empty, it will use the default directory (~/.sessionclient).
func NewFileSystemBackend(baseDir string) (*FileSystemBackend, error) {
	if baseDir == "" {
		var err error
		baseDir, err = getDefaultStorageDir()
		if err != nil {
			return nil, err
		}
	}

	if err := ensureDir(baseDir); err != nil {
		return nil, err
	}

	return &FileSystemBackend{
		baseDir: baseDir,
	}, nil
}

// Get implements Backend.Get.
func (fs *FileSystemBackend) Get(key string) (string, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	values, err := loadValuesFromFile(fs.Path())
	if err != nil {
		return "", err
	}
	v, ok := values[key]
	if !ok {
		return "", ErrStorageNotFound
	}
	return v, nil
}

// Set implements Backend.Set.
func (fs *FileSystemBackend) Set(key, value string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	values, err := loadValuesFromFile(fs.Path())
	if err != nil && !errors.Is(err, ErrStorageNotFound) {
		return err
	}
	if values == nil {
		values = make(map[string]string)
	}
	values[key] = value
	return storeValuesToFile(fs.Path(), values)
}

// Delete implements Backend.Delete. The file is removed once it holds no keys.
func (fs *FileSystemBackend) Delete(key string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	values, err := loadValuesFromFile(fs.Path())
	if err != nil {
		if errors.Is(err, ErrStorageNotFound) {
			return nil
		}
		if errors.Is(err, ErrStorageCorrupted) {
			return removeFile(fs.Path())
		}
		return err
	}
	if _, ok := values[key]; !ok {
		return nil
	}
	delete(values, key)
	if len(values) == 0 {
		return removeFile(fs.Path())
	}
	return storeValuesToFile(fs.Path(), values)
}

// Name implements Backend.Name.
func (fs *FileSystemBackend) Name() string {
	return "filesystem"
}

// Path returns the credentials file location.
func (fs *FileSystemBackend) Path() string {
	return filepath.Join(fs.baseDir, constants.CredentialsFileName)
}

// getDefaultStorageDir returns the default directory for storing credentials.
func getDefaultStorageDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, constants.DefaultStorageDir), nil
}

// ensureDir creates the directory if it doesn't exist.
func ensureDir(dir string) error {
	if err := os.MkdirAll(dir, constants.DirPermissions); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	return nil
}

// loadValuesFromFile loads the key/value map from a JSON file.
func loadValuesFromFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("credentials file does not exist at %s: %w", path, ErrStorageNotFound)
		}
		if os.IsPermission(err) {
			return nil, fmt.Errorf("failed to read credentials file at %s: %w", path, ErrStoragePermission)
		}
		return nil, fmt.Errorf("failed to read credentials file at %s: %w", path, err)
	}

	var values map[string]string
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("failed to parse credentials JSON at %s: %w", path, ErrStorageCorrupted)
	}

	return values, nil
}

// storeValuesToFile writes the key/value map to a JSON file with restricted permissions.
func storeValuesToFile(path string, values map[string]string) error {
	data, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal credentials to JSON for %s: %w", path, err)
	}

	if err := ensureDir(filepath.Dir(path)); err != nil {
		return err
	}

	// Write to a sibling file first so a crash never leaves a truncated file.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, constants.FilePermissions); err != nil {
		return fmt.Errorf("failed to write credentials file at %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace credentials file at %s: %w", path, err)
	}

	return nil
}

// removeFile removes a file.
func removeFile(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove credentials file at %s: %w", path, err)
	}
	return nil
}
