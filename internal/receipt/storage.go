package receipt

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ErrInvalidFilename is returned for names that would escape the storage root
var ErrInvalidFilename = errors.New("invalid filename")

// StoredFile describes a file held in storage
type StoredFile struct {
	Name    string
	ModTime time.Time
}

// Storage defines the interface for file storage operations
type Storage interface {
	// Save saves a file and returns the stored name
	Save(filename string, data []byte) (string, error)

	// Get retrieves a file by name
	Get(name string) ([]byte, error)

	// Delete removes a file
	Delete(name string) error

	// Path returns the filesystem path of a stored file
	Path(name string) (string, error)

	// List returns every stored file sorted by name
	List() ([]StoredFile, error)
}

// LocalStorage implements the Storage interface using local filesystem
type LocalStorage struct {
	basePath string
}

// NewLocalStorage creates a new LocalStorage instance
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}

	return &LocalStorage{
		basePath: basePath,
	}, nil
}

// Path resolves name inside the storage directory. Only bare file names
// are accepted.
func (l *LocalStorage) Path(name string) (string, error) {
	if name == "" || name == "." || name == ".." || filepath.Base(name) != name {
		return "", fmt.Errorf("%w: %q", ErrInvalidFilename, name)
	}
	return filepath.Join(l.basePath, name), nil
}

// Save saves a file to local storage
func (l *LocalStorage) Save(filename string, data []byte) (string, error) {
	path, err := l.Path(filename)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("writing file: %w", err)
	}
	return filename, nil
}

// Get retrieves a file from local storage
func (l *LocalStorage) Get(name string) ([]byte, error) {
	path, err := l.Path(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return data, nil
}

// Delete removes a file from local storage
func (l *LocalStorage) Delete(name string) error {
	path, err := l.Path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("deleting file: %w", err)
	}
	return nil
}

// List returns the regular files in the storage directory. os.ReadDir
// already sorts by name.
func (l *LocalStorage) List() ([]StoredFile, error) {
	entries, err := os.ReadDir(l.basePath)
	if err != nil {
		return nil, fmt.Errorf("listing storage: %w", err)
	}

	files := make([]StoredFile, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			// removed between ReadDir and Info
			continue
		}
		files = append(files, StoredFile{Name: e.Name(), ModTime: info.ModTime()})
	}
	return files, nil
}
