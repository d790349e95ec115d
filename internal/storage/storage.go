package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pfrederiksen/meteo-history/internal/station"
)

// ErrDirectoryNotFound is returned by Load when no directory has been saved yet
var ErrDirectoryNotFound = errors.New("station directory not found")

// Store handles persistence of the station directory
type Store struct {
	path string
}

// New creates a Store for the directory file at path
func New(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("directory file path is required")
	}

	// Expand ~ to home directory
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("getting home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	return &Store{path: path}, nil
}

// Path returns the resolved directory file location
func (s *Store) Path() string {
	return s.path
}

// Exists reports whether a directory has been saved
func (s *Store) Exists() bool {
	info, err := os.Stat(s.path)
	return err == nil && info.Mode().IsRegular()
}

// Load reads the directory from disk
func (s *Store) Load() (*station.Directory, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrDirectoryNotFound, s.path)
		}
		return nil, fmt.Errorf("reading directory: %w", err)
	}

	var dir station.Directory
	if err := json.Unmarshal(data, &dir); err != nil {
		return nil, fmt.Errorf("parsing directory: %w", err)
	}
	dir.Normalize()

	return &dir, nil
}

// Save replaces the directory on disk. The previous file stays intact until the new
// one is fully written.
func (s *Store) Save(dir *station.Directory) error {
	if dir == nil {
		return fmt.Errorf("saving directory: nil directory")
	}

	data, err := Encode(dir)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpName) // nolint:errcheck
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close() // nolint:errcheck
		return fmt.Errorf("writing directory: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close() // nolint:errcheck
		return fmt.Errorf("syncing directory: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing directory: %w", err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		return fmt.Errorf("setting directory permissions: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replacing directory: %w", err)
	}
	committed = true

	return nil
}

// Encode renders dir in the on-disk format
func Encode(dir *station.Directory) ([]byte, error) {
	stations := dir.Stations
	if stations == nil {
		stations = map[string]*station.Record{}
	}

	data, err := json.MarshalIndent(&station.Directory{
		CreatedAt: dir.CreatedAt,
		Stations:  stations,
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding directory: %w", err)
	}
	return append(data, '\n'), nil
}
