package changecache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileStore keeps the cache as one JSON object on local disk.
type FileStore struct {
	path string
}

// NewFileStore builds a store rooted at path.
func NewFileStore(path string) (*FileStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("cache file path required")
	}
	return &FileStore{path: path}, nil
}

// LoadAll returns an empty map when the file does not exist yet.
func (s *FileStore) LoadAll(ctx context.Context) (map[string]Entry, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]Entry{}, nil
		}
		return nil, fmt.Errorf("%w: read %s: %v", ErrCorrupt, s.path, err)
	}
	return decodeEntries(data)
}

// SaveAll writes to a temp file in the same directory and renames it over the old one.
func (s *FileStore) SaveAll(ctx context.Context, entries map[string]Entry) error {
	data, err := encodeEntries(entries)
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %q: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp cache file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp cache file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace cache file: %w", err)
	}
	return nil
}

func decodeEntries(data []byte) (map[string]Entry, error) {
	entries := map[string]Entry{}
	if len(strings.TrimSpace(string(data))) == 0 {
		return entries, nil
	}
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if entries == nil {
		entries = map[string]Entry{}
	}
	return entries, nil
}

func encodeEntries(entries map[string]Entry) ([]byte, error) {
	if entries == nil {
		entries = map[string]Entry{}
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return nil, fmt.Errorf("encode change cache: %w", err)
	}
	return data, nil
}
