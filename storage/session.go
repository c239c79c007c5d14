package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const fileExt = ".session"

// FileStorage implements fiber's Storage interface with one JSON file per key.
type FileStorage struct {
	dir string
	mu  sync.RWMutex
	now func() time.Time
}

type entry struct {
	Value     []byte    `json:"value"`
	ExpiresAt time.Time `json:"expires_at"`
}

// NewFileStorage creates a new file storage instance
func NewFileStorage(directory string) (*FileStorage, error) {
	if err := os.MkdirAll(directory, 0700); err != nil {
		return nil, err
	}

	return &FileStorage{
		dir: directory,
		now: time.Now,
	}, nil
}

// Get returns the value stored under key, or nil if it is missing or expired.
func (s *FileStorage) Get(key string) ([]byte, error) {
	s.mu.RLock()
	data, err := s.readFile(key)
	s.mu.RUnlock()

	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	if !data.ExpiresAt.IsZero() && s.now().After(data.ExpiresAt) {
		if err := s.Delete(key); err != nil {
			return nil, err
		}
		return nil, nil
	}

	return data.Value, nil
}

// Set stores val under key. A zero exp keeps the value forever.
func (s *FileStorage) Set(key string, val []byte, exp time.Duration) error {
	if key == "" || len(val) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data := entry{Value: val}
	if exp > 0 {
		data.ExpiresAt = s.now().Add(exp)
	}

	return s.writeFile(key, data)
}

// Delete removes the file for key.
func (s *FileStorage) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.getPath(key))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Reset removes all stored files.
func (s *FileStorage) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir, err := os.ReadDir(s.dir)
	if err != nil {
		return err
	}

	for _, d := range dir {
		if filepath.Ext(d.Name()) == fileExt {
			if err := os.Remove(filepath.Join(s.dir, d.Name())); err != nil && !errors.Is(err, os.ErrNotExist) {
				return err
			}
		}
	}

	return nil
}

// Close implements Storage.Close
func (s *FileStorage) Close() error {
	return nil
}

// Helper methods

// getPath maps a key to a file name. Keys come from cookies, so anything
// outside a conservative alphabet is hashed.
func (s *FileStorage) getPath(key string) string {
	name := key
	if strings.ContainsFunc(key, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '_')
	}) {
		sum := sha256.Sum256([]byte(key))
		name = hex.EncodeToString(sum[:])
	}
	return filepath.Join(s.dir, name+fileExt)
}

func (s *FileStorage) readFile(key string) (*entry, error) {
	data, err := os.ReadFile(s.getPath(key))
	if err != nil {
		return nil, err
	}

	var e entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}

	return &e, nil
}

func (s *FileStorage) writeFile(key string, data entry) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	// Write then rename so a reader never sees a half-written file.
	tmp, err := os.CreateTemp(s.dir, "tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(jsonData); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), s.getPath(key))
}
