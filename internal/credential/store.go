package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

const lockRetryDelay = 50 * time.Millisecond

// Record is the persisted form of a credential.
type Record struct {
	Value      string    `json:"value"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// Store persists the most recent live credential.
type Store interface {
	// Load returns the stored record; ok is false when nothing is stored.
	Load(ctx context.Context) (rec Record, ok bool, err error)
	Save(ctx context.Context, rec Record) error
}

// FileStore writes the credential record to a JSON file. Reads and writes take
// a sidecar file lock so several clipweave processes can share one store.
type FileStore struct {
	mu   sync.Mutex
	path string
	lock *flock.Flock
}

// NewFileStore builds a FileStore at path; the lock file lives next to it.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path, lock: flock.New(path + ".lock")}
}

// Path returns the credential file location.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads the record from disk. A missing or empty file resolves to ok=false.
func (s *FileStore) Load(ctx context.Context) (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return Record{}, false, fmt.Errorf("ensure credential directory: %w", err)
	}
	locked, err := s.lock.TryRLockContext(ctx, lockRetryDelay)
	if err != nil {
		return Record{}, false, fmt.Errorf("lock credential store: %w", err)
	}
	if !locked {
		return Record{}, false, errors.New("lock credential store: not acquired")
	}
	defer func() { _ = s.lock.Unlock() }()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Record{}, false, nil
		}
		return Record{}, false, fmt.Errorf("read credential store: %w", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return Record{}, false, nil
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, false, fmt.Errorf("decode credential store: %w", err)
	}
	rec.Value = strings.TrimSpace(rec.Value)
	if rec.Value == "" {
		return Record{}, false, nil
	}
	return rec, true, nil
}

// Save atomically replaces the record with restricted permissions.
func (s *FileStore) Save(ctx context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("ensure credential directory: %w", err)
	}
	locked, err := s.lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return fmt.Errorf("lock credential store: %w", err)
	}
	if !locked {
		return errors.New("lock credential store: not acquired")
	}
	defer func() { _ = s.lock.Unlock() }()

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encode credential store: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write credential store: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace credential store: %w", err)
	}
	return nil
}
