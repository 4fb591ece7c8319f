package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/assistant-bridge/internal/domain"
	"github.com/gofrs/flock"
)

const lockRetryDelay = 100 * time.Millisecond

// RecordStore persists the SyncRecord as a single JSON object on disk.
type RecordStore struct {
	path string
}

// NewRecordStore creates a store for the record at path.
func NewRecordStore(path string) *RecordStore {
	return &RecordStore{path: path}
}

// Path returns the location of the record file.
func (s *RecordStore) Path() string {
	return s.path
}

// Load returns the persisted record, or nil if no record exists. A record that
// cannot be decoded or lacks a required field yields ErrInvalidSyncRecord.
func (s *RecordStore) Load() (*domain.SyncRecord, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read sync record %s: %w: %w", s.path, domain.ErrIO, err)
	}

	var rec domain.SyncRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode sync record %s: %w: %w", s.path, domain.ErrInvalidSyncRecord, err)
	}
	if !rec.Valid() {
		return &rec, fmt.Errorf("sync record %s: %w", s.path, domain.ErrInvalidSyncRecord)
	}
	return &rec, nil
}

// Save atomically replaces the record: readers see either the old or the new
// content, never a partial write.
func (s *RecordStore) Save(rec *domain.SyncRecord) error {
	if !rec.Valid() {
		return fmt.Errorf("save sync record: %w", domain.ErrInvalidSyncRecord)
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encode sync record: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create sync record directory: %w: %w", domain.ErrIO, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp sync record: %w: %w", domain.ErrIO, err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp sync record: %w: %w", domain.ErrIO, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp sync record: %w: %w", domain.ErrIO, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp sync record: %w: %w", domain.ErrIO, err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace sync record %s: %w: %w", s.path, domain.ErrIO, err)
	}
	return nil
}

// Lock takes an exclusive cross-process lock on the record. It blocks until
// the lock is acquired or ctx is done.
func (s *RecordStore) Lock(ctx context.Context) (func() error, error) {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return nil, fmt.Errorf("create sync record directory: %w: %w", domain.ErrIO, err)
	}
	lockPath := s.path + ".lock"
	fl := flock.New(lockPath)
	locked, err := fl.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("lock sync record %s: %w", lockPath, err)
	}
	if !locked {
		return nil, fmt.Errorf("lock sync record %s: not acquired", lockPath)
	}
	return fl.Unlock, nil
}
