// Package localstate keeps the client's offline copy of workspace progress.
// The snapshot is one JSON file in the progress backup shape; a sibling lock
// file keeps concurrent CLI processes from interleaving writes.
package localstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"gmptracker/internal/records"
)

// SnapshotFile is the fixed name of the progress snapshot.
const SnapshotFile = "gmp-compliance-tracker.json"

var ErrLocked = errors.New("snapshot is locked by another process")

var lockTimeout = 3 * time.Second

type Snapshot struct {
	path string
	lock *flock.Flock
}

// Open returns the snapshot stored under dir. Nothing is created until the
// first Save.
func Open(dir string) *Snapshot {
	path := filepath.Join(dir, SnapshotFile)
	return &Snapshot{path: path, lock: flock.New(path + ".lock")}
}

func (s *Snapshot) Path() string {
	return s.path
}

// Load returns the stored snapshot. ok is false when none has been saved.
func (s *Snapshot) Load() (records.Backup, bool, error) {
	unlock, err := s.acquire()
	if err != nil {
		return records.Backup{}, false, err
	}
	defer unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return records.Backup{}, false, nil
	}
	if err != nil {
		return records.Backup{}, false, fmt.Errorf("read snapshot: %w", err)
	}
	if len(data) == 0 {
		return records.Backup{}, false, nil
	}

	backup := records.EmptyBackup()
	if err := json.Unmarshal(data, &backup); err != nil {
		return records.Backup{}, false, fmt.Errorf("parse snapshot: %w", err)
	}
	if backup.Statuses == nil {
		backup.Statuses = map[string]records.Status{}
	}
	if backup.Notes == nil {
		backup.Notes = map[string]string{}
	}
	return backup, true, nil
}

// Save replaces the snapshot atomically.
func (s *Snapshot) Save(backup records.Backup) error {
	unlock, err := s.acquire()
	if err != nil {
		return err
	}
	defer unlock()

	data, err := json.MarshalIndent(backup, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), SnapshotFile+".*.tmp")
	if err != nil {
		return fmt.Errorf("create snapshot temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

// Clear removes the snapshot. Clearing a missing snapshot is not an error.
func (s *Snapshot) Clear() error {
	unlock, err := s.acquire()
	if err != nil {
		return err
	}
	defer unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove snapshot: %w", err)
	}
	return nil
}

func (s *Snapshot) acquire() (func(), error) {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return nil, fmt.Errorf("create snapshot dir: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), lockTimeout)
	defer cancel()

	locked, err := s.lock.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrLocked
		}
		return nil, fmt.Errorf("lock snapshot: %w", err)
	}
	if !locked {
		return nil, ErrLocked
	}
	return func() { _ = s.lock.Unlock() }, nil
}
