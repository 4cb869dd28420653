package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// lockRetryInterval is how often a blocked writer re-attempts the
// advisory lock while waiting.
const lockRetryInterval = 25 * time.Millisecond

// withFileLock runs fn while holding an exclusive advisory lock. The wait
// for the lock is bounded; beyond it the write fails with ErrLockTimeout
// so the caller can surface a transient error instead of stalling the
// session loop.
func withFileLock(ctx context.Context, lockPath string, wait time.Duration, fn func() error) error {
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return fmt.Errorf("state: prepare lock dir: %w", err)
	}
	lockCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	fl := flock.New(lockPath)
	locked, err := fl.TryLockContext(lockCtx, lockRetryInterval)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("state: lock %s: %w", lockPath, err)
	}
	if !locked {
		return fmt.Errorf("%w: %s after %s", ErrLockTimeout, filepath.Base(lockPath), wait)
	}
	defer fl.Unlock()

	return fn()
}

// readDocument loads a JSON object from disk. A missing file reports
// fs.ErrNotExist for callers that lazily create state.
func readDocument(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("state: %s: %w", path, fs.ErrNotExist)
		}
		return nil, fmt.Errorf("state: read %s: %w", path, err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("state: decode %s: %w", path, err)
	}
	return doc, nil
}

// writeDocument persists a JSON object atomically: marshal to a sibling
// temp file, then rename over the target. Readers observe either the old
// or the new snapshot, never a torn write.
func writeDocument(path string, doc Document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("state: encode %s: %w", path, err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("state: prepare %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("state: stage %s: %w", path, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("state: stage %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("state: stage %s: %w", path, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("state: stage %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("state: replace %s: %w", path, err)
	}
	return nil
}
