package health

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ConnectedReporter is the slice of the event bus readiness cares about.
type ConnectedReporter interface {
	Connected() bool
}

// BusChecker reports ready while the event bus backbone is reachable. A
// disconnected bus degrades delivery but not durability, so operators see
// it here rather than in failed writes.
func BusChecker(b ConnectedReporter) Checker {
	return Checker{
		Name: "bus",
		Check: func(context.Context) error {
			if !b.Connected() {
				return errors.New("event bus disconnected")
			}
			return nil
		},
	}
}

// DataDirChecker reports ready while the state directory accepts writes.
// It creates and removes a probe file on every evaluation.
func DataDirChecker(dir string) Checker {
	return Checker{
		Name: "data_dir",
		Check: func(context.Context) error {
			probe := filepath.Join(dir, ".readyz")
			if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
				return fmt.Errorf("data dir not writable: %w", err)
			}
			if err := os.Remove(probe); err != nil {
				return fmt.Errorf("data dir cleanup failed: %w", err)
			}
			return nil
		},
	}
}
