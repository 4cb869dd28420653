package health

import (
	"context"
	"path/filepath"
	"testing"
)

type stubBus struct{ connected bool }

func (s stubBus) Connected() bool { return s.connected }

func TestBusChecker(t *testing.T) {
	t.Parallel()

	if err := BusChecker(stubBus{connected: true}).Check(context.Background()); err != nil {
		t.Errorf("connected bus reported not ready: %v", err)
	}
	if err := BusChecker(stubBus{connected: false}).Check(context.Background()); err == nil {
		t.Error("disconnected bus reported ready")
	}
}

func TestDataDirChecker(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if err := DataDirChecker(dir).Check(context.Background()); err != nil {
		t.Errorf("writable dir reported not ready: %v", err)
	}

	missing := filepath.Join(dir, "does", "not", "exist")
	if err := DataDirChecker(missing).Check(context.Background()); err == nil {
		t.Error("missing dir reported ready")
	}
}
