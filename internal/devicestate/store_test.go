package devicestate

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestOpenCreatesInstallID(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "device.json")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if !strings.HasPrefix(store.InstallID(), "vgo1") {
		t.Fatalf("install id = %q, want vgo1 prefix", store.InstallID())
	}
	if store.GuideShown() {
		t.Fatalf("fresh device must not have the guide marker set")
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if reopened.InstallID() != store.InstallID() {
		t.Fatalf("install id must be stable across opens")
	}
}

func TestMarkGuideShownPersists(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "device.json")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := store.MarkGuideShown(); err != nil {
		t.Fatalf("mark: %v", err)
	}
	if err := store.MarkGuideShown(); err != nil {
		t.Fatalf("second mark must be a no-op, got %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if !reopened.GuideShown() {
		t.Fatalf("guide marker must survive restart")
	}
}

func TestOpenRejectsCorruptState(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "device.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Open(path); err == nil {
		t.Fatalf("corrupt device state must fail open")
	}
}
