package rootfs

import (
	"os"
	"path/filepath"
	"testing"
)

func TestInstalledFalseByDefault(t *testing.T) {
	dir := t.TempDir()
	if Installed(dir) {
		t.Fatal("fresh directory should not report rootfs installed")
	}
}

func TestTouchMarkerThenInstalled(t *testing.T) {
	dir := t.TempDir()
	if err := touchMarker(dir); err != nil {
		t.Fatalf("touchMarker: %v", err)
	}
	if !Installed(dir) {
		t.Fatal("expected marker to be present after touchMarker")
	}

	data, err := os.ReadFile(filepath.Join(dir, InstalledMarker))
	if err != nil {
		t.Fatalf("reading marker: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("expected non-empty marker contents")
	}
}
