package services

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func TestPhotoStoreSave(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "uploads")
	store, err := NewPhotoStore(dir, zap.NewNop().Sugar())
	if err != nil {
		t.Fatalf("NewPhotoStore: %v", err)
	}

	tests := []struct {
		name    string
		wantExt string
	}{
		{"pothole.PNG", ".png"},
		{"leak.jpeg", ".jpeg"},
		{"../../etc/passwd", ".jpg"},
		{"no-extension", ".jpg"},
	}
	seen := make(map[string]bool)
	for _, tt := range tests {
		ref, err := store.Save(tt.name, strings.NewReader("image-bytes"))
		if err != nil {
			t.Fatalf("Save(%q): %v", tt.name, err)
		}
		if !strings.HasPrefix(ref, PhotoURLPrefix+"photo-") || !strings.HasSuffix(ref, tt.wantExt) {
			t.Errorf("Save(%q) = %q", tt.name, ref)
		}
		if seen[ref] {
			t.Errorf("duplicate reference %q", ref)
		}
		seen[ref] = true

		data, err := os.ReadFile(filepath.Join(dir, strings.TrimPrefix(ref, PhotoURLPrefix)))
		if err != nil {
			t.Fatalf("read stored photo: %v", err)
		}
		if string(data) != "image-bytes" {
			t.Errorf("stored content = %q", data)
		}
	}
}

func TestPhotoStoreRemove(t *testing.T) {
	dir := t.TempDir()
	store, err := NewPhotoStore(dir, zap.NewNop().Sugar())
	if err != nil {
		t.Fatalf("NewPhotoStore: %v", err)
	}
	ref, err := store.Save("a.png", strings.NewReader("x"))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}

	outside := filepath.Join(dir, "keep.txt")
	os.WriteFile(outside, []byte("keep"), 0o644)

	for _, r := range []string{"https://cdn.example/a.png", PhotoURLPrefix + "../keep.txt", PhotoURLPrefix} {
		if err := store.Remove(r); err != nil {
			t.Errorf("Remove(%q): %v", r, err)
		}
	}
	if err := store.Remove(ref); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, strings.TrimPrefix(ref, PhotoURLPrefix))); !os.IsNotExist(err) {
		t.Errorf("photo still present: %v", err)
	}
	if err := store.Remove(ref); err != nil {
		t.Errorf("second Remove: %v", err)
	}
	if _, err := os.Stat(outside); err != nil {
		t.Errorf("unrelated file removed: %v", err)
	}
}
