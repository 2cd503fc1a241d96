package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"groupchat/internal/config"
)

func TestDiskStore_PutDelete(t *testing.T) {
	dir := t.TempDir()
	s, err := NewDiskStore(dir)
	if err != nil {
		t.Fatalf("NewDiskStore() error = %v", err)
	}
	ctx := context.Background()

	ref, err := s.Put(ctx, Object{Prefix: "avatars", Ext: "PNG", Size: 5, Body: strings.NewReader("hello")})
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if !strings.HasPrefix(ref, "avatars/") || !strings.HasSuffix(ref, ".png") {
		t.Errorf("Put() ref = %q, want avatars/<uuid>.png", ref)
	}
	b, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(ref)))
	if err != nil {
		t.Fatalf("read stored file: %v", err)
	}
	if string(b) != "hello" {
		t.Errorf("stored content = %q, want hello", b)
	}

	if err := s.Delete(ctx, ref); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, filepath.FromSlash(ref))); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("file still present after Delete(): %v", err)
	}
	if err := s.Delete(ctx, ref); err != nil {
		t.Errorf("second Delete() error = %v, want nil", err)
	}
}

func TestDiskStore_RejectsEscapingRefs(t *testing.T) {
	s, err := NewDiskStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewDiskStore() error = %v", err)
	}
	for _, ref := range []string{"", "../etc/passwd", "avatars/../../x", "/abs"} {
		if err := s.Delete(context.Background(), ref); !errors.Is(err, ErrInvalidRef) {
			t.Errorf("Delete(%q) error = %v, want ErrInvalidRef", ref, err)
		}
	}
}

func TestNew_Disk(t *testing.T) {
	st, err := New(context.Background(), config.StorageConfig{Driver: "disk", Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, ok := st.(*DiskStore); !ok {
		t.Errorf("New() = %T, want *DiskStore", st)
	}
	if _, err := New(context.Background(), config.StorageConfig{Driver: "ftp"}); err == nil {
		t.Error("New() with unknown driver should fail")
	}
}
