package fs

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"hujra/internal/blob/core"

	"github.com/pkg/errors"
)

func TestFilesystemStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	root := filepath.Join(t.TempDir(), "archives")
	s, err := New(root)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if s.Driver() != core.DriverFilesystem || s.Root() != root {
		t.Fatalf("unexpected store %s %s", s.Driver(), s.Root())
	}

	info, err := s.Put(ctx, "backups/hujra_backup_2024-03-01.json", strings.NewReader(`{"students":[]}`), core.PutOptions{ContentType: "application/json", Metadata: map[string]string{"version": "2.0"}})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Size != 15 || len(info.ETag) != 64 {
		t.Fatalf("unexpected info %+v", info)
	}
	if _, err := os.Stat(filepath.Join(root, "backups", "hujra_backup_2024-03-01.json")); err != nil {
		t.Fatalf("expected file on disk: %v", err)
	}
	if _, err := s.Put(ctx, "backups/hujra_backup_2024-03-01.json", strings.NewReader("x"), core.PutOptions{}); !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}

	got, rc, err := s.Get(ctx, "backups/hujra_backup_2024-03-01.json")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(body) != `{"students":[]}` || got.Metadata["version"] != "2.0" {
		t.Fatalf("unexpected blob %q %+v", body, got)
	}

	head, err := s.Head(ctx, "backups/hujra_backup_2024-03-01.json")
	if err != nil || head.ContentType != "application/json" {
		t.Fatalf("head: %+v %v", head, err)
	}

	_, _ = s.Put(ctx, "backups/b.json", strings.NewReader("{}"), core.PutOptions{})
	_, _ = s.Put(ctx, "misc/c.json", strings.NewReader("{}"), core.PutOptions{})
	list, err := s.List(ctx, "backups/")
	if err != nil || len(list) != 2 || list[0].Key != "backups/b.json" {
		t.Fatalf("unexpected list %v err %v", list, err)
	}

	u, err := s.PresignURL(ctx, "backups/b.json", core.SignedURLOptions{})
	if err != nil || !strings.HasPrefix(u, "file://") {
		t.Fatalf("unexpected url %q err %v", u, err)
	}

	ok, err := s.Delete(ctx, "backups/b.json")
	if err != nil || !ok {
		t.Fatalf("delete: %v %v", ok, err)
	}
	if ok, _ := s.Delete(ctx, "backups/b.json"); ok {
		t.Fatalf("expected missing blob on second delete")
	}
	if _, _, err := s.Get(ctx, "backups/b.json"); !errors.Is(err, core.ErrNotExist) {
		t.Fatalf("expected ErrNotExist, got %v", err)
	}
	if _, err := s.Head(ctx, "missing"); !errors.Is(err, core.ErrNotExist) {
		t.Fatalf("expected ErrNotExist from head, got %v", err)
	}
}

func TestFilesystemStoreRejectsUnsafeKeys(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	for _, key := range []string{"", "../escape", "/abs", "x.meta"} {
		if _, err := s.Put(context.Background(), key, strings.NewReader("x"), core.PutOptions{}); err == nil {
			t.Fatalf("expected key %q to be rejected", key)
		}
	}
}

func TestFilesystemStoreNewFailsUnderFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "file")
	if err := os.WriteFile(file, []byte("x"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := New(filepath.Join(file, "sub")); err == nil {
		t.Fatalf("expected error creating root under a file")
	}
}
