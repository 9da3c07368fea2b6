package blob

import (
	"context"
	"path/filepath"
	"testing"

	"hujra/internal/config"
)

func TestOpenSelectsDriver(t *testing.T) {
	ctx := context.Background()

	fsStore, err := Open(ctx, config.BlobConfig{FSRoot: filepath.Join(t.TempDir(), "blobs")})
	if err != nil {
		t.Fatalf("open fs: %v", err)
	}
	if fsStore.Driver() != DriverFilesystem {
		t.Fatalf("expected default fs driver, got %s", fsStore.Driver())
	}

	mem, err := Open(ctx, config.BlobConfig{Driver: "memory"})
	if err != nil || mem.Driver() != DriverMemory {
		t.Fatalf("open memory: %v %v", mem, err)
	}

	s3Store, err := Open(ctx, config.BlobConfig{Driver: "s3", S3: config.S3Config{Bucket: "backups", Endpoint: "http://localhost:9000", AccessKeyID: "k", SecretAccessKey: "s", PathStyle: true}})
	if err != nil || s3Store.Driver() != DriverS3 {
		t.Fatalf("open s3: %v %v", s3Store, err)
	}

	if _, err := Open(ctx, config.BlobConfig{Driver: "s3"}); err == nil {
		t.Fatalf("expected missing bucket error")
	}
	if _, err := Open(ctx, config.BlobConfig{Driver: "ftp"}); err == nil {
		t.Fatalf("expected unknown driver error")
	}
}

func TestMockS3SatisfiesStore(t *testing.T) {
	var s Store = NewMockS3ForTests()
	if s.Driver() != DriverS3 {
		t.Fatalf("unexpected driver %s", s.Driver())
	}
}
