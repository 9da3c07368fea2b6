package s3

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"hujra/internal/blob/core"

	"github.com/pkg/errors"
)

func TestStoreMockedBasicFlow(t *testing.T) {
	store := NewMockForTests()
	ctx := context.Background()
	if store.Driver() != core.DriverS3 || store.Bucket() != "mock-bucket" {
		t.Fatalf("unexpected store %s %s", store.Driver(), store.Bucket())
	}
	info, err := store.Put(ctx, "backups/a.json", bytes.NewReader([]byte("hello")), core.PutOptions{ContentType: "application/json", Metadata: map[string]string{"version": "2.0"}})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Key != "backups/a.json" || info.ContentType != "application/json" || info.Size != 5 {
		t.Fatalf("unexpected info %#v", info)
	}
	if info.Metadata["version"] != "2.0" {
		t.Fatalf("expected metadata round trip, got %v", info.Metadata)
	}
	if _, err := store.Put(ctx, "backups/a.json", bytes.NewReader([]byte("again")), core.PutOptions{}); !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
	_, rc, err := store.Get(ctx, "backups/a.json")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	data, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(data) != "hello" {
		t.Fatalf("get mismatch: %q", string(data))
	}
	if _, err := store.Put(ctx, "backups/b.json", bytes.NewReader([]byte("{}")), core.PutOptions{}); err != nil {
		t.Fatalf("put b: %v", err)
	}
	list, err := store.List(ctx, "backups/")
	if err != nil || len(list) != 2 || list[0].Key != "backups/a.json" {
		t.Fatalf("list: %v %+v", err, list)
	}
	if url, err := store.PresignURL(ctx, "backups/a.json", core.SignedURLOptions{Expiry: 30 * time.Second}); err != nil || url == "" {
		t.Fatalf("presign: %v %s", err, url)
	}
	if ok, err := store.Delete(ctx, "backups/a.json"); err != nil || !ok {
		t.Fatalf("delete: %v %v", ok, err)
	}
	if ok, err := store.Delete(ctx, "backups/a.json"); err != nil || ok {
		t.Fatalf("second delete: %v %v", ok, err)
	}
}

func TestStoreMissingKeysMapToErrNotExist(t *testing.T) {
	store := NewMockForTests()
	ctx := context.Background()
	if _, err := store.Head(ctx, "nope"); !errors.Is(err, core.ErrNotExist) {
		t.Fatalf("expected ErrNotExist from head, got %v", err)
	}
	if _, _, err := store.Get(ctx, "nope"); !errors.Is(err, core.ErrNotExist) {
		t.Fatalf("expected ErrNotExist from get, got %v", err)
	}
	if list, err := store.List(ctx, "none/"); err != nil || len(list) != 0 {
		t.Fatalf("expected empty list: %v %+v", err, list)
	}
}

func TestNewRequiresBucket(t *testing.T) {
	if _, err := New(context.Background(), Config{}); err == nil {
		t.Fatalf("expected error for missing bucket")
	}
	s, err := New(context.Background(), Config{Bucket: "bkt", Endpoint: "http://localhost:9000", AccessKeyID: "minio", SecretAccessKey: "minio123", PathStyle: true})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if s.Bucket() != "bkt" {
		t.Fatalf("unexpected bucket %s", s.Bucket())
	}
}

func TestFromHeadNilBranches(t *testing.T) {
	store := NewMockForTests()
	info := store.fromHead("k", 10, nil, nil, nil, nil)
	if info.ETag != "" || info.ContentType != "" || info.LastModified.IsZero() {
		t.Fatalf("unexpected info: %+v", info)
	}
}

func TestDecodeChunked(t *testing.T) {
	if _, ok := decodeChunked([]byte("not-chunked")); ok {
		t.Fatalf("expected plain body to be left alone")
	}
	if _, ok := decodeChunked([]byte("5\r\nabc\r\n0\r\n")); ok {
		t.Fatalf("size mismatch should fail")
	}
	if b, ok := decodeChunked([]byte("5\r\nhello\r\n0\r\nx-amz-checksum-crc32:abc\r\n")); !ok || string(b) != "hello" {
		t.Fatalf("expected decode hello")
	}
}

func TestMockRoundTripperUnsupported(t *testing.T) {
	rt := &mockRoundTripper{state: make(map[string]mockObj)}
	req, _ := http.NewRequest(http.MethodPatch, "https://mock.s3.local/bucket/key", nil)
	resp, _ := rt.RoundTrip(req)
	if resp.StatusCode != http.StatusNotImplemented {
		t.Fatalf("expected 501, got %d", resp.StatusCode)
	}
}
