package assetcache

import (
	"context"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// redisBackend connects to HUJRA_TEST_REDIS_ADDR or skips.
func redisBackend(t *testing.T) *RedisBackend {
	t.Helper()
	addr := os.Getenv("HUJRA_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("HUJRA_TEST_REDIS_ADDR not set")
	}
	b := NewRedisBackend(addr, "", 0)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := b.Ping(ctx); err != nil {
		_ = b.Close()
		t.Skipf("redis unavailable: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestRedisBackendRoundTrip(t *testing.T) {
	b := redisBackend(t)
	ctx := context.Background()
	prefix := "asset:test-" + time.Now().Format("150405.000000") + ":"
	t.Cleanup(func() {
		keys, _ := b.Keys(ctx, prefix)
		_ = b.Delete(ctx, keys...)
	})

	entry := Entry{Status: http.StatusOK, Header: http.Header{"Content-Type": {"text/css"}}, Body: []byte("body{}")}
	require.NoError(t, b.Put(ctx, prefix+"/a.css", entry, time.Minute))
	require.NoError(t, b.Put(ctx, prefix+"/b.css", entry, time.Minute))

	got, ok, err := b.Get(ctx, prefix+"/a.css")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "text/css", got.Header.Get("Content-Type"))
	assert.Equal(t, []byte("body{}"), got.Body)

	keys, err := b.Keys(ctx, prefix)
	require.NoError(t, err)
	assert.Equal(t, []string{prefix + "/a.css", prefix + "/b.css"}, keys)

	require.NoError(t, b.Delete(ctx, prefix+"/a.css"))
	_, ok, err = b.Get(ctx, prefix+"/a.css")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryBackendIsolatesCallers(t *testing.T) {
	b := NewMemoryBackend()
	ctx := context.Background()
	body := []byte("abc")
	require.NoError(t, b.Put(ctx, "k", Entry{Body: body, Header: http.Header{"X": {"1"}}}, 0))
	body[0] = 'z'

	got, ok, err := b.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "abc", string(got.Body))

	got.Header.Set("X", "2")
	again, _, _ := b.Get(ctx, "k")
	assert.Equal(t, "1", again.Header.Get("X"))

	require.NoError(t, b.Delete(ctx))
}
