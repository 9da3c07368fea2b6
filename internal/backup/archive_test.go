package backup

import (
	"context"
	"strings"
	"testing"
	"time"

	"hujra/internal/blob"
	"hujra/pkg/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) }

func TestArchiverSuffixesSameDayArchives(t *testing.T) {
	store := blob.NewMemory()
	a := NewArchiver(store, WithArchiveClock(fixedClock))
	ctx := context.Background()
	doc := Document{Version: Version, Students: []domain.Student{{ID: "s1"}}, Visits: []domain.VisitEvent{}}

	first, err := a.Archive(ctx, doc)
	require.NoError(t, err)
	second, err := a.Archive(ctx, doc)
	require.NoError(t, err)
	third, err := a.Archive(ctx, doc)
	require.NoError(t, err)

	assert.Equal(t, "backups/hujra_backup_2024-06-01.json", first.Key)
	assert.Equal(t, "backups/hujra_backup_2024-06-01-1.json", second.Key)
	assert.Equal(t, "backups/hujra_backup_2024-06-01-2.json", third.Key)
	assert.Equal(t, "application/json", first.ContentType)
	assert.Equal(t, "1", first.Metadata["students"])

	listed, err := a.List(ctx)
	require.NoError(t, err)
	require.Len(t, listed, 3)
	assert.Equal(t, third.Key, listed[0].Key)
}

func TestArchiverListOrdersByDayThenSuffix(t *testing.T) {
	store := blob.NewMemory()
	now := fixedClock()
	a := NewArchiver(store, WithArchiveClock(func() time.Time { return now }))
	ctx := context.Background()
	doc := Document{Version: Version, Students: []domain.Student{}, Visits: []domain.VisitEvent{}}

	for i := 0; i < 12; i++ {
		_, err := a.Archive(ctx, doc)
		require.NoError(t, err)
	}
	now = now.AddDate(0, 0, 1)
	latest, err := a.Archive(ctx, doc)
	require.NoError(t, err)
	_, err = store.Put(ctx, "backups/notes.txt", strings.NewReader("x"), blob.PutOptions{})
	require.NoError(t, err)

	listed, err := a.List(ctx)
	require.NoError(t, err)
	require.Len(t, listed, 14)
	assert.Equal(t, latest.Key, listed[0].Key)
	assert.Equal(t, "backups/hujra_backup_2024-06-01-11.json", listed[1].Key)
	assert.Equal(t, "backups/hujra_backup_2024-06-01-10.json", listed[2].Key)
	assert.Equal(t, "backups/hujra_backup_2024-06-01-9.json", listed[3].Key)
	assert.Equal(t, "backups/hujra_backup_2024-06-01.json", listed[12].Key)
	assert.Equal(t, "backups/notes.txt", listed[13].Key)
}

func TestArchiveOrder(t *testing.T) {
	day, n, ok := archiveOrder("hujra_backup_2024-06-01.json")
	assert.True(t, ok)
	assert.Equal(t, "2024-06-01", day)
	assert.Zero(t, n)

	day, n, ok = archiveOrder("hujra_backup_2024-06-01-12.json")
	assert.True(t, ok)
	assert.Equal(t, "2024-06-01", day)
	assert.Equal(t, 12, n)

	for _, name := range []string{"notes.txt", "hujra_backup_2024-06-01-x.json", "hujra_backup_junk.json", "hujra_backup_2024-06-01-0.json"} {
		_, _, ok := archiveOrder(name)
		assert.False(t, ok, name)
	}
}

func TestArchiverLoadRoundTrip(t *testing.T) {
	a := NewArchiver(blob.NewMemory(), WithPrefix("archives"), WithArchiveClock(fixedClock))
	assert.Equal(t, "archives/", a.Prefix())
	ctx := context.Background()
	doc := Document{
		Version:  Version,
		Students: []domain.Student{{ID: "s1", FullName: "Ali"}},
		Visits:   []domain.VisitEvent{{ID: "v1", StudentID: "s1"}},
	}
	info, err := a.Archive(ctx, doc)
	require.NoError(t, err)

	loaded, err := a.Load(ctx, "hujra_backup_2024-06-01.json")
	require.NoError(t, err)
	assert.Equal(t, doc, loaded)

	loaded, err = a.Load(ctx, info.Key)
	require.NoError(t, err)
	assert.Equal(t, "Ali", loaded.Students[0].FullName)
}

func TestArchiverLoadMissing(t *testing.T) {
	a := NewArchiver(blob.NewMemory())
	_, err := a.Load(context.Background(), "nope.json")
	require.Error(t, err)
	assert.ErrorIs(t, err, blob.ErrNotExist)
}

func TestArchiverLinkUnsupportedOnMemory(t *testing.T) {
	a := NewArchiver(blob.NewMemory(), WithArchiveClock(fixedClock))
	_, err := a.Link(context.Background(), "x.json", time.Minute)
	assert.ErrorIs(t, err, blob.ErrUnsupported)
}

func TestArchiverLinkOnFilesystem(t *testing.T) {
	store, err := blob.NewFilesystem(t.TempDir())
	require.NoError(t, err)
	a := NewArchiver(store, WithArchiveClock(fixedClock))
	info, err := a.Archive(context.Background(), Document{Version: Version})
	require.NoError(t, err)
	url, err := a.Link(context.Background(), info.Key, time.Minute)
	require.NoError(t, err)
	assert.Contains(t, url, "file://")
	assert.Contains(t, url, "hujra_backup_2024-06-01.json")
}
