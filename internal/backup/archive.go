package backup

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"hujra/internal/blob"

	"github.com/pkg/errors"
)

// DefaultPrefix is the key prefix archives are written under.
const DefaultPrefix = "backups/"

const (
	contentType = "application/json"
	// collisions beyond this many same-day archives are treated as an error
	maxSuffix = 1000
)

// Archiver stores encoded backup documents in a blob store.
type Archiver struct {
	store  blob.Store
	prefix string
	now    func() time.Time
}

// ArchiverOption customises an Archiver.
type ArchiverOption func(*Archiver)

// WithPrefix overrides DefaultPrefix.
func WithPrefix(prefix string) ArchiverOption {
	return func(a *Archiver) {
		if prefix != "" {
			a.prefix = prefix
		}
	}
}

// WithArchiveClock overrides the time used to name archives.
func WithArchiveClock(now func() time.Time) ArchiverOption {
	return func(a *Archiver) {
		if now != nil {
			a.now = now
		}
	}
}

// NewArchiver wraps store.
func NewArchiver(store blob.Store, opts ...ArchiverOption) *Archiver {
	a := &Archiver{store: store, prefix: DefaultPrefix, now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	if !strings.HasSuffix(a.prefix, "/") {
		a.prefix += "/"
	}
	return a
}

// Prefix returns the key prefix archives live under.
func (a *Archiver) Prefix() string { return a.prefix }

// Archive encodes doc and writes it under prefix/FileName(now). A second
// archive on the same day gets a -N suffix; existing archives are never
// overwritten.
func (a *Archiver) Archive(ctx context.Context, doc Document) (blob.Info, error) {
	payload, err := EncodeBytes(doc)
	if err != nil {
		return blob.Info{}, err
	}
	name := FileName(a.now())
	base := strings.TrimSuffix(name, ".json")
	meta := map[string]string{
		"version":  doc.Version,
		"students": fmt.Sprint(len(doc.Students)),
		"visits":   fmt.Sprint(len(doc.Visits)),
	}
	for n := 0; n < maxSuffix; n++ {
		key := a.prefix + name
		if n > 0 {
			key = fmt.Sprintf("%s%s-%d.json", a.prefix, base, n)
		}
		info, err := a.store.Put(ctx, key, bytes.NewReader(payload), blob.PutOptions{ContentType: contentType, Metadata: meta})
		if err == nil {
			return info, nil
		}
		if !errors.Is(err, blob.ErrExists) {
			return blob.Info{}, errors.Wrapf(err, "archive %s", key)
		}
	}
	return blob.Info{}, errors.Errorf("archive %s: too many archives for one day", name)
}

// List returns archives newest first: by the day in the name, then by the
// same-day suffix. Keys that do not follow the archive naming sort after
// them by modification time.
func (a *Archiver) List(ctx context.Context) ([]blob.Info, error) {
	infos, err := a.store.List(ctx, a.prefix)
	if err != nil {
		return nil, errors.Wrap(err, "list archives")
	}
	out := append([]blob.Info(nil), infos...)
	sort.SliceStable(out, func(i, j int) bool {
		di, ni, iok := archiveOrder(strings.TrimPrefix(out[i].Key, a.prefix))
		dj, nj, jok := archiveOrder(strings.TrimPrefix(out[j].Key, a.prefix))
		switch {
		case iok && jok:
			if di != dj {
				return di > dj
			}
			if ni != nj {
				return ni > nj
			}
		case iok != jok:
			return iok
		}
		if !out[i].LastModified.Equal(out[j].LastModified) {
			return out[i].LastModified.After(out[j].LastModified)
		}
		return out[i].Key > out[j].Key
	})
	return out, nil
}

// archiveOrder splits "hujra_backup_<day>[-N].json" into its day and
// suffix; the unsuffixed archive is suffix 0.
func archiveOrder(name string) (string, int, bool) {
	rest, ok := strings.CutPrefix(name, fileNamePrefix)
	if !ok {
		return "", 0, false
	}
	rest, ok = strings.CutSuffix(rest, ".json")
	if !ok || len(rest) < len(dayLayout) {
		return "", 0, false
	}
	day, tail := rest[:len(dayLayout)], rest[len(dayLayout):]
	if _, err := time.Parse(dayLayout, day); err != nil {
		return "", 0, false
	}
	if tail == "" {
		return day, 0, true
	}
	n, err := strconv.Atoi(strings.TrimPrefix(tail, "-"))
	if err != nil || !strings.HasPrefix(tail, "-") || n <= 0 {
		return "", 0, false
	}
	return day, n, true
}

// Load reads and decodes one archive. key may be given with or without the
// archive prefix.
func (a *Archiver) Load(ctx context.Context, key string) (Document, error) {
	key = a.qualify(key)
	_, rc, err := a.store.Get(ctx, key)
	if err != nil {
		return Document{}, errors.Wrapf(err, "open archive %s", key)
	}
	defer func() { _ = rc.Close() }()
	return Decode(rc)
}

// Link returns a download URL for an archive when the backend supports it.
func (a *Archiver) Link(ctx context.Context, key string, expiry time.Duration) (string, error) {
	return a.store.PresignURL(ctx, a.qualify(key), blob.SignedURLOptions{Expiry: expiry})
}

func (a *Archiver) qualify(key string) string {
	if strings.HasPrefix(key, a.prefix) {
		return key
	}
	return a.prefix + key
}
