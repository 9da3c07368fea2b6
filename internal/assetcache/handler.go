// Package assetcache serves the web client's static assets cache-first so
// the app keeps loading when the upstream origin is unreachable.
//
// Only GET requests are cached. A cached response is served as is; a miss
// is fetched from the origin and stored when the origin answers 200. When
// both fail, page navigations get the cached offline page and everything
// else gets 504.
package assetcache

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"hujra/internal/config"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const keyPrefix = "asset:"

// hop-by-hop and per-response headers never replayed from the cache
var skipHeaders = map[string]struct{}{
	"Connection":        {},
	"Keep-Alive":        {},
	"Transfer-Encoding": {},
	"Set-Cookie":        {},
	"Date":              {},
}

// Handler is the cache-first asset proxy.
type Handler struct {
	origin      *url.URL
	client      *http.Client
	backend     Backend
	cacheName   string
	offlinePage string
	ttl         time.Duration
	logger      *zap.Logger
	now         func() time.Time
}

// Option customises a Handler.
type Option func(*Handler)

// WithHTTPClient replaces the upstream client.
func WithHTTPClient(c *http.Client) Option {
	return func(h *Handler) {
		if c != nil {
			h.client = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

// New builds a handler for cfg.Origin over backend.
func New(cfg config.AssetCacheConfig, backend Backend, opts ...Option) (*Handler, error) {
	if backend == nil {
		return nil, errors.New("assetcache: nil backend")
	}
	origin, err := url.Parse(cfg.Origin)
	if err != nil || origin.Scheme == "" || origin.Host == "" {
		return nil, errors.Errorf("assetcache: invalid origin %q", cfg.Origin)
	}
	h := &Handler{
		origin:      origin,
		client:      &http.Client{Timeout: 10 * time.Second},
		backend:     backend,
		cacheName:   cfg.CacheName,
		offlinePage: cfg.OfflinePage,
		ttl:         cfg.TTL,
		logger:      zap.NewNop(),
		now:         time.Now,
	}
	if h.cacheName == "" {
		h.cacheName = "hujra-cache-v1"
	}
	if h.offlinePage == "" {
		h.offlinePage = "/index.html"
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.Named("assetcache")
	return h, nil
}

// NewBackend opens the backend named in cfg.
func NewBackend(cfg config.AssetCacheConfig) (Backend, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryBackend(), nil
	case "redis":
		return NewRedisBackend(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB), nil
	default:
		return nil, errors.Errorf("assetcache: unknown backend %q", cfg.Backend)
	}
}

func (h *Handler) key(requestURI string) string {
	return keyPrefix + h.cacheName + ":" + requestURI
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.passThrough(w, r)
		return
	}
	ctx := r.Context()
	uri := r.URL.RequestURI()
	key := h.key(uri)

	if entry, ok, err := h.backend.Get(ctx, key); err != nil {
		h.logger.Warn("cache read failed", zap.String("key", key), zap.Error(err))
	} else if ok {
		writeEntry(w, entry, "HIT")
		return
	}

	entry, err := h.fetch(ctx, uri, r.Header)
	if err == nil {
		if entry.Status == http.StatusOK {
			if perr := h.backend.Put(ctx, key, entry, h.ttl); perr != nil {
				h.logger.Warn("cache write failed", zap.String("key", key), zap.Error(perr))
			}
		}
		writeEntry(w, entry, "MISS")
		return
	}

	h.logger.Info("origin unreachable", zap.String("uri", uri), zap.Error(err))
	if isNavigation(r) {
		if page, ok, gerr := h.backend.Get(ctx, h.key(h.offlinePage)); gerr == nil && ok {
			writeEntry(w, page, "OFFLINE")
			return
		}
	}
	http.Error(w, "asset unavailable offline", http.StatusGatewayTimeout)
}

// Warm fetches and stores each path, like a service worker install step.
// Every path is attempted; the first failure is returned.
func (h *Handler) Warm(ctx context.Context, paths []string) error {
	var first error
	for _, p := range paths {
		entry, err := h.fetch(ctx, p, nil)
		if err == nil && entry.Status != http.StatusOK {
			err = errors.Errorf("status %d", entry.Status)
		}
		if err == nil {
			err = h.backend.Put(ctx, h.key(p), entry, h.ttl)
		}
		if err != nil {
			h.logger.Warn("precache failed", zap.String("path", p), zap.Error(err))
			if first == nil {
				first = errors.Wrapf(err, "precache %s", p)
			}
		}
	}
	return first
}

// Activate deletes entries written under any other cache name and reports
// how many were removed.
func (h *Handler) Activate(ctx context.Context) (int, error) {
	keys, err := h.backend.Keys(ctx, keyPrefix)
	if err != nil {
		return 0, err
	}
	current := h.key("")
	var stale []string
	for _, k := range keys {
		if !strings.HasPrefix(k, current) {
			stale = append(stale, k)
		}
	}
	if err := h.backend.Delete(ctx, stale...); err != nil {
		return 0, err
	}
	return len(stale), nil
}

func (h *Handler) target(requestURI string) string {
	ref, err := url.Parse(requestURI)
	if err != nil {
		return h.origin.String() + requestURI
	}
	return h.origin.ResolveReference(ref).String()
}

func (h *Handler) fetch(ctx context.Context, requestURI string, header http.Header) (Entry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.target(requestURI), nil)
	if err != nil {
		return Entry{}, err
	}
	for _, name := range []string{"Accept", "Accept-Language", "User-Agent"} {
		if v := header.Get(name); v != "" {
			req.Header.Set(name, v)
		}
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return Entry{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Entry{}, errors.Wrap(err, "read origin body")
	}
	return Entry{Status: resp.StatusCode, Header: filterHeader(resp.Header), Body: body, StoredAt: h.now().UTC()}, nil
}

func (h *Handler) passThrough(w http.ResponseWriter, r *http.Request) {
	req, err := http.NewRequestWithContext(r.Context(), r.Method, h.target(r.URL.RequestURI()), r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	req.Header = r.Header.Clone()
	resp, err := h.client.Do(req)
	if err != nil {
		http.Error(w, "origin unreachable", http.StatusBadGateway)
		return
	}
	defer func() { _ = resp.Body.Close() }()
	copyHeader(w.Header(), filterHeader(resp.Header))
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}

func isNavigation(r *http.Request) bool {
	if r.Header.Get("Sec-Fetch-Mode") == "navigate" {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

func filterHeader(in http.Header) http.Header {
	out := make(http.Header, len(in))
	for k, v := range in {
		if _, skip := skipHeaders[http.CanonicalHeaderKey(k)]; skip {
			continue
		}
		out[k] = append([]string(nil), v...)
	}
	return out
}

func copyHeader(dst, src http.Header) {
	for k, v := range src {
		dst[k] = append([]string(nil), v...)
	}
}

func writeEntry(w http.ResponseWriter, e Entry, state string) {
	copyHeader(w.Header(), e.Header)
	w.Header().Set("X-Cache", state)
	status := e.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(e.Body)
}
