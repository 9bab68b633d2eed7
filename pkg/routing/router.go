package routing

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/PCMI-CASTILHO/FormularioServico/pkg/bucket"
	"github.com/PCMI-CASTILHO/FormularioServico/pkg/config"
)

// CacheHeader reports on every routed response how the bucket participated:
// HIT (served from the bucket), MISS (fetched, bucket consulted or
// refreshed) or BYPASS (bucket never involved).
const CacheHeader = "X-Gateway-Cache"

const (
	cacheHit    = "HIT"
	cacheMiss   = "MISS"
	cacheBypass = "BYPASS"
)

// offlineBody is the body of the synthetic response served when the origin
// is unreachable and the bucket has nothing usable.
const offlineBody = "Offline"

// Router applies the per-host-class fetch strategies. It implements
// http.RoundTripper so it can sit under any http.Client or proxy handler.
type Router struct {
	cfg          config.Config
	cdn          mapset.Set[string]
	store        bucket.Store
	upstream     http.RoundTripper
	logger       *slog.Logger
	writeTimeout time.Duration
}

// Option configures a Router.
type Option func(*Router)

// WithUpstream sets the transport used for network fetches.
// Defaults to http.DefaultTransport.
func WithUpstream(rt http.RoundTripper) Option {
	return func(r *Router) { r.upstream = rt }
}

// WithLogger sets the router's logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) { r.logger = l }
}

// NewRouter creates a Router over the given bucket store.
func NewRouter(cfg config.Config, store bucket.Store, opts ...Option) *Router {
	r := &Router{
		cfg:          cfg,
		cdn:          cfg.CDNSet(),
		store:        store,
		upstream:     http.DefaultTransport,
		logger:       slog.Default(),
		writeTimeout: cfg.HTTP.BucketWriteTimeout,
	}
	if r.writeTimeout <= 0 {
		r.writeTimeout = 10 * time.Second
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RoundTrip routes one request. Only GETs are subject to a strategy; every
// other method goes straight to the upstream transport, as do GETs for
// hosts outside the three configured classes.
func (rt *Router) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Method != http.MethodGet {
		return rt.upstream.RoundTrip(req)
	}

	class := Classify(rt.cfg, rt.cdn, req.URL)
	switch class {
	case ClassRemoteAPI:
		return rt.roundTripRemoteAPI(req)
	case ClassCDN:
		return rt.roundTripCDN(req)
	case ClassSameOrigin:
		return rt.roundTripSameOrigin(req)
	default:
		return rt.upstream.RoundTrip(req)
	}
}

// roundTripRemoteAPI is the network-only strategy: the bucket is never read
// or written, and transport errors propagate to the caller.
func (rt *Router) roundTripRemoteAPI(req *http.Request) (*http.Response, error) {
	resp, err := rt.upstream.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	resp.Header.Set(CacheHeader, cacheBypass)
	return resp, nil
}

// roundTripCDN is the cache-first strategy: a stored entry is served without
// touching the network; a miss is fetched and returned as-is, never written
// back by this path.
func (rt *Router) roundTripCDN(req *http.Request) (*http.Response, error) {
	key := cacheKey(ClassCDN, req.URL)

	entry, err := rt.store.Get(req.Context(), rt.cfg.BucketID(), key)
	if err == nil {
		resp := entry.Response()
		resp.Header.Set(CacheHeader, cacheHit)
		resp.Request = req
		return resp, nil
	}

	resp, err := rt.upstream.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	resp.Header.Set(CacheHeader, cacheMiss)
	return resp, nil
}

// roundTripSameOrigin is the network-first strategy. A reachable origin
// always wins; its response refreshes the bucket in the background. An
// unreachable origin falls back to the bucket, then to the offline fallback
// document for navigations, then to a synthetic 503.
func (rt *Router) roundTripSameOrigin(req *http.Request) (*http.Response, error) {
	key := cacheKey(ClassSameOrigin, req.URL)
	bucketID := rt.cfg.BucketID()

	resp, err := rt.upstream.RoundTrip(req)
	if err == nil {
		return rt.refreshAndReturn(req, key, bucketID, resp)
	}

	rt.logger.Debug("origin unreachable, falling back to bucket",
		"url", req.URL.String(), "error", err)

	entry, getErr := rt.store.Get(req.Context(), bucketID, key)
	if getErr == nil {
		fallback := entry.Response()
		fallback.Header.Set(CacheHeader, cacheHit)
		fallback.Request = req
		return fallback, nil
	}

	if IsNavigation(req) && rt.cfg.OfflineFallbackAsset != "" {
		doc, docErr := rt.store.Get(req.Context(), bucketID, rt.cfg.OfflineFallbackAsset)
		if docErr == nil {
			fallback := doc.Response()
			fallback.Header.Set(CacheHeader, cacheHit)
			fallback.Request = req
			return fallback, nil
		}
	}

	return rt.offlineResponse(req), nil
}

// refreshAndReturn reads the origin response body exactly once, hands an
// independent copy to the bucket in a detached write, and returns the
// response rebuilt over its own copy of the bytes.
func (rt *Router) refreshAndReturn(req *http.Request, key, bucketID string, resp *http.Response) (*http.Response, error) {
	body, err := io.ReadAll(resp.Body)
	closeErr := resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("read origin response for %s: %w", key, err)
	}
	if closeErr != nil {
		rt.logger.Debug("origin response close failed", "url", key, "error", closeErr)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		entry := &bucket.Entry{
			URL:      key,
			Status:   resp.StatusCode,
			Header:   resp.Header.Clone(),
			Body:     append([]byte(nil), body...),
			StoredAt: time.Now(),
		}
		go rt.writeEntry(bucketID, entry)
	}

	resp.Body = io.NopCloser(bytes.NewReader(body))
	resp.ContentLength = int64(len(body))
	resp.Header.Set(CacheHeader, cacheMiss)
	return resp, nil
}

// writeEntry performs the detached bucket refresh. It runs on its own
// context so an aborted client request cannot cancel the write.
func (rt *Router) writeEntry(bucketID string, entry *bucket.Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), rt.writeTimeout)
	defer cancel()

	if err := rt.store.Put(ctx, bucketID, entry); err != nil {
		rt.logger.Warn("bucket refresh failed", "url", entry.URL, "error", err)
	}
}

// offlineResponse is the synthetic reply for a same-origin request that the
// network and the bucket both failed to serve.
func (rt *Router) offlineResponse(req *http.Request) *http.Response {
	header := http.Header{}
	header.Set("Content-Type", "text/plain; charset=utf-8")
	header.Set(CacheHeader, cacheMiss)
	return &http.Response{
		StatusCode:    http.StatusServiceUnavailable,
		Status:        fmt.Sprintf("%d %s", http.StatusServiceUnavailable, http.StatusText(http.StatusServiceUnavailable)),
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(strings.NewReader(offlineBody)),
		ContentLength: int64(len(offlineBody)),
		Request:       req,
	}
}

// Compile-time interface check.
var _ http.RoundTripper = (*Router)(nil)
