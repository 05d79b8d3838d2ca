package did

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// maxDocumentSize bounds how much of a DID document response is read.
const maxDocumentSize = 1 << 20 // 1 MB

// cacheEntry holds a fetched document until it expires.
type cacheEntry struct {
	doc       *Document
	expiresAt time.Time
}

func (e *cacheEntry) expired() bool {
	return time.Now().After(e.expiresAt)
}

// documentCache is a thread-safe TTL cache of fetched DID documents.
type documentCache struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry
	ttl     time.Duration
}

func newDocumentCache(ttl time.Duration) *documentCache {
	return &documentCache{
		entries: make(map[string]*cacheEntry),
		ttl:     ttl,
	}
}

func (c *documentCache) get(key string) (*Document, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok || e.expired() {
		return nil, false
	}
	return e.doc, true
}

func (c *documentCache) set(key string, doc *Document) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = &cacheEntry{
		doc:       doc,
		expiresAt: time.Now().Add(c.ttl),
	}
}

func (c *documentCache) invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

func (c *documentCache) evict() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k, e := range c.entries {
		if e.expired() {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

func (c *documentCache) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// FetcherConfig holds DID document fetcher configuration.
type FetcherConfig struct {
	CacheTTL    time.Duration // 0 disables caching
	HTTPTimeout time.Duration // default 5s
}

// Fetcher retrieves DID documents from the network location a did:wba
// identifier maps to. Results are cached in-memory with a configurable TTL
// to keep repeated verifications off the peer's well-known endpoint.
type Fetcher struct {
	cfg        FetcherConfig
	httpClient *http.Client
	cache      *documentCache
	logger     *zap.Logger
}

// NewFetcher creates a document Fetcher.
func NewFetcher(cfg FetcherConfig, logger *zap.Logger) *Fetcher {
	timeout := cfg.HTTPTimeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}

	f := &Fetcher{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}

	if cfg.CacheTTL > 0 {
		f.cache = newDocumentCache(cfg.CacheTTL)
	}

	return f
}

// SetHTTPClient replaces the underlying HTTP client. Tests use this to point
// the fetcher at an httptest server transport.
func (f *Fetcher) SetHTTPClient(c *http.Client) {
	f.httpClient = c
}

// Fetch resolves a did:wba identifier to its published document by:
//  1. Checking the in-memory cache
//  2. Fetching the document URL on a cache miss
//  3. Caching the result and returning it
//
// The fetched document must carry the identifier it was resolved from;
// anything else is treated as a resolution failure.
func (f *Fetcher) Fetch(ctx context.Context, rawDID string) (*Document, error) {
	d, err := Parse(rawDID)
	if err != nil {
		return nil, err
	}

	if f.cache != nil {
		if doc, ok := f.cache.get(d.String()); ok {
			f.logger.Debug("did document cache hit", zap.String("did", d.String()))
			return doc, nil
		}
	}

	doc, err := f.fetchRemote(ctx, d)
	if err != nil {
		return nil, err
	}

	if f.cache != nil {
		f.cache.set(d.String(), doc)
	}

	f.logger.Debug("did document fetched",
		zap.String("did", d.String()),
		zap.String("url", d.DocumentURL()),
	)
	return doc, nil
}

// Invalidate removes a DID from the cache. Called when a peer is known to
// have rotated keys.
func (f *Fetcher) Invalidate(rawDID string) {
	if f.cache == nil {
		return
	}
	if d, err := Parse(rawDID); err == nil {
		f.cache.invalidate(d.String())
	}
}

// CacheStats returns the current cache size (for metrics/health).
func (f *Fetcher) CacheStats() int {
	if f.cache == nil {
		return 0
	}
	return f.cache.len()
}

// StartCacheEviction starts a background goroutine that periodically evicts
// expired cache entries. Cancel the context to stop it.
func (f *Fetcher) StartCacheEviction(ctx context.Context, interval time.Duration) {
	if f.cache == nil {
		return
	}
	if interval == 0 {
		interval = time.Minute
	}
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				n := f.cache.evict()
				if n > 0 {
					f.logger.Debug("did cache eviction", zap.Int("evicted", n))
				}
			}
		}
	}()
}

// fetchRemote performs the HTTP GET against the DID's document URL.
func (f *Fetcher) fetchRemote(ctx context.Context, d *DID) (*Document, error) {
	url := d.DocumentURL()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build did document request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch did document from %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("did document fetch returned HTTP %d from %s", resp.StatusCode, url)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize))
	if err != nil {
		return nil, fmt.Errorf("read did document body: %w", err)
	}

	doc, err := ParseDocument(body)
	if err != nil {
		return nil, err
	}

	if doc.ID != d.String() {
		return nil, fmt.Errorf("did document id %q does not match requested DID %q", doc.ID, d.String())
	}

	return doc, nil
}
