package catalog

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"recordstore/internal/clients"
	"recordstore/internal/store"
)

// fakeFetcher serves canned payloads and records every call.
type fakeFetcher struct {
	mu       sync.Mutex
	releases map[string]string
	search   string
	err      error
	calls    []string
}

func (f *fakeFetcher) FetchRelease(ctx context.Context, mbid string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, mbid)
	if f.err != nil {
		return "", f.err
	}
	payload, ok := f.releases[mbid]
	if !ok {
		return "", &clients.StatusError{Code: 404}
	}
	return payload, nil
}

func (f *fakeFetcher) SearchReleases(ctx context.Context, query string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "search:"+query)
	if f.err != nil {
		return "", f.err
	}
	return f.search, nil
}

func (f *fakeFetcher) callsFor(mbid string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == mbid {
			n++
		}
	}
	return n
}

func (f *fakeFetcher) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// spyCache is an in-process cache that records deletions and the TTL of
// every write.
type spyCache struct {
	mu       sync.Mutex
	entries  map[string][]byte
	ttls     map[string]time.Duration
	deleted  []string
	prefixes []string
}

func newSpyCache() *spyCache {
	return &spyCache{entries: make(map[string][]byte), ttls: make(map[string]time.Duration)}
}

func (c *spyCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[key]
	return v, ok, nil
}

func (c *spyCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = append([]byte(nil), value...)
	c.ttls[key] = ttl
	return nil
}

func (c *spyCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleted = append(c.deleted, key)
	delete(c.entries, key)
	return nil
}

func (c *spyCache) DeletePrefix(ctx context.Context, prefix string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prefixes = append(c.prefixes, prefix)
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
		}
	}
	return nil
}

func (c *spyCache) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string][]byte)
	return nil
}

func (c *spyCache) has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	return ok
}

// ttl returns the TTL of the last write to key.
func (c *spyCache) ttl(key string) (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.ttls[key]
	return d, ok
}

// ttlsUnder returns the TTL of every written key with the given prefix.
func (c *spyCache) ttlsUnder(prefix string) map[string]time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]time.Duration)
	for k, d := range c.ttls {
		if strings.HasPrefix(k, prefix) {
			out[k] = d
		}
	}
	return out
}

func (c *spyCache) deletedKeys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.deleted...)
}

func (c *spyCache) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleted = nil
	c.prefixes = nil
}

// noIndexCollection refuses to build indexes.
type noIndexCollection struct {
	store.Collection
	attempts int
}

func (c *noIndexCollection) EnsureIndex(ctx context.Context, spec store.IndexSpec) error {
	c.attempts++
	return errors.New("index build not permitted")
}

func (c *noIndexCollection) IndexExists(ctx context.Context, name string) (bool, error) {
	return false, nil
}
