package stagedtts

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/vocata-ai/vocata/internal/observe"
	"github.com/vocata-ai/vocata/pkg/provider/tts"
)

// DefaultCacheSize is the fingerprint LRU capacity when none is configured.
const DefaultCacheSize = 128

// Fingerprint identifies one synthesis result: SHA-256 over the canonical
// tuple (engine, voice, language, speed, normalized text).
func Fingerprint(engine, voice, language string, speed float64, text string) string {
	h := sha256.New()
	for _, part := range []string{
		engine, voice, language,
		strconv.FormatFloat(speed, 'f', 3, 64),
		normalizeFingerprint(text),
	} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// cached is one finished, post-processed synthesis result.
type cached struct {
	pcm  []byte
	rate int
}

// Cache is the bounded fingerprint cache with in-flight deduplication:
// concurrent requesters for the same fingerprint attach to a single synthesis
// job instead of launching duplicates. Safe for concurrent use.
type Cache struct {
	entries *lru.Cache[string, cached]
	group   singleflight.Group
	metrics *observe.Metrics

	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewCache creates a Cache with the given capacity. size <= 0 selects
// DefaultCacheSize.
func NewCache(size int, metrics *observe.Metrics) (*Cache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	entries, err := lru.New[string, cached](size)
	if err != nil {
		return nil, err
	}
	return &Cache{entries: entries, metrics: metrics}, nil
}

// GetOrSynthesize returns the cached result for fp, or runs synth exactly
// once across all concurrent callers and caches its result. hit reports
// whether audio came from the cache without running synth for this caller.
func (c *Cache) GetOrSynthesize(ctx context.Context, fp string, synth func() (*tts.Result, error)) (res *tts.Result, hit bool, err error) {
	if entry, ok := c.entries.Get(fp); ok {
		c.hits.Add(1)
		c.metrics.CacheHits.Add(ctx, 1)
		return &tts.Result{PCM: entry.pcm, SampleRate: entry.rate}, true, nil
	}

	c.misses.Add(1)
	c.metrics.CacheMisses.Add(ctx, 1)

	v, err, shared := c.group.Do(fp, func() (any, error) {
		out, err := synth()
		if err != nil {
			return nil, err
		}
		c.entries.Add(fp, cached{pcm: out.PCM, rate: out.SampleRate})
		return out, nil
	})
	if err != nil {
		return nil, false, err
	}
	return v.(*tts.Result), shared, nil
}

// Clear drops all entries. The next lookup for every fingerprint misses.
func (c *Cache) Clear() {
	c.entries.Purge()
}

// Stats returns hit/miss counters and the current entry count.
func (c *Cache) Stats() (hits, misses uint64, entries int) {
	return c.hits.Load(), c.misses.Load(), c.entries.Len()
}
