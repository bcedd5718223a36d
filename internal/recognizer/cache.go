package recognizer

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"

	bolt "go.etcd.io/bbolt"

	"github.com/scrubly-ai/scrubly/internal/pii"
)

const cacheBucket = "detections"

// DetectionCache persists detector output across process restarts, keyed by
// a digest of (text, detection parameters). It lives outside the core
// pipeline: the engine stays stateless, callers opt in by wrapping their
// detector.
type DetectionCache struct {
	db *bolt.DB
}

// OpenCache opens (or creates) the bbolt database at path and ensures the
// bucket exists.
func OpenCache(path string) (*DetectionCache, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open detection cache %q: %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(cacheBucket))
		return err
	}); err != nil {
		db.Close() //nolint:errcheck // best-effort close on init failure
		return nil, fmt.Errorf("create cache bucket: %w", err)
	}
	return &DetectionCache{db: db}, nil
}

func (c *DetectionCache) get(key []byte) ([]pii.Span, bool) {
	var raw []byte
	err := c.db.View(func(tx *bolt.Tx) error {
		if b := tx.Bucket([]byte(cacheBucket)); b != nil {
			if v := b.Get(key); v != nil {
				raw = append(raw, v...)
			}
		}
		return nil
	})
	if err != nil || raw == nil {
		return nil, false
	}
	var spans []pii.Span
	if err := json.Unmarshal(raw, &spans); err != nil {
		return nil, false
	}
	return spans, true
}

func (c *DetectionCache) put(key []byte, spans []pii.Span) {
	raw, err := json.Marshal(spans)
	if err != nil {
		return
	}
	if err := c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(cacheBucket))
		if b == nil {
			return fmt.Errorf("bucket %q not found", cacheBucket)
		}
		return b.Put(key, raw)
	}); err != nil {
		log.Printf("detection cache put error: %v", err)
	}
}

// Close releases the database file handle.
func (c *DetectionCache) Close() error { return c.db.Close() }

// CachedDetector wraps a Detector with a DetectionCache. Identical
// (text, params) calls are served from the cache; detector errors are never
// cached.
type CachedDetector struct {
	inner Detector
	cache *DetectionCache
}

// NewCachedDetector wraps inner with cache. A nil cache returns inner
// unchanged.
func NewCachedDetector(inner Detector, cache *DetectionCache) Detector {
	if cache == nil {
		return inner
	}
	return &CachedDetector{inner: inner, cache: cache}
}

func (d *CachedDetector) Detect(ctx context.Context, text string, params DetectParams) ([]pii.Span, error) {
	key := cacheKey(text, params)
	if spans, ok := d.cache.get(key); ok {
		return spans, nil
	}
	spans, err := d.inner.Detect(ctx, text, params)
	if err != nil {
		return nil, err
	}
	d.cache.put(key, spans)
	return spans, nil
}

func (d *CachedDetector) SupportedEntities(language string) []string {
	return d.inner.SupportedEntities(language)
}

func cacheKey(text string, params DetectParams) []byte {
	types := append([]string(nil), params.EntityTypes...)
	sort.Strings(types)
	h := sha256.New()
	fmt.Fprintf(h, "%s|%.4f|%s|", params.Language, params.ScoreThreshold, strings.Join(types, ","))
	h.Write([]byte(text))
	return h.Sum(nil)
}
