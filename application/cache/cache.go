package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tablevox/voicepipe/domain/model"
	"github.com/tablevox/voicepipe/domain/ports"
	"github.com/tablevox/voicepipe/pkg/logger"
	"go.uber.org/zap"
)

// ErrConfidenceTooLow is returned by Put when the transcript's confidence is
// below the acceptance threshold. The put is a no-op; the transcript is
// still usable by the caller, it just never becomes a cache entry.
var ErrConfidenceTooLow = errors.New("transcript confidence below cache acceptance threshold")

// signatureBuckets is the resolution of the coarse content signature used
// for near-duplicate matching.
const signatureBuckets = 64

// Config holds cache configuration.
type Config struct {
	// MinConfidence is the acceptance threshold for caching transcripts.
	// Default 0.7.
	MinConfidence float64

	// SimilarityThreshold is the maximum signature distance (0..1) for a
	// near-duplicate match. Default 0.12.
	SimilarityThreshold float64

	// Store optionally persists entries. The in-memory map is warmed from
	// it at construction and written through on Put/Get.
	Store ports.CacheStore

	Logger *logger.Logger

	// Now is injectable for tests. Nil uses the wall clock.
	Now func() time.Time
}

// Cache maps content fingerprints of audio blobs to previously obtained
// transcripts. Safe for concurrent use by all workers.
type Cache struct {
	mu          sync.RWMutex
	entries     map[string]*model.CacheEntry
	hits        uint64
	misses      uint64
	costSavings float64

	cfg Config
	log *logger.Logger
	now func() time.Time
}

// New creates a Cache, warming it from the configured store if any.
func New(cfg Config) (*Cache, error) {
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = 0.7
	}
	if cfg.SimilarityThreshold <= 0 {
		cfg.SimilarityThreshold = 0.12
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Nop()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	c := &Cache{
		entries: make(map[string]*model.CacheEntry),
		cfg:     cfg,
		log:     log.Named("cache"),
		now:     now,
	}

	if cfg.Store != nil {
		persisted, err := cfg.Store.Load(context.Background())
		if err != nil {
			return nil, fmt.Errorf("warm cache from store: %w", err)
		}
		for _, e := range persisted {
			c.entries[e.Fingerprint] = e
		}
		c.log.Info("cache warmed from store", zap.Int("entries", len(persisted)))
	}

	return c, nil
}

// Fingerprint computes the deterministic content hash of a blob. Pure
// function of the exact bytes: identical inputs always fingerprint
// identically.
func Fingerprint(blob []byte) string {
	sum := sha256.Sum256(blob)
	return hex.EncodeToString(sum[:])
}

// Signature computes the coarse content signature used for near-duplicate
// matching: a normalized byte-value histogram. Deliberately insensitive to
// small encoding differences that change exact bytes.
func Signature(blob []byte) []float64 {
	sig := make([]float64, signatureBuckets)
	if len(blob) == 0 {
		return sig
	}
	per := 256 / signatureBuckets
	for _, b := range blob {
		sig[int(b)/per]++
	}
	total := float64(len(blob))
	for i := range sig {
		sig[i] /= total
	}
	return sig
}

// Get looks up an exact fingerprint. On a hit the entry's usage count and
// last-used time are updated as an observable side effect. On a miss no
// entry is created.
func (c *Cache) Get(fingerprint string) (*model.CacheEntry, bool) {
	c.mu.Lock()
	e, ok := c.entries[fingerprint]
	if !ok {
		c.misses++
		c.mu.Unlock()
		return nil, false
	}
	c.hits++
	e.UsageCount++
	e.LastUsedAt = c.now()
	snapshot := *e
	c.mu.Unlock()

	if c.cfg.Store != nil {
		if err := c.cfg.Store.Touch(context.Background(), fingerprint, snapshot.UsageCount, snapshot.LastUsedAt); err != nil {
			c.log.Warn("persist cache hit failed", zap.Error(err))
		}
	}
	return &snapshot, true
}

// Put stores a transcript under a fingerprint. Rejected with
// ErrConfidenceTooLow when confidence is below the acceptance threshold; a
// rejected put never becomes an entry. Re-putting an existing fingerprint
// refreshes the transcript only when the new confidence is higher.
func (c *Cache) Put(fingerprint, transcript string, confidence float64, blob []byte) error {
	if confidence < c.cfg.MinConfidence {
		return ErrConfidenceTooLow
	}

	now := c.now()
	c.mu.Lock()
	e, exists := c.entries[fingerprint]
	if exists {
		if confidence > e.Confidence {
			e.Transcript = transcript
			e.Confidence = confidence
		}
		snapshot := *e
		c.mu.Unlock()
		c.persist(&snapshot)
		return nil
	}

	e = &model.CacheEntry{
		Fingerprint: fingerprint,
		Transcript:  transcript,
		Confidence:  confidence,
		UsageCount:  1,
		CreatedAt:   now,
		LastUsedAt:  now,
		Signature:   Signature(blob),
	}
	c.entries[fingerprint] = e
	snapshot := *e
	c.mu.Unlock()

	c.persist(&snapshot)
	return nil
}

func (c *Cache) persist(e *model.CacheEntry) {
	if c.cfg.Store == nil {
		return
	}
	if err := c.cfg.Store.Save(context.Background(), e); err != nil {
		c.log.Warn("persist cache entry failed",
			zap.String("fingerprint", e.Fingerprint[:12]),
			zap.Error(err),
		)
	}
}

// FindSimilar returns cached entries whose coarse signature is within the
// similarity threshold of the blob, ordered closest first (ties broken by
// recency). Advisory only: it never replaces the exact-match path and does
// not count toward hit/miss statistics.
func (c *Cache) FindSimilar(blob []byte, maxCandidates int) []*model.CacheEntry {
	if maxCandidates <= 0 {
		return nil
	}
	sig := Signature(blob)

	type scored struct {
		entry    model.CacheEntry
		distance float64
	}

	c.mu.RLock()
	candidates := make([]scored, 0, len(c.entries))
	for _, e := range c.entries {
		d := distance(sig, e.Signature)
		if d <= c.cfg.SimilarityThreshold {
			candidates = append(candidates, scored{entry: *e, distance: d})
		}
	}
	c.mu.RUnlock()

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].distance != candidates[j].distance {
			return candidates[i].distance < candidates[j].distance
		}
		return candidates[i].entry.LastUsedAt.After(candidates[j].entry.LastUsedAt)
	})

	if len(candidates) > maxCandidates {
		candidates = candidates[:maxCandidates]
	}
	out := make([]*model.CacheEntry, len(candidates))
	for i := range candidates {
		e := candidates[i].entry
		out[i] = &e
	}
	return out
}

// RecordSavings accounts cost units avoided by a cache hit.
func (c *Cache) RecordSavings(units float64) {
	if units <= 0 {
		return
	}
	c.mu.Lock()
	c.costSavings += units
	c.mu.Unlock()
}

// Stats returns cache effectiveness counters since process start.
func (c *Cache) Stats() model.CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := model.CacheStats{
		EntryCount:       len(c.entries),
		Hits:             c.hits,
		Misses:           c.misses,
		TotalCostSavings: c.costSavings,
	}
	if total := c.hits + c.misses; total > 0 {
		stats.HitRate = float64(c.hits) / float64(total)
	}
	return stats
}

// distance is the normalized L1 distance between two signatures, in [0, 1].
func distance(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 1
	}
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		if d < 0 {
			d = -d
		}
		sum += d
	}
	return sum / 2
}
