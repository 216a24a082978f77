package model

import "time"

// CacheEntry is a cached transcript keyed by the content fingerprint of the
// audio that produced it. Entries exist only for transcripts whose confidence
// met the acceptance threshold.
type CacheEntry struct {
	Fingerprint string
	Transcript  string
	Confidence  float64
	UsageCount  int
	CreatedAt   time.Time
	LastUsedAt  time.Time

	// Signature is a coarse content signature used for near-duplicate
	// matching. It is not the exact-byte fingerprint.
	Signature []float64
}

// CacheStats summarizes cache effectiveness since process start.
type CacheStats struct {
	EntryCount       int
	Hits             uint64
	Misses           uint64
	HitRate          float64 // hits / (hits + misses), 0 when no lookups yet
	TotalCostSavings float64
}

// Progress is a point-in-time snapshot of the batch processor's queue.
type Progress struct {
	Queued                 int
	Running                int
	Succeeded              int
	Failed                 int
	TimedOut               int
	EstimatedTimeRemaining time.Duration
}

// BatchStats accumulates cost-efficiency counters across the processor's
// lifetime.
type BatchStats struct {
	TotalProcessed   int
	CacheHitCount    int
	SimilarHitCount  int
	TotalCostUnits   float64
	TotalCostSavings float64

	// OverheadReductionEstimate is the fraction of completed jobs that
	// avoided an external service call entirely (0..1).
	OverheadReductionEstimate float64
}
