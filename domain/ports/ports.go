package ports

import (
	"context"
	"time"

	"github.com/tablevox/voicepipe/domain/model"
)

// Transcriber is the external speech-to-text service. Calls may be slow and
// are assumed rate and cost constrained; the batch processor owns retries
// and timeouts, an implementation performs exactly one attempt per call.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, format model.AudioFormat) (*model.Transcription, error)
}

// Encoder re-encodes an audio blob into a cheaper representation. Optional:
// the optimizer falls back to its pass-through path when no encoder is
// configured or encoding fails.
type Encoder interface {
	Encode(ctx context.Context, audio []byte, source model.AudioFormat) ([]byte, model.AudioFormat, error)
}

// CacheStore persists cache entries behind the in-memory transcription
// cache. Implementations must be safe for concurrent use.
type CacheStore interface {
	// Load returns all persisted entries, used to warm the cache at startup.
	Load(ctx context.Context) ([]*model.CacheEntry, error)

	// Save inserts or replaces an entry.
	Save(ctx context.Context, entry *model.CacheEntry) error

	// Touch records a hit: usage count and last-used time.
	Touch(ctx context.Context, fingerprint string, usageCount int, lastUsedAt time.Time) error

	Close() error
}

// SubmitOption is the functional option type for job submission.
type SubmitOption func(*model.SubmitOptions)

// WithFormatHint declares the blob's container format up front. The hint is
// sent to the transcription service in place of magic-byte detection as long
// as the blob is not re-encoded along the way.
func WithFormatHint(format model.AudioFormat) SubmitOption {
	return func(o *model.SubmitOptions) {
		o.FormatHint = format
	}
}

// WithDurationHint overrides the analyzed duration (seconds) used for
// shortest-first ordering.
func WithDurationHint(seconds float64) SubmitOption {
	return func(o *model.SubmitOptions) {
		if seconds > 0 {
			o.DurationHint = seconds
		}
	}
}
