package model

// AudioFormat identifies the container/codec family of an audio blob,
// detected from its leading bytes.
type AudioFormat string

const (
	FormatWAV  AudioFormat = "wav"
	FormatMP3  AudioFormat = "mp3"
	FormatWebM AudioFormat = "webm"
	FormatOgg  AudioFormat = "ogg"
	FormatFLAC AudioFormat = "flac"
	FormatM4A  AudioFormat = "m4a"

	// FormatUnknown is reported when no container marker matches.
	// It is never guessed into a concrete format.
	FormatUnknown AudioFormat = "unknown"
)

// AudioAnalysis describes a single audio blob. Created per submission,
// never mutated.
type AudioAnalysis struct {
	SizeBytes          int
	Format             AudioFormat
	DurationSeconds    float64
	EstimatedCostUnits float64
	NeedsOptimization  bool
}

// Optimization tags, appended in the order the transformations were applied.
const (
	TagFormatConversion     = "format-conversion"
	TagCompression          = "compression"
	TagNoOptimizationNeeded = "no-optimization-needed"
	TagOptimizationFailed   = "optimization-failed"
)

// OptimizationResult holds the outcome of an optimization pass.
// Optimized equals Original when no transformation was applied.
type OptimizationResult struct {
	Original         []byte
	Optimized        []byte
	CompressionRatio float64 // original size / optimized size, >= 1
	CostSavingsUnits float64 // >= 0
	Applied          []string
}

// Changed reports whether the optimized blob differs from the original.
func (r *OptimizationResult) Changed() bool {
	if r == nil {
		return false
	}
	for _, tag := range r.Applied {
		if tag == TagFormatConversion || tag == TagCompression {
			return true
		}
	}
	return false
}

// Failed reports whether the pass ended in the optimization-failed fallback.
func (r *OptimizationResult) Failed() bool {
	if r == nil {
		return false
	}
	for _, tag := range r.Applied {
		if tag == TagOptimizationFailed {
			return true
		}
	}
	return false
}

// UnchangedResult builds a result that passes the original blob through
// untouched, tagged with the given reason.
func UnchangedResult(blob []byte, tag string) *OptimizationResult {
	return &OptimizationResult{
		Original:         blob,
		Optimized:        blob,
		CompressionRatio: 1,
		CostSavingsUnits: 0,
		Applied:          []string{tag},
	}
}

// Transcription is the text produced by the external service for one blob.
type Transcription struct {
	Text       string
	Confidence float64 // 0..1
}
