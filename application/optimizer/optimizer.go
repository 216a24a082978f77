package optimizer

import (
	"context"

	"github.com/dustin/go-humanize"
	"github.com/tablevox/voicepipe/domain/model"
	"github.com/tablevox/voicepipe/domain/ports"
	"github.com/tablevox/voicepipe/internal/audio"
	pkgerrors "github.com/tablevox/voicepipe/pkg/errors"
	"github.com/tablevox/voicepipe/pkg/logger"
	"go.uber.org/zap"
)

// Nominal bitrates (bits/second) used to estimate duration for formats we
// do not parse natively.
var nominalBitrate = map[model.AudioFormat]float64{
	model.FormatMP3:     128_000,
	model.FormatM4A:     128_000,
	model.FormatOgg:     96_000,
	model.FormatWebM:    96_000,
	model.FormatFLAC:    900_000,
	model.FormatUnknown: 128_000,
}

// Config holds optimizer configuration.
type Config struct {
	// MaxSizeBytes triggers optimization for blobs above it. Default 1 MiB.
	MaxSizeBytes int

	// PreferredFormats are accepted without re-encoding.
	// Default: wav, mp3, m4a.
	PreferredFormats []model.AudioFormat

	// TargetSampleRate for the native WAV downsampling path. Default 16000.
	TargetSampleRate int

	// CostPerSecond and CostPerMegabyte weight the cost-unit estimate.
	CostPerSecond   float64
	CostPerMegabyte float64

	// MaxCompressionRatio is the sanity ceiling on claimed compression.
	// Default 10.
	MaxCompressionRatio float64

	// Encoder re-encodes non-WAV formats. Optional; without it, non-WAV
	// blobs that need optimization fall through to the failed tag.
	Encoder ports.Encoder

	Logger *logger.Logger
}

// Optimizer inspects audio blobs and produces cheaper equivalents when
// worthwhile. Optimize never returns an error to the caller: any failure
// falls back to the original blob.
type Optimizer struct {
	cfg       Config
	preferred map[model.AudioFormat]bool
	log       *logger.Logger
}

// New creates an Optimizer, applying defaults for zero-valued config.
func New(cfg Config) *Optimizer {
	if cfg.MaxSizeBytes <= 0 {
		cfg.MaxSizeBytes = 1 << 20
	}
	if len(cfg.PreferredFormats) == 0 {
		cfg.PreferredFormats = []model.AudioFormat{model.FormatWAV, model.FormatMP3, model.FormatM4A}
	}
	if cfg.TargetSampleRate <= 0 {
		cfg.TargetSampleRate = 16000
	}
	if cfg.CostPerSecond <= 0 {
		cfg.CostPerSecond = 1.0
	}
	if cfg.CostPerMegabyte <= 0 {
		cfg.CostPerMegabyte = 0.5
	}
	if cfg.MaxCompressionRatio <= 0 {
		cfg.MaxCompressionRatio = 10
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Nop()
	}

	preferred := make(map[model.AudioFormat]bool, len(cfg.PreferredFormats))
	for _, f := range cfg.PreferredFormats {
		preferred[f] = true
	}

	return &Optimizer{cfg: cfg, preferred: preferred, log: log.Named("optimizer")}
}

// Analyze inspects byte length and container markers of a blob.
func (o *Optimizer) Analyze(blob []byte) (*model.AudioAnalysis, error) {
	if len(blob) == 0 {
		return nil, pkgerrors.NewValidationError("audio", 0, "audio blob must not be empty")
	}

	format := audio.DetectFormat(blob)
	duration := o.estimateDuration(blob, format)

	return &model.AudioAnalysis{
		SizeBytes:          len(blob),
		Format:             format,
		DurationSeconds:    duration,
		EstimatedCostUnits: o.costUnits(duration, len(blob)),
		NeedsOptimization:  len(blob) > o.cfg.MaxSizeBytes || !o.preferred[format],
	}, nil
}

// Optimize transforms a blob into a cheaper equivalent when analysis says it
// is worthwhile. Transformation failures never propagate: the result carries
// the optimization-failed tag and the original blob.
func (o *Optimizer) Optimize(ctx context.Context, blob []byte) *model.OptimizationResult {
	analysis, err := o.Analyze(blob)
	if err != nil {
		o.log.Warn("analysis failed, passing blob through", zap.Error(err))
		return model.UnchangedResult(blob, model.TagOptimizationFailed)
	}
	if !analysis.NeedsOptimization {
		return model.UnchangedResult(blob, model.TagNoOptimizationNeeded)
	}

	var (
		optimized []byte
		tags      []string
		optErr    error
	)
	switch {
	case analysis.Format == model.FormatWAV:
		optimized, tags, optErr = o.optimizeWAV(blob)
	case o.cfg.Encoder != nil:
		optimized, optErr = o.encode(ctx, blob, analysis.Format)
		tags = []string{model.TagFormatConversion}
	default:
		optErr = pkgerrors.NewOptimizationError("encode", "no encoder configured for format "+string(analysis.Format), nil)
	}

	if optErr != nil {
		o.log.Warn("optimization failed, falling back to original blob",
			zap.String("format", string(analysis.Format)),
			zap.Error(optErr),
		)
		return model.UnchangedResult(blob, model.TagOptimizationFailed)
	}
	if len(tags) == 0 {
		// Needed optimization but no transformation applied (e.g. WAV
		// already mono at the target rate). Nothing worthwhile to do.
		return model.UnchangedResult(blob, model.TagNoOptimizationNeeded)
	}
	if len(optimized) >= len(blob) {
		o.log.Warn("optimized blob not smaller, discarding",
			zap.String("original", humanize.Bytes(uint64(len(blob)))),
			zap.String("optimized", humanize.Bytes(uint64(len(optimized)))),
		)
		return model.UnchangedResult(blob, model.TagOptimizationFailed)
	}

	ratio := float64(len(blob)) / float64(len(optimized))
	if ratio > o.cfg.MaxCompressionRatio {
		o.log.Warn("compression ratio above sanity ceiling, clamping",
			zap.Float64("ratio", ratio),
			zap.Float64("ceiling", o.cfg.MaxCompressionRatio),
		)
		ratio = o.cfg.MaxCompressionRatio
	}

	savings := 0.0
	if optAnalysis, err := o.Analyze(optimized); err == nil {
		savings = analysis.EstimatedCostUnits - optAnalysis.EstimatedCostUnits
		if savings < 0 {
			savings = 0
		}
	}

	o.log.Debug("blob optimized",
		zap.String("original", humanize.Bytes(uint64(len(blob)))),
		zap.String("optimized", humanize.Bytes(uint64(len(optimized)))),
		zap.Float64("ratio", ratio),
		zap.Strings("applied", tags),
	)

	return &model.OptimizationResult{
		Original:         blob,
		Optimized:        optimized,
		CompressionRatio: ratio,
		CostSavingsUnits: savings,
		Applied:          tags,
	}
}

// optimizeWAV runs the native transformation chain: downmix to mono, then
// downsample to the target rate. Each applied step appends its own tag.
func (o *Optimizer) optimizeWAV(blob []byte) ([]byte, []string, error) {
	samples, info, err := audio.Decode(blob)
	if err != nil {
		return nil, nil, pkgerrors.NewOptimizationError("decode", "decode wav", err)
	}

	var tags []string
	if info.Channels > 1 {
		samples = audio.Downmix(samples, info.Channels)
		tags = append(tags, model.TagFormatConversion)
	}

	rate := info.SampleRate
	if resampled, outRate := audio.Downsample(samples, rate, o.cfg.TargetSampleRate); outRate != rate {
		samples = resampled
		rate = outRate
		tags = append(tags, model.TagCompression)
	}

	if len(tags) == 0 {
		return blob, nil, nil
	}

	encoded, err := audio.Encode(samples, rate)
	if err != nil {
		return nil, nil, pkgerrors.NewOptimizationError("encode", "re-encode wav", err)
	}
	return encoded, tags, nil
}

func (o *Optimizer) encode(ctx context.Context, blob []byte, format model.AudioFormat) ([]byte, error) {
	encoded, _, err := o.cfg.Encoder.Encode(ctx, blob, format)
	if err != nil {
		return nil, pkgerrors.NewOptimizationError("encode", "external encoder", err)
	}
	return encoded, nil
}

func (o *Optimizer) estimateDuration(blob []byte, format model.AudioFormat) float64 {
	if format == model.FormatWAV {
		if info, err := audio.Probe(blob); err == nil {
			return info.DurationSeconds
		}
		// Corrupt header: fall through to the size heuristic.
	}
	bitrate, ok := nominalBitrate[format]
	if !ok {
		bitrate = nominalBitrate[model.FormatUnknown]
	}
	return float64(len(blob)) * 8 / bitrate
}

// costUnits estimates the external service charge for a blob. Monotonic in
// both duration and size.
func (o *Optimizer) costUnits(durationSeconds float64, sizeBytes int) float64 {
	return durationSeconds*o.cfg.CostPerSecond + float64(sizeBytes)/(1<<20)*o.cfg.CostPerMegabyte
}
