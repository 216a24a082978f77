// Package voicepipe turns voice-order audio blobs into transcripts through
// an optimize, cache, batch-transcribe pipeline backed by an external
// speech-to-text service.
package voicepipe

import (
	"context"
	"time"

	"github.com/tablevox/voicepipe/application/batch"
	"github.com/tablevox/voicepipe/application/cache"
	"github.com/tablevox/voicepipe/application/optimizer"
	"github.com/tablevox/voicepipe/domain/model"
	"github.com/tablevox/voicepipe/domain/ports"
	"github.com/tablevox/voicepipe/infrastructure/ffmpeg"
	"github.com/tablevox/voicepipe/infrastructure/store"
	"github.com/tablevox/voicepipe/infrastructure/transcriber"
	"github.com/tablevox/voicepipe/internal/config"
	"github.com/tablevox/voicepipe/internal/metrics"
	"github.com/tablevox/voicepipe/pkg/logger"
	"github.com/tablevox/voicepipe/pkg/progress"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Re-export types for convenient use by callers
type (
	AudioFormat        = model.AudioFormat
	AudioAnalysis      = model.AudioAnalysis
	OptimizationResult = model.OptimizationResult
	JobStatus          = model.JobStatus
	JobResult          = model.JobResult
	JobSnapshot        = model.JobSnapshot
	Progress           = model.Progress
	BatchStats         = model.BatchStats
	CacheStats         = model.CacheStats
	ProgressUpdate     = progress.Update
	ProgressStage      = progress.Stage
)

// Re-export format and status constants
const (
	FormatWAV  = model.FormatWAV
	FormatMP3  = model.FormatMP3
	FormatWebM = model.FormatWebM
	FormatOgg  = model.FormatOgg
	FormatFLAC = model.FormatFLAC
	FormatM4A  = model.FormatM4A

	StatusQueued    = model.StatusQueued
	StatusRunning   = model.StatusRunning
	StatusRetrying  = model.StatusRetrying
	StatusSucceeded = model.StatusSucceeded
	StatusFailed    = model.StatusFailed
	StatusTimedOut  = model.StatusTimedOut

	StageQueued     = progress.StageQueued
	StageOptimize   = progress.StageOptimize
	StageCacheCheck = progress.StageCacheCheck
	StageTranscribe = progress.StageTranscribe
	StageRetrying   = progress.StageRetrying
	StageDone       = progress.StageDone
)

// Re-export submit options
var (
	WithFormatHint   = ports.WithFormatHint
	WithDurationHint = ports.WithDurationHint
)

// Config holds top-level configuration for the pipeline.
type Config struct {
	// ServiceEndpoint is the transcription service URL. Required unless a
	// custom Transcriber is supplied.
	ServiceEndpoint string

	// ServiceAPIKey authenticates against the transcription service.
	ServiceAPIKey string

	// ServiceTimeout bounds a single HTTP request (default 60s).
	ServiceTimeout time.Duration

	// Transcriber overrides the HTTP client, e.g. for tests.
	Transcriber ports.Transcriber

	// SQLitePath persists the transcription cache. Empty keeps it in memory.
	SQLitePath string

	// EnableFFmpeg re-encodes non-WAV blobs through ffmpeg when the binary
	// is available. Without it those blobs pass through unoptimized.
	EnableFFmpeg bool
	FFmpegPath   string

	// MaxSizeBytes is the optimization trigger (default 1MiB).
	MaxSizeBytes int

	// TargetSampleRate for optimized audio (default 16000).
	TargetSampleRate int

	// PreferredFormats are accepted without re-encoding (default wav, mp3, m4a).
	PreferredFormats []AudioFormat

	// CostPerSecond and CostPerMegabyte weight the cost-unit estimate.
	CostPerSecond   float64
	CostPerMegabyte float64

	// MinConfidence gates cache admission (default 0.7).
	MinConfidence float64

	// SimilarityThreshold bounds near-duplicate match distance (default 0.12).
	SimilarityThreshold float64

	// UseSimilarMatches serves near-duplicate cache entries.
	UseSimilarMatches bool

	// MaxConcurrency bounds the worker pool (default 4).
	MaxConcurrency int

	// ShortestFirst processes shorter recordings before longer ones.
	ShortestFirst bool

	// MaxAttempts bounds retries per job (default 3).
	MaxAttempts int

	// RetryDelay, RetryMultiplier and MaxRetryDelay shape the backoff
	// between attempts (defaults 1s, 2.0, 30s).
	RetryDelay      time.Duration
	RetryMultiplier float64
	MaxRetryDelay   time.Duration

	// JobTimeout bounds each external call (default 30s).
	JobTimeout time.Duration

	// Logger is an optional custom logger. Uses production zap if nil.
	Logger *logger.Logger

	// ZapLogger allows passing a *zap.Logger directly.
	ZapLogger *zap.Logger

	// ProgressCh is an optional channel for receiving progress updates.
	ProgressCh chan<- ProgressUpdate

	// Metrics is an optional Prometheus instrument set.
	Metrics *metrics.Metrics
}

// Pipeline is the main entry point.
type Pipeline struct {
	processor *batch.Processor
	cache     *cache.Cache
	store     ports.CacheStore
	log       *logger.Logger
}

// New creates a Pipeline with the given configuration.
func New(cfg Config) (*Pipeline, error) {
	log := cfg.Logger
	if log == nil && cfg.ZapLogger != nil {
		log = logger.FromZap(cfg.ZapLogger)
	}
	if log == nil {
		var err error
		log, err = logger.New(false)
		if err != nil {
			return nil, err
		}
	}

	var encoder ports.Encoder
	if cfg.EnableFFmpeg {
		enc, err := ffmpeg.NewEncoder(ffmpeg.EncoderConfig{
			FFmpegPath: cfg.FFmpegPath,
			SampleRate: cfg.TargetSampleRate,
			Logger:     log,
		})
		if err != nil {
			// Non-WAV blobs pass through unoptimized without ffmpeg.
			log.Warn("ffmpeg unavailable, non-WAV optimization disabled", zap.Error(err))
		} else {
			encoder = enc
		}
	}

	opt := optimizer.New(optimizer.Config{
		MaxSizeBytes:     cfg.MaxSizeBytes,
		TargetSampleRate: cfg.TargetSampleRate,
		PreferredFormats: cfg.PreferredFormats,
		CostPerSecond:    cfg.CostPerSecond,
		CostPerMegabyte:  cfg.CostPerMegabyte,
		Encoder:          encoder,
		Logger:           log,
	})

	var cacheStore ports.CacheStore
	if cfg.SQLitePath != "" {
		s, err := store.NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		cacheStore = s
	} else {
		cacheStore = store.NewMemoryStore()
	}

	c, err := cache.New(cache.Config{
		MinConfidence:       cfg.MinConfidence,
		SimilarityThreshold: cfg.SimilarityThreshold,
		Store:               cacheStore,
		Logger:              log,
	})
	if err != nil {
		_ = cacheStore.Close()
		return nil, err
	}

	tr := cfg.Transcriber
	if tr == nil {
		client, err := transcriber.NewClient(transcriber.Config{
			Endpoint: cfg.ServiceEndpoint,
			APIKey:   cfg.ServiceAPIKey,
			Timeout:  cfg.ServiceTimeout,
			Logger:   log,
		})
		if err != nil {
			_ = cacheStore.Close()
			return nil, err
		}
		tr = client
	}

	var reporter progress.Reporter = progress.NoopReporter{}
	if cfg.ProgressCh != nil {
		reporter = progress.NewChannelReporter(cfg.ProgressCh)
	}

	proc, err := batch.New(batch.Config{
		MaxConcurrency:    cfg.MaxConcurrency,
		ShortestFirst:     cfg.ShortestFirst,
		UseSimilarMatches: cfg.UseSimilarMatches,
		MaxAttempts:       cfg.MaxAttempts,
		RetryDelay:        cfg.RetryDelay,
		RetryMultiplier:   cfg.RetryMultiplier,
		MaxRetryDelay:     cfg.MaxRetryDelay,
		JobTimeout:        cfg.JobTimeout,
		Optimizer:         opt,
		Cache:             c,
		Transcriber:       tr,
		Reporter:          reporter,
		Metrics:           cfg.Metrics,
		Logger:            log,
	})
	if err != nil {
		_ = cacheStore.Close()
		return nil, err
	}

	return &Pipeline{
		processor: proc,
		cache:     c,
		store:     cacheStore,
		log:       log,
	}, nil
}

// NewFromConfigFile builds a Pipeline from a YAML configuration file.
func NewFromConfigFile(path string) (*Pipeline, error) {
	fileCfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	log, err := logger.New(fileCfg.Logging.Development)
	if err != nil {
		return nil, err
	}

	cfg := fromFileConfig(fileCfg)
	cfg.Logger = log
	return New(cfg)
}

// fromFileConfig maps the YAML file schema onto the facade Config. Every
// knob the loader parses must land in a Config field here.
func fromFileConfig(fileCfg *config.Config) Config {
	preferred := make([]AudioFormat, 0, len(fileCfg.Optimizer.PreferredFormats))
	for _, f := range fileCfg.Optimizer.PreferredFormats {
		preferred = append(preferred, AudioFormat(f))
	}

	return Config{
		ServiceEndpoint:     fileCfg.Service.Endpoint,
		ServiceAPIKey:       fileCfg.Service.APIKey,
		ServiceTimeout:      fileCfg.Service.Timeout,
		SQLitePath:          fileCfg.Cache.SQLitePath,
		EnableFFmpeg:        fileCfg.Optimizer.EnableFFmpeg,
		FFmpegPath:          fileCfg.Optimizer.FFmpegPath,
		MaxSizeBytes:        int(fileCfg.Optimizer.MaxSize),
		TargetSampleRate:    fileCfg.Optimizer.TargetSampleRate,
		PreferredFormats:    preferred,
		CostPerSecond:       fileCfg.Optimizer.CostPerSecond,
		CostPerMegabyte:     fileCfg.Optimizer.CostPerMegabyte,
		MinConfidence:       fileCfg.Cache.MinConfidence,
		SimilarityThreshold: fileCfg.Cache.SimilarityThreshold,
		UseSimilarMatches:   fileCfg.Batch.UseSimilarMatches,
		MaxConcurrency:      fileCfg.Batch.MaxConcurrency,
		ShortestFirst:       fileCfg.Batch.ShortestFirst,
		MaxAttempts:         fileCfg.Batch.MaxAttempts,
		RetryDelay:          fileCfg.Batch.RetryDelay,
		RetryMultiplier:     fileCfg.Batch.RetryMultiplier,
		MaxRetryDelay:       fileCfg.Batch.MaxRetryDelay,
		JobTimeout:          fileCfg.Batch.JobTimeout,
	}
}

// Start launches the worker pool.
func (p *Pipeline) Start(ctx context.Context) error {
	return p.processor.Start(ctx)
}

// Submit enqueues an audio blob for transcription and returns its job ID.
// Never blocks on processing.
func (p *Pipeline) Submit(audio []byte, opts ...ports.SubmitOption) (string, error) {
	return p.processor.Submit(audio, opts...)
}

// AwaitResult blocks until the job reaches a terminal state.
func (p *Pipeline) AwaitResult(ctx context.Context, jobID string) (*JobResult, error) {
	return p.processor.AwaitResult(ctx, jobID)
}

// Job returns a snapshot of a job's current state.
func (p *Pipeline) Job(jobID string) (JobSnapshot, error) {
	return p.processor.Job(jobID)
}

// Progress returns queue counters and an ETA for the remaining work.
func (p *Pipeline) Progress() Progress {
	return p.processor.Progress()
}

// Stats returns cumulative batch cost-efficiency counters.
func (p *Pipeline) Stats() BatchStats {
	return p.processor.Stats()
}

// CacheStats returns hit-rate and savings counters for the cache.
func (p *Pipeline) CacheStats() CacheStats {
	return p.cache.Stats()
}

// Close stops the workers, waiting up to deadline for in-flight jobs, then
// releases the cache store and flushes the logger.
func (p *Pipeline) Close(deadline time.Duration) error {
	p.processor.Shutdown(deadline)

	var errs error
	if err := p.store.Close(); err != nil {
		errs = multierr.Append(errs, err)
	}
	if err := p.log.Sync(); err != nil {
		// Sync on stderr fails on some platforms; not actionable.
		p.log.Debug("logger sync failed", zap.Error(err))
	}
	return errs
}
