package batch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tablevox/voicepipe/application/cache"
	"github.com/tablevox/voicepipe/application/optimizer"
	"github.com/tablevox/voicepipe/domain/model"
	"github.com/tablevox/voicepipe/domain/ports"
	"github.com/tablevox/voicepipe/internal/audio"
	"github.com/tablevox/voicepipe/internal/metrics"
	pkgerrors "github.com/tablevox/voicepipe/pkg/errors"
	"github.com/tablevox/voicepipe/pkg/logger"
	"github.com/tablevox/voicepipe/pkg/progress"
	"github.com/tablevox/voicepipe/pkg/retry"
	"go.uber.org/zap"
)

// ErrJobNotFound is returned when a job ID is unknown to the processor.
var ErrJobNotFound = errors.New("job not found")

// ErrAlreadyStarted is returned when Start is called twice.
var ErrAlreadyStarted = errors.New("processor already started")

// Config holds batch processor configuration.
type Config struct {
	// MaxConcurrency bounds the worker pool. Default 4.
	MaxConcurrency int

	// ShortestFirst orders the pending queue by ascending estimated
	// duration instead of submission order. Ties break by submission
	// order. The queue is re-sorted on every enqueue so a later short job
	// can overtake a waiting long one.
	ShortestFirst bool

	// UseSimilarMatches lets a near-duplicate cache entry satisfy a job
	// when the exact lookup misses. Advisory; off by default.
	UseSimilarMatches    bool
	SimilarMaxCandidates int // default 3

	// MaxAttempts bounds external call retries per job. Default 3.
	MaxAttempts     int
	RetryDelay      time.Duration // default 1s
	RetryMultiplier float64       // default 2.0
	MaxRetryDelay   time.Duration // default 30s

	// JobTimeout bounds each external call. Default 30s.
	JobTimeout time.Duration

	// ETAWindow is how many recent job durations feed the moving average.
	// Default 20.
	ETAWindow int

	Optimizer   *optimizer.Optimizer
	Cache       *cache.Cache
	Transcriber ports.Transcriber
	Reporter    progress.Reporter
	Metrics     *metrics.Metrics
	Logger      *logger.Logger

	// Sleep waits out retry backoff. Injectable for tests; nil uses the
	// wall clock.
	Sleep func(ctx context.Context, d time.Duration) error

	// Now is injectable for tests. Nil uses the wall clock.
	Now func() time.Time
}

// job is the processor-owned state of one submission.
type job struct {
	id       string
	audio    []byte
	seq      uint64
	priority float64           // estimated duration seconds, shortest-first key
	format   model.AudioFormat // caller-declared container format, may be empty

	status      model.JobStatus
	attempts    int
	result      *model.JobResult
	err         error
	submittedAt time.Time
	startedAt   time.Time
	finishedAt  time.Time

	done chan struct{}
}

// Processor accepts job submissions and drives them to completion against
// the external service under a bounded worker pool.
type Processor struct {
	cfg Config
	log *logger.Logger
	now func() time.Time

	mu      sync.Mutex
	pending []*job
	jobs    map[string]*job
	running int
	seq     uint64

	succeeded   int
	failed      int
	timedOut    int
	cacheHits   int
	similarHits int
	totalCost   float64
	totalSaved  float64

	durations []time.Duration
	durIdx    int
	durFull   bool

	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	notify  chan struct{}
}

// New creates a Processor. Optimizer, Cache and Transcriber are required.
func New(cfg Config) (*Processor, error) {
	if cfg.Optimizer == nil {
		return nil, fmt.Errorf("optimizer is required")
	}
	if cfg.Cache == nil {
		return nil, fmt.Errorf("cache is required")
	}
	if cfg.Transcriber == nil {
		return nil, fmt.Errorf("transcriber is required")
	}

	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 4
	}
	if cfg.SimilarMaxCandidates <= 0 {
		cfg.SimilarMaxCandidates = 3
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.RetryMultiplier <= 0 {
		cfg.RetryMultiplier = 2.0
	}
	if cfg.MaxRetryDelay <= 0 {
		cfg.MaxRetryDelay = 30 * time.Second
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 30 * time.Second
	}
	if cfg.ETAWindow <= 0 {
		cfg.ETAWindow = 20
	}
	if cfg.Reporter == nil {
		cfg.Reporter = progress.NoopReporter{}
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Nop()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Processor{
		cfg:       cfg,
		log:       log.Named("batch"),
		now:       now,
		jobs:      make(map[string]*job),
		durations: make([]time.Duration, 0, cfg.ETAWindow),
		notify:    make(chan struct{}, cfg.MaxConcurrency),
	}, nil
}

// Start launches the worker pool. Jobs may be submitted before Start; they
// wait in the queue.
func (p *Processor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return ErrAlreadyStarted
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.started = true
	p.mu.Unlock()

	for i := 0; i < p.cfg.MaxConcurrency; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	p.log.Info("worker pool started", zap.Int("workers", p.cfg.MaxConcurrency))
	return nil
}

// Submit enqueues a job and returns its ID. Never blocks on processing.
func (p *Processor) Submit(audioBlob []byte, opts ...ports.SubmitOption) (string, error) {
	if len(audioBlob) == 0 {
		return "", pkgerrors.NewValidationError("audio", 0, "audio blob must not be empty")
	}

	var options model.SubmitOptions
	for _, o := range opts {
		o(&options)
	}

	j := &job{
		id:          uuid.NewString(),
		audio:       audioBlob,
		format:      options.FormatHint,
		status:      model.StatusQueued,
		submittedAt: p.now(),
		done:        make(chan struct{}),
	}
	j.priority = p.estimatePriority(audioBlob, options)

	p.mu.Lock()
	p.seq++
	j.seq = p.seq
	p.pending = append(p.pending, j)
	if p.cfg.ShortestFirst {
		// Re-derive eligibility order so a short job submitted late can
		// overtake a long one that has not started yet.
		sort.SliceStable(p.pending, func(a, b int) bool {
			if p.pending[a].priority != p.pending[b].priority {
				return p.pending[a].priority < p.pending[b].priority
			}
			return p.pending[a].seq < p.pending[b].seq
		})
	}
	p.jobs[j.id] = j
	depth := len(p.pending)
	p.mu.Unlock()

	p.cfg.Metrics.Submitted(depth)
	p.report(j.id, progress.StageQueued, 0, false, "")
	p.log.Debug("job submitted",
		zap.String("job_id", j.id),
		zap.Int("size", len(audioBlob)),
		zap.Float64("priority", j.priority),
	)

	select {
	case p.notify <- struct{}{}:
	default:
	}
	return j.id, nil
}

// estimatePriority derives the shortest-first ordering key. Hints win over
// analysis; analysis failures order the job by size alone, last.
func (p *Processor) estimatePriority(blob []byte, opts model.SubmitOptions) float64 {
	if opts.DurationHint > 0 {
		return opts.DurationHint
	}
	if !p.cfg.ShortestFirst {
		return 0
	}
	analysis, err := p.cfg.Optimizer.Analyze(blob)
	if err != nil {
		return float64(len(blob))
	}
	return analysis.DurationSeconds
}

func (p *Processor) worker(ctx context.Context, idx int) {
	defer p.wg.Done()
	log := p.log.With(zap.Int("worker", idx))

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		j := p.claim()
		if j == nil {
			select {
			case <-ctx.Done():
				return
			case <-p.notify:
				continue
			}
		}
		p.process(ctx, j, log)
	}
}

// claim atomically dequeues the next eligible job and marks it running.
// Returns nil when the queue is empty. Two workers can never claim the
// same job: the pop happens under the processor lock.
func (p *Processor) claim() *job {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.pending) == 0 {
		return nil
	}
	j := p.pending[0]
	p.pending = p.pending[1:]
	j.status = model.StatusRunning
	j.startedAt = p.now()
	p.running++
	p.cfg.Metrics.Claimed(len(p.pending), p.running)
	return j
}

func (p *Processor) process(ctx context.Context, j *job, log *logger.Logger) {
	log = log.With(zap.String("job_id", j.id))
	p.report(j.id, progress.StageOptimize, j.attempts, false, "")

	optRes := p.cfg.Optimizer.Optimize(ctx, j.audio)
	blob := optRes.Optimized

	var costEstimate float64
	if analysis, err := p.cfg.Optimizer.Analyze(blob); err == nil {
		costEstimate = analysis.EstimatedCostUnits
	}

	fingerprint := cache.Fingerprint(blob)
	p.report(j.id, progress.StageCacheCheck, j.attempts, false, "")

	if entry, ok := p.cfg.Cache.Get(fingerprint); ok {
		p.cfg.Cache.RecordSavings(costEstimate)
		p.cfg.Metrics.CacheHit(false)
		log.Debug("cache hit", zap.String("fingerprint", fingerprint[:12]))
		p.finish(j, &model.JobResult{
			Transcript:   entry.Transcript,
			Confidence:   entry.Confidence,
			FromCache:    true,
			Optimization: optRes,
			CostUnits:    0,
		}, nil, costEstimate)
		return
	}
	p.cfg.Metrics.CacheMiss()

	if p.cfg.UseSimilarMatches {
		if matches := p.cfg.Cache.FindSimilar(blob, p.cfg.SimilarMaxCandidates); len(matches) > 0 {
			best := matches[0]
			p.cfg.Cache.RecordSavings(costEstimate)
			p.cfg.Metrics.CacheHit(true)
			log.Debug("similar match accepted", zap.String("fingerprint", best.Fingerprint[:12]))
			p.finish(j, &model.JobResult{
				Transcript:   best.Transcript,
				Confidence:   best.Confidence,
				FromCache:    true,
				SimilarMatch: true,
				Optimization: optRes,
				CostUnits:    0,
			}, nil, costEstimate)
			return
		}
	}

	// The caller's format hint only holds for the bytes it described; any
	// re-encoding invalidates it.
	format := j.format
	if format == "" || format == model.FormatUnknown || optRes.Changed() {
		format = audio.DetectFormat(blob)
	}
	p.report(j.id, progress.StageTranscribe, j.attempts, false, "")

	var transcription *model.Transcription
	err := retry.Do(ctx, retry.Config{
		MaxAttempts: p.cfg.MaxAttempts,
		Delay:       p.cfg.RetryDelay,
		Multiplier:  p.cfg.RetryMultiplier,
		MaxDelay:    p.cfg.MaxRetryDelay,
		RetryIf:     pkgerrors.IsRetryable,
		Sleep:       p.sleepBetweenAttempts(j),
	}, func(attempt int) error {
		p.setAttempt(j, attempt)

		callCtx, cancel := context.WithTimeout(ctx, p.cfg.JobTimeout)
		defer cancel()

		result, callErr := p.cfg.Transcriber.Transcribe(callCtx, blob, format)
		if callErr != nil {
			return p.classify(callErr, callCtx, ctx)
		}
		transcription = result
		return nil
	})

	if err != nil {
		log.Warn("job exhausted attempts",
			zap.Int("attempts", j.attempts),
			zap.Error(err),
		)
		p.finish(j, nil, err, 0)
		return
	}

	if putErr := p.cfg.Cache.Put(fingerprint, transcription.Text, transcription.Confidence, blob); putErr != nil {
		if errors.Is(putErr, cache.ErrConfidenceTooLow) {
			log.Debug("transcript below cache threshold, not cached",
				zap.Float64("confidence", transcription.Confidence),
			)
		} else {
			log.Warn("cache put failed", zap.Error(putErr))
		}
	}

	p.finish(j, &model.JobResult{
		Transcript:   transcription.Text,
		Confidence:   transcription.Confidence,
		Optimization: optRes,
		CostUnits:    costEstimate,
	}, nil, optRes.CostSavingsUnits)
}

// sleepBetweenAttempts marks the job retrying while it waits out backoff,
// then returns it to running for the next attempt.
func (p *Processor) sleepBetweenAttempts(j *job) func(ctx context.Context, d time.Duration) error {
	inner := p.cfg.Sleep
	return func(ctx context.Context, d time.Duration) error {
		p.mu.Lock()
		j.status = model.StatusRetrying
		p.mu.Unlock()
		p.report(j.id, progress.StageRetrying, j.attempts, false, "")

		var err error
		if inner != nil {
			err = inner(ctx, d)
		} else {
			timer := time.NewTimer(d)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				err = ctx.Err()
			case <-timer.C:
			}
		}

		p.mu.Lock()
		j.status = model.StatusRunning
		p.mu.Unlock()
		return err
	}
}

func (p *Processor) setAttempt(j *job, attempt int) {
	p.mu.Lock()
	j.attempts = attempt
	p.mu.Unlock()
}

// classify maps an external call error to the retry taxonomy. A deadline
// on the per-call context (with the parent still live) is a per-job
// timeout; already-classified errors pass through.
func (p *Processor) classify(err error, callCtx, parent context.Context) error {
	var te *pkgerrors.TranscriptionError
	if errors.As(err, &te) {
		return err
	}
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) && parent.Err() == nil {
		return pkgerrors.NewTranscriptionError(pkgerrors.KindTimeout, "external call exceeded job timeout", err)
	}
	return pkgerrors.NewTranscriptionError(pkgerrors.KindTransient, "external call failed", err)
}

// finish moves a job to its terminal state and releases the worker slot.
func (p *Processor) finish(j *job, result *model.JobResult, jobErr error, saved float64) {
	finishedAt := p.now()

	p.mu.Lock()
	j.result = result
	j.err = jobErr
	j.finishedAt = finishedAt

	switch {
	case jobErr == nil:
		j.status = model.StatusSucceeded
		p.succeeded++
		if result.FromCache {
			if result.SimilarMatch {
				p.similarHits++
			} else {
				p.cacheHits++
			}
		}
		p.totalCost += result.CostUnits
	case pkgerrors.IsTimeout(jobErr):
		j.status = model.StatusTimedOut
		p.timedOut++
	default:
		j.status = model.StatusFailed
		p.failed++
	}
	p.totalSaved += saved

	took := finishedAt.Sub(j.startedAt)
	if len(p.durations) < p.cfg.ETAWindow {
		p.durations = append(p.durations, took)
	} else {
		p.durations[p.durIdx] = took
		p.durIdx = (p.durIdx + 1) % p.cfg.ETAWindow
		p.durFull = true
	}

	p.running--
	running := p.running
	status := j.status
	p.mu.Unlock()

	var spent float64
	if result != nil {
		spent = result.CostUnits
	}
	p.cfg.Metrics.Cost(spent, saved)
	p.cfg.Metrics.Finished(string(status), running, took)
	p.report(j.id, progress.StageDone, j.attempts, result != nil && result.FromCache, string(status))
	close(j.done)
}

// AwaitResult blocks until the job reaches a terminal state, then returns
// its result. Failed and timed-out jobs return the last recorded error.
func (p *Processor) AwaitResult(ctx context.Context, jobID string) (*model.JobResult, error) {
	p.mu.Lock()
	j, ok := p.jobs[jobID]
	p.mu.Unlock()
	if !ok {
		return nil, ErrJobNotFound
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-j.done:
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if j.err != nil {
		return nil, j.err
	}
	return j.result, nil
}

// Job returns a snapshot of a job's current state.
func (p *Processor) Job(jobID string) (model.JobSnapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	j, ok := p.jobs[jobID]
	if !ok {
		return model.JobSnapshot{}, ErrJobNotFound
	}
	return model.JobSnapshot{
		ID:          j.id,
		Status:      j.status,
		Attempts:    j.attempts,
		Result:      j.result,
		Err:         j.err,
		SubmittedAt: j.submittedAt,
		StartedAt:   j.startedAt,
		FinishedAt:  j.finishedAt,
	}, nil
}

// Progress returns a snapshot of the queue plus an ETA derived from the
// moving average of recently completed jobs.
func (p *Processor) Progress() model.Progress {
	p.mu.Lock()
	defer p.mu.Unlock()

	prog := model.Progress{
		Queued:    len(p.pending),
		Running:   p.running,
		Succeeded: p.succeeded,
		Failed:    p.failed,
		TimedOut:  p.timedOut,
	}

	if avg := p.avgDurationLocked(); avg > 0 && prog.Queued > 0 {
		prog.EstimatedTimeRemaining = time.Duration(
			float64(avg) * float64(prog.Queued) / float64(p.cfg.MaxConcurrency),
		)
	}
	return prog
}

func (p *Processor) avgDurationLocked() time.Duration {
	if len(p.durations) == 0 {
		return 0
	}
	var sum time.Duration
	for _, d := range p.durations {
		sum += d
	}
	return sum / time.Duration(len(p.durations))
}

// Stats returns cumulative cost-efficiency counters.
func (p *Processor) Stats() model.BatchStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	stats := model.BatchStats{
		TotalProcessed:   p.succeeded + p.failed + p.timedOut,
		CacheHitCount:    p.cacheHits,
		SimilarHitCount:  p.similarHits,
		TotalCostUnits:   p.totalCost,
		TotalCostSavings: p.totalSaved,
	}
	if stats.TotalProcessed > 0 {
		stats.OverheadReductionEstimate = float64(p.cacheHits+p.similarHits) / float64(stats.TotalProcessed)
	}
	return stats
}

// Shutdown stops the worker pool, waiting up to deadline for in-flight
// jobs. Queued jobs stay queued; a subsequent process could pick them up.
func (p *Processor) Shutdown(deadline time.Duration) {
	p.mu.Lock()
	cancel := p.cancel
	p.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.wg.Wait()
	}()

	if deadline <= 0 {
		<-done
		return
	}
	timer := time.NewTimer(deadline)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		p.log.Warn("shutdown deadline reached; workers may still be running")
	}
}

func (p *Processor) report(jobID string, stage progress.Stage, attempt int, fromCache bool, msg string) {
	p.cfg.Reporter.Report(progress.Update{
		JobID:     jobID,
		Stage:     stage,
		Attempt:   attempt,
		FromCache: fromCache,
		Message:   msg,
		Timestamp: p.now(),
	})
}
