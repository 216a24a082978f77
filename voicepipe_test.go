package voicepipe

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tablevox/voicepipe/domain/model"
	"github.com/tablevox/voicepipe/internal/config"
	"github.com/tablevox/voicepipe/internal/mocks"
	pkgerrors "github.com/tablevox/voicepipe/pkg/errors"
)

func TestFromFileConfigMapsEveryKnob(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
logging:
  development: true
optimizer:
  maxSize: 2MiB
  targetSampleRate: 8000
  preferredFormats: [wav, flac]
  costPerSecond: 2.5
  costPerMegabyte: 1.25
  enableFfmpeg: true
  ffmpegPath: /opt/bin/ffmpeg
cache:
  minConfidence: 0.85
  similarityThreshold: 0.2
  sqlitePath: /tmp/test-cache.db
batch:
  maxConcurrency: 6
  shortestFirst: true
  useSimilarMatches: true
  maxAttempts: 5
  retryDelay: 250ms
  retryMultiplier: 3.0
  maxRetryDelay: 10s
  jobTimeout: 15s
service:
  endpoint: https://stt.example.test/v1
  apiKey: plain-key
  timeout: 90s
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	fileCfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	cfg := fromFileConfig(fileCfg)

	if cfg.ServiceEndpoint != "https://stt.example.test/v1" || cfg.ServiceAPIKey != "plain-key" {
		t.Errorf("service = %q / %q", cfg.ServiceEndpoint, cfg.ServiceAPIKey)
	}
	if cfg.ServiceTimeout != 90*time.Second {
		t.Errorf("ServiceTimeout = %v", cfg.ServiceTimeout)
	}
	if cfg.MaxSizeBytes != 2<<20 || cfg.TargetSampleRate != 8000 {
		t.Errorf("optimizer sizing = %d / %d", cfg.MaxSizeBytes, cfg.TargetSampleRate)
	}
	if len(cfg.PreferredFormats) != 2 || cfg.PreferredFormats[1] != FormatFLAC {
		t.Errorf("PreferredFormats = %v", cfg.PreferredFormats)
	}
	if cfg.CostPerSecond != 2.5 || cfg.CostPerMegabyte != 1.25 {
		t.Errorf("cost weights = %g / %g", cfg.CostPerSecond, cfg.CostPerMegabyte)
	}
	if cfg.MinConfidence != 0.85 || cfg.SimilarityThreshold != 0.2 {
		t.Errorf("cache thresholds = %g / %g", cfg.MinConfidence, cfg.SimilarityThreshold)
	}
	if cfg.SQLitePath != "/tmp/test-cache.db" {
		t.Errorf("SQLitePath = %q", cfg.SQLitePath)
	}
	if !cfg.EnableFFmpeg || cfg.FFmpegPath != "/opt/bin/ffmpeg" {
		t.Errorf("ffmpeg = %v / %q", cfg.EnableFFmpeg, cfg.FFmpegPath)
	}
	if cfg.MaxConcurrency != 6 || !cfg.ShortestFirst || !cfg.UseSimilarMatches {
		t.Errorf("batch = %d / %v / %v", cfg.MaxConcurrency, cfg.ShortestFirst, cfg.UseSimilarMatches)
	}
	if cfg.MaxAttempts != 5 {
		t.Errorf("MaxAttempts = %d", cfg.MaxAttempts)
	}
	if cfg.RetryDelay != 250*time.Millisecond || cfg.RetryMultiplier != 3.0 || cfg.MaxRetryDelay != 10*time.Second {
		t.Errorf("backoff = %v / %g / %v", cfg.RetryDelay, cfg.RetryMultiplier, cfg.MaxRetryDelay)
	}
	if cfg.JobTimeout != 15*time.Second {
		t.Errorf("JobTimeout = %v", cfg.JobTimeout)
	}
}

func TestMinConfidenceReachesCache(t *testing.T) {
	tr := &mocks.MockTranscriber{
		TranscribeFunc: func(_ context.Context, _ []byte, _ model.AudioFormat) (*model.Transcription, error) {
			return &model.Transcription{Text: "borderline", Confidence: 0.9}, nil
		},
	}

	// 0.9 confidence clears the default 0.7 gate but not this one; a
	// silently dropped knob would make the second submission a cache hit.
	p, err := New(Config{
		Transcriber:    tr,
		MinConfidence:  0.95,
		MaxConcurrency: 1,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer p.Close(time.Second)

	blob := []byte("strict threshold payload")
	for i := 0; i < 2; i++ {
		id, err := p.Submit(blob)
		if err != nil {
			t.Fatalf("Submit: %v", err)
		}
		res, err := p.AwaitResult(context.Background(), id)
		if err != nil {
			t.Fatalf("AwaitResult: %v", err)
		}
		if res.FromCache {
			t.Errorf("submission %d served from cache despite confidence below gate", i+1)
		}
	}
	if got := tr.CallCount(); got != 2 {
		t.Errorf("external calls = %d, want 2", got)
	}
}

func TestRetryDelayReachesProcessor(t *testing.T) {
	const delay = 80 * time.Millisecond
	var calls int32

	tr := &mocks.MockTranscriber{
		TranscribeFunc: func(_ context.Context, _ []byte, _ model.AudioFormat) (*model.Transcription, error) {
			if atomic.AddInt32(&calls, 1) == 1 {
				return nil, pkgerrors.NewTranscriptionError(pkgerrors.KindTransient, "blip", nil)
			}
			return &model.Transcription{Text: "ok", Confidence: 0.9}, nil
		},
	}

	p, err := New(Config{
		Transcriber: tr,
		MaxAttempts: 2,
		RetryDelay:  delay,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer p.Close(time.Second)

	start := time.Now()
	id, err := p.Submit([]byte("flaky payload"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := p.AwaitResult(context.Background(), id); err != nil {
		t.Fatalf("AwaitResult: %v", err)
	}

	if elapsed := time.Since(start); elapsed < delay {
		t.Errorf("job finished in %v, want at least the %v configured backoff", elapsed, delay)
	}
	if got := tr.CallCount(); got != 2 {
		t.Errorf("external calls = %d, want 2", got)
	}
}
