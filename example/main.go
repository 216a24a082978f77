package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	voicepipe "github.com/tablevox/voicepipe"
)

func main() {
	// ── Graceful shutdown via signal ──────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Progress channel ──────────────────────────────────────────────────
	progressCh := make(chan voicepipe.ProgressUpdate, 32)
	go func() {
		for upd := range progressCh {
			fmt.Printf("[%s] stage=%-11s attempt=%d cache=%v %s\n",
				upd.JobID[:8], upd.Stage, upd.Attempt, upd.FromCache, upd.Message)
		}
	}()

	// ── Create pipeline ───────────────────────────────────────────────────
	pipeline, err := voicepipe.New(voicepipe.Config{
		ServiceEndpoint: envOr("VOICEPIPE_ENDPOINT", "http://localhost:8080/transcribe"),
		ServiceAPIKey:   os.Getenv("VOICEPIPE_API_KEY"),
		SQLitePath:      "/tmp/voicepipe-cache.db",
		EnableFFmpeg:    true,
		MaxConcurrency:  4,
		ShortestFirst:   true,
		ProgressCh:      progressCh,
	})
	if err != nil {
		log.Fatalf("failed to create pipeline: %v", err)
	}
	defer func() {
		if err := pipeline.Close(10 * time.Second); err != nil {
			log.Printf("close: %v", err)
		}
		close(progressCh)
	}()

	if err := pipeline.Start(ctx); err != nil {
		log.Fatalf("failed to start pipeline: %v", err)
	}

	// ── Example 1: Single order ──────────────────────────────────────────
	fmt.Println("\n── Example 1: Single Order ──")
	singleExample(ctx, pipeline)

	// ── Example 2: Batch of orders, shortest first ───────────────────────
	fmt.Println("\n── Example 2: Batch of Orders ──")
	batchExample(ctx, pipeline)

	// ── Example 3: Pipeline statistics ───────────────────────────────────
	fmt.Println("\n── Example 3: Statistics ──")
	statsExample(pipeline)
}

func singleExample(ctx context.Context, p *voicepipe.Pipeline) {
	blob, err := os.ReadFile(envOr("VOICEPIPE_INPUT", "/tmp/order.wav"))
	if err != nil {
		fmt.Printf("no sample audio: %v\n", err)
		return
	}

	id, err := p.Submit(blob, voicepipe.WithFormatHint(voicepipe.FormatWAV))
	if err != nil {
		fmt.Printf("submit failed: %v\n", err)
		return
	}

	result, err := p.AwaitResult(ctx, id)
	if err != nil {
		fmt.Printf("transcription failed: %v\n", err)
		return
	}

	fmt.Printf("Transcript: %q (confidence %.2f, cached=%v)\n",
		result.Transcript, result.Confidence, result.FromCache)
	if result.Optimization != nil && result.Optimization.Changed() {
		fmt.Printf("Optimized: ratio=%.2fx saved=%.1f cost units, tags=%v\n",
			result.Optimization.CompressionRatio,
			result.Optimization.CostSavingsUnits,
			result.Optimization.Applied,
		)
	}
}

func batchExample(ctx context.Context, p *voicepipe.Pipeline) {
	orders := []struct {
		path     string
		duration float64 // seconds, known from the recording app
	}{
		{"/tmp/order-long.wav", 30},
		{"/tmp/order-medium.wav", 10},
		{"/tmp/order-short.wav", 2},
	}

	var ids []string
	for _, o := range orders {
		blob, err := os.ReadFile(o.path)
		if err != nil {
			fmt.Printf("skipping %s: %v\n", o.path, err)
			continue
		}
		id, err := p.Submit(blob, voicepipe.WithDurationHint(o.duration))
		if err != nil {
			fmt.Printf("submit %s failed: %v\n", o.path, err)
			continue
		}
		ids = append(ids, id)
	}

	for _, id := range ids {
		result, err := p.AwaitResult(ctx, id)
		if err != nil {
			fmt.Printf("[%s] FAILED: %v\n", id[:8], err)
			continue
		}
		fmt.Printf("[%s] %q (cached=%v)\n", id[:8], result.Transcript, result.FromCache)
	}

	prog := p.Progress()
	fmt.Printf("Batch complete: %d succeeded, %d failed, %d timed out\n",
		prog.Succeeded, prog.Failed, prog.TimedOut)
}

func statsExample(p *voicepipe.Pipeline) {
	stats := p.Stats()
	fmt.Printf("Processed: %d jobs, cache hits: %d (+%d similar)\n",
		stats.TotalProcessed, stats.CacheHitCount, stats.SimilarHitCount)
	fmt.Printf("Cost: %.1f units spent, %.1f saved (%.0f%% overhead reduction)\n",
		stats.TotalCostUnits, stats.TotalCostSavings,
		stats.OverheadReductionEstimate*100)

	cs := p.CacheStats()
	fmt.Printf("Cache: %d entries, hit rate %.0f%%\n", cs.EntryCount, cs.HitRate*100)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
