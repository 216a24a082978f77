package cache

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/tablevox/voicepipe/pkg/logger"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := New(Config{
		MinConfidence: 0.7,
		Logger:        logger.Nop(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestFingerprintDeterministic(t *testing.T) {
	a := []byte("order: two burgers, one fries")
	b := append([]byte(nil), a...)

	if Fingerprint(a) != Fingerprint(b) {
		t.Error("identical bytes must fingerprint identically")
	}

	b[0] ^= 1
	if Fingerprint(a) == Fingerprint(b) {
		t.Error("a one-byte difference must change the fingerprint")
	}

	if len(Fingerprint(a)) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(Fingerprint(a)))
	}
}

func TestGetMissCreatesNothing(t *testing.T) {
	c := newTestCache(t)
	if _, ok := c.Get(Fingerprint([]byte("nope"))); ok {
		t.Fatal("unexpected hit on empty cache")
	}
	if stats := c.Stats(); stats.EntryCount != 0 || stats.Misses != 1 {
		t.Errorf("expected 0 entries / 1 miss, got %+v", stats)
	}
}

func TestPutGetUpdatesUsage(t *testing.T) {
	current := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	c, err := New(Config{
		MinConfidence: 0.7,
		Logger:        logger.Nop(),
		Now:           func() time.Time { return current },
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	blob := []byte("audio-bytes")
	fp := Fingerprint(blob)
	if err := c.Put(fp, "two burgers", 0.95, blob); err != nil {
		t.Fatalf("Put: %v", err)
	}

	current = current.Add(time.Minute)
	e, ok := c.Get(fp)
	if !ok {
		t.Fatal("expected hit")
	}
	if e.Transcript != "two burgers" {
		t.Errorf("wrong transcript: %q", e.Transcript)
	}
	if e.UsageCount != 2 {
		t.Errorf("usage should go 1 -> 2 on first hit, got %d", e.UsageCount)
	}
	if !e.LastUsedAt.Equal(current) {
		t.Errorf("last-used not updated: %v", e.LastUsedAt)
	}

	current = current.Add(time.Minute)
	e, _ = c.Get(fp)
	if e.UsageCount != 3 {
		t.Errorf("usage should increment on every hit, got %d", e.UsageCount)
	}
}

func TestPutRejectsLowConfidence(t *testing.T) {
	c := newTestCache(t)
	blob := []byte("mumbled order")
	fp := Fingerprint(blob)

	err := c.Put(fp, "???", 0.4, blob)
	if !errors.Is(err, ErrConfidenceTooLow) {
		t.Fatalf("expected ErrConfidenceTooLow, got %v", err)
	}
	if _, ok := c.Get(fp); ok {
		t.Fatal("rejected put must never become retrievable")
	}
	if c.Stats().EntryCount != 0 {
		t.Error("rejected put must not create an entry")
	}
}

func TestPutIdempotentKeepsBestConfidence(t *testing.T) {
	c := newTestCache(t)
	blob := []byte("same audio twice")
	fp := Fingerprint(blob)

	if err := c.Put(fp, "first transcript", 0.9, blob); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := c.Put(fp, "worse transcript", 0.75, blob); err != nil {
		t.Fatalf("second Put: %v", err)
	}

	e, _ := c.Get(fp)
	if e.Transcript != "first transcript" {
		t.Errorf("lower-confidence re-put must not overwrite, got %q", e.Transcript)
	}

	if err := c.Put(fp, "better transcript", 0.99, blob); err != nil {
		t.Fatalf("third Put: %v", err)
	}
	e, _ = c.Get(fp)
	if e.Transcript != "better transcript" {
		t.Errorf("higher-confidence re-put should refresh, got %q", e.Transcript)
	}
}

func TestFindSimilarOrdersByCloseness(t *testing.T) {
	c := newTestCache(t)

	base := bytes.Repeat([]byte{10, 20, 30, 40}, 1024)
	near := append(append([]byte(nil), base...), 10, 20) // same distribution, 2 extra bytes
	far := bytes.Repeat([]byte{200, 210, 220, 230}, 1024)

	if err := c.Put(Fingerprint(near), "near match", 0.9, near); err != nil {
		t.Fatalf("Put near: %v", err)
	}
	if err := c.Put(Fingerprint(far), "far entry", 0.9, far); err != nil {
		t.Fatalf("Put far: %v", err)
	}

	matches := c.FindSimilar(base, 5)
	if len(matches) != 1 {
		t.Fatalf("expected 1 match within threshold, got %d", len(matches))
	}
	if matches[0].Transcript != "near match" {
		t.Errorf("wrong match: %q", matches[0].Transcript)
	}

	if got := c.FindSimilar(bytes.Repeat([]byte{111}, 512), 5); len(got) != 0 {
		t.Errorf("expected no matches for dissimilar content, got %d", len(got))
	}
}

func TestFindSimilarDoesNotTouchHitCounters(t *testing.T) {
	c := newTestCache(t)
	blob := []byte("some cached audio")
	if err := c.Put(Fingerprint(blob), "x", 0.9, blob); err != nil {
		t.Fatalf("Put: %v", err)
	}

	before := c.Stats()
	c.FindSimilar(blob, 3)
	after := c.Stats()
	if before.Hits != after.Hits || before.Misses != after.Misses {
		t.Error("FindSimilar must not affect hit/miss counters")
	}
}

func TestStatsHitRate(t *testing.T) {
	c := newTestCache(t)
	blob := []byte("popular order")
	fp := Fingerprint(blob)
	if err := c.Put(fp, "transcript", 0.9, blob); err != nil {
		t.Fatalf("Put: %v", err)
	}

	c.Get(fp)
	c.Get(fp)
	c.Get(fp)
	c.Get(Fingerprint([]byte("never seen")))

	stats := c.Stats()
	if stats.Hits != 3 || stats.Misses != 1 {
		t.Fatalf("expected 3 hits / 1 miss, got %+v", stats)
	}
	if stats.HitRate != 0.75 {
		t.Errorf("expected hit rate 0.75, got %.3f", stats.HitRate)
	}

	c.RecordSavings(2.5)
	c.RecordSavings(1.5)
	if got := c.Stats().TotalCostSavings; got != 4.0 {
		t.Errorf("expected savings 4.0, got %.2f", got)
	}
}
