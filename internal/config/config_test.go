package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "logging:\n  development: true\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if !cfg.Logging.Development {
		t.Error("expected development logging")
	}
	if cfg.Batch.MaxConcurrency != 4 {
		t.Errorf("MaxConcurrency = %d, want default 4", cfg.Batch.MaxConcurrency)
	}
	if cfg.Batch.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want default 3", cfg.Batch.MaxAttempts)
	}
	if cfg.Optimizer.MaxSize != ByteSize(1<<20) {
		t.Errorf("MaxSize = %d, want 1MiB", cfg.Optimizer.MaxSize)
	}
	if cfg.Cache.MinConfidence != 0.7 {
		t.Errorf("MinConfidence = %g, want 0.7", cfg.Cache.MinConfidence)
	}
}

func TestLoadOverrides(t *testing.T) {
	path := writeConfig(t, `
optimizer:
  maxSize: 2MiB
  targetSampleRate: 8000
batch:
  maxConcurrency: 8
  shortestFirst: true
  jobTimeout: 10s
service:
  endpoint: https://example.test/transcribe
  timeout: 45s
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Optimizer.MaxSize != ByteSize(2<<20) {
		t.Errorf("MaxSize = %d, want 2MiB", cfg.Optimizer.MaxSize)
	}
	if cfg.Optimizer.TargetSampleRate != 8000 {
		t.Errorf("TargetSampleRate = %d, want 8000", cfg.Optimizer.TargetSampleRate)
	}
	if !cfg.Batch.ShortestFirst {
		t.Error("expected shortestFirst")
	}
	if cfg.Batch.MaxConcurrency != 8 {
		t.Errorf("MaxConcurrency = %d, want 8", cfg.Batch.MaxConcurrency)
	}
	if cfg.Batch.JobTimeout != 10*time.Second {
		t.Errorf("JobTimeout = %v, want 10s", cfg.Batch.JobTimeout)
	}
	if cfg.Service.Timeout != 45*time.Second {
		t.Errorf("Service.Timeout = %v, want 45s", cfg.Service.Timeout)
	}
}

func TestLoadExpandsAPIKeyFromEnv(t *testing.T) {
	t.Setenv("VOICEPIPE_TEST_KEY", "secret-token")
	path := writeConfig(t, "service:\n  apiKey: ${VOICEPIPE_TEST_KEY}\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Service.APIKey != "secret-token" {
		t.Errorf("APIKey = %q, want expanded env value", cfg.Service.APIKey)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"zero concurrency", "batch:\n  maxConcurrency: 0\n"},
		{"negative attempts", "batch:\n  maxAttempts: -1\n"},
		{"confidence above one", "cache:\n  minConfidence: 1.5\n"},
		{"bad size", "optimizer:\n  maxSize: lots\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tc.content)); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestParseByteSize(t *testing.T) {
	cases := []struct {
		in   string
		want uint64
	}{
		{"1024", 1024},
		{"1KiB", 1024},
		{"2Mi", 2 * 1024 * 1024},
		{"1MB", 1000 * 1000},
		{"1.5KiB", 1536},
		{"100B", 100},
	}
	for _, tc := range cases {
		got, err := ParseByteSize(tc.in)
		if err != nil {
			t.Errorf("ParseByteSize(%q) error: %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseByteSize(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}

	for _, bad := range []string{"", "-1KB", "abc"} {
		if _, err := ParseByteSize(bad); err == nil {
			t.Errorf("ParseByteSize(%q) expected error", bad)
		}
	}
}
