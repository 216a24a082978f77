package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root pipeline configuration loaded from YAML.
type Config struct {
	Logging   LoggingConfig   `yaml:"logging"`
	Optimizer OptimizerConfig `yaml:"optimizer"`
	Cache     CacheConfig     `yaml:"cache"`
	Batch     BatchConfig     `yaml:"batch"`
	Service   ServiceConfig   `yaml:"service"`
}

// LoggingConfig selects log output style.
type LoggingConfig struct {
	Development bool `yaml:"development"`
}

// OptimizerConfig holds audio optimizer settings.
type OptimizerConfig struct {
	MaxSize          ByteSize `yaml:"maxSize"`          // optimization size trigger
	TargetSampleRate int      `yaml:"targetSampleRate"` // Hz for the native WAV path
	PreferredFormats []string `yaml:"preferredFormats"`
	CostPerSecond    float64  `yaml:"costPerSecond"`
	CostPerMegabyte  float64  `yaml:"costPerMegabyte"`
	EnableFFmpeg     bool     `yaml:"enableFfmpeg"` // use ffmpeg for non-WAV formats when available
	FFmpegPath       string   `yaml:"ffmpegPath"`
}

// CacheConfig holds transcription cache settings.
type CacheConfig struct {
	MinConfidence       float64 `yaml:"minConfidence"`
	SimilarityThreshold float64 `yaml:"similarityThreshold"`
	SQLitePath          string  `yaml:"sqlitePath"` // empty keeps the cache memory-only
}

// BatchConfig holds batch processor settings.
type BatchConfig struct {
	MaxConcurrency    int           `yaml:"maxConcurrency"`
	ShortestFirst     bool          `yaml:"shortestFirst"`
	UseSimilarMatches bool          `yaml:"useSimilarMatches"`
	MaxAttempts       int           `yaml:"maxAttempts"`
	RetryDelay        time.Duration `yaml:"retryDelay"`
	RetryMultiplier   float64       `yaml:"retryMultiplier"`
	MaxRetryDelay     time.Duration `yaml:"maxRetryDelay"`
	JobTimeout        time.Duration `yaml:"jobTimeout"`
}

// ServiceConfig points at the external transcription service.
type ServiceConfig struct {
	Endpoint string        `yaml:"endpoint"`
	APIKey   string        `yaml:"apiKey"` // supports ${ENV_VAR} expansion
	Timeout  time.Duration `yaml:"timeout"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Optimizer: OptimizerConfig{
			MaxSize:          ByteSize(1 << 20),
			TargetSampleRate: 16000,
			PreferredFormats: []string{"wav", "mp3", "m4a"},
			CostPerSecond:    1.0,
			CostPerMegabyte:  0.5,
		},
		Cache: CacheConfig{
			MinConfidence:       0.7,
			SimilarityThreshold: 0.12,
		},
		Batch: BatchConfig{
			MaxConcurrency:  4,
			MaxAttempts:     3,
			RetryDelay:      time.Second,
			RetryMultiplier: 2.0,
			MaxRetryDelay:   30 * time.Second,
			JobTimeout:      30 * time.Second,
		},
		Service: ServiceConfig{
			Timeout: 60 * time.Second,
		},
	}
}

// Load reads and validates a YAML config file, filling defaults for
// omitted fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.Service.APIKey = expandEnv(cfg.Service.APIKey)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges that would otherwise surface as confusing runtime
// behavior.
func (c *Config) Validate() error {
	if c.Batch.MaxConcurrency <= 0 {
		return fmt.Errorf("batch.maxConcurrency must be positive, got %d", c.Batch.MaxConcurrency)
	}
	if c.Batch.MaxAttempts <= 0 {
		return fmt.Errorf("batch.maxAttempts must be positive, got %d", c.Batch.MaxAttempts)
	}
	if c.Cache.MinConfidence < 0 || c.Cache.MinConfidence > 1 {
		return fmt.Errorf("cache.minConfidence must be in [0,1], got %g", c.Cache.MinConfidence)
	}
	if c.Cache.SimilarityThreshold < 0 || c.Cache.SimilarityThreshold > 1 {
		return fmt.Errorf("cache.similarityThreshold must be in [0,1], got %g", c.Cache.SimilarityThreshold)
	}
	return nil
}

var reEnv = regexp.MustCompile(`^\$\{(\w+)\}$`)

// expandEnv resolves "${VAR}" values against the environment.
func expandEnv(s string) string {
	if m := reEnv.FindStringSubmatch(strings.TrimSpace(s)); m != nil {
		return os.Getenv(m[1])
	}
	return s
}

// ByteSize is a size in bytes that unmarshals from strings like "2MB",
// "512KiB", "1Mi" or bare byte counts.
type ByteSize uint64

// UnmarshalYAML implements yaml unmarshalling for ByteSize.
func (b *ByteSize) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("invalid bytesize node kind: %v", value.Kind)
	}
	parsed, err := ParseByteSize(strings.TrimSpace(value.Value))
	if err != nil {
		return err
	}
	*b = ByteSize(parsed)
	return nil
}

var reNumeric = regexp.MustCompile(`^\d+$`)

// ParseByteSize parses a human-readable size into bytes. Accepts binary
// units (Ki/Mi/Gi, KiB/MiB/GiB), decimal units (KB/MB/GB), and bare bytes.
func ParseByteSize(s string) (uint64, error) {
	if s == "" {
		return 0, errors.New("empty size")
	}
	if reNumeric.MatchString(s) {
		return strconv.ParseUint(s, 10, 64)
	}

	up := strings.ToUpper(s)
	type unit struct {
		suffix string
		value  uint64
	}
	units := []unit{
		{"KIB", 1024},
		{"MIB", 1024 * 1024},
		{"GIB", 1024 * 1024 * 1024},
		{"KI", 1024},
		{"MI", 1024 * 1024},
		{"GI", 1024 * 1024 * 1024},
		{"KB", 1000},
		{"MB", 1000 * 1000},
		{"GB", 1000 * 1000 * 1000},
		{"B", 1},
	}
	for _, u := range units {
		if strings.HasSuffix(up, u.suffix) {
			num := strings.TrimSpace(s[:len(s)-len(u.suffix)])
			val, err := strconv.ParseFloat(num, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid size %q: %w", s, err)
			}
			if val < 0 {
				return 0, fmt.Errorf("negative size %q", s)
			}
			return uint64(val * float64(u.value)), nil
		}
	}
	return 0, fmt.Errorf("unrecognized size %q", s)
}
