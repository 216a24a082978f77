// Package mocks provides hand-written test doubles for the domain ports.
package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/tablevox/voicepipe/domain/model"
)

// MockTranscriber implements ports.Transcriber with an injectable function
// and records every call.
type MockTranscriber struct {
	mu    sync.Mutex
	calls []TranscribeCall

	TranscribeFunc func(ctx context.Context, audio []byte, format model.AudioFormat) (*model.Transcription, error)
}

// TranscribeCall captures the arguments of one Transcribe invocation.
type TranscribeCall struct {
	Audio  []byte
	Format model.AudioFormat
}

func (m *MockTranscriber) Transcribe(ctx context.Context, audio []byte, format model.AudioFormat) (*model.Transcription, error) {
	m.mu.Lock()
	m.calls = append(m.calls, TranscribeCall{Audio: audio, Format: format})
	m.mu.Unlock()

	if m.TranscribeFunc != nil {
		return m.TranscribeFunc(ctx, audio, format)
	}
	return &model.Transcription{Text: "mock transcript", Confidence: 0.95}, nil
}

// Calls returns a copy of the recorded invocations.
func (m *MockTranscriber) Calls() []TranscribeCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]TranscribeCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how many times Transcribe was invoked.
func (m *MockTranscriber) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// MockEncoder implements ports.Encoder with an injectable function.
type MockEncoder struct {
	mu    sync.Mutex
	calls int

	EncodeFunc func(ctx context.Context, audio []byte, source model.AudioFormat) ([]byte, model.AudioFormat, error)
}

func (m *MockEncoder) Encode(ctx context.Context, audio []byte, source model.AudioFormat) ([]byte, model.AudioFormat, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()

	if m.EncodeFunc != nil {
		return m.EncodeFunc(ctx, audio, source)
	}
	return audio, source, nil
}

// CallCount returns how many times Encode was invoked.
func (m *MockEncoder) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// MockCacheStore implements ports.CacheStore in memory with optional error
// injection per method.
type MockCacheStore struct {
	mu      sync.Mutex
	entries map[string]*model.CacheEntry

	LoadErr  error
	SaveErr  error
	TouchErr error

	saves   int
	touches int
}

// NewMockCacheStore creates an empty store.
func NewMockCacheStore() *MockCacheStore {
	return &MockCacheStore{entries: make(map[string]*model.CacheEntry)}
}

func (m *MockCacheStore) Load(_ context.Context) ([]*model.CacheEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.LoadErr != nil {
		return nil, m.LoadErr
	}
	out := make([]*model.CacheEntry, 0, len(m.entries))
	for _, e := range m.entries {
		c := *e
		out = append(out, &c)
	}
	return out, nil
}

func (m *MockCacheStore) Save(_ context.Context, entry *model.CacheEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SaveErr != nil {
		return m.SaveErr
	}
	c := *entry
	m.entries[entry.Fingerprint] = &c
	m.saves++
	return nil
}

func (m *MockCacheStore) Touch(_ context.Context, fingerprint string, usageCount int, lastUsedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.TouchErr != nil {
		return m.TouchErr
	}
	if e, ok := m.entries[fingerprint]; ok {
		e.UsageCount = usageCount
		e.LastUsedAt = lastUsedAt
	}
	m.touches++
	return nil
}

func (m *MockCacheStore) Close() error { return nil }

// Entry returns the stored entry for a fingerprint, if any.
func (m *MockCacheStore) Entry(fingerprint string) (*model.CacheEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[fingerprint]
	if !ok {
		return nil, false
	}
	c := *e
	return &c, true
}

// SaveCount returns how many Save calls succeeded.
func (m *MockCacheStore) SaveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}
