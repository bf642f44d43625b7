// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package embeddings deduplicates, caches, and retries calls to an external
// embedding provider, and ranks result vectors by cosine similarity.
//
// # Description
//
// The Engine fronts an embedding Provider with a bounded FIFO cache keyed by
// hash(model, text). Uncached texts are grouped into batch-size-limited
// provider calls; transient provider failures are retried with a linearly
// increasing delay. A call either yields a vector for every input text or
// fails outright; there are no partial results.
//
// Two concurrent calls for the same uncached text may both miss the cache
// and both call the provider. The duplicate work is accepted: the cache
// write is idempotent, so correctness is unaffected.
//
// # Thread Safety
//
// Engine is safe for concurrent use.
package embeddings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("streamgate.gateway.embeddings")

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrDimensionMismatch reports a provider vector whose length does not
	// match the configured dimensionality for the model.
	ErrDimensionMismatch = errors.New("embeddings: vector dimension mismatch")

	// ErrVectorLengthMismatch reports a similarity computation over vectors
	// of different lengths.
	ErrVectorLengthMismatch = errors.New("embeddings: vector length mismatch")

	// ErrRetriesExhausted reports a provider that kept failing past the
	// configured retry budget.
	ErrRetriesExhausted = errors.New("embeddings: provider retries exhausted")
)

// =============================================================================
// Provider Interface
// =============================================================================

// Provider is the external embedding backend.
type Provider interface {
	// EmbedMany embeds the given texts in one provider request. The result
	// has one vector per input text, in input order.
	EmbedMany(ctx context.Context, texts []string) ([][]float32, error)
}

// =============================================================================
// Configuration
// =============================================================================

// Config holds Engine tuning knobs.
type Config struct {
	// Model names the embedding model; it is part of every cache key.
	Model string

	// Dimensions is the expected vector length for Model. Provider vectors
	// of any other length fail the call.
	Dimensions int

	// CacheCapacity bounds the FIFO cache.
	CacheCapacity int

	// BatchSize caps how many texts go into one provider request.
	BatchSize int

	// MaxRetries is the number of provider attempts per batch.
	MaxRetries int

	// RetryBaseDelay scales the linear backoff: attempt * RetryBaseDelay.
	RetryBaseDelay time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Model:          "text-embedding-3-small",
		Dimensions:     1536,
		CacheCapacity:  2048,
		BatchSize:      64,
		MaxRetries:     3,
		RetryBaseDelay: 500 * time.Millisecond,
	}
}

// validateConfig corrects invalid values, logging what it changed.
func validateConfig(cfg Config) Config {
	defaults := DefaultConfig()
	if cfg.Model == "" {
		cfg.Model = defaults.Model
	}
	if cfg.Dimensions < 1 {
		slog.Warn("invalid embedding dimensions, using default",
			"provided", cfg.Dimensions, "default", defaults.Dimensions)
		cfg.Dimensions = defaults.Dimensions
	}
	if cfg.CacheCapacity < 1 {
		slog.Warn("invalid cache capacity, using default",
			"provided", cfg.CacheCapacity, "default", defaults.CacheCapacity)
		cfg.CacheCapacity = defaults.CacheCapacity
	}
	if cfg.BatchSize < 1 {
		slog.Warn("invalid batch size, using default",
			"provided", cfg.BatchSize, "default", defaults.BatchSize)
		cfg.BatchSize = defaults.BatchSize
	}
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = defaults.MaxRetries
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = defaults.RetryBaseDelay
	}
	return cfg
}

// =============================================================================
// Metrics
// =============================================================================

// latencyWindow caps the rolling per-call latency list.
const latencyWindow = 100

// Metrics is a read-only snapshot of engine counters. Used only for
// observability; nothing in the engine's control flow reads them back.
type Metrics struct {
	// TotalRequested counts every text passed to Generate.
	TotalRequested int64

	// CacheHits counts texts served from the cache.
	CacheHits int64

	// APICalls counts provider requests, including retries.
	APICalls int64

	// Errors counts Generate calls that failed after retry exhaustion.
	Errors int64

	// Latencies holds the most recent provider call durations.
	Latencies []time.Duration
}

// =============================================================================
// Engine
// =============================================================================

// Engine is the embedding cache and similarity engine.
type Engine struct {
	mu       sync.Mutex
	cfg      Config
	provider Provider
	cache    *fifoCache
	metrics  Metrics
}

// NewEngine creates an engine over the given provider. Invalid config values
// are corrected with logged defaults.
func NewEngine(provider Provider, cfg Config) *Engine {
	cfg = validateConfig(cfg)
	return &Engine{
		cfg:      cfg,
		provider: provider,
		cache:    newFIFOCache(cfg.CacheCapacity, cfg.Dimensions),
	}
}

// Model returns the configured model name.
func (e *Engine) Model() string { return e.cfg.Model }

// Metrics returns a copy of the current counters.
func (e *Engine) Metrics() Metrics {
	e.mu.Lock()
	defer e.mu.Unlock()
	snapshot := e.metrics
	snapshot.Latencies = append([]time.Duration(nil), e.metrics.Latencies...)
	return snapshot
}

// CacheLen returns the number of cached vectors.
func (e *Engine) CacheLen() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cache.len()
}

// ClearCache drops every cached vector. Intended for tests and admin resets.
func (e *Engine) ClearCache() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cache.clear()
}

// Generate embeds texts, serving repeats from the cache.
//
// # Description
//
// Partitions the input into cached and uncached texts, deduplicates the
// uncached ones, and issues one provider request per batch-size-limited
// group. Result index i always corresponds to input index i, regardless of
// which entries were cache hits. On provider failure the batch is retried up
// to MaxRetries times with a delay of attempt * RetryBaseDelay; exhausting
// the budget fails the whole call.
//
// # Outputs
//
//   - [][]float32: One vector per input text, in input order.
//   - error: Non-nil on retry exhaustion, context cancellation, or a
//     dimension mismatch from the provider. Never a partial result.
func (e *Engine) Generate(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	ctx, span := tracer.Start(ctx, "embeddings.Generate")
	defer span.End()

	// Partition into hits and deduplicated misses.
	keys := make([]string, len(texts))
	found := make(map[string][]float32, len(texts))
	var missing []string      // unique uncached texts, first-seen order
	missingKeys := map[string]struct{}{}

	e.mu.Lock()
	e.metrics.TotalRequested += int64(len(texts))
	for i, text := range texts {
		key := CacheKey(text, e.cfg.Model)
		keys[i] = key
		if _, seen := found[key]; seen {
			continue
		}
		if vec, ok := e.cache.get(key); ok {
			found[key] = vec
			continue
		}
		if _, queued := missingKeys[key]; !queued {
			missingKeys[key] = struct{}{}
			missing = append(missing, text)
		}
	}
	// Every cache-served position counts as a hit, including repeats of a
	// text that was looked up once.
	hits := 0
	for _, key := range keys {
		if _, ok := found[key]; ok {
			hits++
		}
	}
	e.metrics.CacheHits += int64(hits)
	e.mu.Unlock()

	if len(missing) > 0 {
		if err := e.embedMissing(ctx, missing, found); err != nil {
			e.mu.Lock()
			e.metrics.Errors++
			e.mu.Unlock()
			return nil, err
		}
	}

	out := make([][]float32, len(texts))
	for i, key := range keys {
		vec, ok := found[key]
		if !ok {
			// Provider returned fewer vectors than texts; treat as fatal.
			return nil, fmt.Errorf("embeddings: no vector produced for input %d", i)
		}
		out[i] = vec
	}
	return out, nil
}

// embedMissing calls the provider for each batch of uncached texts,
// concurrently, and records results in found and the cache.
func (e *Engine) embedMissing(ctx context.Context, missing []string, found map[string][]float32) error {
	var foundMu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)

	for start := 0; start < len(missing); start += e.cfg.BatchSize {
		end := min(start+e.cfg.BatchSize, len(missing))
		batch := missing[start:end]
		g.Go(func() error {
			vectors, err := e.embedBatch(ctx, batch)
			if err != nil {
				return err
			}
			if len(vectors) != len(batch) {
				return fmt.Errorf("embeddings: provider returned %d vectors for %d texts",
					len(vectors), len(batch))
			}
			for i, text := range batch {
				key := CacheKey(text, e.cfg.Model)
				e.mu.Lock()
				err := e.cache.put(key, vectors[i])
				e.mu.Unlock()
				if err != nil {
					return err
				}
				foundMu.Lock()
				found[key] = vectors[i]
				foundMu.Unlock()
			}
			return nil
		})
	}
	return g.Wait()
}

// embedBatch issues one provider request with linear-backoff retries.
func (e *Engine) embedBatch(ctx context.Context, batch []string) ([][]float32, error) {
	var lastErr error
	for attempt := 1; attempt <= e.cfg.MaxRetries; attempt++ {
		start := time.Now()
		vectors, err := e.provider.EmbedMany(ctx, batch)
		e.recordCall(time.Since(start))
		if err == nil {
			return vectors, nil
		}
		lastErr = err
		slog.Warn("embedding provider call failed",
			"attempt", attempt, "maxRetries", e.cfg.MaxRetries,
			"batchSize", len(batch), "error", err)

		if attempt == e.cfg.MaxRetries {
			break
		}
		delay := time.Duration(attempt) * e.cfg.RetryBaseDelay
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil, fmt.Errorf("%w after %d attempts: %v", ErrRetriesExhausted, e.cfg.MaxRetries, lastErr)
}

// recordCall updates the provider-call counters.
func (e *Engine) recordCall(elapsed time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.metrics.APICalls++
	e.metrics.Latencies = append(e.metrics.Latencies, elapsed)
	if len(e.metrics.Latencies) > latencyWindow {
		e.metrics.Latencies = e.metrics.Latencies[len(e.metrics.Latencies)-latencyWindow:]
	}
}
