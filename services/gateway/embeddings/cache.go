// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package embeddings

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// CacheKey derives the cache key for a text under a given model. Both parts
// feed the hash so the same text embedded by two models never collides.
func CacheKey(text, model string) string {
	h := sha256.Sum256([]byte(model + "\x00" + text))
	return hex.EncodeToString(h[:])
}

// fifoCache is a bounded vector cache with first-inserted eviction.
//
// # Description
//
// When an insertion would exceed capacity the single oldest-inserted entry
// is evicted, by insertion order, not access order. Entries never expire by
// time; only capacity pressure or Clear removes them. Re-inserting an
// existing key refreshes the value without changing its insertion position.
//
// Not safe for concurrent use on its own; the Engine guards it.
type fifoCache struct {
	capacity   int
	dimensions int

	entries map[string][]float32
	order   []string
}

func newFIFOCache(capacity, dimensions int) *fifoCache {
	return &fifoCache{
		capacity:   capacity,
		dimensions: dimensions,
		entries:    make(map[string][]float32, capacity),
	}
}

// get returns the cached vector for key, if present.
func (c *fifoCache) get(key string) ([]float32, bool) {
	vec, ok := c.entries[key]
	return vec, ok
}

// put inserts a vector, evicting the oldest entry if the cache is full.
// A vector whose length does not match the configured dimensionality is a
// construction error, never silently accepted.
func (c *fifoCache) put(key string, vec []float32) error {
	if len(vec) != c.dimensions {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vec), c.dimensions)
	}
	if _, exists := c.entries[key]; exists {
		c.entries[key] = vec
		return nil
	}
	if len(c.order) >= c.capacity {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
	c.entries[key] = vec
	c.order = append(c.order, key)
	return nil
}

// len returns the number of held entries.
func (c *fifoCache) len() int {
	return len(c.entries)
}

// clear drops every entry.
func (c *fifoCache) clear() {
	c.entries = make(map[string][]float32, c.capacity)
	c.order = nil
}
