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
	"fmt"
	"math"
	"sort"
)

// Match pairs a candidate index with its similarity score.
type Match struct {
	Index      int     `json:"index"`
	Similarity float64 `json:"similarity"`
}

// CosineSimilarity computes the cosine similarity between two vectors.
//
// # Description
//
// Returns the cosine of the angle between a and b, in [-1, 1]. Vectors of
// different lengths are an explicit error. A zero vector has no direction;
// by policy the result is 0 rather than NaN.
//
// # Performance
//
// O(n) in the vector dimension. Typical: well under a microsecond for
// 768-dim vectors.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrVectorLengthMismatch, len(a), len(b))
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}

// FindSimilar ranks candidates against a query vector.
//
// # Description
//
// Scores every candidate with CosineSimilarity, drops scores below
// threshold, sorts descending, and truncates to topK. Ties keep original
// candidate order (stable sort), so equal-scored candidates come back in the
// order the caller supplied them.
//
// # Inputs
//
//   - query: The query vector.
//   - candidates: Candidate vectors; each must match the query's length.
//   - topK: Maximum number of matches to return. Non-positive means no limit.
//   - threshold: Minimum similarity to include.
//
// # Outputs
//
//   - []Match: Ordered matches, highest similarity first.
//   - error: Non-nil if any candidate's length differs from the query's.
func FindSimilar(query []float32, candidates [][]float32, topK int, threshold float64) ([]Match, error) {
	matches := make([]Match, 0, len(candidates))
	for i, cand := range candidates {
		score, err := CosineSimilarity(query, cand)
		if err != nil {
			return nil, fmt.Errorf("candidate %d: %w", i, err)
		}
		if score >= threshold {
			matches = append(matches, Match{Index: i, Similarity: score})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Similarity > matches[j].Similarity
	})
	if topK > 0 && len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}
