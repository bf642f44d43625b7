// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/AleutianAI/streamgate/services/gateway/datatypes"
	"github.com/AleutianAI/streamgate/services/gateway/embeddings"
)

const (
	// maxTurnsPerRoom caps how many turns a room keeps for recall. Oldest
	// turns fall off first; room memory dies with the process.
	maxTurnsPerRoom = 50

	// recallTopK is how many semantically similar turns feed the prompt.
	recallTopK = 4

	// recallThreshold filters out weakly related turns.
	recallThreshold = 0.35

	// recentTurns is how many trailing turns always feed the prompt,
	// regardless of similarity.
	recentTurns = 6
)

const systemPrompt = "You are a helpful assistant in a group chat. " +
	"Answer the latest message using the provided conversation context."

// memTurn is one remembered conversation turn with its embedding.
type memTurn struct {
	role    string
	content string
	vector  []float32
}

// RoomMemory keeps a bounded per-room transcript with embeddings so the
// gateway can pull semantically relevant earlier turns into each prompt.
//
// # Description
//
// Record embeds a turn through the engine (hitting its cache for repeated
// text) and appends it to the room's transcript. BuildMessages embeds the
// incoming message, ranks the stored turns by cosine similarity, and
// assembles the provider message list: system prompt, recalled turns,
// recent turns, then the user message.
//
// # Thread Safety
//
// Safe for concurrent use.
type RoomMemory struct {
	mu     sync.Mutex
	engine *embeddings.Engine
	turns  map[string][]memTurn
}

// NewRoomMemory creates an empty memory over the given engine.
func NewRoomMemory(engine *embeddings.Engine) *RoomMemory {
	return &RoomMemory{
		engine: engine,
		turns:  make(map[string][]memTurn),
	}
}

// Record embeds and stores one turn. Embedding failures degrade to storing
// the turn without a vector; it still appears in recent history, just never
// in semantic recall.
func (m *RoomMemory) Record(ctx context.Context, roomID, role, content string) {
	if content == "" {
		return
	}
	var vector []float32
	vecs, err := m.engine.Generate(ctx, []string{content})
	if err != nil {
		slog.Warn("turn embedding failed, storing without vector",
			"room", roomID, "role", role, "error", err)
	} else {
		vector = vecs[0]
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	turns := append(m.turns[roomID], memTurn{role: role, content: content, vector: vector})
	if len(turns) > maxTurnsPerRoom {
		turns = turns[len(turns)-maxTurnsPerRoom:]
	}
	m.turns[roomID] = turns
}

// Forget drops a room's transcript.
func (m *RoomMemory) Forget(roomID string) {
	m.mu.Lock()
	delete(m.turns, roomID)
	m.mu.Unlock()
}

// BuildMessages assembles the provider message list for a new user message.
// If semantic recall fails it falls back to recent history alone; the chat
// turn proceeds either way.
func (m *RoomMemory) BuildMessages(ctx context.Context, roomID, userMessage string) []datatypes.Message {
	recalled, err := m.Recall(ctx, roomID, userMessage)
	if err != nil {
		slog.Warn("semantic recall failed, using recent history only",
			"room", roomID, "error", err)
	}

	m.mu.Lock()
	turns := m.turns[roomID]
	recent := turns
	if len(recent) > recentTurns {
		recent = recent[len(recent)-recentTurns:]
	}
	recentCopy := append([]memTurn(nil), recent...)
	m.mu.Unlock()

	messages := []datatypes.Message{{Role: "system", Content: systemPrompt}}
	for _, t := range recalled {
		messages = append(messages, datatypes.Message{
			Role:    "system",
			Content: fmt.Sprintf("Earlier in this conversation, %s said: %s", t.role, t.content),
		})
	}
	for _, t := range recentCopy {
		messages = append(messages, datatypes.Message{Role: t.role, Content: t.content})
	}
	return append(messages, datatypes.Message{Role: "user", Content: userMessage})
}

// Recall returns the stored turns most similar to query, excluding the
// recent window that BuildMessages includes anyway. It either returns a
// complete ranked result or an error; never a partial one.
func (m *RoomMemory) Recall(ctx context.Context, roomID, query string) ([]memTurn, error) {
	m.mu.Lock()
	turns := m.turns[roomID]
	older := turns
	if len(older) > recentTurns {
		older = older[:len(older)-recentTurns]
	} else {
		older = nil
	}
	candidates := make([]memTurn, 0, len(older))
	vectors := make([][]float32, 0, len(older))
	for _, t := range older {
		if t.vector != nil {
			candidates = append(candidates, t)
			vectors = append(vectors, t.vector)
		}
	}
	m.mu.Unlock()

	if len(candidates) == 0 {
		return nil, nil
	}

	queryVecs, err := m.engine.Generate(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed recall query: %w", err)
	}
	matches, err := embeddings.FindSimilar(queryVecs[0], vectors, recallTopK, recallThreshold)
	if err != nil {
		return nil, fmt.Errorf("rank recall candidates: %w", err)
	}

	out := make([]memTurn, 0, len(matches))
	for _, match := range matches {
		out = append(out, candidates[match.Index])
	}
	return out, nil
}
