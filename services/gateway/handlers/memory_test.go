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
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/streamgate/services/gateway/datatypes"
	"github.com/AleutianAI/streamgate/services/gateway/embeddings"
)

// tableProvider embeds known texts with fixed 2D vectors so similarity
// ranking is fully predictable. Unknown texts get a vector orthogonal to
// every "known" one.
type tableProvider struct {
	vectors map[string][]float32
	fail    bool
}

func (p *tableProvider) EmbedMany(_ context.Context, texts []string) ([][]float32, error) {
	if p.fail {
		return nil, errors.New("provider down")
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if vec, ok := p.vectors[text]; ok {
			out[i] = vec
		} else {
			out[i] = []float32{0, 1}
		}
	}
	return out, nil
}

func newTestMemory(provider embeddings.Provider) *RoomMemory {
	engine := embeddings.NewEngine(provider, embeddings.Config{
		Model:         "test-model",
		Dimensions:    2,
		CacheCapacity: 64,
		BatchSize:     8,
		MaxRetries:    1,
	})
	return NewRoomMemory(engine)
}

func TestRoomMemory_BuildMessagesEmptyRoom(t *testing.T) {
	memory := newTestMemory(&tableProvider{})

	messages := memory.BuildMessages(context.Background(), "chat:42", "hello")

	require.Len(t, messages, 2)
	assert.Equal(t, "system", messages[0].Role)
	assert.Equal(t, datatypes.Message{Role: "user", Content: "hello"}, messages[1])
}

func TestRoomMemory_BuildMessagesIncludesRecentHistory(t *testing.T) {
	memory := newTestMemory(&tableProvider{})
	ctx := context.Background()
	memory.Record(ctx, "chat:42", "user", "first message")
	memory.Record(ctx, "chat:42", "assistant", "first reply")

	messages := memory.BuildMessages(ctx, "chat:42", "second message")

	require.Len(t, messages, 4)
	assert.Equal(t, datatypes.Message{Role: "user", Content: "first message"}, messages[1])
	assert.Equal(t, datatypes.Message{Role: "assistant", Content: "first reply"}, messages[2])
	assert.Equal(t, datatypes.Message{Role: "user", Content: "second message"}, messages[3])
}

func TestRoomMemory_RecallRanksOlderTurns(t *testing.T) {
	provider := &tableProvider{vectors: map[string][]float32{
		"my cat is named Whiskers": {1, 0},
		"what was my cat called?":  {1, 0},
	}}
	memory := newTestMemory(provider)
	ctx := context.Background()

	// One on-topic turn, then enough filler to push it out of the recent
	// window.
	memory.Record(ctx, "chat:42", "user", "my cat is named Whiskers")
	for i := 0; i < recentTurns; i++ {
		memory.Record(ctx, "chat:42", "user", fmt.Sprintf("filler %d", i))
	}

	recalled, err := memory.Recall(ctx, "chat:42", "what was my cat called?")

	require.NoError(t, err)
	require.Len(t, recalled, 1)
	assert.Equal(t, "my cat is named Whiskers", recalled[0].content)

	// And the recalled turn surfaces in the assembled prompt.
	messages := memory.BuildMessages(ctx, "chat:42", "what was my cat called?")
	found := false
	for _, msg := range messages {
		if msg.Content == "Earlier in this conversation, user said: my cat is named Whiskers" {
			found = true
		}
	}
	assert.True(t, found, "recalled turn missing from prompt")
}

func TestRoomMemory_RecallExcludesRecentWindow(t *testing.T) {
	provider := &tableProvider{vectors: map[string][]float32{
		"query": {1, 0},
	}}
	memory := newTestMemory(provider)
	ctx := context.Background()

	// Fewer turns than the recent window: nothing is old enough to recall.
	memory.Record(ctx, "chat:42", "user", "a")
	memory.Record(ctx, "chat:42", "user", "b")

	recalled, err := memory.Recall(ctx, "chat:42", "query")

	require.NoError(t, err)
	assert.Empty(t, recalled)
}

func TestRoomMemory_BuildMessagesSurvivesRecallFailure(t *testing.T) {
	provider := &tableProvider{}
	memory := newTestMemory(provider)
	ctx := context.Background()
	for i := 0; i < recentTurns+2; i++ {
		memory.Record(ctx, "chat:42", "user", fmt.Sprintf("turn %d", i))
	}

	// Provider goes down: recall fails, but the prompt still assembles from
	// recent history.
	provider.fail = true
	memory.engine.ClearCache()

	messages := memory.BuildMessages(ctx, "chat:42", "new message")

	require.NotEmpty(t, messages)
	assert.Equal(t, "user", messages[len(messages)-1].Role)
	assert.Equal(t, "new message", messages[len(messages)-1].Content)
	// system prompt + recentTurns history + user message
	assert.Len(t, messages, 1+recentTurns+1)
}

func TestRoomMemory_RecordSurvivesEmbeddingFailure(t *testing.T) {
	provider := &tableProvider{fail: true}
	memory := newTestMemory(provider)
	ctx := context.Background()

	memory.Record(ctx, "chat:42", "user", "unembeddable")

	messages := memory.BuildMessages(ctx, "chat:42", "next")
	require.Len(t, messages, 3)
	assert.Equal(t, "unembeddable", messages[1].Content)
}

func TestRoomMemory_CapsTurnsPerRoom(t *testing.T) {
	memory := newTestMemory(&tableProvider{})
	ctx := context.Background()
	for i := 0; i < maxTurnsPerRoom+10; i++ {
		memory.Record(ctx, "chat:42", "user", fmt.Sprintf("turn %d", i))
	}

	memory.mu.Lock()
	count := len(memory.turns["chat:42"])
	oldest := memory.turns["chat:42"][0].content
	memory.mu.Unlock()

	assert.Equal(t, maxTurnsPerRoom, count)
	assert.Equal(t, "turn 10", oldest, "oldest turns fall off first")
}

func TestRoomMemory_Forget(t *testing.T) {
	memory := newTestMemory(&tableProvider{})
	ctx := context.Background()
	memory.Record(ctx, "chat:42", "user", "hello")

	memory.Forget("chat:42")

	messages := memory.BuildMessages(ctx, "chat:42", "next")
	assert.Len(t, messages, 2)
}
