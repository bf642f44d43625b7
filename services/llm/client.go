package llm

import (
	"context"

	"github.com/AleutianAI/streamgate/services/gateway/datatypes"
)

type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
}

// StreamEventType discriminates streaming callback events.
type StreamEventType int

const (
	// StreamEventToken carries one incremental chunk of model output.
	StreamEventToken StreamEventType = iota
	// StreamEventError carries a provider-side streaming failure.
	StreamEventError
)

// StreamEvent is one event in a streamed completion.
type StreamEvent struct {
	Type    StreamEventType
	Content string
	Error   string
}

// StreamCallback receives stream events in production order. Returning a
// non-nil error stops the stream; the producer does not restart it.
type StreamCallback func(event StreamEvent) error

// CompletionStreamer produces a lazy, finite, non-restartable sequence of
// text chunks for a conversation.
type CompletionStreamer interface {
	ChatStream(ctx context.Context, messages []datatypes.Message,
		params GenerationParams, callback StreamCallback) error
}

// Embedder computes embedding vectors for a batch of texts.
type Embedder interface {
	EmbedMany(ctx context.Context, texts []string) ([][]float32, error)
}

// Client is the full provider surface the gateway needs.
type Client interface {
	CompletionStreamer
	Embedder
}
