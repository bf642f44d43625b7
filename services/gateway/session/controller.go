// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package session drives the token-by-token production of streamed model
// responses, one active session per room.
//
// # Description
//
// A session walks the state machine
//
//	Idle -> Starting -> Streaming -> {Completed | Errored | Cancelled}
//
// Starting emits stream:start to the room. Each produced chunk emits
// stream:chunk carrying the increment and the cumulative text. Completion
// emits stream:end with the full assembled text. Errors emit a sanitized
// chat-error and terminate the session without retry: partial output has
// already been shown, and a silent retry would duplicate the visible
// transcript. Cancellation is cooperative and reachable while Starting or
// Streaming; a terminal stream:cancelled is sent to connections still
// present.
package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	"github.com/AleutianAI/streamgate/services/gateway/datatypes"
	"github.com/AleutianAI/streamgate/services/gateway/observability"
	"github.com/AleutianAI/streamgate/services/llm"
)

var tracer = otel.Tracer("streamgate.gateway.session")

// ErrSessionConflict reports a start attempt for a room that already has an
// active session. The caller should wait for the active session to finish
// or cancel it; requests are never queued.
var ErrSessionConflict = errors.New("session: room already has an active stream")

// errCancelled stops the provider stream when a cooperative cancellation is
// observed between chunks.
var errCancelled = errors.New("session: cancelled")

// =============================================================================
// State Machine
// =============================================================================

// State is a streaming session's lifecycle position.
type State int32

const (
	StateIdle State = iota
	StateStarting
	StateStreaming
	StateCompleted
	StateErrored
	StateCancelled
)

// String returns the lowercase state name, used in logs and metrics labels.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateErrored:
		return "errored"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// =============================================================================
// Session
// =============================================================================

// Session is one in-flight streamed model response tied to a room.
type Session struct {
	// ID is the session identifier (UUID v4).
	ID string
	// RoomID is the owning room.
	RoomID string
	// ChatID is the conversation the room is derived from.
	ChatID string

	mu         sync.Mutex
	state      State
	cumulative strings.Builder

	cancelled atomic.Bool
	cancel    context.CancelFunc
	done      chan struct{}
}

// State returns the session's current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Cumulative returns the text emitted so far.
func (s *Session) Cumulative() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cumulative.String()
}

// Done is closed when the session reaches a terminal state.
func (s *Session) Done() <-chan struct{} { return s.done }

// requestCancel flips the cooperative cancellation flag and cancels the
// stream context. A chunk already in flight is not retracted.
func (s *Session) requestCancel() {
	s.cancelled.Store(true)
	s.cancel()
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// appendChunk records a chunk and returns the new cumulative text.
func (s *Session) appendChunk(chunk string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cumulative.WriteString(chunk)
	return s.cumulative.String()
}

// =============================================================================
// Controller
// =============================================================================

// Broadcaster fans an event out to a room. The rooms.Router implements it.
type Broadcaster interface {
	Broadcast(roomID, event string, payload any, exclude ...string)
}

// Controller owns every active session and enforces the one-session-per-room
// rule.
//
// # Thread Safety
//
// Safe for concurrent use.
type Controller struct {
	mu     sync.Mutex
	active map[string]*Session // roomID -> session

	streamer    llm.CompletionStreamer
	broadcaster Broadcaster
	metrics     *observability.GatewayMetrics

	now func() time.Time
}

// NewController creates a controller. metrics may be nil.
func NewController(streamer llm.CompletionStreamer, broadcaster Broadcaster,
	metrics *observability.GatewayMetrics) *Controller {

	return &Controller{
		active:      make(map[string]*Session),
		streamer:    streamer,
		broadcaster: broadcaster,
		metrics:     metrics,
		now:         time.Now,
	}
}

// Active returns the room's active session, if any.
func (c *Controller) Active(roomID string) (*Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.active[roomID]
	return s, ok
}

// Start begins streaming a response into roomID.
//
// # Description
//
// Fails immediately with ErrSessionConflict if the room already has a
// session that is Starting or Streaming. Otherwise it emits stream:start and
// launches the stream in a background goroutine; Start itself does not block
// on the provider.
//
// # Inputs
//
//   - ctx: Bounds the provider stream. Cancelling it cancels the session.
//   - roomID: Owning room (rooms.RoomName of the chat ID).
//   - chatID: Conversation identifier, echoed in events.
//   - messages: Conversation history ending with the user's message.
//
// # Outputs
//
//   - *Session: The started session, already in StateStarting.
//   - error: ErrSessionConflict on a duplicate start; nothing else fails
//     synchronously.
func (c *Controller) Start(ctx context.Context, roomID, chatID string,
	messages []datatypes.Message) (*Session, error) {

	ctx, cancel := context.WithCancel(ctx)

	s := &Session{
		ID:     uuid.New().String(),
		RoomID: roomID,
		ChatID: chatID,
		state:  StateStarting,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	c.mu.Lock()
	if existing, ok := c.active[roomID]; ok {
		c.mu.Unlock()
		cancel()
		c.metrics.SessionConflict()
		slog.Warn("rejected concurrent stream start",
			"room", roomID, "activeSession", existing.ID)
		return nil, ErrSessionConflict
	}
	c.active[roomID] = s
	c.mu.Unlock()

	c.metrics.StreamStarted()
	c.broadcaster.Broadcast(roomID, datatypes.EventStreamStart, datatypes.StreamStart{
		SessionID: s.ID,
		ChatID:    chatID,
		Timestamp: c.now().UnixMilli(),
	})
	slog.Info("stream session started", "sessionId", s.ID, "room", roomID)

	go c.run(ctx, s, messages)
	return s, nil
}

// Cancel requests cooperative cancellation of the room's active session.
// Returns false if the room has no active session.
func (c *Controller) Cancel(roomID string) bool {
	c.mu.Lock()
	s, ok := c.active[roomID]
	c.mu.Unlock()
	if !ok {
		return false
	}
	slog.Info("stream session cancellation requested", "sessionId", s.ID, "room", roomID)
	s.requestCancel()
	return true
}

// RoomEmptied implements rooms.EmptyHandler. A session nobody is watching
// burns provider tokens for no one; cancel it.
func (c *Controller) RoomEmptied(roomID string) {
	c.Cancel(roomID)
}

// run consumes the provider stream and fans chunks out to the room. Runs in
// its own goroutine; all broadcasts for the session come from here, so
// per-room chunk order matches production order.
func (c *Controller) run(ctx context.Context, s *Session, messages []datatypes.Message) {
	ctx, span := tracer.Start(ctx, "session.run")
	defer span.End()

	started := c.now()
	var firstChunk time.Time

	callback := func(event llm.StreamEvent) error {
		if s.cancelled.Load() {
			return errCancelled
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		switch event.Type {
		case llm.StreamEventToken:
			if firstChunk.IsZero() {
				firstChunk = c.now()
				c.metrics.ObserveFirstChunk(firstChunk.Sub(started))
				s.setState(StateStreaming)
			}
			cumulative := s.appendChunk(event.Content)
			c.broadcaster.Broadcast(s.RoomID, datatypes.EventStreamChunk, datatypes.StreamChunk{
				Chunk:      event.Content,
				Cumulative: cumulative,
			})
		case llm.StreamEventError:
			// The provider already surfaced the failure; the terminal error
			// handling below emits the client-facing event.
			slog.Warn("provider stream event error", "sessionId", s.ID, "error", event.Error)
		}
		return nil
	}

	err := c.streamer.ChatStream(ctx, messages, llm.GenerationParams{}, callback)
	c.finish(s, err, started)
}

// finish moves the session to its terminal state and emits the terminal
// event.
func (c *Controller) finish(s *Session, err error, started time.Time) {
	c.mu.Lock()
	delete(c.active, s.RoomID)
	c.mu.Unlock()

	duration := c.now().Sub(started)
	switch {
	case s.cancelled.Load() || errors.Is(err, errCancelled) || errors.Is(err, context.Canceled):
		s.setState(StateCancelled)
		c.broadcaster.Broadcast(s.RoomID, datatypes.EventStreamCancelled, datatypes.StreamCancelled{
			SessionID: s.ID,
			Timestamp: c.now().UnixMilli(),
		})
		c.metrics.ObserveStream("cancelled", duration)
		slog.Info("stream session cancelled", "sessionId", s.ID, "room", s.RoomID)

	case err != nil:
		s.setState(StateErrored)
		// Full error stays in the log; the client gets a generic message.
		slog.Error("stream session failed", "sessionId", s.ID, "room", s.RoomID, "error", err)
		c.broadcaster.Broadcast(s.RoomID, datatypes.EventChatError, datatypes.ChatError{
			Error:     SanitizeError(err.Error()),
			Timestamp: c.now().UnixMilli(),
		})
		c.metrics.ObserveStream("errored", duration)

	default:
		s.setState(StateCompleted)
		fullText := s.Cumulative()
		c.broadcaster.Broadcast(s.RoomID, datatypes.EventStreamEnd, datatypes.StreamEnd{
			SessionID:       s.ID,
			FullText:        fullText,
			EstimatedTokens: EstimateTokens(fullText),
			Timestamp:       c.now().UnixMilli(),
		})
		c.metrics.ObserveStream("completed", duration)
		slog.Info("stream session completed",
			"sessionId", s.ID, "room", s.RoomID,
			"chars", len(fullText), "duration", duration)
	}

	c.metrics.StreamFinished()
	close(s.done)
}
