// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers provides the WebSocket endpoint for the streaming chat
// gateway: connection authentication, inbound event dispatch, and the glue
// between the registry, router, session controller, and room memory.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/streamgate/services/gateway/datatypes"
	"github.com/AleutianAI/streamgate/services/gateway/middleware"
	"github.com/AleutianAI/streamgate/services/gateway/observability"
	"github.com/AleutianAI/streamgate/services/gateway/registry"
	"github.com/AleutianAI/streamgate/services/gateway/rooms"
	"github.com/AleutianAI/streamgate/services/gateway/session"
	"github.com/AleutianAI/streamgate/services/gateway/transport"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,
}

// messageRate bounds chat-message throughput per connection: sustained one
// message per 2s with a burst of 5.
var messageRate = rate.Every(2 * time.Second)

const messageBurst = 5

// pongWait is how long a connection may stay silent before the read loop
// gives up on it. Protocol pings go out at pingInterval; any pong or
// application frame resets the deadline.
const pongWait = 60 * time.Second

const pingInterval = 25 * time.Second

// Gateway wires the core components behind the WebSocket endpoint.
type Gateway struct {
	transport *transport.WebSocketTransport
	registry  *registry.Registry
	router    *rooms.Router
	sessions  *session.Controller
	memory    *RoomMemory
	auth      middleware.AuthProvider
	metrics   *observability.GatewayMetrics
}

// NewGateway assembles the handler. metrics may be nil.
func NewGateway(
	t *transport.WebSocketTransport,
	reg *registry.Registry,
	router *rooms.Router,
	sessions *session.Controller,
	memory *RoomMemory,
	auth middleware.AuthProvider,
	metrics *observability.GatewayMetrics,
) *Gateway {
	return &Gateway{
		transport: t,
		registry:  reg,
		router:    router,
		sessions:  sessions,
		memory:    memory,
		auth:      auth,
		metrics:   metrics,
	}
}

// connState is per-connection handler state, owned by the read loop.
type connState struct {
	id      string
	userID  string
	limiter *rate.Limiter
}

// HandleWebSocket returns the gin handler for GET /v1/chat/ws.
//
// The credential is taken from the Authorization bearer header or, for
// browser clients, the `token` query parameter. Authentication happens
// before the upgrade; a rejected credential never creates connection state.
func (g *Gateway) HandleWebSocket() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		info, err := g.auth.Validate(c.Request.Context(), token)
		if err != nil {
			if g.metrics != nil {
				g.metrics.AuthFailuresTotal.Inc()
			}
			slog.Warn("websocket auth rejected", "remote", c.ClientIP())
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}

		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Error("failed to upgrade the websocket", "error", err)
			return
		}

		state := &connState{
			id:      uuid.New().String(),
			userID:  info.UserID,
			limiter: rate.NewLimiter(messageRate, messageBurst),
		}
		g.transport.Attach(state.id, ws)
		g.registry.Register(state.id, state.userID)
		if g.metrics != nil {
			g.metrics.ConnectionsTotal.Inc()
			g.metrics.ActiveConnections.Inc()
		}
		slog.Info("websocket client connected", "connId", state.id, "userId", state.userID)

		g.send(state.id, datatypes.EventConnectionConfirmed, datatypes.ConnectionConfirmed{
			SocketID:  state.id,
			UserID:    state.userID,
			Timestamp: time.Now().UnixMilli(),
		})

		stopPings := g.startKeepalive(ws, state.id)
		g.readLoop(c.Request.Context(), ws, state)
		stopPings()

		// Unregister fans user-left out to every room the connection was in.
		g.registry.Unregister(state.id)
		g.transport.Detach(state.id)
		_ = ws.Close()
		if g.metrics != nil {
			g.metrics.ActiveConnections.Dec()
		}
		slog.Info("websocket client disconnected", "connId", state.id)
	}
}

// startKeepalive arms the read deadline and pings the peer on an interval.
// A peer that answers nothing for pongWait fails the next read, which ends
// the read loop and tears the connection down.
func (g *Gateway) startKeepalive(ws *websocket.Conn, connID string) (stop func()) {
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := g.transport.Ping(connID); err != nil {
					return
				}
			}
		}
	}()
	return func() { close(done) }
}

// readLoop dispatches inbound frames until the connection drops.
func (g *Gateway) readLoop(ctx context.Context, ws *websocket.Conn, state *connState) {
	for {
		var frame datatypes.Frame
		if err := ws.ReadJSON(&frame); err != nil {
			slog.Info("websocket read ended", "connId", state.id, "error", err.Error())
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))
		g.dispatch(ctx, state, frame)
	}
}

// dispatch routes one inbound frame. Validation failures produce a
// chat-error on the offending connection; they never tear it down.
func (g *Gateway) dispatch(ctx context.Context, state *connState, frame datatypes.Frame) {
	switch frame.Event {
	case datatypes.EventJoinChat:
		var req datatypes.JoinChatRequest
		if !g.decode(state.id, frame.Data, &req, req.Validate) {
			return
		}
		g.router.Join(state.id, req.ChatID)

	case datatypes.EventLeaveChat:
		var req datatypes.JoinChatRequest
		if !g.decode(state.id, frame.Data, &req, req.Validate) {
			return
		}
		g.router.Leave(state.id, req.ChatID)

	case datatypes.EventChatMessage:
		var req datatypes.ChatMessageRequest
		if !g.decode(state.id, frame.Data, &req, req.Validate) {
			return
		}
		g.handleChatMessage(ctx, state, req)

	case datatypes.EventTypingStart, datatypes.EventTypingStop:
		var req datatypes.TypingRequest
		if !g.decode(state.id, frame.Data, &req, req.Validate) {
			return
		}
		g.router.Typing(req.ChatID, state.id, frame.Event == datatypes.EventTypingStart)

	case datatypes.EventPing:
		now := time.Now()
		g.send(state.id, datatypes.EventPong, datatypes.Pong{
			Timestamp:  now.UnixMilli(),
			ServerTime: now.Unix(),
		})

	case datatypes.EventReconnectRequest:
		var req datatypes.ReconnectRequest
		if !g.decode(state.id, frame.Data, &req, req.Validate) {
			return
		}
		for _, chatID := range req.PreviousRooms {
			g.router.Join(state.id, chatID)
		}
		slog.Info("reconnect re-joined rooms", "connId", state.id, "rooms", len(req.PreviousRooms))

	default:
		g.sendError(state.id, "unknown event", frame.Event)
	}
}

// handleChatMessage starts a streaming session for the room, feeding it the
// semantically relevant conversation context.
func (g *Gateway) handleChatMessage(ctx context.Context, state *connState, req datatypes.ChatMessageRequest) {
	if !state.limiter.Allow() {
		g.sendError(state.id, "too many messages", "slow down and try again")
		return
	}

	roomID := rooms.RoomName(req.ChatID)
	if !memberOf(g.router.Members(roomID), state.id) {
		g.sendError(state.id, "not in chat", "join the chat before sending messages")
		return
	}

	messages := g.memory.BuildMessages(ctx, roomID, req.Message)

	// The stream outlives the sender's connection: other viewers of the
	// room keep receiving chunks if the sender drops. Cancellation comes
	// from the room emptying or an explicit cancel, not from this request.
	s, err := g.sessions.Start(context.WithoutCancel(ctx), roomID, req.ChatID, messages)
	if err != nil {
		if errors.Is(err, session.ErrSessionConflict) {
			g.sendError(state.id, "a response is already streaming", "wait for it to finish or cancel it")
			return
		}
		g.sendError(state.id, session.SanitizeError(err.Error()), "")
		return
	}

	// Record both sides of the turn once the stream settles, so later
	// messages can recall this exchange semantically.
	go func() {
		g.memory.Record(context.WithoutCancel(ctx), roomID, "user", req.Message)
		<-s.Done()
		if s.State() == session.StateCompleted {
			g.memory.Record(context.WithoutCancel(ctx), roomID, "assistant", s.Cumulative())
		}
	}()
}

// decode unmarshals and validates an inbound payload, reporting failures to
// the sender.
func (g *Gateway) decode(connID string, data json.RawMessage, v any, validate func() error) bool {
	if len(data) == 0 {
		g.sendError(connID, "invalid request", "missing payload")
		return false
	}
	if err := json.Unmarshal(data, v); err != nil {
		g.sendError(connID, "invalid request", "malformed payload")
		return false
	}
	if err := validate(); err != nil {
		slog.Debug("inbound payload rejected", "connId", connID, "error", err)
		g.sendError(connID, "invalid request", "payload failed validation")
		return false
	}
	return true
}

func (g *Gateway) send(connID, event string, payload any) {
	if err := g.transport.Send(connID, event, payload); err != nil {
		g.metrics.DeliveryFailed()
		slog.Warn("direct send failed", "connId", connID, "event", event, "error", err)
		return
	}
	g.metrics.EventSent(event)
}

func (g *Gateway) sendError(connID, msg, details string) {
	g.send(connID, datatypes.EventChatError, datatypes.ChatError{
		Error:     msg,
		Details:   details,
		Timestamp: time.Now().UnixMilli(),
	})
}

func bearerToken(c *gin.Context) string {
	const prefix = "Bearer "
	header := c.GetHeader("Authorization")
	if len(header) > len(prefix) && header[:len(prefix)] == prefix {
		return header[len(prefix):]
	}
	// Browser WebSocket clients cannot set headers.
	return c.Query("token")
}

func memberOf(members []string, connID string) bool {
	for _, m := range members {
		if m == connID {
			return true
		}
	}
	return false
}
