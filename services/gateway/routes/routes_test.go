// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/AleutianAI/streamgate/services/gateway/embeddings"
	"github.com/AleutianAI/streamgate/services/gateway/handlers"
	"github.com/AleutianAI/streamgate/services/gateway/middleware"
	"github.com/AleutianAI/streamgate/services/gateway/registry"
	"github.com/AleutianAI/streamgate/services/gateway/rooms"
	"github.com/AleutianAI/streamgate/services/gateway/session"
	"github.com/AleutianAI/streamgate/services/gateway/transport"
)

func newTestEngine(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	wsTransport := transport.NewWebSocketTransport()
	reg := registry.New()
	router := rooms.NewRouter(wsTransport, reg)
	reg.SetNotifier(router)
	sessions := session.NewController(nil, router, nil)
	router.SetEmptyHandler(sessions)
	engine := embeddings.NewEngine(nil, embeddings.DefaultConfig())

	gw := handlers.NewGateway(wsTransport, reg, router, sessions,
		handlers.NewRoomMemory(engine), middleware.NopAuthProvider{}, nil)

	r := gin.New()
	SetupRoutes(r, gw)
	return r
}

func TestHealthEndpoint(t *testing.T) {
	r := newTestEngine(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	r := newTestEngine(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestWebSocketEndpointRequiresAuth(t *testing.T) {
	r := newTestEngine(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/chat/ws", nil))

	// No token and no upgrade headers: rejected before the handshake.
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
