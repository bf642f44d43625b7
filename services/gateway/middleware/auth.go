// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware provides connection authentication for the gateway.
//
// # Authentication Flow
//
// The WebSocket handler extracts a credential from the upgrade request
// (Authorization header or `token` query parameter, since browser WebSocket
// clients cannot set headers), validates it with the configured
// AuthProvider, and only then registers the connection. A rejected
// credential closes the request with 401 before any room or session state
// exists.
//
// # Open Source Behavior
//
// With no GATEWAY_AUTH_SECRET configured, the NopAuthProvider authenticates
// any non-empty token as the user it names. This keeps local development
// free of auth infrastructure. An empty credential is rejected in every
// configuration.
//
// # Enterprise Behavior
//
// Deployments set GATEWAY_AUTH_SECRET and issue signed tokens; enterprise
// identity providers plug in behind the same interface.
package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"os"
	"strings"
)

// ErrUnauthenticated reports a missing or invalid credential.
var ErrUnauthenticated = errors.New("middleware: unauthenticated")

// AuthInfo is the verified identity attached to a connection.
type AuthInfo struct {
	UserID string
}

// AuthProvider validates a connection credential.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type AuthProvider interface {
	// Validate resolves a verified identity from token, or fails with an
	// error wrapping ErrUnauthenticated.
	Validate(ctx context.Context, token string) (*AuthInfo, error)
}

// =============================================================================
// Nop Provider
// =============================================================================

// NopAuthProvider authenticates any non-empty token as the user it names.
// Local development only.
type NopAuthProvider struct{}

// Validate implements AuthProvider.
func (NopAuthProvider) Validate(_ context.Context, token string) (*AuthInfo, error) {
	if token == "" {
		return nil, ErrUnauthenticated
	}
	return &AuthInfo{UserID: token}, nil
}

// =============================================================================
// Shared-Secret Provider
// =============================================================================

// SharedSecretProvider validates tokens of the form "<userID>.<signature>"
// where signature is hex(HMAC-SHA256(userID, secret)).
type SharedSecretProvider struct {
	secret []byte
}

// NewSharedSecretProvider creates a provider for the given secret.
func NewSharedSecretProvider(secret string) *SharedSecretProvider {
	return &SharedSecretProvider{secret: []byte(secret)}
}

// Sign produces the token for a user ID. Exposed for token issuers and
// tests.
func (p *SharedSecretProvider) Sign(userID string) string {
	mac := hmac.New(sha256.New, p.secret)
	mac.Write([]byte(userID))
	return userID + "." + hex.EncodeToString(mac.Sum(nil))
}

// Validate implements AuthProvider.
func (p *SharedSecretProvider) Validate(_ context.Context, token string) (*AuthInfo, error) {
	userID, sig, ok := strings.Cut(token, ".")
	if !ok || userID == "" {
		return nil, ErrUnauthenticated
	}
	mac := hmac.New(sha256.New, p.secret)
	mac.Write([]byte(userID))
	want := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(sig), []byte(want)) {
		return nil, ErrUnauthenticated
	}
	return &AuthInfo{UserID: userID}, nil
}

// ProviderFromEnv picks the auth provider from GATEWAY_AUTH_SECRET. An
// empty secret selects the nop provider, with a logged warning.
func ProviderFromEnv() AuthProvider {
	secret := os.Getenv("GATEWAY_AUTH_SECRET")
	if secret == "" {
		slog.Warn("GATEWAY_AUTH_SECRET not set, accepting any non-empty token")
		return NopAuthProvider{}
	}
	return NewSharedSecretProvider(secret)
}
