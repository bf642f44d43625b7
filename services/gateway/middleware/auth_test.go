// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package middleware

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNopAuthProvider(t *testing.T) {
	provider := NopAuthProvider{}

	info, err := provider.Validate(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", info.UserID)

	_, err = provider.Validate(context.Background(), "")
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestSharedSecretProvider_RoundTrip(t *testing.T) {
	provider := NewSharedSecretProvider("test-secret")

	token := provider.Sign("alice")
	info, err := provider.Validate(context.Background(), token)

	require.NoError(t, err)
	assert.Equal(t, "alice", info.UserID)
}

func TestSharedSecretProvider_RejectsTampering(t *testing.T) {
	provider := NewSharedSecretProvider("test-secret")
	token := provider.Sign("alice")

	// Re-attributing a valid signature to another user must fail.
	tampered := "mallory" + token[len("alice"):]
	_, err := provider.Validate(context.Background(), tampered)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestSharedSecretProvider_RejectsWrongSecret(t *testing.T) {
	issuer := NewSharedSecretProvider("secret-a")
	verifier := NewSharedSecretProvider("secret-b")

	_, err := verifier.Validate(context.Background(), issuer.Sign("alice"))
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestSharedSecretProvider_RejectsMalformedTokens(t *testing.T) {
	provider := NewSharedSecretProvider("test-secret")

	for _, token := range []string{"", "no-separator", ".sig-without-user", "alice."} {
		_, err := provider.Validate(context.Background(), token)
		assert.ErrorIs(t, err, ErrUnauthenticated, "token %q", token)
	}
}

func TestProviderFromEnv(t *testing.T) {
	t.Setenv("GATEWAY_AUTH_SECRET", "")
	assert.IsType(t, NopAuthProvider{}, ProviderFromEnv())

	t.Setenv("GATEWAY_AUTH_SECRET", "test-secret")
	assert.IsType(t, &SharedSecretProvider{}, ProviderFromEnv())
}
