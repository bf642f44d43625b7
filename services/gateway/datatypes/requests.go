// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Limits
// =============================================================================

const (
	// MaxMessageContentBytes caps the byte length of a single chat message.
	// Byte length, not rune count, so oversized multi-byte payloads cannot
	// bypass the limit.
	MaxMessageContentBytes = 32 * 1024

	// MaxChatIDLength caps the length of a conversation identifier.
	MaxChatIDLength = 128

	// MaxReconnectRooms caps how many rooms a reconnect request may re-join.
	MaxReconnectRooms = 32
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// gatewayValidate is the validator instance for inbound gateway payloads.
// Initialized in init() with custom validators.
var gatewayValidate *validator.Validate

func init() {
	gatewayValidate = validator.New()
	_ = gatewayValidate.RegisterValidation("maxbytes", validateMaxBytes)
}

// validateMaxBytes checks byte length (not rune count) against
// MaxMessageContentBytes.
func validateMaxBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxMessageContentBytes
}

// =============================================================================
// Inbound Payloads
// =============================================================================

// JoinChatRequest is the payload of EventJoinChat and EventLeaveChat.
type JoinChatRequest struct {
	ChatID string `json:"chatId" validate:"required,max=128"`
}

// Validate checks the request against its validation tags.
func (r *JoinChatRequest) Validate() error {
	if err := gatewayValidate.Struct(r); err != nil {
		return fmt.Errorf("invalid join/leave request: %w", err)
	}
	return nil
}

// ChatMessageRequest is the payload of EventChatMessage.
type ChatMessageRequest struct {
	ChatID  string `json:"chatId" validate:"required,max=128"`
	Message string `json:"message" validate:"required,maxbytes"`
}

// Validate checks the request against its validation tags.
func (r *ChatMessageRequest) Validate() error {
	if err := gatewayValidate.Struct(r); err != nil {
		return fmt.Errorf("invalid chat message: %w", err)
	}
	return nil
}

// TypingRequest is the payload of EventTypingStart and EventTypingStop.
type TypingRequest struct {
	ChatID string `json:"chatId" validate:"required,max=128"`
}

// Validate checks the request against its validation tags.
func (r *TypingRequest) Validate() error {
	if err := gatewayValidate.Struct(r); err != nil {
		return fmt.Errorf("invalid typing request: %w", err)
	}
	return nil
}

// ReconnectRequest is the payload of EventReconnectRequest. PreviousRooms
// lists the chat IDs the client was joined to before it lost its connection.
type ReconnectRequest struct {
	PreviousRooms []string `json:"previousRooms" validate:"max=32,dive,required,max=128"`
}

// Validate checks the request against its validation tags.
func (r *ReconnectRequest) Validate() error {
	if err := gatewayValidate.Struct(r); err != nil {
		return fmt.Errorf("invalid reconnect request: %w", err)
	}
	return nil
}
