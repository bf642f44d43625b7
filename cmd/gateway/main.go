// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command gateway starts the streamgate streaming chat gateway.
//
// This is the main entry point for the containerized gateway service.
// It reads configuration from environment variables and starts the server.
//
// # Environment Variables
//
//   - GATEWAY_PORT: HTTP server port (default: 12220)
//   - GATEWAY_AUTH_SECRET: shared secret for connection tokens (default: none, accept any non-empty token)
//   - OPENAI_API_KEY: OpenAI API key (or /run/secrets/openai_api_key)
//   - OPENAI_MODEL: completion model (default: gpt-4o-mini)
//   - OPENAI_EMBEDDING_MODEL: embedding model (default: text-embedding-3-small)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OpenTelemetry collector (default: streamgate-otel-collector:4317)
//
// # Usage
//
//	# Build
//	go build -o gateway ./cmd/gateway
//
//	# Run
//	./gateway
//
//	# Or via container
//	podman-compose up gateway
package main

import (
	"log"
	"log/slog"
	"os"
	"strconv"

	"github.com/AleutianAI/streamgate/services/gateway"
)

func main() {
	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg := gateway.Config{
		Port:          getEnvInt("GATEWAY_PORT", 12220),
		AuthSecret:    os.Getenv("GATEWAY_AUTH_SECRET"),
		OTelEndpoint:  getEnvString("OTEL_EXPORTER_OTLP_ENDPOINT", "streamgate-otel-collector:4317"),
		EnableMetrics: true,
	}

	slog.Info("Starting gateway",
		"port", cfg.Port,
		"otel_endpoint", cfg.OTelEndpoint,
	)

	svc, err := gateway.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create gateway: %v", err)
	}

	// Run the server (blocks until shutdown)
	if err := svc.Run(); err != nil {
		log.Fatalf("Gateway error: %v", err)
	}
}

// getEnvString returns the environment variable value or a default.
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as int or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
