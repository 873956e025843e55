// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command gateway starts the edge gateway HTTP server.
//
// The gateway is the public entry point: it proxies /api/users/* to
// the user service, stamps every request with an X-Request-ID, and
// exposes its own health probes and Prometheus metrics.
//
// Configuration is resolved from an optional YAML file and environment
// variables; environment variables win.
//
// # Environment Variables
//
//   - GATEWAY_PORT: HTTP server port (default: 8080)
//   - USER_SERVICE_URL: upstream user service base URL (default: http://localhost:8081)
//   - UPSTREAM_TIMEOUT_MS: per-request upstream timeout (default: 2000)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OpenTelemetry collector, empty disables tracing
//   - LOG_LEVEL: debug, info, warn, or error (default: info)
//   - LOG_FORMAT: json or text (default: auto-detect)
//   - LOG_DIR: directory for file logs (default: disabled)
//   - LOG_LEVEL_FILE: watched file for runtime log level changes (optional)
//
// # Usage
//
//	# Build
//	go build -o gateway ./cmd/gateway
//
//	# Run
//	./gateway
//
//	# Point at a remote user service
//	USER_SERVICE_URL=http://users.internal:8081 ./gateway
//
//	# Run with a config file
//	./gateway -config deploy/gateway.yaml
package main

import (
	"context"
	"flag"
	"log"
	"os"

	"github.com/AleutianAI/userplane/pkg/logging"
	"github.com/AleutianAI/userplane/services/gateway"
)

func main() {
	configPath := flag.String("config", "", "path to optional YAML config file")
	flag.Parse()

	// Build configuration: env > file > defaults
	cfg, err := gateway.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Setup structured logging
	logger := buildLogger()
	defer logger.Close()

	// Optional runtime level control via a watched file
	if path := os.Getenv("LOG_LEVEL_FILE"); path != "" {
		watcher, err := logging.NewLevelWatcher(path, logger)
		if err != nil {
			logger.Warn("log level watcher disabled", "error", err, "path", path)
		} else if err := watcher.Start(context.Background()); err != nil {
			logger.Warn("log level watcher failed to start", "error", err, "path", path)
		} else {
			defer watcher.Stop()
		}
	}

	logger.Info("starting gateway",
		"port", cfg.Port,
		"user_service_url", cfg.UserServiceURL,
	)

	svc, err := gateway.New(cfg, &gateway.Options{Logger: logger})
	if err != nil {
		log.Fatalf("Failed to create gateway: %v", err)
	}

	// Run the server (blocks until shutdown)
	if err := svc.Run(); err != nil {
		log.Fatalf("Gateway error: %v", err)
	}
}

// buildLogger constructs the process logger from LOG_* environment
// variables. An unparseable LOG_LEVEL is fatal.
func buildLogger() *logging.Logger {
	level := logging.LevelInfo
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		parsed, err := logging.ParseLevel(v)
		if err != nil {
			log.Fatalf("Invalid LOG_LEVEL %q: %v", v, err)
		}
		level = parsed
	}
	return logging.New(logging.Config{
		Level:   level,
		Service: "gateway",
		Format:  os.Getenv("LOG_FORMAT"),
		LogDir:  os.Getenv("LOG_DIR"),
	})
}
