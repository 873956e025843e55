// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

// =============================================================================
// Level Tests
// =============================================================================

func TestLevel_String(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{Level(99), "UNKNOWN"},
		{Level(-1), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			got := tt.level.String()
			if got != tt.want {
				t.Errorf("Level.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLevel_toSlogLevel(t *testing.T) {
	tests := []struct {
		level Level
		want  slog.Level
	}{
		{LevelDebug, slog.LevelDebug},
		{LevelInfo, slog.LevelInfo},
		{LevelWarn, slog.LevelWarn},
		{LevelError, slog.LevelError},
		{Level(99), slog.LevelInfo}, // Unknown defaults to Info
	}

	for _, tt := range tests {
		t.Run(tt.level.String(), func(t *testing.T) {
			got := tt.level.toSlogLevel()
			if got != tt.want {
				t.Errorf("Level.toSlogLevel() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input   string
		want    Level
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"DEBUG", LevelDebug, false},
		{"info", LevelInfo, false},
		{"warn", LevelWarn, false},
		{"warning", LevelWarn, false},
		{"error", LevelError, false},
		{" error \n", LevelError, false},
		{"verbose", LevelInfo, true},
		{"", LevelInfo, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseLevel(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

// =============================================================================
// Logger Constructor Tests
// =============================================================================

func TestNew_DefaultConfig(t *testing.T) {
	logger := New(Config{})
	if logger == nil {
		t.Fatal("New() returned nil")
	}
	if logger.slog == nil {
		t.Error("logger.slog is nil")
	}
	defer logger.Close()
}

func TestNew_WriterReceivesJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Writer: &buf, Service: "gateway"})
	defer logger.Close()

	logger.Info("server listening", "port", 8080)

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("output is not JSON: %v (got %q)", err, buf.String())
	}
	if line["msg"] != "server listening" {
		t.Errorf("msg = %v, want server listening", line["msg"])
	}
	if line["service"] != "gateway" {
		t.Errorf("service = %v, want gateway", line["service"])
	}
	if line["port"] != float64(8080) {
		t.Errorf("port = %v, want 8080", line["port"])
	}
}

func TestNew_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Writer: &buf, Format: FormatText})
	defer logger.Close()

	logger.Info("hello", "key", "value")

	out := buf.String()
	if strings.HasPrefix(out, "{") {
		t.Errorf("expected text output, got JSON: %q", out)
	}
	if !strings.Contains(out, "key=value") {
		t.Errorf("expected key=value in text output, got %q", out)
	}
}

func TestResolveFormat(t *testing.T) {
	var buf bytes.Buffer

	if got := resolveFormat(FormatText, &buf); got != FormatText {
		t.Errorf("explicit text not honored: %v", got)
	}
	if got := resolveFormat(FormatJSON, os.Stdout); got != FormatJSON {
		t.Errorf("explicit json not honored: %v", got)
	}
	// Non-file writers are never terminals
	if got := resolveFormat("", &buf); got != FormatJSON {
		t.Errorf("auto format for buffer = %v, want json", got)
	}
}

func TestNew_QuietMode(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Writer: &buf, Quiet: true})
	defer logger.Close()

	logger.Info("should not appear")

	if buf.Len() != 0 {
		t.Errorf("quiet logger wrote %q", buf.String())
	}
}

func TestNew_WithLogDir(t *testing.T) {
	dir := t.TempDir()
	logger := New(Config{
		Service: "users",
		LogDir:  dir,
		Quiet:   true,
	})

	logger.Info("file line", "n", 1)

	if err := logger.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	pattern := filepath.Join(dir, "users_*.log")
	matches, err := filepath.Glob(pattern)
	if err != nil || len(matches) != 1 {
		t.Fatalf("expected one log file matching %s, got %v (err %v)", pattern, matches, err)
	}

	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "file line") {
		t.Errorf("log file missing entry: %q", string(data))
	}
}

func TestDefault(t *testing.T) {
	logger := Default()
	if logger == nil {
		t.Fatal("Default() returned nil")
	}
	if logger.Level() != LevelInfo {
		t.Errorf("default level = %v, want info", logger.Level())
	}
	defer logger.Close()
}

// =============================================================================
// Level Mutation Tests
// =============================================================================

func TestLogger_SetLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Writer: &buf, Level: LevelInfo})
	defer logger.Close()

	logger.Debug("filtered")
	if buf.Len() != 0 {
		t.Fatalf("debug line passed info filter: %q", buf.String())
	}

	logger.SetLevel(LevelDebug)
	if logger.Level() != LevelDebug {
		t.Fatalf("Level() = %v after SetLevel(debug)", logger.Level())
	}

	logger.Debug("visible")
	if !strings.Contains(buf.String(), "visible") {
		t.Errorf("debug line missing after SetLevel: %q", buf.String())
	}
}

func TestLogger_SetLevel_AffectsChildren(t *testing.T) {
	var buf bytes.Buffer
	parent := New(Config{Writer: &buf, Level: LevelInfo})
	defer parent.Close()

	child := parent.With("request_id", "r-1")
	parent.SetLevel(LevelError)

	child.Warn("suppressed")
	if buf.Len() != 0 {
		t.Errorf("child ignored parent level change: %q", buf.String())
	}
}

// =============================================================================
// Logging Method Tests
// =============================================================================

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Writer: &buf, Level: LevelWarn})
	defer logger.Close()

	logger.Debug("debug line")
	logger.Info("info line")
	logger.Warn("warn line")
	logger.Error("error line")

	out := buf.String()
	if strings.Contains(out, "debug line") || strings.Contains(out, "info line") {
		t.Errorf("low-severity lines passed warn filter: %q", out)
	}
	if !strings.Contains(out, "warn line") || !strings.Contains(out, "error line") {
		t.Errorf("high-severity lines missing: %q", out)
	}
}

func TestLogger_With(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Writer: &buf})
	defer logger.Close()

	reqLogger := logger.With("request_id", "abc-123")
	reqLogger.Info("processing")

	if !strings.Contains(buf.String(), "abc-123") {
		t.Errorf("child attribute missing: %q", buf.String())
	}

	buf.Reset()
	logger.Info("parent line")
	if strings.Contains(buf.String(), "abc-123") {
		t.Errorf("parent logger polluted by child attrs: %q", buf.String())
	}
}

func TestLogger_Slog(t *testing.T) {
	logger := New(Config{Quiet: true})
	defer logger.Close()

	if logger.Slog() == nil {
		t.Error("Slog() returned nil")
	}
}

func TestLogger_ConcurrentUse(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Writer: &syncWriter{w: &buf}})
	defer logger.Close()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				logger.Info("concurrent", "goroutine", n, "iteration", j)
			}
		}(i)
	}
	wg.Wait()

	lines := strings.Count(buf.String(), "\n")
	if lines != 200 {
		t.Errorf("expected 200 lines, got %d", lines)
	}
}

// syncWriter serializes writes for the concurrency test.
type syncWriter struct {
	mu sync.Mutex
	w  *bytes.Buffer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

// =============================================================================
// Exporter Tests
// =============================================================================

func TestBufferedExporter_CollectsEntries(t *testing.T) {
	exporter := NewBufferedExporter()
	logger := New(Config{Quiet: true, Service: "users", Exporter: exporter})
	defer logger.Close()

	logger.Info("created", "user_id", "u-1")

	waitForEntries(t, exporter, 1)
	entries := exporter.Entries()
	if entries[0].Message != "created" {
		t.Errorf("Message = %q, want created", entries[0].Message)
	}
	if entries[0].Service != "users" {
		t.Errorf("Service = %q, want users", entries[0].Service)
	}
	if entries[0].Attrs["user_id"] != "u-1" {
		t.Errorf("Attrs[user_id] = %v, want u-1", entries[0].Attrs["user_id"])
	}
}

func TestExporter_RespectsLevel(t *testing.T) {
	exporter := NewBufferedExporter()
	logger := New(Config{Quiet: true, Level: LevelWarn, Exporter: exporter})
	defer logger.Close()

	logger.Info("below threshold")
	logger.Warn("at threshold")

	waitForEntries(t, exporter, 1)
	entries := exporter.Entries()
	if len(entries) != 1 || entries[0].Message != "at threshold" {
		t.Errorf("entries = %+v, want only the warn line", entries)
	}
}

func TestBufferedExporter_Entries_ReturnsCopy(t *testing.T) {
	exporter := NewBufferedExporter()
	_ = exporter.Export(context.Background(), LogEntry{Message: "original"})

	entries := exporter.Entries()
	entries[0].Message = "mutated"

	if exporter.Entries()[0].Message != "original" {
		t.Error("Entries() exposed internal buffer")
	}
}

func TestWriterExporter_Export(t *testing.T) {
	var buf bytes.Buffer
	exporter := NewWriterExporter(&buf)

	entry := LogEntry{
		Timestamp: time.Now(),
		Level:     LevelInfo,
		Message:   "hello",
		Attrs:     map[string]any{"k": "v"},
	}
	if err := exporter.Export(context.Background(), entry); err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if !strings.Contains(buf.String(), "hello") {
		t.Errorf("output missing message: %q", buf.String())
	}
}

func TestNopExporter(t *testing.T) {
	e := &NopExporter{}
	if err := e.Export(context.Background(), LogEntry{}); err != nil {
		t.Errorf("Export() error = %v", err)
	}
	if err := e.Flush(context.Background()); err != nil {
		t.Errorf("Flush() error = %v", err)
	}
	if err := e.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestLogger_Close_ExporterError(t *testing.T) {
	logger := New(Config{Quiet: true, Exporter: &failingExporter{}})

	err := logger.Close()
	if err == nil {
		t.Fatal("Close() should surface the exporter flush error")
	}
	if !strings.Contains(err.Error(), "flush exporter") {
		t.Errorf("error = %v, want flush exporter wrap", err)
	}
}

// failingExporter always errors, for Close() error paths.
type failingExporter struct{}

func (e *failingExporter) Export(ctx context.Context, entry LogEntry) error { return nil }
func (e *failingExporter) Flush(ctx context.Context) error                  { return errors.New("boom") }
func (e *failingExporter) Close() error                                     { return nil }

// waitForEntries polls the exporter until n entries arrive (export is
// asynchronous).
func waitForEntries(t *testing.T, exporter *BufferedExporter, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(exporter.Entries()) >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d exported entries, have %d", n, len(exporter.Entries()))
}

// =============================================================================
// Multi-Handler Tests
// =============================================================================

func TestMultiHandler_Handle(t *testing.T) {
	var buf1, buf2 bytes.Buffer
	h := &multiHandler{handlers: []slog.Handler{
		slog.NewJSONHandler(&buf1, nil),
		slog.NewTextHandler(&buf2, nil),
	}}

	logger := slog.New(h)
	logger.Info("fan out")

	if !strings.Contains(buf1.String(), "fan out") {
		t.Error("first handler missed record")
	}
	if !strings.Contains(buf2.String(), "fan out") {
		t.Error("second handler missed record")
	}
}

func TestMultiHandler_Enabled(t *testing.T) {
	debugOnly := slog.NewJSONHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelDebug})
	errorOnly := slog.NewJSONHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelError})

	h := &multiHandler{handlers: []slog.Handler{errorOnly}}
	if h.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("info should not be enabled when only an error handler exists")
	}

	h = &multiHandler{handlers: []slog.Handler{errorOnly, debugOnly}}
	if !h.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("info should be enabled when any handler accepts it")
	}
}

func TestMultiHandler_WithAttrs(t *testing.T) {
	var buf bytes.Buffer
	h := &multiHandler{handlers: []slog.Handler{slog.NewJSONHandler(&buf, nil)}}

	logger := slog.New(h.WithAttrs([]slog.Attr{slog.String("service", "gateway")}))
	logger.Info("tagged")

	if !strings.Contains(buf.String(), "gateway") {
		t.Errorf("attribute missing: %q", buf.String())
	}
}

// =============================================================================
// Helper Tests
// =============================================================================

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory available")
	}

	tests := []struct {
		input string
		want  string
	}{
		{"~/logs", filepath.Join(home, "logs")},
		{"/var/log", "/var/log"},
		{"relative/path", "relative/path"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := expandPath(tt.input); got != tt.want {
			t.Errorf("expandPath(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestArgsToMap(t *testing.T) {
	got := argsToMap([]any{"key1", "value1", "key2", 123})
	if got["key1"] != "value1" || got["key2"] != 123 {
		t.Errorf("argsToMap = %v", got)
	}

	// Odd trailing arg is dropped
	got = argsToMap([]any{"key1", "value1", "dangling"})
	if len(got) != 1 {
		t.Errorf("argsToMap with dangling key = %v", got)
	}

	// Non-string keys are skipped
	got = argsToMap([]any{42, "value"})
	if len(got) != 0 {
		t.Errorf("argsToMap with int key = %v", got)
	}
}
