package logx

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		level    string
		expected LogLevel
	}{
		{"debug", DebugLevel},
		{"info", InfoLevel},
		{"warn", WarnLevel},
		{"warning", WarnLevel},
		{"error", ErrorLevel},
		{"invalid", InfoLevel}, // should default to info
	}

	for _, test := range tests {
		t.Run(test.level, func(t *testing.T) {
			result := parseLevel(test.level)
			if result != test.expected {
				t.Errorf("parseLevel(%q) = %v; want %v", test.level, result, test.expected)
			}
		})
	}
}

func TestLoggerOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter("debug", &buf)

	logger.Info("sample accepted", "lat", -34.585123, "lng", -60.943210)

	line := strings.TrimSpace(buf.String())
	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("expected valid JSON, got %q: %v", line, err)
	}
	if entry["level"] != "info" {
		t.Errorf("expected level info, got %v", entry["level"])
	}
	if entry["msg"] != "sample accepted" {
		t.Errorf("unexpected message %v", entry["msg"])
	}
	fields, ok := entry["fields"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected fields object, got %v", entry["fields"])
	}
	if fields["lat"] != -34.585123 {
		t.Errorf("expected lat field, got %v", fields["lat"])
	}
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter("warn", &buf)

	logger.Debug("dropped")
	logger.Info("dropped too")
	if buf.Len() != 0 {
		t.Fatalf("expected no output below warn, got %q", buf.String())
	}

	logger.Error("kept")
	if buf.Len() == 0 {
		t.Fatal("expected error output")
	}
}

func TestLevelString(t *testing.T) {
	tests := []struct {
		level    LogLevel
		expected string
	}{
		{DebugLevel, "debug"},
		{InfoLevel, "info"},
		{WarnLevel, "warn"},
		{ErrorLevel, "error"},
	}

	for _, test := range tests {
		result := levelString(test.level)
		if result != test.expected {
			t.Errorf("levelString(%v) = %q; want %q", test.level, result, test.expected)
		}
	}
}
