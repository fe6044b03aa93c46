package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestInitLogger_ValidLevels(t *testing.T) {
	tests := []struct {
		name  string
		level string
	}{
		{"debug", "debug"},
		{"info", "info"},
		{"warn", "warn"},
		{"error", "error"},
		{"upper case", "WARN"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := InitLogger(tt.level)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			logger := GetLogger()
			if logger == nil {
				t.Fatal("GetLogger() returned nil")
			}
		})
	}
}

func TestInitLogger_InvalidLevel(t *testing.T) {
	err := InitLogger("invalid")
	if err == nil {
		t.Error("expected error for invalid log level, got nil")
	}
}

func TestGetLogger_BeforeInit(t *testing.T) {
	// globalLoggerをリセット
	globalLogger = nil

	logger := GetLogger()
	if logger == nil {
		t.Error("GetLogger() should return default logger when not initialized")
	}

	// デフォルトロガーが返されることを確認
	if logger != slog.Default() {
		t.Error("GetLogger() should return slog.Default() when not initialized")
	}
}

func TestGetLogger_AfterInit(t *testing.T) {
	err := InitLogger("info")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	logger := GetLogger()
	if logger != globalLogger {
		t.Error("GetLogger() should return the initialized logger")
	}
}

func TestInitLoggerWithFormat_Text(t *testing.T) {
	var buf bytes.Buffer
	if err := InitLoggerWithFormat("info", "text", &buf); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	GetLogger().Debug("hidden")
	GetLogger().Info("compiled", "instructions", 12)

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("debug record written at info level: %q", out)
	}
	if !strings.Contains(out, "msg=compiled") || !strings.Contains(out, "instructions=12") {
		t.Errorf("unexpected text output: %q", out)
	}
}

func TestInitLoggerWithFormat_JSON(t *testing.T) {
	var buf bytes.Buffer
	if err := InitLoggerWithFormat("debug", "json", &buf); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	GetLogger().Debug("shift", "state", 3)

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}
	if rec["msg"] != "shift" {
		t.Errorf("msg = %v, want shift", rec["msg"])
	}
	if rec["state"] != float64(3) {
		t.Errorf("state = %v, want 3", rec["state"])
	}
}

func TestInitLoggerWithFormat_InvalidFormat(t *testing.T) {
	var buf bytes.Buffer
	if err := InitLoggerWithFormat("info", "xml", &buf); err == nil {
		t.Error("expected error for invalid log format, got nil")
	}
}
