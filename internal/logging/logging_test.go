package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestNewLoggerToJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(Config{Level: "warn", Format: "json"}, &buf)

	logger.Info().Msg("hidden")
	logger.Warn().Str("stage", "fetch").Msg("visible")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one line above warn, got %d: %q", len(lines), buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("json format expected: %v", err)
	}
	if entry["stage"] != "fetch" || entry["level"] != "warn" || entry["time"] == nil {
		t.Fatalf("unexpected entry %v", entry)
	}
}

func TestNewLoggerToDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(Config{Level: "nonsense"}, &buf)
	logger.Debug().Msg("hidden")
	logger.Info().Msg("shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
		t.Fatalf("unexpected output %q", buf.String())
	}
}

func TestConsoleFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(Config{Format: "console"}, &buf)
	logger.Info().Msg("hello")
	if strings.HasPrefix(strings.TrimSpace(buf.String()), "{") {
		t.Fatalf("console format should not emit json: %q", buf.String())
	}
}
