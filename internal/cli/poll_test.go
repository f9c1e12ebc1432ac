package cli

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestPollTrigger(t *testing.T) {
	t.Cleanup(func() { pollTimestamp, pollEvent = "", "" })

	trig, err := pollTrigger()
	if err != nil || trig.IsOverride() {
		t.Fatalf("default trigger = %+v err=%v", trig, err)
	}

	pollTimestamp = "1704103200"
	trig, err = pollTrigger()
	if err != nil || !trig.TimestampOverride.Equal(time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("timestamp trigger = %+v err=%v", trig, err)
	}

	event := filepath.Join(t.TempDir(), "event.json")
	if err := os.WriteFile(event, []byte(`{"timestamp": "2024-01-01T10:00:00Z"}`), 0o600); err != nil {
		t.Fatal(err)
	}
	pollEvent = event
	if _, err := pollTrigger(); err == nil {
		t.Fatal("--timestamp with --event should fail")
	}

	pollTimestamp = ""
	trig, err = pollTrigger()
	if err != nil || !trig.IsOverride() {
		t.Fatalf("event trigger = %+v err=%v", trig, err)
	}
}
