package service

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"tap-reputation-poller/internal/reputation"
	"tap-reputation-poller/internal/watermark"
	"tap-reputation-poller/internal/window"
)

// Trigger is one poll request. A non-nil TimestampOverride replaces the
// persisted watermark and marks the run as a replay that never persists.
type Trigger struct {
	TimestampOverride *time.Time
}

// Scheduled returns the trigger used for ordinary periodic runs.
func Scheduled() Trigger { return Trigger{} }

// Override returns a replay trigger starting from ts.
func Override(ts time.Time) Trigger {
	ts = ts.UTC()
	return Trigger{TimestampOverride: &ts}
}

// IsOverride reports whether the trigger carries a timestamp override.
func (t Trigger) IsOverride() bool { return t.TimestampOverride != nil }

type triggerPayload struct {
	Timestamp json.RawMessage `json:"timestamp"`
	Payload   *struct {
		Timestamp json.RawMessage `json:"timestamp"`
	} `json:"payload"`
}

// ParseTrigger decodes a host event of the form {"timestamp": ...} or
// {"payload": {"timestamp": ...}}. The timestamp may be an ISO-8601 string or
// an epoch number in seconds or milliseconds. Absent, null, empty or zero
// means no override.
func ParseTrigger(data []byte) (Trigger, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Trigger{}, nil
	}

	var payload triggerPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return Trigger{}, fmt.Errorf("decode trigger: %w", err)
	}

	raw := payload.Timestamp
	if len(raw) == 0 && payload.Payload != nil {
		raw = payload.Payload.Timestamp
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return Trigger{}, nil
	}

	var value string
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &value); err != nil {
			return Trigger{}, fmt.Errorf("decode trigger timestamp: %w", err)
		}
		if strings.TrimSpace(value) == "" {
			return Trigger{}, nil
		}
	} else {
		value = string(raw)
	}

	if epoch, err := decimal.NewFromString(strings.TrimSpace(value)); err == nil && epoch.IsZero() {
		return Trigger{}, nil
	}

	ts, err := watermark.ParseTimestamp(value)
	if err != nil {
		return Trigger{}, fmt.Errorf("trigger timestamp: %w", err)
	}
	return Override(ts), nil
}

// Result describes a finished run.
type Result struct {
	Window    window.Window
	Summary   reputation.Summary
	Advanced  bool
	Watermark time.Time
}
