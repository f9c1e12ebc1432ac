package siem

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Decode parses a SIEM payload. The body must be a JSON object.
func Decode(data []byte) (*Response, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty body")
	}
	if trimmed[0] != '{' {
		return nil, fmt.Errorf("expected a JSON object, got %q", preview(trimmed))
	}

	var resp Response
	if err := json.Unmarshal(trimmed, &resp); err != nil {
		return nil, fmt.Errorf("decode siem payload: %w", err)
	}
	return &resp, nil
}

// EndTime parses queryEndTime. ok is false when the field is empty.
func (r *Response) EndTime() (ts time.Time, ok bool, err error) {
	if r == nil || r.QueryEndTime == "" {
		return time.Time{}, false, nil
	}
	ts, err = time.Parse(time.RFC3339Nano, r.QueryEndTime)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse queryEndTime %q: %w", r.QueryEndTime, err)
	}
	return ts.UTC(), true, nil
}

// DecodeMessages decodes a message category. Absent or null categories are
// empty. The category must be an array and each messageParts must be well
// formed; bad diagnostic fields only set Message.MetadataErr.
func DecodeMessages(raw json.RawMessage) ([]Message, error) {
	if isEmpty(raw) {
		return nil, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, err
	}

	out := make([]Message, 0, len(items))
	for i, item := range items {
		var parts struct {
			MessageParts []Part `json:"messageParts"`
		}
		if err := json.Unmarshal(item, &parts); err != nil {
			return nil, fmt.Errorf("message %d: %w", i, err)
		}

		var msg Message
		if err := json.Unmarshal(item, &msg); err != nil {
			msg = Message{MetadataErr: err}
		}
		msg.MessageParts = parts.MessageParts
		out = append(out, msg)
	}
	return out, nil
}

// DecodeClicks decodes a click category. Absent or null categories are
// empty. Clicks only need to form an array; odd fields decode as zero values.
func DecodeClicks(raw json.RawMessage) ([]Click, error) {
	if isEmpty(raw) {
		return nil, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, err
	}

	out := make([]Click, len(items))
	for i, item := range items {
		if err := json.Unmarshal(item, &out[i]); err != nil {
			out[i] = Click{}
		}
	}
	return out, nil
}

func isEmpty(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func preview(b []byte) string {
	const max = 64
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
