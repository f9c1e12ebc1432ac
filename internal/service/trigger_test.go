package service

import (
	"testing"
	"time"
)

func TestParseTrigger(t *testing.T) {
	want := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

	cases := []struct {
		name     string
		payload  string
		override bool
		wantErr  bool
	}{
		{name: "empty body", payload: "", override: false},
		{name: "no timestamp", payload: `{}`, override: false},
		{name: "null timestamp", payload: `{"timestamp": null}`, override: false},
		{name: "blank string", payload: `{"timestamp": "  "}`, override: false},
		{name: "iso string", payload: `{"timestamp": "2024-01-01T10:00:00Z"}`, override: true},
		{name: "epoch number", payload: `{"timestamp": 1704103200}`, override: true},
		{name: "epoch string", payload: `{"timestamp": "1704103200"}`, override: true},
		{name: "epoch millis", payload: `{"timestamp": 1704103200000}`, override: true},
		{name: "epoch millis string", payload: `{"timestamp": "1704103200000"}`, override: true},
		{name: "zero number", payload: `{"timestamp": 0}`, override: false},
		{name: "zero string", payload: `{"timestamp": "0"}`, override: false},
		{name: "nested zero", payload: `{"payload": {"timestamp": 0}}`, override: false},
		{name: "nested payload", payload: `{"payload": {"timestamp": "2024-01-01T10:00:00Z"}}`, override: true},
		{name: "bad timestamp", payload: `{"timestamp": "yesterday"}`, wantErr: true},
		{name: "bad json", payload: `{`, wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			trig, err := ParseTrigger([]byte(tc.payload))
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if trig.IsOverride() != tc.override {
				t.Fatalf("override = %v, want %v", trig.IsOverride(), tc.override)
			}
			if tc.override && !trig.TimestampOverride.Equal(want) {
				t.Fatalf("timestamp = %s, want %s", trig.TimestampOverride, want)
			}
		})
	}
}
