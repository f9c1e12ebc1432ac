package window

import (
	"time"
)

const (
	// MaxLookback bounds how far back the feed can be queried.
	MaxLookback = 7 * 24 * time.Hour
	// SafetyBuffer keeps the oldest start clear of the lookback edge.
	SafetyBuffer = time.Minute
	// MaxWidth caps a single query window.
	MaxWidth = time.Hour

	isoLayout = "2006-01-02T15:04:05.000Z"
)

// Mode selects how the window is expressed to the feed.
type Mode int

const (
	// ModeInterval queries a closed historical range.
	ModeInterval Mode = iota
	// ModeSince queries open-ended from the start time.
	ModeSince
)

func (m Mode) String() string {
	if m == ModeSince {
		return "since"
	}
	return "interval"
}

// Window is one poll cycle's query range.
type Window struct {
	Start time.Time
	End   time.Time
	Mode  Mode
}

// StartTime returns Start as an ISO-8601 UTC string.
func (w Window) StartTime() string { return w.Start.UTC().Format(isoLayout) }

// EndTime returns End as an ISO-8601 UTC string.
func (w Window) EndTime() string { return w.End.UTC().Format(isoLayout) }

// QueryParam serialises the window as the feed's query parameter.
func (w Window) QueryParam() string {
	if w.Mode == ModeSince {
		return "sinceTime=" + w.StartTime()
	}
	return "interval=" + w.StartTime() + "/" + w.EndTime()
}

// Width returns End - Start.
func (w Window) Width() time.Duration { return w.End.Sub(w.Start) }

// Plan computes the next window from the last watermark (if any) and now.
//
// start = max(last, now - MaxLookback + SafetyBuffer)
// end   = min(start + MaxWidth, now)
// The since form is used whenever a full-width window would pass now.
// The result always satisfies Start <= End <= now.
func Plan(last time.Time, hasLast bool, now time.Time) Window {
	now = now.UTC()
	oldestAllowed := now.Add(-MaxLookback).Add(SafetyBuffer)

	start := oldestAllowed
	if hasLast && last.After(oldestAllowed) {
		start = last.UTC()
	}
	// a watermark ahead of the clock collapses to an empty window at now
	if start.After(now) {
		start = now
	}

	full := start.Add(MaxWidth)
	end := full
	if now.Before(end) {
		end = now
	}

	mode := ModeInterval
	if full.After(now) {
		mode = ModeSince
	}

	return Window{Start: start, End: end, Mode: mode}
}

// Planner plans windows against a clock.
type Planner struct {
	Now func() time.Time
}

// NewPlanner returns a planner using the wall clock.
func NewPlanner() *Planner {
	return &Planner{Now: time.Now}
}

// Next plans from the given watermark and the planner's current time.
func (p *Planner) Next(last time.Time, hasLast bool) Window {
	now := time.Now
	if p != nil && p.Now != nil {
		now = p.Now
	}
	return Plan(last, hasLast, now())
}
