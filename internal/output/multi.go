package output

import (
	"context"

	"tap-reputation-poller/internal/reputation"
)

// Multi fans each record out to every sink in order. The first failing sink
// stops delivery of that record and its error is returned.
type Multi []reputation.Sink

// Emit delivers rec to each sink.
func (m Multi) Emit(ctx context.Context, rec reputation.Record) error {
	for _, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.Emit(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

// Counter counts records passing through to an inner sink.
type Counter struct {
	Next  reputation.Sink
	Count int
}

// Emit forwards rec and counts it on success.
func (c *Counter) Emit(ctx context.Context, rec reputation.Record) error {
	if c.Next != nil {
		if err := c.Next.Emit(ctx, rec); err != nil {
			return err
		}
	}
	c.Count++
	return nil
}

var (
	_ reputation.Sink = Multi(nil)
	_ reputation.Sink = (*Counter)(nil)
)
