package storage

import (
	"context"
	"time"

	"tap-reputation-poller/internal/reputation"
)

// ArchiveSink upserts every emitted record into the reputation archive.
type ArchiveSink struct {
	store ReputationStore
	now   func() time.Time
}

// NewArchiveSink archives records through store.
func NewArchiveSink(store ReputationStore) *ArchiveSink {
	return &ArchiveSink{store: store, now: time.Now}
}

// Emit records a sighting of rec.
func (a *ArchiveSink) Emit(ctx context.Context, rec reputation.Record) error {
	return a.store.UpsertReputation(ctx, rec, a.now().UTC())
}

var _ reputation.Sink = (*ArchiveSink)(nil)
