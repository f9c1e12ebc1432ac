package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"tap-reputation-poller/internal/reputation"
)

type memoryArchive struct {
	rows map[string]ArchivedReputation
}

func (m *memoryArchive) UpsertReputation(_ context.Context, rec reputation.Record, seenAt time.Time) error {
	if m.rows == nil {
		m.rows = make(map[string]ArchivedReputation)
	}
	row, ok := m.rows[rec.Hashes.SHA256]
	if !ok {
		row = ArchivedReputation{Record: rec, FirstSeen: seenAt}
	}
	row.LastSeen = seenAt
	row.SeenCount++
	m.rows[rec.Hashes.SHA256] = row
	return nil
}

func (m *memoryArchive) ListReputationsBetween(context.Context, time.Time, time.Time) ([]ArchivedReputation, error) {
	return nil, nil
}

func (m *memoryArchive) ListRecentReputations(context.Context, int) ([]ArchivedReputation, error) {
	return nil, nil
}

func (m *memoryArchive) CountReputations(context.Context) (int64, error) {
	return int64(len(m.rows)), nil
}

func TestArchiveSinkUpserts(t *testing.T) {
	archive := &memoryArchive{}
	sink := NewArchiveSink(archive)
	seen := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	sink.now = func() time.Time { return seen }

	rec := reputation.Record{TrustLevel: reputation.KnownMalicious, FileName: "a.exe", Comment: reputation.Comment, Hashes: reputation.Hashes{MD5: "m", SHA256: "s"}}
	for i := 0; i < 2; i++ {
		if err := sink.Emit(context.Background(), rec); err != nil {
			t.Fatal(err)
		}
	}

	row := archive.rows["s"]
	if row.SeenCount != 2 || !row.FirstSeen.Equal(seen) || row.Record != rec {
		t.Fatalf("row = %+v", row)
	}
}

func TestLockKeyFor(t *testing.T) {
	a := LockKeyFor(42, "siem-all")
	if a != LockKeyFor(42, "siem-all") {
		t.Fatal("lock key must be stable")
	}
	if a == LockKeyFor(42, "other") {
		t.Fatal("different keys should not share a lock")
	}
	if a < 0 {
		t.Fatal("lock key should stay non-negative for a non-negative base")
	}
}

func TestUnconfiguredStore(t *testing.T) {
	var s *Store
	if _, _, err := s.Get(context.Background(), "k"); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("Get: %v", err)
	}
	if err := s.Set(context.Background(), "k", time.Now()); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("Set: %v", err)
	}
	if _, _, err := s.TryAdvisoryLock(context.Background(), 1); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("TryAdvisoryLock: %v", err)
	}
	if err := s.EnsureSchema(context.Background()); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("EnsureSchema: %v", err)
	}
	s.Close()
}
