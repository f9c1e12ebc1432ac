package storage

import (
	"time"

	"tap-reputation-poller/internal/reputation"
)

// ArchivedReputation is a reputation record as kept in the archive table.
type ArchivedReputation struct {
	Record    reputation.Record
	FirstSeen time.Time
	LastSeen  time.Time
	SeenCount int64
}
