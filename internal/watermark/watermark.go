package watermark

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Store persists a single resume timestamp per key.
//
// Get reports ok == false when nothing has been stored for key yet; that is
// not an error. Callers serialise access per key.
type Store interface {
	Get(ctx context.Context, key string) (ts time.Time, ok bool, err error)
	Set(ctx context.Context, key string, ts time.Time) error
}

var (
	nanosPerSecond  = decimal.NewFromInt(int64(time.Second))
	thousand        = decimal.NewFromInt(1000)
	// Epoch values at or above this magnitude are milliseconds. As seconds
	// they would land past the year 5000.
	millisThreshold = decimal.NewFromInt(100_000_000_000)
)

// ParseTimestamp accepts an RFC3339 timestamp or a decimal epoch in seconds
// or milliseconds (see FromEpoch).
func ParseTimestamp(raw string) (time.Time, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}

	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts.UTC(), nil
	}

	secs, err := decimal.NewFromString(value)
	if err != nil {
		return time.Time{}, fmt.Errorf("timestamp %q is neither RFC3339 nor an epoch number", raw)
	}
	return FromEpoch(secs), nil
}

// FromEpoch converts a (possibly fractional) epoch number into a UTC time.
// Magnitudes of 1e11 and above are read as milliseconds, smaller ones as
// seconds.
func FromEpoch(epoch decimal.Decimal) time.Time {
	secs := epoch
	if epoch.Abs().GreaterThanOrEqual(millisThreshold) {
		secs = epoch.Div(thousand)
	}
	whole := secs.IntPart()
	frac := secs.Sub(decimal.NewFromInt(whole)).Mul(nanosPerSecond).IntPart()
	return time.Unix(whole, frac).UTC()
}

// Format renders ts the way every backend stores it.
func Format(ts time.Time) string {
	return ts.UTC().Format(time.RFC3339Nano)
}

// MemoryStore keeps watermarks in process memory.
type MemoryStore struct {
	mu   sync.Mutex
	data map[string]time.Time
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]time.Time)}
}

func (m *MemoryStore) Get(_ context.Context, key string) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ts, ok := m.data[key]
	return ts, ok, nil
}

func (m *MemoryStore) Set(_ context.Context, key string, ts time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = ts.UTC()
	return nil
}

var _ Store = (*MemoryStore)(nil)
