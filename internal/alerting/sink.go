package alerting

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"tap-reputation-poller/internal/reputation"
)

// SinkOptions configure which records raise alerts.
type SinkOptions struct {
	MaxTrustLevel reputation.TrustLevel
	Cooldown      time.Duration
	Channels      []string
	// Observe is called with the outcome of every notification attempt.
	Observe func(err error)
}

// Sink turns low-trust records into notifications. A file hash alerts at
// most once per cooldown. Delivery failures are logged and never stop the
// record stream.
type Sink struct {
	notifier Notifier
	opts     SinkOptions
	logger   zerolog.Logger
	now      func() time.Time

	mu    sync.Mutex
	sent  map[string]time.Time
	swept time.Time
}

// NewSink wraps notifier as a record sink.
func NewSink(notifier Notifier, opts SinkOptions, logger zerolog.Logger) *Sink {
	return &Sink{
		notifier: notifier,
		opts:     opts,
		logger:   logger.With().Str("component", "alerting").Logger(),
		now:      time.Now,
		sent:     make(map[string]time.Time),
	}
}

// Emit notifies when rec is at or below the trust threshold.
func (s *Sink) Emit(ctx context.Context, rec reputation.Record) error {
	if s.notifier == nil || rec.TrustLevel == reputation.NotSet || rec.TrustLevel > s.opts.MaxTrustLevel {
		return nil
	}

	now := s.now().UTC()
	if !s.reserve(rec.Hashes.SHA256, now) {
		s.logger.Debug().Str("sha256", rec.Hashes.SHA256).Msg("alert suppressed within cooldown")
		return nil
	}

	err := s.notifier.Notify(ctx, Notification{
		Record:        rec,
		DetectedAt:    now,
		MaxTrustLevel: s.opts.MaxTrustLevel,
		Channels:      s.opts.Channels,
	})
	if s.opts.Observe != nil {
		s.opts.Observe(err)
	}
	if err != nil {
		s.release(rec.Hashes.SHA256)
		s.logger.Error().Err(err).Str("sha256", rec.Hashes.SHA256).Msg("failed to dispatch alert")
	}
	return nil
}

// reserve claims hash for an alert at now. Expired entries are swept at most
// once per cooldown, so the map holds no more than two cooldowns of hashes.
func (s *Sink) reserve(hash string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.opts.Cooldown <= 0 {
		return true
	}
	if now.Sub(s.swept) >= s.opts.Cooldown {
		for h, last := range s.sent {
			if now.Sub(last) >= s.opts.Cooldown {
				delete(s.sent, h)
			}
		}
		s.swept = now
	}
	if last, ok := s.sent[hash]; ok && now.Sub(last) < s.opts.Cooldown {
		return false
	}
	s.sent[hash] = now
	return true
}

func (s *Sink) release(hash string) {
	s.mu.Lock()
	delete(s.sent, hash)
	s.mu.Unlock()
}

var _ reputation.Sink = (*Sink)(nil)
