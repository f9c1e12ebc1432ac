package reputation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	apperrors "tap-reputation-poller/internal/errors"
	"tap-reputation-poller/internal/siem"
)

// Summary describes one extraction pass.
type Summary struct {
	QueryEndTime    time.Time
	HasQueryEndTime bool
	Messages        int
	Clicks          int
	Parts           int
	Records         int
	PerCategory     map[string]int
}

// Extractor walks a SIEM payload and emits file reputations.
type Extractor struct {
	logger zerolog.Logger
}

// NewExtractor constructs an extractor.
func NewExtractor(logger zerolog.Logger) *Extractor {
	return &Extractor{logger: logger.With().Str("component", "extractor").Logger()}
}

// Extract emits one record per part with a mapped verdict, in document order:
// blocked messages, delivered messages, blocked clicks, permitted clicks.
// Records already emitted stay emitted if a later category fails.
func (e *Extractor) Extract(ctx context.Context, resp *siem.Response, emit EmitFunc) (Summary, error) {
	summary := Summary{PerCategory: make(map[string]int, len(siem.Categories))}
	if resp == nil {
		return summary, apperrors.NewExtractionf("extract", "response is nil")
	}

	end, ok, err := resp.EndTime()
	if err != nil {
		return summary, apperrors.NewExtraction("extract", err)
	}
	summary.QueryEndTime, summary.HasQueryEndTime = end, ok

	for _, category := range siem.Categories {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		raw := resp.Category(category)
		switch category {
		case siem.MessagesBlocked, siem.MessagesDelivered:
			err = e.extractMessages(ctx, category, raw, emit, &summary)
		case siem.ClicksBlocked, siem.ClicksPermitted:
			err = e.extractClicks(category, raw, &summary)
		}
		if err != nil {
			return summary, err
		}
	}

	return summary, nil
}

func (e *Extractor) extractMessages(ctx context.Context, category string, raw json.RawMessage, emit EmitFunc, summary *Summary) error {
	messages, err := siem.DecodeMessages(raw)
	if err != nil {
		return apperrors.NewExtractionf("extract", "%s: %w", category, err)
	}

	for _, msg := range messages {
		if err := ctx.Err(); err != nil {
			return err
		}
		summary.Messages++

		if msg.MetadataErr != nil {
			e.logger.Warn().Err(msg.MetadataErr).Str("category", category).Msg("message metadata ignored")
		}
		e.logger.Debug().
			Str("category", category).
			Str("message_id", msg.MessageID).
			Str("message_time", msg.MessageTime).
			Str("spam_score", msg.SpamScore.String()).
			Str("phish_score", msg.PhishScore.String()).
			Str("impostor_score", msg.ImpostorScore.String()).
			Str("malware_score", msg.MalwareScore.String()).
			Int("parts", len(msg.MessageParts)).
			Msg("processing message")

		for _, part := range msg.MessageParts {
			summary.Parts++

			level, ok := FromVerdict(part.SandboxStatus)
			if !ok {
				continue
			}

			rec := Record{
				TrustLevel: level,
				FileName:   part.Filename,
				Comment:    Comment,
				Hashes: Hashes{
					MD5:    part.MD5,
					SHA256: part.SHA256,
				},
			}
			if err := emit(ctx, rec); err != nil {
				return fmt.Errorf("emit record %s: %w", part.SHA256, err)
			}
			summary.Records++
			summary.PerCategory[category]++

			e.logger.Debug().
				Str("file_name", rec.FileName).
				Str("sha256", rec.Hashes.SHA256).
				Int("trust_level", int(rec.TrustLevel)).
				Msg("reputation emitted")
		}
	}
	return nil
}

// Click events carry no file verdicts; they are decoded to validate shape and counted.
func (e *Extractor) extractClicks(category string, raw json.RawMessage, summary *Summary) error {
	clicks, err := siem.DecodeClicks(raw)
	if err != nil {
		return apperrors.NewExtractionf("extract", "%s: %w", category, err)
	}
	summary.Clicks += len(clicks)
	return nil
}
