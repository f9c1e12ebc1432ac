package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"tap-reputation-poller/internal/reputation"
)

// Notification carries one record that crossed the alert threshold.
type Notification struct {
	Record        reputation.Record
	DetectedAt    time.Time
	MaxTrustLevel reputation.TrustLevel
	Channels      []string
	AdditionalMsg string
}

// Notifier delivers notifications.
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier posts notifications through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier builds a Telegram notifier.
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify calls sendMessage with the rendered text.
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(note),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram returned status %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram returned ok=false")
		}
	}

	n.logger.Info().
		Str("sha256", note.Record.Hashes.SHA256).
		Str("file_name", note.Record.FileName).
		Str("channels", strings.Join(note.Channels, ",")).
		Msg("alert sent (telegram)")
	return nil
}

func renderMessage(note Notification) string {
	rec := note.Record
	builder := strings.Builder{}
	builder.WriteString("[Proofpoint TAP Reputation Alert]\n")
	builder.WriteString(fmt.Sprintf("Detected: %s UTC\n", note.DetectedAt.UTC().Format(time.RFC3339)))
	builder.WriteString(fmt.Sprintf("File: %s\n", rec.FileName))
	builder.WriteString(fmt.Sprintf("Trust level: %d (%s, threshold %d)\n", int(rec.TrustLevel), rec.TrustLevel, int(note.MaxTrustLevel)))
	builder.WriteString(fmt.Sprintf("SHA256: %s\n", rec.Hashes.SHA256))
	builder.WriteString(fmt.Sprintf("MD5: %s\n", rec.Hashes.MD5))
	if rec.Comment != "" {
		builder.WriteString(fmt.Sprintf("Source: %s\n", rec.Comment))
	}
	if len(note.Channels) > 0 {
		builder.WriteString(fmt.Sprintf("Channels: %s\n", strings.Join(note.Channels, ",")))
	}
	if note.AdditionalMsg != "" {
		builder.WriteString(note.AdditionalMsg)
	}
	return builder.String()
}

var _ Notifier = (*TelegramNotifier)(nil)
