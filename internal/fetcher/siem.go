package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	apperrors "tap-reputation-poller/internal/errors"
	"tap-reputation-poller/internal/siem"
)

const (
	defaultBaseURL = "https://tap-api-v2.proofpoint.com"
	defaultPath    = "/v2/siem/all"
	maxBodyBytes   = 256 << 20
)

// SIEMOptions parameterise the SIEM API client.
type SIEMOptions struct {
	BaseURL    string
	Path       string
	Principal  string
	Secret     string
	ThreatType string
	Timeout    time.Duration
	UserAgent  string
}

// SIEM queries the TAP SIEM API.
type SIEM struct {
	opts     SIEMOptions
	logger   zerolog.Logger
	client   *http.Client
	endpoint string
}

// NewSIEM constructs a SIEM client.
func NewSIEM(opts SIEMOptions, logger zerolog.Logger) *SIEM {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	path := opts.Path
	if path == "" {
		path = defaultPath
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	return &SIEM{
		opts:     opts,
		logger:   logger.With().Str("component", "siem_fetcher").Logger(),
		client:   &http.Client{Timeout: timeout},
		endpoint: baseURL + path,
	}
}

// Fetch issues a single authenticated GET for the window and parses the body.
func (s *SIEM) Fetch(ctx context.Context, queryParam string) (*siem.Response, error) {
	if s.opts.Principal == "" || s.opts.Secret == "" {
		return nil, apperrors.NewAuthf("fetch", "feed credentials not configured")
	}

	query, err := url.ParseQuery(queryParam)
	if err != nil {
		return nil, fmt.Errorf("invalid query parameter %q: %w", queryParam, err)
	}
	query.Set("format", "JSON")
	if s.opts.ThreatType != "" {
		query.Set("threatType", s.opts.ThreatType)
	}

	endpoint := s.endpoint + "?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build siem request: %w", err)
	}
	req.SetBasicAuth(s.opts.Principal, s.opts.Secret)
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(s.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "tap-poller/1.0")
	}

	s.logger.Debug().Str("query", queryParam).Msg("polling siem api")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, apperrors.NewTransport("fetch", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, apperrors.NewTransport("read body", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(resp.StatusCode, payload)
	}

	parsed, err := siem.Decode(payload)
	if err != nil {
		return nil, apperrors.NewProtocol("decode body", err)
	}

	s.logger.Debug().Int("bytes", len(payload)).Str("query_end_time", parsed.QueryEndTime).Msg("siem payload received")
	return parsed, nil
}

type errorResponse struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

func classifyStatus(status int, payload []byte) error {
	cause := parseHTTPError(status, payload)
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return apperrors.NewAuth("fetch", cause)
	case status == http.StatusTooManyRequests || status >= 500:
		return apperrors.NewTransport("fetch", cause)
	default:
		return apperrors.NewProtocol("fetch", cause)
	}
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Message != "" {
			return fmt.Errorf("siem api error (%d): %s", status, apiErr.Message)
		}
		if apiErr.Error != "" {
			return fmt.Errorf("siem api error (%d): %s", status, apiErr.Error)
		}
	}
	if text := strings.TrimSpace(string(payload)); text != "" {
		if len(text) > 256 {
			text = text[:256]
		}
		return fmt.Errorf("siem api error (%d): %s", status, text)
	}
	return errors.New("siem api error (" + http.StatusText(status) + ")")
}

var _ FeedFetcher = (*SIEM)(nil)
