package fetcher

import (
	"context"

	"tap-reputation-poller/internal/siem"
)

// FeedFetcher retrieves one SIEM payload for a serialised window parameter
// such as "sinceTime=..." or "interval=.../...".
type FeedFetcher interface {
	Fetch(ctx context.Context, queryParam string) (*siem.Response, error)
}
