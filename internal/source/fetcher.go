package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/apex/log"

	pkgerrors "nodesift/pkg/errors"
)

// maxSubscriptionSize caps a response body. A node list larger than this is
// almost certainly not a node list.
const maxSubscriptionSize = 16 << 20

// Fetcher downloads subscription content over HTTP. Network errors, 5xx and
// 429 responses are retried with a growing delay; other 4xx responses are
// permanent.
type Fetcher struct {
	client     *http.Client
	userAgent  string
	maxRetries int
	retryDelay time.Duration
}

// FetcherConfig represents fetcher configuration.
type FetcherConfig struct {
	UserAgent  string
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
}

// DefaultFetcherConfig returns default fetcher configuration. The user agent
// matters: many subscription endpoints only serve Clash YAML to Clash-family
// clients.
func DefaultFetcherConfig() FetcherConfig {
	return FetcherConfig{
		UserAgent:  "clash.meta/mihomo",
		Timeout:    30 * time.Second,
		MaxRetries: 3,
		RetryDelay: 2 * time.Second,
	}
}

// NewFetcher creates a subscription fetcher.
func NewFetcher(config FetcherConfig) *Fetcher {
	return &Fetcher{
		client:     &http.Client{Timeout: config.Timeout},
		userAgent:  config.UserAgent,
		maxRetries: config.MaxRetries,
		retryDelay: config.RetryDelay,
	}
}

// Fetch downloads url, retrying transient failures.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	var lastErr error
	for attempt := 0; ; attempt++ {
		body, retryable, err := f.fetchOnce(ctx, url)
		if err == nil {
			return body, nil
		}
		lastErr = err

		if !retryable || attempt >= f.maxRetries || ctx.Err() != nil {
			break
		}
		log.WithError(err).
			WithField("url", url).
			WithField("attempt", attempt+1).
			Warn("retrying subscription fetch")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.retryDelay * time.Duration(attempt+1)):
		}
	}

	return nil, &pkgerrors.SourceError{
		Source: url,
		Err:    fmt.Errorf("%w: %v", pkgerrors.ErrSourceFetch, lastErr),
	}
}

// fetchOnce performs a single attempt. retryable reports whether the failure
// is worth another try.
func (f *Fetcher) fetchOnce(ctx context.Context, url string) (body []byte, retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "*/*")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, true, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		retryable := resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
		return nil, retryable, fmt.Errorf("HTTP %s from %s", resp.Status, url)
	}

	body, err = io.ReadAll(io.LimitReader(resp.Body, maxSubscriptionSize+1))
	if err != nil {
		return nil, true, err
	}
	if len(body) > maxSubscriptionSize {
		return nil, false, fmt.Errorf("response exceeds %d bytes", maxSubscriptionSize)
	}
	return body, false, nil
}
