package output

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/apex/log"
)

// Pusher uploads artifacts to a remote worker endpoint with token auth.
type Pusher struct {
	base  string
	token string
	http  *http.Client
}

// NewPusher creates a pusher for the given base URL. Returns nil when no
// base URL is configured; callers treat a nil pusher as "push disabled".
func NewPusher(base, token string) *Pusher {
	if base == "" {
		return nil
	}
	return &Pusher{
		base:  strings.TrimRight(base, "/"),
		token: token,
		http:  &http.Client{Timeout: 30 * time.Second},
	}
}

// PushConfig uploads the generated configuration.
func (p *Pusher) PushConfig(ctx context.Context, content string) error {
	return p.push(ctx, "/api/filter/config", "yaml", content)
}

// PushReport uploads the run report.
func (p *Pusher) PushReport(ctx context.Context, content string) error {
	return p.push(ctx, "/api/filter/report", "report", content)
}

func (p *Pusher) push(ctx context.Context, path, field, content string) error {
	body, err := json.Marshal(map[string]string{field: content})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.base+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.token != "" {
		q := req.URL.Query()
		q.Set("token", p.token)
		req.URL.RawQuery = q.Encode()
	}

	resp, err := p.http.Do(req)
	if err != nil {
		return fmt.Errorf("push to %s failed: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("push to %s returned status %d", path, resp.StatusCode)
	}

	log.WithField("path", path).Info("artifact pushed")
	return nil
}
