package tester

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// controller is a thin client for the mihomo RESTful control API.
type controller struct {
	base   string
	client *http.Client
}

func newController(base string) *controller {
	return &controller{
		base:   base,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// ready reports whether the control API answers; used to detect startup.
func (c *controller) ready(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/version", nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("control api returned status %d", resp.StatusCode)
	}
	return nil
}

// selectOutbound asks the group to route through the named outbound.
func (c *controller) selectOutbound(ctx context.Context, group, name string) error {
	body, err := json.Marshal(map[string]string{"name": name})
	if err != nil {
		return err
	}
	target := c.base + "/proxies/" + url.PathEscape(group)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, target, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("switch to %q returned status %d", name, resp.StatusCode)
	}
	return nil
}

// activeOutbound returns the outbound the group currently routes through.
func (c *controller) activeOutbound(ctx context.Context, group string) (string, error) {
	target := c.base + "/proxies/" + url.PathEscape(group)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("group query returned status %d", resp.StatusCode)
	}
	var payload struct {
		Now string `json:"now"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", err
	}
	return payload.Now, nil
}

// delay runs mihomo's built-in latency test against the named outbound and
// returns the measured round trip in milliseconds.
func (c *controller) delay(ctx context.Context, name, testURL string, timeout time.Duration) (int, error) {
	target := c.base + "/proxies/" + url.PathEscape(name) + "/delay"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return 0, err
	}
	q := req.URL.Query()
	q.Set("url", testURL)
	q.Set("timeout", strconv.FormatInt(timeout.Milliseconds(), 10))
	req.URL.RawQuery = q.Encode()

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("delay test returned status %d", resp.StatusCode)
	}
	var payload struct {
		Delay int `json:"delay"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return 0, err
	}
	return payload.Delay, nil
}
