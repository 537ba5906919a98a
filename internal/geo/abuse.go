package geo

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/apex/log"
	"golang.org/x/sync/semaphore"
)

const defaultAbuseURL = "https://api.abuseipdb.com/api/v2/check"

// AbuseIPDB usage types that mark hosting/datacenter networks.
var abuseHostingUsageTypes = map[string]struct{}{
	"data center/web hosting/transit": {},
	"hosting":                         {},
	"content delivery network":        {},
}

// AbuseInfo is the per-IP answer from AbuseIPDB. Success=false means the
// query failed and the signal is simply unavailable; it never degrades the
// node on its own.
type AbuseInfo struct {
	IP          string
	Success     bool
	Score       int
	UsageType   string
	ISP         string
	Domain      string
	Tor         bool
	Whitelisted bool
	Reports     int
	CountryCode string
}

// Datacenter reports whether the usage type marks a hosting network.
func (a AbuseInfo) Datacenter() bool {
	if a.UsageType == "" {
		return false
	}
	_, ok := abuseHostingUsageTypes[strings.ToLower(a.UsageType)]
	return ok
}

// AbuseClient queries AbuseIPDB one IP at a time under a small concurrency
// bound; the service rate-limits aggressively.
type AbuseClient struct {
	http    *http.Client
	baseURL string
	key     string
	workers int64
}

// AbuseConfig holds AbuseIPDB client configuration.
type AbuseConfig struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
	Workers int64
}

// NewAbuseClient creates an AbuseIPDB client. Returns nil when no API key is
// configured; callers treat a nil client as "signal disabled".
func NewAbuseClient(cfg AbuseConfig) *AbuseClient {
	if cfg.APIKey == "" {
		return nil
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultAbuseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Workers <= 0 || cfg.Workers > 5 {
		cfg.Workers = 5
	}
	return &AbuseClient{
		http:    &http.Client{Timeout: cfg.Timeout},
		baseURL: cfg.BaseURL,
		key:     cfg.APIKey,
		workers: cfg.Workers,
	}
}

type abuseEnvelope struct {
	Data struct {
		AbuseConfidenceScore int    `json:"abuseConfidenceScore"`
		UsageType            string `json:"usageType"`
		ISP                  string `json:"isp"`
		Domain               string `json:"domain"`
		IsTor                bool   `json:"isTor"`
		IsWhitelisted        bool   `json:"isWhitelisted"`
		TotalReports         int    `json:"totalReports"`
		CountryCode          string `json:"countryCode"`
	} `json:"data"`
}

// Check queries a set of IPs concurrently and returns one AbuseInfo per
// distinct IP. Failures are recorded as Success=false entries.
func (c *AbuseClient) Check(ctx context.Context, ips []string) map[string]AbuseInfo {
	unique := dedupStrings(ips)
	out := make(map[string]AbuseInfo, len(unique))
	var mu sync.Mutex

	sem := semaphore.NewWeighted(c.workers)
	var wg sync.WaitGroup

	for _, ip := range unique {
		wg.Add(1)
		go func(ip string) {
			defer wg.Done()

			if err := sem.Acquire(ctx, 1); err != nil {
				mu.Lock()
				out[ip] = AbuseInfo{IP: ip}
				mu.Unlock()
				return
			}
			defer sem.Release(1)

			info := c.checkOne(ctx, ip)
			mu.Lock()
			out[ip] = info
			mu.Unlock()
		}(ip)
	}

	wg.Wait()
	return out
}

func (c *AbuseClient) checkOne(ctx context.Context, ip string) AbuseInfo {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL, nil)
	if err != nil {
		return AbuseInfo{IP: ip}
	}
	q := req.URL.Query()
	q.Set("ipAddress", ip)
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Key", c.key)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		log.WithError(err).WithField("ip", ip).Debug("abuseipdb query failed")
		return AbuseInfo{IP: ip}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.WithField("ip", ip).WithField("status", resp.StatusCode).Debug("abuseipdb non-200")
		return AbuseInfo{IP: ip}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return AbuseInfo{IP: ip}
	}
	var env abuseEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return AbuseInfo{IP: ip}
	}

	return AbuseInfo{
		IP:          ip,
		Success:     true,
		Score:       env.Data.AbuseConfidenceScore,
		UsageType:   env.Data.UsageType,
		ISP:         env.Data.ISP,
		Domain:      env.Data.Domain,
		Tor:         env.Data.IsTor,
		Whitelisted: env.Data.IsWhitelisted,
		Reports:     env.Data.TotalReports,
		CountryCode: env.Data.CountryCode,
	}
}
