// Package geo queries external intelligence services for IP addresses: the
// ip-api.com batch endpoint, AbuseIPDB, and an optional local GeoLite2-ASN
// database.
package geo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/apex/log"
	pkgerrors "nodesift/pkg/errors"
)

const (
	defaultBatchURL = "http://ip-api.com/batch"
	// ip-api caps batch requests at 100 queries.
	maxBatchSize = 100

	ipAPIFields = "status,country,countryCode,regionName,city,isp,org,as,hosting"
)

// IPInfo is the per-IP answer from ip-api. Success=false means the lookup
// failed (network error, rate-limit exhaustion, or a "fail" status) and no
// other field is meaningful.
type IPInfo struct {
	IP          string
	Success     bool
	Country     string
	CountryCode string
	Region      string
	City        string
	ISP         string
	Org         string
	ASN         uint32
	ASName      string
	Hosting     bool
	Err         error
}

// Client queries ip-api.com in batches with bounded retry on rate limiting.
type Client struct {
	http       *http.Client
	batchURL   string
	batchSize  int
	maxRetries int
	backoff    time.Duration
	// pause between consecutive batches, to stay inside the 15 req/min window
	batchPause time.Duration
	localDB    *ASNDB
}

// ClientConfig holds geolocation client configuration.
type ClientConfig struct {
	BatchURL   string
	Timeout    time.Duration
	MaxRetries int
	Backoff    time.Duration
	BatchPause time.Duration
	// LocalDB optionally fills missing ASN/org fields from a GeoLite2-ASN
	// database when ip-api omits them.
	LocalDB *ASNDB
}

// NewClient creates a geolocation client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.BatchURL == "" {
		cfg.BatchURL = defaultBatchURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 4 * time.Second
	}
	if cfg.BatchPause <= 0 {
		cfg.BatchPause = 4 * time.Second
	}
	return &Client{
		http:       &http.Client{Timeout: cfg.Timeout},
		batchURL:   cfg.BatchURL,
		batchSize:  maxBatchSize,
		maxRetries: cfg.MaxRetries,
		backoff:    cfg.Backoff,
		batchPause: cfg.BatchPause,
		localDB:    cfg.LocalDB,
	}
}

type batchQuery struct {
	Query  string `json:"query"`
	Fields string `json:"fields"`
}

type batchAnswer struct {
	Status      string `json:"status"`
	Country     string `json:"country"`
	CountryCode string `json:"countryCode"`
	RegionName  string `json:"regionName"`
	City        string `json:"city"`
	ISP         string `json:"isp"`
	Org         string `json:"org"`
	AS          string `json:"as"`
	Hosting     bool   `json:"hosting"`
}

// Query looks up a set of IPs and returns one IPInfo per distinct input IP.
// Input duplicates are collapsed so shared entry/egress addresses cost one
// query. A failed batch degrades only its own IPs; other batches proceed.
func (c *Client) Query(ctx context.Context, ips []string) map[string]IPInfo {
	unique := dedupStrings(ips)
	out := make(map[string]IPInfo, len(unique))

	for start := 0; start < len(unique); start += c.batchSize {
		end := start + c.batchSize
		if end > len(unique) {
			end = len(unique)
		}
		batch := unique[start:end]

		if start > 0 {
			// Rate-limit courtesy pause between batches.
			select {
			case <-ctx.Done():
				for _, ip := range batch {
					out[ip] = IPInfo{IP: ip, Err: &pkgerrors.QueryError{IP: ip, Err: ctx.Err()}}
				}
				continue
			case <-time.After(c.batchPause):
			}
		}

		answers, err := c.queryBatch(ctx, batch)
		if err != nil {
			log.WithError(err).WithField("ips", len(batch)).Warn("ip-api batch failed")
			for _, ip := range batch {
				out[ip] = IPInfo{IP: ip, Err: &pkgerrors.QueryError{IP: ip, Err: err}}
			}
			continue
		}
		for ip, info := range answers {
			out[ip] = info
		}
	}

	if c.localDB != nil {
		c.fillFromLocalDB(out)
	}
	return out
}

// queryBatch performs one batch request with bounded backoff on HTTP 429.
func (c *Client) queryBatch(ctx context.Context, ips []string) (map[string]IPInfo, error) {
	payload := make([]batchQuery, 0, len(ips))
	for _, ip := range ips {
		payload = append(payload, batchQuery{Query: ip, Fields: ipAPIFields})
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.backoff * time.Duration(attempt)):
			}
		}

		answers, retryable, err := c.doBatch(ctx, body)
		if err == nil {
			return c.collect(ips, answers), nil
		}
		lastErr = err
		if !retryable || ctx.Err() != nil {
			break
		}
		log.WithError(err).WithField("attempt", attempt+1).Debug("ip-api retry")
	}

	return nil, fmt.Errorf("%w: %v", pkgerrors.ErrQuery, lastErr)
}

func (c *Client) doBatch(ctx context.Context, body []byte) ([]batchAnswer, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.batchURL, bytes.NewReader(body))
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, true, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, true, fmt.Errorf("rate limited (HTTP 429)")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, false, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, err
	}
	var answers []batchAnswer
	if err := json.Unmarshal(raw, &answers); err != nil {
		return nil, false, fmt.Errorf("malformed response: %w", err)
	}
	return answers, false, nil
}

// collect zips answers back onto the queried IPs. ip-api returns answers in
// request order.
func (c *Client) collect(ips []string, answers []batchAnswer) map[string]IPInfo {
	out := make(map[string]IPInfo, len(ips))
	for i, ip := range ips {
		if i >= len(answers) {
			out[ip] = IPInfo{IP: ip, Err: &pkgerrors.QueryError{IP: ip, Err: pkgerrors.ErrQuery}}
			continue
		}
		a := answers[i]
		info := IPInfo{
			IP:          ip,
			Success:     a.Status == "success",
			Country:     a.Country,
			CountryCode: a.CountryCode,
			Region:      a.RegionName,
			City:        a.City,
			ISP:         a.ISP,
			Org:         a.Org,
			ASName:      a.AS,
			ASN:         extractASN(a.AS),
			Hosting:     a.Hosting,
		}
		if !info.Success {
			info.Err = &pkgerrors.QueryError{IP: ip, Err: pkgerrors.ErrQuery}
		}
		out[ip] = info
	}
	return out
}

// fillFromLocalDB backfills ASN/org from the local database for successful
// answers where ip-api returned an empty "as" field.
func (c *Client) fillFromLocalDB(infos map[string]IPInfo) {
	for ip, info := range infos {
		if !info.Success || info.ASN != 0 {
			continue
		}
		number, org, err := c.localDB.Lookup(ip)
		if err != nil || number == 0 {
			continue
		}
		info.ASN = number
		if info.ASName == "" {
			info.ASName = fmt.Sprintf("AS%d %s", number, org)
		}
		if info.Org == "" {
			info.Org = org
		}
		infos[ip] = info
	}
}

// extractASN parses the leading AS number out of ip-api's "AS16509 Amazon"
// format.
func extractASN(as string) uint32 {
	fields := strings.Fields(as)
	if len(fields) == 0 {
		return 0
	}
	head := strings.ToUpper(fields[0])
	if !strings.HasPrefix(head, "AS") {
		return 0
	}
	n, err := strconv.ParseUint(head[2:], 10, 32)
	if err != nil {
		return 0
	}
	return uint32(n)
}

func dedupStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
