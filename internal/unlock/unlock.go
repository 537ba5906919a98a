package unlock

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/apex/log"
)

const browserUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Service probes one provider through a proxied HTTP client and decides from
// the response whether the provider is usable from that egress.
type Service struct {
	Name  string
	URL   string
	check func(status int, body string) bool
}

var claudeBlockedRegions = map[string]bool{
	"AF": true, "BY": true, "CN": true, "CU": true, "HK": true,
	"IR": true, "KP": true, "MO": true, "RU": true, "SY": true,
}

// Services lists every supported provider in display order.
var Services = []Service{
	{
		Name: "ChatGPT",
		URL:  "https://ios.chat.openai.com/",
		check: func(status int, body string) bool {
			lower := strings.ToLower(body)
			return strings.Contains(lower, "request is not allowed") &&
				!strings.Contains(lower, "disallowed isp")
		},
	},
	{
		Name: "Claude",
		URL:  "https://claude.ai/cdn-cgi/trace",
		check: func(status int, body string) bool {
			for _, line := range strings.Split(body, "\n") {
				if strings.HasPrefix(line, "loc=") {
					code := strings.ToUpper(strings.TrimSpace(strings.TrimPrefix(line, "loc=")))
					return !claudeBlockedRegions[code]
				}
			}
			return false
		},
	},
	{
		Name: "Gemini",
		URL:  "https://gemini.google.com/",
		check: func(status int, body string) bool {
			return strings.Contains(body, "45631641,null,true") ||
				strings.Contains(body, "45631641,null,1")
		},
	},
	{
		Name:  "Copilot",
		URL:   "https://copilot.microsoft.com/",
		check: func(status int, body string) bool { return status == http.StatusOK },
	},
	{
		Name:  "YouTube",
		URL:   "https://www.youtube.com/",
		check: func(status int, body string) bool { return status == http.StatusOK },
	},
}

// Names returns the names of all supported services.
func Names() []string {
	names := make([]string, len(Services))
	for i, svc := range Services {
		names[i] = svc.Name
	}
	return names
}

// Checker probes a configurable subset of services.
type Checker struct {
	services []Service
	timeout  time.Duration
}

// NewChecker builds a checker for the named services. Unknown names are
// logged and skipped; an empty list selects every supported service.
func NewChecker(names []string, timeout time.Duration) *Checker {
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	if len(names) == 0 {
		return &Checker{services: Services, timeout: timeout}
	}

	byName := make(map[string]Service, len(Services))
	for _, svc := range Services {
		byName[svc.Name] = svc
	}
	selected := make([]Service, 0, len(names))
	for _, name := range names {
		svc, ok := byName[name]
		if !ok {
			log.WithField("service", name).Warn("unknown unlock service, skipping")
			continue
		}
		selected = append(selected, svc)
	}
	return &Checker{services: selected, timeout: timeout}
}

// Check probes every selected service through the given client, which is
// expected to route through the node under test. Network failures count as
// locked.
func (c *Checker) Check(ctx context.Context, client *http.Client) map[string]bool {
	results := make(map[string]bool, len(c.services))
	for _, svc := range c.services {
		results[svc.Name] = c.checkOne(ctx, client, svc)
	}
	return results
}

func (c *Checker) checkOne(ctx context.Context, client *http.Client, svc Service) bool {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, svc.URL, nil)
	if err != nil {
		return false
	}
	req.Header.Set("User-Agent", browserUA)

	resp, err := client.Do(req)
	if err != nil {
		log.WithField("service", svc.Name).Debugf("unlock probe failed: %v", err)
		return false
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return false
	}
	return svc.check(resp.StatusCode, string(body))
}
