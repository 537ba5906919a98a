// Package output renders run artifacts: a ready-to-use Clash configuration,
// a bare proxy list for embedding, and a markdown report of the verdicts.
package output

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/apex/log"
	"gopkg.in/yaml.v3"

	"nodesift/internal/node"
)

const (
	selectGroupName = "PROXY"
	autoGroupName   = "AUTO"
)

// Writer renders artifacts into one output directory.
type Writer struct {
	dir       string
	mixedPort int
	apiPort   int
	now       func() time.Time
}

// NewWriter creates a writer rooted at dir, creating it if needed.
func NewWriter(dir string, mixedPort, apiPort int) (*Writer, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}
	if mixedPort <= 0 {
		mixedPort = 7890
	}
	if apiPort <= 0 {
		apiPort = 9090
	}
	return &Writer{dir: dir, mixedPort: mixedPort, apiPort: apiPort, now: time.Now}, nil
}

type dnsConfig struct {
	Enable       bool     `yaml:"enable"`
	EnhancedMode string   `yaml:"enhanced-mode"`
	FakeIPRange  string   `yaml:"fake-ip-range"`
	Nameserver   []string `yaml:"nameserver"`
}

type proxyGroup struct {
	Name      string   `yaml:"name"`
	Type      string   `yaml:"type"`
	URL       string   `yaml:"url,omitempty"`
	Interval  int      `yaml:"interval,omitempty"`
	Tolerance int      `yaml:"tolerance,omitempty"`
	Proxies   []string `yaml:"proxies"`
}

type clashConfig struct {
	MixedPort          int                      `yaml:"mixed-port"`
	AllowLan           bool                     `yaml:"allow-lan"`
	Mode               string                   `yaml:"mode"`
	LogLevel           string                   `yaml:"log-level"`
	IPv6               bool                     `yaml:"ipv6"`
	ExternalController string                   `yaml:"external-controller"`
	DNS                dnsConfig                `yaml:"dns"`
	Proxies            []map[string]interface{} `yaml:"proxies"`
	ProxyGroups        []proxyGroup             `yaml:"proxy-groups"`
	Rules              []string                 `yaml:"rules"`
}

// ClashConfig renders a complete Clash configuration embedding the kept
// nodes behind a select group and a url-test group.
func (w *Writer) ClashConfig(kept []node.Node) (string, error) {
	proxies := make([]map[string]interface{}, 0, len(kept))
	names := make([]string, 0, len(kept))
	for _, n := range kept {
		proxies = append(proxies, n.ClashProxy())
		names = append(names, n.Name)
	}

	cfg := clashConfig{
		MixedPort:          w.mixedPort,
		AllowLan:           false,
		Mode:               "rule",
		LogLevel:           "info",
		IPv6:               false,
		ExternalController: fmt.Sprintf("127.0.0.1:%d", w.apiPort),
		DNS: dnsConfig{
			Enable:       true,
			EnhancedMode: "fake-ip",
			FakeIPRange:  "198.18.0.1/16",
			Nameserver: []string{
				"https://doh.pub/dns-query",
				"https://dns.alidns.com/dns-query",
			},
		},
		Proxies: proxies,
		ProxyGroups: []proxyGroup{
			{
				Name:    selectGroupName,
				Type:    "select",
				Proxies: append([]string{autoGroupName, "DIRECT"}, names...),
			},
			{
				Name:      autoGroupName,
				Type:      "url-test",
				URL:       "https://www.gstatic.com/generate_204",
				Interval:  300,
				Tolerance: 50,
				Proxies:   names,
			},
		},
		Rules: []string{
			"GEOIP,LAN,DIRECT",
			"GEOIP,CN,DIRECT",
			"MATCH," + selectGroupName,
		},
	}

	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("failed to marshal clash config: %w", err)
	}
	return w.header(len(kept)) + string(raw), nil
}

// ProxyList renders a YAML document holding only the proxies key, for
// embedding into an existing configuration.
func (w *Writer) ProxyList(kept []node.Node) (string, error) {
	proxies := make([]map[string]interface{}, 0, len(kept))
	for _, n := range kept {
		proxies = append(proxies, n.ClashProxy())
	}
	raw, err := yaml.Marshal(map[string]interface{}{"proxies": proxies})
	if err != nil {
		return "", fmt.Errorf("failed to marshal proxy list: %w", err)
	}
	return w.header(len(kept)) + string(raw), nil
}

func (w *Writer) header(count int) string {
	return fmt.Sprintf("# generated by nodesift\n# updated: %s\n# nodes: %d\n\n",
		w.now().UTC().Format("2006-01-02 15:04:05 UTC"), count)
}

// Report renders a markdown summary of one detection run, grouped by verdict.
func (w *Writer) Report(results []node.DetectionResult) string {
	var residential, datacenter, unknown []node.DetectionResult
	for _, r := range results {
		switch r.Label {
		case node.LabelResidential:
			residential = append(residential, r)
		case node.LabelDatacenter:
			datacenter = append(datacenter, r)
		default:
			unknown = append(unknown, r)
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Node Filter Report\n\nGenerated: %s\n\n", w.now().UTC().Format("2006-01-02 15:04:05 UTC"))
	fmt.Fprintf(&b, "## Totals\n\n- residential: %d\n- datacenter: %d\n- unknown: %d\n\n",
		len(residential), len(datacenter), len(unknown))

	if len(residential) > 0 {
		b.WriteString("## Residential (kept)\n\n")
		for _, r := range residential {
			fmt.Fprintf(&b, "- %s | %s | %s | %s", r.Node.Name, r.IP, r.Org, r.Country)
			if r.LatencyMS != nil {
				fmt.Fprintf(&b, " | %dms", *r.LatencyMS)
			}
			if len(r.Unlock) > 0 {
				fmt.Fprintf(&b, " | unlocked: %s", unlockedList(r.Unlock))
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	if len(datacenter) > 0 {
		b.WriteString("## Datacenter (filtered)\n\n")
		for _, r := range datacenter {
			fmt.Fprintf(&b, "- %s | %s | %s | reason: %s\n", r.Node.Name, r.IP, r.Org, r.Reason)
		}
		b.WriteString("\n")
	}

	if len(unknown) > 0 {
		b.WriteString("## Unknown\n\n")
		for _, r := range unknown {
			fmt.Fprintf(&b, "- %s | reason: %s\n", r.Node.Name, r.Reason)
		}
		b.WriteString("\n")
	}

	return b.String()
}

func unlockedList(unlock map[string]bool) string {
	var names []string
	for name, ok := range unlock {
		if ok {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return "none"
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

// WriteFile renders content into the output directory and returns the path.
func (w *Writer) WriteFile(filename, content string) (string, error) {
	path := filepath.Join(w.dir, filename)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", filename, err)
	}
	log.WithField("path", path).Info("artifact written")
	return path, nil
}
