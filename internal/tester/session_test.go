package tester

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"nodesift/internal/node"
	"nodesift/pkg/errors"
)

// stubCore emulates the mihomo control API and the mixed inbound with shared
// state, so a probe observes the egress of whichever node is confirmed active.
type stubCore struct {
	mu          sync.Mutex
	active      string
	switches    []string
	probes      int
	confirmFail map[string]bool
	egress      map[string]string
	onProbe     func(probes int)
}

func (c *stubCore) controlHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/version", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"version":"stub"}`)
	})
	mux.HandleFunc("/proxies/", func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, "/proxies/")
		switch {
		case r.Method == http.MethodPut && rest == globalGroup:
			var payload struct {
				Name string `json:"name"`
			}
			if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			c.mu.Lock()
			c.switches = append(c.switches, payload.Name)
			if !c.confirmFail[payload.Name] {
				c.active = payload.Name
			}
			c.mu.Unlock()
			w.WriteHeader(http.StatusNoContent)
		case r.Method == http.MethodGet && rest == globalGroup:
			c.mu.Lock()
			now := c.active
			c.mu.Unlock()
			json.NewEncoder(w).Encode(map[string]string{"now": now})
		case r.Method == http.MethodGet && strings.HasSuffix(rest, "/delay"):
			json.NewEncoder(w).Encode(map[string]int{"delay": 42})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	return mux
}

// proxyHandler answers absolute-URI requests the way an HTTP proxy would,
// echoing the egress IP of the currently active node.
func (c *stubCore) proxyHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.mu.Lock()
		ip := c.egress[c.active]
		c.probes++
		probes := c.probes
		hook := c.onProbe
		c.mu.Unlock()
		if hook != nil {
			hook(probes)
		}
		json.NewEncoder(w).Encode(map[string]string{"query": ip})
	})
}

func newStubSession(t *testing.T, core *stubCore, cfg Config) *Session {
	t.Helper()

	ctrlSrv := httptest.NewServer(core.controlHandler())
	t.Cleanup(ctrlSrv.Close)
	proxySrv := httptest.NewServer(core.proxyHandler())
	t.Cleanup(proxySrv.Close)

	proxyURL, err := url.Parse(proxySrv.URL)
	if err != nil {
		t.Fatalf("parse proxy url: %v", err)
	}

	cfg.applyDefaults()
	cfg.EchoURLs = []string{"http://egress.invalid/json"}
	return &Session{
		cfg:    cfg,
		state:  StateAPIReady,
		ctrl:   newController(ctrlSrv.URL),
		exited: make(chan struct{}),
		proxyClient: &http.Client{
			Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)},
			Timeout:   5 * time.Second,
		},
	}
}

func testNodes(n int) []node.Node {
	nodes := make([]node.Node, n)
	for i := range nodes {
		nodes[i] = node.Node{
			Type:   node.TypeShadowsocks,
			Server: fmt.Sprintf("host%d.example.com", i+1),
			Port:   8000 + i,
			Name:   fmt.Sprintf("node-%d", i+1),
		}
	}
	return nodes
}

func TestProbeNodesReportsEgressPerNode(t *testing.T) {
	nodes := testNodes(3)
	core := &stubCore{
		egress: map[string]string{
			"node-1": "203.0.113.1",
			"node-2": "203.0.113.2",
			"node-3": "203.0.113.3",
		},
	}
	s := newStubSession(t, core, Config{})

	results, err := s.probeNodes(context.Background(), nodes, []string{"node-1", "node-2", "node-3"})
	if err != nil {
		t.Fatalf("probeNodes: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	for i, n := range nodes {
		res := results[n.Key()]
		if res.Err != nil {
			t.Errorf("node %d: unexpected error %v", i+1, res.Err)
		}
		want := fmt.Sprintf("203.0.113.%d", i+1)
		if res.EgressIP != want {
			t.Errorf("node %d: egress = %q, want %q", i+1, res.EgressIP, want)
		}
	}

	// Every node was switched to exactly once, in input order.
	want := []string{"node-1", "node-2", "node-3"}
	if len(core.switches) != len(want) {
		t.Fatalf("switches = %v, want %v", core.switches, want)
	}
	for i := range want {
		if core.switches[i] != want[i] {
			t.Errorf("switch %d = %q, want %q", i, core.switches[i], want[i])
		}
	}
}

func TestProbeNodesSwitchTimeoutSkipsOnlyThatNode(t *testing.T) {
	nodes := testNodes(4)
	core := &stubCore{
		confirmFail: map[string]bool{"node-2": true},
		egress: map[string]string{
			"node-1": "203.0.113.1",
			"node-3": "203.0.113.3",
			"node-4": "203.0.113.4",
		},
	}
	s := newStubSession(t, core, Config{SwitchTimeout: 500 * time.Millisecond})

	results, err := s.probeNodes(context.Background(), nodes, []string{"node-1", "node-2", "node-3", "node-4"})
	if err != nil {
		t.Fatalf("probeNodes: %v", err)
	}

	bad := results[nodes[1].Key()]
	if !errors.Is(bad.Err, errors.ErrSwitchTimeout) {
		t.Errorf("node-2 err = %v, want ErrSwitchTimeout", bad.Err)
	}
	for _, i := range []int{0, 2, 3} {
		res := results[nodes[i].Key()]
		if res.Err != nil {
			t.Errorf("node-%d: unexpected error %v", i+1, res.Err)
		}
		if res.EgressIP == "" {
			t.Errorf("node-%d: missing egress ip", i+1)
		}
	}
}

func TestProbeNodesProcessCrashFailsRemainder(t *testing.T) {
	nodes := testNodes(5)
	core := &stubCore{
		egress: map[string]string{
			"node-1": "203.0.113.1",
			"node-2": "203.0.113.2",
		},
	}
	s := newStubSession(t, core, Config{})
	core.onProbe = func(probes int) {
		if probes == 2 {
			close(s.exited)
		}
	}

	results, err := s.probeNodes(context.Background(), nodes, []string{"node-1", "node-2", "node-3", "node-4", "node-5"})
	if !errors.Is(err, errors.ErrProcessCrash) {
		t.Fatalf("run err = %v, want ErrProcessCrash", err)
	}
	if len(results) != 5 {
		t.Fatalf("expected 5 results, got %d", len(results))
	}
	for _, i := range []int{0, 1} {
		if res := results[nodes[i].Key()]; res.Err != nil || res.EgressIP == "" {
			t.Errorf("node-%d: want success, got %+v", i+1, res)
		}
	}
	for _, i := range []int{2, 3, 4} {
		if res := results[nodes[i].Key()]; !errors.Is(res.Err, errors.ErrProcessCrash) {
			t.Errorf("node-%d err = %v, want ErrProcessCrash", i+1, res.Err)
		}
	}
}

func TestProbeNodesMeasuresDelay(t *testing.T) {
	nodes := testNodes(1)
	core := &stubCore{egress: map[string]string{"node-1": "203.0.113.1"}}
	s := newStubSession(t, core, Config{MeasureDelay: true})

	results, err := s.probeNodes(context.Background(), nodes, []string{"node-1"})
	if err != nil {
		t.Fatalf("probeNodes: %v", err)
	}
	if got := results[nodes[0].Key()].LatencyMS; got != 42 {
		t.Errorf("latency = %d, want 42", got)
	}
}

func TestGenerateConfig(t *testing.T) {
	nodes := []node.Node{
		{Type: node.TypeShadowsocks, Server: "a.example.com", Port: 443, Name: "alpha",
			Extra: map[string]interface{}{"cipher": "aes-256-gcm", "password": "pw"}},
		{Type: node.TypeVMess, Server: "b.example.com", Port: 8080, Name: "beta"},
		{Type: node.TypeTrojan, Server: "c.example.com", Port: 443, Name: "alpha"},
	}

	raw, names, err := generateConfig(nodes, 7890, 9090)
	if err != nil {
		t.Fatalf("generateConfig: %v", err)
	}

	wantNames := []string{"alpha", "beta", "alpha_2"}
	for i := range wantNames {
		if names[i] != wantNames[i] {
			t.Errorf("names[%d] = %q, want %q", i, names[i], wantNames[i])
		}
	}

	var cfg clashConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		t.Fatalf("unmarshal generated config: %v", err)
	}
	if cfg.MixedPort != 7890 {
		t.Errorf("mixed-port = %d, want 7890", cfg.MixedPort)
	}
	if cfg.ExternalController != "127.0.0.1:9090" {
		t.Errorf("external-controller = %q", cfg.ExternalController)
	}
	if len(cfg.Proxies) != 3 {
		t.Fatalf("expected 3 proxies, got %d", len(cfg.Proxies))
	}
	if cfg.Proxies[0]["cipher"] != "aes-256-gcm" {
		t.Errorf("proxy options not carried over: %v", cfg.Proxies[0])
	}
	if len(cfg.ProxyGroups) != 1 || cfg.ProxyGroups[0].Name != globalGroup || cfg.ProxyGroups[0].Type != "select" {
		t.Fatalf("proxy group = %+v", cfg.ProxyGroups)
	}
	if len(cfg.ProxyGroups[0].Proxies) != 3 {
		t.Errorf("group members = %v", cfg.ProxyGroups[0].Proxies)
	}
	if len(cfg.Rules) != 1 || cfg.Rules[0] != "MATCH,"+globalGroup {
		t.Errorf("rules = %v", cfg.Rules)
	}
}

func TestUniqueNamesNumbersRepeats(t *testing.T) {
	nodes := []node.Node{
		{Type: node.TypeVMess, Server: "a.example.com", Port: 443, Name: "alpha"},
		{Type: node.TypeVMess, Server: "b.example.com", Port: 443, Name: "beta"},
		{Type: node.TypeVMess, Server: "c.example.com", Port: 443, Name: "alpha"},
		{Type: node.TypeVMess, Server: "d.example.com", Port: 443, Name: "alpha"},
	}
	want := []string{"alpha", "beta", "alpha_2", "alpha_3"}
	got := uniqueNames(nodes)
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("names[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestFreePort(t *testing.T) {
	port, err := freePort()
	if err != nil {
		t.Fatalf("freePort: %v", err)
	}
	if port <= 0 {
		t.Fatalf("port = %d", port)
	}
	l, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		t.Fatalf("port %d not usable: %v", port, err)
	}
	l.Close()
}

func TestGenerateConfigEmpty(t *testing.T) {
	if _, _, err := generateConfig(nil, 7890, 9090); err == nil {
		t.Fatal("expected error for empty node list")
	}
}

func TestParseEchoBody(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{`{"query":"1.2.3.4"}`, "1.2.3.4", false},
		{`{"ip":"5.6.7.8"}`, "5.6.7.8", false},
		{"9.10.11.12\n", "9.10.11.12", false},
		{`{"other":"x"}`, "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := parseEchoBody([]byte(tt.in))
		if tt.wantErr {
			if err == nil {
				t.Errorf("parseEchoBody(%q): expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseEchoBody(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("parseEchoBody(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
