package tester

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/apex/log"

	"nodesift/internal/node"
	"nodesift/pkg/errors"
)

// State tracks the session lifecycle. Transitions are strictly forward except
// for the Switching/Probing pair, which alternates once per node.
type State int

const (
	StateInit State = iota
	StateConfigGenerated
	StateProcessStarted
	StateAPIReady
	StateSwitching
	StateProbing
	StateStopped
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateConfigGenerated:
		return "config_generated"
	case StateProcessStarted:
		return "process_started"
	case StateAPIReady:
		return "api_ready"
	case StateSwitching:
		return "switching"
	case StateProbing:
		return "probing"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Default echo endpoints, tried in order until one answers. Each returns the
// caller's public IP, which through the proxy is the node's egress IP.
var defaultEchoURLs = []string{
	"http://ip-api.com/json/?fields=query",
	"https://api.ipify.org?format=json",
	"https://ifconfig.me/ip",
}

// Config controls a probing session.
type Config struct {
	// MihomoBin is the path or name of the mihomo binary. Looked up in
	// PATH and common install locations when empty.
	MihomoBin string

	// TestURL is the target for the built-in latency test. Latency is
	// only measured when MeasureDelay is set.
	TestURL      string
	MeasureDelay bool

	// EchoURLs override the default egress IP echo endpoints.
	EchoURLs []string

	StartupTimeout time.Duration
	SwitchTimeout  time.Duration
	ProbeTimeout   time.Duration

	// CheckUnlock, when set, is called through the node's proxy client
	// after a successful egress probe.
	CheckUnlock func(ctx context.Context, client *http.Client) map[string]bool
}

func (c *Config) applyDefaults() {
	if c.TestURL == "" {
		c.TestURL = "http://www.gstatic.com/generate_204"
	}
	if len(c.EchoURLs) == 0 {
		c.EchoURLs = defaultEchoURLs
	}
	if c.StartupTimeout <= 0 {
		c.StartupTimeout = 15 * time.Second
	}
	if c.SwitchTimeout <= 0 {
		c.SwitchTimeout = 8 * time.Second
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = 10 * time.Second
	}
}

// ProbeResult is the per-node outcome of a session. Err is nil on success;
// otherwise it wraps ErrSwitchTimeout, ErrUnreachable or ErrProcessCrash.
type ProbeResult struct {
	Name      string
	EgressIP  string
	LatencyMS int
	Unlock    map[string]bool
	Err       error
}

// Session drives one shared mihomo process through its control API, switching
// the GLOBAL group to each node in turn and probing the egress IP through the
// mixed inbound. All probing is serialized: the shared process routes exactly
// one node at a time.
type Session struct {
	cfg       Config
	state     State
	tmpDir    string
	mixedPort int
	apiPort   int

	cmd     *exec.Cmd
	exited  chan struct{}
	exitErr error

	ctrl        *controller
	proxyClient *http.Client
}

// NewSession creates a session. Nothing is launched until Run.
func NewSession(cfg Config) *Session {
	cfg.applyDefaults()
	return &Session{cfg: cfg, state: StateInit}
}

// State returns the current lifecycle state.
func (s *Session) State() State { return s.state }

// Run executes the full session: generate config, launch the process, wait
// for the control API, probe every node, tear down. The returned map always
// has one entry per input node. A non-nil error means the run itself failed
// (launch failure or mid-run crash); per-node failures are recorded in the
// results and do not fail the run.
func (s *Session) Run(ctx context.Context, nodes []node.Node) (map[node.Key]ProbeResult, error) {
	if len(nodes) == 0 {
		return map[node.Key]ProbeResult{}, nil
	}

	mixedPort, err := freePort()
	if err != nil {
		return nil, fmt.Errorf("failed to find free mixed port: %w", err)
	}
	apiPort, err := freePort()
	if err != nil {
		return nil, fmt.Errorf("failed to find free api port: %w", err)
	}
	s.mixedPort = mixedPort
	s.apiPort = apiPort

	raw, names, err := generateConfig(nodes, mixedPort, apiPort)
	if err != nil {
		s.state = StateFailed
		return nil, err
	}
	s.state = StateConfigGenerated

	tmpDir, err := os.MkdirTemp("", "nodesift-probe-*")
	if err != nil {
		s.state = StateFailed
		return nil, fmt.Errorf("failed to create work dir: %w", err)
	}
	s.tmpDir = tmpDir
	defer s.teardown()

	if err := os.WriteFile(filepath.Join(tmpDir, "config.yaml"), raw, 0600); err != nil {
		s.state = StateFailed
		return nil, fmt.Errorf("failed to write config: %w", err)
	}

	if err := s.launch(); err != nil {
		s.state = StateFailed
		return nil, &errors.SessionError{State: s.state.String(), Err: fmt.Errorf("%w: %v", errors.ErrProcessLaunch, err)}
	}
	s.state = StateProcessStarted

	s.ctrl = newController(fmt.Sprintf("http://127.0.0.1:%d", apiPort))
	if err := s.waitReady(ctx); err != nil {
		s.state = StateFailed
		return nil, &errors.SessionError{State: s.state.String(), Err: fmt.Errorf("%w: %v", errors.ErrProcessLaunch, err)}
	}
	s.state = StateAPIReady

	proxyURL, _ := url.Parse(fmt.Sprintf("http://127.0.0.1:%d", mixedPort))
	s.proxyClient = &http.Client{
		Transport: &http.Transport{
			Proxy:             http.ProxyURL(proxyURL),
			DisableKeepAlives: true,
		},
		Timeout: s.cfg.ProbeTimeout,
	}

	return s.probeNodes(ctx, nodes, names)
}

// launch starts the mihomo process with the generated config directory.
func (s *Session) launch() error {
	bin, err := findMihomoBinary(s.cfg.MihomoBin)
	if err != nil {
		return err
	}

	cmd := exec.Command(bin, "-d", s.tmpDir)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	logFile, err := os.Create(filepath.Join(s.tmpDir, "mihomo.log"))
	if err != nil {
		return fmt.Errorf("failed to create log file: %w", err)
	}
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	if err := cmd.Start(); err != nil {
		logFile.Close()
		return err
	}

	s.cmd = cmd
	s.exited = make(chan struct{})
	go func() {
		s.exitErr = cmd.Wait()
		logFile.Close()
		close(s.exited)
	}()
	return nil
}

// waitReady polls the control API until it answers or the startup timeout
// elapses. An early process exit is reported immediately.
func (s *Session) waitReady(ctx context.Context) error {
	deadline := time.Now().Add(s.cfg.StartupTimeout)
	for time.Now().Before(deadline) {
		select {
		case <-s.exited:
			return fmt.Errorf("process exited during startup: %v", s.exitErr)
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := s.ctrl.ready(ctx); err == nil {
			return nil
		}
		time.Sleep(300 * time.Millisecond)
	}
	return fmt.Errorf("control api not ready after %s", s.cfg.StartupTimeout)
}

// probeNodes runs the serialized switch-confirm-probe loop. On a process
// crash the remaining nodes are recorded with ErrProcessCrash and the run
// fails; a per-node switch timeout or unreachable probe only fails that node.
func (s *Session) probeNodes(ctx context.Context, nodes []node.Node, names []string) (map[node.Key]ProbeResult, error) {
	results := make(map[node.Key]ProbeResult, len(nodes))

	for i, n := range nodes {
		name := names[i]

		select {
		case <-s.exited:
			s.state = StateFailed
			log.WithField("node", name).Errorf("process exited mid-run: %v", s.exitErr)
			for j := i; j < len(nodes); j++ {
				results[nodes[j].Key()] = ProbeResult{Name: names[j], Err: errors.ErrProcessCrash}
			}
			return results, &errors.SessionError{State: s.state.String(), Err: fmt.Errorf("%w: %v", errors.ErrProcessCrash, s.exitErr)}
		case <-ctx.Done():
			for j := i; j < len(nodes); j++ {
				results[nodes[j].Key()] = ProbeResult{Name: names[j], Err: ctx.Err()}
			}
			return results, ctx.Err()
		default:
		}

		s.state = StateSwitching
		if err := s.switchAndConfirm(ctx, name); err != nil {
			log.WithField("node", name).Warnf("switch failed: %v", err)
			results[n.Key()] = ProbeResult{Name: name, Err: err}
			continue
		}

		s.state = StateProbing
		res := ProbeResult{Name: name}

		if s.cfg.MeasureDelay {
			if d, err := s.ctrl.delay(ctx, name, s.cfg.TestURL, s.cfg.ProbeTimeout); err == nil {
				res.LatencyMS = d
			} else {
				log.WithField("node", name).Debugf("delay test failed: %v", err)
			}
		}

		ip, err := s.egressIP(ctx)
		if err != nil {
			log.WithField("node", name).Warnf("egress probe failed: %v", err)
			res.Err = err
		} else {
			res.EgressIP = ip
			if s.cfg.CheckUnlock != nil {
				res.Unlock = s.cfg.CheckUnlock(ctx, s.proxyClient)
			}
		}
		results[n.Key()] = res
	}

	return results, nil
}

// switchAndConfirm points the GLOBAL group at the named outbound and polls
// until the group reports it as active. Switching without confirmation would
// let a probe go out through the previous node.
func (s *Session) switchAndConfirm(ctx context.Context, name string) error {
	swCtx, cancel := context.WithTimeout(ctx, s.cfg.SwitchTimeout)
	defer cancel()

	if err := s.ctrl.selectOutbound(swCtx, globalGroup, name); err != nil {
		return &errors.NodeError{Name: name, Err: fmt.Errorf("%w: %v", errors.ErrSwitchTimeout, err)}
	}

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		now, err := s.ctrl.activeOutbound(swCtx, globalGroup)
		if err == nil && now == name {
			return nil
		}
		select {
		case <-swCtx.Done():
			return &errors.NodeError{Name: name, Err: fmt.Errorf("%w: not confirmed after %s", errors.ErrSwitchTimeout, s.cfg.SwitchTimeout)}
		case <-ticker.C:
		}
	}
}

// egressIP fetches the public IP through the mixed inbound, falling back
// through the configured echo endpoints.
func (s *Session) egressIP(ctx context.Context) (string, error) {
	var lastErr error
	for _, echo := range s.cfg.EchoURLs {
		probeCtx, cancel := context.WithTimeout(ctx, s.cfg.ProbeTimeout)
		ip, err := s.fetchEcho(probeCtx, echo)
		cancel()
		if err == nil {
			return ip, nil
		}
		lastErr = err
	}
	return "", fmt.Errorf("%w: %v", errors.ErrUnreachable, lastErr)
}

func (s *Session) fetchEcho(ctx context.Context, echoURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, echoURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := s.proxyClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("echo endpoint returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return "", err
	}
	return parseEchoBody(body)
}

// parseEchoBody handles both JSON echo formats ({"query":ip} and {"ip":ip})
// and plain-text responses.
func parseEchoBody(body []byte) (string, error) {
	trimmed := strings.TrimSpace(string(body))
	if strings.HasPrefix(trimmed, "{") {
		var payload struct {
			Query string `json:"query"`
			IP    string `json:"ip"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			return "", fmt.Errorf("invalid echo response: %w", err)
		}
		if payload.Query != "" {
			return payload.Query, nil
		}
		if payload.IP != "" {
			return payload.IP, nil
		}
		return "", fmt.Errorf("echo response missing ip field")
	}
	if trimmed == "" {
		return "", fmt.Errorf("empty echo response")
	}
	return trimmed, nil
}

// teardown stops the process and removes the work directory. Runs
// unconditionally at the end of every session, successful or not.
func (s *Session) teardown() {
	if s.cmd != nil && s.cmd.Process != nil {
		// Signal the whole process group; mihomo may have children.
		pgid := -s.cmd.Process.Pid
		syscall.Kill(pgid, syscall.SIGTERM)

		select {
		case <-s.exited:
		case <-time.After(5 * time.Second):
			syscall.Kill(pgid, syscall.SIGKILL)
			select {
			case <-s.exited:
			case <-time.After(2 * time.Second):
			}
		}
		s.cmd = nil
	}

	if s.tmpDir != "" {
		os.RemoveAll(s.tmpDir)
		s.tmpDir = ""
	}

	if s.state != StateFailed {
		s.state = StateStopped
	}
}

// freePort asks the OS for an available TCP port.
func freePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()
	return port, nil
}

// findMihomoBinary resolves the mihomo binary, preferring an explicit path.
func findMihomoBinary(explicit string) (string, error) {
	locations := []string{
		"mihomo",
		"clash-meta",
		"/usr/local/bin/mihomo",
		"/usr/bin/mihomo",
		"/opt/mihomo/mihomo",
	}
	if explicit != "" {
		locations = []string{explicit}
	}

	for _, loc := range locations {
		path, err := exec.LookPath(loc)
		if err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("mihomo binary not found")
}
