package source

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"nodesift/internal/node"
	pkgerrors "nodesift/pkg/errors"
)

// ParseLink parses a single share link into a Node with Clash-style extras.
func ParseLink(link string) (node.Node, error) {
	link = strings.TrimSpace(link)
	switch {
	case strings.HasPrefix(link, "ss://"):
		return parseShadowsocks(link)
	case strings.HasPrefix(link, "vmess://"):
		return parseVMess(link)
	case strings.HasPrefix(link, "vless://"):
		return parseVLESS(link)
	case strings.HasPrefix(link, "trojan://"):
		return parseTrojan(link)
	case strings.HasPrefix(link, "hysteria2://"), strings.HasPrefix(link, "hy2://"):
		return parseHysteria2(link)
	case strings.HasPrefix(link, "hysteria://"):
		return parseHysteria(link)
	case strings.HasPrefix(link, "tuic://"):
		return parseTUIC(link)
	}
	return node.Node{}, fmt.Errorf("%w: %.30s", pkgerrors.ErrProtocolUnsupported, link)
}

// parseLinks parses one link per line, skipping lines that don't parse.
func parseLinks(text string) []node.Node {
	var nodes []node.Node
	for _, line := range splitLines(text) {
		n, err := ParseLink(line)
		if err != nil {
			continue
		}
		nodes = append(nodes, n)
	}
	return nodes
}

func parseShadowsocks(link string) (node.Node, error) {
	// ss://base64(method:password)@host:port#name
	// or ss://base64(method:password@host:port)#name
	raw := strings.TrimPrefix(link, "ss://")

	name := ""
	if idx := strings.LastIndex(raw, "#"); idx != -1 {
		name, _ = url.QueryUnescape(raw[idx+1:])
		raw = raw[:idx]
	}

	var userinfo, hostPort string
	if idx := strings.LastIndex(raw, "@"); idx != -1 {
		userinfo = raw[:idx]
		hostPort = raw[idx+1:]
		if decoded, err := decodeBase64Loose(userinfo); err == nil {
			userinfo = decoded
		}
	} else {
		decoded, err := decodeBase64Loose(raw)
		if err != nil {
			return node.Node{}, fmt.Errorf("%w: undecodable ss payload", pkgerrors.ErrLinkInvalid)
		}
		idx := strings.LastIndex(decoded, "@")
		if idx == -1 {
			return node.Node{}, fmt.Errorf("%w: ss payload missing host", pkgerrors.ErrLinkInvalid)
		}
		userinfo = decoded[:idx]
		hostPort = decoded[idx+1:]
	}

	method, password, ok := strings.Cut(userinfo, ":")
	if !ok {
		return node.Node{}, fmt.Errorf("%w: ss credentials", pkgerrors.ErrLinkInvalid)
	}
	host, port, err := splitHostPort(hostPort)
	if err != nil {
		return node.Node{}, err
	}

	if name == "" {
		name = fmt.Sprintf("ss-%s:%d", host, port)
	}
	return node.Node{
		Type:   node.TypeShadowsocks,
		Server: host,
		Port:   port,
		Name:   name,
		Extra: map[string]interface{}{
			"cipher":   method,
			"password": password,
		},
	}, nil
}

// vmessPayload is the V2rayN JSON wrapped in vmess:// links.
type vmessPayload struct {
	PS   string          `json:"ps"`
	Add  string          `json:"add"`
	Port json.RawMessage `json:"port"`
	ID   string          `json:"id"`
	Aid  json.RawMessage `json:"aid"`
	Scy  string          `json:"scy"`
	Net  string          `json:"net"`
	Path string          `json:"path"`
	Host string          `json:"host"`
	TLS  string          `json:"tls"`
	SNI  string          `json:"sni"`
}

func parseVMess(link string) (node.Node, error) {
	raw, err := decodeBase64Loose(strings.TrimPrefix(link, "vmess://"))
	if err != nil {
		return node.Node{}, fmt.Errorf("%w: vmess base64", pkgerrors.ErrLinkInvalid)
	}

	var conf vmessPayload
	if err := json.Unmarshal([]byte(raw), &conf); err != nil {
		return node.Node{}, fmt.Errorf("%w: vmess json: %v", pkgerrors.ErrLinkInvalid, err)
	}
	if conf.Add == "" || conf.ID == "" {
		return node.Node{}, fmt.Errorf("%w: vmess missing server or uuid", pkgerrors.ErrLinkInvalid)
	}

	port, err := jsonInt(conf.Port)
	if err != nil || port == 0 {
		return node.Node{}, fmt.Errorf("%w: vmess port", pkgerrors.ErrLinkInvalid)
	}
	alterID, _ := jsonInt(conf.Aid)

	cipher := conf.Scy
	if cipher == "" {
		cipher = "auto"
	}

	extra := map[string]interface{}{
		"uuid":    conf.ID,
		"alterId": alterID,
		"cipher":  cipher,
	}

	switch conf.Net {
	case "ws":
		extra["network"] = "ws"
		wsOpts := map[string]interface{}{}
		if conf.Path != "" {
			wsOpts["path"] = conf.Path
		}
		if conf.Host != "" {
			wsOpts["headers"] = map[string]interface{}{"Host": conf.Host}
		}
		if len(wsOpts) > 0 {
			extra["ws-opts"] = wsOpts
		}
	case "grpc":
		extra["network"] = "grpc"
		if conf.Path != "" {
			extra["grpc-opts"] = map[string]interface{}{"grpc-service-name": conf.Path}
		}
	case "h2":
		extra["network"] = "h2"
		h2Opts := map[string]interface{}{}
		if conf.Path != "" {
			h2Opts["path"] = conf.Path
		}
		if conf.Host != "" {
			h2Opts["host"] = []interface{}{conf.Host}
		}
		if len(h2Opts) > 0 {
			extra["h2-opts"] = h2Opts
		}
	}

	if conf.TLS == "tls" {
		extra["tls"] = true
		if conf.SNI != "" {
			extra["servername"] = conf.SNI
		}
	}

	name := conf.PS
	if name == "" {
		name = fmt.Sprintf("vmess-%s:%d", conf.Add, port)
	}
	return node.Node{
		Type:   node.TypeVMess,
		Server: conf.Add,
		Port:   port,
		Name:   name,
		Extra:  extra,
	}, nil
}

func parseVLESS(link string) (node.Node, error) {
	u, err := url.Parse(link)
	if err != nil {
		return node.Node{}, fmt.Errorf("%w: %v", pkgerrors.ErrLinkInvalid, err)
	}
	host, port, err := hostPortFromURL(u, 443)
	if err != nil {
		return node.Node{}, err
	}
	q := u.Query()

	security := q.Get("security")
	extra := map[string]interface{}{
		"uuid": u.User.Username(),
		"tls":  security == "tls" || security == "reality",
	}

	if flow := q.Get("flow"); flow != "" {
		extra["flow"] = flow
	}
	if sni := q.Get("sni"); sni != "" {
		extra["servername"] = sni
	}

	network := q.Get("type")
	if network != "" && network != "tcp" {
		extra["network"] = network
	}
	switch network {
	case "ws":
		wsOpts := map[string]interface{}{}
		if path := q.Get("path"); path != "" {
			wsOpts["path"] = path
		}
		if h := q.Get("host"); h != "" {
			wsOpts["headers"] = map[string]interface{}{"Host": h}
		}
		if len(wsOpts) > 0 {
			extra["ws-opts"] = wsOpts
		}
	case "grpc":
		if sn := q.Get("serviceName"); sn != "" {
			extra["grpc-opts"] = map[string]interface{}{"grpc-service-name": sn}
		}
	}

	if security == "reality" {
		realityOpts := map[string]interface{}{}
		if pbk := q.Get("pbk"); pbk != "" {
			realityOpts["public-key"] = pbk
		}
		if sid := q.Get("sid"); sid != "" {
			realityOpts["short-id"] = sid
		}
		extra["reality-opts"] = realityOpts
		if fp := q.Get("fp"); fp != "" {
			extra["client-fingerprint"] = fp
		}
	}

	name := fragmentName(u)
	if name == "" {
		name = fmt.Sprintf("vless-%s:%d", host, port)
	}
	return node.Node{
		Type:   node.TypeVLESS,
		Server: host,
		Port:   port,
		Name:   name,
		Extra:  extra,
	}, nil
}

func parseTrojan(link string) (node.Node, error) {
	u, err := url.Parse(link)
	if err != nil {
		return node.Node{}, fmt.Errorf("%w: %v", pkgerrors.ErrLinkInvalid, err)
	}
	host, port, err := hostPortFromURL(u, 443)
	if err != nil {
		return node.Node{}, err
	}
	q := u.Query()

	password, _ := url.QueryUnescape(u.User.Username())
	extra := map[string]interface{}{
		"password": password,
	}
	if sni := q.Get("sni"); sni != "" {
		extra["sni"] = sni
	}

	switch q.Get("type") {
	case "ws":
		extra["network"] = "ws"
		wsOpts := map[string]interface{}{}
		if path := q.Get("path"); path != "" {
			wsOpts["path"] = path
		}
		if h := q.Get("host"); h != "" {
			wsOpts["headers"] = map[string]interface{}{"Host": h}
		}
		if len(wsOpts) > 0 {
			extra["ws-opts"] = wsOpts
		}
	case "grpc":
		extra["network"] = "grpc"
		if sn := q.Get("serviceName"); sn != "" {
			extra["grpc-opts"] = map[string]interface{}{"grpc-service-name": sn}
		}
	}

	name := fragmentName(u)
	if name == "" {
		name = fmt.Sprintf("trojan-%s:%d", host, port)
	}
	return node.Node{
		Type:   node.TypeTrojan,
		Server: host,
		Port:   port,
		Name:   name,
		Extra:  extra,
	}, nil
}

func parseHysteria2(link string) (node.Node, error) {
	u, err := url.Parse(link)
	if err != nil {
		return node.Node{}, fmt.Errorf("%w: %v", pkgerrors.ErrLinkInvalid, err)
	}
	host, port, err := hostPortFromURL(u, 443)
	if err != nil {
		return node.Node{}, err
	}
	q := u.Query()

	password, _ := url.QueryUnescape(u.User.Username())
	extra := map[string]interface{}{
		"password": password,
	}
	if sni := q.Get("sni"); sni != "" {
		extra["sni"] = sni
	}
	if obfs := q.Get("obfs"); obfs != "" {
		extra["obfs"] = obfs
		if pw := q.Get("obfs-password"); pw != "" {
			extra["obfs-password"] = pw
		}
	}
	if q.Get("insecure") == "1" {
		extra["skip-cert-verify"] = true
	}

	name := fragmentName(u)
	if name == "" {
		name = fmt.Sprintf("hy2-%s:%d", host, port)
	}
	return node.Node{
		Type:   node.TypeHysteria2,
		Server: host,
		Port:   port,
		Name:   name,
		Extra:  extra,
	}, nil
}

func parseHysteria(link string) (node.Node, error) {
	u, err := url.Parse(link)
	if err != nil {
		return node.Node{}, fmt.Errorf("%w: %v", pkgerrors.ErrLinkInvalid, err)
	}
	host, port, err := hostPortFromURL(u, 443)
	if err != nil {
		return node.Node{}, err
	}
	q := u.Query()

	extra := map[string]interface{}{}
	if auth := q.Get("auth"); auth != "" {
		extra["auth-str"] = auth
	}
	protocol := q.Get("protocol")
	if protocol == "" {
		protocol = "udp"
	}
	extra["protocol"] = protocol

	if up := firstOf(q, "upmbps", "up"); up != "" {
		extra["up"] = up
	}
	if down := firstOf(q, "downmbps", "down"); down != "" {
		extra["down"] = down
	}
	if obfs := q.Get("obfs"); obfs != "" {
		extra["obfs"] = obfs
	}
	if sni := firstOf(q, "peer", "sni"); sni != "" {
		extra["sni"] = sni
	}
	if q.Get("insecure") == "1" {
		extra["skip-cert-verify"] = true
	}
	if alpn := q.Get("alpn"); alpn != "" {
		extra["alpn"] = strings.Split(alpn, ",")
	}

	name := fragmentName(u)
	if name == "" {
		name = fmt.Sprintf("hysteria-%s:%d", host, port)
	}
	return node.Node{
		Type:   node.TypeHysteria,
		Server: host,
		Port:   port,
		Name:   name,
		Extra:  extra,
	}, nil
}

func parseTUIC(link string) (node.Node, error) {
	u, err := url.Parse(link)
	if err != nil {
		return node.Node{}, fmt.Errorf("%w: %v", pkgerrors.ErrLinkInvalid, err)
	}
	host, port, err := hostPortFromURL(u, 443)
	if err != nil {
		return node.Node{}, err
	}
	q := u.Query()

	password, _ := u.User.Password()
	extra := map[string]interface{}{
		"uuid":     u.User.Username(),
		"password": password,
	}

	cc := q.Get("congestion_control")
	if cc == "" {
		cc = "bbr"
	}
	extra["congestion-controller"] = cc

	if alpn := q.Get("alpn"); alpn != "" {
		extra["alpn"] = strings.Split(alpn, ",")
	}
	if sni := q.Get("sni"); sni != "" {
		extra["sni"] = sni
	}
	if mode := q.Get("udp_relay_mode"); mode != "" {
		extra["udp-relay-mode"] = mode
	}

	name := fragmentName(u)
	if name == "" {
		name = fmt.Sprintf("tuic-%s:%d", host, port)
	}
	return node.Node{
		Type:   node.TypeTUIC,
		Server: host,
		Port:   port,
		Name:   name,
		Extra:  extra,
	}, nil
}

// ─── helpers ────────────────────────────────────────────────────────────────

func decodeBase64Loose(s string) (string, error) {
	encodings := []*base64.Encoding{
		base64.RawURLEncoding,
		base64.RawStdEncoding,
		base64.StdEncoding,
		base64.URLEncoding,
	}
	s = strings.TrimSpace(s)
	for _, enc := range encodings {
		if decoded, err := enc.DecodeString(strings.TrimRight(s, "=")); err == nil {
			return string(decoded), nil
		}
	}
	// Padded forms last, with the original padding intact.
	if decoded, err := base64.StdEncoding.DecodeString(s); err == nil {
		return string(decoded), nil
	}
	return "", fmt.Errorf("not base64")
}

func splitHostPort(s string) (string, int, error) {
	idx := strings.LastIndex(s, ":")
	if idx == -1 {
		return "", 0, fmt.Errorf("%w: missing port in %q", pkgerrors.ErrLinkInvalid, s)
	}
	port, err := strconv.Atoi(s[idx+1:])
	if err != nil || port <= 0 || port > 65535 {
		return "", 0, fmt.Errorf("%w: bad port in %q", pkgerrors.ErrLinkInvalid, s)
	}
	return s[:idx], port, nil
}

func hostPortFromURL(u *url.URL, defaultPort int) (string, int, error) {
	host := u.Hostname()
	if host == "" {
		return "", 0, fmt.Errorf("%w: missing host", pkgerrors.ErrLinkInvalid)
	}
	port := defaultPort
	if p := u.Port(); p != "" {
		var err error
		port, err = strconv.Atoi(p)
		if err != nil {
			return "", 0, fmt.Errorf("%w: bad port %q", pkgerrors.ErrLinkInvalid, p)
		}
	}
	return host, port, nil
}

func fragmentName(u *url.URL) string {
	name, err := url.QueryUnescape(u.Fragment)
	if err != nil {
		return u.Fragment
	}
	return name
}

func firstOf(q url.Values, keys ...string) string {
	for _, k := range keys {
		if v := q.Get(k); v != "" {
			return v
		}
	}
	return ""
}

func jsonInt(raw json.RawMessage) (int, error) {
	if len(raw) == 0 {
		return 0, nil
	}
	s := strings.Trim(string(raw), `"`)
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}
