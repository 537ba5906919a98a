package source

import (
	"encoding/base64"
	"testing"

	"nodesift/internal/node"
)

func TestParseContentClashYAML(t *testing.T) {
	doc := `
mixed-port: 7890
proxies:
  - name: tokyo
    type: ss
    server: 1.2.3.4
    port: 8388
    cipher: aes-128-gcm
    password: pw
  - name: unsupported
    type: socks5
    server: 2.3.4.5
    port: 1080
  - name: broken
    type: vmess
    server: ""
    port: 443
`
	nodes := ParseContent([]byte(doc))
	if len(nodes) != 1 {
		t.Fatalf("expected 1 usable node, got %d", len(nodes))
	}

	n := nodes[0]
	if n.Type != node.TypeShadowsocks || n.Server != "1.2.3.4" || n.Port != 8388 {
		t.Errorf("node mismatch: %+v", n)
	}
	if n.Extra["cipher"] != "aes-128-gcm" {
		t.Errorf("protocol extras should survive: %v", n.Extra)
	}
	if _, ok := n.Extra["server"]; ok {
		t.Error("identity fields must not leak into Extra")
	}
}

func TestParseContentBase64Links(t *testing.T) {
	links := "trojan://pw@a.example.com:443#a\ntrojan://pw@b.example.com:443#b\n"
	payload := base64.StdEncoding.EncodeToString([]byte(links))

	nodes := ParseContent([]byte(payload))
	if len(nodes) != 2 {
		t.Fatalf("expected 2 nodes, got %d", len(nodes))
	}
}

func TestParseContentPlainLinks(t *testing.T) {
	text := "trojan://pw@a.example.com:443#a\nnot-a-link\ntrojan://pw@b.example.com:443#b"
	nodes := ParseContent([]byte(text))
	if len(nodes) != 2 {
		t.Fatalf("expected 2 nodes, got %d", len(nodes))
	}
}

func TestParseContentJSONLinkArray(t *testing.T) {
	text := `["trojan://pw@a.example.com:443#a", "trojan://pw@b.example.com:8443#b"]`
	nodes := ParseContent([]byte(text))
	if len(nodes) != 2 {
		t.Fatalf("expected 2 nodes, got %d", len(nodes))
	}
}

func TestParseContentGarbage(t *testing.T) {
	if nodes := ParseContent([]byte("complete nonsense %%%")); len(nodes) != 0 {
		t.Errorf("expected no nodes, got %v", nodes)
	}
	if nodes := ParseContent(nil); len(nodes) != 0 {
		t.Errorf("expected no nodes for empty input")
	}
}
