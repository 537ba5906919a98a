package node

import "fmt"

// Type identifies the proxy protocol of a node. The set is closed: the core
// only ever inspects type/server/port/name, everything protocol-specific
// travels in the Extra bag.
type Type string

const (
	TypeShadowsocks Type = "ss"
	TypeVMess       Type = "vmess"
	TypeVLESS       Type = "vless"
	TypeTrojan      Type = "trojan"
	TypeHysteria    Type = "hysteria"
	TypeHysteria2   Type = "hysteria2"
	TypeTUIC        Type = "tuic"
)

// Supported reports whether t is one of the known protocol kinds.
func (t Type) Supported() bool {
	switch t {
	case TypeShadowsocks, TypeVMess, TypeVLESS, TypeTrojan,
		TypeHysteria, TypeHysteria2, TypeTUIC:
		return true
	}
	return false
}

// Node is a candidate proxy endpoint. Immutable once it enters the pipeline.
type Node struct {
	Type   Type
	Server string
	Port   int
	Name   string
	// Extra carries protocol-specific Clash fields (cipher, uuid, ws-opts...)
	// untouched by the core and round-tripped into generated configs.
	Extra map[string]interface{}
}

// Key identifies a node. Name is deliberately not part of identity: the same
// endpoint listed under two display names is one node.
type Key struct {
	Type   Type
	Server string
	Port   int
}

func (k Key) String() string {
	return fmt.Sprintf("%s://%s:%d", k.Type, k.Server, k.Port)
}

// Key returns the dedup identity of the node.
func (n Node) Key() Key {
	return Key{Type: n.Type, Server: n.Server, Port: n.Port}
}

// ClashProxy renders the node as a Clash proxy map, common fields first,
// Extra merged on top without overriding identity fields.
func (n Node) ClashProxy() map[string]interface{} {
	m := make(map[string]interface{}, len(n.Extra)+4)
	for k, v := range n.Extra {
		switch k {
		case "name", "type", "server", "port":
			continue
		}
		m[k] = v
	}
	m["name"] = n.Name
	m["type"] = string(n.Type)
	m["server"] = n.Server
	m["port"] = n.Port
	return m
}
