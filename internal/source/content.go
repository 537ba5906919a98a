package source

import (
	"encoding/json"
	"strings"

	"github.com/apex/log"
	"gopkg.in/yaml.v3"
	"nodesift/internal/node"
)

// clashDocument is the subset of a Clash/mihomo config we read proxies from.
type clashDocument struct {
	Proxies []map[string]interface{} `yaml:"proxies"`
}

// ParseContent detects the payload format of fetched content and extracts
// nodes. Supported formats: Clash YAML documents, JSON arrays of share links,
// base64-wrapped link lists, and plain link lists.
func ParseContent(content []byte) []node.Node {
	text := strings.TrimSpace(string(content))
	if text == "" {
		return nil
	}

	// JSON array of share links.
	if strings.HasPrefix(text, "[") {
		var links []string
		if err := json.Unmarshal([]byte(text), &links); err == nil {
			return parseLinks(strings.Join(links, "\n"))
		}
	}

	// Plain share links.
	if hasLinkPrefix(text) {
		return parseLinks(text)
	}

	// Base64 subscription payload.
	if decoded, ok := tryBase64(text); ok {
		return parseLinks(decoded)
	}

	// Clash YAML document.
	var doc clashDocument
	if err := yaml.Unmarshal([]byte(text), &doc); err == nil && len(doc.Proxies) > 0 {
		return proxiesToNodes(doc.Proxies)
	}

	log.Warn("unrecognized source content format")
	return nil
}

// proxiesToNodes lifts raw Clash proxy maps into Nodes, dropping entries with
// unsupported types or missing identity fields.
func proxiesToNodes(proxies []map[string]interface{}) []node.Node {
	nodes := make([]node.Node, 0, len(proxies))
	for _, p := range proxies {
		typ, _ := p["type"].(string)
		server, _ := p["server"].(string)
		name, _ := p["name"].(string)

		t := node.Type(typ)
		port := toInt(p["port"])
		if !t.Supported() || server == "" || port == 0 {
			continue
		}

		extra := make(map[string]interface{}, len(p))
		for k, v := range p {
			switch k {
			case "name", "type", "server", "port":
				continue
			}
			extra[k] = v
		}

		nodes = append(nodes, node.Node{
			Type:   t,
			Server: server,
			Port:   port,
			Name:   name,
			Extra:  extra,
		})
	}
	return nodes
}

func toInt(v interface{}) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case uint64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}
