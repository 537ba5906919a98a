package tester

import (
	"fmt"

	"gopkg.in/yaml.v3"
	"nodesift/internal/node"
)

// globalGroup is the select group every candidate outbound joins; switching
// the active node means pointing this group at a different member.
const globalGroup = "GLOBAL"

// clashConfig is the subset of mihomo configuration the session generates.
type clashConfig struct {
	MixedPort          int                      `yaml:"mixed-port"`
	ExternalController string                   `yaml:"external-controller"`
	Mode               string                   `yaml:"mode"`
	LogLevel           string                   `yaml:"log-level"`
	IPv6               bool                     `yaml:"ipv6"`
	Proxies            []map[string]interface{} `yaml:"proxies"`
	ProxyGroups        []proxyGroup             `yaml:"proxy-groups"`
	Rules              []string                 `yaml:"rules"`
}

type proxyGroup struct {
	Name    string   `yaml:"name"`
	Type    string   `yaml:"type"`
	Proxies []string `yaml:"proxies"`
}

// generateConfig renders one mihomo config embedding every candidate node as
// an outbound behind a single shared mixed inbound. Outbound names must be
// unique inside the config because switching addresses them by name, so
// duplicate display names get a numeric suffix. The returned slice holds the
// resolved name for each node, aligned by index.
func generateConfig(nodes []node.Node, mixedPort, apiPort int) ([]byte, []string, error) {
	if len(nodes) == 0 {
		return nil, nil, fmt.Errorf("no nodes to embed")
	}

	names := uniqueNames(nodes)
	proxies := make([]map[string]interface{}, 0, len(nodes))
	for i, n := range nodes {
		p := n.ClashProxy()
		p["name"] = names[i]
		proxies = append(proxies, p)
	}

	cfg := clashConfig{
		MixedPort:          mixedPort,
		ExternalController: fmt.Sprintf("127.0.0.1:%d", apiPort),
		Mode:               "rule",
		LogLevel:           "warning",
		IPv6:               false,
		Proxies:            proxies,
		ProxyGroups: []proxyGroup{
			{Name: globalGroup, Type: "select", Proxies: names},
		},
		Rules: []string{"MATCH," + globalGroup},
	}

	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal mihomo config: %w", err)
	}
	return raw, names, nil
}

func uniqueNames(nodes []node.Node) []string {
	seen := make(map[string]int, len(nodes))
	names := make([]string, len(nodes))
	for i, n := range nodes {
		name := n.Name
		if name == "" {
			name = n.Key().String()
		}
		seen[name]++
		if c := seen[name]; c > 1 {
			name = fmt.Sprintf("%s_%d", name, c)
			seen[name]++
		}
		names[i] = name
	}
	return names
}
