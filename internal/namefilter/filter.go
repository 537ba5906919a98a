// Package namefilter drops nodes whose display name matches a configured
// keyword blacklist. Subscriptions tag expiry notices, traffic counters and
// known-relay entries in the name; filtering them early saves probe slots.
package namefilter

import (
	"strings"

	"nodesift/internal/node"
)

// Filter holds lowercase keyword lists. Whitelist wins over blacklist.
type Filter struct {
	blacklist []string
	whitelist []string
}

// New creates a Filter from raw keyword lists.
func New(blacklist, whitelist []string) *Filter {
	return &Filter{
		blacklist: lower(blacklist),
		whitelist: lower(whitelist),
	}
}

// Apply splits nodes into kept and removed, preserving order.
func (f *Filter) Apply(nodes []node.Node) (kept, removed []node.Node) {
	if len(f.blacklist) == 0 {
		return nodes, nil
	}

	for _, n := range nodes {
		name := strings.ToLower(n.Name)
		if len(f.whitelist) > 0 && matchAny(name, f.whitelist) {
			kept = append(kept, n)
			continue
		}
		if matchAny(name, f.blacklist) {
			removed = append(removed, n)
			continue
		}
		kept = append(kept, n)
	}
	return kept, removed
}

func matchAny(name string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(name, kw) {
			return true
		}
	}
	return false
}

func lower(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
