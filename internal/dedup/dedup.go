// Package dedup collapses duplicate node listings. Subscriptions routinely
// repeat the same endpoint under several display names; identity is the
// (type, server, port) tuple and the first occurrence wins.
package dedup

import "nodesift/internal/node"

// Nodes returns nodes with later duplicates removed. The output preserves
// input order, never mutates the input, and is idempotent: running it on its
// own output yields the same slice.
func Nodes(nodes []node.Node) []node.Node {
	seen := make(map[node.Key]struct{}, len(nodes))
	out := make([]node.Node, 0, len(nodes))

	for _, n := range nodes {
		key := n.Key()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, n)
	}

	return out
}
