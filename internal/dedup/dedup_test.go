package dedup

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"nodesift/internal/node"
)

func TestNodesFirstSeenWins(t *testing.T) {
	in := []node.Node{
		{Type: node.TypeShadowsocks, Server: "1.2.3.4", Port: 443, Name: "n1"},
		{Type: node.TypeShadowsocks, Server: "1.2.3.4", Port: 443, Name: "n2"},
		{Type: node.TypeVMess, Server: "5.6.7.8", Port: 80, Name: "n3"},
	}

	got := Nodes(in)

	want := []node.Node{
		{Type: node.TypeShadowsocks, Server: "1.2.3.4", Port: 443, Name: "n1"},
		{Type: node.TypeVMess, Server: "5.6.7.8", Port: 80, Name: "n3"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("dedup mismatch (-want +got):\n%s", diff)
	}
}

func TestNodesKeepsDistinctProtocolsOnSameEndpoint(t *testing.T) {
	in := []node.Node{
		{Type: node.TypeVLESS, Server: "example.com", Port: 443, Name: "a"},
		{Type: node.TypeTrojan, Server: "example.com", Port: 443, Name: "b"},
	}

	got := Nodes(in)
	if len(got) != 2 {
		t.Fatalf("expected both protocol variants to survive, got %d nodes", len(got))
	}
}

func TestNodesIdempotent(t *testing.T) {
	in := []node.Node{
		{Type: node.TypeShadowsocks, Server: "a", Port: 1, Name: "x"},
		{Type: node.TypeShadowsocks, Server: "a", Port: 1, Name: "y"},
		{Type: node.TypeShadowsocks, Server: "b", Port: 2, Name: "z"},
	}

	once := Nodes(in)
	twice := Nodes(once)

	if diff := cmp.Diff(once, twice); diff != "" {
		t.Errorf("second pass changed the output (-once +twice):\n%s", diff)
	}
}

func TestNodesEmpty(t *testing.T) {
	if got := Nodes(nil); len(got) != 0 {
		t.Errorf("expected empty output, got %v", got)
	}
}
