package node

// Label is the final classification of a node.
type Label string

const (
	LabelDatacenter  Label = "datacenter"
	LabelResidential Label = "residential"
	LabelUnknown     Label = "unknown"
)

// Mode selects how the classified IP was obtained.
type Mode string

const (
	// ModeFast classifies the entry IP the advertised hostname resolves to.
	ModeFast Mode = "fast"
	// ModePrecise classifies the egress IP observed through a live instance
	// of the node.
	ModePrecise Mode = "precise"
)

// DetectionResult is the per-node outcome of a detection run. Exactly one
// exists per surviving node; Label is never empty.
type DetectionResult struct {
	Node Node
	Mode Mode

	// IP is the entry or egress address, depending on Mode. Empty when
	// resolution or probing failed.
	IP string

	// Hosting is nil when the geolocation query failed.
	Hosting *bool
	// ASN is the matched ASN registry entry, 0 when none matched.
	ASN     uint32
	Org     string
	ISP     string
	Country string

	// LatencyMS is only set in precise mode for reachable nodes.
	LatencyMS *int

	// Unlock holds per-service accessibility results when unlock checks ran.
	Unlock map[string]bool

	Label  Label
	Reason string
	// Err records the per-node failure that degraded this result, if any.
	Err error
}
