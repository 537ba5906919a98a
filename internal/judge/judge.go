// Package judge turns geolocation answers into a classification label.
// It is a pure decision function; all network I/O happens upstream.
package judge

import (
	"fmt"
	"strings"

	"nodesift/internal/asn"
	"nodesift/internal/geo"
	"nodesift/internal/node"
)

// abuseScoreThreshold is the AbuseIPDB confidence score at or above which an
// IP counts as risky enough to treat as datacenter.
const abuseScoreThreshold = 25

// Judge classifies IPs against the ASN registry and keyword rules.
type Judge struct {
	registry *asn.Registry
}

// New creates a Judge bound to an immutable registry.
func New(registry *asn.Registry) *Judge {
	return &Judge{registry: registry}
}

// Classify decides the label for one IP. The priority order is fixed:
//
//  1. failed lookup                  -> unknown
//  2. hosting flag                   -> datacenter
//  3. ASN blacklisted                -> datacenter
//  4. org/isp/as-name keyword hit    -> datacenter
//  5. AbuseIPDB hosting usage / Tor / score -> datacenter
//  6. otherwise                      -> residential
//
// abuse may be nil when the AbuseIPDB signal is disabled or unavailable.
func (j *Judge) Classify(info geo.IPInfo, abuse *geo.AbuseInfo) (node.Label, string) {
	if !info.Success {
		return node.LabelUnknown, "geolocation lookup failed"
	}

	if info.Hosting {
		return node.LabelDatacenter, "hosting flag set"
	}

	if info.ASN != 0 {
		if label, ok := j.registry.Lookup(info.ASN); ok {
			return node.LabelDatacenter, fmt.Sprintf("ASN %d blacklisted (%s)", info.ASN, label)
		}
	}

	haystack := strings.ToLower(info.Org + " " + info.ISP + " " + info.ASName)
	if kw, ok := j.registry.MatchKeyword(haystack); ok {
		return node.LabelDatacenter, fmt.Sprintf("keyword %q in org/isp", kw)
	}

	if abuse != nil && abuse.Success {
		if abuse.Datacenter() {
			return node.LabelDatacenter, fmt.Sprintf("abuseipdb usage type %q", abuse.UsageType)
		}
		if abuse.Tor {
			return node.LabelDatacenter, "abuseipdb: tor exit"
		}
		if abuse.Score >= abuseScoreThreshold {
			return node.LabelDatacenter, fmt.Sprintf("abuseipdb score %d", abuse.Score)
		}
	}

	return node.LabelResidential, "no hosting signal"
}
