package detect

import (
	"context"
	"fmt"

	"github.com/apex/log"

	"nodesift/internal/geo"
	"nodesift/internal/judge"
	"nodesift/internal/node"
	"nodesift/internal/tester"
	"nodesift/pkg/errors"
)

// Resolver resolves hostnames to entry IPs.
type Resolver interface {
	ResolveAll(ctx context.Context, hosts []string) map[string]string
}

// GeoClient answers geolocation queries for a set of IPs.
type GeoClient interface {
	Query(ctx context.Context, ips []string) map[string]geo.IPInfo
}

// AbuseClient answers reputation queries for a set of IPs.
type AbuseClient interface {
	Check(ctx context.Context, ips []string) map[string]geo.AbuseInfo
}

// Prober runs a precise probing session over live node instances.
type Prober interface {
	Run(ctx context.Context, nodes []node.Node) (map[node.Key]tester.ProbeResult, error)
}

// Summary aggregates one detection run.
type Summary struct {
	Mode        node.Mode
	Total       int
	Datacenter  int
	Residential int
	Unknown     int
	Failed      int
}

// Engine classifies nodes as datacenter or residential, either from the
// entry IP the hostname resolves to (fast) or from the observed egress IP
// through a live instance (precise).
type Engine struct {
	resolver Resolver
	geo      GeoClient
	abuse    AbuseClient
	prober   Prober
	judge    *judge.Judge
}

// New assembles an engine. abuse may be nil to skip reputation checks, and
// prober may be nil when only fast mode will be used.
func New(resolver Resolver, geoClient GeoClient, abuse AbuseClient, prober Prober, j *judge.Judge) *Engine {
	return &Engine{
		resolver: resolver,
		geo:      geoClient,
		abuse:    abuse,
		prober:   prober,
		judge:    j,
	}
}

// Detect runs one classification pass over the given nodes. The returned
// slice has exactly one result per node, in input order. The error is non-nil
// only for run-level failures in precise mode (launch failure or mid-run
// crash); even then the results are complete, with the unprobed remainder
// marked unknown.
func (e *Engine) Detect(ctx context.Context, nodes []node.Node, mode node.Mode) ([]node.DetectionResult, Summary, error) {
	var (
		results []node.DetectionResult
		err     error
	)
	switch mode {
	case node.ModePrecise:
		results, err = e.detectPrecise(ctx, nodes)
	default:
		results, err = e.detectFast(ctx, nodes)
	}
	return results, summarize(mode, results), err
}

// detectFast resolves every distinct hostname once, queries geolocation for
// every distinct entry IP once, and fans the answers back out to the nodes.
// Nodes sharing an IP share its classification.
func (e *Engine) detectFast(ctx context.Context, nodes []node.Node) ([]node.DetectionResult, error) {
	hostSet := make(map[string]struct{}, len(nodes))
	hosts := make([]string, 0, len(nodes))
	for _, n := range nodes {
		if _, ok := hostSet[n.Server]; !ok {
			hostSet[n.Server] = struct{}{}
			hosts = append(hosts, n.Server)
		}
	}

	resolved := e.resolver.ResolveAll(ctx, hosts)
	log.WithField("hosts", len(hosts)).WithField("resolved", len(resolved)).Info("fast path resolution done")

	ipSet := make(map[string]struct{}, len(resolved))
	ips := make([]string, 0, len(resolved))
	for _, ip := range resolved {
		if _, ok := ipSet[ip]; !ok {
			ipSet[ip] = struct{}{}
			ips = append(ips, ip)
		}
	}

	infos, abuses := e.lookup(ctx, ips)

	results := make([]node.DetectionResult, len(nodes))
	for i, n := range nodes {
		res := node.DetectionResult{Node: n, Mode: node.ModeFast}
		ip, ok := resolved[n.Server]
		if !ok {
			res.Label = node.LabelUnknown
			res.Reason = "resolution failed"
			res.Err = &errors.NodeError{Name: n.Name, Err: errors.ErrResolution}
			results[i] = res
			continue
		}
		e.classify(&res, ip, infos, abuses)
		results[i] = res
	}
	return results, nil
}

// detectPrecise probes every node through a shared live session and
// classifies the observed egress IPs.
func (e *Engine) detectPrecise(ctx context.Context, nodes []node.Node) ([]node.DetectionResult, error) {
	if e.prober == nil {
		return nil, fmt.Errorf("precise mode requires a prober")
	}

	probes, runErr := e.prober.Run(ctx, nodes)

	ipSet := make(map[string]struct{}, len(probes))
	ips := make([]string, 0, len(probes))
	for _, p := range probes {
		if p.Err == nil && p.EgressIP != "" {
			if _, ok := ipSet[p.EgressIP]; !ok {
				ipSet[p.EgressIP] = struct{}{}
				ips = append(ips, p.EgressIP)
			}
		}
	}

	infos, abuses := e.lookup(ctx, ips)

	results := make([]node.DetectionResult, len(nodes))
	for i, n := range nodes {
		res := node.DetectionResult{Node: n, Mode: node.ModePrecise}
		probe, ok := probes[n.Key()]
		if !ok || probe.Err != nil {
			res.Label = node.LabelUnknown
			res.Reason = probeFailureReason(probe.Err)
			res.Err = probe.Err
			if res.Err == nil {
				res.Err = &errors.NodeError{Name: n.Name, Err: errors.ErrUnreachable}
			}
			results[i] = res
			continue
		}
		if probe.LatencyMS > 0 {
			latency := probe.LatencyMS
			res.LatencyMS = &latency
		}
		res.Unlock = probe.Unlock
		e.classify(&res, probe.EgressIP, infos, abuses)
		results[i] = res
	}
	return results, runErr
}

// lookup queries geolocation and, when configured, reputation for a set of
// IPs. Reputation is advisory: a missing or failed answer never blocks
// classification.
func (e *Engine) lookup(ctx context.Context, ips []string) (map[string]geo.IPInfo, map[string]geo.AbuseInfo) {
	if len(ips) == 0 {
		return map[string]geo.IPInfo{}, nil
	}
	infos := e.geo.Query(ctx, ips)
	var abuses map[string]geo.AbuseInfo
	if e.abuse != nil {
		abuses = e.abuse.Check(ctx, ips)
	}
	return infos, abuses
}

func (e *Engine) classify(res *node.DetectionResult, ip string, infos map[string]geo.IPInfo, abuses map[string]geo.AbuseInfo) {
	res.IP = ip
	info, ok := infos[ip]
	if !ok {
		info = geo.IPInfo{IP: ip, Err: &errors.QueryError{IP: ip, Err: errors.ErrQuery}}
	}

	var abuse *geo.AbuseInfo
	if a, ok := abuses[ip]; ok {
		abuse = &a
	}

	res.Label, res.Reason = e.judge.Classify(info, abuse)
	if info.Success {
		hosting := info.Hosting
		res.Hosting = &hosting
		res.ASN = info.ASN
		res.Org = info.Org
		res.ISP = info.ISP
		res.Country = info.Country
	} else {
		res.Err = info.Err
	}
}

func probeFailureReason(err error) string {
	switch {
	case errors.Is(err, errors.ErrSwitchTimeout):
		return "outbound switch not confirmed"
	case errors.Is(err, errors.ErrProcessCrash):
		return "proxy core exited before probing"
	case errors.Is(err, errors.ErrUnreachable):
		return "unreachable through proxy core"
	case err != nil:
		return "probe failed"
	default:
		return "not probed"
	}
}

func summarize(mode node.Mode, results []node.DetectionResult) Summary {
	s := Summary{Mode: mode, Total: len(results)}
	for _, res := range results {
		switch res.Label {
		case node.LabelDatacenter:
			s.Datacenter++
		case node.LabelResidential:
			s.Residential++
		default:
			s.Unknown++
		}
		if res.Err != nil {
			s.Failed++
		}
	}
	return s
}
