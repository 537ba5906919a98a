// Package resolver maps advertised node hostnames to entry IPs for the fast
// detection path.
package resolver

import (
	"context"
	"net"
	"net/netip"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	pkgerrors "nodesift/pkg/errors"
)

// Resolver performs concurrency-bounded name resolution. A slow or dead
// hostname times out on its own without holding up the rest of the batch.
type Resolver struct {
	workers int64
	timeout time.Duration
	lookup  func(ctx context.Context, host string) ([]net.IPAddr, error)
}

// Config holds resolver configuration.
type Config struct {
	Workers int64
	Timeout time.Duration
}

// New creates a Resolver backed by the system resolver.
func New(cfg Config) *Resolver {
	if cfg.Workers <= 0 {
		cfg.Workers = 20
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &Resolver{
		workers: cfg.Workers,
		timeout: cfg.Timeout,
		lookup:  net.DefaultResolver.LookupIPAddr,
	}
}

// Resolve returns the entry IP for a single host. IP literals pass through
// unchanged without touching the network.
func (r *Resolver) Resolve(ctx context.Context, host string) (string, error) {
	if addr, err := netip.ParseAddr(host); err == nil {
		return addr.String(), nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	addrs, err := r.lookup(ctx, host)
	if err != nil {
		return "", &pkgerrors.NodeError{Name: host, Err: pkgerrors.ErrResolution}
	}
	if len(addrs) == 0 {
		return "", &pkgerrors.NodeError{Name: host, Err: pkgerrors.ErrResolution}
	}

	// Prefer IPv4: the geolocation service's hosting data is far more
	// complete for v4 space.
	for _, a := range addrs {
		if v4 := a.IP.To4(); v4 != nil {
			return v4.String(), nil
		}
	}
	return addrs[0].IP.String(), nil
}

// ResolveAll resolves a set of hosts concurrently under the worker bound.
// Hosts that fail or time out are simply absent from the returned map; the
// batch always completes.
func (r *Resolver) ResolveAll(ctx context.Context, hosts []string) map[string]string {
	out := make(map[string]string, len(hosts))
	var mu sync.Mutex

	sem := semaphore.NewWeighted(r.workers)
	var wg sync.WaitGroup

	for _, host := range hosts {
		wg.Add(1)
		go func(host string) {
			defer wg.Done()

			if err := sem.Acquire(ctx, 1); err != nil {
				return
			}
			defer sem.Release(1)

			ip, err := r.Resolve(ctx, host)
			if err != nil {
				return
			}

			mu.Lock()
			out[host] = ip
			mu.Unlock()
		}(host)
	}

	wg.Wait()
	return out
}
