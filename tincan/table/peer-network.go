/* Tincan - IPOP overlay link and frame-routing daemon
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package table

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/ipop-project/tincan/tincan/core"
	"github.com/ipop-project/tincan/tincan/defn"
	"github.com/ipop-project/tincan/tincan/link"
)

// RouteTTLFactor is how many scavenge intervals an unused route survives.
const RouteTTLFactor = 3

type routeEntry struct {
	// next hop; an entry in adjacency, or an invalidated former one
	link     *link.PeerLink
	accessed time.Time
}

// PeerNetwork is the registry of adjacent peers and of routes to
// non-adjacent peers through them.
type PeerNetwork struct {
	name     string
	interval time.Duration
	clock    clock.Clock

	mu        sync.Mutex
	adjacency map[defn.MacAddress]*link.PeerLink
	routes    map[defn.MacAddress]*routeEntry
}

// NewPeerNetwork creates an empty registry. A nil clock uses wall time.
func NewPeerNetwork(name string, interval time.Duration, clk clock.Clock) *PeerNetwork {
	if clk == nil {
		clk = clock.New()
	}
	return &PeerNetwork{
		name:      name,
		interval:  interval,
		clock:     clk,
		adjacency: make(map[defn.MacAddress]*link.PeerLink),
		routes:    make(map[defn.MacAddress]*routeEntry),
	}
}

func (pn *PeerNetwork) String() string {
	return fmt.Sprintf("peer-network (overlay=%s)", pn.name)
}

// Add marks l valid and makes it the adjacency entry for its address.
func (pn *PeerNetwork) Add(l *link.PeerLink) {
	l.MarkValid()

	pn.mu.Lock()
	prev, exists := pn.adjacency[l.Mac()]
	pn.adjacency[l.Mac()] = l
	pn.mu.Unlock()

	if exists && prev != l {
		prev.Invalidate()
		core.Log.Info(pn, "Updated adjacent peer", "mac", l.Mac())
	} else if !exists {
		core.Log.Debug(pn, "Added adjacent peer", "mac", l.Mac())
	}
}

// Remove invalidates the peer link at mac and erases it from adjacency.
// Routes through it become unusable and are evicted lazily.
func (pn *PeerNetwork) Remove(mac defn.MacAddress) (*link.PeerLink, error) {
	pn.mu.Lock()
	l, ok := pn.adjacency[mac]
	if ok {
		l.Invalidate()
		delete(pn.adjacency, mac)
	}
	pn.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("%w: no adjacent peer %s", defn.ErrNotFound, mac)
	}
	core.Log.Debug(pn, "Removed adjacent peer", "mac", mac)
	return l, nil
}

// UpdateRoute routes dest through the adjacent peer nextHop.
func (pn *PeerNetwork) UpdateRoute(dest, nextHop defn.MacAddress) error {
	pn.mu.Lock()
	defer pn.mu.Unlock()

	if dest == nextHop {
		return fmt.Errorf("%w: dest %s routed through itself", defn.ErrInvalidRoute, dest)
	}
	l, ok := pn.adjacency[nextHop]
	if !ok || !l.IsValid() {
		return fmt.Errorf("%w: next hop %s of %s is not a valid adjacent peer", defn.ErrInvalidRoute, nextHop, dest)
	}

	pn.routes[dest] = &routeEntry{link: l, accessed: pn.clock.Now()}
	core.Log.Debug(pn, "Updated route", "dest", dest, "next-hop", nextHop)
	return nil
}

// IsAdjacent reports whether mac has an adjacency entry.
func (pn *PeerNetwork) IsAdjacent(mac defn.MacAddress) bool {
	pn.mu.Lock()
	defer pn.mu.Unlock()
	_, ok := pn.adjacency[mac]
	return ok
}

// IsRouteExists reports whether a usable route to mac exists. A route whose
// next hop became invalid is evicted.
func (pn *PeerNetwork) IsRouteExists(mac defn.MacAddress) bool {
	pn.mu.Lock()
	defer pn.mu.Unlock()
	return pn.liveRoute(mac) != nil
}

func (pn *PeerNetwork) liveRoute(mac defn.MacAddress) *routeEntry {
	r, ok := pn.routes[mac]
	if !ok {
		return nil
	}
	if !r.link.IsValid() {
		delete(pn.routes, mac)
		return nil
	}
	return r
}

// GetLinkFor returns the adjacent peer link for mac.
func (pn *PeerNetwork) GetLinkFor(mac defn.MacAddress) (*link.PeerLink, error) {
	pn.mu.Lock()
	defer pn.mu.Unlock()
	l, ok := pn.adjacency[mac]
	if !ok {
		return nil, fmt.Errorf("%w: no adjacent peer %s", defn.ErrNotFound, mac)
	}
	return l, nil
}

// GetRoute returns the next hop towards mac and refreshes the route.
func (pn *PeerNetwork) GetRoute(mac defn.MacAddress) (*link.PeerLink, error) {
	pn.mu.Lock()
	defer pn.mu.Unlock()
	r := pn.liveRoute(mac)
	if r == nil {
		return nil, fmt.Errorf("%w: no route to %s", defn.ErrNotFound, mac)
	}
	r.accessed = pn.clock.Now()
	return r.link, nil
}

// Links returns a snapshot of the adjacent peer links.
func (pn *PeerNetwork) Links() []*link.PeerLink {
	pn.mu.Lock()
	defer pn.mu.Unlock()
	ret := make([]*link.PeerLink, 0, len(pn.adjacency))
	for _, l := range pn.adjacency {
		ret = append(ret, l)
	}
	return ret
}

// Size returns the number of adjacent peers.
func (pn *PeerNetwork) Size() int {
	pn.mu.Lock()
	defer pn.mu.Unlock()
	return len(pn.adjacency)
}

// RouteCount returns the number of route entries, usable or not.
func (pn *PeerNetwork) RouteCount() int {
	pn.mu.Lock()
	defer pn.mu.Unlock()
	return len(pn.routes)
}

// Scavenge evicts routes whose next hop is invalid or which were not used
// for RouteTTLFactor intervals. It returns the number of evicted routes.
func (pn *PeerNetwork) Scavenge() int {
	start := pn.clock.Now()

	pn.mu.Lock()
	evicted := 0
	for mac, r := range pn.routes {
		if !r.link.IsValid() || start.Sub(r.accessed) > RouteTTLFactor*pn.interval {
			core.Log.Debug(pn, "Scavenging route", "dest", mac)
			delete(pn.routes, mac)
			evicted++
		}
	}
	pn.mu.Unlock()

	core.Log.Trace(pn, "Scavenge done", "evicted", evicted, "took", pn.clock.Since(start))
	return evicted
}

// Run scavenges every interval until ctx is done.
func (pn *PeerNetwork) Run(ctx context.Context) {
	ticker := pn.clock.Ticker(pn.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			pn.Scavenge()
		case <-ctx.Done():
			return
		}
	}
}

// Clear invalidates every adjacent link and empties both tables.
func (pn *PeerNetwork) Clear() []*link.PeerLink {
	pn.mu.Lock()
	defer pn.mu.Unlock()

	ret := make([]*link.PeerLink, 0, len(pn.adjacency))
	for _, l := range pn.adjacency {
		l.Invalidate()
		ret = append(ret, l)
	}
	clear(pn.adjacency)
	clear(pn.routes)
	return ret
}
