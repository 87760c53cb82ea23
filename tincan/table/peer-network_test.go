package table_test

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/ipop-project/tincan/tincan/defn"
	"github.com/ipop-project/tincan/tincan/link"
	"github.com/ipop-project/tincan/tincan/table"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const interval = 120 * time.Second

var (
	macA = defn.MacAddress{0x02, 0, 0, 0, 0, 0x0a}
	macB = defn.MacAddress{0x02, 0, 0, 0, 0, 0x0b}
	macC = defn.MacAddress{0x02, 0, 0, 0, 0, 0x0c}
	macD = defn.MacAddress{0x02, 0, 0, 0, 0, 0x0d}
)

func newNetwork() (*table.PeerNetwork, *clock.Mock) {
	clk := clock.NewMock()
	return table.NewPeerNetwork("test", interval, clk), clk
}

func TestAddIsIdempotent(t *testing.T) {
	pn, _ := newNetwork()
	a := link.NewPeerLink(macA, nil)

	pn.Add(a)
	pn.Add(a)
	assert.Equal(t, 1, pn.Size())
	assert.True(t, a.IsValid())
	assert.True(t, pn.IsAdjacent(macA))

	// a re-add with a different link replaces the old one
	a2 := link.NewPeerLink(macA, nil)
	pn.Add(a2)
	assert.Equal(t, 1, pn.Size())
	got, err := pn.GetLinkFor(macA)
	require.NoError(t, err)
	assert.Same(t, a2, got)
	assert.False(t, a.IsValid())
}

func TestUpdateRouteRejects(t *testing.T) {
	pn, _ := newNetwork()
	pn.Add(link.NewPeerLink(macB, nil))

	assert.ErrorIs(t, pn.UpdateRoute(macB, macB), defn.ErrInvalidRoute)
	assert.ErrorIs(t, pn.UpdateRoute(macC, macD), defn.ErrInvalidRoute)
	assert.Equal(t, 0, pn.RouteCount())

	b, err := pn.GetLinkFor(macB)
	require.NoError(t, err)
	b.Invalidate()
	assert.ErrorIs(t, pn.UpdateRoute(macC, macB), defn.ErrInvalidRoute)
	assert.Equal(t, 0, pn.RouteCount())
}

func TestRouteFollowsNextHopValidity(t *testing.T) {
	pn, _ := newNetwork()
	b := link.NewPeerLink(macB, nil)
	pn.Add(b)

	require.NoError(t, pn.UpdateRoute(macC, macB))
	assert.True(t, pn.IsRouteExists(macC))
	assert.False(t, pn.IsAdjacent(macC))

	hop, err := pn.GetRoute(macC)
	require.NoError(t, err)
	assert.Same(t, b, hop)

	// removal invalidates the link; the route is evicted on lookup
	removed, err := pn.Remove(macB)
	require.NoError(t, err)
	assert.Same(t, b, removed)
	assert.False(t, b.IsValid())
	assert.Equal(t, 1, pn.RouteCount())
	assert.False(t, pn.IsRouteExists(macC))
	assert.Equal(t, 0, pn.RouteCount())

	_, err = pn.GetRoute(macC)
	assert.ErrorIs(t, err, defn.ErrNotFound)
	_, err = pn.Remove(macB)
	assert.ErrorIs(t, err, defn.ErrNotFound)
	_, err = pn.GetLinkFor(macB)
	assert.ErrorIs(t, err, defn.ErrNotFound)
}

func TestScavengeInvalid(t *testing.T) {
	pn, _ := newNetwork()
	b := link.NewPeerLink(macB, nil)
	pn.Add(b)
	require.NoError(t, pn.UpdateRoute(macC, macB))
	require.NoError(t, pn.UpdateRoute(macD, macB))

	assert.Equal(t, 0, pn.Scavenge())
	b.Release(defn.Initiator) // sole slot released: link invalid
	assert.Equal(t, 2, pn.Scavenge())
	assert.Equal(t, 0, pn.RouteCount())
}

func TestScavengeAge(t *testing.T) {
	pn, clk := newNetwork()
	pn.Add(link.NewPeerLink(macB, nil))
	require.NoError(t, pn.UpdateRoute(macC, macB))
	require.NoError(t, pn.UpdateRoute(macD, macB))

	// a route in use survives any number of sweeps
	for range 10 {
		clk.Add(interval)
		_, err := pn.GetRoute(macC)
		require.NoError(t, err)
		pn.Scavenge()
	}
	assert.True(t, pn.IsRouteExists(macC))
	assert.False(t, pn.IsRouteExists(macD))
}

func TestScavengerLoop(t *testing.T) {
	pn, clk := newNetwork()
	pn.Add(link.NewPeerLink(macB, nil))
	require.NoError(t, pn.UpdateRoute(macC, macB))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		pn.Run(ctx)
		close(done)
	}()

	// the unused route ages out after more than three ticks
	require.Eventually(t, func() bool {
		clk.Add(interval)
		return pn.RouteCount() == 0
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

func TestClear(t *testing.T) {
	pn, _ := newNetwork()
	b := link.NewPeerLink(macB, nil)
	pn.Add(b)
	require.NoError(t, pn.UpdateRoute(macC, macB))

	links := pn.Clear()
	assert.Len(t, links, 1)
	assert.False(t, b.IsValid())
	assert.Equal(t, 0, pn.Size())
	assert.Equal(t, 0, pn.RouteCount())
	assert.Empty(t, pn.Links())
}
