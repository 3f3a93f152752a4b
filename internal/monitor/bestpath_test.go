package monitor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sieve-sdn/sieve/internal/awareness"
)

func TestBestPathColdStartFallsBackToShortest(t *testing.T) {
	m, aw, _ := newTestMonitor()
	aw.OnSwitchEnter(3001)
	aw.OnSwitchEnter(2001)
	aw.OnLinkAdd(3001, 2001, 1, 3)

	path, ok := m.BestPath(3001, 2001)
	require.True(t, ok)
	assert.Equal(t, []uint64{3001, 2001}, path)
}

func TestBestPathPrefersHigherBottleneck(t *testing.T) {
	m, aw, _ := newTestMonitor()
	aw.OnSwitchEnter(3001)
	aw.OnSwitchEnter(2001)
	aw.OnSwitchEnter(2002)
	aw.OnSwitchEnter(3002)
	aw.OnLinkAdd(3001, 2001, 1, 3)
	aw.OnLinkAdd(2001, 3002, 4, 3)
	aw.OnLinkAdd(3001, 2002, 2, 3)
	aw.OnLinkAdd(2002, 3002, 4, 4)

	m.mu.Lock()
	m.graph.edges[awareness.LinkEndpoints{Src: 3001, Dst: 2001}] = bandwidthEdge{BandwidthKbps: 1000}
	m.graph.edges[awareness.LinkEndpoints{Src: 2001, Dst: 3002}] = bandwidthEdge{BandwidthKbps: 1000}
	m.graph.edges[awareness.LinkEndpoints{Src: 3001, Dst: 2002}] = bandwidthEdge{BandwidthKbps: 9000}
	m.graph.edges[awareness.LinkEndpoints{Src: 2002, Dst: 3002}] = bandwidthEdge{BandwidthKbps: 9000}
	m.mu.Unlock()

	path, ok := m.BestPath(3001, 3002)
	require.True(t, ok)
	assert.Equal(t, []uint64{3001, 2002, 3002}, path)
}

func TestBestPathCachesResult(t *testing.T) {
	m, aw, _ := newTestMonitor()
	aw.OnSwitchEnter(3001)
	aw.OnSwitchEnter(2001)
	aw.OnLinkAdd(3001, 2001, 1, 3)

	first, ok := m.BestPath(3001, 2001)
	require.True(t, ok)

	m.mu.Lock()
	_, cached := m.bestPaths[[2]uint64{3001, 2001}]
	m.mu.Unlock()
	assert.True(t, cached)

	second, ok := m.BestPath(3001, 2001)
	require.True(t, ok)
	assert.Equal(t, first, second)
}

func TestBestPathNoRouteReturnsFalse(t *testing.T) {
	m, aw, _ := newTestMonitor()
	aw.OnSwitchEnter(3001)
	aw.OnSwitchEnter(3002)
	_, ok := m.BestPath(3001, 3002)
	assert.False(t, ok)
}
