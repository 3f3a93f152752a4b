package awareness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sieve-sdn/sieve/internal/config"
)

func newTestAwareness() *Awareness {
	return New(config.Default())
}

func TestSwitchEnterLeave(t *testing.T) {
	a := newTestAwareness()
	a.OnSwitchEnter(3001)
	assert.Contains(t, a.Switches(), uint64(3001))
	assert.Equal(t, config.TierEdge, a.SwitchTier(3001))

	a.OnSwitchLeave(3001)
	assert.NotContains(t, a.Switches(), uint64(3001))
}

func TestLinkAddRemove(t *testing.T) {
	a := newTestAwareness()
	a.OnSwitchEnter(3001)
	a.OnSwitchEnter(2001)
	a.NoteAccessPort(3001, 1)

	a.OnLinkAdd(3001, 2001, 1, 3)
	pp, ok := a.LinkPorts(3001, 2001)
	require.True(t, ok)
	assert.Equal(t, PortPair{SrcPort: 1, DstPort: 3}, pp)

	// Linking on port 1 should clear it from the access-port set.
	unlearned := a.UnlearnedAccessPorts()
	assert.NotContains(t, unlearned[3001], uint32(1))

	a.OnLinkDelete(3001, 2001)
	_, ok = a.LinkPorts(3001, 2001)
	assert.False(t, ok)
}

func TestHostSeenAndLocation(t *testing.T) {
	a := newTestAwareness()
	a.OnSwitchEnter(3001)
	a.NoteAccessPort(3001, 3)

	mac := [6]byte{0, 1, 2, 3, 4, 5}
	a.OnHostSeen(0x0A000001, mac, 3001, 3)

	loc, ok := a.GetHostLocation(0x0A000001)
	require.True(t, ok)
	assert.Equal(t, HostLocation{DPID: 3001, Port: 3}, loc)
	assert.True(t, a.IsLearnedAccessPort(3001, 3))

	unlearned := a.UnlearnedAccessPorts()
	assert.NotContains(t, unlearned[3001], uint32(3))
}

func TestUnlearnedAccessPorts(t *testing.T) {
	a := newTestAwareness()
	a.OnSwitchEnter(3001)
	a.NoteAccessPort(3001, 3)
	a.NoteAccessPort(3001, 4)

	mac := [6]byte{0, 1, 2, 3, 4, 5}
	a.OnHostSeen(0x0A000001, mac, 3001, 3)

	unlearned := a.UnlearnedAccessPorts()
	assert.ElementsMatch(t, []uint32{4}, unlearned[3001])
}

func TestShortestPathsTrivialCase(t *testing.T) {
	a := newTestAwareness()
	a.OnSwitchEnter(3001)
	paths := a.ShortestPaths(3001, 3001)
	require.Len(t, paths, 1)
	assert.Equal(t, []uint64{3001}, paths[0])
}

// buildFatTreeK4 wires a minimal slice of a k=4 fat tree: two edge switches
// each dual-homed to two aggregate switches, which are in turn dual-homed to
// two core switches — enough to exercise multi-path ranking.
func buildFatTreeK4(a *Awareness) {
	for _, dpid := range []uint64{1001, 1002, 2001, 2002, 3001, 3002} {
		a.OnSwitchEnter(dpid)
	}
	links := [][2]uint64{
		{3001, 2001}, {2001, 3001},
		{3001, 2002}, {2002, 3001},
		{3002, 2001}, {2001, 3002},
		{3002, 2002}, {2002, 3002},
		{2001, 1001}, {1001, 2001},
		{2001, 1002}, {1002, 2001},
		{2002, 1001}, {1001, 2002},
		{2002, 1002}, {1002, 2002},
	}
	for _, l := range links {
		a.OnLinkAdd(l[0], l[1], 1, 2)
	}
}

func TestShortestPathsMultiplePaths(t *testing.T) {
	a := newTestAwareness()
	buildFatTreeK4(a)

	paths := a.ShortestPaths(3001, 3002)
	require.NotEmpty(t, paths)
	for _, p := range paths {
		assert.Equal(t, uint64(3001), p[0])
		assert.Equal(t, uint64(3002), p[len(p)-1])
		assert.LessOrEqual(t, len(p), 5)
	}
	// Expect at least 4 paths: the 2 edge->agg->edge paths plus the
	// edge->agg->core->agg->edge detours through the core tier.
	assert.GreaterOrEqual(t, len(paths), 4)
}

func TestShortestPathsCacheInvalidation(t *testing.T) {
	a := newTestAwareness()
	buildFatTreeK4(a)

	first := a.ShortestPaths(3001, 3002)
	require.NotEmpty(t, first)

	a.OnLinkDelete(3001, 2001)
	a.OnLinkDelete(2001, 3001)

	second := a.ShortestPaths(3001, 3002)
	require.NotEmpty(t, second)
	for _, p := range second {
		for i := 0; i < len(p)-1; i++ {
			if p[i] == 3001 {
				assert.NotEqual(t, uint64(2001), p[i+1])
			}
		}
	}
}

func TestShortestPathsNoRoute(t *testing.T) {
	a := newTestAwareness()
	a.OnSwitchEnter(3001)
	a.OnSwitchEnter(3002)
	paths := a.ShortestPaths(3001, 3002)
	assert.Empty(t, paths)
}
