package fabric

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sieve-sdn/sieve/internal/awareness"
	"github.com/sieve-sdn/sieve/internal/config"
)

type fakeResolver struct {
	paths    map[[2]uint64][]uint64
	freeBwKb map[[2]uint64]int
}

func (f *fakeResolver) BestPath(src, dst uint64) ([]uint64, bool) {
	p, ok := f.paths[[2]uint64{src, dst}]
	return p, ok
}

func (f *fakeResolver) FreeBwKbps(dpid uint64, port uint32) (int, bool) {
	v, ok := f.freeBwKb[[2]uint64{dpid, uint64(port)}]
	return v, ok
}

func TestBuildSnapshotsSwitchList(t *testing.T) {
	aw := awareness.New(config.Default())
	aw.OnSwitchEnter(3001)
	aw.OnSwitchEnter(2001)

	resolver := &fakeResolver{paths: map[[2]uint64][]uint64{}, freeBwKb: map[[2]uint64]int{}}
	view := Build(aw, resolver)

	assert.ElementsMatch(t, []uint64{3001, 2001}, view.Switches)

	// A later switch enter must not retroactively change an already-built
	// snapshot: View.Switches is copied at Build time.
	aw.OnSwitchEnter(1001)
	assert.ElementsMatch(t, []uint64{3001, 2001}, view.Switches)
}

func TestViewBestPathDelegatesToResolver(t *testing.T) {
	aw := awareness.New(config.Default())
	resolver := &fakeResolver{
		paths:    map[[2]uint64][]uint64{{3001, 3002}: {3001, 2001, 3002}},
		freeBwKb: map[[2]uint64]int{},
	}
	view := Build(aw, resolver)

	path, ok := view.BestPath(3001, 3002)
	require.True(t, ok)
	assert.Equal(t, []uint64{3001, 2001, 3002}, path)

	_, ok = view.BestPath(3001, 9999)
	assert.False(t, ok)
}

func TestViewFreeBwKbpsDelegatesToResolver(t *testing.T) {
	aw := awareness.New(config.Default())
	resolver := &fakeResolver{
		paths:    map[[2]uint64][]uint64{},
		freeBwKb: map[[2]uint64]int{{3001, 1}: 15000},
	}
	view := Build(aw, resolver)

	bw, ok := view.FreeBwKbps(3001, 1)
	require.True(t, ok)
	assert.Equal(t, 15000, bw)

	_, ok = view.FreeBwKbps(3001, 2)
	assert.False(t, ok)
}

func TestViewHostLocationDelegatesToAwareness(t *testing.T) {
	aw := awareness.New(config.Default())
	aw.OnSwitchEnter(3001)
	aw.NoteAccessPort(3001, 3)
	aw.OnHostSeen(0x0a000001, [6]byte{0, 1, 2, 3, 4, 5}, 3001, 3)

	resolver := &fakeResolver{paths: map[[2]uint64][]uint64{}, freeBwKb: map[[2]uint64]int{}}
	view := Build(aw, resolver)

	loc, ok := view.HostLocation(0x0a000001)
	require.True(t, ok)
	assert.Equal(t, awareness.HostLocation{DPID: 3001, Port: 3}, loc)

	_, ok = view.HostLocation(0x0a000002)
	assert.False(t, ok)
}
