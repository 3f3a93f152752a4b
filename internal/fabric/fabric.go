// Package fabric assembles the read-only per-tick snapshot that replaces
// Awareness/Monitor/Forwarder's cyclic cross-references (spec §9: "Cyclic
// references... should be refactored to a central read-only fabric view
// built each monitor tick and handed to the forwarder by value, eliminating
// circular ownership").
package fabric

import (
	"github.com/sieve-sdn/sieve/internal/awareness"
)

// PathResolver is the subset of Monitor's read surface the fabric view
// exposes.
type PathResolver interface {
	BestPath(src, dst uint64) ([]uint64, bool)
	FreeBwKbps(dpid uint64, port uint32) (int, bool)
}

// View is the fabric state handed to the Forwarder. Switches is copied when
// the View is built and does not change afterwards; BestPath, HostLocation
// and FreeBwKbps query the live Awareness and PathResolver, so their answers
// reflect state as of the call, not as of Build.
type View struct {
	Switches []uint64
	paths    PathResolver
	aw       *awareness.Awareness
}

// Build assembles a new View from the current Awareness and Monitor state
// (spec §9: "built each monitor tick").
func Build(aw *awareness.Awareness, paths PathResolver) View {
	return View{
		Switches: aw.Switches(),
		paths:    paths,
		aw:       aw,
	}
}

// BestPath resolves the current best path between two switches.
func (v View) BestPath(src, dst uint64) ([]uint64, bool) {
	return v.paths.BestPath(src, dst)
}

// HostLocation resolves a host's last known attachment point.
func (v View) HostLocation(ip uint32) (awareness.HostLocation, bool) {
	return v.aw.GetHostLocation(ip)
}

// FreeBwKbps returns the last-known free bandwidth for (dpid, port).
func (v View) FreeBwKbps(dpid uint64, port uint32) (int, bool) {
	return v.paths.FreeBwKbps(dpid, port)
}
