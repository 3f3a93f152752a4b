// Package monitor polls datapaths for port and flow statistics, estimates
// per-port load, detects congestion on edge uplinks, and reschedules
// elephant flows onto less-loaded paths (spec §4.2).
package monitor

import (
	"github.com/sieve-sdn/sieve/internal/awareness"
)

// ringCapacity is the bounded sample history per (dpid, port) (spec §3:
// "A bounded ring of the last 5 samples is retained per (dpid, port_no)").
const ringCapacity = 5

// portSample is one decoded port-stats reply (spec §3: "Port-stats sample").
type portSample struct {
	TxBytes     uint64
	RxBytes     uint64
	RxErrors    uint64
	DurationSec uint32
	DurNSec     uint32
}

// portRing is the bounded FIFO of the last ringCapacity portSamples for one
// (dpid, port_no).
type portRing struct {
	samples []portSample
}

func (r *portRing) push(s portSample) {
	r.samples = append(r.samples, s)
	if len(r.samples) > ringCapacity {
		r.samples = r.samples[len(r.samples)-ringCapacity:]
	}
}

func (r *portRing) last() (portSample, bool) {
	if len(r.samples) == 0 {
		return portSample{}, false
	}
	return r.samples[len(r.samples)-1], true
}

func (r *portRing) prev() (portSample, bool) {
	if len(r.samples) < 2 {
		return portSample{}, false
	}
	return r.samples[len(r.samples)-2], true
}

// portMetrics are the derived per-port quantities Monitor keeps around for
// load-ratio and free-bandwidth lookups (spec §3: "Derived port metrics").
type portMetrics struct {
	SpeedBps    float64
	FreeBwKbps  int
	LoadRatio   float64
	CapacityKbps int
}

// portKey identifies a single port on a single datapath.
type portKey struct {
	DPID uint64
	Port uint32
}

// hotState is the congestion state machine of spec §4.2.7, tracked per edge
// switch (Monitor.hotStates is keyed by DPID).
type hotState int

const (
	stateIdle hotState = iota
	stateHot
	stateRerouting
)

// bandwidthEdge is one edge of the bandwidth-decorated graph (spec §3:
// "Bandwidth view: ... a bandwidth attribute per edge equal to
// min(free_bw(src_port), free_bw(dst_port))").
type bandwidthEdge struct {
	BandwidthKbps int
}

// bandwidthGraph is Monitor's published view of link residual bandwidth,
// rebuilt once per tick and consumed read-only by Forwarder via the fabric
// view (spec §9: "a central read-only fabric view... handed to the
// forwarder by value").
type bandwidthGraph struct {
	edges map[awareness.LinkEndpoints]bandwidthEdge
}

func newBandwidthGraph() *bandwidthGraph {
	return &bandwidthGraph{edges: make(map[awareness.LinkEndpoints]bandwidthEdge)}
}

// Bottleneck returns the minimum edge bandwidth along path, or false if any
// hop is not a known link (spec §4.2.5: "bottleneck bandwidth = minimum of
// edge bandwidth attributes along the path").
func (g *bandwidthGraph) Bottleneck(path []uint64) (int, bool) {
	if len(path) < 2 {
		return awareness.SentinelInfiniteKbps, true
	}
	best := -1
	for i := 0; i < len(path)-1; i++ {
		e, ok := g.edges[awareness.LinkEndpoints{Src: path[i], Dst: path[i+1]}]
		if !ok {
			return 0, false
		}
		if best == -1 || e.BandwidthKbps < best {
			best = e.BandwidthKbps
		}
	}
	return best, true
}
