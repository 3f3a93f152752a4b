package awareness

import (
	"github.com/katalvlaran/lvlath/core"
)

// topoGraph wraps an lvlath core.Graph as the topological view from spec §3
// ("nodes = switch DPIDs; edges = discovered links"). It is directed,
// mirroring the directed (src_dpid, dst_dpid) link_to_port keys, and
// unweighted: ranking among paths is by hop count (spec §4.1's "ranked by
// hop count"), so every edge carries weight 1.
type topoGraph struct {
	g *core.Graph
}

func newTopoGraph() *topoGraph {
	return &topoGraph{g: core.NewGraph(core.WithDirected(true))}
}

func (t *topoGraph) addSwitch(dpid uint64) {
	_ = t.g.AddVertex(vertexID(dpid))
}

func (t *topoGraph) removeSwitch(dpid uint64) {
	_ = t.g.RemoveVertex(vertexID(dpid))
}

func (t *topoGraph) addLink(src, dst uint64) {
	t.addSwitch(src)
	t.addSwitch(dst)
	if _, err := t.g.EdgeBetween(vertexID(src), vertexID(dst)); err == nil {
		return
	}
	_, _ = t.g.AddEdge(vertexID(src), vertexID(dst), 1)
}

func (t *topoGraph) removeLink(src, dst uint64) {
	if e, err := t.g.EdgeBetween(vertexID(src), vertexID(dst)); err == nil && e != nil {
		_ = t.g.RemoveEdge(e.ID)
	}
}

// neighbors returns the DPIDs directly reachable from dpid over a known
// link, in lexicographic order — the spec's tie-break rule for path
// ranking falls out naturally if every traversal considers neighbors in
// sorted order (spec §4.1: "Ties are broken by lexicographic order of DPID
// sequence").
func (t *topoGraph) neighbors(dpid uint64) []string {
	ids, err := t.g.NeighborIDs(vertexID(dpid))
	if err != nil {
		return nil
	}
	return ids
}
