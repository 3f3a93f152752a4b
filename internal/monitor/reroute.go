package monitor

import (
	"math"
	"sort"

	log "github.com/sirupsen/logrus"

	"github.com/sieve-sdn/sieve/internal/awareness"
	"github.com/sieve-sdn/sieve/internal/config"
	"github.com/sieve-sdn/sieve/internal/ofp13"
)

// rerouteCandidate is one flow-stats entry eligible for rescheduling (spec
// §4.2.4).
type rerouteCandidate struct {
	Priority uint16
	IPv4Src  uint32
	IPv4Dst  uint32
	Entry    ofp13.FlowStatsEntry
}

// HandleFlowStatsReply runs the reactive reroute decision for dpid's flow
// table against its currently hot outgoing interface (spec §4.2.4).
func (m *Monitor) HandleFlowStatsReply(dpid uint64, entries []ofp13.FlowStatsEntry) {
	flowStatsProcessed.Inc()

	m.mu.Lock()
	hotPort, isHot := m.swOutInf[dpid]
	freeBw, haveFreeBw := m.metrics[portKey{dpid, hotPort}]
	tier := m.aw.SwitchTier(dpid)
	capKbps, haveCap := m.cfg.PortCapacityKbps(tier, hotPort)
	m.mu.Unlock()

	if !isHot || !haveFreeBw || !haveCap {
		return
	}

	candidates := selectCandidates(entries, hotPort, m.cfg)
	n := len(candidates)
	if n == 0 {
		return
	}

	lCurr := math.Round((1-float64(freeBw.FreeBwKbps)/float64(capKbps))*10) / 10

	nMove := 0
	switch {
	case lCurr == 1.0:
		nMove = n / 2
	case n == 1:
		nMove = 1
	default:
		nMove = int(float64(n) * lCurr)
	}

	if nMove <= 0 || lCurr < m.cfg.RerouteGateLoad {
		return
	}

	m.mu.Lock()
	m.hotStates[dpid] = stateRerouting
	graph := m.graph
	m.mu.Unlock()

	for i := 0; i < nMove && i < len(candidates); i++ {
		m.rerouteOne(dpid, hotPort, freeBw.FreeBwKbps, candidates[i], graph)
	}
}

// selectCandidates filters and sorts flow entries per spec §4.2.4:
// "installed by the forwarder... egress on sw_out_inf[dpid]... more than 50
// bytes... TCP... Sort candidates deterministically by
// (priority, ipv4_src, ipv4_dst)".
func selectCandidates(entries []ofp13.FlowStatsEntry, hotPort uint32, cfg *config.Config) []rerouteCandidate {
	var out []rerouteCandidate
	for _, e := range entries {
		if cfg.IsReservedPriority(e.Priority) {
			continue
		}
		if e.OutPort != hotPort {
			continue
		}
		if e.ByteCount <= cfg.ElephantMinBytes {
			continue
		}
		if !e.Match.HasL4 || e.Match.IPProto != ofp13.IPProtoTCP {
			continue
		}
		out = append(out, rerouteCandidate{
			Priority: e.Priority,
			IPv4Src:  e.Match.IPv4Src,
			IPv4Dst:  e.Match.IPv4Dst,
			Entry:    e,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		if out[i].IPv4Src != out[j].IPv4Src {
			return out[i].IPv4Src < out[j].IPv4Src
		}
		return out[i].IPv4Dst < out[j].IPv4Dst
	})
	return out
}

// rerouteOne selects an alternate path for one candidate and, if admissible,
// installs a detour along it (spec §4.2.4, §4.2.5, §4.2.6).
func (m *Monitor) rerouteOne(srcDPID uint64, hotPort uint32, hotFreeBw int, cand rerouteCandidate, graph *bandwidthGraph) {
	dstLoc, ok := m.aw.GetHostLocation(cand.IPv4Dst)
	if !ok {
		m.recordFailure()
		return
	}

	paths := m.aw.ShortestPaths(srcDPID, dstLoc.DPID)
	path, ok := selectPathByBandwidth(paths, srcDPID, hotPort, hotFreeBw, m.cfg.RerouteMarginKbps, m.aw, graph)
	if !ok {
		m.recordFailure()
		log.WithFields(log.Fields{
			"dpid": srcDPID, "ipv4_src": cand.IPv4Src, "ipv4_dst": cand.IPv4Dst,
		}).Info("monitor: no admissible detour path, leaving original path intact")
		return
	}

	m.installDetour(path, cand)
}

func (m *Monitor) recordFailure() {
	m.mu.Lock()
	m.failCount++
	m.mu.Unlock()
	rerouteFailures.Inc()
}

// selectPathByBandwidth implements spec §4.2.5: "Discard any whose first hop
// egresses through the excluded port... Return the path with maximum
// bottleneck bandwidth, provided bottleneck − hot_port_speed ≥ 500 Kb/s...
// Ties... broken by lexicographic order on the DPID sequence."
func selectPathByBandwidth(paths [][]uint64, srcDPID uint64, excludedPort uint32, hotFreeBw, marginKbps int, aw *awareness.Awareness, graph *bandwidthGraph) ([]uint64, bool) {
	type scored struct {
		path       []uint64
		bottleneck int
	}
	var candidates []scored
	for _, p := range paths {
		if len(p) < 2 || p[0] != srcDPID {
			continue
		}
		pp, ok := aw.LinkPorts(p[0], p[1])
		if !ok || pp.SrcPort == excludedPort {
			continue
		}
		bw, ok := graph.Bottleneck(p)
		if !ok {
			continue
		}
		candidates = append(candidates, scored{path: p, bottleneck: bw})
	}
	if len(candidates) == 0 {
		return nil, false
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].bottleneck != candidates[j].bottleneck {
			return candidates[i].bottleneck > candidates[j].bottleneck
		}
		return lexLessPath(candidates[i].path, candidates[j].path)
	})

	best := candidates[0]
	if best.bottleneck-hotFreeBw < marginKbps {
		return nil, false
	}
	return best.path, true
}

func lexLessPath(a, b []uint64) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}

// installDetour installs the detour flow-mod on every hop of path, ingress
// hop last (spec §4.2.6: "Install on intermediate hops first, then the
// ingress hop, to avoid packets reaching a hop whose rule has not yet
// landed").
func (m *Monitor) installDetour(path []uint64, cand rerouteCandidate) {
	priority := cand.Priority + 1
	match := ofp13.L4Match(cand.Entry.Match.EthType, cand.IPv4Src, cand.IPv4Dst,
		cand.Entry.Match.IPProto, cand.Entry.Match.L4Src, cand.Entry.Match.L4Dst)

	type hop struct {
		dpid    uint64
		inPort  uint32
		outPort uint32
	}
	var hops []hop
	for i := 0; i < len(path)-1; i++ {
		pp, ok := m.aw.LinkPorts(path[i], path[i+1])
		if !ok {
			continue
		}
		inPort := uint32(0)
		if i == 0 {
			inPort = cand.Entry.Match.InPort
		} else if prevPP, ok := m.aw.LinkPorts(path[i-1], path[i]); ok {
			inPort = prevPP.DstPort
		}
		hops = append(hops, hop{dpid: path[i], inPort: inPort, outPort: pp.SrcPort})
	}
	if n := len(path); n > 1 {
		if loc, ok := m.aw.GetHostLocation(cand.IPv4Dst); ok && loc.DPID == path[n-1] {
			if prevPP, ok := m.aw.LinkPorts(path[n-2], path[n-1]); ok {
				hops = append(hops, hop{dpid: path[n-1], inPort: prevPP.DstPort, outPort: loc.Port})
			}
		}
	}

	for i := len(hops) - 1; i >= 0; i-- {
		h := hops[i]
		fm := ofp13.FlowMod{
			Priority:    priority,
			HardTimeout: m.cfg.DetourHardTimeoutSeconds,
			Match:       match.WithInPort(h.inPort),
			OutputPort:  h.outPort,
		}
		if err := m.sender.SendFlowMod(h.dpid, fm); err != nil {
			log.WithError(err).WithField("dpid", h.dpid).Warn("monitor: detour flow-mod send failed")
			continue
		}
		detoursInstalled.Inc()
	}
}
