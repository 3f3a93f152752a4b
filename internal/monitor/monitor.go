package monitor

import (
	"context"
	"math"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/sieve-sdn/sieve/internal/awareness"
	"github.com/sieve-sdn/sieve/internal/config"
	"github.com/sieve-sdn/sieve/internal/ofp13"
)

// Sender is the outbound half of the OpenFlow channel Monitor needs: one
// per-datapath stats request trio plus flow-mod installation. internal/ofconn
// implements this against the live TCP sessions (spec §9: "explicit
// constructor wiring... the event loop owns all three components and
// injects references once").
type Sender interface {
	SendPortDescRequest(dpid uint64) error
	SendPortStatsRequest(dpid uint64) error
	SendFlowStatsRequest(dpid uint64) error
	SendFlowMod(dpid uint64, fm ofp13.FlowMod) error
}

// Monitor runs the two periodic stats-collection and bandwidth-graph-refresh
// tasks and the reactive reroute pipeline (spec §4.2).
type Monitor struct {
	cfg    *config.Config
	aw     *awareness.Awareness
	sender Sender

	// mu serializes all shared-state mutation, the multi-threaded mapping of
	// the cooperative single-writer model described in spec §9.
	mu        sync.Mutex
	rings     map[portKey]*portRing
	metrics   map[portKey]portMetrics
	swOutInf  map[uint64]uint32
	hotStates map[uint64]hotState
	failCount int

	graph     *bandwidthGraph
	bestPaths map[[2]uint64][]uint64

	periodNanos int64 // atomic, time.Duration stored as int64
}

// New builds a Monitor bound to aw and sender, with the default adaptive
// period (spec §4.2: "default 2 s").
func New(cfg *config.Config, aw *awareness.Awareness, sender Sender) *Monitor {
	m := &Monitor{
		cfg:       cfg,
		aw:        aw,
		sender:    sender,
		rings:     make(map[portKey]*portRing),
		metrics:   make(map[portKey]portMetrics),
		swOutInf:  make(map[uint64]uint32),
		hotStates: make(map[uint64]hotState),
		graph:     newBandwidthGraph(),
		bestPaths: make(map[[2]uint64][]uint64),
	}
	m.setPeriod(cfg.MonitorPeriodDefault)
	return m
}

func (m *Monitor) period() time.Duration {
	return time.Duration(atomic.LoadInt64(&m.periodNanos))
}

func (m *Monitor) setPeriod(d time.Duration) {
	if d < m.cfg.MonitorPeriodMin {
		d = m.cfg.MonitorPeriodMin
	}
	if d > m.cfg.MonitorPeriodMax {
		d = m.cfg.MonitorPeriodMax
	}
	atomic.StoreInt64(&m.periodNanos, int64(d))
	adaptivePeriodSeconds.Set(d.Seconds())
}

// Run starts the stats-collection and bandwidth-graph-refresh loops and
// blocks until ctx is cancelled (spec §4.2: "Monitor drives two independent
// periodic tasks at a shared adaptive period").
func (m *Monitor) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		m.statsLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		m.bandwidthGraphLoop(ctx)
	}()
	wg.Wait()
}

// statsLoop is the periodic stats-collection task (spec §4.2.1).
func (m *Monitor) statsLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(m.period()):
		}
		m.statsTick()
	}
}

// statsTick runs one pass of the stats-collection loop (spec §4.2.1): it
// clears the best-path memo, sends a port-desc and a port-stats request to
// every known datapath, and recomputes the adaptive period. The port-stats
// rings and derived port metrics are kept across ticks.
func (m *Monitor) statsTick() {
	m.mu.Lock()
	m.bestPaths = make(map[[2]uint64][]uint64)
	m.mu.Unlock()

	for _, dpid := range m.aw.Switches() {
		if err := m.sender.SendPortDescRequest(dpid); err != nil {
			log.WithError(err).WithField("dpid", dpid).Warn("monitor: port-desc request failed")
		}
		if err := m.sender.SendPortStatsRequest(dpid); err != nil {
			log.WithError(err).WithField("dpid", dpid).Warn("monitor: port-stats request failed")
		}
	}

	m.recomputeAdaptivePeriod()
}

// bandwidthGraphLoop is the periodic bandwidth-graph-refresh task (spec
// §4.2.2).
func (m *Monitor) bandwidthGraphLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(m.period()):
		}
		m.refreshBandwidthGraph()
	}
}

// refreshBandwidthGraph rebuilds the bandwidth-decorated graph from the
// current free-bandwidth table (spec §4.2.2: "setting edge weight to
// min(free_bw[src_dpid][src_port], free_bw[dst_dpid][dst_port])... Unknown
// endpoints default to 0").
func (m *Monitor) refreshBandwidthGraph() {
	links := m.aw.Links()
	next := newBandwidthGraph()

	m.mu.Lock()
	for ep, pp := range links {
		srcFree := m.freeBwLocked(ep.Src, pp.SrcPort)
		dstFree := m.freeBwLocked(ep.Dst, pp.DstPort)
		bw := srcFree
		if dstFree < bw {
			bw = dstFree
		}
		next.edges[ep] = bandwidthEdge{BandwidthKbps: bw}
	}
	m.graph = next
	m.mu.Unlock()
}

// freeBwLocked returns the last-known free bandwidth for (dpid,port), or 0
// if unknown. Caller holds m.mu.
func (m *Monitor) freeBwLocked(dpid uint64, port uint32) int {
	pm, ok := m.metrics[portKey{dpid, port}]
	if !ok {
		return 0
	}
	return pm.FreeBwKbps
}

// HandlePortDescReply records advertised port speeds for dpid (spec §3:
// "each port has... an advertised link speed").
func (m *Monitor) HandlePortDescReply(dpid uint64, descs []ofp13.PortDesc) {
	ports := make([]awareness.Port, 0, len(descs))
	for _, d := range descs {
		ports = append(ports, awareness.Port{PortNo: d.PortNo, State: d.State, CurrSpeedKbps: d.CurrSpeed})
	}
	m.aw.UpdatePorts(dpid, ports)
}

// HandlePortStatsReply processes one port-stats reply (spec §4.2.3): append
// to the ring, derive speed/free-bw/load, and trigger the hot-port reroute
// check on edge uplinks.
func (m *Monitor) HandlePortStatsReply(dpid uint64, entries []ofp13.PortStatsEntry) {
	tier := m.aw.SwitchTier(dpid)

	for _, e := range entries {
		key := portKey{dpid, e.PortNo}
		capKbps, haveCap := m.cfg.PortCapacityKbps(tier, e.PortNo)
		if !haveCap {
			log.WithFields(log.Fields{"dpid": dpid, "port": e.PortNo}).
				Warn("monitor: capacity lookup miss on unknown port tier")
		}

		m.mu.Lock()
		ring, ok := m.rings[key]
		if !ok {
			ring = &portRing{}
			m.rings[key] = ring
		}
		sample := portSample{
			TxBytes: e.TxBytes, RxBytes: e.RxBytes, RxErrors: e.RxErrors,
			DurationSec: e.DurationSec, DurNSec: e.DurationNSec,
		}
		ring.push(sample)

		if haveCap {
			pm := derivePortMetrics(ring, capKbps)
			m.metrics[key] = pm
			edgeUplinkLoadRatio.WithLabelValues(dpidLabel(dpid), portLabel(e.PortNo)).Set(pm.LoadRatio)
		}
		isUplink := m.cfg.IsEdgeUplink(dpid, e.PortNo)
		var becameHot bool
		if haveCap && isUplink {
			pm := m.metrics[key]
			if pm.FreeBwKbps < m.cfg.CongestionThresholdKbps {
				m.swOutInf[dpid] = e.PortNo
				if m.hotStates[dpid] != stateRerouting {
					m.hotStates[dpid] = stateHot
				}
				becameHot = true
			} else if m.hotStates[dpid] == stateHot {
				m.hotStates[dpid] = stateIdle
			}
		}
		m.mu.Unlock()

		if becameHot {
			if err := m.sender.SendFlowStatsRequest(dpid); err != nil {
				log.WithError(err).WithField("dpid", dpid).Warn("monitor: flow-stats request failed")
			}
		}
	}
}

// derivePortMetrics computes speed_bps/free_bw_kbps/load_ratio from the last
// two ring samples (spec §3: "Derived port metrics"). A zero-duration delta
// (spec §7: "Divide-by-zero on zero-period speed calculation") yields
// speed 0.
func derivePortMetrics(ring *portRing, capacityKbps int) portMetrics {
	now, ok := ring.last()
	if !ok {
		return portMetrics{CapacityKbps: capacityKbps, FreeBwKbps: capacityKbps}
	}
	prev, ok := ring.prev()
	if !ok {
		return portMetrics{CapacityKbps: capacityKbps, FreeBwKbps: capacityKbps}
	}

	durNow := float64(now.DurationSec) + float64(now.DurNSec)/1e9
	durPrev := float64(prev.DurationSec) + float64(prev.DurNSec)/1e9
	deltaT := durNow - durPrev

	var speedBps float64
	if deltaT > 0 && now.TxBytes >= prev.TxBytes {
		speedBps = float64(now.TxBytes-prev.TxBytes) / deltaT
	}

	freeBwKbps := int(math.Max(float64(capacityKbps)-speedBps*8/1000, 0))
	loadRatio := 0.0
	if capacityKbps > 0 {
		loadRatio = 1 - float64(freeBwKbps)/float64(capacityKbps)
	}
	return portMetrics{SpeedBps: speedBps, FreeBwKbps: freeBwKbps, LoadRatio: loadRatio, CapacityKbps: capacityKbps}
}

// recomputeAdaptivePeriod implements spec §4.2.3's adaptive period: "After
// every full pass across edge uplinks, compute the mean load L across the 16
// edge uplink ports. If L < 0.25, set T = 10^((0.25−L)/0.25)... Otherwise set
// T = 2s."
func (m *Monitor) recomputeAdaptivePeriod() {
	edgeDPIDs := make([]uint64, 0)
	for _, dpid := range m.aw.Switches() {
		if m.cfg.TierOf(dpid) == config.TierEdge {
			edgeDPIDs = append(edgeDPIDs, dpid)
		}
	}

	m.mu.Lock()
	var sum float64
	var n int
	for _, dpid := range edgeDPIDs {
		for _, port := range m.cfg.EdgeUplinkPorts {
			if pm, ok := m.metrics[portKey{dpid, port}]; ok {
				sum += pm.LoadRatio
				n++
			}
		}
	}
	m.mu.Unlock()

	if n == 0 {
		return
	}
	l := sum / float64(n)
	var t time.Duration
	if l < 0.25 {
		t = time.Duration(math.Pow(10, (0.25-l)/0.25) * float64(time.Second))
	} else {
		t = m.cfg.MonitorPeriodDefault
	}
	m.setPeriod(t)
}

// BandwidthGraph returns the current bandwidth-decorated graph.
func (m *Monitor) BandwidthGraph() *bandwidthGraph {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.graph
}

// FreeBwKbps returns the last-known free bandwidth for (dpid,port).
func (m *Monitor) FreeBwKbps(dpid uint64, port uint32) (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pm, ok := m.metrics[portKey{dpid, port}]
	return pm.FreeBwKbps, ok
}

func dpidLabel(dpid uint64) string {
	return strconv.FormatUint(dpid, 10)
}

func portLabel(port uint32) string {
	return strconv.FormatUint(uint64(port), 10)
}
