// Package config holds Sieve's compiled-in fabric settings and the
// optional TOML overlay loaded at startup.
package config

import (
	"fmt"
	"time"

	"github.com/pelletier/go-toml"
)

// Tier classes a datapath by its DPID prefix, per spec §3.
type Tier int

// Tier values, ordered core/aggregate/edge as the fabric is traversed
// top-down.
const (
	TierUnknown Tier = iota
	TierCore
	TierAggregate
	TierEdge
)

func (t Tier) String() string {
	switch t {
	case TierCore:
		return "core"
	case TierAggregate:
		return "aggregate"
	case TierEdge:
		return "edge"
	default:
		return "unknown"
	}
}

// Config is Sieve's static settings module (spec §6: "compiled-in or
// loaded from a simple static settings module").
type Config struct {
	// K is the fat-tree parameter (spec uses k=4 throughout).
	K int

	// MonitorPeriodDefault, MonitorPeriodMin and MonitorPeriodMax bound the
	// adaptive stats-polling period T (spec §4.2, range [1s,10s]).
	MonitorPeriodDefault time.Duration
	MonitorPeriodMin     time.Duration
	MonitorPeriodMax     time.Duration

	// CongestionThresholdKbps is the hot-port free-bandwidth threshold
	// (spec §4.2.3: 15000 Kb/s).
	CongestionThresholdKbps int

	// RerouteMarginKbps is the minimum bottleneck-bandwidth improvement an
	// alternate path must offer over the hot port (spec §4.2.5: 500 Kb/s).
	RerouteMarginKbps int

	// RerouteGateLoad is the minimum current load ratio required before any
	// reroute is attempted (spec §4.2.4 / §9: fixed at 0.45).
	RerouteGateLoad float64

	// ElephantMinBytes is the byte_count an installed entry must exceed to
	// be considered a reroute candidate (spec §4.2.4: 50 bytes).
	ElephantMinBytes uint64

	// DetourHardTimeoutSeconds is the hard timeout on an installed detour
	// (spec §4.2.6: 6s).
	DetourHardTimeoutSeconds uint16

	// ForwarderIdleTimeoutSeconds and ForwarderPriority are the baseline
	// forwarding entry's idle timeout and priority (spec §4.3: 10s, 30).
	ForwarderIdleTimeoutSeconds uint16
	ForwarderPriority           uint16

	// ReservedPriorities are priorities a reroute candidate must not have:
	// table-miss, proactive ECMP, and host-local select-group rules
	// (spec §6).
	ReservedPriorities map[uint16]struct{}

	// EdgeUplinkPorts lists the port numbers on an edge switch that face
	// aggregate switches (spec §6: ports {1,2}).
	EdgeUplinkPorts []uint32

	// KShortestPaths is K in the spec's k-shortest-path cache: k²·3/4.
	KShortestPaths int

	// DPID ranges, inclusive at both ends, classing a switch by prefix
	// (spec §6: edge [3001..3008], aggregate [2001..2008], core [1001..1004]).
	CoreDPIDMin, CoreDPIDMax           uint64
	AggregateDPIDMin, AggregateDPIDMax uint64
	EdgeDPIDMin, EdgeDPIDMax           uint64

	// portCapacityKbps is the per-tier, per-port capacity table (spec §3's
	// capacity_kbps constant, keyed the way network_monitor.py's
	// port_capacity dict is).
	portCapacityKbps map[Tier]map[uint32]int
	// defaultCapacityKbps is used when a (tier, port) pair has no explicit
	// entry.
	defaultCapacityKbps map[Tier]int
}

// Default returns Sieve's compiled-in configuration for a k=4 fat-tree.
func Default() *Config {
	k := 4
	return &Config{
		K:                           k,
		MonitorPeriodDefault:        2 * time.Second,
		MonitorPeriodMin:            1 * time.Second,
		MonitorPeriodMax:            10 * time.Second,
		CongestionThresholdKbps:     15000,
		RerouteMarginKbps:           500,
		RerouteGateLoad:             0.45,
		ElephantMinBytes:            50,
		DetourHardTimeoutSeconds:    6,
		ForwarderIdleTimeoutSeconds: 10,
		ForwarderPriority:           30,
		ReservedPriorities: map[uint16]struct{}{
			0:     {},
			10:    {},
			1000:  {},
			65535: {},
		},
		EdgeUplinkPorts:  []uint32{1, 2},
		KShortestPaths:   k * k * 3 / 4,
		CoreDPIDMin:      1001,
		CoreDPIDMax:      1004,
		AggregateDPIDMin: 2001,
		AggregateDPIDMax: 2008,
		EdgeDPIDMin:      3001,
		EdgeDPIDMax:      3008,
		portCapacityKbps: map[Tier]map[uint32]int{
			TierEdge:      {1: 20000, 2: 20000, 3: 10000, 4: 10000},
			TierAggregate: {1: 20000, 2: 20000, 3: 20000, 4: 20000},
		},
		defaultCapacityKbps: map[Tier]int{
			TierEdge:      20000,
			TierAggregate: 20000,
			TierCore:      40000,
		},
	}
}

// LoadFile overlays settings parsed from a TOML file onto the defaults.
// Only fields present in the file are overridden.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	tree, err := toml.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: load %s: %w", path, err)
	}

	if v, ok := tree.Get("monitor_period_default_seconds").(int64); ok {
		cfg.MonitorPeriodDefault = time.Duration(v) * time.Second
	}
	if v, ok := tree.Get("congestion_threshold_kbps").(int64); ok {
		cfg.CongestionThresholdKbps = int(v)
	}
	if v, ok := tree.Get("reroute_margin_kbps").(int64); ok {
		cfg.RerouteMarginKbps = int(v)
	}
	if v, ok := tree.Get("reroute_gate_load").(float64); ok {
		cfg.RerouteGateLoad = v
	}

	return cfg, nil
}

// TierOf classes a DPID into core/aggregate/edge/unknown by prefix (spec §3).
func (c *Config) TierOf(dpid uint64) Tier {
	switch {
	case dpid >= c.CoreDPIDMin && dpid <= c.CoreDPIDMax:
		return TierCore
	case dpid >= c.AggregateDPIDMin && dpid <= c.AggregateDPIDMax:
		return TierAggregate
	case dpid >= c.EdgeDPIDMin && dpid <= c.EdgeDPIDMax:
		return TierEdge
	default:
		return TierUnknown
	}
}

// PortCapacityKbps resolves the compiled-in link capacity for a given tier
// and port number (spec §3's capacity_kbps). The bool result is false when
// the tier is unrecognized entirely (spec §7: "Capacity lookup miss on
// unknown port tier").
func (c *Config) PortCapacityKbps(tier Tier, port uint32) (int, bool) {
	if perPort, ok := c.portCapacityKbps[tier]; ok {
		if cap, ok := perPort[port]; ok {
			return cap, true
		}
	}
	if def, ok := c.defaultCapacityKbps[tier]; ok {
		return def, true
	}
	return 0, false
}

// IsEdgeUplink reports whether port is one of the edge-tier uplink ports
// (spec §4.2.3: dpid ∈ edge tier, port_no ∈ {1,2}).
func (c *Config) IsEdgeUplink(dpid uint64, port uint32) bool {
	if c.TierOf(dpid) != TierEdge {
		return false
	}
	for _, p := range c.EdgeUplinkPorts {
		if p == port {
			return true
		}
	}
	return false
}

// IsReservedPriority reports whether priority is one of the baseline
// table-miss/proactive/group priorities a reroute candidate must exclude
// (spec §4.2.4).
func (c *Config) IsReservedPriority(priority uint16) bool {
	_, ok := c.ReservedPriorities[priority]
	return ok
}
