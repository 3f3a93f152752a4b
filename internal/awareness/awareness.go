package awareness

import (
	"sync"

	gocache "github.com/patrickmn/go-cache"
	log "github.com/sirupsen/logrus"

	"github.com/sieve-sdn/sieve/internal/config"
)

// Awareness is the control plane's topological model: the switch graph,
// host-location table, link-to-port map, and k-shortest-path cache (spec
// §4.1). It exclusively owns switch and link records (spec §3: "Switch and
// link records are created on topology-event arrival... Awareness
// exclusively owns them").
type Awareness struct {
	cfg *config.Config

	mu          sync.RWMutex
	switches    map[uint64]*Switch
	linkToPort  map[LinkEndpoints]PortPair
	accessPorts map[uint64]map[uint32]bool

	hostMu        sync.RWMutex
	hostLocation  map[uint32]HostLocation
	accessTable   map[AccessPortKey]HostInfo

	graph     *topoGraph
	pathCache *gocache.Cache
}

// New builds an empty Awareness instance.
func New(cfg *config.Config) *Awareness {
	return &Awareness{
		cfg:          cfg,
		switches:     make(map[uint64]*Switch),
		linkToPort:   make(map[LinkEndpoints]PortPair),
		accessPorts:  make(map[uint64]map[uint32]bool),
		hostLocation: make(map[uint32]HostLocation),
		accessTable:  make(map[AccessPortKey]HostInfo),
		graph:        newTopoGraph(),
		pathCache:    gocache.New(gocache.NoExpiration, gocache.NoExpiration),
	}
}

// OnSwitchEnter registers a newly connected datapath (spec §4.1: "On
// switch-enter... add a node; invalidate cached paths touching it").
func (a *Awareness) OnSwitchEnter(dpid uint64) {
	a.mu.Lock()
	if _, exists := a.switches[dpid]; !exists {
		a.switches[dpid] = &Switch{
			DPID:  dpid,
			Tier:  a.cfg.TierOf(dpid),
			Ports: make(map[uint32]*Port),
		}
		a.graph.addSwitch(dpid)
	}
	a.mu.Unlock()
	a.invalidatePaths()
	log.WithField("dpid", dpid).Debug("awareness: switch entered")
}

// OnSwitchLeave removes a disconnected datapath and every link touching it
// (spec §4.1: "On switch-leave: ... remove a node").
func (a *Awareness) OnSwitchLeave(dpid uint64) {
	a.mu.Lock()
	delete(a.switches, dpid)
	delete(a.accessPorts, dpid)
	for ep := range a.linkToPort {
		if ep.Src == dpid || ep.Dst == dpid {
			delete(a.linkToPort, ep)
		}
	}
	a.graph.removeSwitch(dpid)
	a.mu.Unlock()
	a.invalidatePaths()
	log.WithField("dpid", dpid).Debug("awareness: switch left")
}

// UpdatePorts refreshes the known ports for dpid from a port-desc reply.
func (a *Awareness) UpdatePorts(dpid uint64, ports []Port) {
	a.mu.Lock()
	defer a.mu.Unlock()
	sw, ok := a.switches[dpid]
	if !ok {
		return
	}
	for _, p := range ports {
		pp := p
		sw.Ports[p.PortNo] = &pp
	}
}

// OnLinkAdd records a discovered inter-switch link (spec §4.1: "On
// link-add... update the link table, update access_ports[dpid], update the
// graph, mark path cache dirty").
func (a *Awareness) OnLinkAdd(src, dst uint64, srcPort, dstPort uint32) {
	a.mu.Lock()
	a.linkToPort[LinkEndpoints{src, dst}] = PortPair{srcPort, dstPort}
	a.clearAccessPort(src, srcPort)
	a.graph.addLink(src, dst)
	a.mu.Unlock()
	a.invalidatePaths()
	log.WithFields(log.Fields{"src": src, "dst": dst, "src_port": srcPort, "dst_port": dstPort}).
		Debug("awareness: link discovered")
}

// OnLinkDelete removes a link record (spec §4.1: "On link-delete").
func (a *Awareness) OnLinkDelete(src, dst uint64) {
	a.mu.Lock()
	delete(a.linkToPort, LinkEndpoints{src, dst})
	a.graph.removeLink(src, dst)
	a.mu.Unlock()
	a.invalidatePaths()
	log.WithFields(log.Fields{"src": src, "dst": dst}).Debug("awareness: link removed")
}

// clearAccessPort removes port from dpid's access-port set once it is known
// to be an inter-switch link, not a host-facing port. Caller holds a.mu.
func (a *Awareness) clearAccessPort(dpid uint64, port uint32) {
	if ports, ok := a.accessPorts[dpid]; ok {
		delete(ports, port)
	}
}

// NoteAccessPort marks (dpid, port) as host-facing until proven otherwise
// by a link discovery (spec §4.1's access_ports[dpid]).
func (a *Awareness) NoteAccessPort(dpid uint64, port uint32) {
	a.mu.Lock()
	defer a.mu.Unlock()
	ports, ok := a.accessPorts[dpid]
	if !ok {
		ports = make(map[uint32]bool)
		a.accessPorts[dpid] = ports
	}
	ports[port] = true
}

// OnHostSeen records a host's location, triggered by ARP or IPv4 packet-in
// from an access port (spec §4.1: "On host-seen... record
// host_location[ip] = (dpid, port); access_table[(dpid, port)] = (ip, mac)").
// The invariant that each host has at most one location (spec §3) holds
// because this assignment simply overwrites any prior entry.
func (a *Awareness) OnHostSeen(ip uint32, mac [6]byte, dpid uint64, port uint32) {
	a.hostMu.Lock()
	defer a.hostMu.Unlock()
	a.hostLocation[ip] = HostLocation{DPID: dpid, Port: port}
	a.accessTable[AccessPortKey{DPID: dpid, Port: port}] = HostInfo{IP: ip, MAC: mac}
}

// GetHostLocation returns the last known (dpid, port) for ip, if any (spec
// §4.1: "get_host_location(ip) -> (dpid, port) | none").
func (a *Awareness) GetHostLocation(ip uint32) (HostLocation, bool) {
	a.hostMu.RLock()
	defer a.hostMu.RUnlock()
	loc, ok := a.hostLocation[ip]
	return loc, ok
}

// IsLearnedAccessPort reports whether (dpid, port) already has a host bound
// to it (spec §4.3: "any access port already bound in access_table is
// excluded" from flood).
func (a *Awareness) IsLearnedAccessPort(dpid uint64, port uint32) bool {
	a.hostMu.RLock()
	defer a.hostMu.RUnlock()
	_, ok := a.accessTable[AccessPortKey{DPID: dpid, Port: port}]
	return ok
}

// UnlearnedAccessPorts returns every (dpid, port) access port, across every
// known datapath, that has no host bound to it yet — the flood set for ARP
// requests to an unknown destination (spec §4.3, §8 scenario S5).
func (a *Awareness) UnlearnedAccessPorts() map[uint64][]uint32 {
	a.mu.RLock()
	snapshot := make(map[uint64][]uint32, len(a.accessPorts))
	for dpid, ports := range a.accessPorts {
		for port := range ports {
			snapshot[dpid] = append(snapshot[dpid], port)
		}
	}
	a.mu.RUnlock()

	a.hostMu.RLock()
	defer a.hostMu.RUnlock()
	out := make(map[uint64][]uint32, len(snapshot))
	for dpid, ports := range snapshot {
		for _, port := range ports {
			if _, learned := a.accessTable[AccessPortKey{DPID: dpid, Port: port}]; !learned {
				out[dpid] = append(out[dpid], port)
			}
		}
	}
	return out
}

// LinkPorts returns the (src_port, dst_port) pair for a known directed link,
// the helper the original's get_port_pair_from_link exposes to Forwarder
// and Monitor (spec §4.3).
func (a *Awareness) LinkPorts(src, dst uint64) (PortPair, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	pp, ok := a.linkToPort[LinkEndpoints{src, dst}]
	return pp, ok
}

// Links returns a snapshot of every known directed link and its ports, for
// Monitor's bandwidth-graph refresh (spec §4.2.2).
func (a *Awareness) Links() map[LinkEndpoints]PortPair {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make(map[LinkEndpoints]PortPair, len(a.linkToPort))
	for k, v := range a.linkToPort {
		out[k] = v
	}
	return out
}

// Switches returns a snapshot of every known datapath.
func (a *Awareness) Switches() []uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]uint64, 0, len(a.switches))
	for dpid := range a.switches {
		out = append(out, dpid)
	}
	return out
}

// SwitchPorts returns the known physical port numbers for dpid, for LLDP
// emission during link discovery.
func (a *Awareness) SwitchPorts(dpid uint64) []uint32 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	sw, ok := a.switches[dpid]
	if !ok {
		return nil
	}
	out := make([]uint32, 0, len(sw.Ports))
	for port := range sw.Ports {
		out = append(out, port)
	}
	return out
}

// SwitchTier returns the tier of dpid, or config.TierUnknown if never seen.
func (a *Awareness) SwitchTier(dpid uint64) config.Tier {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if sw, ok := a.switches[dpid]; ok {
		return sw.Tier
	}
	return a.cfg.TierOf(dpid)
}
