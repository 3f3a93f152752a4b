package forwarder

import (
	"encoding/binary"
	"sync/atomic"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	log "github.com/sirupsen/logrus"

	"github.com/sieve-sdn/sieve/internal/awareness"
	"github.com/sieve-sdn/sieve/internal/config"
	"github.com/sieve-sdn/sieve/internal/fabric"
	"github.com/sieve-sdn/sieve/internal/ofp13"
)

// Forwarder translates packet-in events into flow installations along the
// current best path (spec §4.3). Best-path and host-location lookups go
// through the latest fabric.View snapshot (spec §9's "central read-only
// fabric view built each monitor tick and handed to the forwarder by
// value"), rather than Forwarder holding its own references into Monitor;
// the live Awareness reference is kept only for the write-side host/port
// learning calls and static link-port lookups, neither of which the
// snapshot carries.
type Forwarder struct {
	cfg    *config.Config
	aw     *awareness.Awareness
	sender Sender

	view atomic.Value // fabric.View
}

// New builds a Forwarder wired to Awareness and the outbound OpenFlow
// channel. SetView must be called at least once (normally by the periodic
// fabric-snapshot loop) before any best-path lookup will succeed.
func New(cfg *config.Config, aw *awareness.Awareness, sender Sender) *Forwarder {
	return &Forwarder{cfg: cfg, aw: aw, sender: sender}
}

// SetView installs the latest fabric snapshot, replacing whatever view prior
// packet-ins were resolving paths against.
func (fwd *Forwarder) SetView(v fabric.View) {
	fwd.view.Store(v)
}

func (fwd *Forwarder) currentView() (fabric.View, bool) {
	v, ok := fwd.view.Load().(fabric.View)
	return v, ok
}

// HandlePacketIn dispatches one packet-in to the ARP or IPv4 handler (spec
// §4.3: "If ARP: call handle_arp... If IPv4: call handle_ipv4").
func (fwd *Forwarder) HandlePacketIn(dpid uint64, inPort, bufferID uint32, data []byte) {
	packet := gopacket.NewPacket(data, layers.LayerTypeEthernet, gopacket.DecodeOptions{
		Lazy: true, NoCopy: true,
	})

	if arpLayer := packet.Layer(layers.LayerTypeARP); arpLayer != nil {
		fwd.handleARP(dpid, inPort, bufferID, arpLayer.(*layers.ARP), data)
		return
	}
	if ipLayer := packet.Layer(layers.LayerTypeIPv4); ipLayer != nil {
		fwd.handleIPv4(dpid, inPort, bufferID, ipLayer.(*layers.IPv4), packet, data)
		return
	}
}

func ipToUint32(ip []byte) uint32 {
	if len(ip) != 4 {
		return 0
	}
	return binary.BigEndian.Uint32(ip)
}

func macTo6(mac []byte) [6]byte {
	var out [6]byte
	copy(out[:], mac)
	return out
}

// handleARP implements spec §4.3's ARP branch: learn the sender, then either
// deliver directly to a known destination or flood to unlearned access
// ports.
func (fwd *Forwarder) handleARP(dpid uint64, inPort, bufferID uint32, arp *layers.ARP, data []byte) {
	srcIP := ipToUint32(arp.SourceProtAddress)
	dstIP := ipToUint32(arp.DstProtAddress)
	srcMAC := macTo6(arp.SourceHwAddress)

	fwd.aw.NoteAccessPort(dpid, inPort)
	if srcIP != 0 {
		fwd.aw.OnHostSeen(srcIP, srcMAC, dpid, inPort)
	}

	var loc awareness.HostLocation
	var ok bool
	if view, haveView := fwd.currentView(); haveView {
		loc, ok = view.HostLocation(dstIP)
	}
	if ok {
		if err := fwd.sender.SendPacketOut(loc.DPID, ofp13.NoBuffer, ofp13.PortController, loc.Port, data); err != nil {
			log.WithError(err).WithField("dpid", loc.DPID).Warn("forwarder: arp packet-out failed")
		}
		return
	}

	fwd.floodToUnlearnedAccessPorts(data)
}

// floodToUnlearnedAccessPorts emits the packet out every access port that has
// no host bound to it yet (spec §4.3: "flood to all unlearned access ports
// (a deliberate restriction to avoid flood loops...)").
func (fwd *Forwarder) floodToUnlearnedAccessPorts(data []byte) {
	for dpid, ports := range fwd.aw.UnlearnedAccessPorts() {
		for _, port := range ports {
			if err := fwd.sender.SendPacketOut(dpid, ofp13.NoBuffer, ofp13.PortController, port, data); err != nil {
				log.WithError(err).WithField("dpid", dpid).Warn("forwarder: flood packet-out failed")
			}
		}
	}
}

// handleIPv4 implements spec §4.3's IPv4 branch: extract the fingerprint,
// resolve the destination switch, and install the path (or drop silently if
// the host location is unknown).
func (fwd *Forwarder) handleIPv4(dpid uint64, inPort, bufferID uint32, ip4 *layers.IPv4, packet gopacket.Packet, data []byte) {
	srcIP := ipToUint32(ip4.SrcIP.To4())
	dstIP := ipToUint32(ip4.DstIP.To4())

	fp := flowFingerprint{EthType: ofp13.EthTypeIPv4, IPv4Src: srcIP, IPv4Dst: dstIP}

	switch ip4.Protocol {
	case layers.IPProtocolTCP:
		if tcpLayer := packet.Layer(layers.LayerTypeTCP); tcpLayer != nil {
			tcp := tcpLayer.(*layers.TCP)
			fp.HasL4 = true
			fp.IPProto = ofp13.IPProtoTCP
			fp.L4Src = uint16(tcp.SrcPort)
			fp.L4Dst = uint16(tcp.DstPort)
		}
	case layers.IPProtocolUDP:
		if udpLayer := packet.Layer(layers.LayerTypeUDP); udpLayer != nil {
			udp := udpLayer.(*layers.UDP)
			fp.HasL4 = true
			fp.IPProto = ofp13.IPProtoUDP
			fp.L4Src = uint16(udp.SrcPort)
			fp.L4Dst = uint16(udp.DstPort)
		}
	}

	view, haveView := fwd.currentView()
	if !haveView {
		// No snapshot published yet (controller just started); nothing to
		// route against.
		return
	}

	dstLoc, ok := view.HostLocation(dstIP)
	if !ok {
		// Spec §4.3 edge case: "Host location for destination unknown:
		// ... for IPv4, drop silently (the ARP exchange will populate the
		// host table)."
		return
	}

	if dpid == dstLoc.DPID {
		fwd.installTrivialPath(dpid, inPort, bufferID, dstLoc.Port, fp, data)
		return
	}

	path, ok := view.BestPath(dpid, dstLoc.DPID)
	if !ok || len(path) == 0 {
		log.WithFields(log.Fields{"src_dpid": dpid, "dst_dpid": dstLoc.DPID}).
			Info("forwarder: no path available, flooding")
		fwd.floodToUnlearnedAccessPorts(data)
		return
	}

	fwd.installPath(path, inPort, bufferID, dstLoc.Port, fp, data)
}

// installTrivialPath handles the spec §4.3 edge case "Source switch and
// destination switch identical": install a single entry and emit packet-out
// directly.
func (fwd *Forwarder) installTrivialPath(dpid uint64, inPort, bufferID, outPort uint32, fp flowFingerprint, data []byte) {
	fm := ofp13.FlowMod{
		Priority:    fwd.cfg.ForwarderPriority,
		IdleTimeout: fwd.cfg.ForwarderIdleTimeoutSeconds,
		Match:       fp.toMatch().WithInPort(inPort),
		OutputPort:  outPort,
	}
	if err := fwd.sender.SendFlowMod(dpid, fm); err != nil {
		log.WithError(err).WithField("dpid", dpid).Warn("forwarder: flow-mod send failed")
	}
	if err := fwd.sender.SendPacketOut(dpid, bufferID, inPort, outPort, data); err != nil {
		log.WithError(err).WithField("dpid", dpid).Warn("forwarder: packet-out send failed")
	}
}

// installPath installs the per-hop matches along path, last hop first, then
// emits the buffered packet on the first hop (spec §4.3: "Install from last
// hop backwards to first hop; then send the original buffered packet out via
// packet-out on the first hop to avoid reinjecting ambiguous matches.").
func (fwd *Forwarder) installPath(path []uint64, firstInPort, bufferID, finalOutPort uint32, fp flowFingerprint, data []byte) {
	type hop struct {
		dpid    uint64
		inPort  uint32
		outPort uint32
	}
	hops := make([]hop, len(path))
	for i, dpid := range path {
		var in uint32
		if i == 0 {
			in = firstInPort
		} else if pp, ok := fwd.aw.LinkPorts(path[i-1], path[i]); ok {
			in = pp.DstPort
		}

		var out uint32
		if i == len(path)-1 {
			out = finalOutPort
		} else if pp, ok := fwd.aw.LinkPorts(path[i], path[i+1]); ok {
			out = pp.SrcPort
		}
		hops[i] = hop{dpid: dpid, inPort: in, outPort: out}
	}

	match := fp.toMatch()
	for i := len(hops) - 1; i >= 0; i-- {
		h := hops[i]
		fm := ofp13.FlowMod{
			Priority:    fwd.cfg.ForwarderPriority,
			IdleTimeout: fwd.cfg.ForwarderIdleTimeoutSeconds,
			Match:       match.WithInPort(h.inPort),
			OutputPort:  h.outPort,
		}
		if err := fwd.sender.SendFlowMod(h.dpid, fm); err != nil {
			log.WithError(err).WithField("dpid", h.dpid).Warn("forwarder: flow-mod send failed")
		}
	}

	first := hops[0]
	if err := fwd.sender.SendPacketOut(first.dpid, bufferID, first.inPort, first.outPort, data); err != nil {
		log.WithError(err).WithField("dpid", first.dpid).Warn("forwarder: packet-out send failed")
	}
}
