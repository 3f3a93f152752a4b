package ofconn

import (
	"strconv"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// lldpDiscoveryTTL is the advertised LLDP TTL; Sieve only ever reads the
// immediately-preceding packet so the value is cosmetic.
const lldpDiscoveryTTL = 120

// buildLLDP serializes a minimal LLDP frame identifying dpid/port, emitted
// out every known port on a timer so that a peer's packet-in of the same
// frame tells the peer (and, via its own packet-in relay, us) that the two
// ports are linked (spec §6: "topology discovery via LLDP as provided by the
// host OpenFlow library").
func buildLLDP(dpid uint64, port uint32) ([]byte, error) {
	eth := &layers.Ethernet{
		SrcMAC:       dpidToMAC(dpid),
		DstMAC:       layers.LLDPNearestBridgeMulticastAddr,
		EthernetType: layers.EthernetTypeLinkLayerDiscovery,
	}
	lldp := &layers.LinkLayerDiscovery{
		ChassisID: layers.LLDPChassisID{
			Subtype: layers.LLDPChassisIDSubTypeLocal,
			ID:      []byte(strconv.FormatUint(dpid, 10)),
		},
		PortID: layers.LLDPPortID{
			Subtype: layers.LLDPPortIDSubtypeLocal,
			ID:      []byte(strconv.FormatUint(uint64(port), 10)),
		},
		TTL: lldpDiscoveryTTL,
	}
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, lldp); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// parseLLDP decodes the chassis/port identifiers from a received LLDP frame,
// returning (remoteDPID, remotePort, ok).
func parseLLDP(data []byte) (uint64, uint32, bool) {
	packet := gopacket.NewPacket(data, layers.LayerTypeEthernet, gopacket.DecodeOptions{Lazy: true, NoCopy: true})
	lldpLayer := packet.Layer(layers.LayerTypeLinkLayerDiscovery)
	if lldpLayer == nil {
		return 0, 0, false
	}
	lldp := lldpLayer.(*layers.LinkLayerDiscovery)

	dpid, err := strconv.ParseUint(string(lldp.ChassisID.ID), 10, 64)
	if err != nil {
		return 0, 0, false
	}
	port, err := strconv.ParseUint(string(lldp.PortID.ID), 10, 32)
	if err != nil {
		return 0, 0, false
	}
	return dpid, uint32(port), true
}

// dpidToMAC derives a locally-administered MAC from a DPID purely so the
// LLDP frame has a plausible source address; discovery itself only reads the
// chassis/port TLVs.
func dpidToMAC(dpid uint64) []byte {
	return []byte{
		0x02,
		byte(dpid >> 32), byte(dpid >> 24), byte(dpid >> 16), byte(dpid >> 8), byte(dpid),
	}
}
