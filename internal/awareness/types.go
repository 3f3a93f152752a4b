// Package awareness maintains Sieve's topological model of the fat-tree
// fabric and the cache of k-shortest paths between switch pairs (spec §4.1).
package awareness

import (
	"fmt"

	"github.com/sieve-sdn/sieve/internal/config"
)

// Port is a physical port on a datapath (spec §3: "Each datapath owns a
// set of physical ports; each port has a current config/state and an
// advertised link speed").
type Port struct {
	PortNo        uint32
	State         uint32
	CurrSpeedKbps uint32
}

// Switch is a fabric datapath, classed by DPID prefix (spec §3).
type Switch struct {
	DPID  uint64
	Tier  config.Tier
	Ports map[uint32]*Port
}

// LinkEndpoints identifies a directed link by its switch endpoints (spec §3:
// "A directed pair (src_dpid, dst_dpid)").
type LinkEndpoints struct {
	Src, Dst uint64
}

// PortPair is the port-level detail of a link (spec §3: "associated
// (src_port, dst_port)").
type PortPair struct {
	SrcPort, DstPort uint32
}

// HostLocation is where a host was last seen attached to the fabric (spec
// §3: "Its location is a (dpid, port_no) pair on an access (edge) switch").
type HostLocation struct {
	DPID uint64
	Port uint32
}

// AccessPortKey identifies an access port for the access_table (spec §4.1:
// "access_table[(dpid, port)] = (ip, mac)").
type AccessPortKey struct {
	DPID uint64
	Port uint32
}

// HostInfo is the reverse-lookup entry stored in the access table.
type HostInfo struct {
	IP  uint32
	MAC [6]byte
}

func vertexID(dpid uint64) string {
	return fmt.Sprintf("%d", dpid)
}
