// Package forwarder installs flow entries along the current best path in
// reaction to packet-in events (spec §4.3).
package forwarder

import "github.com/sieve-sdn/sieve/internal/ofp13"

// Sender is the outbound half of the OpenFlow channel Forwarder needs.
type Sender interface {
	SendFlowMod(dpid uint64, fm ofp13.FlowMod) error
	SendPacketOut(dpid uint64, bufferID, inPort, outPort uint32, data []byte) error
}

// flowFingerprint is the tagged L4/L3 variant from spec §9's design notes
// ("Dynamic 9-vs-4-field flow_info tuples should be modelled as a tagged
// variant FlowKey = L4(...) | L3(...)"). It carries everything needed to
// build both the wire match and the per-hop flow-mod.
type flowFingerprint struct {
	EthType uint16
	IPv4Src uint32
	IPv4Dst uint32

	HasL4   bool
	IPProto uint8
	L4Src   uint16
	L4Dst   uint16
}

func (f flowFingerprint) toMatch() ofp13.Match {
	if f.HasL4 {
		return ofp13.L4Match(f.EthType, f.IPv4Src, f.IPv4Dst, f.IPProto, f.L4Src, f.L4Dst)
	}
	return ofp13.L3Match(f.EthType, f.IPv4Src, f.IPv4Dst)
}
