package ofp13

import "encoding/binary"

// OXM field numbers within the OFPXMC_OPENFLOW_BASIC class (0x8000), the
// subset Sieve's match fields need (spec §3 Flow fingerprint, §6 flow-mod
// schema).
const (
	oxmClassOpenflowBasic uint16 = 0x8000

	oxmFieldInPort  uint8 = 0
	oxmFieldEthType uint8 = 5
	oxmFieldIPProto uint8 = 10
	oxmFieldIPv4Src uint8 = 11
	oxmFieldIPv4Dst uint8 = 12
	oxmFieldTCPSrc  uint8 = 13
	oxmFieldTCPDst  uint8 = 14
	oxmFieldUDPSrc  uint8 = 15
	oxmFieldUDPDst  uint8 = 16
)

// oxmTLV appends one OXM TLV (class, field<<1|hasmask, length, payload) to b.
func oxmTLV(b []byte, field uint8, payload []byte) []byte {
	hdr := make([]byte, 4)
	binary.BigEndian.PutUint16(hdr[0:2], oxmClassOpenflowBasic)
	hdr[2] = field << 1
	hdr[3] = uint8(len(payload))
	b = append(b, hdr...)
	return append(b, payload...)
}

func oxmU32(b []byte, field uint8, v uint32) []byte {
	p := make([]byte, 4)
	binary.BigEndian.PutUint32(p, v)
	return oxmTLV(b, field, p)
}

func oxmU16(b []byte, field uint8, v uint16) []byte {
	p := make([]byte, 2)
	binary.BigEndian.PutUint16(p, v)
	return oxmTLV(b, field, p)
}

func oxmU8(b []byte, field uint8, v uint8) []byte {
	return oxmTLV(b, field, []byte{v})
}

// Match is a flow match. It models the tagged L4/L3 variant from spec §9's
// design notes ("Dynamic 9-vs-4-field flow_info tuples should be modelled as
// a tagged variant"): L4 fields are only present, and only marshalled, when
// HasL4 is set.
type Match struct {
	InPort  uint32
	HasIn   bool
	EthType uint16

	IPv4Src uint32
	IPv4Dst uint32

	// HasL4 selects the L4 shape (eth_type, ipv4_src, ipv4_dst, ip_proto,
	// l4_src, l4_dst[, in_port]) over the 3-field L3/ARP shape
	// (eth_type, ipv4_src, ipv4_dst[, in_port]).
	HasL4   bool
	IPProto uint8
	L4Src   uint16
	L4Dst   uint16
}

// L3Match builds the 3-field ARP/plain-IPv4 match (spec §3: "For L2/ARP
// handling, the fingerprint is the 3-tuple").
func L3Match(ethType uint16, ipSrc, ipDst uint32) Match {
	return Match{EthType: ethType, IPv4Src: ipSrc, IPv4Dst: ipDst}
}

// L4Match builds the TCP/UDP match (spec §3: "A 5-tuple for L4 flows"): six
// OXM fields on the wire, seven once WithInPort adds in_port.
func L4Match(ethType uint16, ipSrc, ipDst uint32, ipProto uint8, l4Src, l4Dst uint16) Match {
	return Match{
		EthType: ethType,
		IPv4Src: ipSrc,
		IPv4Dst: ipDst,
		HasL4:   true,
		IPProto: ipProto,
		L4Src:   l4Src,
		L4Dst:   l4Dst,
	}
}

// WithInPort returns a copy of m with the ingress port field set (spec
// §4.2.6: "Match fields: 5-tuple ... together with the hop's ingress port").
func (m Match) WithInPort(port uint32) Match {
	m.InPort = port
	m.HasIn = true
	return m
}

// marshalOXM encodes m's OXM TLV list (without the ofp_match header/padding).
func (m Match) marshalOXM() []byte {
	var b []byte
	if m.HasIn {
		b = oxmU32(b, oxmFieldInPort, m.InPort)
	}
	b = oxmU16(b, oxmFieldEthType, m.EthType)
	b = oxmU32(b, oxmFieldIPv4Src, m.IPv4Src)
	b = oxmU32(b, oxmFieldIPv4Dst, m.IPv4Dst)
	if m.HasL4 {
		b = oxmU8(b, oxmFieldIPProto, m.IPProto)
		switch m.IPProto {
		case IPProtoTCP:
			b = oxmU16(b, oxmFieldTCPSrc, m.L4Src)
			b = oxmU16(b, oxmFieldTCPDst, m.L4Dst)
		case IPProtoUDP:
			b = oxmU16(b, oxmFieldUDPSrc, m.L4Src)
			b = oxmU16(b, oxmFieldUDPDst, m.L4Dst)
		}
	}
	return b
}

// ofpMatchTypeOXM is the ofp_match.type constant for the OXM TLV encoding.
const ofpMatchTypeOXM uint16 = 1

// Marshal encodes m as a padded ofp_match structure (type, length, OXM TLVs,
// then zero-padding to a multiple of 8 bytes, per the OpenFlow 1.3 wire
// spec).
func (m Match) Marshal() []byte {
	oxm := m.marshalOXM()
	length := 4 + len(oxm)
	out := make([]byte, 4, length)
	binary.BigEndian.PutUint16(out[0:2], ofpMatchTypeOXM)
	binary.BigEndian.PutUint16(out[2:4], uint16(length))
	out = append(out, oxm...)
	for len(out)%8 != 0 {
		out = append(out, 0)
	}
	return out
}
