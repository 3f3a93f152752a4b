// Package ofp13 implements the subset of the OpenFlow 1.3 wire protocol
// Sieve needs to speak to fabric switches: connection handshake, port and
// flow statistics, packet-in/packet-out, and flow-mod installation (spec §6).
//
// There is no general-purpose OpenFlow 1.3 codec among Sieve's reference
// material, so this package is a small hand-rolled binary encoder/decoder
// over encoding/binary, one type per wire structure, the way a parser for a
// structured wire or text format is usually built in this codebase.
package ofp13

import "encoding/binary"

// Version is the OpenFlow wire version byte for 1.3.
const Version uint8 = 0x04

// Message type codes (ofp_type), the subset Sieve exchanges.
const (
	TypeHello           uint8 = 0
	TypeError           uint8 = 1
	TypeFeaturesRequest  uint8 = 5
	TypeFeaturesReply    uint8 = 6
	TypePacketIn         uint8 = 10
	TypeFlowMod          uint8 = 14
	TypePacketOut        uint8 = 13
	TypeMultipartRequest uint8 = 18
	TypeMultipartReply   uint8 = 19
)

// Multipart (stats) types (ofp_multipart_type), the subset Sieve requests.
const (
	MPPortDesc  uint16 = 13
	MPPortStats uint16 = 4
	MPFlowStats uint16 = 1
)

// Flow-mod commands (ofp_flow_mod_command).
const (
	FlowModAdd uint8 = 0
)

// Well-known OpenFlow port numbers.
const (
	PortFlood    uint32 = 0xfffffffb
	PortController uint32 = 0xfffffffd
	PortAny      uint32 = 0xffffffff
)

// Buffer sentinel meaning "data is inline, no switch-side buffer".
const NoBuffer uint32 = 0xffffffff

// EtherType values Sieve matches on.
const (
	EthTypeARP  uint16 = 0x0806
	EthTypeIPv4 uint16 = 0x0800
)

// IP protocol numbers Sieve matches on (spec §3).
const (
	IPProtoTCP uint8 = 6
	IPProtoUDP uint8 = 17
)

// Header is the 8-byte OpenFlow message header common to every message.
type Header struct {
	Version uint8
	Type    uint8
	Length  uint16
	XID     uint32
}

// HeaderLen is the wire size of Header.
const HeaderLen = 8

// Marshal encodes the header into an 8-byte slice.
func (h Header) Marshal() []byte {
	b := make([]byte, HeaderLen)
	b[0] = h.Version
	b[1] = h.Type
	binary.BigEndian.PutUint16(b[2:4], h.Length)
	binary.BigEndian.PutUint32(b[4:8], h.XID)
	return b
}

// UnmarshalHeader decodes an 8-byte header from b.
func UnmarshalHeader(b []byte) Header {
	return Header{
		Version: b[0],
		Type:    b[1],
		Length:  binary.BigEndian.Uint16(b[2:4]),
		XID:     binary.BigEndian.Uint32(b[4:8]),
	}
}

// IPv4ToUint32 packs a 4-octet IPv4 address into the big-endian uint32 the
// OXM IPV4_SRC/IPV4_DST fields use. Adapted from the uint32 packing the
// teacher's (now-deleted) controller/util.IPV4 helper performed against a
// different, protobuf-backed address type.
func IPv4ToUint32(a, b, c, d uint8) uint32 {
	return uint32(a)<<24 | uint32(b)<<16 | uint32(c)<<8 | uint32(d)
}

// Uint32ToIPv4 is the inverse of IPv4ToUint32.
func Uint32ToIPv4(v uint32) [4]uint8 {
	return [4]uint8{
		uint8(v >> 24),
		uint8(v >> 16),
		uint8(v >> 8),
		uint8(v),
	}
}
