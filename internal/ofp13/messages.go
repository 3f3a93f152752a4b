package ofp13

import (
	"encoding/binary"
	"fmt"
)

// Hello builds an OFPT_HELLO message with the given transaction id.
func Hello(xid uint32) []byte {
	h := Header{Version: Version, Type: TypeHello, Length: HeaderLen, XID: xid}
	return h.Marshal()
}

// FeaturesRequest builds an OFPT_FEATURES_REQUEST message.
func FeaturesRequest(xid uint32) []byte {
	h := Header{Version: Version, Type: TypeFeaturesRequest, Length: HeaderLen, XID: xid}
	return h.Marshal()
}

// FeaturesReply is the decoded ofp_switch_features body (spec §6:
// "FeaturesRequest, SwitchFeatures").
type FeaturesReply struct {
	DatapathID   uint64
	NumBuffers   uint32
	NumTables    uint8
	Capabilities uint32
}

// UnmarshalFeaturesReply decodes the body following the message header.
func UnmarshalFeaturesReply(body []byte) (FeaturesReply, error) {
	if len(body) < 24 {
		return FeaturesReply{}, fmt.Errorf("ofp13: short features reply: %d bytes", len(body))
	}
	return FeaturesReply{
		DatapathID:   binary.BigEndian.Uint64(body[0:8]),
		NumBuffers:   binary.BigEndian.Uint32(body[8:12]),
		NumTables:    body[12],
		Capabilities: binary.BigEndian.Uint32(body[16:20]),
	}, nil
}

// PortDescRequest builds an OFPMP_PORT_DESC multipart request (spec §4.2.1:
// OFPPortDescStatsRequest).
func PortDescRequest(xid uint32) []byte {
	return multipartRequest(xid, MPPortDesc, nil)
}

// PortStatsRequest builds an OFPMP_PORT_STATS multipart request for all
// ports on the datapath (spec §4.2.1: OFPPortStatsRequest).
func PortStatsRequest(xid uint32) []byte {
	body := make([]byte, 8)
	binary.BigEndian.PutUint32(body[0:4], PortAny)
	return multipartRequest(xid, MPPortStats, body)
}

// FlowStatsRequest builds an OFPMP_FLOW_STATS multipart request for all
// flows on the datapath (spec §4.2.3: "issue an OFPFlowStatsRequest").
func FlowStatsRequest(xid uint32) []byte {
	body := make([]byte, 32)
	body[0] = 0xff                                   // table_id = OFPTT_ALL
	binary.BigEndian.PutUint32(body[4:8], PortAny)  // out_port
	binary.BigEndian.PutUint32(body[8:12], 0xffffffff) // out_group
	emptyMatch := []byte{0, 1, 0, 4, 0, 0, 0, 0} // OXM match with no fields
	return multipartRequest(xid, MPFlowStats, append(body, emptyMatch...))
}

func multipartRequest(xid uint32, mpType uint16, body []byte) []byte {
	mpHdr := make([]byte, 8)
	binary.BigEndian.PutUint16(mpHdr[0:2], mpType)
	payload := append(mpHdr, body...)
	h := Header{Version: Version, Type: TypeMultipartRequest, Length: uint16(HeaderLen + len(payload)), XID: xid}
	return append(h.Marshal(), payload...)
}

// MultipartReplyHeader is the decoded ofp_multipart_reply fixed header.
type MultipartReplyHeader struct {
	Type  uint16
	Flags uint16
}

// UnmarshalMultipartReplyHeader decodes the 8-byte multipart reply header
// and returns it alongside the remaining body.
func UnmarshalMultipartReplyHeader(body []byte) (MultipartReplyHeader, []byte, error) {
	if len(body) < 8 {
		return MultipartReplyHeader{}, nil, fmt.Errorf("ofp13: short multipart reply")
	}
	return MultipartReplyHeader{
		Type:  binary.BigEndian.Uint16(body[0:2]),
		Flags: binary.BigEndian.Uint16(body[2:4]),
	}, body[8:], nil
}

// PortDesc is one decoded ofp_port entry from an OFPMP_PORT_DESC reply.
type PortDesc struct {
	PortNo    uint32
	State     uint32
	Curr      uint32
	CurrSpeed uint32 // kbps, advertised link speed (spec §3)
}

const portDescLen = 64

// UnmarshalPortDescs decodes every ofp_port entry in a PORT_DESC reply body.
func UnmarshalPortDescs(body []byte) []PortDesc {
	var out []PortDesc
	for off := 0; off+portDescLen <= len(body); off += portDescLen {
		e := body[off : off+portDescLen]
		out = append(out, PortDesc{
			PortNo:    binary.BigEndian.Uint32(e[0:4]),
			State:     binary.BigEndian.Uint32(e[36:40]),
			Curr:      binary.BigEndian.Uint32(e[40:44]),
			CurrSpeed: binary.BigEndian.Uint32(e[56:60]),
		})
	}
	return out
}

// PortStatsEntry is one decoded ofp_port_stats entry (spec §3: Port-stats
// sample).
type PortStatsEntry struct {
	PortNo        uint32
	RxBytes       uint64
	TxBytes       uint64
	RxErrors      uint64
	DurationSec   uint32
	DurationNSec  uint32
}

const portStatsLen = 112

// UnmarshalPortStats decodes every ofp_port_stats entry in a PORT_STATS
// reply body.
func UnmarshalPortStats(body []byte) []PortStatsEntry {
	var out []PortStatsEntry
	for off := 0; off+portStatsLen <= len(body); off += portStatsLen {
		e := body[off : off+portStatsLen]
		out = append(out, PortStatsEntry{
			PortNo:       binary.BigEndian.Uint32(e[0:4]),
			RxBytes:      binary.BigEndian.Uint64(e[24:32]),
			TxBytes:      binary.BigEndian.Uint64(e[32:40]),
			RxErrors:     binary.BigEndian.Uint64(e[56:64]),
			DurationSec:  binary.BigEndian.Uint32(e[104:108]),
			DurationNSec: binary.BigEndian.Uint32(e[108:112]),
		})
	}
	return out
}

// FlowStatsEntry is one decoded ofp_flow_stats entry, trimmed to the fields
// Monitor's reroute decision needs (spec §4.2.4).
type FlowStatsEntry struct {
	Priority  uint16
	ByteCount uint64
	Match     Match
	OutPort   uint32
}

// UnmarshalFlowStats decodes every ofp_flow_stats entry in a FLOW_STATS
// reply body. Each entry is self-describing via its leading length field.
func UnmarshalFlowStats(body []byte) ([]FlowStatsEntry, error) {
	var out []FlowStatsEntry
	for off := 0; off < len(body); {
		if off+56 > len(body) {
			return out, fmt.Errorf("ofp13: truncated flow stats entry")
		}
		entryLen := int(binary.BigEndian.Uint16(body[off : off+2]))
		if entryLen <= 0 || off+entryLen > len(body) {
			return out, fmt.Errorf("ofp13: invalid flow stats entry length %d", entryLen)
		}
		e := body[off : off+entryLen]
		if entryLen < 56 {
			return out, fmt.Errorf("ofp13: invalid flow stats entry length %d", entryLen)
		}
		priority := binary.BigEndian.Uint16(e[12:14])
		byteCount := binary.BigEndian.Uint64(e[40:48])
		matchLen := int(binary.BigEndian.Uint16(e[50:52]))
		matchStart := 48
		matchEnd := matchStart + matchLen
		if matchEnd > len(e) {
			matchEnd = len(e)
		}
		m := decodeMatch(e[matchStart:matchEnd])
		instrStart := matchStart + padTo8(matchLen)
		outPort := firstOutputPort(e[instrStart:])
		out = append(out, FlowStatsEntry{Priority: priority, ByteCount: byteCount, Match: m, OutPort: outPort})
		off += entryLen
	}
	return out, nil
}

func padTo8(n int) int {
	if n%8 == 0 {
		return n
	}
	return n + (8 - n%8)
}

// decodeMatch decodes the subset of OXM fields Sieve itself emits, for
// round-tripping flow-stats replies that echo back installed matches.
func decodeMatch(raw []byte) Match {
	var m Match
	if len(raw) < 4 {
		return m
	}
	oxm := raw[4:]
	for len(oxm) >= 4 {
		field := oxm[2] >> 1
		length := int(oxm[3])
		if len(oxm) < 4+length {
			break
		}
		payload := oxm[4 : 4+length]
		switch field {
		case oxmFieldInPort:
			m.InPort = binary.BigEndian.Uint32(payload)
			m.HasIn = true
		case oxmFieldEthType:
			m.EthType = binary.BigEndian.Uint16(payload)
		case oxmFieldIPv4Src:
			m.IPv4Src = binary.BigEndian.Uint32(payload)
		case oxmFieldIPv4Dst:
			m.IPv4Dst = binary.BigEndian.Uint32(payload)
		case oxmFieldIPProto:
			m.IPProto = payload[0]
			m.HasL4 = true
		case oxmFieldTCPSrc, oxmFieldUDPSrc:
			m.L4Src = binary.BigEndian.Uint16(payload)
		case oxmFieldTCPDst, oxmFieldUDPDst:
			m.L4Dst = binary.BigEndian.Uint16(payload)
		}
		oxm = oxm[4+length:]
	}
	return m
}

func firstOutputPort(instructions []byte) uint32 {
	for off := 0; off+4 <= len(instructions); {
		itype := binary.BigEndian.Uint16(instructions[off : off+2])
		ilen := int(binary.BigEndian.Uint16(instructions[off+2 : off+4]))
		if ilen <= 0 || off+ilen > len(instructions) {
			break
		}
		if itype == instrTypeApplyActions {
			actions := instructions[off+8 : off+ilen]
			for aoff := 0; aoff+4 <= len(actions); {
				atype := binary.BigEndian.Uint16(actions[aoff : aoff+2])
				alen := int(binary.BigEndian.Uint16(actions[aoff+2 : aoff+4]))
				if alen <= 0 || aoff+alen > len(actions) {
					break
				}
				if atype == actionTypeOutput {
					return binary.BigEndian.Uint32(actions[aoff+4 : aoff+8])
				}
				aoff += alen
			}
		}
		off += ilen
	}
	return 0
}

// FlowMod is everything needed to build an OFPT_FLOW_MOD (spec §6:
// "Forwarder flow-mod schema", "Monitor detour flow-mod schema").
type FlowMod struct {
	Priority     uint16
	IdleTimeout  uint16
	HardTimeout  uint16
	Match        Match
	OutputPort   uint32
}

// Marshal encodes fm as a full OFPT_FLOW_MOD message with transaction id xid.
func (fm FlowMod) Marshal(xid uint32) []byte {
	match := fm.Match.Marshal()
	actions := OutputAction(fm.OutputPort)
	instr := ApplyActionsInstruction(actions)

	body := make([]byte, 0, 40+len(match)+len(instr))
	body = append(body, make([]byte, 8)...)  // cookie
	body = append(body, make([]byte, 8)...)  // cookie_mask
	body = append(body, 0)                   // table_id
	body = append(body, FlowModAdd)           // command
	idle := make([]byte, 2)
	binary.BigEndian.PutUint16(idle, fm.IdleTimeout)
	body = append(body, idle...)
	hard := make([]byte, 2)
	binary.BigEndian.PutUint16(hard, fm.HardTimeout)
	body = append(body, hard...)
	prio := make([]byte, 2)
	binary.BigEndian.PutUint16(prio, fm.Priority)
	body = append(body, prio...)
	bufID := make([]byte, 4)
	binary.BigEndian.PutUint32(bufID, NoBuffer)
	body = append(body, bufID...)
	outPort := make([]byte, 4)
	binary.BigEndian.PutUint32(outPort, PortAny)
	body = append(body, outPort...)
	body = append(body, make([]byte, 4)...) // out_group left at 0; switches ignore it for OFPFC_ADD
	body = append(body, make([]byte, 4)...) // flags + pad
	body = append(body, match...)
	body = append(body, instr...)

	h := Header{Version: Version, Type: TypeFlowMod, Length: uint16(HeaderLen + len(body)), XID: xid}
	return append(h.Marshal(), body...)
}

// PacketIn is the decoded ofp_packet_in fixed fields plus payload (spec §6:
// "PacketIn").
type PacketIn struct {
	BufferID uint32
	InPort   uint32
	Data     []byte
}

// UnmarshalPacketIn decodes a packet-in body.
func UnmarshalPacketIn(body []byte) (PacketIn, error) {
	if len(body) < 24 {
		return PacketIn{}, fmt.Errorf("ofp13: short packet-in: %d bytes", len(body))
	}
	bufferID := binary.BigEndian.Uint32(body[0:4])
	matchLen := int(binary.BigEndian.Uint16(body[18:20]))
	matchStart := 16
	matchEnd := matchStart + matchLen
	if matchEnd > len(body) {
		return PacketIn{}, fmt.Errorf("ofp13: packet-in match overruns body")
	}
	m := decodeMatch(body[matchStart:matchEnd])
	dataStart := matchStart + padTo8(matchLen) + 2 // 2 bytes of required padding before data
	if dataStart > len(body) {
		dataStart = len(body)
	}
	return PacketIn{BufferID: bufferID, InPort: m.InPort, Data: body[dataStart:]}, nil
}

// PacketOut builds an OFPT_PACKET_OUT message, re-emitting the buffered (or
// inline) packet out outPort (spec §4.3: "emit the original buffered packet
// out via packet-out on the first hop").
func PacketOut(xid, bufferID, inPort, outPort uint32, data []byte) []byte {
	actions := OutputAction(outPort)
	body := make([]byte, 0, 16+len(actions)+len(data))
	bid := make([]byte, 4)
	binary.BigEndian.PutUint32(bid, bufferID)
	body = append(body, bid...)
	ip := make([]byte, 4)
	binary.BigEndian.PutUint32(ip, inPort)
	body = append(body, ip...)
	alen := make([]byte, 2)
	binary.BigEndian.PutUint16(alen, uint16(len(actions)))
	body = append(body, alen...)
	body = append(body, make([]byte, 6)...) // pad
	body = append(body, actions...)
	if bufferID == NoBuffer {
		body = append(body, data...)
	}
	h := Header{Version: Version, Type: TypePacketOut, Length: uint16(HeaderLen + len(body)), XID: xid}
	return append(h.Marshal(), body...)
}
