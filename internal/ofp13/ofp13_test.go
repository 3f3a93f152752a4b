package ofp13

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderRoundTrip(t *testing.T) {
	h := Header{Version: Version, Type: TypeFlowMod, Length: 64, XID: 42}
	got := UnmarshalHeader(h.Marshal())
	assert.Equal(t, h, got)
}

func TestIPv4Uint32RoundTrip(t *testing.T) {
	v := IPv4ToUint32(10, 0, 0, 1)
	assert.Equal(t, [4]uint8{10, 0, 0, 1}, Uint32ToIPv4(v))
}

func TestMatchMarshalLengthIsPaddedTo8(t *testing.T) {
	m := L3Match(EthTypeARP, 0, 0)
	b := m.Marshal()
	assert.Equal(t, 0, len(b)%8)
}

func TestFlowModMarshalSetsTypeAndLength(t *testing.T) {
	fm := FlowMod{
		Priority:    31,
		IdleTimeout: 10,
		Match:       L4Match(EthTypeIPv4, IPv4ToUint32(10, 0, 0, 1), IPv4ToUint32(10, 0, 0, 2), IPProtoTCP, 80, 443).WithInPort(3),
		OutputPort:  4,
	}
	encoded := fm.Marshal(7)
	hdr := UnmarshalHeader(encoded[:HeaderLen])
	assert.Equal(t, TypeFlowMod, hdr.Type)
	assert.Equal(t, uint16(len(encoded)), hdr.Length)
}

func TestPacketOutMarshalSetsTypeAndLength(t *testing.T) {
	payload := []byte{0xde, 0xad, 0xbe, 0xef}
	out := PacketOut(1, NoBuffer, PortController, 3, payload)
	hdr := UnmarshalHeader(out[:HeaderLen])
	assert.Equal(t, TypePacketOut, hdr.Type)
	assert.Equal(t, uint16(len(out)), hdr.Length)
}

func TestUnmarshalFeaturesReplyRejectsShortBody(t *testing.T) {
	_, err := UnmarshalFeaturesReply([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestUnmarshalFeaturesReplyDecodesFields(t *testing.T) {
	body := make([]byte, 24)
	body[0] = 0
	body[7] = 0x01 // datapath_id low byte = 1
	body[12] = 4   // n_tables
	fr, err := UnmarshalFeaturesReply(body)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), fr.DatapathID)
	assert.Equal(t, uint8(4), fr.NumTables)
}

func TestUnmarshalPacketInRejectsShortBody(t *testing.T) {
	_, err := UnmarshalPacketIn([]byte{1, 2, 3})
	assert.Error(t, err)
}
