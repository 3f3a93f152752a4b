package forwarder

import (
	"net"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sieve-sdn/sieve/internal/awareness"
	"github.com/sieve-sdn/sieve/internal/config"
	"github.com/sieve-sdn/sieve/internal/fabric"
	"github.com/sieve-sdn/sieve/internal/ofp13"
)

type fakeSender struct {
	flowMods    []ofp13.FlowMod
	flowModDPID []uint64
	packetOuts  []packetOutCall
}

type packetOutCall struct {
	dpid                      uint64
	bufferID, inPort, outPort uint32
}

func (f *fakeSender) SendFlowMod(dpid uint64, fm ofp13.FlowMod) error {
	f.flowMods = append(f.flowMods, fm)
	f.flowModDPID = append(f.flowModDPID, dpid)
	return nil
}

func (f *fakeSender) SendPacketOut(dpid uint64, bufferID, inPort, outPort uint32, data []byte) error {
	f.packetOuts = append(f.packetOuts, packetOutCall{dpid, bufferID, inPort, outPort})
	return nil
}

type fakeResolver struct {
	path map[[2]uint64][]uint64
}

func (r *fakeResolver) BestPath(src, dst uint64) ([]uint64, bool) {
	p, ok := r.path[[2]uint64{src, dst}]
	return p, ok
}

func (r *fakeResolver) FreeBwKbps(dpid uint64, port uint32) (int, bool) {
	return 0, false
}

// newTestForwarder wires a Forwarder whose view is already published, the
// way main's refreshFabricView loop does before the first packet-in arrives.
func newTestForwarder(cfg *config.Config, aw *awareness.Awareness, resolver *fakeResolver, sender *fakeSender) *Forwarder {
	fwd := New(cfg, aw, sender)
	fwd.SetView(fabric.Build(aw, resolver))
	return fwd
}

func buildARPRequest(t *testing.T, srcIP, dstIP net.IP, srcMAC net.HardwareAddr) []byte {
	eth := &layers.Ethernet{
		SrcMAC: srcMAC, DstMAC: net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
		EthernetType: layers.EthernetTypeARP,
	}
	arp := &layers.ARP{
		AddrType: layers.LinkTypeEthernet, Protocol: layers.EthernetTypeIPv4,
		HwAddressSize: 6, ProtAddressSize: 4, Operation: layers.ARPRequest,
		SourceHwAddress: srcMAC, SourceProtAddress: srcIP.To4(),
		DstHwAddress: net.HardwareAddr{0, 0, 0, 0, 0, 0}, DstProtAddress: dstIP.To4(),
	}
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, arp))
	return buf.Bytes()
}

func buildTCPPacket(t *testing.T, srcIP, dstIP net.IP, srcPort, dstPort uint16) []byte {
	eth := &layers.Ethernet{
		SrcMAC: net.HardwareAddr{1, 2, 3, 4, 5, 6}, DstMAC: net.HardwareAddr{6, 5, 4, 3, 2, 1},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip4 := &layers.IPv4{
		Version: 4, IHL: 5, TTL: 64, Protocol: layers.IPProtocolTCP,
		SrcIP: srcIP.To4(), DstIP: dstIP.To4(),
	}
	tcp := &layers.TCP{SrcPort: layers.TCPPort(srcPort), DstPort: layers.TCPPort(dstPort), SYN: true}
	require.NoError(t, tcp.SetNetworkLayerForChecksum(ip4))
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, ip4, tcp))
	return buf.Bytes()
}

func TestHandleARPLearnsSourceAndFloodsUnknownDest(t *testing.T) {
	cfg := config.Default()
	aw := awareness.New(cfg)
	aw.OnSwitchEnter(3001)
	aw.NoteAccessPort(3001, 3)
	// Port 3 becomes learned by this very ARP, so the flood reaches only port 4.
	aw.NoteAccessPort(3001, 4)
	sender := &fakeSender{}
	fwd := newTestForwarder(cfg, aw, &fakeResolver{}, sender)

	data := buildARPRequest(t, net.IPv4(10, 1, 0, 1), net.IPv4(10, 9, 0, 1), net.HardwareAddr{1, 2, 3, 4, 5, 6})
	fwd.HandlePacketIn(3001, 3, 42, data)

	loc, ok := aw.GetHostLocation(0x0A010001)
	require.True(t, ok)
	assert.Equal(t, awareness.HostLocation{DPID: 3001, Port: 3}, loc)

	require.Len(t, sender.packetOuts, 1)
	assert.Equal(t, uint64(3001), sender.packetOuts[0].dpid)
}

func TestHandleARPDeliversToKnownDestination(t *testing.T) {
	cfg := config.Default()
	aw := awareness.New(cfg)
	aw.OnSwitchEnter(3001)
	aw.OnSwitchEnter(3002)
	aw.NoteAccessPort(3001, 3)
	aw.NoteAccessPort(3002, 4)
	dstMAC := [6]byte{9, 9, 9, 9, 9, 9}
	aw.OnHostSeen(0x0A090001, dstMAC, 3002, 4)

	sender := &fakeSender{}
	fwd := newTestForwarder(cfg, aw, &fakeResolver{}, sender)

	data := buildARPRequest(t, net.IPv4(10, 1, 0, 1), net.IPv4(10, 9, 0, 1), net.HardwareAddr{1, 2, 3, 4, 5, 6})
	fwd.HandlePacketIn(3001, 3, 42, data)

	require.Len(t, sender.packetOuts, 1)
	assert.Equal(t, uint64(3002), sender.packetOuts[0].dpid)
	assert.Equal(t, uint32(4), sender.packetOuts[0].outPort)
}

func TestHandleIPv4DropsOnUnknownDestination(t *testing.T) {
	cfg := config.Default()
	aw := awareness.New(cfg)
	aw.OnSwitchEnter(3001)
	sender := &fakeSender{}
	fwd := newTestForwarder(cfg, aw, &fakeResolver{}, sender)

	data := buildTCPPacket(t, net.IPv4(10, 1, 0, 1), net.IPv4(10, 7, 0, 1), 5000, 40000)
	fwd.HandlePacketIn(3001, 3, 42, data)

	assert.Empty(t, sender.flowMods)
	assert.Empty(t, sender.packetOuts)
}

func TestHandleIPv4DropsWhenViewNotYetPublished(t *testing.T) {
	cfg := config.Default()
	aw := awareness.New(cfg)
	aw.OnSwitchEnter(3001)
	dstMAC := [6]byte{9, 9, 9, 9, 9, 9}
	aw.OnHostSeen(0x0A070001, dstMAC, 3001, 4)

	sender := &fakeSender{}
	fwd := New(cfg, aw, sender) // no SetView call yet

	data := buildTCPPacket(t, net.IPv4(10, 1, 0, 1), net.IPv4(10, 7, 0, 1), 5000, 40000)
	fwd.HandlePacketIn(3001, 3, 42, data)

	assert.Empty(t, sender.flowMods)
	assert.Empty(t, sender.packetOuts)
}

func TestHandleIPv4TrivialSameSwitch(t *testing.T) {
	cfg := config.Default()
	aw := awareness.New(cfg)
	aw.OnSwitchEnter(3001)
	dstMAC := [6]byte{9, 9, 9, 9, 9, 9}
	aw.OnHostSeen(0x0A070001, dstMAC, 3001, 4)

	sender := &fakeSender{}
	fwd := newTestForwarder(cfg, aw, &fakeResolver{}, sender)

	data := buildTCPPacket(t, net.IPv4(10, 1, 0, 1), net.IPv4(10, 7, 0, 1), 5000, 40000)
	fwd.HandlePacketIn(3001, 3, 42, data)

	require.Len(t, sender.flowMods, 1)
	assert.Equal(t, uint16(30), sender.flowMods[0].Priority)
	assert.Equal(t, uint32(4), sender.flowMods[0].OutputPort)
	require.Len(t, sender.packetOuts, 1)
	assert.Equal(t, uint32(4), sender.packetOuts[0].outPort)
}

func TestHandleIPv4MultiHopInstallsLastHopFirst(t *testing.T) {
	cfg := config.Default()
	aw := awareness.New(cfg)
	aw.OnSwitchEnter(3001)
	aw.OnSwitchEnter(2001)
	aw.OnSwitchEnter(3002)
	aw.OnLinkAdd(3001, 2001, 1, 3)
	aw.OnLinkAdd(2001, 3002, 4, 1)
	dstMAC := [6]byte{9, 9, 9, 9, 9, 9}
	aw.OnHostSeen(0x0A070001, dstMAC, 3002, 4)

	sender := &fakeSender{}
	resolver := &fakeResolver{path: map[[2]uint64][]uint64{
		{3001, 3002}: {3001, 2001, 3002},
	}}
	fwd := newTestForwarder(cfg, aw, resolver, sender)

	data := buildTCPPacket(t, net.IPv4(10, 1, 0, 1), net.IPv4(10, 7, 0, 1), 5000, 40000)
	fwd.HandlePacketIn(3001, 3, 42, data)

	require.Len(t, sender.flowMods, 3)
	// Last hop (3002) installed first.
	assert.Equal(t, uint64(3002), sender.flowModDPID[0])
	assert.Equal(t, uint32(4), sender.flowMods[0].OutputPort)
	assert.Equal(t, uint64(2001), sender.flowModDPID[1])
	assert.Equal(t, uint32(4), sender.flowMods[1].OutputPort)
	assert.Equal(t, uint64(3001), sender.flowModDPID[2])
	assert.Equal(t, uint32(1), sender.flowMods[2].OutputPort)

	require.Len(t, sender.packetOuts, 1)
	assert.Equal(t, uint64(3001), sender.packetOuts[0].dpid)
	assert.Equal(t, uint32(3), sender.packetOuts[0].inPort)
}
