package capture

import (
	"bytes"
	"encoding/hex"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"rtrader-bridge/src/models"
	"rtrader-bridge/src/protocol"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	clientIP = net.IP{192, 168, 1, 20}
	serverIP = net.IP{38, 65, 210, 71}
)

type segment struct {
	fromClient bool
	port       int
	payload    []byte
}

func writePcap(t *testing.T, segments []segment) []byte {
	t.Helper()

	var buf bytes.Buffer
	w := pcapgo.NewWriter(&buf)
	require.NoError(t, w.WriteFileHeader(65536, layers.LinkTypeEthernet))

	base := time.Date(2025, 8, 28, 4, 59, 47, 0, time.UTC)
	for i, s := range segments {
		srcIP, dstIP := clientIP, serverIP
		srcPort, dstPort := layers.TCPPort(51000), layers.TCPPort(s.port)
		if !s.fromClient {
			srcIP, dstIP = dstIP, srcIP
			srcPort, dstPort = dstPort, srcPort
		}

		eth := &layers.Ethernet{
			SrcMAC:       net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55},
			DstMAC:       net.HardwareAddr{0x66, 0x77, 0x88, 0x99, 0xaa, 0xbb},
			EthernetType: layers.EthernetTypeIPv4,
		}
		ip := &layers.IPv4{Version: 4, IHL: 5, TTL: 64, Protocol: layers.IPProtocolTCP, SrcIP: srcIP, DstIP: dstIP}
		tcp := &layers.TCP{SrcPort: srcPort, DstPort: dstPort, Seq: uint32(1000 + i), ACK: true, PSH: true, Window: 65535}
		require.NoError(t, tcp.SetNetworkLayerForChecksum(ip))

		sb := gopacket.NewSerializeBuffer()
		opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
		require.NoError(t, gopacket.SerializeLayers(sb, opts, eth, ip, tcp, gopacket.Payload(s.payload)))

		data := sb.Bytes()
		ci := gopacket.CaptureInfo{Timestamp: base.Add(time.Duration(i) * time.Millisecond), CaptureLength: len(data), Length: len(data)}
		require.NoError(t, w.WritePacket(ci, data))
	}
	return buf.Bytes()
}

func sample(t *testing.T, h string) []byte {
	t.Helper()
	b, err := hex.DecodeString(h)
	require.NoError(t, err)
	return b
}

// -----------------------------------------------------------------------------

func TestReadReassemblesFrames(t *testing.T) {
	ping := sample(t, protocol.SamplePingHex)
	login := sample(t, protocol.SampleLoginAgentRepository)

	data := writePcap(t, []segment{
		{fromClient: true, port: 64100, payload: ping[:7]},
		{fromClient: true, port: 443, payload: []byte("noise")},
		{fromClient: true, port: 64100, payload: ping[7:]},
		{fromClient: false, port: 64100, payload: sample(t, protocol.SampleUnknownRequestHex)},
		{fromClient: true, port: 64100, payload: login},
	})

	res, err := Read(bytes.NewReader(data), Options{Ports: []int{64100}})
	require.NoError(t, err)

	assert.Equal(t, 5, res.Packets)
	assert.Equal(t, 4, res.TCPSegments)
	assert.Empty(t, res.Errors)
	assert.Zero(t, res.Leftover)
	require.Len(t, res.Frames, 3)

	first := res.Frames[0]
	assert.Equal(t, OriginPcap, first.Origin)
	assert.Equal(t, "192.168.1.20:51000", first.Source)
	assert.Equal(t, "38.65.210.71:64100", first.Destination)
	assert.Equal(t, models.DirectionClientToServer, first.Direction)
	assert.Equal(t, protocol.SamplePingHex, first.Hex)

	assert.Equal(t, models.DirectionServerToClient, res.Frames[1].Direction)
	assert.Contains(t, res.Frames[1].Summary, "unknown request")

	assert.Equal(t, protocol.TemplateLoginAgentRepository, res.Frames[2].Template)
	assert.False(t, res.Frames[2].Truncated)
}

func TestReadCountsLeftover(t *testing.T) {
	login := sample(t, protocol.SampleLoginAgentRepository)
	data := writePcap(t, []segment{{fromClient: true, port: 8100, payload: login[:30]}})

	res, err := Read(bytes.NewReader(data), Options{})
	require.NoError(t, err)
	assert.Empty(t, res.Frames)
	assert.Equal(t, 30, res.Leftover)
}

func TestReadHostFilter(t *testing.T) {
	data := writePcap(t, []segment{{fromClient: true, port: 8000, payload: sample(t, protocol.SamplePingHex)}})

	res, err := Read(bytes.NewReader(data), Options{Hosts: []string{"10.9.9.9"}})
	require.NoError(t, err)
	assert.Empty(t, res.Frames)

	res, err = Read(bytes.NewReader(data), Options{Hosts: []string{"38.65.210.71"}})
	require.NoError(t, err)
	assert.Len(t, res.Frames, 1)
}

func TestReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.pcap")
	require.NoError(t, os.WriteFile(path, writePcap(t, []segment{
		{fromClient: true, port: 8500, payload: sample(t, protocol.SamplePingHex)},
	}), 0o644))

	res, err := ReadFile(path, Options{Ports: []int{8500}})
	require.NoError(t, err)
	require.Len(t, res.Frames, 1)

	_, err = ReadFile(filepath.Join(t.TempDir(), "missing.pcap"), Options{})
	assert.Error(t, err)

	_, err = Read(bytes.NewReader([]byte("not a pcap")), Options{})
	assert.Error(t, err)
}

// -----------------------------------------------------------------------------

func TestNewFrameRecordShortFrame(t *testing.T) {
	rec := NewFrameRecord(OriginRelay, "s1", time.Now(), "a", "b", models.DirectionClientToServer, []byte{0, 0})
	assert.True(t, rec.Truncated)
	assert.Equal(t, "0000", rec.Hex)
	assert.NotEmpty(t, rec.Summary)
}

func TestSuggestFilters(t *testing.T) {
	generic := SuggestFilters(nil, []int{8500, 8000, 8100})
	assert.Equal(t, []string{
		"tcp port 8000 or tcp port 8100 or tcp port 8500",
		"tcp portrange 8000-8500",
	}, generic.Capture)
	assert.Equal(t, []string{"tcp.port == 8000", "tcp.port == 8100", "tcp.port == 8500"}, generic.Display)

	targeted := SuggestFilters([]protocol.Endpoint{{Host: "38.65.210.72", Port: 65000}, {Host: "10.0.0.1"}}, nil)
	assert.Equal(t, []string{
		"host 38.65.210.72",
		"tcp port 65000",
		"host 38.65.210.72 and tcp port 65000",
		"host 10.0.0.1",
	}, targeted.Capture)
	assert.Equal(t, []string{"ip.addr == 38.65.210.72 && tcp.port == 65000", "ip.addr == 10.0.0.1"}, targeted.Display)

	assert.Empty(t, SuggestFilters(nil, nil).Capture)
}
