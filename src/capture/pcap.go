package capture

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"rtrader-bridge/src/models"
	"rtrader-bridge/src/protocol"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// Options filter which TCP segments are reassembled. Empty lists match all.
type Options struct {
	Ports         []int
	Hosts         []string
	MaxFrameBytes int
}

type Result struct {
	Packets     int
	TCPSegments int
	Frames      []models.MCapturedFrame
	// Errors lists streams that had to be dropped while splitting.
	Errors []string
	// Leftover counts bytes still buffered in incomplete frames at EOF.
	Leftover int
}

type flowKey struct {
	src, dst string
}

// -----------------------------------------------------------------------------

func ReadFile(path string, opts Options) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open capture: %w", err)
	}
	defer f.Close()
	return Read(bufio.NewReader(f), opts)
}

// -----------------------------------------------------------------------------

// Read walks a pcap stream and decodes every vendor frame carried over TCP.
// Segments are reassembled per direction in file order; sequence numbers are
// not used, so retransmitted segments show up as garbage frames.
func Read(r io.Reader, opts Options) (*Result, error) {
	pcapReader, err := pcapgo.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("read pcap header: %w", err)
	}

	maxLen := opts.MaxFrameBytes
	if maxLen <= 0 {
		maxLen = protocol.DefaultMaxFrameLen
	}

	res := &Result{}
	splitters := make(map[flowKey]*protocol.Splitter)
	var order []flowKey

	packetSource := gopacket.NewPacketSource(pcapReader, pcapReader.LinkType())
	for {
		packet, err := packetSource.NextPacket()
		if errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			return res, fmt.Errorf("read packet %d: %w", res.Packets+1, err)
		}
		res.Packets++

		tcpLayer, ok := packet.Layer(layers.LayerTypeTCP).(*layers.TCP)
		if !ok || len(tcpLayer.Payload) == 0 || packet.NetworkLayer() == nil {
			continue
		}

		netFlow := packet.NetworkLayer().NetworkFlow()
		srcIP, dstIP := netFlow.Src().String(), netFlow.Dst().String()
		srcPort, dstPort := int(tcpLayer.SrcPort), int(tcpLayer.DstPort)

		if !matchPorts(opts.Ports, srcPort, dstPort) || !matchHosts(opts.Hosts, srcIP, dstIP) {
			continue
		}
		res.TCPSegments++

		key := flowKey{
			src: joinHostPort(srcIP, srcPort),
			dst: joinHostPort(dstIP, dstPort),
		}
		sp, ok := splitters[key]
		if !ok {
			sp = protocol.NewSplitter(maxLen)
			splitters[key] = sp
			order = append(order, key)
		}
		_, _ = sp.Write(tcpLayer.Payload)

		at := packet.Metadata().Timestamp
		direction := directionOf(opts.Ports, srcPort, dstPort)
		for {
			raw, ok, err := sp.Next()
			if err != nil {
				res.Errors = append(res.Errors, fmt.Sprintf("%s -> %s: %v", key.src, key.dst, err))
				break
			}
			if !ok {
				break
			}
			res.Frames = append(res.Frames, NewFrameRecord(OriginPcap, "", at, key.src, key.dst, direction, raw))
		}
	}

	for _, key := range order {
		res.Leftover += splitters[key].Buffered()
	}
	return res, nil
}

// -----------------------------------------------------------------------------

func matchPorts(ports []int, src, dst int) bool {
	if len(ports) == 0 {
		return true
	}
	return containsInt(ports, src) || containsInt(ports, dst)
}

func matchHosts(hosts []string, src, dst string) bool {
	if len(hosts) == 0 {
		return true
	}
	for _, h := range hosts {
		if h == src || h == dst {
			return true
		}
	}
	return false
}

// directionOf treats the listed ports as server ports. Without a list the
// lower port number is assumed to be the server.
func directionOf(ports []int, src, dst int) string {
	switch {
	case containsInt(ports, dst):
		return models.DirectionClientToServer
	case containsInt(ports, src):
		return models.DirectionServerToClient
	case dst < src:
		return models.DirectionClientToServer
	default:
		return models.DirectionServerToClient
	}
}

func containsInt(list []int, v int) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

func joinHostPort(ip string, port int) string {
	return ip + ":" + strconv.Itoa(port)
}
