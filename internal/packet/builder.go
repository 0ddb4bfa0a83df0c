package packet

import (
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// TCP flag sets used by the scan engine.
type Flags uint8

const (
	FlagSYN Flags = 1 << iota
	FlagACK
	FlagRST
	FlagFIN
	FlagPSH
)

// Builder serializes raw Ethernet+IPv4+TCP frames from a static template.
// Not safe for concurrent use; each sender shard owns one.
type Builder struct {
	eth    layers.Ethernet
	ip4    layers.IPv4
	tcp    layers.TCP
	opts   gopacket.SerializeOptions
	buf    gopacket.SerializeBuffer
	hasEth bool
}

// NewBuilder initializes a builder with the static link/network template.
// srcMAC/dstMAC may be nil for interfaces without Ethernet framing (tunnels);
// the frame then starts at the IPv4 header.
func NewBuilder(srcMAC, dstMAC net.HardwareAddr, srcIP net.IP) *Builder {
	return &Builder{
		eth: layers.Ethernet{
			SrcMAC:       srcMAC,
			DstMAC:       dstMAC,
			EthernetType: layers.EthernetTypeIPv4,
		},
		ip4: layers.IPv4{
			SrcIP:    srcIP.To4(),
			Version:  4,
			TTL:      64,
			Protocol: layers.IPProtocolTCP,
		},
		opts: gopacket.SerializeOptions{
			ComputeChecksums: true,
			FixLengths:       true,
		},
		buf:    gopacket.NewSerializeBuffer(),
		hasEth: srcMAC != nil && dstMAC != nil,
	}
}

// Request describes a single outbound TCP segment.
type Request struct {
	DstIP   net.IP
	SrcPort uint16
	DstPort uint16
	Seq     uint32
	Ack     uint32
	Flags   Flags
	Payload []byte
}

// Build serializes the segment. The returned slice is valid only until the
// next Build call.
func (b *Builder) Build(req Request) ([]byte, error) {
	b.buf.Clear()

	b.ip4.DstIP = req.DstIP.To4()
	b.tcp = layers.TCP{
		SrcPort: layers.TCPPort(req.SrcPort),
		DstPort: layers.TCPPort(req.DstPort),
		Seq:     req.Seq,
		Ack:     req.Ack,
		SYN:     req.Flags&FlagSYN != 0,
		ACK:     req.Flags&FlagACK != 0,
		RST:     req.Flags&FlagRST != 0,
		FIN:     req.Flags&FlagFIN != 0,
		PSH:     req.Flags&FlagPSH != 0,
		Window:  32768,
	}
	if req.Flags&FlagSYN != 0 {
		// a plausible MSS keeps middleboxes from flagging the probe
		b.tcp.Options = []layers.TCPOption{{
			OptionType:   layers.TCPOptionKindMSS,
			OptionLength: 4,
			OptionData:   []byte{0x05, 0xb4},
		}}
		b.tcp.Window = 1024
	}
	b.tcp.SetNetworkLayerForChecksum(&b.ip4)

	var err error
	if b.hasEth {
		err = gopacket.SerializeLayers(b.buf, b.opts,
			&b.eth, &b.ip4, &b.tcp, gopacket.Payload(req.Payload))
	} else {
		err = gopacket.SerializeLayers(b.buf, b.opts,
			&b.ip4, &b.tcp, gopacket.Payload(req.Payload))
	}
	if err != nil {
		return nil, err
	}
	return b.buf.Bytes(), nil
}

// BuildSYN is the hot-path constructor for probe packets: sequence number
// is the cookie.
func (b *Builder) BuildSYN(dstIP net.IP, srcPort, dstPort uint16, seq uint32) ([]byte, error) {
	return b.Build(Request{
		DstIP:   dstIP,
		SrcPort: srcPort,
		DstPort: dstPort,
		Seq:     seq,
		Flags:   FlagSYN,
	})
}
