package packet

import (
	"encoding/binary"
	"errors"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// ErrNotTCP is returned for frames that aren't IPv4 TCP.
var ErrNotTCP = errors.New("packet: not an IPv4 TCP frame")

// ErrBadChecksum is returned for frames that fail IP or TCP checksum
// validation. They are indistinguishable from line noise and are dropped
// without further processing.
var ErrBadChecksum = errors.New("packet: checksum mismatch")

// Inbound is a decoded TCP segment in scanner-friendly form.
type Inbound struct {
	SrcIP   uint32
	DstIP   uint32
	SrcPort uint16
	DstPort uint16
	Seq     uint32
	Ack     uint32
	SYN     bool
	ACK     bool
	RST     bool
	FIN     bool
	TTL     uint8
	Payload []byte
}

// Decoder parses raw frames with a reusable gopacket DecodingLayerParser.
// Not safe for concurrent use; the receive flow owns one.
type Decoder struct {
	parser  *gopacket.DecodingLayerParser
	eth     layers.Ethernet
	ip4     layers.IPv4
	tcp     layers.TCP
	payload gopacket.Payload
	decoded []gopacket.LayerType
	linkEth bool
}

// NewDecoder creates a decoder. linkEth selects Ethernet framing; pass
// false for raw IP capture (tunnel interfaces).
func NewDecoder(linkEth bool) *Decoder {
	d := &Decoder{linkEth: linkEth}
	first := gopacket.LayerType(layers.LayerTypeIPv4)
	if linkEth {
		first = layers.LayerTypeEthernet
	}
	d.parser = gopacket.NewDecodingLayerParser(first, &d.eth, &d.ip4, &d.tcp, &d.payload)
	d.parser.IgnoreUnsupported = true
	return d
}

// Decode parses one frame. Frames that are not IPv4 TCP, are truncated, or
// fail checksum validation return an error; the caller drops them silently.
func (d *Decoder) Decode(frame []byte) (Inbound, error) {
	d.decoded = d.decoded[:0]
	if err := d.parser.DecodeLayers(frame, &d.decoded); err != nil {
		return Inbound{}, ErrNotTCP
	}

	var sawIP, sawTCP bool
	for _, lt := range d.decoded {
		switch lt {
		case layers.LayerTypeIPv4:
			sawIP = true
		case layers.LayerTypeTCP:
			sawTCP = true
		}
	}
	if !sawIP || !sawTCP {
		return Inbound{}, ErrNotTCP
	}

	if !verifyIPv4Checksum(d.ip4.Contents) {
		return Inbound{}, ErrBadChecksum
	}
	if !verifyTCPChecksum(&d.ip4, d.tcp.Contents, d.tcp.Payload) {
		return Inbound{}, ErrBadChecksum
	}

	return Inbound{
		SrcIP:   binary.BigEndian.Uint32(d.ip4.SrcIP.To4()),
		DstIP:   binary.BigEndian.Uint32(d.ip4.DstIP.To4()),
		SrcPort: uint16(d.tcp.SrcPort),
		DstPort: uint16(d.tcp.DstPort),
		Seq:     d.tcp.Seq,
		Ack:     d.tcp.Ack,
		SYN:     d.tcp.SYN,
		ACK:     d.tcp.ACK,
		RST:     d.tcp.RST,
		FIN:     d.tcp.FIN,
		TTL:     d.ip4.TTL,
		Payload: d.tcp.Payload,
	}, nil
}

func verifyIPv4Checksum(header []byte) bool {
	if len(header) < 20 {
		return false
	}
	return onesComplementSum(header, 0) == 0xffff
}

// verifyTCPChecksum checks the TCP checksum over the pseudo-header,
// TCP header, and payload.
func verifyTCPChecksum(ip *layers.IPv4, tcpHeader, payload []byte) bool {
	if len(tcpHeader) < 20 {
		return false
	}

	var pseudo [12]byte
	copy(pseudo[0:4], ip.SrcIP.To4())
	copy(pseudo[4:8], ip.DstIP.To4())
	pseudo[9] = uint8(layers.IPProtocolTCP)
	binary.BigEndian.PutUint16(pseudo[10:12], uint16(len(tcpHeader)+len(payload)))

	sum := onesComplementAdd(0, pseudo[:])
	sum = onesComplementAdd(sum, tcpHeader)
	sum = onesComplementAdd(sum, payload)
	return sum == 0xffff
}

func onesComplementSum(data []byte, initial uint32) uint16 {
	return onesComplementAdd(uint16(initial), data)
}

func onesComplementAdd(initial uint16, data []byte) uint16 {
	sum := uint32(initial)
	for i := 0; i+1 < len(data); i += 2 {
		sum += uint32(binary.BigEndian.Uint16(data[i : i+2]))
	}
	if len(data)%2 == 1 {
		sum += uint32(data[len(data)-1]) << 8
	}
	for sum > 0xffff {
		sum = (sum & 0xffff) + (sum >> 16)
	}
	return uint16(sum)
}
