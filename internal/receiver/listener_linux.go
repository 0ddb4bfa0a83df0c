//go:build linux

package receiver

import (
	"fmt"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/afpacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	"golang.org/x/net/bpf"
)

// Ring geometry for the AF_PACKET capture. Replies are SYN-ACKs and
// short status segments, so a small frame size keeps more packets
// resident per block. The poll timeout bounds how long a quiet wire can
// park the receive loop; the loop relies on it to observe cancellation.
const (
	ringFrameSize = 4096
	ringBlockSize = 1 << 20
	ringNumBlocks = 64
	readTimeout   = 10 * time.Millisecond

	// snap length the reply filter is compiled against; large enough for
	// any segment the decoder inspects
	filterSnapLen = 4096
)

// ringCapture reads reply segments from a TPacket v3 memory-mapped ring.
type ringCapture struct {
	tp *afpacket.TPacket
}

func (c *ringCapture) ReadPacket() ([]byte, gopacket.CaptureInfo, error) {
	return c.tp.ZeroCopyReadPacketData()
}

func (c *ringCapture) Close() { c.tp.Close() }

// tunnelCapture is the fallback for interfaces without Ethernet framing
// (GRE, SIT, WireGuard). AF_PACKET rings are unreliable on those, so
// libpcap captures there instead, delivering cooked (SLL) frames that
// the receive flow strips before decoding.
type tunnelCapture struct {
	h *pcap.Handle
}

func (c *tunnelCapture) ReadPacket() ([]byte, gopacket.CaptureInfo, error) {
	return c.h.ZeroCopyReadPacketData()
}

func (c *tunnelCapture) Close() { c.h.Close() }

// NewListener opens an AF_PACKET v3 ring on iface for the reply flow.
func NewListener(iface string) (*Listener, error) {
	tp, err := afpacket.NewTPacket(
		afpacket.OptInterface(iface),
		afpacket.OptFrameSize(ringFrameSize),
		afpacket.OptBlockSize(ringBlockSize),
		afpacket.OptNumBlocks(ringNumBlocks),
		afpacket.OptPollTimeout(readTimeout),
		afpacket.OptTPacketVersion(afpacket.TPacketVersion3),
	)
	if err != nil {
		return nil, fmt.Errorf("opening AF_PACKET ring on %s: %w", iface, err)
	}
	return &Listener{Handle: &ringCapture{tp: tp}}, nil
}

// NewTunnelListener opens a libpcap capture for tunnel interfaces.
func NewTunnelListener(iface string) (*Listener, error) {
	h, err := pcap.OpenLive(iface, filterSnapLen, true, readTimeout)
	if err != nil {
		return nil, fmt.Errorf("opening pcap on %s: %w", iface, err)
	}
	return &Listener{Handle: &tunnelCapture{h: h}, UseSLL: true}, nil
}

// SetBPF installs the reply filter so only segments addressed to the
// scanner's source address and port range reach userspace. For the
// AF_PACKET ring the filter is compiled offline against the Ethernet
// link type; no live pcap handle is involved.
func (l *Listener) SetBPF(filter string) error {
	switch h := l.Handle.(type) {
	case *ringCapture:
		insts, err := pcap.CompileBPFFilter(layers.LinkTypeEthernet, filterSnapLen, filter)
		if err != nil {
			return fmt.Errorf("compiling filter %q: %w", filter, err)
		}
		raw := make([]bpf.RawInstruction, len(insts))
		for i, ins := range insts {
			raw[i] = bpf.RawInstruction{Op: ins.Code, Jt: ins.Jt, Jf: ins.Jf, K: ins.K}
		}
		return h.tp.SetBPF(raw)
	case *tunnelCapture:
		return h.h.SetBPFFilter(filter)
	}
	return fmt.Errorf("no BPF support for capture handle %T", l.Handle)
}

// SocketStats reports how many reply packets the ring has seen and how
// many the kernel dropped because the receive loop fell behind. A rising
// drop count means the probe rate is outrunning reply processing.
func (l *Listener) SocketStats() (received, dropped uint64) {
	c, ok := l.Handle.(*ringCapture)
	if !ok {
		return 0, 0
	}
	_, v3, err := c.tp.SocketStats()
	if err != nil {
		return 0, 0
	}
	return uint64(v3.Packets()), uint64(v3.Drops())
}
