//go:build darwin

package receiver

import (
	"fmt"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcap"
)

// Reads return after this long on a quiet wire so the receive loop can
// observe cancellation between packets.
const readTimeout = 10 * time.Millisecond

const snapLen = 4096

// bpfCapture reads reply segments through the BSD packet filter.
type bpfCapture struct {
	h *pcap.Handle
}

func (c *bpfCapture) ReadPacket() ([]byte, gopacket.CaptureInfo, error) {
	return c.h.ReadPacketData()
}

func (c *bpfCapture) Close() { c.h.Close() }

// NewListener opens a libpcap capture on iface for the reply flow.
func NewListener(iface string) (*Listener, error) {
	h, err := pcap.OpenLive(iface, snapLen, true, readTimeout)
	if err != nil {
		return nil, fmt.Errorf("opening pcap on %s: %w", iface, err)
	}
	return &Listener{Handle: &bpfCapture{h: h}}, nil
}

// NewTunnelListener is NewListener; libpcap covers every interface type
// on this platform.
func NewTunnelListener(iface string) (*Listener, error) {
	return NewListener(iface)
}

// SetBPF installs the reply filter so only segments addressed to the
// scanner's source address and port range reach userspace.
func (l *Listener) SetBPF(filter string) error {
	c, ok := l.Handle.(*bpfCapture)
	if !ok {
		return fmt.Errorf("no BPF support for capture handle %T", l.Handle)
	}
	return c.h.SetBPFFilter(filter)
}

// SocketStats reports packets seen and dropped by the kernel filter.
func (l *Listener) SocketStats() (received, dropped uint64) {
	c, ok := l.Handle.(*bpfCapture)
	if !ok {
		return 0, 0
	}
	st, err := c.h.Stats()
	if err != nil {
		return 0, 0
	}
	return uint64(st.PacketsReceived), uint64(st.PacketsDropped)
}
