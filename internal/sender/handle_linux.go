//go:build linux

package sender

import (
	"fmt"
	"net"
	"time"

	"github.com/google/gopacket/afpacket"
	"golang.org/x/sys/unix"
)

// newPacketWriter opens an AF_PACKET TPacketV3 socket bound to iface for
// Ethernet frame injection.
func newPacketWriter(iface string) (PacketWriter, error) {
	tp, err := afpacket.NewTPacket(
		afpacket.OptInterface(iface),
		afpacket.OptFrameSize(2048),
		afpacket.OptBlockSize(1024*1024),
		afpacket.OptNumBlocks(64),
		afpacket.OptPollTimeout(time.Millisecond),
		afpacket.OptTPacketVersion(afpacket.TPacketVersion3),
	)
	if err != nil {
		return nil, fmt.Errorf("afpacket open %s: %w", iface, err)
	}
	return tp, nil
}

// tunnelWriter injects IPv4 packets through a raw socket with IP_HDRINCL,
// for interfaces without Ethernet framing (wireguard, gre).
type tunnelWriter struct {
	fd int
}

func newTunnelWriter(iface string) (PacketWriter, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_RAW, unix.IPPROTO_RAW)
	if err != nil {
		return nil, fmt.Errorf("raw socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_HDRINCL, 1); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("IP_HDRINCL: %w", err)
	}
	if iface != "" {
		if err := unix.BindToDevice(fd, iface); err != nil {
			unix.Close(fd)
			return nil, fmt.Errorf("bind to %s: %w", iface, err)
		}
	}
	return &tunnelWriter{fd: fd}, nil
}

// WritePacketData expects a frame starting at the IPv4 header. The kernel
// routes on the destination address in the header; the sockaddr port is
// ignored for IPPROTO_RAW.
func (w *tunnelWriter) WritePacketData(data []byte) error {
	if len(data) < 20 {
		return fmt.Errorf("short packet: %d bytes", len(data))
	}
	dst := net.IP(data[16:20])
	sa := &unix.SockaddrInet4{}
	copy(sa.Addr[:], dst.To4())
	return unix.Sendto(w.fd, data, 0, sa)
}

func (w *tunnelWriter) Close() {
	unix.Close(w.fd)
}
