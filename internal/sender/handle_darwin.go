//go:build darwin

package sender

import (
	"fmt"

	"github.com/google/gopacket/pcap"
)

// newPacketWriter opens a live pcap handle on iface for frame injection.
// Darwin has no AF_PACKET; pcap is the only injection path.
func newPacketWriter(iface string) (PacketWriter, error) {
	h, err := pcap.OpenLive(iface, 65536, true, pcap.BlockForever)
	if err != nil {
		return nil, fmt.Errorf("pcap open %s: %w", iface, err)
	}
	return h, nil
}

// Tunnel interfaces on darwin (utun) carry a 4-byte protocol family
// header that pcap handles for us, so injection goes through the same
// pcap path.
func newTunnelWriter(iface string) (PacketWriter, error) {
	return newPacketWriter(iface)
}

// OpenBatchHandle is linux-only; sendmmsg has no darwin equivalent.
func OpenBatchHandle(iface string) (*Handle, error) {
	return nil, fmt.Errorf("batched send is not supported on darwin")
}
