// Package netinfo discovers the interface addressing needed to build raw
// frames: source IP and MAC, and the default gateway's MAC for the
// Ethernet destination.
package netinfo

import (
	"fmt"
	"net"
	"time"
)

// NetworkDetails holds the discovered configuration. On tunnel interfaces
// (wireguard, gre) there is no link layer, so the MAC fields are nil and
// IsTUN is set.
type NetworkDetails struct {
	SrcIP      net.IP
	SrcMAC     net.HardwareAddr
	GatewayIP  net.IP
	GatewayMAC net.HardwareAddr
	IsTUN      bool
}

// GetDetails discovers network info for the given interface.
func GetDetails(ifaceName string) (*NetworkDetails, error) {
	iface, err := net.InterfaceByName(ifaceName)
	if err != nil {
		return nil, fmt.Errorf("interface not found: %w", err)
	}

	addrs, err := iface.Addrs()
	if err != nil {
		return nil, fmt.Errorf("failed to get addrs: %w", err)
	}
	var srcIP net.IP
	for _, addr := range addrs {
		if ipNet, ok := addr.(*net.IPNet); ok && !ipNet.IP.IsLoopback() {
			if ipNet.IP.To4() != nil {
				srcIP = ipNet.IP.To4()
				break
			}
		}
	}
	if srcIP == nil {
		return nil, fmt.Errorf("no IPv4 address found on %s", ifaceName)
	}

	// interfaces without a hardware address have no Ethernet framing
	if len(iface.HardwareAddr) == 0 {
		return &NetworkDetails{SrcIP: srcIP, IsTUN: true}, nil
	}

	gwIP, err := getGatewayIP(ifaceName)
	if err != nil {
		return nil, fmt.Errorf("failed to find gateway: %w", err)
	}

	gwMAC, err := getARPEntry(gwIP.String())
	if err != nil {
		// ping once to populate the ARP cache, then retry
		pingGateway(gwIP.String())
		time.Sleep(100 * time.Millisecond)

		gwMAC, err = getARPEntry(gwIP.String())
		if err != nil {
			return nil, fmt.Errorf("failed to resolve gateway MAC (try pinging %s first): %w", gwIP, err)
		}
	}

	return &NetworkDetails{
		SrcIP:      srcIP,
		SrcMAC:     iface.HardwareAddr,
		GatewayIP:  gwIP,
		GatewayMAC: gwMAC,
	}, nil
}
