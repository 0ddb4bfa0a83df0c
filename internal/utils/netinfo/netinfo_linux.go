//go:build linux

package netinfo

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strings"
)

// getGatewayIP parses /proc/net/route for the default gateway.
func getGatewayIP(iface string) (net.IP, error) {
	data, err := os.ReadFile("/proc/net/route")
	if err != nil {
		return nil, err
	}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 3 {
			continue
		}
		if fields[0] == iface && fields[1] == "00000000" {
			gwHex, err := hex.DecodeString(fields[2])
			if err != nil || len(gwHex) != 4 {
				continue
			}
			return net.IPv4(gwHex[3], gwHex[2], gwHex[1], gwHex[0]), nil
		}
	}
	return nil, fmt.Errorf("no default route found")
}

// getARPEntry parses /proc/net/arp for the MAC of the given IP.
func getARPEntry(ip string) (net.HardwareAddr, error) {
	data, err := os.ReadFile("/proc/net/arp")
	if err != nil {
		return nil, err
	}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Scan() // Skip header
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 4 {
			continue
		}
		if fields[0] == ip {
			mac, err := net.ParseMAC(fields[3])
			if err != nil {
				return nil, err
			}
			return mac, nil
		}
	}
	return nil, fmt.Errorf("ARP entry not found for %s", ip)
}

// pingGateway sends a single ICMP echo to populate the ARP cache.
func pingGateway(ip string) {
	exec.Command("ping", "-c", "1", "-W", "1", ip).Run()
}
