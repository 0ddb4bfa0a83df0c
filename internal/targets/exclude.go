package targets

import (
	"fmt"
	"net"
	"os"
	"strings"
)

// ParseExcludeFile reads an exclusion file: one CIDR, "a-b" range, or single
// IP per line; blank lines and # comments are skipped.
func ParseExcludeFile(path string) ([]IPRange, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseExcludeList(strings.Split(string(data), "\n"))
}

// ParseExcludeList parses exclusion rules from individual lines.
func ParseExcludeList(lines []string) ([]IPRange, error) {
	var ranges []IPRange

	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		// trailing comments
		if i := strings.Index(line, "#"); i >= 0 {
			line = strings.TrimSpace(line[:i])
		}

		hasSlash := strings.Contains(line, "/")
		hasHyphen := strings.Contains(line, "-")
		if hasSlash && hasHyphen {
			return nil, fmt.Errorf("invalid exclude range %q: cannot contain both - and /", line)
		}

		switch {
		case hasSlash:
			_, ipnet, err := net.ParseCIDR(line)
			if err != nil {
				return nil, fmt.Errorf("invalid exclude CIDR %q: %w", line, err)
			}
			start := IPToUint32(ipnet.IP)
			ones, bits := ipnet.Mask.Size()
			if bits != 32 {
				return nil, fmt.Errorf("invalid exclude CIDR %q: not IPv4", line)
			}
			end := start | (1<<(32-ones) - 1)
			ranges = append(ranges, IPRange{Start: start, End: end})

		case hasHyphen:
			parts := strings.SplitN(line, "-", 2)
			start := net.ParseIP(strings.TrimSpace(parts[0]))
			end := net.ParseIP(strings.TrimSpace(parts[1]))
			if start == nil || end == nil {
				return nil, fmt.Errorf("invalid exclude range %q", line)
			}
			s, e := IPToUint32(start), IPToUint32(end)
			if s > e {
				return nil, fmt.Errorf("invalid exclude range %q: start greater than end", line)
			}
			ranges = append(ranges, IPRange{Start: s, End: e})

		default:
			ip := net.ParseIP(line)
			if ip == nil {
				return nil, fmt.Errorf("invalid exclude IP %q", line)
			}
			n := IPToUint32(ip)
			ranges = append(ranges, IPRange{Start: n, End: n})
		}
	}

	return ranges, nil
}

// ParseInclude parses an include target: CIDR, single IP, or "a-b" range,
// crossed with the given ports.
func ParseInclude(spec string, ports []uint16) ([]ScanRange, error) {
	var ipr IPRange

	switch {
	case strings.Contains(spec, "/"):
		_, ipnet, err := net.ParseCIDR(spec)
		if err != nil {
			return nil, fmt.Errorf("invalid target CIDR %q: %w", spec, err)
		}
		start := IPToUint32(ipnet.IP)
		ones, bits := ipnet.Mask.Size()
		if bits != 32 {
			return nil, fmt.Errorf("invalid target CIDR %q: not IPv4", spec)
		}
		ipr = IPRange{Start: start, End: start | (1<<(32-ones) - 1)}

	case strings.Contains(spec, "-"):
		parts := strings.SplitN(spec, "-", 2)
		start := net.ParseIP(strings.TrimSpace(parts[0]))
		end := net.ParseIP(strings.TrimSpace(parts[1]))
		if start == nil || end == nil {
			return nil, fmt.Errorf("invalid target range %q", spec)
		}
		ipr = IPRange{Start: IPToUint32(start), End: IPToUint32(end)}

	default:
		ip := net.ParseIP(spec)
		if ip == nil {
			return nil, fmt.Errorf("invalid target IP %q", spec)
		}
		n := IPToUint32(ip)
		ipr = IPRange{Start: n, End: n}
	}

	ranges := make([]ScanRange, 0, len(ports))
	for _, p := range ports {
		ranges = append(ranges, SinglePort(ipr.Start, ipr.End, p))
	}
	return ranges, nil
}
