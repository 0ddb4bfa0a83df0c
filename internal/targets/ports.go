package targets

import (
	"fmt"
	"strconv"
	"strings"
)

// ParsePorts expands a string like "25565,25560-25570" into a slice of uint16.
func ParsePorts(spec string) ([]uint16, error) {
	var ports []uint16

	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if strings.Contains(part, "-") {
			rangeParts := strings.Split(part, "-")
			if len(rangeParts) != 2 {
				return nil, fmt.Errorf("invalid port range: %s", part)
			}
			start, err1 := strconv.Atoi(rangeParts[0])
			end, err2 := strconv.Atoi(rangeParts[1])
			if err1 != nil || err2 != nil {
				return nil, fmt.Errorf("invalid port numbers: %s", part)
			}
			if start > end || start < 1 || end > 65535 {
				return nil, fmt.Errorf("invalid port range bounds: %d-%d", start, end)
			}
			for p := start; p <= end; p++ {
				ports = append(ports, uint16(p))
			}
		} else {
			p, err := strconv.Atoi(part)
			if err != nil {
				return nil, fmt.Errorf("invalid port: %s", part)
			}
			if p < 1 || p > 65535 {
				return nil, fmt.Errorf("port out of range: %d", p)
			}
			ports = append(ports, uint16(p))
		}
	}

	if len(ports) == 0 {
		return nil, fmt.Errorf("no ports in spec %q", spec)
	}
	return ports, nil
}
