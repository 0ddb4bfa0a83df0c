package targets

import (
	"encoding/binary"
	"net"
	"sort"
)

// IPToUint32 converts a net.IP to its 32-bit big-endian value.
func IPToUint32(ip net.IP) uint32 {
	if ip4 := ip.To4(); ip4 != nil {
		return binary.BigEndian.Uint32(ip4)
	}
	return 0
}

// Uint32ToIP converts a 32-bit value back to a net.IP.
func Uint32ToIP(n uint32) net.IP {
	ip := make(net.IP, 4)
	binary.BigEndian.PutUint32(ip, n)
	return ip
}

// ScanRange is a contiguous block of addresses crossed with a port range.
type ScanRange struct {
	AddrStart uint32
	AddrEnd   uint32 // inclusive
	PortStart uint16
	PortEnd   uint16 // inclusive
}

// Single returns a range covering exactly one (ip, port) pair.
func Single(addr uint32, port uint16) ScanRange {
	return ScanRange{AddrStart: addr, AddrEnd: addr, PortStart: port, PortEnd: port}
}

// SinglePort returns an address block crossed with one port.
func SinglePort(addrStart, addrEnd uint32, port uint16) ScanRange {
	return ScanRange{AddrStart: addrStart, AddrEnd: addrEnd, PortStart: port, PortEnd: port}
}

func (r ScanRange) countAddresses() uint64 {
	return uint64(r.AddrEnd-r.AddrStart) + 1
}

func (r ScanRange) countPorts() uint64 {
	return uint64(r.PortEnd-r.PortStart) + 1
}

// Count is the number of (address, port) combinations in this range.
func (r ScanRange) Count() uint64 {
	return r.countAddresses() * r.countPorts()
}

// Index returns the (address, port) pair at the given index within the range.
func (r ScanRange) Index(index uint64) Target {
	portCount := r.countPorts()
	return Target{
		IP:   r.AddrStart + uint32(index/portCount),
		Port: r.PortStart + uint16(index%portCount),
	}
}

// Target is a single (ip, port) scan target.
type Target struct {
	IP   uint32
	Port uint16
}

// Addr formats the target as a dotted quad with port.
func (t Target) Addr() string {
	return net.JoinHostPort(Uint32ToIP(t.IP).String(), portString(t.Port))
}

func portString(p uint16) string {
	// strconv.Itoa without the import churn in hot-ish paths
	var buf [5]byte
	i := len(buf)
	for {
		i--
		buf[i] = byte('0' + p%10)
		p /= 10
		if p == 0 {
			break
		}
	}
	return string(buf[i:])
}

// IPRange is an inclusive block of addresses with no port component.
type IPRange struct {
	Start uint32
	End   uint32
}

// ScanRanges is a set of scan ranges kept sorted by start address.
type ScanRanges struct {
	ranges []ScanRange
}

// Extend adds ranges to the set and re-sorts.
func (s *ScanRanges) Extend(ranges ...ScanRange) {
	s.ranges = append(s.ranges, ranges...)
	sort.Slice(s.ranges, func(i, j int) bool {
		return s.ranges[i].AddrStart < s.ranges[j].AddrStart
	})
}

// Exclude removes the given inclusive address block from every range,
// splitting ranges that straddle it. Returns true if anything was removed.
func (s *ScanRanges) Exclude(ex IPRange) bool {
	i := 0
	for i < len(s.ranges) && s.ranges[i].AddrEnd < ex.Start {
		i++
	}

	var queued []ScanRange
	removed := false

	for i < len(s.ranges) && s.ranges[i].AddrStart <= ex.End {
		r := &s.ranges[i]
		switch {
		case r.AddrStart >= ex.Start && r.AddrEnd <= ex.End:
			// fully contained in the exclusion
			s.ranges = append(s.ranges[:i], s.ranges[i+1:]...)
			removed = true
		case r.AddrStart < ex.Start && r.AddrEnd > ex.End:
			// exclusion splits the range in two
			queued = append(queued, ScanRange{
				AddrStart: ex.End + 1,
				AddrEnd:   r.AddrEnd,
				PortStart: r.PortStart,
				PortEnd:   r.PortEnd,
			})
			r.AddrEnd = ex.Start - 1
			i++
			removed = true
		case r.AddrStart < ex.Start:
			// cut off the tail
			r.AddrEnd = ex.Start - 1
			i++
			removed = true
		default:
			// cut off the head; re-add later since AddrStart determines sort position
			cut := s.ranges[i]
			s.ranges = append(s.ranges[:i], s.ranges[i+1:]...)
			queued = append(queued, ScanRange{
				AddrStart: ex.End + 1,
				AddrEnd:   cut.AddrEnd,
				PortStart: cut.PortStart,
				PortEnd:   cut.PortEnd,
			})
			removed = true
		}
	}

	if len(queued) > 0 {
		s.Extend(queued...)
	}
	return removed
}

// ExcludeAll applies a list of exclusions.
func (s *ScanRanges) ExcludeAll(exs []IPRange) {
	for _, ex := range exs {
		s.Exclude(ex)
	}
}

// Count is the total number of targets across all ranges.
func (s *ScanRanges) Count() uint64 {
	var total uint64
	for _, r := range s.ranges {
		total += r.Count()
	}
	return total
}

// Ranges exposes the sorted ranges.
func (s *ScanRanges) Ranges() []ScanRange {
	return s.ranges
}

// Static freezes the set into an indexable form with cumulative offsets.
func (s *ScanRanges) Static() *StaticScanRanges {
	out := &StaticScanRanges{
		ranges: make([]staticRange, 0, len(s.ranges)),
	}
	var index uint64
	for _, r := range s.ranges {
		count := r.Count()
		out.ranges = append(out.ranges, staticRange{
			ScanRange: r,
			count:     count,
			index:     index,
		})
		index += count
	}
	out.Count = index
	return out
}

// StaticScanRanges supports O(log n) global indexing across all ranges.
type StaticScanRanges struct {
	ranges []staticRange
	Count  uint64
}

type staticRange struct {
	ScanRange
	count uint64
	index uint64 // cumulative start
}

// Index maps a global index in [0, Count) to a target.
func (s *StaticScanRanges) Index(index uint64) Target {
	lo, hi := 0, len(s.ranges)
	for lo < hi {
		mid := (lo + hi) / 2
		r := &s.ranges[mid]
		switch {
		case r.index+r.count <= index:
			lo = mid + 1
		case r.index > index:
			hi = mid
		default:
			return r.ScanRange.Index(index - r.index)
		}
	}
	panic("targets: index out of bounds")
}
