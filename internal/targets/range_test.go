package targets

import (
	"net"
	"testing"
)

func ip(s string) uint32 {
	return IPToUint32(net.ParseIP(s))
}

func TestExcludeCenter(t *testing.T) {
	var ranges ScanRanges
	ranges.Extend(SinglePort(ip("1.32.32.32"), ip("1.128.128.128"), 0))

	ranges.Exclude(IPRange{Start: ip("1.64.64.64"), End: ip("1.96.96.96")})

	got := ranges.Ranges()
	want := []ScanRange{
		SinglePort(ip("1.32.32.32"), ip("1.64.64.63"), 0),
		SinglePort(ip("1.96.96.97"), ip("1.128.128.128"), 0),
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d ranges, got %d: %+v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("range %d: got %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestExcludeLeft(t *testing.T) {
	var ranges ScanRanges
	ranges.Extend(SinglePort(ip("1.32.32.32"), ip("1.128.128.128"), 0))

	ranges.Exclude(IPRange{Start: ip("1.32.32.32"), End: ip("1.96.96.96")})

	got := ranges.Ranges()
	if len(got) != 1 {
		t.Fatalf("expected 1 range, got %d", len(got))
	}
	want := SinglePort(ip("1.96.96.97"), ip("1.128.128.128"), 0)
	if got[0] != want {
		t.Errorf("got %+v, want %+v", got[0], want)
	}
}

func TestExcludeRight(t *testing.T) {
	var ranges ScanRanges
	ranges.Extend(SinglePort(ip("1.32.32.32"), ip("1.128.128.128"), 0))

	ranges.Exclude(IPRange{Start: ip("1.96.96.96"), End: ip("1.128.128.128")})

	got := ranges.Ranges()
	if len(got) != 1 {
		t.Fatalf("expected 1 range, got %d", len(got))
	}
	want := SinglePort(ip("1.32.32.32"), ip("1.96.96.95"), 0)
	if got[0] != want {
		t.Errorf("got %+v, want %+v", got[0], want)
	}
}

func TestStaticIndexAcrossRanges(t *testing.T) {
	var ranges ScanRanges
	ranges.Extend(
		ScanRange{AddrStart: ip("10.0.0.0"), AddrEnd: ip("10.0.0.3"), PortStart: 25565, PortEnd: 25566},
		Single(ip("192.168.1.1"), 25565),
	)
	static := ranges.Static()

	if static.Count != 4*2+1 {
		t.Fatalf("expected 9 targets, got %d", static.Count)
	}

	// every index resolves, and resolves uniquely
	seen := make(map[Target]bool)
	for i := uint64(0); i < static.Count; i++ {
		tgt := static.Index(i)
		if seen[tgt] {
			t.Fatalf("index %d: duplicate target %v", i, tgt)
		}
		seen[tgt] = true
	}
	if !seen[Target{IP: ip("192.168.1.1"), Port: 25565}] {
		t.Error("single-target range not covered")
	}
}

func TestParsePorts(t *testing.T) {
	ports, err := ParsePorts("25565,25560-25562")
	if err != nil {
		t.Fatal(err)
	}
	want := []uint16{25565, 25560, 25561, 25562}
	if len(ports) != len(want) {
		t.Fatalf("got %v, want %v", ports, want)
	}
	for i := range want {
		if ports[i] != want[i] {
			t.Errorf("port %d: got %d, want %d", i, ports[i], want[i])
		}
	}

	if _, err := ParsePorts("70000"); err == nil {
		t.Error("expected error for out-of-range port")
	}
	if _, err := ParsePorts("1000-10"); err == nil {
		t.Error("expected error for inverted range")
	}
}

func TestParseExcludeList(t *testing.T) {
	ranges, err := ParseExcludeList([]string{
		"# comment",
		"",
		"10.0.0.0/8",
		"192.168.0.1-192.168.0.5 # inline comment",
		"1.2.3.4",
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(ranges) != 3 {
		t.Fatalf("expected 3 ranges, got %d", len(ranges))
	}
	if ranges[0].Start != ip("10.0.0.0") || ranges[0].End != ip("10.255.255.255") {
		t.Errorf("CIDR parsed wrong: %+v", ranges[0])
	}
	if ranges[1].Start != ip("192.168.0.1") || ranges[1].End != ip("192.168.0.5") {
		t.Errorf("hyphen range parsed wrong: %+v", ranges[1])
	}
	if ranges[2].Start != ip("1.2.3.4") || ranges[2].End != ip("1.2.3.4") {
		t.Errorf("single IP parsed wrong: %+v", ranges[2])
	}

	if _, err := ParseExcludeList([]string{"10.0.0.0/8-10.0.0.5"}); err == nil {
		t.Error("expected error for mixed - and /")
	}
}
