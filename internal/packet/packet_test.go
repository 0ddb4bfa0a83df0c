package packet

import (
	"errors"
	"net"
	"testing"
)

func testBuilder() *Builder {
	srcMAC, _ := net.ParseMAC("02:00:00:00:00:01")
	dstMAC, _ := net.ParseMAC("02:00:00:00:00:02")
	return NewBuilder(srcMAC, dstMAC, net.ParseIP("10.0.0.1"))
}

func TestBuildDecodeRoundTrip(t *testing.T) {
	b := testBuilder()
	frame, err := b.BuildSYN(net.ParseIP("192.168.1.50"), 61000, 25565, 0xdeadbeef)
	if err != nil {
		t.Fatal(err)
	}

	d := NewDecoder(true)
	in, err := d.Decode(frame)
	if err != nil {
		t.Fatal(err)
	}

	if in.SrcIP != 0x0a000001 {
		t.Errorf("SrcIP = %08x", in.SrcIP)
	}
	if in.DstIP != 0xc0a80132 {
		t.Errorf("DstIP = %08x", in.DstIP)
	}
	if in.SrcPort != 61000 || in.DstPort != 25565 {
		t.Errorf("ports = %d→%d", in.SrcPort, in.DstPort)
	}
	if in.Seq != 0xdeadbeef {
		t.Errorf("Seq = %08x", in.Seq)
	}
	if !in.SYN || in.ACK || in.RST {
		t.Errorf("flags wrong: %+v", in)
	}
}

func TestDecodePayload(t *testing.T) {
	b := testBuilder()
	payload := []byte("hello status")
	frame, err := b.Build(Request{
		DstIP:   net.ParseIP("192.168.1.50"),
		SrcPort: 61000,
		DstPort: 25565,
		Seq:     100,
		Ack:     200,
		Flags:   FlagPSH | FlagACK,
		Payload: payload,
	})
	if err != nil {
		t.Fatal(err)
	}

	in, err := NewDecoder(true).Decode(frame)
	if err != nil {
		t.Fatal(err)
	}
	if string(in.Payload) != string(payload) {
		t.Errorf("payload = %q", in.Payload)
	}
	if !in.ACK || in.SYN {
		t.Errorf("flags wrong: %+v", in)
	}
	if in.Ack != 200 {
		t.Errorf("Ack = %d", in.Ack)
	}
}

func TestDecodeCorruptChecksum(t *testing.T) {
	b := testBuilder()
	frame, err := b.BuildSYN(net.ParseIP("192.168.1.50"), 61000, 25565, 1)
	if err != nil {
		t.Fatal(err)
	}

	// flip a bit in the TCP sequence number without fixing the checksum
	corrupted := make([]byte, len(frame))
	copy(corrupted, frame)
	corrupted[14+20+4] ^= 0xff

	_, err = NewDecoder(true).Decode(corrupted)
	if !errors.Is(err, ErrBadChecksum) {
		t.Errorf("expected ErrBadChecksum, got %v", err)
	}
}

func TestDecodeNonTCP(t *testing.T) {
	_, err := NewDecoder(true).Decode([]byte{0x01, 0x02, 0x03})
	if err == nil {
		t.Error("expected error for garbage frame")
	}
}
