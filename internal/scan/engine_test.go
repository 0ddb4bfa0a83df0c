package scan

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mat-1/matscan/internal/config"
	"github.com/mat-1/matscan/internal/mcproto"
	"github.com/mat-1/matscan/internal/packet"
	"github.com/mat-1/matscan/internal/results"
	"github.com/mat-1/matscan/internal/sender"
	"github.com/mat-1/matscan/internal/targets"
)

type fakeWriter struct {
	frames [][]byte
}

func (f *fakeWriter) WritePacketData(data []byte) error {
	cp := make([]byte, len(data))
	copy(cp, data)
	f.frames = append(f.frames, cp)
	return nil
}

func (f *fakeWriter) Close() {}

type collectSink struct {
	recs []any
}

func (c *collectSink) Write(rec any) error {
	c.recs = append(c.recs, rec)
	return nil
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Scan.Ports = "25565"
	cfg.Scan.DefaultPort = 25565
	cfg.Scan.Rate = 1000
	cfg.Scan.Shards = 1
	cfg.Scan.SourcePortMin = 61000
	cfg.Scan.SourcePortMax = 61255
	cfg.Scan.ProtocolVersion = 763
	cfg.Scan.Hostname = "localhost"
	cfg.Scan.PingTimeout.Duration = 30 * time.Second
	cfg.Scan.SecretRotation.Duration = 2 * time.Minute
	cfg.Scan.MaxPending = 1024
	cfg.Scan.AliasThreshold = 5
	cfg.Rescan.RescanEvery.Duration = 6 * time.Hour
	cfg.Rescan.PlayersOnlineEvery.Duration = 30 * time.Minute
	cfg.Rescan.PlayersOnlineWindow.Duration = 24 * time.Hour
	cfg.Rescan.DeadAfterFailures = 3
	return cfg
}

func newTestEngine(t *testing.T, cfg *config.Config) (*Engine, *fakeWriter, *collectSink) {
	t.Helper()
	w := &fakeWriter{}
	sink := &collectSink{}
	e, err := New(cfg, Deps{
		Handle: sender.NewHandle(w),
		Sink:   sink,
		SrcIP:  []byte{192, 0, 2, 1},
	}, zerolog.Nop())
	require.NoError(t, err)
	return e, w, sink
}

// frameStatus wraps a status JSON in the length-prefixed response packet.
func frameStatus(json string) []byte {
	body := mcproto.WriteVarInt(nil, 0x00) // packet id
	body = mcproto.WriteVarInt(body, int32(len(json)))
	body = append(body, json...)

	out := mcproto.WriteVarInt(nil, int32(len(body)))
	return append(out, body...)
}

const statusJSON = `{"version": {"name": "1.20.1", "protocol": 763}, ` +
	`"description": "A Minecraft Server", ` +
	`"players": {"max": 20, "online": 1, "sample": [{"name": "Notch", "id": "069a79f4-44e9-4726-a5be-fca90e38aaf5"}]}}`

// synAck builds a validated SYN-ACK for the target.
func (e *Engine) synAck(target targets.Target, serverSeq uint32) packet.Inbound {
	epoch := e.secret.Epoch(time.Now())
	cookie := e.secret.Generate(e.srcIP, target.IP, target.Port, epoch)
	return packet.Inbound{
		SrcIP:   target.IP,
		DstIP:   e.srcIP,
		SrcPort: target.Port,
		DstPort: 61007,
		Seq:     serverSeq,
		Ack:     cookie + 1,
		SYN:     true,
		ACK:     true,
	}
}

func TestHandshakeToRecord(t *testing.T) {
	e, w, sink := newTestEngine(t, testConfig())
	hellos := make(map[uint16][]byte)
	target := targets.Target{IP: 0x0a000001, Port: 25565}

	sa := e.synAck(target, 5000)
	e.handleSegment(sa, hellos)

	// ACK + status request goes out immediately
	require.Len(t, w.frames, 1)
	dec := packet.NewDecoder(false)
	out, err := dec.Decode(w.frames[0])
	require.NoError(t, err)
	assert.True(t, out.ACK)
	assert.False(t, out.SYN)
	assert.Equal(t, sa.Ack, out.Seq)
	assert.Equal(t, uint32(5001), out.Ack)
	assert.NotEmpty(t, out.Payload, "application hello must ride on the ACK")
	require.Equal(t, 1, e.table.Len())

	hello := e.hello(target.Port, hellos)
	data := packet.Inbound{
		SrcIP:   target.IP,
		DstIP:   e.srcIP,
		SrcPort: target.Port,
		DstPort: 61007,
		Seq:     5001,
		Ack:     sa.Ack + uint32(len(hello)),
		ACK:     true,
		Payload: frameStatus(statusJSON),
	}
	e.handleSegment(data, hellos)

	// connection torn down, record emitted
	assert.Equal(t, 0, e.table.Len())
	require.Len(t, w.frames, 2)
	fin, err := dec.Decode(w.frames[1])
	require.NoError(t, err)
	assert.True(t, fin.FIN)
	assert.True(t, fin.ACK)

	require.Len(t, sink.recs, 1)
	rec, ok := sink.recs[0].(*results.ServerRecord)
	require.True(t, ok)
	assert.Equal(t, "10.0.0.1", rec.IP)
	assert.Equal(t, uint16(25565), rec.Port)
	require.NotNil(t, rec.VersionProtocol)
	assert.Equal(t, 763, *rec.VersionProtocol)
	require.Len(t, rec.Players, 1)
	assert.Equal(t, "Notch", rec.Players[0].Username)

	assert.Equal(t, 1, e.rescan.Tracked())
}

func TestResponseAcrossSegments(t *testing.T) {
	e, w, sink := newTestEngine(t, testConfig())
	hellos := make(map[uint16][]byte)
	target := targets.Target{IP: 0x0a000002, Port: 25565}

	sa := e.synAck(target, 100)
	e.handleSegment(sa, hellos)
	hello := e.hello(target.Port, hellos)
	ack := sa.Ack + uint32(len(hello))

	full := frameStatus(statusJSON)
	first, second := full[:10], full[10:]

	e.handleSegment(packet.Inbound{
		SrcIP: target.IP, DstIP: e.srcIP, SrcPort: target.Port, DstPort: 61007,
		Seq: 101, Ack: ack, ACK: true, Payload: first,
	}, hellos)

	// partial: plain ACK, entry stays
	require.Len(t, w.frames, 2)
	dec := packet.NewDecoder(false)
	mid, err := dec.Decode(w.frames[1])
	require.NoError(t, err)
	assert.False(t, mid.FIN)
	assert.Equal(t, uint32(101+len(first)), mid.Ack)
	assert.Equal(t, 1, e.table.Len())
	assert.Empty(t, sink.recs)

	e.handleSegment(packet.Inbound{
		SrcIP: target.IP, DstIP: e.srcIP, SrcPort: target.Port, DstPort: 61007,
		Seq: uint32(101 + len(first)), Ack: ack, ACK: true, Payload: second,
	}, hellos)

	assert.Equal(t, 0, e.table.Len())
	require.Len(t, sink.recs, 1)
}

func TestRetransmissionIsReackedNotAppended(t *testing.T) {
	e, w, _ := newTestEngine(t, testConfig())
	hellos := make(map[uint16][]byte)
	target := targets.Target{IP: 0x0a000003, Port: 25565}

	sa := e.synAck(target, 100)
	e.handleSegment(sa, hellos)
	hello := e.hello(target.Port, hellos)
	ack := sa.Ack + uint32(len(hello))

	full := frameStatus(statusJSON)
	seg := packet.Inbound{
		SrcIP: target.IP, DstIP: e.srcIP, SrcPort: target.Port, DstPort: 61007,
		Seq: 101, Ack: ack, ACK: true, Payload: full[:10],
	}
	e.handleSegment(seg, hellos)
	e.handleSegment(seg, hellos) // duplicate

	require.Len(t, w.frames, 3)
	dec := packet.NewDecoder(false)
	reack, err := dec.Decode(w.frames[2])
	require.NoError(t, err)
	assert.Equal(t, uint32(111), reack.Ack, "duplicate must be re-acked at the current position")
	assert.Equal(t, 1, e.table.Len())
}

func TestInvalidCookieIgnored(t *testing.T) {
	e, w, _ := newTestEngine(t, testConfig())
	hellos := make(map[uint16][]byte)

	in := packet.Inbound{
		SrcIP: 0x0a000004, DstIP: e.srcIP, SrcPort: 25565, DstPort: 61007,
		Seq: 1, Ack: 0xdeadbeef, SYN: true, ACK: true,
	}
	e.handleSegment(in, hellos)

	assert.Empty(t, w.frames)
	assert.Equal(t, 0, e.table.Len())
}

func TestRSTDropsEntry(t *testing.T) {
	e, _, sink := newTestEngine(t, testConfig())
	hellos := make(map[uint16][]byte)
	target := targets.Target{IP: 0x0a000005, Port: 25565}

	e.handleSegment(e.synAck(target, 100), hellos)
	require.Equal(t, 1, e.table.Len())

	e.handleSegment(packet.Inbound{
		SrcIP: target.IP, DstIP: e.srcIP, SrcPort: target.Port, DstPort: 61007,
		RST: true,
	}, hellos)

	assert.Equal(t, 0, e.table.Len())
	assert.Empty(t, sink.recs)
}

func TestStatelessDataRecovery(t *testing.T) {
	e, w, sink := newTestEngine(t, testConfig())
	hellos := make(map[uint16][]byte)
	target := targets.Target{IP: 0x0a000006, Port: 25565}

	// no pending entry exists, but the peer's ack still proves the flow:
	// cookie + 1 (SYN) + hello length
	hello := e.hello(target.Port, hellos)
	epoch := e.secret.Epoch(time.Now())
	cookie := e.secret.Generate(e.srcIP, target.IP, target.Port, epoch)

	e.handleSegment(packet.Inbound{
		SrcIP: target.IP, DstIP: e.srcIP, SrcPort: target.Port, DstPort: 61007,
		Seq: 9000, Ack: cookie + 1 + uint32(len(hello)), ACK: true,
		Payload: frameStatus(statusJSON),
	}, hellos)

	require.Len(t, sink.recs, 1)
	require.Len(t, w.frames, 1)
	dec := packet.NewDecoder(false)
	fin, err := dec.Decode(w.frames[0])
	require.NoError(t, err)
	assert.True(t, fin.FIN)
}

func TestInvalidResponseIsBadServer(t *testing.T) {
	e, w, sink := newTestEngine(t, testConfig())
	hellos := make(map[uint16][]byte)
	target := targets.Target{IP: 0x0a000007, Port: 25565}

	sa := e.synAck(target, 100)
	e.handleSegment(sa, hellos)
	hello := e.hello(target.Port, hellos)

	e.handleSegment(packet.Inbound{
		SrcIP: target.IP, DstIP: e.srcIP, SrcPort: target.Port, DstPort: 61007,
		Seq: 101, Ack: sa.Ack + uint32(len(hello)), ACK: true,
		Payload: []byte("HTTP/1.1 400 Bad Request\r\n\r\n"),
	}, hellos)

	assert.Equal(t, 0, e.table.Len())
	assert.Empty(t, sink.recs)
	assert.Equal(t, uint64(1), e.bad.Load())

	dec := packet.NewDecoder(false)
	rst, err := dec.Decode(w.frames[1])
	require.NoError(t, err)
	assert.True(t, rst.RST)
}

func TestActiveFingerprintMode(t *testing.T) {
	cfg := testConfig()
	cfg.Scan.Fingerprinting = true
	e, _, sink := newTestEngine(t, cfg)
	hellos := make(map[uint16][]byte)
	target := targets.Target{IP: 0x0a000008, Port: 25565}

	sa := e.synAck(target, 100)
	e.handleSegment(sa, hellos)
	hello := e.hello(target.Port, hellos)

	kick := `{"translate": "disconnect.genericReason", "with": [{"text": "Internal Exception: java.io.IOException: Packet 0/0 (PacketLoginInStart) was larger than I expected"}]}`
	e.handleSegment(packet.Inbound{
		SrcIP: target.IP, DstIP: e.srcIP, SrcPort: target.Port, DstPort: 61007,
		Seq: 101, Ack: sa.Ack + uint32(len(hello)), ACK: true,
		Payload: frameStatus(kick),
	}, hellos)

	require.Len(t, sink.recs, 1)
	rec, ok := sink.recs[0].(*results.ServerRecord)
	require.True(t, ok)
	assert.Equal(t, "paper", string(rec.Software))
}

func TestAliasedIPSuppressed(t *testing.T) {
	e, _, sink := newTestEngine(t, testConfig())
	hellos := make(map[uint16][]byte)

	ip := uint32(0x0a000009)
	for i := 0; i < 5; i++ {
		target := targets.Target{IP: ip, Port: uint16(25565 + i)}
		sa := e.synAck(target, 100)
		e.handleSegment(sa, hellos)
		hello := e.hello(target.Port, hellos)
		e.handleSegment(packet.Inbound{
			SrcIP: target.IP, DstIP: e.srcIP, SrcPort: target.Port, DstPort: 61007,
			Seq: 101, Ack: sa.Ack + uint32(len(hello)), ACK: true,
			Payload: frameStatus(statusJSON),
		}, hellos)
	}

	var servers, aliases int
	for _, r := range sink.recs {
		switch r.(type) {
		case *results.ServerRecord:
			servers++
		case *results.AliasedIPRecord:
			aliases++
		}
	}
	// the fifth response triggers promotion and is suppressed as aliased
	assert.Equal(t, 4, servers)
	assert.Equal(t, 1, aliases)

	// the skip function now suppresses every port but the allowed one
	skip := e.aliasSkip()
	assert.False(t, skip(targets.Target{IP: ip, Port: 25565}))
	assert.True(t, skip(targets.Target{IP: ip, Port: 25570}))
}

type fakeCapture struct{}

func (fakeCapture) ReadPacket() ([]byte, gopacket.CaptureInfo, error) {
	return nil, gopacket.CaptureInfo{}, errors.New("no packets")
}

func (fakeCapture) Close() {}

// A cycle error must shut down the receive and sweep flows; otherwise Run
// waits on them forever.
func TestRunReturnsOnCycleError(t *testing.T) {
	cfg := testConfig()
	cfg.Scan.Targets.Include = []string{"10.0.0.0/30"}
	cfg.Scan.Targets.ExcludeFile = filepath.Join(t.TempDir(), "missing.conf")

	e, err := New(cfg, Deps{
		Handle:  sender.NewHandle(&fakeWriter{}),
		Capture: fakeCapture{},
		Sink:    &collectSink{},
		SrcIP:   []byte{192, 0, 2, 1},
	}, zerolog.Nop())
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- e.Run(context.Background()) }()

	select {
	case runErr := <-done:
		require.Error(t, runErr)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after the cycle error")
	}
}

func TestHelloCachedPerPort(t *testing.T) {
	e, _, _ := newTestEngine(t, testConfig())
	hellos := make(map[uint16][]byte)

	a := e.hello(25565, hellos)
	b := e.hello(25565, hellos)
	c := e.hello(25566, hellos)
	assert.Same(t, &a[0], &b[0], "same port reuses the cached payload")
	assert.NotEqual(t, a, c, "port is part of the handshake")
}
