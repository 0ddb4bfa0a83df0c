// Package sender owns the transmit flow: it walks a shuffled target
// session, paces probes through the token bucket, and writes cookie-seeded
// SYN frames to the wire. It never blocks on receive-path work.
package sender

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mat-1/matscan/internal/cookie"
	"github.com/mat-1/matscan/internal/limiter"
	"github.com/mat-1/matscan/internal/packet"
	"github.com/mat-1/matscan/internal/targets"
)

// PacketWriter is the platform frame injection surface. afpacket and pcap
// handles satisfy it directly.
type PacketWriter interface {
	WritePacketData(data []byte) error
	Close()
}

// Flusher is implemented by writers that queue frames (sendmmsg batching)
// and need an explicit kick to put the tail on the wire.
type Flusher interface {
	Flush() error
}

// Handle is a mutex-guarded frame writer shared by the transmit flow and
// the receive flow's replies (ACKs, hellos, FINs).
type Handle struct {
	mu sync.Mutex
	w  PacketWriter
}

// NewHandle wraps an existing frame writer. Production code goes through
// OpenHandle; this entry exists for alternate writers and tests.
func NewHandle(w PacketWriter) *Handle {
	return &Handle{w: w}
}

// OpenHandle opens the injection handle for iface. tunnel selects the raw
// IP fallback for interfaces without Ethernet framing.
func OpenHandle(iface string, tunnel bool) (*Handle, error) {
	var (
		w   PacketWriter
		err error
	)
	if tunnel {
		w, err = newTunnelWriter(iface)
	} else {
		w, err = newPacketWriter(iface)
	}
	if err != nil {
		return nil, err
	}
	return &Handle{w: w}, nil
}

// Write injects one frame.
func (h *Handle) Write(frame []byte) error {
	h.mu.Lock()
	err := h.w.WritePacketData(frame)
	h.mu.Unlock()
	return err
}

// Flush drains any frames the writer has queued. A no-op for unbatched
// writers.
func (h *Handle) Flush() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if f, ok := h.w.(Flusher); ok {
		return f.Flush()
	}
	return nil
}

func (h *Handle) Close() {
	h.w.Close()
}

// Transmitter emits SYN probes for one target session.
type Transmitter struct {
	handle  *Handle
	builder *packet.Builder
	bucket  *limiter.TokenBucket
	secret  cookie.Secret

	srcIP            uint32
	portMin, portMax uint16

	sent atomic.Uint64
	errs atomic.Uint64
}

// NewTransmitter wires a transmitter. builder must be exclusive to this
// transmitter; the handle may be shared.
func NewTransmitter(h *Handle, b *packet.Builder, tb *limiter.TokenBucket, secret cookie.Secret, srcIP uint32, portMin, portMax uint16) *Transmitter {
	if portMax < portMin {
		portMax = portMin
	}
	return &Transmitter{
		handle:  h,
		builder: b,
		bucket:  tb,
		secret:  secret,
		srcIP:   srcIP,
		portMin: portMin,
		portMax: portMax,
	}
}

// SourcePort picks the local port for a target, deterministic so that
// retransmitted SYN-ACKs land on the same flow.
func (t *Transmitter) SourcePort(target targets.Target) uint16 {
	span := uint64(t.portMax-t.portMin) + 1
	if span == 1 {
		return t.portMin
	}
	h := mix64(uint64(target.IP)<<16 | uint64(target.Port))
	return t.portMin + uint16(h%span)
}

// Run walks the session to completion. skip, when non-nil, drops targets
// without consuming rate tokens (aliased IPs on disallowed ports).
// Cancellation is checked between batches, not per packet.
func (t *Transmitter) Run(ctx context.Context, session *targets.ScanSession, skip func(targets.Target) bool) error {
	const batch = 1024
	n := 0
	for {
		target, ok := session.Next()
		if !ok {
			return t.handle.Flush()
		}
		if skip != nil && skip(target) {
			continue
		}

		t.bucket.Wait(1)
		if err := t.SendSYN(target); err != nil {
			t.errs.Add(1)
		} else {
			t.sent.Add(1)
		}

		n++
		if n%batch == 0 {
			if err := t.handle.Flush(); err != nil {
				return err
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
		}
	}
}

// SendSYN emits a single probe outside of a session walk (rescan targets).
func (t *Transmitter) SendSYN(target targets.Target) error {
	epoch := t.secret.Epoch(time.Now())
	seq := t.secret.Generate(t.srcIP, target.IP, target.Port, epoch)
	frame, err := t.builder.BuildSYN(
		targets.Uint32ToIP(target.IP), t.SourcePort(target), target.Port, seq)
	if err != nil {
		return err
	}
	return t.handle.Write(frame)
}

// Sent reports successfully written probes.
func (t *Transmitter) Sent() uint64 { return t.sent.Load() }

// Errors reports frames the handle rejected.
func (t *Transmitter) Errors() uint64 { return t.errs.Load() }

func mix64(v uint64) uint64 {
	v ^= v >> 33
	v *= 0xff51afd7ed558ccd
	v ^= v >> 33
	return v
}
