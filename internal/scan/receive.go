package scan

import (
	"context"
	"errors"
	"time"

	"github.com/mat-1/matscan/internal/fingerprint"
	"github.com/mat-1/matscan/internal/mcproto"
	"github.com/mat-1/matscan/internal/packet"
	"github.com/mat-1/matscan/internal/results"
	"github.com/mat-1/matscan/internal/targets"
	"github.com/mat-1/matscan/internal/tracker"
)

// receiveLoop drains the capture handle. It is the only goroutine touching
// the decoder, the reply builder, and pending-entry buffers.
func (e *Engine) receiveLoop(ctx context.Context) {
	hellos := make(map[uint16][]byte)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		frame, _, err := e.deps.Capture.ReadPacket()
		if err != nil {
			// poll timeout or a closed handle; the ctx check above
			// decides whether to keep going
			continue
		}
		if e.deps.UseSLL {
			if len(frame) <= sllHeaderLen {
				continue
			}
			frame = frame[sllHeaderLen:]
		}

		in, err := e.decoder.Decode(frame)
		if err != nil {
			if errors.Is(err, packet.ErrBadChecksum) && e.deps.Dump != nil {
				e.deps.Dump.WriteFrame(frame)
			}
			continue
		}
		e.handleSegment(in, hellos)
	}
}

// hello returns the application payload sent after the handshake ACK,
// cached per destination port.
func (e *Engine) hello(port uint16, hellos map[uint16][]byte) []byte {
	if h, ok := hellos[port]; ok {
		return h
	}
	var h []byte
	if e.cfg.Scan.Fingerprinting {
		h = mcproto.BuildLoginProbe(e.cfg.Scan.Hostname, port, int32(e.cfg.Scan.ProtocolVersion))
	} else {
		h = mcproto.BuildStatusRequest(e.cfg.Scan.Hostname, port, int32(e.cfg.Scan.ProtocolVersion))
	}
	hellos[port] = h
	return h
}

func (e *Engine) handleSegment(in packet.Inbound, hellos map[uint16][]byte) {
	if in.DstIP != e.srcIP {
		return
	}
	target := targets.Target{IP: in.SrcIP, Port: in.SrcPort}

	switch {
	case in.RST:
		if p, ok := e.table.Remove(target); ok {
			tracker.Release(p)
		}

	case in.SYN && in.ACK:
		epoch, ok := e.secret.Validate(in.Ack, e.srcIP, in.SrcIP, in.SrcPort, time.Now())
		if !ok {
			return
		}
		e.synAcks.Add(1)

		hello := e.hello(target.Port, hellos)
		p := tracker.NewPending(target, epoch, in.Seq+1, in.Ack+uint32(len(hello)))
		if evicted := e.table.Insert(p); evicted != nil {
			e.evicted.Add(1)
			tracker.Release(evicted)
		}
		e.reply(in, packet.FlagACK|packet.FlagPSH, in.Ack, in.Seq+1, hello)

	case len(in.Payload) > 0 && in.ACK:
		e.handleData(in, target, hellos)

	case in.FIN:
		e.handleFin(in, target)
	}
}

type dataOutcome int

const (
	outcomeNone dataOutcome = iota // stale or out-of-order segment
	outcomeIncomplete
	outcomeComplete
	outcomeInvalid
)

func (e *Engine) handleData(in packet.Inbound, target targets.Target, hellos map[uint16][]byte) {
	var (
		outcome             dataOutcome
		raw, whole          []byte
		localSeq, remoteSeq uint32
	)

	found := e.table.Update(target, func(p *tracker.Pending) {
		if in.Seq != p.RemoteSeq {
			// retransmission of data we already consumed, or a gap; no
			// reordering buffer, just re-ack our current position
			localSeq, remoteSeq = p.LocalSeq, p.RemoteSeq
			return
		}
		p.Buf = append(p.Buf, in.Payload...)
		p.RemoteSeq += uint32(len(in.Payload))
		p.State = tracker.StateCollecting
		p.LastActivity = tracker.NowNano()
		localSeq, remoteSeq = p.LocalSeq, p.RemoteSeq

		var err error
		raw, err = mcproto.ParseStatusResponse(p.Buf)
		switch {
		case err == nil:
			outcome = outcomeComplete
		case errors.As(err, new(*mcproto.IncompleteError)):
			outcome = outcomeIncomplete
		default:
			outcome = outcomeInvalid
		}
		if outcome != outcomeIncomplete {
			whole, p.Buf = p.Buf, nil
		}
	})

	if !found {
		e.recoverData(in, target, hellos)
		return
	}

	switch outcome {
	case outcomeNone, outcomeIncomplete:
		e.reply(in, packet.FlagACK, localSeq, remoteSeq, nil)
	case outcomeComplete:
		if p, ok := e.table.Remove(target); ok {
			tracker.Release(p)
		}
		e.reply(in, packet.FlagFIN|packet.FlagACK, localSeq, remoteSeq, nil)
		e.process(target, raw, whole)
	case outcomeInvalid:
		if p, ok := e.table.Remove(target); ok {
			tracker.Release(p)
		}
		e.reply(in, packet.FlagRST, localSeq, 0, nil)
		if e.cfg.Scan.Fingerprinting {
			// junk bytes are themselves a fingerprint
			e.processActive(target, whole)
			return
		}
		e.bad.Add(1)
		e.log.Debug().Str("target", target.Addr()).Msg("bad server: unparseable response")
	}
}

// recoverData rebuilds state for a data segment whose pending entry was
// evicted (or whose SYN-ACK we processed before a crash of the entry): the
// peer's ack still proves the flow is ours, offset by the hello we sent.
func (e *Engine) recoverData(in packet.Inbound, target targets.Target, hellos map[uint16][]byte) {
	hello := e.hello(target.Port, hellos)
	epoch, ok := e.secret.ValidateData(in.Ack, e.srcIP, in.SrcIP, in.SrcPort, len(hello), time.Now())
	if !ok {
		return
	}

	remoteSeq := in.Seq + uint32(len(in.Payload))
	raw, err := mcproto.ParseStatusResponse(in.Payload)
	if err == nil {
		e.reply(in, packet.FlagFIN|packet.FlagACK, in.Ack, remoteSeq, nil)
		whole := append([]byte(nil), in.Payload...)
		e.process(target, raw, whole)
		return
	}
	if !errors.As(err, new(*mcproto.IncompleteError)) {
		// first segment is already junk
		e.reply(in, packet.FlagRST, in.Ack, 0, nil)
		if e.cfg.Scan.Fingerprinting {
			e.processActive(target, in.Payload)
			return
		}
		e.bad.Add(1)
		return
	}

	p := tracker.NewPending(target, epoch, remoteSeq, in.Ack)
	p.State = tracker.StateCollecting
	p.Buf = append(p.Buf, in.Payload...)
	if evicted := e.table.Insert(p); evicted != nil {
		e.evicted.Add(1)
		tracker.Release(evicted)
	}
	e.reply(in, packet.FlagACK, in.Ack, remoteSeq, nil)
}

func (e *Engine) handleFin(in packet.Inbound, target targets.Target) {
	p, ok := e.table.Remove(target)
	if !ok {
		return
	}
	e.reply(in, packet.FlagACK, p.LocalSeq, in.Seq+1, nil)

	// some implementations never frame their answer as a status packet and
	// just close; in fingerprint mode the bytes still classify
	if len(p.Buf) > 0 {
		if e.cfg.Scan.Fingerprinting {
			e.processActive(target, p.Buf)
		} else {
			e.bad.Add(1)
		}
	}
	tracker.Release(p)
}

// reply injects a bare control segment (or the hello) back to the peer,
// echoing the source port the probe was sent from.
func (e *Engine) reply(in packet.Inbound, flags packet.Flags, seq, ack uint32, payload []byte) {
	frame, err := e.replies.Build(packet.Request{
		DstIP:   targets.Uint32ToIP(in.SrcIP),
		SrcPort: in.DstPort,
		DstPort: in.SrcPort,
		Seq:     seq,
		Ack:     ack,
		Flags:   flags,
		Payload: payload,
	})
	if err != nil {
		return
	}
	if err := e.deps.Handle.Write(frame); err != nil {
		e.log.Debug().Err(err).Msg("reply write failed")
	}
}

// process classifies a completed status response and emits records.
func (e *Engine) process(target targets.Target, raw, whole []byte) {
	if e.cfg.Scan.Fingerprinting {
		e.processActive(target, whole)
		return
	}

	s, err := fingerprint.ParseStatus(raw)
	if err != nil {
		e.bad.Add(1)
		e.log.Debug().Err(err).Str("target", target.Addr()).Msg("bad server: unparseable status")
		return
	}
	if !fingerprint.Allowed(s) {
		return
	}

	now := time.Now()
	promoted, aliased := e.alias.Observe(target, s.IdentityHash(), now)
	if promoted != nil {
		e.log.Info().Str("ip", promoted.IP).Uint16("allowed_port", promoted.AllowedPort).
			Msg("aliased IP detected")
		e.deps.Sink.Write(promoted)
	}
	if aliased {
		return
	}

	rec := results.NewServerRecord(target, s, now)
	e.records.Add(1)
	if err := e.deps.Sink.Write(&rec); err != nil {
		e.log.Warn().Err(err).Msg("sink write failed")
	}
	if e.deps.Players != nil {
		for i := range rec.Players {
			e.deps.Players.Write(&rec.Players[i])
		}
	}
	if e.deps.Sniper != nil {
		e.deps.Sniper.Observe(target, s)
	}

	playersOnline := len(s.Sample) > 0 && !s.FakeSample
	maxPlayers := 0
	if s.MaxPlayers != nil {
		maxPlayers = *s.MaxPlayers
	}
	e.rescan.RecordResponse(target, playersOnline, maxPlayers, now)
}

// processActive classifies the response to a malformed login probe.
func (e *Engine) processActive(target targets.Target, data []byte) {
	tag := fingerprint.ClassifyLoginError(data)
	now := time.Now()

	rec := results.ServerRecord{
		IP:          targets.Uint32ToIP(target.IP).String(),
		Port:        target.Port,
		FirstPinged: now,
		LastPinged:  now,
		Software:    tag,
	}
	e.records.Add(1)
	if err := e.deps.Sink.Write(&rec); err != nil {
		e.log.Warn().Err(err).Msg("sink write failed")
	}
	e.rescan.RecordResponse(target, false, 0, now)
}
